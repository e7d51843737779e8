package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/febrile-severity-server/internal/domain"
)

// PostgresStore implements the Store interface using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL access trail store.
// It expects the schema to already exist (created via migrations).
func NewPostgresStore(ctx context.Context, db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromURL opens a pgx-backed pool for databaseURL.
func NewPostgresStoreFromURL(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	store, err := NewPostgresStore(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Insert appends one entry.
func (s *PostgresStore) Insert(ctx context.Context, entry domain.AccessEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO access_log (
			occurred_at, correlation_id, subject, method, route,
			status, outcome, latency_ms, client_ip
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		entry.Timestamp.UTC(),
		entry.CorrelationID,
		entry.Subject,
		entry.Method,
		entry.Route,
		entry.Status,
		entry.Outcome,
		entry.LatencyMs,
		entry.ClientIP,
	)
	if err != nil {
		return fmt.Errorf("failed to insert access entry: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]domain.AccessEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT occurred_at, correlation_id, subject, method, route,
			status, outcome, latency_ms, client_ip
		FROM access_log
		ORDER BY occurred_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query access log: %w", err)
	}
	defer rows.Close()

	var result []domain.AccessEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan access entry: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// Count returns the total number of entries.
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM access_log").Scan(&count)
	return count, err
}

// Close closes the store and releases resources.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
