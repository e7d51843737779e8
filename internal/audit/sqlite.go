package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/febrile-severity-server/internal/domain"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore creates a new SQLite access trail store.
// It creates the database file and migrates the schema if needed.
func NewSQLiteStore(dbPath string, logger *logrus.Logger) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite audit store requires a database path")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	if err := Migrate(context.Background(), DriverSQLite, dbPath, logger); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL keeps readers from blocking the recorder
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (domain.AccessEntry, error) {
	var e domain.AccessEntry
	err := s.Scan(
		&e.Timestamp, &e.CorrelationID, &e.Subject, &e.Method, &e.Route,
		&e.Status, &e.Outcome, &e.LatencyMs, &e.ClientIP,
	)
	return e, err
}

// Insert appends one entry.
func (s *SQLiteStore) Insert(ctx context.Context, entry domain.AccessEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO access_log (
			occurred_at, correlation_id, subject, method, route,
			status, outcome, latency_ms, client_ip
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
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
		return fmt.Errorf("failed to insert: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]domain.AccessEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT occurred_at, correlation_id, subject, method, route,
			status, outcome, latency_ms, client_ip
		FROM access_log
		ORDER BY occurred_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	var result []domain.AccessEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// Count returns the total number of entries.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM access_log").Scan(&count)
	return count, err
}

// Close closes the store and releases resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
