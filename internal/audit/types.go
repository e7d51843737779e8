// Package audit persists the access trail: who called which route, when, and
// with what outcome. Entries never carry clinical values or prediction output.
package audit

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/febrile-severity-server/internal/domain"
)

// Supported storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Store defines the interface for access trail storage operations.
type Store interface {
	// Insert appends one entry.
	Insert(ctx context.Context, entry domain.AccessEntry) error

	// Recent returns up to limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]domain.AccessEntry, error)

	// Count returns the total number of entries.
	Count(ctx context.Context) (int64, error)

	// Close closes the store and releases resources.
	Close() error
}

// NewStore opens the store selected by cfg.Driver. SQLite databases are
// always migrated; Postgres only when cfg.MigrateOnStart is set.
func NewStore(ctx context.Context, cfg domain.AuditConfig, logger *logrus.Logger) (Store, error) {
	switch cfg.Driver {
	case DriverSQLite, "":
		return NewSQLiteStore(cfg.DSN, logger)
	case DriverPostgres:
		if cfg.MigrateOnStart {
			if err := Migrate(ctx, DriverPostgres, cfg.DSN, logger); err != nil {
				return nil, err
			}
		}
		return NewPostgresStoreFromURL(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported audit driver %q", cfg.Driver)
	}
}
