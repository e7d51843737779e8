package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/febrile-severity-server/internal/domain"
	"github.com/febrile-severity-server/internal/logging"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("audit"),
		postgres.WithUsername("audit"),
		postgres.WithPassword("audit"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Failed to terminate postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

func TestPostgresStore_Integration(t *testing.T) {
	dsn := startPostgres(t)
	ctx := context.Background()

	store, err := NewStore(ctx, domain.AuditConfig{Driver: DriverPostgres, DSN: dsn, MigrateOnStart: true}, logging.Discard())
	require.NoError(t, err)
	defer store.Close()

	at := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, store.Insert(ctx, sampleEntry("/api/predict", at)))
	require.NoError(t, store.Insert(ctx, sampleEntry("/api/health", at.Add(time.Second))))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	recent, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "/api/health", recent[0].Route)
	assert.True(t, at.Equal(recent[1].Timestamp))

	require.NoError(t, Migrate(ctx, DriverPostgres, dsn, logging.Discard()), "second migration is a no-op")
}
