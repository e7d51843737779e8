package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var entryColumns = []string{
	"occurred_at", "correlation_id", "subject", "method", "route",
	"status", "outcome", "latency_ms", "client_ip",
}

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewPostgresStore(context.Background(), db)
	require.NoError(t, err)
	return store, mock
}

func TestNewPostgresStore_RequiresDB(t *testing.T) {
	_, err := NewPostgresStore(context.Background(), nil)
	assert.Error(t, err)
}

func TestPostgresStore_Insert(t *testing.T) {
	store, mock := newMockStore(t)
	e := sampleEntry("/api/predict", time.Now())

	mock.ExpectExec("INSERT INTO access_log").
		WithArgs(sqlmock.AnyArg(), e.CorrelationID, e.Subject, e.Method, e.Route, e.Status, e.Outcome, e.LatencyMs, e.ClientIP).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.Insert(context.Background(), e))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO access_log").WillReturnError(errors.New("connection reset"))

	err := store.Insert(context.Background(), sampleEntry("/api/predict", time.Now()))
	assert.ErrorContains(t, err, "connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Recent(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(entryColumns).
		AddRow(at.Add(time.Minute), "req-2", "user-9", "GET", "/api/model/info", 503, "model_not_ready", 3, "10.0.0.9").
		AddRow(at, "req-1", "user-9", "POST", "/api/predict", 200, "success", 18, "10.0.0.9")
	mock.ExpectQuery("SELECT (.+) FROM access_log").WithArgs(5).WillReturnRows(rows)

	got, err := store.Recent(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "/api/model/info", got[0].Route)
	assert.Equal(t, 503, got[0].Status)
	assert.Equal(t, "model_not_ready", got[0].Outcome)
	assert.Equal(t, int64(18), got[1].LatencyMs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Count(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), count)
	assert.NoError(t, mock.ExpectationsWereMet())
}
