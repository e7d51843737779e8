package audit

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/febrile-severity-server/internal/domain"
	"github.com/febrile-severity-server/internal/metrics"
)

const (
	defaultBufferSize = 1024
	writeTimeout      = 5 * time.Second
)

// Recorder persists access entries from a background worker so the request
// path never waits on storage. Entries are dropped when the buffer is full.
type Recorder struct {
	store   Store
	log     *logrus.Logger
	metrics *metrics.Collector

	mu      sync.RWMutex
	closed  bool
	entries chan domain.AccessEntry
	done    chan struct{}
}

var _ domain.AccessRecorder = (*Recorder)(nil)

// NewRecorder starts the background writer. bufferSize <= 0 uses a default.
func NewRecorder(store Store, bufferSize int, logger *logrus.Logger, m *metrics.Collector) *Recorder {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	r := &Recorder{
		store:   store,
		log:     logger,
		metrics: m,
		entries: make(chan domain.AccessEntry, bufferSize),
		done:    make(chan struct{}),
	}
	go r.worker()
	return r
}

// Record enqueues an entry. It never blocks.
func (r *Recorder) Record(entry domain.AccessEntry) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}

	select {
	case r.entries <- entry:
	default:
		r.metrics.ObserveAudit(false)
		r.log.WithFields(logrus.Fields{
			"route":          entry.Route,
			"correlation_id": entry.CorrelationID,
		}).Warn("Audit buffer full, dropping entry")
	}
}

// Shutdown stops accepting entries and waits for the buffer to drain or ctx
// to expire.
func (r *Recorder) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.entries)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		r.log.Warn("Audit recorder shutdown timed out; some entries may be lost")
		return ctx.Err()
	}
}

func (r *Recorder) worker() {
	defer close(r.done)
	for entry := range r.entries {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := r.store.Insert(ctx, entry); err != nil {
			r.log.WithError(err).Error("Failed to persist audit entry")
		} else {
			r.metrics.ObserveAudit(true)
		}
		cancel()
	}
}
