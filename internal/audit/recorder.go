package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mbd888/sentinel/internal/decision"
	"github.com/mbd888/sentinel/internal/retry"
	"github.com/prometheus/client_golang/prometheus"
)

var auditOps = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "sentinel",
	Subsystem: "audit",
	Name:      "operations_total",
	Help:      "Audit store operations by operation and result.",
}, []string{"op", "result"})

func init() {
	prometheus.MustRegister(auditOps)
}

// Recorder fronts a Store with digests, bounded retries and per-call
// timeouts. Failures surface as *decision.StorageError.
type Recorder struct {
	store     Store
	attempts  int
	baseDelay time.Duration
	timeout   time.Duration
	logger    *slog.Logger
}

// NewRecorder wraps store with default retry settings.
func NewRecorder(store Store) *Recorder {
	return &Recorder{
		store:     store,
		attempts:  3,
		baseDelay: 50 * time.Millisecond,
		timeout:   2 * time.Second,
		logger:    slog.Default(),
	}
}

// WithRetry sets the attempt count and initial backoff.
func (r *Recorder) WithRetry(attempts int, baseDelay time.Duration) *Recorder {
	r.attempts = attempts
	r.baseDelay = baseDelay
	return r
}

// WithTimeout bounds each store call.
func (r *Recorder) WithTimeout(d time.Duration) *Recorder {
	r.timeout = d
	return r
}

// WithLogger sets the logger.
func (r *Recorder) WithLogger(l *slog.Logger) *Recorder {
	r.logger = l
	return r
}

// Store returns the wrapped store.
func (r *Recorder) Store() Store { return r.store }

// Record stamps rec with its digest and writes it. A stale revisioned write
// is not retried; the error wraps ErrConflict so callers can re-read.
func (r *Recorder) Record(ctx context.Context, rec *Record) error {
	if err := rec.Validate(); err != nil {
		auditOps.WithLabelValues("put", "invalid").Inc()
		return &decision.StorageError{Op: "put", Err: err}
	}
	digest, err := Digest(rec)
	if err != nil {
		auditOps.WithLabelValues("put", "invalid").Inc()
		return &decision.StorageError{Op: "put", Err: err}
	}
	rec.Digest = digest

	err = retry.Do(ctx, r.attempts, r.baseDelay, func() error {
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		err := r.store.Put(callCtx, rec)
		if errors.Is(err, ErrConflict) {
			return retry.Permanent(err)
		}
		return err
	})
	if errors.Is(err, ErrConflict) {
		auditOps.WithLabelValues("put", "conflict").Inc()
		return &decision.StorageError{Op: "put", Err: err}
	}
	if err != nil {
		auditOps.WithLabelValues("put", "error").Inc()
		r.logger.Warn("audit write failed",
			"record_id", rec.ID, "subject_id", rec.SubjectID, "surface", rec.Surface, "error", err)
		return &decision.StorageError{Op: "put", Err: err}
	}
	auditOps.WithLabelValues("put", "ok").Inc()
	return nil
}

// History reads a subject's records on one surface, newest first.
func (r *Recorder) History(ctx context.Context, subjectID string, surface decision.Surface, limit int) ([]*Record, error) {
	var out []*Record
	err := retry.Do(ctx, r.attempts, r.baseDelay, func() error {
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		var err error
		out, err = r.store.GetHistory(callCtx, subjectID, surface, limit)
		return err
	})
	if err != nil {
		auditOps.WithLabelValues("history", "error").Inc()
		return nil, &decision.StorageError{Op: "history", Err: err}
	}
	auditOps.WithLabelValues("history", "ok").Inc()
	return out, nil
}

// Latest reads the newest record for (subject, surface). ErrNotFound is
// returned unwrapped.
func (r *Recorder) Latest(ctx context.Context, subjectID string, surface decision.Surface) (*Record, error) {
	var out *Record
	err := retry.Do(ctx, r.attempts, r.baseDelay, func() error {
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		var err error
		out, err = r.store.Latest(callCtx, subjectID, surface)
		if errors.Is(err, ErrNotFound) {
			return retry.Permanent(err)
		}
		return err
	})
	switch {
	case errors.Is(err, ErrNotFound):
		auditOps.WithLabelValues("latest", "not_found").Inc()
		return nil, ErrNotFound
	case err != nil:
		auditOps.WithLabelValues("latest", "error").Inc()
		return nil, &decision.StorageError{Op: "latest", Err: err}
	}
	auditOps.WithLabelValues("latest", "ok").Inc()
	return out, nil
}

// Ping checks the store if it supports it.
func (r *Recorder) Ping(ctx context.Context) error {
	if p, ok := r.store.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
