package journal

import (
	"context"
	"log/slog"
	"time"

	"github.com/wolfeidau/seedkeeper/telemetry"
)

// Reaper trims journal entries older than a retention window.
type Reaper struct {
	journal   *Journal
	interval  time.Duration
	retention time.Duration
	batchSize int
	logger    *slog.Logger
}

// ReaperOption configures a Reaper.
type ReaperOption func(*Reaper)

// WithReaperInterval sets the cleanup interval.
func WithReaperInterval(d time.Duration) ReaperOption {
	return func(r *Reaper) {
		r.interval = d
	}
}

// WithRetention sets how long entries are kept.
func WithRetention(d time.Duration) ReaperOption {
	return func(r *Reaper) {
		r.retention = d
	}
}

// WithReaperBatchSize sets the maximum entries removed per cycle.
func WithReaperBatchSize(n int) ReaperOption {
	return func(r *Reaper) {
		r.batchSize = n
	}
}

// WithReaperLogger sets the logger for the reaper.
func WithReaperLogger(logger *slog.Logger) ReaperOption {
	return func(r *Reaper) {
		r.logger = logger
	}
}

// NewReaper creates a reaper for j.
// Defaults: interval=10m, retention=7d, batchSize=1000.
func NewReaper(j *Journal, opts ...ReaperOption) *Reaper {
	r := &Reaper{
		journal:   j,
		interval:  10 * time.Minute,
		retention: 7 * 24 * time.Hour,
		batchSize: 1000,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run starts the reaper loop. It blocks until the context is cancelled and
// then returns the context error.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Debug("journal reaper started", "interval", r.interval, "retention", r.retention)

	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("journal reaper stopped")
			return ctx.Err()
		case <-ticker.C:
			r.reap(ctx)
		}
	}
}

// ReapNow runs a single reap cycle immediately and returns the number of
// entries removed.
func (r *Reaper) ReapNow(ctx context.Context) int {
	return r.reap(ctx)
}

func (r *Reaper) reap(ctx context.Context) int {
	start := time.Now()
	var deleted int
	defer func() {
		telemetry.RecordReaperCycle(ctx, "journal", deleted, time.Since(start))
	}()

	cutoff := r.journal.now().Add(-r.retention)
	n, err := r.journal.DeleteBefore(ctx, cutoff, r.batchSize)
	deleted = n
	if err != nil {
		r.logger.Error("failed to reap journal", "error", err)
		return deleted
	}
	if deleted > 0 {
		r.logger.Info("journal entries reaped", "deleted", deleted, "cutoff", cutoff)
	}
	return deleted
}
