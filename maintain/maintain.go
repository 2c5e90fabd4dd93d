// Package maintain keeps the daemon's working set within a size budget by
// removing low-value items a few at a time.
package maintain

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wolfeidau/seedkeeper"
	"github.com/wolfeidau/seedkeeper/batch"
	"github.com/wolfeidau/seedkeeper/journal"
	"github.com/wolfeidau/seedkeeper/policy"
	"github.com/wolfeidau/seedkeeper/telemetry"
)

// Daemon lists and removes daemon items.
type Daemon interface {
	ListActive(ctx context.Context) ([]seedkeeper.WorkItem, error)
	RemoveByHash(ctx context.Context, hash string) error
}

// Config holds retention configuration.
type Config struct {
	// Budget is the maximum aggregate size of all daemon items in bytes.
	Budget int64

	// BatchSize caps removals per check. Default is 5.
	BatchSize int

	// CheckInterval is how often to run retention checks.
	// Default is 10 minutes.
	CheckInterval time.Duration

	// Concurrency caps removals in flight.
	Concurrency int

	// Journal records removals. Optional.
	Journal *journal.Journal

	// Logger for retention events.
	Logger *slog.Logger
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		Budget:        2 * 1024 * 1024 * 1024 * 1024, // 2 TiB
		BatchSize:     policy.DefaultBatchSize,
		CheckInterval: 10 * time.Minute,
		Concurrency:   batch.DefaultLimit,
		Logger:        slog.Default(),
	}
}

// Result contains the results of a retention check.
type Result struct {
	Items          int           `json:"items"`
	WorkingSet     int64         `json:"working_set"`
	Budget         int64         `json:"budget"`
	Evicted        int           `json:"evicted"`
	BytesReclaimed int64         `json:"bytes_reclaimed"`
	Errors         int           `json:"errors"`
	At             time.Time     `json:"at"`
	Duration       time.Duration `json:"duration"`
}

// Outcome maps the result to a tick outcome label.
func (r *Result) Outcome() string {
	switch {
	case r.Errors > 0 && r.Evicted == 0:
		return telemetry.OutcomeError
	case r.Errors > 0:
		return telemetry.OutcomePartial
	case r.Evicted == 0:
		return telemetry.OutcomeSkipped
	default:
		return telemetry.OutcomeSuccess
	}
}

// Manager runs retention checks against the daemon.
type Manager struct {
	config Config
	daemon Daemon
	policy policy.Retention
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	last *Result
}

// NewManager creates a new retention manager.
func NewManager(daemon Daemon, cfg Config) *Manager {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 10 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = policy.DefaultBatchSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Manager{
		config: cfg,
		daemon: daemon,
		policy: policy.Retention{Budget: cfg.Budget, BatchSize: cfg.BatchSize},
		logger: cfg.Logger.With("component", "maintain"),
		now:    time.Now,
	}
}

// Run checks immediately and then every CheckInterval until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	ctx = telemetry.WithLoop(ctx, telemetry.LoopMaintain)

	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	m.logger.Debug("maintain loop started", "interval", m.config.CheckInterval, "budget", m.config.Budget)

	// Run immediately on start
	m.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			m.logger.Debug("maintain loop stopped")
			return ctx.Err()
		case <-ticker.C:
			m.RunOnce(ctx)
		}
	}
}

// LastResult returns a copy of the most recent check, or nil before the first.
func (m *Manager) LastResult() *Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return nil
	}
	r := *m.last
	return &r
}

// RunOnce performs a single retention check.
func (m *Manager) RunOnce(ctx context.Context) *Result {
	start := m.now()
	result := &Result{Budget: m.config.Budget, At: start}
	defer func() {
		result.Duration = m.now().Sub(start)
		telemetry.RecordTick(ctx, telemetry.LoopMaintain, result.Outcome(), result.Duration)
		m.mu.Lock()
		m.last = result
		m.mu.Unlock()
	}()

	m.logger.Debug("starting retention check")

	items, err := m.daemon.ListActive(ctx)
	if err != nil {
		m.logger.Error("failed to list active items", "error", fmt.Errorf("listing active items: %w", err))
		result.Errors++
		return result
	}
	result.Items = len(items)
	result.WorkingSet = seedkeeper.TotalSize(items)
	telemetry.UpdateWorkingSet(ctx, result.WorkingSet, m.config.Budget)

	victims := m.policy.Victims(items)
	if len(victims) == 0 {
		m.logger.Debug("retention check complete, within budget",
			"working_set", result.WorkingSet,
			"budget", m.config.Budget,
		)
		return result
	}

	byHash := make(map[string]seedkeeper.WorkItem, len(victims))
	hashes := make([]string, 0, len(victims))
	for _, v := range victims {
		byHash[v.Hash] = v
		hashes = append(hashes, v.Hash)
	}

	report := batch.Run(ctx, hashes, m.config.Concurrency, m.daemon.RemoveByHash)

	for _, hash := range report.Succeeded {
		item := byHash[hash]
		result.Evicted++
		result.BytesReclaimed += item.TotalSize
		m.logger.Info("evicted item",
			"hash", seedkeeper.ShortHash(item.Hash),
			"name", item.Name,
			"size", item.TotalSize,
			"helper_peers", item.HelperPeerCount,
			"added_at", item.AddedAt,
		)
		m.config.Journal.Record(ctx, journal.Entry{Kind: journal.KindEvicted, Hash: item.Hash, Name: item.Name, Size: item.TotalSize})
	}

	for _, hash := range report.FailedKeys() {
		item := byHash[hash]
		err := report.Failed[hash]
		result.Errors++
		m.logger.Warn("failed to evict item",
			"hash", seedkeeper.ShortHash(item.Hash),
			"name", item.Name,
			"error", err,
		)
		m.config.Journal.Record(ctx, journal.Entry{Kind: journal.KindEvictFailed, Hash: item.Hash, Name: item.Name, Detail: err.Error()})
	}

	telemetry.RecordEvictions(ctx, result.Evicted, result.Errors, result.BytesReclaimed)

	m.logger.Info("retention check complete",
		"evicted", result.Evicted,
		"bytes_reclaimed", result.BytesReclaimed,
		"errors", result.Errors,
		"working_set", result.WorkingSet,
		"budget", m.config.Budget,
	)

	return result
}
