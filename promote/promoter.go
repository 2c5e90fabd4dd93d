// Package promote adds free feed items to the download daemon.
package promote

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wolfeidau/seedkeeper"
	"github.com/wolfeidau/seedkeeper/batch"
	"github.com/wolfeidau/seedkeeper/journal"
	"github.com/wolfeidau/seedkeeper/policy"
	"github.com/wolfeidau/seedkeeper/telemetry"
)

// DefaultInterval is the default time between promote ticks.
const DefaultInterval = 30 * time.Second

// Daemon lists and adds daemon items.
type Daemon interface {
	ListActive(ctx context.Context) ([]seedkeeper.WorkItem, error)
	AddByURL(ctx context.Context, url string) error
}

// Feed supplies candidate items.
type Feed interface {
	FetchFeed(ctx context.Context) ([]seedkeeper.FeedItem, error)
}

// Result describes one promote tick.
type Result struct {
	Active   int              `json:"active"`
	FeedSize int              `json:"feed_size"`
	Selected int              `json:"selected"`
	Added    []string         `json:"added,omitempty"`
	Failed   map[string]error `json:"-"`
	Err      error            `json:"-"`
	Duration time.Duration    `json:"duration"`
}

// Outcome maps the result to a tick outcome label.
func (r *Result) Outcome() string {
	switch {
	case r.Err != nil:
		return telemetry.OutcomeError
	case len(r.Failed) > 0 && len(r.Added) == 0:
		return telemetry.OutcomeError
	case len(r.Failed) > 0:
		return telemetry.OutcomePartial
	case r.Selected == 0:
		return telemetry.OutcomeSkipped
	default:
		return telemetry.OutcomeSuccess
	}
}

// Promoter runs the promote loop.
type Promoter struct {
	daemon   Daemon
	feed     Feed
	policy   policy.Promotion
	journal  *journal.Journal
	interval time.Duration
	limit    int
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Promoter.
type Option func(*Promoter)

// WithInterval sets the tick interval.
func WithInterval(d time.Duration) Option {
	return func(p *Promoter) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithPolicy sets the promotion policy.
func WithPolicy(pol policy.Promotion) Option {
	return func(p *Promoter) {
		p.policy = pol
	}
}

// WithConcurrency caps concurrent daemon additions.
func WithConcurrency(n int) Option {
	return func(p *Promoter) {
		p.limit = n
	}
}

// WithJournal records admissions and failures.
func WithJournal(j *journal.Journal) Option {
	return func(p *Promoter) {
		p.journal = j
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Promoter) {
		p.logger = logger
	}
}

// WithNow sets the time function for testing.
func WithNow(now func() time.Time) Option {
	return func(p *Promoter) {
		p.now = now
	}
}

// New creates a Promoter.
func New(daemon Daemon, feed Feed, opts ...Option) *Promoter {
	p := &Promoter{
		daemon:   daemon,
		feed:     feed,
		policy:   policy.DefaultPromotion(),
		interval: DefaultInterval,
		limit:    batch.DefaultLimit,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "promote")
	return p
}

// Run ticks immediately and then every interval until ctx is cancelled.
func (p *Promoter) Run(ctx context.Context) error {
	ctx = telemetry.WithLoop(ctx, telemetry.LoopPromote)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Debug("promote loop started", "interval", p.interval)

	p.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("promote loop stopped")
			return ctx.Err()
		case <-ticker.C:
			p.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single promote tick. Listing or feed errors skip the
// tick; per-item add failures are collected and retried on a later tick
// because the item is still absent from the active set.
func (p *Promoter) RunOnce(ctx context.Context) *Result {
	start := p.now()
	result := &Result{}
	defer func() {
		result.Duration = p.now().Sub(start)
		telemetry.RecordTick(ctx, telemetry.LoopPromote, result.Outcome(), result.Duration)
	}()

	active, err := p.daemon.ListActive(ctx)
	if err != nil {
		result.Err = fmt.Errorf("listing active items: %w", err)
		p.logger.Warn("skipping promote tick", "error", result.Err)
		return result
	}
	result.Active = len(active)

	feed, err := p.feed.FetchFeed(ctx)
	if err != nil {
		result.Err = fmt.Errorf("fetching feed: %w", err)
		p.logger.Warn("skipping promote tick", "error", result.Err)
		return result
	}
	result.FeedSize = len(feed)

	selected := p.policy.Select(seedkeeper.HashSet(active), feed)
	result.Selected = len(selected)
	telemetry.RecordFeed(ctx, len(feed), len(selected))

	if len(selected) == 0 {
		p.logger.Debug("nothing to promote", "feed", len(feed), "active", len(active))
		return result
	}

	byURL := make(map[string]seedkeeper.FeedItem, len(selected))
	urls := make([]string, 0, len(selected))
	for _, item := range selected {
		byURL[item.URL] = item
		urls = append(urls, item.URL)
	}

	report := batch.Run(ctx, urls, p.limit, p.daemon.AddByURL)

	for _, url := range report.Succeeded {
		item := byURL[url]
		result.Added = append(result.Added, item.Hash)
		p.logger.Info("promoted item",
			"hash", seedkeeper.ShortHash(item.Hash),
			"title", item.Title,
			"size", item.Size,
			"seeders", item.Seeders,
			"average_progress", item.AverageProgress,
		)
		p.journal.Record(ctx, journal.Entry{Kind: journal.KindAdmitted, Hash: item.Hash, Name: item.Title, Size: item.Size})
	}

	if len(report.Failed) > 0 {
		result.Failed = make(map[string]error, len(report.Failed))
	}
	for _, url := range report.FailedKeys() {
		item := byURL[url]
		err := report.Failed[url]
		result.Failed[item.Hash] = err
		p.logger.Warn("failed to promote item",
			"hash", seedkeeper.ShortHash(item.Hash),
			"title", item.Title,
			"error", err,
		)
		p.journal.Record(ctx, journal.Entry{Kind: journal.KindAdmitFailed, Hash: item.Hash, Name: item.Title, Detail: err.Error()})
	}

	telemetry.RecordAdmissions(ctx, len(report.Succeeded), len(report.Failed))
	return result
}
