// Package refresh polls the local daemon and the remote catalog for status and
// publishes both, with a freshness mask, into a snapshot cell.
package refresh

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wolfeidau/seedkeeper"
	"github.com/wolfeidau/seedkeeper/journal"
	"github.com/wolfeidau/seedkeeper/snapshot"
	"github.com/wolfeidau/seedkeeper/telemetry"
)

// DefaultInterval is the default polling interval.
const DefaultInterval = 5 * time.Second

// Daemon supplies local session statistics.
type Daemon interface {
	SessionStats(ctx context.Context) (seedkeeper.SessionStats, error)
}

// Catalog supplies the remote account status.
type Catalog interface {
	FetchAccountStatus(ctx context.Context) (seedkeeper.AccountStatus, error)
}

// Host supplies the keeper machine's own status.
type Host interface {
	Collect(ctx context.Context) (seedkeeper.HostStatus, error)
}

// Result describes one refresh tick. HostErr does not affect the mask.
type Result struct {
	Mask      snapshot.Freshness `json:"mask"`
	LocalErr  error              `json:"-"`
	RemoteErr error              `json:"-"`
	HostErr   error              `json:"-"`
	Duration  time.Duration      `json:"duration"`
}

// Outcome maps the mask to a tick outcome label.
func (r Result) Outcome() string {
	switch r.Mask {
	case snapshot.AllFresh:
		return telemetry.OutcomeSuccess
	case 0:
		return telemetry.OutcomeError
	default:
		return telemetry.OutcomePartial
	}
}

// Refresher runs the refresh loop.
type Refresher struct {
	daemon   Daemon
	catalog  Catalog
	host     Host
	cell     *snapshot.Cell
	journal  *journal.Journal
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Refresher.
type Option func(*Refresher)

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) Option {
	return func(r *Refresher) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Refresher) {
		r.logger = logger
	}
}

// WithJournal records sources going stale.
func WithJournal(j *journal.Journal) Option {
	return func(r *Refresher) {
		r.journal = j
	}
}

// WithHost adds a host status source read alongside the other two.
func WithHost(h Host) Option {
	return func(r *Refresher) {
		r.host = h
	}
}

// WithNow sets the time function for testing.
func WithNow(now func() time.Time) Option {
	return func(r *Refresher) {
		r.now = now
	}
}

// New creates a Refresher that publishes into cell.
func New(daemon Daemon, catalog Catalog, cell *snapshot.Cell, opts ...Option) *Refresher {
	r := &Refresher{
		daemon:   daemon,
		catalog:  catalog,
		cell:     cell,
		interval: DefaultInterval,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "refresh")
	return r
}

// Run ticks immediately and then every interval until ctx is cancelled, when
// it returns the context error. Upstream failures never end the loop; a panic
// inside a tick does, and is returned as an error.
func (r *Refresher) Run(ctx context.Context) error {
	ctx = telemetry.WithLoop(ctx, telemetry.LoopRefresh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Debug("refresh loop started", "interval", r.interval)

	if err := r.guardedTick(ctx); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("refresh loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := r.guardedTick(ctx); err != nil {
				return err
			}
		}
	}
}

func (r *Refresher) guardedTick(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("refresh tick panicked: %v\n%s", p, debug.Stack())
		}
	}()
	r.RunOnce(ctx)
	return nil
}

// RunOnce fetches both sources concurrently and commits one snapshot write.
// A failed side keeps its previously stored value and has its bit cleared.
func (r *Refresher) RunOnce(ctx context.Context) Result {
	start := r.now()
	prevMask := r.cell.ReadMask()

	var (
		local  seedkeeper.SessionStats
		remote seedkeeper.AccountStatus
		host   seedkeeper.HostStatus
		result Result
	)

	// Neither fetch may cancel the other. Panics are carried back to this
	// goroutine so Run can report them.
	var (
		g      errgroup.Group
		panics [3]any
	)
	g.Go(func() error {
		defer func() { panics[0] = recover() }()
		local, result.LocalErr = r.daemon.SessionStats(ctx)
		return nil
	})
	g.Go(func() error {
		defer func() { panics[1] = recover() }()
		remote, result.RemoteErr = r.catalog.FetchAccountStatus(ctx)
		return nil
	})
	if r.host != nil {
		g.Go(func() error {
			defer func() { panics[2] = recover() }()
			host, result.HostErr = r.host.Collect(ctx)
			return nil
		})
	}
	_ = g.Wait()
	for _, p := range panics {
		if p != nil {
			panic(p)
		}
	}

	var (
		localPtr  *seedkeeper.SessionStats
		remotePtr *seedkeeper.AccountStatus
	)

	if result.LocalErr == nil {
		localPtr = &local
		result.Mask |= snapshot.LocalFresh
	} else {
		r.logger.Warn("failed to refresh session stats", "error", result.LocalErr)
		if prev, ok := r.cell.ReadLocal(); ok {
			localPtr = &prev
		}
	}

	if result.RemoteErr == nil {
		remotePtr = &remote
		result.Mask |= snapshot.RemoteFresh
	} else {
		r.logger.Warn("failed to refresh account status", "error", result.RemoteErr)
		if prev, ok := r.cell.ReadRemote(); ok {
			remotePtr = &prev
		}
	}

	r.cell.Write(localPtr, remotePtr, result.Mask)

	switch {
	case r.host == nil:
	case result.HostErr != nil:
		r.logger.Warn("failed to read host status", "error", result.HostErr)
	default:
		r.cell.WriteHost(host)
	}

	r.journalTransitions(ctx, prevMask, result)

	result.Duration = r.now().Sub(start)
	telemetry.RecordTick(ctx, telemetry.LoopRefresh, result.Outcome(), result.Duration)
	telemetry.RecordFreshness(ctx, result.Mask.Has(snapshot.LocalFresh), result.Mask.Has(snapshot.RemoteFresh))

	r.logger.Debug("refresh complete", "mask", result.Mask.String(), "duration", result.Duration)
	return result
}

// journalTransitions records a source going stale once, not on every failed tick.
func (r *Refresher) journalTransitions(ctx context.Context, prev snapshot.Freshness, result Result) {
	if r.journal == nil {
		return
	}
	if prev.Has(snapshot.LocalFresh) && result.LocalErr != nil {
		r.journal.Record(ctx, journal.Entry{Kind: journal.KindRefreshFailed, Name: "daemon", Detail: result.LocalErr.Error()})
	}
	if prev.Has(snapshot.RemoteFresh) && result.RemoteErr != nil {
		r.journal.Record(ctx, journal.Entry{Kind: journal.KindRefreshFailed, Name: "tracker", Detail: result.RemoteErr.Error()})
	}
}
