package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/wolfeidau/seedkeeper/coordinator"
	"github.com/wolfeidau/seedkeeper/credentials"
	"github.com/wolfeidau/seedkeeper/credentials/opprovider"
	"github.com/wolfeidau/seedkeeper/hostinfo"
	"github.com/wolfeidau/seedkeeper/journal"
	"github.com/wolfeidau/seedkeeper/maintain"
	"github.com/wolfeidau/seedkeeper/policy"
	"github.com/wolfeidau/seedkeeper/promote"
	"github.com/wolfeidau/seedkeeper/refresh"
	"github.com/wolfeidau/seedkeeper/server"
	"github.com/wolfeidau/seedkeeper/snapshot"
	"github.com/wolfeidau/seedkeeper/telemetry"
	"github.com/wolfeidau/seedkeeper/tracker"
	"github.com/wolfeidau/seedkeeper/transmission"
	"github.com/wolfeidau/seedkeeper/tui"
)

// RunCmd runs the three loops until interrupted or quit.
type RunCmd struct {
	RefreshInterval  time.Duration `help:"How often to poll the daemon and the tracker account." default:"5s" env:"SEEDKEEPER_REFRESH_INTERVAL"`
	PromoteInterval  time.Duration `help:"How often to read the feed and admit new items." default:"30s" env:"SEEDKEEPER_PROMOTE_INTERVAL"`
	MaintainInterval time.Duration `help:"How often to enforce the retention budget." default:"10m" env:"SEEDKEEPER_MAINTAIN_INTERVAL"`

	RetentionBudget    string  `help:"Maximum total size of all daemon items (e.g. 2TiB)." default:"2TiB" env:"SEEDKEEPER_RETENTION_BUDGET"`
	MaintainBatch      int     `help:"Maximum removals per maintain tick." default:"5" env:"SEEDKEEPER_MAINTAIN_BATCH"`
	MaxAverageProgress float64 `help:"Admit only swarms whose average progress is below this fraction." default:"0.3" env:"SEEDKEEPER_MAX_AVERAGE_PROGRESS"`
	MinSeeders         int     `help:"Admit only swarms with at least this many seeders." default:"1" env:"SEEDKEEPER_MIN_SEEDERS"`
	Concurrency        int     `help:"Maximum daemon calls in flight per tick." default:"8" env:"SEEDKEEPER_CONCURRENCY"`

	SiteURL           string `help:"Tracker site root." default:"https://u2.dmhy.org/" env:"SEEDKEEPER_SITE_URL"`
	FeedURL           string `help:"RSS feed URL; {passkey} is replaced from credentials." env:"SEEDKEEPER_FEED_URL" required:""`
	Proxy             string `help:"HTTP proxy for tracker traffic." env:"SEEDKEEPER_PROXY"`
	DetailConcurrency int    `help:"Detail pages fetched in parallel per feed read." default:"4" env:"SEEDKEEPER_DETAIL_CONCURRENCY"`
	DownloadDir       string `help:"Download directory for admitted items (daemon default when empty)." env:"SEEDKEEPER_DOWNLOAD_DIR"`

	Journal          string        `help:"Activity journal path (bbolt); empty disables it." default:"seedkeeper.db" env:"SEEDKEEPER_JOURNAL"`
	JournalRetention time.Duration `help:"How long journal entries are kept." default:"168h" env:"SEEDKEEPER_JOURNAL_RETENTION"`

	MetricsAddress string `help:"Listen address for /metrics, /healthz and /status; empty disables it." env:"SEEDKEEPER_METRICS_ADDRESS"`
	StatusToken    string `help:"Bearer token required on /status." env:"SEEDKEEPER_STATUS_TOKEN"`
	OTLPEndpoint   string `name:"otlp-endpoint" help:"OTLP gRPC endpoint for metrics export." env:"SEEDKEEPER_OTLP_ENDPOINT"`

	NoTUI bool `name:"no-tui" help:"Disable the terminal display and log to stderr." env:"SEEDKEEPER_NO_TUI"`
}

// Run implements the run command.
func (c *RunCmd) Run(g *Globals) error {
	budget, err := humanize.ParseBytes(c.RetentionBudget)
	if err != nil {
		return fmt.Errorf("parsing retention budget: %w", err)
	}

	logger, closeLog, err := openLog(g, !c.NoTUI)
	if err != nil {
		return err
	}
	defer closeLog() //nolint:errcheck

	ctx, stop := interrupted()
	defer stop()

	creds, err := loadCredentials(ctx, g, logger)
	if err != nil {
		return err
	}
	if creds.Tracker == nil {
		return errors.New("credentials: tracker section is required")
	}

	feedURL, err := creds.ExpandFeedURL(c.FeedURL)
	if err != nil {
		return err
	}

	shutdownMetrics, err := telemetry.InitMetrics(ctx, telemetry.MetricsConfig{
		ServiceName:      "seedkeeper",
		ServiceVersion:   version,
		OTLPEndpoint:     c.OTLPEndpoint,
		EnablePrometheus: c.MetricsAddress != "",
	})
	if err != nil {
		return fmt.Errorf("initialising metrics: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(shutdownCtx); err != nil {
			logger.Warn("shutting down metrics", "error", err)
		}
	}()

	daemon := newDaemon(g, creds, logger, transmission.WithDownloadDir(c.DownloadDir))

	site, err := c.newTracker(creds, feedURL, logger)
	if err != nil {
		return err
	}

	var j *journal.Journal
	if c.Journal != "" {
		j = journal.New(journal.WithLogger(logger))
		if err := j.Open(c.Journal); err != nil {
			return fmt.Errorf("opening journal: %w", err)
		}
		defer func() {
			if err := j.Close(); err != nil {
				logger.Warn("closing journal", "error", err)
			}
		}()
	}

	checkDaemon(ctx, daemon, logger)

	cell := snapshot.New()

	refresher := refresh.New(daemon, site, cell,
		refresh.WithInterval(c.RefreshInterval),
		refresh.WithJournal(j),
		refresh.WithHost(hostinfo.New(hostinfo.WithLogger(logger))),
		refresh.WithLogger(logger),
	)

	promoter := promote.New(daemon, site,
		promote.WithInterval(c.PromoteInterval),
		promote.WithPolicy(policy.Promotion{
			MaxAverageProgress: c.MaxAverageProgress,
			MinSeeders:         c.MinSeeders,
		}),
		promote.WithConcurrency(c.Concurrency),
		promote.WithJournal(j),
		promote.WithLogger(logger),
	)

	maintainer := maintain.NewManager(daemon, maintain.Config{
		Budget:        int64(budget),
		BatchSize:     c.MaintainBatch,
		CheckInterval: c.MaintainInterval,
		Concurrency:   c.Concurrency,
		Journal:       j,
		Logger:        logger,
	})

	coord := coordinator.New(coordinator.WithLogger(logger))
	coord.Add(telemetry.LoopRefresh, refresher.Run)
	coord.Add(telemetry.LoopPromote, promoter.Run)
	coord.Add(telemetry.LoopMaintain, maintainer.Run)

	if j != nil {
		reaper := journal.NewReaper(j,
			journal.WithRetention(c.JournalRetention),
			journal.WithReaperLogger(logger),
		)
		coord.Add("journal-reaper", reaper.Run)
	}

	if c.MetricsAddress != "" {
		opts := []server.Option{server.WithRetention(maintainer)}
		if j != nil {
			opts = append(opts, server.WithHistory(j))
		}
		srv := server.New(server.Config{
			Address:   c.MetricsAddress,
			AuthToken: c.StatusToken,
			Logger:    logger.With("component", "server"),
		}, cell, opts...)
		coord.Add("server", srv.Run)
	}

	if !c.NoTUI {
		opts := []tui.Option{tui.WithQuit(coord.Shutdown), tui.WithDone(coord.Done())}
		if j != nil {
			opts = append(opts, tui.WithHistory(j, tui.DefaultHistory))
		}
		model := tui.New(cell, opts...)
		coord.Add("display", func(ctx context.Context) error {
			return tui.Run(ctx, model, coord.Shutdown)
		})
	}

	logger.Info("seedkeeper started",
		"version", version,
		"budget", humanize.IBytes(budget),
		"refresh_interval", c.RefreshInterval,
		"promote_interval", c.PromoteInterval,
		"maintain_interval", c.MaintainInterval,
		"journal", c.Journal != "",
		"metrics_address", c.MetricsAddress,
	)

	err = coord.Run(ctx)
	logger.Info("seedkeeper stopped", "error", err)
	return err
}

func (c *RunCmd) newTracker(creds *credentials.Credentials, feedURL string, logger *slog.Logger) (*tracker.Client, error) {
	opts := []tracker.Option{
		tracker.WithFeedURL(feedURL),
		tracker.WithCookie(creds.Tracker.CookieName, creds.Tracker.Cookie),
		tracker.WithUserID(creds.Tracker.UserID),
		tracker.WithConcurrency(c.DetailConcurrency),
		tracker.WithLogger(logger),
	}
	if c.Proxy != "" {
		proxy, err := url.Parse(c.Proxy)
		if err != nil {
			return nil, fmt.Errorf("parsing proxy url: %w", err)
		}
		opts = append(opts, tracker.WithProxy(proxy))
	}

	site, err := tracker.New(c.SiteURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating tracker client: %w", err)
	}
	return site, nil
}

// checkDaemon logs the daemon version and free space. Failures are left for
// the refresh loop to surface.
func checkDaemon(ctx context.Context, daemon *transmission.Client, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	info, err := daemon.Session(ctx)
	if err != nil {
		logger.Warn("download daemon unreachable at startup", "error", err)
		return
	}

	attrs := []any{"version", info.Version, "rpc_version", info.RPCVersion, "download_dir", info.DownloadDir}
	if free, err := daemon.FreeSpace(ctx, info.DownloadDir); err == nil {
		attrs = append(attrs, "free", humanize.IBytes(uint64(max(free, 0))))
	} else {
		logger.Debug("reading free space", "error", err)
	}
	logger.Info("connected to download daemon", attrs...)
}

func loadCredentials(ctx context.Context, g *Globals, logger *slog.Logger) (*credentials.Credentials, error) {
	resolver := credentials.NewResolver(
		credentials.WithLogger(logger),
		opprovider.WithOnePassword(opprovider.WithAccount(g.OPAccount)),
	)
	creds, err := resolver.ResolveFile(ctx, g.Credentials)
	if err != nil {
		return nil, fmt.Errorf("loading credentials: %w", err)
	}
	return creds, nil
}

func newDaemon(g *Globals, creds *credentials.Credentials, logger *slog.Logger, opts ...transmission.Option) *transmission.Client {
	opts = append(opts, transmission.WithLogger(logger))
	if creds.Transmission != nil {
		opts = append(opts, transmission.WithBasicAuth(creds.Transmission.Username, creds.Transmission.Password))
	}
	return transmission.New(g.RPCURL, opts...)
}

// interrupted is a context cancelled on SIGINT or SIGTERM.
func interrupted() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
