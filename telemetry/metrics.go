package telemetry

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

const (
	meterName = "github.com/wolfeidau/seedkeeper"
)

// Tick outcomes.
const (
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeError   = "error"
	OutcomeSkipped = "skipped"
)

// MetricsConfig configures the metrics system.
type MetricsConfig struct {
	// ServiceName is the name of the service for resource attributes.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// OTLPEndpoint is the OTLP gRPC endpoint (e.g., "localhost:4317").
	// If empty, OTLP export is disabled.
	OTLPEndpoint string

	// EnablePrometheus enables the Prometheus /metrics endpoint.
	EnablePrometheus bool

	// FlushInterval is how often to export metrics (default: 10s).
	FlushInterval time.Duration
}

// Metrics holds the OpenTelemetry metric instruments.
type Metrics struct {
	loopTicksTotal   metric.Int64Counter
	loopTickDuration metric.Float64Histogram

	admissionsTotal    metric.Int64Counter
	evictionsTotal     metric.Int64Counter
	evictedBytesTotal  metric.Int64Counter
	workingSetBytes    metric.Int64Gauge
	retentionBudget    metric.Int64Gauge
	snapshotFreshness  metric.Int64Gauge
	feedItemsTotal     metric.Int64Counter
	httpRequestsTotal  metric.Int64Counter
	httpRequestSeconds metric.Float64Histogram

	upstreamFetchDuration   metric.Float64Histogram
	upstreamFetchTotal      metric.Int64Counter
	upstreamFetchBytesTotal metric.Int64Counter

	reaperDeletedTotal metric.Int64Counter
	reaperDuration     metric.Float64Histogram

	meterProvider *sdkmetric.MeterProvider
	promHandler   http.Handler
}

var (
	globalMetrics *Metrics
	initOnce      sync.Once
	initErr       error
)

// InitMetrics initializes the OpenTelemetry metrics system.
// Returns a shutdown function that should be called on application exit.
// Uses sync.Once to ensure single initialisation.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (shutdown func(context.Context) error, err error) {
	initOnce.Do(func() {
		initErr = doInitMetrics(ctx, cfg)
	})

	if initErr != nil {
		return nil, initErr
	}

	return shutdownMetrics, nil
}

func doInitMetrics(ctx context.Context, cfg MetricsConfig) error {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "seedkeeper"
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return err
	}

	var readers []sdkmetric.Reader
	var promHandler http.Handler

	if cfg.OTLPEndpoint != "" {
		otlpExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return err
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(otlpExporter,
			sdkmetric.WithInterval(cfg.FlushInterval),
		))
	}

	if cfg.EnablePrometheus {
		promExp, err := promexporter.New()
		if err != nil {
			return err
		}
		readers = append(readers, promExp)
		promHandler = promhttp.Handler()
	}

	// If no exporters configured, use a no-op periodic reader to still collect metrics
	if len(readers) == 0 {
		readers = append(readers, sdkmetric.NewPeriodicReader(noopExporter{},
			sdkmetric.WithInterval(cfg.FlushInterval),
		))
	}

	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range readers {
		opts = append(opts, sdkmetric.WithReader(r))
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)

	m, err := newMetrics(mp.Meter(meterName))
	if err != nil {
		return err
	}
	m.meterProvider = mp
	m.promHandler = promHandler
	globalMetrics = m

	return nil
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.loopTicksTotal, err = meter.Int64Counter(
		"seedkeeper_loop_ticks_total",
		metric.WithDescription("Total number of background loop ticks"),
		metric.WithUnit("{tick}"),
	); err != nil {
		return nil, err
	}

	if m.loopTickDuration, err = meter.Float64Histogram(
		"seedkeeper_loop_tick_duration_seconds",
		metric.WithDescription("Background loop tick duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120),
	); err != nil {
		return nil, err
	}

	if m.admissionsTotal, err = meter.Int64Counter(
		"seedkeeper_admissions_total",
		metric.WithDescription("Total number of feed items submitted to the daemon"),
		metric.WithUnit("{item}"),
	); err != nil {
		return nil, err
	}

	if m.evictionsTotal, err = meter.Int64Counter(
		"seedkeeper_evictions_total",
		metric.WithDescription("Total number of work items removed by the retention policy"),
		metric.WithUnit("{item}"),
	); err != nil {
		return nil, err
	}

	if m.evictedBytesTotal, err = meter.Int64Counter(
		"seedkeeper_evicted_bytes_total",
		metric.WithDescription("Total bytes reclaimed by evictions"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	if m.workingSetBytes, err = meter.Int64Gauge(
		"seedkeeper_working_set_bytes",
		metric.WithDescription("Aggregate size of all work items at the last maintain tick"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	if m.retentionBudget, err = meter.Int64Gauge(
		"seedkeeper_retention_budget_bytes",
		metric.WithDescription("Configured retention budget"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	if m.snapshotFreshness, err = meter.Int64Gauge(
		"seedkeeper_snapshot_fresh",
		metric.WithDescription("Whether a status source was refreshed on the last tick (1=fresh, 0=stale)"),
		metric.WithUnit("{status}"),
	); err != nil {
		return nil, err
	}

	if m.feedItemsTotal, err = meter.Int64Counter(
		"seedkeeper_feed_items_total",
		metric.WithDescription("Total feed items evaluated by the promotion policy"),
		metric.WithUnit("{item}"),
	); err != nil {
		return nil, err
	}

	if m.httpRequestsTotal, err = meter.Int64Counter(
		"seedkeeper_http_requests_total",
		metric.WithDescription("Total number of HTTP requests served"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}

	if m.httpRequestSeconds, err = meter.Float64Histogram(
		"seedkeeper_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1),
	); err != nil {
		return nil, err
	}

	if m.upstreamFetchDuration, err = meter.Float64Histogram(
		"seedkeeper_upstream_fetch_duration_seconds",
		metric.WithDescription("Duration of upstream requests"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 60),
	); err != nil {
		return nil, err
	}

	if m.upstreamFetchTotal, err = meter.Int64Counter(
		"seedkeeper_upstream_fetch_total",
		metric.WithDescription("Total number of upstream requests"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}

	if m.upstreamFetchBytesTotal, err = meter.Int64Counter(
		"seedkeeper_upstream_fetch_bytes_total",
		metric.WithDescription("Total bytes read from upstream responses"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	if m.reaperDeletedTotal, err = meter.Int64Counter(
		"seedkeeper_reaper_deleted_total",
		metric.WithDescription("Total entries deleted by reapers"),
		metric.WithUnit("{entry}"),
	); err != nil {
		return nil, err
	}

	if m.reaperDuration, err = meter.Float64Histogram(
		"seedkeeper_reaper_duration_seconds",
		metric.WithDescription("Duration of reaper cycles"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func shutdownMetrics(ctx context.Context) error {
	if globalMetrics == nil {
		return nil
	}
	err := globalMetrics.meterProvider.Shutdown(ctx)
	globalMetrics = nil
	return err
}

// RecordTick records one background loop tick.
func RecordTick(ctx context.Context, loop, outcome string, duration time.Duration) {
	if globalMetrics == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("loop", loop),
		attribute.String("outcome", outcome),
	)
	globalMetrics.loopTicksTotal.Add(ctx, 1, attrs)
	globalMetrics.loopTickDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("loop", loop)))
}

// RecordFeed records how many feed items were evaluated and admitted.
func RecordFeed(ctx context.Context, evaluated, admitted int) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.feedItemsTotal.Add(ctx, int64(evaluated), metric.WithAttributes(attribute.String("decision", "evaluated")))
	globalMetrics.feedItemsTotal.Add(ctx, int64(admitted), metric.WithAttributes(attribute.String("decision", "admitted")))
}

// RecordAdmissions records the outcome of a batch of daemon additions.
func RecordAdmissions(ctx context.Context, succeeded, failed int) {
	if globalMetrics == nil {
		return
	}
	recordOutcomes(ctx, globalMetrics.admissionsTotal, succeeded, failed)
}

// RecordEvictions records the outcome of a batch of daemon removals.
func RecordEvictions(ctx context.Context, succeeded, failed int, bytesReclaimed int64) {
	if globalMetrics == nil {
		return
	}
	recordOutcomes(ctx, globalMetrics.evictionsTotal, succeeded, failed)
	if bytesReclaimed > 0 {
		globalMetrics.evictedBytesTotal.Add(ctx, bytesReclaimed)
	}
}

func recordOutcomes(ctx context.Context, counter metric.Int64Counter, succeeded, failed int) {
	if succeeded > 0 {
		counter.Add(ctx, int64(succeeded), metric.WithAttributes(attribute.String("outcome", OutcomeSuccess)))
	}
	if failed > 0 {
		counter.Add(ctx, int64(failed), metric.WithAttributes(attribute.String("outcome", OutcomeError)))
	}
}

// UpdateWorkingSet records the working set size against the retention budget.
func UpdateWorkingSet(ctx context.Context, size, budget int64) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.workingSetBytes.Record(ctx, size)
	globalMetrics.retentionBudget.Record(ctx, budget)
}

// RecordFreshness records whether each status source was refreshed on the last tick.
func RecordFreshness(ctx context.Context, localFresh, remoteFresh bool) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.snapshotFreshness.Record(ctx, boolToInt(localFresh), metric.WithAttributes(attribute.String("source", "local")))
	globalMetrics.snapshotFreshness.Record(ctx, boolToInt(remoteFresh), metric.WithAttributes(attribute.String("source", "remote")))
}

// RecordHTTP records a request served by the side HTTP server.
func RecordHTTP(ctx context.Context, endpoint string, status int, duration time.Duration) {
	if globalMetrics == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("status_class", StatusClass(status)),
	)
	globalMetrics.httpRequestsTotal.Add(ctx, 1, attrs)
	globalMetrics.httpRequestSeconds.Record(ctx, duration.Seconds(), attrs)
}

// RecordUpstreamFetch records an upstream request.
func RecordUpstreamFetch(ctx context.Context, upstream string, duration time.Duration, bytesRead int64, outcome string) {
	if globalMetrics == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("upstream", upstream),
		attribute.String("outcome", outcome),
	}
	if loop := LoopFromContext(ctx); loop != "" {
		attrs = append(attrs, attribute.String("loop", loop))
	}
	globalMetrics.upstreamFetchDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	globalMetrics.upstreamFetchTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	if bytesRead > 0 {
		globalMetrics.upstreamFetchBytesTotal.Add(ctx, bytesRead, metric.WithAttributes(attrs...))
	}
}

// RecordReaperCycle records a completed reaper cycle.
func RecordReaperCycle(ctx context.Context, reaper string, deleted int, duration time.Duration) {
	if globalMetrics == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("reaper", reaper))
	globalMetrics.reaperDeletedTotal.Add(ctx, int64(deleted), attrs)
	globalMetrics.reaperDuration.Record(ctx, duration.Seconds(), attrs)
}

// PrometheusHandler returns the Prometheus metrics HTTP handler.
// Returns a handler that returns 404 if Prometheus export is not enabled,
// allowing safe registration regardless of initialization order.
func PrometheusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if globalMetrics == nil || globalMetrics.promHandler == nil {
			http.NotFound(w, r)
			return
		}
		globalMetrics.promHandler.ServeHTTP(w, r)
	})
}

// StatusClass returns the HTTP status class (2xx, 3xx, 4xx, 5xx).
func StatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// noopExporter is a no-op metrics exporter for when no exporters are configured.
type noopExporter struct{}

func (noopExporter) Temporality(_ sdkmetric.InstrumentKind) metricdata.Temporality {
	return metricdata.CumulativeTemporality
}

func (noopExporter) Aggregation(_ sdkmetric.InstrumentKind) sdkmetric.Aggregation {
	return nil
}

func (noopExporter) Export(_ context.Context, _ *metricdata.ResourceMetrics) error {
	return nil
}

func (noopExporter) ForceFlush(_ context.Context) error {
	return nil
}

func (noopExporter) Shutdown(_ context.Context) error {
	return nil
}
