// Package server provides the optional HTTP side listener exposing metrics,
// health and a JSON view of the current status.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/wolfeidau/seedkeeper/journal"
	"github.com/wolfeidau/seedkeeper/maintain"
	"github.com/wolfeidau/seedkeeper/snapshot"
	"github.com/wolfeidau/seedkeeper/telemetry"
)

const (
	// DefaultHistory is how many journal entries /status returns by default.
	DefaultHistory = 25

	maxHistory      = 500
	shutdownTimeout = 10 * time.Second
)

// Snapshotter provides the latest shared snapshot.
type Snapshotter interface {
	Read() snapshot.Snapshot
}

// RetentionReporter provides the most recent maintain tick result.
type RetentionReporter interface {
	LastResult() *maintain.Result
}

// History provides recent journal entries.
type History interface {
	Recent(ctx context.Context, n int) ([]journal.Entry, error)
}

// Config holds server configuration.
type Config struct {
	// Address to listen on (e.g., ":9090")
	Address string

	// AuthToken, when set, is required as a Bearer token on /status.
	AuthToken string

	// Logger for the server
	Logger *slog.Logger
}

// Server is the HTTP side listener.
type Server struct {
	config     Config
	httpServer *http.Server
	logger     *slog.Logger

	snapshot  Snapshotter
	retention RetentionReporter
	history   History
	now       func() time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithRetention adds the last maintain result to /status.
func WithRetention(r RetentionReporter) Option {
	return func(s *Server) {
		s.retention = r
	}
}

// WithHistory adds recent journal entries to /status.
func WithHistory(h History) Option {
	return func(s *Server) {
		s.history = h
	}
}

// WithNow sets the clock used for the status timestamp.
func WithNow(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// New creates a new server reading from the given snapshot.
func New(cfg Config, snap Snapshotter, opts ...Option) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Address == "" {
		cfg.Address = ":9090"
	}

	s := &Server{
		config:   cfg,
		logger:   cfg.Logger,
		snapshot: snap,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Handler returns the fully wrapped request handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	return s.loggingMiddleware(requireBearer(s.config.AuthToken, "/healthz", "/metrics")(mux))
}

// registerRoutes sets up the HTTP routes.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)

	// Prometheus metrics endpoint (returns 404 if not enabled)
	mux.Handle("GET /metrics", telemetry.PrometheusHandler())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "healthz")
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// StatusResponse is the body served on /status.
type StatusResponse struct {
	At        time.Time         `json:"at"`
	Freshness string            `json:"freshness"`
	Snapshot  snapshot.Snapshot `json:"snapshot"`
	Retention *maintain.Result  `json:"retention,omitempty"`
	History   []journal.Entry   `json:"history,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "status")

	limit := DefaultHistory
	if v := r.URL.Query().Get("history"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "history must be a non-negative integer")
			return
		}
		limit = min(n, maxHistory)
	}

	snap := s.snapshot.Read()
	resp := StatusResponse{
		At:        s.now().UTC(),
		Freshness: snap.Mask.String(),
		Snapshot:  snap,
	}
	if s.retention != nil {
		resp.Retention = s.retention.LastResult()
	}
	if s.history != nil && limit > 0 {
		entries, err := s.history.Recent(r.Context(), limit)
		if err != nil {
			// history is display-only, serve the rest
			s.logger.Warn("reading journal for status", "error", err)
		}
		resp.History = entries
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Debug("writing status response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg}) //nolint:errcheck
}

// loggingMiddleware logs HTTP requests with structured fields for analysis.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		r = telemetry.InjectTags(r)
		tags := telemetry.GetTags(r)
		tags.RequestID = requestID

		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)

		endpoint := tags.Endpoint
		if endpoint == "" {
			endpoint = deriveEndpoint(r.URL.Path)
		}

		attrs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"endpoint", endpoint,
			"status", wrapped.status,
			"status_class", telemetry.StatusClass(wrapped.status),
			"bytes_sent", wrapped.bytesWritten,
			"duration_ms", duration.Milliseconds(),
			"remote_addr", r.RemoteAddr,
			"user_agent", r.UserAgent(),
		}

		// scrapes are frequent, keep them out of the default log level
		if endpoint == "metrics" || endpoint == "healthz" {
			s.logger.Debug("http request", attrs...)
		} else {
			s.logger.Info("http request", attrs...)
		}

		telemetry.RecordHTTP(r.Context(), endpoint, wrapped.status, duration)
	})
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.config.Address, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("starting server", "address", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving http: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}

// Address returns the server's listen address.
func (s *Server) Address() string {
	return s.config.Address
}

// responseWriter wraps http.ResponseWriter to capture the status code and bytes written.
type responseWriter struct {
	http.ResponseWriter
	status       int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// Flush implements http.Flusher for streaming responses.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements http.Hijacker for connection upgrades.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("hijacking not supported")
}

// Unwrap returns the underlying ResponseWriter.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// deriveEndpoint names requests that no handler tagged.
func deriveEndpoint(path string) string {
	switch path {
	case "/healthz":
		return "healthz"
	case "/status":
		return "status"
	case "/metrics":
		return "metrics"
	default:
		return "unknown"
	}
}
