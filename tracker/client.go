// Package tracker reads a NexusPHP-style private tracker: the RSS catalog
// feed, per-item detail pages and the account's user details page.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"github.com/mmcdole/gofeed"

	"github.com/wolfeidau/seedkeeper/telemetry"
)

const (
	// DefaultTimeout bounds every tracker request.
	DefaultTimeout = 30 * time.Second

	// DefaultConcurrency caps detail page fetches in flight.
	DefaultConcurrency = 4

	// DefaultCookieName is the session cookie NexusPHP sites use.
	DefaultCookieName = "nexusphp_u2"
)

var (
	// ErrNotLoggedIn is returned when the tracker redirects to its login page.
	ErrNotLoggedIn = errors.New("tracker: not logged in")

	// ErrUnexpectedPage is returned when a page lacks the expected layout.
	ErrUnexpectedPage = errors.New("tracker: unexpected page layout")

	// ErrNoUsableEntries is returned when the feed had entries but none
	// could be enriched from a detail page and identified by info hash.
	ErrNoUsableEntries = errors.New("tracker: no usable feed entries")
)

// Client reads one tracker site.
type Client struct {
	siteURL     *url.URL
	feedURL     string
	cookieName  string
	cookie      string
	proxy       *url.URL
	userID      string
	concurrency int
	httpClient  *http.Client
	parser      *gofeed.Parser
	logger      *slog.Logger

	mu         sync.Mutex
	resolvedID string
}

// Option configures a Client.
type Option func(*Client)

// WithFeedURL sets the RSS URL. It normally embeds the account passkey.
func WithFeedURL(u string) Option {
	return func(c *Client) {
		c.feedURL = u
	}
}

// WithCookie sets the session cookie value sent with every page request.
func WithCookie(name, value string) Option {
	return func(c *Client) {
		if name != "" {
			c.cookieName = name
		}
		c.cookie = value
	}
}

// WithProxy routes tracker traffic through an HTTP proxy.
func WithProxy(proxy *url.URL) Option {
	return func(c *Client) {
		c.proxy = proxy
	}
}

// WithUserID skips user id discovery from the index page.
func WithUserID(id string) Option {
	return func(c *Client) {
		c.userID = id
	}
}

// WithConcurrency caps concurrent detail page fetches.
func WithConcurrency(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithHTTPClient sets a custom HTTP client; proxy and compression options
// are then the caller's concern.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a client for the site rooted at siteURL.
func New(siteURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(siteURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("parsing site url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("site url %q must be absolute", siteURL)
	}

	c := &Client{
		siteURL:     u,
		cookieName:  DefaultCookieName,
		concurrency: DefaultConcurrency,
		parser:      gofeed.NewParser(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{
			Timeout:   DefaultTimeout,
			Transport: c.transport(),
		}
	}
	c.logger = c.logger.With("component", "tracker")
	return c, nil
}

func (c *Client) transport() http.RoundTripper {
	base := http.DefaultTransport.(*http.Transport).Clone()
	if c.proxy != nil {
		base.Proxy = http.ProxyURL(c.proxy)
	}
	return telemetry.NewInstrumentedTransport(gzhttp.Transport(base), "tracker")
}

// resolve returns ref resolved against the site root.
func (c *Client) resolve(ref string) string {
	u, err := c.siteURL.Parse(ref)
	if err != nil {
		return ref
	}
	return u.String()
}

// get fetches a site page with the session cookie.
func (c *Client) get(ctx context.Context, rawURL string, withCookie bool) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if withCookie && c.cookie != "" {
		req.AddCookie(&http.Cookie{Name: c.cookieName, Value: c.cookie})
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("performing request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.Request != nil && strings.Contains(resp.Request.URL.Path, "login") {
		return nil, ErrNotLoggedIn
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("tracker returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return body, nil
}
