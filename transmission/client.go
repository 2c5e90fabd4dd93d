// Package transmission is a client for the Transmission daemon's JSON-RPC
// interface.
//
// The daemon protects its endpoint with a session id: a request carrying a
// missing or stale X-Transmission-Session-Id header is answered with 409 and
// the current id. The client performs that handshake once for all concurrent
// callers and retries the original request.
package transmission

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/wolfeidau/seedkeeper/telemetry"
)

// SessionHeader carries the CSRF session id.
const SessionHeader = "X-Transmission-Session-Id"

const resultSuccess = "success"

var (
	// ErrUnauthorized is returned when the daemon rejects the credentials.
	ErrUnauthorized = errors.New("transmission: unauthorized")

	// ErrSessionID is returned when the daemon keeps rejecting the session id.
	ErrSessionID = errors.New("transmission: session id rejected")
)

// RPCError is a response whose result is not "success".
type RPCError struct {
	Method string
	Result string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("transmission: %s: %s", e.Method, e.Result)
}

// Client talks to one Transmission daemon.
type Client struct {
	url         string
	user        string
	password    string
	downloadDir string
	httpClient  *http.Client
	logger      *slog.Logger

	mu        sync.RWMutex
	sessionID string
	handshake singleflight.Group
}

// Option configures a Client.
type Option func(*Client)

// WithBasicAuth sets the RPC credentials.
func WithBasicAuth(user, password string) Option {
	return func(c *Client) {
		c.user = user
		c.password = password
	}
}

// WithDownloadDir sets the directory passed with every torrent-add.
func WithDownloadDir(dir string) Option {
	return func(c *Client) {
		c.downloadDir = dir
	}
}

// WithHTTPClient sets the HTTP client. Its transport is used as-is.
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

// New creates a client for the RPC endpoint at url
// (usually http://host:9091/transmission/rpc).
func New(url string, opts ...Option) *Client {
	c := &Client{
		url: url,
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: telemetry.NewInstrumentedTransport(nil, "transmission"),
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "transmission")
	return c
}

type request struct {
	Method    string `json:"method"`
	Arguments any    `json:"arguments,omitempty"`
}

type response struct {
	Result    string          `json:"result"`
	Arguments json.RawMessage `json:"arguments"`
}

func (c *Client) session() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

func (c *Client) setSession(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = id
}

// call sends method with args and decodes the response arguments into out
// (when non-nil). A 409 triggers one handshake and one retry.
func (c *Client) call(ctx context.Context, method string, args, out any) error {
	body, err := json.Marshal(request{Method: method, Arguments: args})
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", method, err)
	}

	sent := c.session()
	resp, err := c.post(ctx, body, sent)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}

	if resp.StatusCode == http.StatusConflict {
		hint := resp.Header.Get(SessionHeader)
		drain(resp)

		id, err := c.refreshSession(ctx, sent, hint)
		if err != nil {
			return fmt.Errorf("%s: %w", method, err)
		}
		resp, err = c.post(ctx, body, id)
		if err != nil {
			return fmt.Errorf("%s: %w", method, err)
		}
		if resp.StatusCode == http.StatusConflict {
			drain(resp)
			return fmt.Errorf("%s: %w", method, ErrSessionID)
		}
	}
	defer drain(resp)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%s: %w", method, ErrUnauthorized)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%s: unexpected status %d", method, resp.StatusCode)
	}

	var rpcResp response
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("decoding %s response: %w", method, err)
	}
	if rpcResp.Result != resultSuccess {
		return &RPCError{Method: method, Result: rpcResp.Result}
	}
	if out != nil && len(rpcResp.Arguments) > 0 {
		if err := json.Unmarshal(rpcResp.Arguments, out); err != nil {
			return fmt.Errorf("decoding %s arguments: %w", method, err)
		}
	}
	return nil
}

func (c *Client) post(ctx context.Context, body []byte, sessionID string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set(SessionHeader, sessionID)
	}
	if c.user != "" {
		req.SetBasicAuth(c.user, c.password)
	}
	return c.httpClient.Do(req)
}

// refreshSession replaces the stale id. Concurrent callers that saw the same
// stale id share one refresh. When the 409 response already carried the new
// id it is used directly; otherwise it is fetched with session-get.
func (c *Client) refreshSession(ctx context.Context, stale, hint string) (string, error) {
	ch := c.handshake.DoChan("session", func() (any, error) {
		if cur := c.session(); cur != stale {
			return cur, nil
		}
		id := hint
		if id == "" {
			var err error
			if id, err = c.fetchSessionID(context.WithoutCancel(ctx)); err != nil {
				return "", err
			}
		}
		c.setSession(id)
		c.logger.Debug("session id refreshed")
		return id, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Client) fetchSessionID(ctx context.Context) (string, error) {
	body, _ := json.Marshal(request{Method: "session-get"})
	resp, err := c.post(ctx, body, "")
	if err != nil {
		return "", err
	}
	defer drain(resp)
	if resp.StatusCode == http.StatusUnauthorized {
		return "", ErrUnauthorized
	}
	id := resp.Header.Get(SessionHeader)
	if id == "" {
		return "", fmt.Errorf("%w: no session id in status %d response", ErrSessionID, resp.StatusCode)
	}
	return id, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
