// Package credentials renders a JSON credentials template whose values may
// come from the environment, files or secret managers.
package credentials

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"text/template"
)

const (
	// maxInputSize is the maximum size of a credentials template file (1MB).
	maxInputSize = 1 << 20
	// maxOutputSize is the maximum size of rendered template output (1MB).
	maxOutputSize = 1 << 20
)

// Credentials holds the secrets seedkeeper needs, rendered from a template.
type Credentials struct {
	Tracker      *TrackerAuth `json:"tracker,omitempty"`
	Transmission *RPCAuth     `json:"transmission,omitempty"`
}

// TrackerAuth authenticates against the tracker site and its feed.
type TrackerAuth struct {
	// Cookie is the session cookie value sent with page requests.
	Cookie string `json:"cookie"`
	// CookieName overrides the session cookie name.
	CookieName string `json:"cookie_name,omitempty"`
	// Passkey is substituted into the feed URL.
	Passkey string `json:"passkey,omitempty"`
	// UserID skips discovery of the account id.
	UserID string `json:"user_id,omitempty"`
}

// RPCAuth holds the daemon's basic auth credentials.
type RPCAuth struct {
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
}

// passkeyPlaceholder marks where the passkey goes in a feed URL.
const passkeyPlaceholder = "{passkey}"

// ExpandFeedURL replaces the {passkey} placeholder in raw with the query
// escaped tracker passkey. raw is returned unchanged without a placeholder.
func (c *Credentials) ExpandFeedURL(raw string) (string, error) {
	if !strings.Contains(raw, passkeyPlaceholder) {
		return raw, nil
	}
	if c == nil || c.Tracker == nil || c.Tracker.Passkey == "" {
		return "", fmt.Errorf("feed url needs a passkey but none is configured")
	}
	return strings.ReplaceAll(raw, passkeyPlaceholder, url.QueryEscape(c.Tracker.Passkey)), nil
}

// Validate checks that every present section is usable.
func (c *Credentials) Validate() error {
	if c.Tracker != nil && c.Tracker.Cookie == "" {
		return fmt.Errorf("tracker credentials: cookie is required")
	}
	if c.Transmission != nil && c.Transmission.Username == "" {
		return fmt.Errorf("transmission credentials: username is required")
	}
	return nil
}

// SecretProvider resolves a secret reference to its value.
type SecretProvider func(ctx context.Context, ref string) (string, error)

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// Resolver renders a credentials template. Besides the built in env,
// envDefault, file and json functions, every registered provider is
// callable by name, e.g. {{ op "op://vault/item/field" | json }}.
type Resolver struct {
	providers map[string]SecretProvider
	logger    *slog.Logger
}

// WithLogger sets the logger for the resolver.
func WithLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// WithProvider registers p as the template function name.
func WithProvider(name string, p SecretProvider) ResolverOption {
	return func(r *Resolver) {
		r.providers[name] = p
	}
}

// NewResolver creates a Resolver; without WithLogger it logs nothing.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		providers: map[string]SecretProvider{},
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveFile resolves the template stored at path.
func (r *Resolver) ResolveFile(ctx context.Context, path string) (*Credentials, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening credentials file: %w", err)
	}
	defer f.Close()

	return r.ResolveReader(ctx, f)
}

// ResolveReader renders the template read from src, decodes the JSON result
// and validates it.
func (r *Resolver) ResolveReader(ctx context.Context, src io.Reader) (*Credentials, error) {
	text, err := readTemplate(src)
	if err != nil {
		return nil, err
	}

	secrets := &secretCache{ctx: ctx, providers: r.providers, values: map[secretKey]string{}}
	rendered, err := render(text, secrets.funcs())
	if err != nil {
		return nil, err
	}

	creds := new(Credentials)
	if err := json.Unmarshal(rendered, creds); err != nil {
		return nil, fmt.Errorf("invalid credentials JSON after template execution: %w", err)
	}
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	r.logger.Debug("resolved credentials",
		"tracker", creds.Tracker != nil,
		"transmission", creds.Transmission != nil,
		"secrets_fetched", len(secrets.values),
	)
	return creds, nil
}

func readTemplate(src io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(src, maxInputSize+1))
	switch {
	case err != nil:
		return "", fmt.Errorf("reading credentials template: %w", err)
	case len(data) > maxInputSize:
		return "", fmt.Errorf("credentials template exceeds maximum size of %d bytes", maxInputSize)
	}
	return string(data), nil
}

// errOutputTooLarge stops template execution once the output passes maxOutputSize.
var errOutputTooLarge = fmt.Errorf("rendered credentials exceed maximum size of %d bytes", maxOutputSize)

type cappedBuffer struct {
	bytes.Buffer
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if b.Len()+len(p) > maxOutputSize {
		return 0, errOutputTooLarge
	}
	return b.Buffer.Write(p)
}

func render(text string, funcs template.FuncMap) ([]byte, error) {
	tmpl, err := template.New("credentials").
		Option("missingkey=error").
		Funcs(builtinFuncs).
		Funcs(funcs).
		Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parsing credentials template: %w", err)
	}

	var out cappedBuffer
	if err := tmpl.Execute(&out, nil); err != nil {
		return nil, fmt.Errorf("executing credentials template: %w", err)
	}
	return out.Bytes(), nil
}

var builtinFuncs = template.FuncMap{
	"env":        requireEnv,
	"envDefault": envOr,
	"file":       readSecretFile,
	"json":       jsonString,
}

func requireEnv(key string) (string, error) {
	if v, ok := os.LookupEnv(key); ok {
		return v, nil
	}
	return "", fmt.Errorf("environment variable %q is not set", key)
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

// readSecretFile returns the file's contents with surrounding whitespace,
// usually a trailing newline, removed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading file %q: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// jsonString quotes v as a JSON string literal.
func jsonString(v string) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("JSON encoding value: %w", err)
	}
	return string(b), nil
}

type secretKey struct {
	provider, ref string
}

// secretCache calls each provider at most once per reference during a
// single render. Template execution is sequential, so no locking.
type secretCache struct {
	ctx       context.Context
	providers map[string]SecretProvider
	values    map[secretKey]string
}

func (c *secretCache) funcs() template.FuncMap {
	fm := make(template.FuncMap, len(c.providers))
	for name := range c.providers {
		fm[name] = func(ref string) (string, error) { return c.lookup(name, ref) }
	}
	return fm
}

func (c *secretCache) lookup(provider, ref string) (string, error) {
	key := secretKey{provider: provider, ref: ref}
	if v, ok := c.values[key]; ok {
		return v, nil
	}
	v, err := c.providers[provider](c.ctx, ref)
	if err != nil {
		return "", fmt.Errorf("provider %q failed for ref %q: %w", provider, ref, err)
	}
	c.values[key] = v
	return v, nil
}
