package telemetry

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"
)

// Outcome labels for upstream fetches.
const (
	FetchSuccess  = "success"
	FetchError    = "error"
	FetchCanceled = "canceled"
	Fetch4xx      = "4xx"
	Fetch5xx      = "5xx"
)

// InstrumentedTransport is an http.RoundTripper that records one upstream
// fetch per request, labelled with the upstream name and the caller's loop.
// A fetch that returns a response is recorded when its body is closed, so
// the byte count covers everything the caller read.
type InstrumentedTransport struct {
	next     http.RoundTripper
	upstream string
}

// NewInstrumentedTransport wraps next, or http.DefaultTransport when next is nil.
func NewInstrumentedTransport(next http.RoundTripper, upstream string) *InstrumentedTransport {
	if next == nil {
		next = http.DefaultTransport
	}
	return &InstrumentedTransport{next: next, upstream: upstream}
}

// RoundTrip implements http.RoundTripper.
func (t *InstrumentedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	f := &upstreamFetch{ctx: req.Context(), upstream: t.upstream, start: time.Now()}

	resp, err := t.next.RoundTrip(req)
	if err != nil {
		f.outcome = FetchError
		if f.ctx.Err() != nil {
			f.outcome = FetchCanceled
		}
		f.finish(0)
		return nil, err
	}

	f.outcome = statusOutcome(resp.StatusCode)
	resp.Body = &countingBody{rc: resp.Body, fetch: f}
	return resp, nil
}

func statusOutcome(code int) string {
	switch {
	case code >= http.StatusInternalServerError:
		return Fetch5xx
	case code >= http.StatusBadRequest:
		return Fetch4xx
	default:
		return FetchSuccess
	}
}

// upstreamFetch is one in-flight request; finish records it exactly once.
type upstreamFetch struct {
	ctx      context.Context
	upstream string
	start    time.Time
	outcome  string
	once     sync.Once
}

func (f *upstreamFetch) finish(n int64) {
	f.once.Do(func() {
		RecordUpstreamFetch(f.ctx, f.upstream, time.Since(f.start), n, f.outcome)
	})
}

type countingBody struct {
	rc    io.ReadCloser
	fetch *upstreamFetch
	n     int64
}

func (b *countingBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	b.n += int64(n)
	return n, err
}

func (b *countingBody) Close() error {
	b.fetch.finish(b.n)
	return b.rc.Close()
}
