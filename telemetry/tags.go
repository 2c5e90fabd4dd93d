// Package telemetry provides metrics and request tagging for the background
// loops, the upstream clients and the side HTTP server.
package telemetry

import (
	"context"
	"net/http"
)

type contextKey string

const (
	requestTagsKey contextKey = "request_tags"
	// loopKey carries the name of the background loop issuing upstream calls.
	loopKey contextKey = "loop"
)

// Loop names.
const (
	LoopRefresh  = "refresh"
	LoopPromote  = "promote"
	LoopMaintain = "maintain"
)

// RequestTags holds mutable request metadata that handlers can set for logging.
type RequestTags struct {
	Endpoint  string
	RequestID string
}

// InjectTags creates a new request with an empty RequestTags in context.
// Call this in middleware before handlers run.
func InjectTags(r *http.Request) *http.Request {
	tags := &RequestTags{}
	return r.WithContext(context.WithValue(r.Context(), requestTagsKey, tags))
}

// GetTags retrieves the request tags from context.
// Returns nil if not in a request context with logging middleware.
func GetTags(r *http.Request) *RequestTags {
	if tags, ok := r.Context().Value(requestTagsKey).(*RequestTags); ok {
		return tags
	}
	return nil
}

// SetEndpoint sets the endpoint name for logging and metrics.
func SetEndpoint(r *http.Request, endpoint string) {
	if tags := GetTags(r); tags != nil {
		tags.Endpoint = endpoint
	}
}

// WithLoop returns a context carrying the loop name.
func WithLoop(ctx context.Context, loop string) context.Context {
	return context.WithValue(ctx, loopKey, loop)
}

// LoopFromContext returns the loop name stored by WithLoop, or "".
func LoopFromContext(ctx context.Context) string {
	if l, ok := ctx.Value(loopKey).(string); ok {
		return l
	}
	return ""
}
