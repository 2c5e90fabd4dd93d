// Package batch runs independent per-item operations concurrently. A failing
// item never cancels its siblings; every outcome is collected into a Report
// so the caller can log it and let the next tick retry what failed.
package batch

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultLimit is the default number of operations run at once.
const DefaultLimit = 8

// Func performs the operation for one key.
type Func func(ctx context.Context, key string) error

// Report holds the outcome of a batch run.
type Report struct {
	Succeeded []string
	Failed    map[string]error
	Duration  time.Duration
}

// OK reports whether every operation succeeded.
func (r *Report) OK() bool {
	return len(r.Failed) == 0
}

// Total returns the number of operations the report covers.
func (r *Report) Total() int {
	return len(r.Succeeded) + len(r.Failed)
}

// FailedKeys returns the failed keys in sorted order.
func (r *Report) FailedKeys() []string {
	keys := make([]string, 0, len(r.Failed))
	for k := range r.Failed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Run calls fn once per key with at most limit calls in flight.
//
// Operations that have not started when ctx is cancelled are recorded as
// failed with the context error and never called. Duplicate keys are run once.
func Run(ctx context.Context, keys []string, limit int, fn Func) *Report {
	start := time.Now()
	if limit <= 0 {
		limit = DefaultLimit
	}

	report := &Report{Failed: make(map[string]error)}
	var mu sync.Mutex
	record := func(key string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			report.Failed[key] = err
			return
		}
		report.Succeeded = append(report.Succeeded, key)
	}

	// The group has no context of its own: a failed item must not cancel the rest.
	var g errgroup.Group
	g.SetLimit(limit)

	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				record(key, err)
				return nil
			}
			record(key, fn(ctx, key))
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(report.Succeeded)
	report.Duration = time.Since(start)
	return report
}
