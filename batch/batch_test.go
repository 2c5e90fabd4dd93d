package batch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_CollectsFailuresWithoutShortCircuit(t *testing.T) {
	boom := errors.New("boom")
	var calls atomic.Int32

	report := Run(context.Background(), []string{"a", "b", "c", "d"}, 2, func(_ context.Context, key string) error {
		calls.Add(1)
		if key == "b" || key == "d" {
			return boom
		}
		return nil
	})

	require.EqualValues(t, 4, calls.Load(), "every key must run even after failures")
	assert.Equal(t, []string{"a", "c"}, report.Succeeded)
	assert.Equal(t, []string{"b", "d"}, report.FailedKeys())
	assert.ErrorIs(t, report.Failed["b"], boom)
	assert.False(t, report.OK())
	assert.Equal(t, 4, report.Total())
}

func TestRun_Empty(t *testing.T) {
	report := Run(context.Background(), nil, 0, func(context.Context, string) error {
		t.Fatal("should not be called")
		return nil
	})
	require.True(t, report.OK())
	require.Zero(t, report.Total())
}

func TestRun_RespectsLimit(t *testing.T) {
	var inFlight, peak atomic.Int32

	keys := []string{"1", "2", "3", "4", "5", "6", "7", "8"}
	report := Run(context.Background(), keys, 3, func(context.Context, string) error {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	})

	require.True(t, report.OK())
	require.LessOrEqual(t, peak.Load(), int32(3))
	require.Len(t, report.Succeeded, len(keys))
}

func TestRun_RunsConcurrently(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(3)

	// Each call blocks until all three have started, which only completes
	// when they run at the same time.
	report := Run(context.Background(), []string{"a", "b", "c"}, 3, func(ctx context.Context, _ string) error {
		wg.Done()
		waitCh := make(chan struct{})
		go func() { wg.Wait(); close(waitCh) }()
		select {
		case <-waitCh:
			return nil
		case <-time.After(2 * time.Second):
			return errors.New("not concurrent")
		}
	})

	require.True(t, report.OK(), "failed: %v", report.Failed)
}

func TestRun_CancelledContextSkipsPending(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32

	report := Run(ctx, []string{"a", "b", "c", "d"}, 1, func(context.Context, string) error {
		calls.Add(1)
		cancel()
		return nil
	})

	require.EqualValues(t, 1, calls.Load())
	require.Len(t, report.Succeeded, 1)
	require.Len(t, report.Failed, 3)
	for _, err := range report.Failed {
		require.ErrorIs(t, err, context.Canceled)
	}
}

func TestRun_DeduplicatesKeys(t *testing.T) {
	var calls atomic.Int32
	report := Run(context.Background(), []string{"a", "a", "b"}, 0, func(context.Context, string) error {
		calls.Add(1)
		return nil
	})
	require.EqualValues(t, 2, calls.Load())
	require.Equal(t, []string{"a", "b"}, report.Succeeded)
}
