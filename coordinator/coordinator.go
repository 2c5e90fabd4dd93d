// Package coordinator runs the long-lived tasks of the process under one
// cancellation signal.
//
// Every task is expected to run until its context is cancelled. A task that
// returns early, with or without an error, or panics, is fatal: all other
// tasks are cancelled and Run reports it. An explicit Shutdown, or
// cancellation of the context passed to Run, ends the run cleanly.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrTaskExited wraps the error returned by Run when a task ended while
	// the run was still live.
	ErrTaskExited = errors.New("task exited")

	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("coordinator already running")
)

// Task is a long-lived unit of work.
type Task func(ctx context.Context) error

type namedTask struct {
	name string
	run  Task
}

// Coordinator owns the process-wide cancellation signal.
type Coordinator struct {
	logger *slog.Logger

	mu      sync.Mutex
	tasks   []namedTask
	running bool

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
	doneOnce     sync.Once
	doneCh       chan struct{}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// New creates a Coordinator.
func New(opts ...Option) *Coordinator {
	c := &Coordinator{
		logger:     slog.Default(),
		shutdownCh: make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "coordinator")
	return c
}

// Add registers a task. Tasks added after Run has started are ignored.
func (c *Coordinator) Add(name string, task Task) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		c.logger.Warn("ignoring task added after start", "task", name)
		return
	}
	c.tasks = append(c.tasks, namedTask{name: name, run: task})
}

// Shutdown requests a clean stop. It is safe to call more than once and
// from any goroutine, including before Run.
func (c *Coordinator) Shutdown() {
	c.shutdownOnce.Do(func() {
		c.logger.Info("shutdown requested")
		close(c.shutdownCh)
	})
}

// Done is closed once the run is winding down, whatever the cause.
func (c *Coordinator) Done() <-chan struct{} {
	return c.doneCh
}

// Run starts every task and blocks until all have returned. It returns nil
// after Shutdown or cancellation of ctx, and an error wrapping ErrTaskExited
// when a task ended on its own.
func (c *Coordinator) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.running = true
	tasks := c.tasks
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case <-c.shutdownCh:
			cancel()
		case <-gctx.Done():
		}
		c.doneOnce.Do(func() { close(c.doneCh) })
		return nil
	})

	for _, t := range tasks {
		g.Go(func() error {
			return c.runTask(gctx, t)
		})
	}

	c.logger.Debug("coordinator started", "tasks", len(tasks))
	err := g.Wait()
	if err != nil {
		c.logger.Error("coordinator stopped", "error", err)
		return err
	}
	c.logger.Debug("coordinator stopped")
	return nil
}

func (c *Coordinator) runTask(ctx context.Context, t namedTask) (err error) {
	logger := c.logger.With("task", t.name)

	defer func() {
		if p := recover(); p != nil {
			logger.Error("task panicked", "panic", p, "stack", string(debug.Stack()))
			err = fmt.Errorf("%w: %s panicked: %v", ErrTaskExited, t.name, p)
		}
	}()

	logger.Debug("task started")
	taskErr := t.run(ctx)

	if ctx.Err() != nil {
		logger.Debug("task stopped", "error", taskErr)
		return nil
	}

	if taskErr == nil {
		logger.Error("task returned before shutdown")
		return fmt.Errorf("%w: %s returned", ErrTaskExited, t.name)
	}
	logger.Error("task failed", "error", taskErr)
	return fmt.Errorf("%w: %s: %w", ErrTaskExited, t.name, taskErr)
}
