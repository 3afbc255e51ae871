// Package inmem is a goroutine-per-run workflow.Engine: each Run executes
// on its own goroutine against the Driver directly, with no durability
// across process restarts. Grounded on the pack's in-memory engine
// adapter, narrowed to this orchestrator's fixed node sequence (no
// separate workflow/activity registration — the Driver already knows how
// to run a Node).
package inmem

import (
	"context"
	"fmt"
	"sync"

	"github.com/taskreactor/orchestrator/workflow"
)

// Engine drives Runs with in-process goroutines.
type Engine struct {
	driver *workflow.Driver

	mu      sync.Mutex
	handles map[string]*handle
}

// New constructs an Engine backed by driver.
func New(driver *workflow.Driver) *Engine {
	return &Engine{driver: driver, handles: make(map[string]*handle)}
}

// StartRun implements workflow.Engine.
func (e *Engine) StartRun(ctx context.Context, req workflow.StartRequest) (workflow.Handle, error) {
	return e.launch(req.RunID, func(runCtx context.Context) error {
		return e.driver.Execute(runCtx, req.RunID)
	})
}

// ResumeRun implements workflow.Engine.
func (e *Engine) ResumeRun(ctx context.Context, runID string) (workflow.Handle, error) {
	return e.launch(runID, func(runCtx context.Context) error {
		return e.driver.Resume(runCtx, runID)
	})
}

func (e *Engine) launch(runID string, run func(context.Context) error) (workflow.Handle, error) {
	runCtx, cancel := context.WithCancel(context.Background())
	h := &handle{cancel: cancel, done: make(chan struct{})}

	e.mu.Lock()
	e.handles[runID] = h
	e.mu.Unlock()

	go func() {
		defer close(h.done)
		h.err = run(runCtx)
	}()

	return h, nil
}

// handle implements workflow.Handle for a goroutine-driven Run.
type handle struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Wait implements workflow.Handle.
func (h *handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return fmt.Errorf("inmem: wait cancelled: %w", ctx.Err())
	}
}

// Cancel implements workflow.Handle. It cancels the context the Driver is
// executing this Run under, so the Driver stops and marks the Run cancelled
// as it does on revocation. It does not publish a revoke message on the
// queue; that is the run factory's responsibility when it supersedes a Run.
func (h *handle) Cancel(ctx context.Context) error {
	h.cancel()
	return nil
}
