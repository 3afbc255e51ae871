package workflow

import (
	"context"
	"math/rand"
	"time"

	"github.com/taskreactor/orchestrator/domain/ledger"
)

// StepResult is what a NodeRunner hands back after executing one node
// (spec §4.5: "returns StepResult{status, output, error, duration,
// ai_usage[]}").
type StepResult struct {
	Output   []byte
	Err      error
	Duration time.Duration
	AIUsage  []ledger.Record
}

// NodeRunner executes a single node as a black box (spec §1 scope
// statement: node internals — the actual coding agent, test runner, QA
// pass — are out of scope here). Implementations must be safe to retry:
// RunNode may be called more than once for the same RunContext.
type NodeRunner interface {
	RunNode(rc RunContext) StepResult
}

// NodeRunnerFunc adapts a plain function to a NodeRunner.
type NodeRunnerFunc func(rc RunContext) StepResult

// RunNode implements NodeRunner.
func (f NodeRunnerFunc) RunNode(rc RunContext) StepResult { return f(rc) }

// RetryPolicy controls per-node retry behaviour (spec §4.5: "default up to
// MAX_TEST_RETRIES for test; 0 for idempotent nodes; retries carry an
// exponential backoff with jitter").
type RetryPolicy struct {
	// MaxAttempts is the total number of tries, including the first; 1 means
	// no retry. Zero is treated as 1.
	MaxAttempts int
	// InitialInterval is the delay before the first retry.
	InitialInterval time.Duration
	// BackoffCoefficient multiplies the interval after each retry; values
	// below 1 are treated as 1 (constant backoff).
	BackoffCoefficient float64
}

func (p RetryPolicy) maxAttempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

// backoff returns the delay before attempt N (N ≥ 2), exponential with full
// jitter: a value uniformly distributed in [0, computed interval]. The
// teacher pack has no retry library of its own (the only candidate,
// golang.org/x/time/rate, paces a steady rate rather than spacing retries),
// so this is hand-rolled — see DESIGN.md.
func (p RetryPolicy) backoff(attempt int) time.Duration {
	initial := p.InitialInterval
	if initial <= 0 {
		initial = 500 * time.Millisecond
	}
	coefficient := p.BackoffCoefficient
	if coefficient < 1 {
		coefficient = 1
	}
	interval := float64(initial)
	for i := 1; i < attempt-1; i++ {
		interval *= coefficient
	}
	return time.Duration(rand.Int63n(int64(interval) + 1))
}

// Engine abstracts how a Run's node sequence is actually driven to
// completion: in-process goroutines for tests and local development, or a
// durable backend (Temporal) in production. Adapted from the pack's
// generic workflow-engine abstraction, narrowed to this orchestrator's one
// fixed node sequence instead of arbitrary named workflows/activities.
type Engine interface {
	// StartRun begins driving req.RunID's node sequence from the beginning
	// and returns a Handle to observe or cancel it.
	StartRun(ctx context.Context, req StartRequest) (Handle, error)

	// ResumeRun continues req.RunID past a suspended validation node (spec
	// §4.6: the Validation Coordinator resumes at merge, or tears the Run
	// down on reject/abandon without resuming here).
	ResumeRun(ctx context.Context, runID string) (Handle, error)
}

// StartRequest describes a Run to begin driving.
type StartRequest struct {
	RunID  string
	TaskID int64
}

// Handle lets a caller wait for or cancel a started/resumed Run execution.
type Handle interface {
	// Wait blocks until the Run reaches a terminal status or suspends at
	// validation, whichever happens first.
	Wait(ctx context.Context) error
	// Cancel requests revocation of the Run's in-flight worker.
	Cancel(ctx context.Context) error
}
