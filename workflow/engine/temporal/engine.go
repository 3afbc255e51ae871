// Package temporal is a Temporal-backed workflow.Engine: each Run is one
// Temporal workflow execution, and the entire node sequence up to (or past)
// validation is driven by one activity call into the Driver — the Driver's
// own per-node retry/backoff already satisfies spec §4.5, so Temporal's
// job here is durability of the suspend-at-validation wait (spec §4.6:
// "timers are persisted, not in-memory") and of the worker process itself,
// not per-node activity granularity. Adapted from the pack's Temporal
// engine adapter, scoped down to this orchestrator's one fixed workflow
// instead of arbitrary named workflows/activities.
package temporal

import (
	"context"
	"errors"
	"fmt"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	sdktemporal "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	wf "github.com/taskreactor/orchestrator/workflow"
)

// WorkflowName is the Temporal workflow type registered for every Run.
const WorkflowName = "OrchestratorRunWorkflow"

// ValidationResolvedSignal is sent by the Validation Coordinator once a
// pending ValidationRequest leaves Pending (spec §4.6).
const ValidationResolvedSignal = "validation-resolved"

const (
	executeActivityName = "ExecuteRunActivity"
	resumeActivityName  = "ResumeRunActivity"
)

// RunInput is the Temporal workflow input for one Run execution.
type RunInput struct {
	RunID  string
	TaskID int64
}

// ExecuteResult is the ExecuteRunActivity result: Suspended distinguishes
// "stopped at validation, waiting for a signal" from a genuine completion,
// since a workflow.ErrSuspended sentinel does not survive activity
// serialization.
type ExecuteResult struct {
	Suspended bool
}

// ValidationResolution is the signal payload the Coordinator sends to wake
// a Run suspended at validation: Proceed=true resumes at merge, false ends
// the workflow without resuming (the Run has already been torn down to
// cancelled/abandoned by the Coordinator via the Reactivation Gate).
type ValidationResolution struct {
	Proceed bool
}

// Options configures the Temporal engine adapter.
type Options struct {
	Client        client.Client
	TaskQueue     string
	WorkerOptions worker.Options
}

// Engine drives Runs as Temporal workflow executions.
type Engine struct {
	client    client.Client
	taskQueue string
	worker    worker.Worker
}

// New constructs an Engine bound to driver: every node sequence execution
// and resumption is funneled through driver.Execute/driver.Resume inside
// Temporal activities, so retries of the *activity itself* are disabled
// (the Driver already retries per node; a Temporal-level retry would redo
// already-completed nodes) while the workflow function's durability is
// what Temporal actually contributes here.
func New(opts Options, driver *wf.Driver) *Engine {
	w := worker.New(opts.Client, opts.TaskQueue, opts.WorkerOptions)
	w.RegisterWorkflowWithOptions(runWorkflow, workflow.RegisterOptions{Name: WorkflowName})
	w.RegisterActivityWithOptions(newExecuteActivity(driver), activity.RegisterOptions{Name: executeActivityName})
	w.RegisterActivityWithOptions(newResumeActivity(driver), activity.RegisterOptions{Name: resumeActivityName})
	return &Engine{client: opts.Client, taskQueue: opts.TaskQueue, worker: w}
}

// Worker returns the underlying Temporal worker so callers can Run/Stop it
// alongside the rest of the process's background workers.
func (e *Engine) Worker() worker.Worker { return e.worker }

// StartRun implements workflow.Engine.
func (e *Engine) StartRun(ctx context.Context, req wf.StartRequest) (wf.Handle, error) {
	run, err := e.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        "run-" + req.RunID,
		TaskQueue: e.taskQueue,
	}, runWorkflow, RunInput{RunID: req.RunID, TaskID: req.TaskID})
	if err != nil {
		return nil, fmt.Errorf("temporal: start workflow for run %s: %w", req.RunID, err)
	}
	return &handle{client: e.client, run: run}, nil
}

// ResumeRun implements workflow.Engine. Resumption of a Temporal-backed Run
// happens by sending ValidationResolvedSignal with Proceed=true to the
// already-running execution, not by starting a new workflow execution, so
// this returns a Handle bound to that execution.
func (e *Engine) ResumeRun(ctx context.Context, runID string) (wf.Handle, error) {
	if err := e.client.SignalWorkflow(ctx, "run-"+runID, "", ValidationResolvedSignal, ValidationResolution{Proceed: true}); err != nil {
		return nil, fmt.Errorf("temporal: signal run %s to resume: %w", runID, err)
	}
	return &handle{client: e.client, run: e.client.GetWorkflow(ctx, "run-"+runID, "")}, nil
}

// AbandonSuspendedRun signals a Run suspended at validation to end without
// resuming, for the REJECT/ABANDON paths of spec §4.6 where the Run itself
// is torn down rather than continued.
func (e *Engine) AbandonSuspendedRun(ctx context.Context, runID string) error {
	return e.client.SignalWorkflow(ctx, "run-"+runID, "", ValidationResolvedSignal, ValidationResolution{Proceed: false})
}

// handle implements wf.Handle over a Temporal WorkflowRun.
type handle struct {
	client client.Client
	run    client.WorkflowRun
}

func (h *handle) Wait(ctx context.Context) error {
	return h.run.Get(ctx, nil)
}

func (h *handle) Cancel(ctx context.Context) error {
	return h.client.CancelWorkflow(ctx, h.run.GetID(), h.run.GetRunID())
}

// runWorkflow is the deterministic Temporal workflow function: it delegates
// the actual node execution to an activity (so it may perform I/O), then
// durably awaits either completion or a validation-resolved signal.
func runWorkflow(ctx workflow.Context, in RunInput) error {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 0, // unbounded: the Driver owns per-node timing
		RetryPolicy:         &sdktemporal.RetryPolicy{MaximumAttempts: 1},
	}
	actCtx := workflow.WithActivityOptions(ctx, ao)

	var result ExecuteResult
	if err := workflow.ExecuteActivity(actCtx, executeActivityName, in.RunID).Get(ctx, &result); err != nil {
		return fmt.Errorf("execute run activity: %w", err)
	}
	if !result.Suspended {
		return nil
	}

	signalCh := workflow.GetSignalChannel(ctx, ValidationResolvedSignal)
	var resolution ValidationResolution
	signalCh.Receive(ctx, &resolution)
	if !resolution.Proceed {
		return nil // Coordinator already tore the Run down (rejected/abandoned)
	}

	if err := workflow.ExecuteActivity(actCtx, resumeActivityName, in.RunID).Get(ctx, nil); err != nil {
		return fmt.Errorf("resume run activity: %w", err)
	}
	return nil
}

func newExecuteActivity(driver *wf.Driver) func(ctx context.Context, runID string) (ExecuteResult, error) {
	return func(ctx context.Context, runID string) (ExecuteResult, error) {
		err := driver.Execute(ctx, runID)
		if err == nil {
			return ExecuteResult{}, nil
		}
		if errors.Is(err, wf.ErrSuspended) {
			return ExecuteResult{Suspended: true}, nil
		}
		return ExecuteResult{}, err
	}
}

func newResumeActivity(driver *wf.Driver) func(ctx context.Context, runID string) error {
	return func(ctx context.Context, runID string) error {
		return driver.Resume(ctx, runID)
	}
}
