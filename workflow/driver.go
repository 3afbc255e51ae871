package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskreactor/orchestrator/domain/ledger"
	"github.com/taskreactor/orchestrator/domain/run"
	"github.com/taskreactor/orchestrator/internal/queue"
	"github.com/taskreactor/orchestrator/internal/telemetry"
	"github.com/taskreactor/orchestrator/runfactory"
)

// ProgressStream is where the driver publishes a progress event on every
// node transition (spec §4.5: "publishes progress on every transition for
// observability").
const ProgressStream = "workflow.run.progress"

// ErrRevoked is returned by Execute when the Run was cancelled mid-flight
// via a revoke signal.
var ErrRevoked = errors.New("workflow: run revoked")

// ErrSuspended is returned by Execute (and reported, not treated as a
// failure by callers) when the Run has suspended at the validation node.
var ErrSuspended = errors.New("workflow: run suspended at validation")

// Driver runs a single Run through the fixed node sequence. It is the
// engine-agnostic core: engine/inmem calls Execute directly in a goroutine,
// engine/temporal calls Execute from one Temporal activity and Resume from
// another, each covering the whole node sequence it runs.
type Driver struct {
	runs   run.Store
	ledger ledger.Store
	queue  queue.Queue

	runners map[Node]NodeRunner
	retries map[Node]RetryPolicy

	logger  telemetry.Logger
	metrics telemetry.Metrics
	now     func() time.Time

	mu      sync.Mutex
	cancels map[string]context.CancelFunc // workerID -> cancel
}

// Options configures a Driver.
type Options struct {
	Runs      run.Store
	Ledger    ledger.Store
	Queue     queue.Queue
	Telemetry telemetry.Telemetry
	Now       func() time.Time

	// Runners maps each non-validation node to its NodeRunner. Validation is
	// never looked up here; it is handled internally as a suspension point.
	Runners map[Node]NodeRunner
	// Retries overrides the default RetryPolicy (1 attempt, no backoff) per
	// node. Spec default: test gets MaxAttempts = 1 + MAX_TEST_RETRIES.
	Retries map[Node]RetryPolicy
}

// New builds a Driver from opts.
func New(opts Options) *Driver {
	tel := opts.Telemetry
	if tel.Logger == nil {
		tel = telemetry.NewNoop()
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Driver{
		runs:    opts.Runs,
		ledger:  opts.Ledger,
		queue:   opts.Queue,
		runners: opts.Runners,
		retries: opts.Retries,
		logger:  tel.Logger,
		metrics: tel.Metrics,
		now:     now,
		cancels: make(map[string]context.CancelFunc),
	}
}

// WatchRevocations subscribes to the revoke stream published by the run
// factory (spec §4.4/§4.5: cancelling a Task's prior Run revokes its
// workers, and the driver is the thing that must stop running steps for
// them) and cancels any in-flight Execute call registered under the
// revoked worker id. It runs until ctx is cancelled.
func (d *Driver) WatchRevocations(ctx context.Context) error {
	msgs, ack, err := d.queue.Subscribe(ctx, runfactory.RevokeStream, "workflow-driver")
	if err != nil {
		return fmt.Errorf("workflow: subscribe to revoke stream: %w", err)
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var payload struct {
					WorkerID string `json:"worker_id"`
				}
				if err := json.Unmarshal(msg.Payload, &payload); err == nil {
					d.cancelWorker(payload.WorkerID)
				}
				_ = ack(ctx, msg)
			}
		}
	}()
	return nil
}

func (d *Driver) registerCancel(workerID string, cancel context.CancelFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancels[workerID] = cancel
}

func (d *Driver) unregisterCancel(workerID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.cancels, workerID)
}

func (d *Driver) cancelWorker(workerID string) {
	d.mu.Lock()
	cancel, ok := d.cancels[workerID]
	d.mu.Unlock()
	if ok {
		cancel()
	}
}

// Execute drives runID through the node sequence starting wherever its
// persisted Steps leave off, until it completes, fails, is revoked, or
// suspends at validation. It is safe to call again after a crash (to redo
// an interrupted step). It must not be called on a Run already suspended
// at validation — use Resume for that (spec §4.6: the Coordinator, not the
// driver, owns the decision to leave validation).
func (d *Driver) Execute(ctx context.Context, runID string) error {
	r, err := d.runs.LoadRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("workflow: load run %s: %w", runID, err)
	}
	if r.Status.IsTerminal() {
		return nil
	}

	steps, err := d.runs.StepsForRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("workflow: load steps for run %s: %w", runID, err)
	}
	startIdx, resumeAttempt := resumePoint(steps)
	return d.runFrom(ctx, runID, r, startIdx, resumeAttempt)
}

// Resume continues a Run that suspended at validation, picking up at merge
// (spec §4.6: APPROVE resumes the Run at merge). Callers must have already
// resolved the ValidationRequest; Resume does not itself check it.
func (d *Driver) Resume(ctx context.Context, runID string) error {
	r, err := d.runs.LoadRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("workflow: load run %s: %w", runID, err)
	}
	if r.Status != run.StatusValidationPending {
		return fmt.Errorf("workflow: run %s is not suspended at validation (status %s)", runID, r.Status)
	}
	return d.runFrom(ctx, runID, r, IndexOf(NodeMerge), 1)
}

func (d *Driver) runFrom(ctx context.Context, runID string, r run.Run, startIdx, resumeAttempt int) error {
	workerID := uuid.NewString()
	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	d.registerCancel(workerID, cancel)
	defer d.unregisterCancel(workerID)
	if err := d.runs.RegisterWorker(ctx, runID, workerID); err != nil {
		return fmt.Errorf("workflow: register worker for run %s: %w", runID, err)
	}

	nodes := Nodes()
	for idx := startIdx; idx < len(nodes); idx++ {
		if execCtx.Err() != nil {
			return d.revoke(ctx, runID, nodes, idx)
		}

		node := nodes[idx]
		if node == NodeValidation {
			if _, err := d.runs.UpdateRunStatus(ctx, runID, run.StatusValidationPending); err != nil {
				return fmt.Errorf("workflow: suspend run %s at validation: %w", runID, err)
			}
			d.publishProgress(ctx, runID, idx, "suspended")
			return ErrSuspended
		}

		attempt := 1
		if idx == startIdx {
			attempt = resumeAttempt
		}
		if err := d.runStep(execCtx, runID, r.TaskID, node, idx, r, attempt); err != nil {
			if errors.Is(execCtx.Err(), context.Canceled) {
				return d.revoke(ctx, runID, nodes, idx)
			}
			if _, uerr := d.runs.UpdateRunStatus(ctx, runID, run.StatusFailed); uerr != nil {
				d.logger.Error(ctx, "workflow: failed to mark run failed", "run_id", runID, "error", uerr)
			}
			d.publishProgress(ctx, runID, idx, "failed")
			return fmt.Errorf("workflow: node %s failed for run %s: %w", node, runID, err)
		}
		if idx == 0 {
			if _, err := d.runs.UpdateRunStatus(ctx, runID, run.StatusRunning); err != nil && !errors.Is(err, run.ErrTerminal) {
				return fmt.Errorf("workflow: mark run %s running: %w", runID, err)
			}
		}
		d.publishProgress(ctx, runID, idx, "completed")
	}

	if _, err := d.runs.UpdateRunStatus(ctx, runID, run.StatusCompleted); err != nil {
		return fmt.Errorf("workflow: mark run %s completed: %w", runID, err)
	}
	return nil
}

// resumePoint inspects the persisted Steps of a Run and returns the node
// index to resume at and the attempt number to continue from. A step still
// `running` (the driver crashed or was revoked mid-node) is redone in
// place rather than skipped.
func resumePoint(steps []run.Step) (idx int, attempt int) {
	if len(steps) == 0 {
		return 0, 1
	}
	last := steps[len(steps)-1]
	if last.Status == run.StepRunning || last.Status == run.StepFailed {
		return last.StepOrder, last.RetryCount + 1
	}
	return last.StepOrder + 1, 1
}

func (d *Driver) revoke(ctx context.Context, runID string, nodes []Node, idx int) error {
	steps, err := d.runs.StepsForRun(ctx, runID)
	if err == nil && len(steps) > 0 {
		last := steps[len(steps)-1]
		if last.Status == run.StepRunning {
			now := d.now()
			last.Status = run.StepFailed
			last.CompletedAt = &now
			last.ErrorDetails = "revoked"
			_ = d.runs.UpdateStep(ctx, last)
		}
	}
	if _, err := d.runs.UpdateRunStatus(ctx, runID, run.StatusCancelled); err != nil && !errors.Is(err, run.ErrTerminal) {
		d.logger.Error(ctx, "workflow: failed to mark revoked run cancelled", "run_id", runID, "error", err)
	}
	d.publishProgress(ctx, runID, idx, "revoked")
	return ErrRevoked
}

// runStep executes node at stepOrder idx, retrying per its configured
// RetryPolicy, persisting the Step throughout, and forwarding any
// AIUsageRecords to the Ledger (spec §4.5/§4.7).
func (d *Driver) runStep(ctx context.Context, runID string, taskID int64, node Node, idx int, r run.Run, startAttempt int) error {
	runner, ok := d.runners[node]
	if !ok {
		return fmt.Errorf("workflow: no NodeRunner registered for node %q", node)
	}
	policy := d.retries[node]
	maxAttempts := policy.maxAttempts()

	start := d.now()
	step := run.Step{
		StepID:    uuid.NewString(),
		RunID:     runID,
		NodeName:  string(node),
		StepOrder: idx,
		Status:    run.StepRunning,
		StartedAt: &start,
	}
	if startAttempt <= 1 {
		if err := d.runs.AppendStep(ctx, step); err != nil {
			return fmt.Errorf("append step: %w", err)
		}
	} else {
		step.RetryCount = startAttempt - 1
		if err := d.runs.UpdateStep(ctx, step); err != nil {
			return fmt.Errorf("update step for resumed attempt: %w", err)
		}
	}

	var lastErr error
	for attempt := startAttempt; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(policy.backoff(attempt)):
			}
		}

		rc := &runContext{
			ctx:                   ctx,
			runID:                 runID,
			taskID:                taskID,
			node:                  node,
			stepOrder:             idx,
			attempt:               attempt,
			rejectionInstructions: r.RejectionInstructions,
			isReactivation:        r.IsReactivation,
			reactivationCount:     r.ReactivationCount,
			now:                   d.now,
			logger:                d.logger,
			metrics:               d.metrics,
		}
		result := runner.RunNode(rc)

		for _, usage := range result.AIUsage {
			usage.RunID = runID
			usage.TaskID = taskID
			usage.StepID = step.StepID
			if err := d.ledger.Append(ctx, usage); err != nil {
				d.logger.Error(ctx, "workflow: failed to append ledger record", "run_id", runID, "error", err)
			}
		}

		if result.Err == nil {
			now := d.now()
			step.Status = run.StepCompleted
			step.CompletedAt = &now
			step.Duration = result.Duration
			step.RetryCount = attempt - 1
			step.OutputSnapshot = result.Output
			return d.runs.UpdateStep(ctx, step)
		}

		lastErr = result.Err
		step.RetryCount = attempt
		step.ErrorDetails = lastErr.Error()
		if err := d.runs.UpdateStep(ctx, step); err != nil {
			return fmt.Errorf("update step after failed attempt %d: %w", attempt, err)
		}
	}

	now := d.now()
	step.Status = run.StepFailed
	step.CompletedAt = &now
	if err := d.runs.UpdateStep(ctx, step); err != nil {
		return fmt.Errorf("update step as failed: %w", err)
	}
	return lastErr
}

func (d *Driver) publishProgress(ctx context.Context, runID string, stepOrder int, phase string) {
	if d.queue == nil {
		return
	}
	payload, err := json.Marshal(struct {
		RunID     string  `json:"run_id"`
		StepOrder int     `json:"step_order"`
		Progress  float64 `json:"progress"`
		Phase     string  `json:"phase"`
	}{RunID: runID, StepOrder: stepOrder, Progress: Progress(stepOrder), Phase: phase})
	if err != nil {
		return
	}
	if _, err := d.queue.Publish(ctx, ProgressStream, payload); err != nil {
		d.logger.Warn(ctx, "workflow: failed to publish progress", "run_id", runID, "error", err)
	}
	if d.metrics != nil {
		d.metrics.RecordGauge("workflow.run.progress", Progress(stepOrder), "run_id", runID)
	}
}
