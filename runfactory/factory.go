// Package runfactory implements the Run Factory (spec §4.4): atomically
// creates a new Run, cancels any still-active Run of the same Task,
// resolves the new Run's base branch, and enriches the Task's description
// with the triggering update.
package runfactory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/taskreactor/orchestrator/branch"
	"github.com/taskreactor/orchestrator/domain/run"
	"github.com/taskreactor/orchestrator/domain/task"
	"github.com/taskreactor/orchestrator/internal/queue"
	"github.com/taskreactor/orchestrator/internal/telemetry"
)

// RevokeStream is the queue stream a revoke signal for a cancelled Run's
// workers is published on; the worker pool subscribes here to learn it
// should abandon in-flight work (spec §4.4: "a revoke signal is sent to
// each worker id in active_worker_ids").
const RevokeStream = "workflow.worker.revoke"

// maxUpdateEntries bounds the Task description's "UPDATES" ring (spec §4.4:
// "cap total history to the last N entries (default 4)").
const maxUpdateEntries = 4

// Input is everything the factory needs to spawn a new Run.
type Input struct {
	TaskID                int64
	IsReactivation         bool
	TriggeringText         string // appended to the Task description; empty for a fresh (non-reactivation) run
	RejectionInstructions  string // carried forward from a REJECT decision, if any
	EventBranch            string // base_branch as supplied by the triggering ticket event, if any
	Priority               string
}

// Factory creates Runs.
type Factory struct {
	tasks    task.Store
	runs     run.Store
	branches *branch.Resolver
	queue    queue.Queue
	logger   telemetry.Logger
}

// Options configures a Factory.
type Options struct {
	Tasks     task.Store
	Runs      run.Store
	Branches  *branch.Resolver
	Queue     queue.Queue
	Telemetry telemetry.Telemetry
}

// New builds a Factory.
func New(opts Options) *Factory {
	tel := opts.Telemetry
	if tel.Logger == nil {
		tel = telemetry.NewNoop()
	}
	return &Factory{tasks: opts.Tasks, runs: opts.Runs, branches: opts.Branches, queue: opts.Queue, logger: tel.Logger}
}

// Create spawns a new Run for in.TaskID: it loads the Task, resolves the
// base branch, enriches the description, appends the new Run (cancelling
// any still-active prior Run of the same Task in the same store call), and
// sends a revoke signal for every worker the prior Run had active.
func (f *Factory) Create(ctx context.Context, in Input) (run.Run, error) {
	t, err := f.tasks.Load(ctx, in.TaskID)
	if err != nil {
		return run.Run{}, fmt.Errorf("runfactory: load task %d: %w", in.TaskID, err)
	}

	baseBranch := f.branches.Resolve(branch.Input{
		EventBranch:   in.EventBranch,
		RepositoryURL: t.RepositoryURL,
		Title:         t.Title,
		Description:   t.BaseDescription,
		Priority:      in.Priority,
	})

	if in.TriggeringText != "" {
		if err := f.enrichDescription(ctx, in.TaskID, in.TriggeringText); err != nil {
			f.logger.Warn(ctx, "runfactory: description enrichment failed, continuing", "task_id", in.TaskID, "error", err)
		}
	}

	reactivationCount := 0
	parentRunID := ""
	if in.IsReactivation {
		reactivationCount = t.ReactivationCount + 1
		parentRunID = t.LastRunID
	}

	newRun := run.Run{
		RunID:                 uuid.NewString(),
		TaskID:                in.TaskID,
		Status:                run.StatusStarted,
		IsReactivation:        in.IsReactivation,
		ReactivationCount:     reactivationCount,
		ParentRunID:           parentRunID,
		StartedAt:             time.Now().UTC(),
		RejectionInstructions: in.RejectionInstructions,
		BaseBranch:            baseBranch,
	}

	// CreateRun cancels any still-active prior Run of the same Task in the
	// same transaction and returns the worker ids that were active on it
	// (spec §4.4): the store has already cleared them from that Run, so the
	// only remaining duty here is to tell each worker to stop.
	created, revokedWorkerIDs, err := f.runs.CreateRun(ctx, newRun)
	if err != nil {
		return run.Run{}, fmt.Errorf("runfactory: create run for task %d: %w", in.TaskID, err)
	}

	for _, workerID := range revokedWorkerIDs {
		if err := f.publishRevoke(ctx, workerID); err != nil {
			f.logger.Error(ctx, "runfactory: failed to publish revoke signal", "worker_id", workerID, "error", err)
		}
	}

	f.logger.Info(ctx, "runfactory: created run", "task_id", in.TaskID, "run_id", created.RunID, "run_number", created.RunNumber, "base_branch", created.BaseBranch, "revoked_workers", len(revokedWorkerIDs))
	return created, nil
}

// publishRevoke tells workerID to abandon in-flight work, matching the
// original's revoke_workflow_tasks (terminate=True) adapted onto this
// module's queue capability instead of a Celery control channel.
func (f *Factory) publishRevoke(ctx context.Context, workerID string) error {
	payload := []byte(fmt.Sprintf(`{"worker_id":%q}`, workerID))
	_, err := f.queue.Publish(ctx, RevokeStream, payload)
	return err
}

// enrichDescription appends triggeringText to the Task's UPDATES ring,
// refusing to persist a result shorter than the current description (spec
// §4.4: "if the new description is strictly shorter than the existing one,
// do not overwrite").
func (f *Factory) enrichDescription(ctx context.Context, taskID int64, triggeringText string) error {
	_, err := f.tasks.CompareAndSwap(ctx, taskID, func(current task.Task) (task.Task, error) {
		before := len(current.Description())
		next := current.WithAppendedUpdate(task.UpdateEntry{At: time.Now().UTC(), Text: triggeringText}, maxUpdateEntries)
		if len(next.Description()) < before {
			return current, nil
		}
		return next, nil
	})
	return err
}
