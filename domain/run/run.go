// Package run defines the Run and Step entities: one attempt at executing
// the workflow for a Task, and the node executions within it.
package run

import (
	"context"
	"errors"
	"time"
)

// Status is the lifecycle state of a Run.
type Status string

const (
	StatusStarted            Status = "started"
	StatusRunning            Status = "running"
	StatusValidationPending  Status = "validation_pending"
	StatusCompleted          Status = "completed"
	StatusFailed             Status = "failed"
	StatusCancelled          Status = "cancelled"
)

// IsTerminal reports whether status accepts no further step writes (spec §3:
// "once status ∈ {completed, failed, cancelled} no further step writes are
// accepted").
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// StepStatus is the lifecycle state of a Step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// ErrNotFound is returned when no Run exists for the requested id.
var ErrNotFound = errors.New("run: not found")

// ErrTerminal is returned when a caller attempts to mutate a Run that has
// already reached a terminal status.
var ErrTerminal = errors.New("run: already terminal")

// Run is one attempt at executing the workflow for a Task. Runs are
// append-only with respect to identity: RunID is assigned once and never
// reused, and run_number strictly increases per task.
type Run struct {
	RunID      string
	TaskID     int64
	RunNumber  int
	Status     Status

	IsReactivation    bool
	ReactivationCount int
	ParentRunID       string

	StartedAt   time.Time
	CompletedAt *time.Time

	ActiveWorkerIDs []string
	LastWorkerID    string

	CurrentStepIndex int // persisted as given to CreateRun and not advanced afterwards; the resume position comes from StepsForRun

	RejectionInstructions string // carried forward when spawned by a reject-driven reactivation
	BaseBranch            string
}

// Step is one node execution within a Run.
type Step struct {
	StepID    string
	RunID     string
	NodeName  string
	StepOrder int
	Status    StepStatus

	StartedAt   *time.Time
	CompletedAt *time.Time
	Duration    time.Duration
	RetryCount  int

	InputSnapshot  []byte
	OutputSnapshot []byte
	ErrorDetails   string
}

// Store is the persistence capability for Run and Step.
type Store interface {
	// CreateRun inserts r, assigning RunNumber = max(existing for TaskID) + 1
	// within the same transaction that cancels any still-active Run of the
	// same Task (spec §4.4). Returns the persisted Run (with RunNumber set)
	// and the ActiveWorkerIDs the cancelled runs held (cleared on those
	// runs), so the caller can send a revoke signal to each.
	CreateRun(ctx context.Context, r Run) (Run, []string, error)

	// LoadRun returns the Run for runID, or ErrNotFound.
	LoadRun(ctx context.Context, runID string) (Run, error)

	// ActiveRunForTask returns the Run with status in
	// {started, running, validation_pending} for taskID, if any. Returns
	// ErrNotFound if there is none (spec §8 invariant 1: at most one such Run
	// per Task at any instant).
	ActiveRunForTask(ctx context.Context, taskID int64) (Run, error)

	// UpdateRunStatus transitions a Run's status, recording CompletedAt when
	// moving to a terminal status. Returns ErrTerminal if the Run is already
	// terminal.
	UpdateRunStatus(ctx context.Context, runID string, status Status) (Run, error)

	// AppendStep persists a Step for a Run. The in-memory store rejects a
	// step_order that would leave a gap in the node order and any write to a
	// terminal Run; the Postgres store relies on its (run_id, step_order)
	// unique index, which rejects a duplicate step_order but not a gap.
	// Neither store checks how many Steps of a Run are `running`.
	AppendStep(ctx context.Context, step Step) error

	// UpdateStep updates an existing Step's status/snapshots (used when a
	// running step completes or fails).
	UpdateStep(ctx context.Context, step Step) error

	// StepsForRun returns all Steps for a Run in step_order.
	StepsForRun(ctx context.Context, runID string) ([]Step, error)

	// RegisterWorker adds workerID to ActiveWorkerIDs and sets LastWorkerID.
	RegisterWorker(ctx context.Context, runID, workerID string) error

	// RevokeWorkers clears ActiveWorkerIDs for runID, returning the ids that
	// were cleared so the caller can send a revoke signal to each.
	RevokeWorkers(ctx context.Context, runID string) ([]string, error)
}
