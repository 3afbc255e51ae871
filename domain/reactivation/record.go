// Package reactivation defines the ReactivationRecord entity: an append-only
// audit of one attempt to spawn a new Run for an already-terminal Task.
package reactivation

import (
	"context"
	"errors"
	"time"
)

// TriggerType classifies what caused a reactivation attempt.
type TriggerType string

const (
	TriggerUpdate    TriggerType = "update"
	TriggerManual    TriggerType = "manual"
	TriggerAutomatic TriggerType = "automatic"
)

// Status is the lifecycle state of a ReactivationRecord.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// ErrNotFound is returned when no ReactivationRecord exists for the given id.
var ErrNotFound = errors.New("reactivation: not found")

// Record is an append-only audit entry for one reactivation attempt. It is
// linked 1:1 to at most one Run (RunID is empty until the attempt succeeds
// far enough to create one).
type Record struct {
	ReactivationID string
	TaskID         int64
	TriggerType    TriggerType
	Status         Status
	Payload        string // the triggering text/update, opaque to this package
	ErrorMessage   string
	RunID          string
	CreatedAt      time.Time
	CompletedAt    *time.Time
}

// Store is the persistence capability for ReactivationRecord.
type Store interface {
	// Create inserts a new pending Record.
	Create(ctx context.Context, r Record) (Record, error)

	// Complete transitions a Record to completed, associating runID.
	Complete(ctx context.Context, reactivationID, runID string) (Record, error)

	// Fail transitions a Record to failed with errMessage.
	Fail(ctx context.Context, reactivationID, errMessage string) (Record, error)

	// ForTask returns all records for taskID, newest first.
	ForTask(ctx context.Context, taskID int64) ([]Record, error)
}
