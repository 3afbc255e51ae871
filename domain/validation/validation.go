// Package validation defines the ValidationRequest entity: a pending human
// decision blocking a Run at the `validation` node.
package validation

import (
	"context"
	"errors"
	"time"
)

// Status is the lifecycle state of a ValidationRequest. Transitions from
// Pending are monotonic (spec §8 invariant 5): once a request leaves
// Pending it never returns to it.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusAbandoned Status = "abandoned"
	StatusTimedOut  Status = "timed_out"
)

// ErrNotFound is returned when no ValidationRequest exists for the given id.
var ErrNotFound = errors.New("validation: not found")

// ErrNotPending is returned when a caller attempts to transition a request
// that has already left the Pending status.
var ErrNotPending = errors.New("validation: not pending")

// Request is a pending (or resolved) human decision point following the QA
// node of a Run.
type Request struct {
	ValidationID          string
	RunID                 string
	TaskID                int64
	CreatedAt             time.Time
	ExpiresAt             time.Time
	Status                Status
	RejectionInstructions string
	AnalysisConfidence    float64
	TimeoutNotified       bool
	ClarificationAsked    bool // at most one clarification prompt per request, spec §4.6
}

// IsExpired reports whether now is at or past ExpiresAt (spec §8 boundary
// behaviour: "at exactly expires_at the request transitions to timed_out").
func (r Request) IsExpired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Store is the persistence capability for ValidationRequest.
type Store interface {
	// Create inserts a new pending Request. Implementations must enforce at
	// most one pending Request per RunID (spec §3 invariant).
	Create(ctx context.Context, r Request) (Request, error)

	// Load returns the Request for validationID, or ErrNotFound.
	Load(ctx context.Context, validationID string) (Request, error)

	// PendingForRun returns the pending Request for runID, or ErrNotFound if
	// there is none.
	PendingForRun(ctx context.Context, runID string) (Request, error)

	// Resolve transitions the Request's status away from Pending. Returns
	// ErrNotPending if it has already been resolved.
	Resolve(ctx context.Context, validationID string, status Status, rejectionInstructions string) (Request, error)

	// MarkClarificationAsked sets ClarificationAsked = true, idempotently.
	MarkClarificationAsked(ctx context.Context, validationID string) error

	// MarkTimeoutNotified sets TimeoutNotified = true, idempotently.
	MarkTimeoutNotified(ctx context.Context, validationID string) error

	// DuePending returns all Pending requests whose ExpiresAt is at or before
	// now, for the timeout sweep.
	DuePending(ctx context.Context, now time.Time) ([]Request, error)
}
