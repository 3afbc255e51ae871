// Package task defines the Task entity: the long-lived intent derived from a
// ticket, and the Store capability used to load and mutate it.
//
// Task is the single source of truth for is_locked, cooldown_until, and
// internal_status (spec §5, "Shared-resource policy"). All mutations that
// touch those three fields go through CompareAndSwap so callers never read
// state, decide, and write across two round trips.
package task

import (
	"context"
	"errors"
	"time"
)

// Status is the lifecycle state of a Task.
type Status string

const (
	StatusPending      Status = "pending"
	StatusProcessing   Status = "processing"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusQualityCheck Status = "quality_check"
	StatusAbandoned    Status = "abandoned"
)

// ErrNotFound is returned by Store.Load when no Task exists for the given id.
var ErrNotFound = errors.New("task: not found")

// ErrCASConflict is returned by Store.CompareAndSwap when the Task's state
// no longer matches the expectations baked into the mutation, i.e. another
// writer won the race.
var ErrCASConflict = errors.New("task: compare-and-swap conflict")

// UpdateEntry is one entry in the append-only "UPDATES" section of a Task's
// description (spec §4.4: "append the triggering update to the Task
// description under a timestamped UPDATES section; cap total history to the
// last N entries").
type UpdateEntry struct {
	At   time.Time
	Text string
}

// Task is the long-lived subject of work derived from an external ticket.
type Task struct {
	TaskID         int64
	ExternalItemID string
	Title          string
	BaseDescription string // the description body excluding the UPDATES ring
	Updates        []UpdateEntry
	RepositoryURL  string
	BaseBranch     string // empty until resolved
	Priority       string

	InternalStatus Status
	IsLocked       bool
	LockedBy       string
	CooldownUntil  *time.Time

	ReactivationCount         int
	FailedReactivationAttempts int
	LastRunID                 string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Description renders the full description: the base body followed by a
// bounded "UPDATES" section, newest entry last, matching the original
// system's append-only log.
func (t Task) Description() string {
	if len(t.Updates) == 0 {
		return t.BaseDescription
	}
	out := t.BaseDescription + "\n\n--- UPDATES ---\n"
	for _, u := range t.Updates {
		out += u.At.UTC().Format(time.RFC3339) + ": " + u.Text + "\n"
	}
	return out
}

// WithAppendedUpdate returns a copy of t with entry appended to Updates,
// trimmed to the most recent maxEntries. Once maxEntries is reached the
// oldest entry is dropped, so the resulting description can be shorter than
// the current one; per spec §4.4 the caller must not persist it in that case
// (runfactory compares the two lengths before writing).
func (t Task) WithAppendedUpdate(entry UpdateEntry, maxEntries int) Task {
	updates := append(append([]UpdateEntry{}, t.Updates...), entry)
	if len(updates) > maxEntries {
		updates = updates[len(updates)-maxEntries:]
	}
	t.Updates = updates
	return t
}

// IsReactivatable reports whether the Task's internal_status permits a new
// reactivation run, per spec §4.3 step 1.
func (t Task) IsReactivatable() bool {
	switch t.InternalStatus {
	case StatusCompleted, StatusFailed, StatusQualityCheck:
		return true
	default:
		return false
	}
}

// Mutation is a pure function applied under CompareAndSwap: it receives the
// current Task and returns the desired next state, or an error to abort the
// transaction (e.g. a policy rejection discovered mid-transaction).
type Mutation func(current Task) (Task, error)

// Store is the persistence capability for Task. Implementations must make
// CompareAndSwap atomic with respect to concurrent callers for the same
// TaskID (spec §5: "transactional compare-and-set").
type Store interface {
	// Create inserts a new Task for externalItemID if one does not already
	// exist, returning the existing Task unchanged otherwise (idempotent
	// creation — spec §8: "Creating a Task from the same ticket twice yields
	// the same task_id").
	Create(ctx context.Context, t Task) (Task, error)

	// Load returns the Task for taskID, or ErrNotFound.
	Load(ctx context.Context, taskID int64) (Task, error)

	// LoadByExternalItemID returns the Task for an external ticket item id,
	// or ErrNotFound.
	LoadByExternalItemID(ctx context.Context, externalItemID string) (Task, error)

	// CompareAndSwap loads the current Task for taskID, applies mutate, and
	// persists the result in one transaction. Concurrent callers for the
	// same taskID are serialized (inmem by a mutex, pgstore by SELECT ... FOR
	// UPDATE), so mutate always sees the freshly loaded row; neither bundled
	// store returns ErrCASConflict. An error from mutate aborts the call and
	// is returned unchanged.
	CompareAndSwap(ctx context.Context, taskID int64, mutate Mutation) (Task, error)
}
