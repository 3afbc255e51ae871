// Package gate implements the Reactivation Gate: the exclusive gatekeeper
// that decides whether an incoming instruction may spawn a new Run against
// an already-processed Task (spec §4.3). Ordering of checks is mandatory
// and enforced by Admit.
package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/taskreactor/orchestrator/domain/reactivation"
	"github.com/taskreactor/orchestrator/domain/task"
	"github.com/taskreactor/orchestrator/internal/telemetry"
)

// Reason identifies why Admit rejected a reactivation attempt.
type Reason string

const (
	ReasonNotTerminal     Reason = "not_terminal"
	ReasonCooldown        Reason = "cooldown_active"
	ReasonTooManyAttempts Reason = "too_many_attempts"
	ReasonAlreadyLocked   Reason = "already_locked"
)

// Denied is returned by Admit when the gate rejects the attempt. It is not a
// failure of the gate itself — it is the gate working as designed — so
// callers should inspect Reason rather than treat this as an unexpected
// error.
type Denied struct {
	Reason            Reason
	RemainingCooldown time.Duration
}

func (d *Denied) Error() string {
	if d.Reason == ReasonCooldown {
		return fmt.Sprintf("gate: denied (%s, %s remaining)", d.Reason, d.RemainingCooldown)
	}
	return fmt.Sprintf("gate: denied (%s)", d.Reason)
}

// CooldownLadder holds the configured escalation durations applied on
// repeated reactivation failure (spec §4.3: "default ladder on repeated
// failure: normal → aggressive → emergency").
type CooldownLadder struct {
	Normal     time.Duration
	Aggressive time.Duration
	Emergency  time.Duration
}

func (l CooldownLadder) forAttempt(failedAttempts int) time.Duration {
	switch {
	case failedAttempts >= 2:
		return l.Emergency
	case failedAttempts == 1:
		return l.Aggressive
	default:
		return l.Normal
	}
}

// Options configures a Gate.
type Options struct {
	Tasks          task.Store
	Reactivations  reactivation.Store
	Cooldowns      CooldownLadder
	MaxFailed      int // default 3, per spec §4.3 step 3
	Telemetry      telemetry.Telemetry
	Now            func() time.Time // overridable for tests; defaults to time.Now
}

// Gate is the exclusive gatekeeper for Task reactivation.
type Gate struct {
	tasks         task.Store
	reactivations reactivation.Store
	cooldowns     CooldownLadder
	maxFailed     int
	logger        telemetry.Logger
	metrics       telemetry.Metrics
	now           func() time.Time
}

// New builds a Gate from Options, applying spec defaults for zero values.
func New(opts Options) *Gate {
	if opts.MaxFailed == 0 {
		opts.MaxFailed = 3
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	tel := opts.Telemetry
	if tel.Logger == nil {
		tel = telemetry.NewNoop()
	}
	return &Gate{
		tasks:         opts.Tasks,
		reactivations: opts.Reactivations,
		cooldowns:     opts.Cooldowns,
		maxFailed:     opts.MaxFailed,
		logger:        tel.Logger,
		metrics:       tel.Metrics,
		now:           opts.Now,
	}
}

// Attempt is a ticket to an admitted reactivation: the caller holds the
// Task's lock and must call Commit or Rollback exactly once.
type Attempt struct {
	gate           *Gate
	taskID         int64
	lockID         string
	reactivationID string
	settled        bool
}

// lockIDFromContext is overridden in tests; production callers get a
// time-derived id, matching the original's f"reactivation_{task_id}_{ts}".
var lockIDFromContext = func(taskID int64, now time.Time) string {
	return fmt.Sprintf("reactivation_%d_%d", taskID, now.UnixNano())
}

// Admit runs the five-step check in spec §4.3's mandatory order and, on
// success, returns an Attempt the caller must settle with Commit or
// Rollback. triggerType documents why the attempt was made (spec's
// ReactivationRecord.TriggerType) and payload is the raw triggering
// text/update, recorded verbatim for audit.
func (g *Gate) Admit(ctx context.Context, taskID int64, triggerType reactivation.TriggerType, payload string) (*Attempt, error) {
	t, err := g.tasks.Load(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("gate: load task %d: %w", taskID, err)
	}

	// Step 1: state check.
	if !t.IsReactivatable() {
		return nil, &Denied{Reason: ReasonNotTerminal}
	}

	// Step 2: cooldown check.
	now := g.now()
	if t.CooldownUntil != nil && t.CooldownUntil.After(now) {
		return nil, &Denied{Reason: ReasonCooldown, RemainingCooldown: t.CooldownUntil.Sub(now)}
	}

	// Step 3: failed-attempts cap.
	if t.FailedReactivationAttempts >= g.maxFailed {
		return nil, &Denied{Reason: ReasonTooManyAttempts}
	}

	// Step 4: lock acquisition, exclusive compare-and-set on is_locked.
	lockID := lockIDFromContext(taskID, now)
	_, err = g.tasks.CompareAndSwap(ctx, taskID, func(current task.Task) (task.Task, error) {
		if current.IsLocked {
			return task.Task{}, &Denied{Reason: ReasonAlreadyLocked}
		}
		current.IsLocked = true
		current.LockedBy = lockID
		return current, nil
	})
	if err != nil {
		var denied *Denied
		if errors.As(err, &denied) {
			return nil, denied
		}
		if errors.Is(err, task.ErrCASConflict) {
			return nil, &Denied{Reason: ReasonAlreadyLocked}
		}
		return nil, fmt.Errorf("gate: acquire lock for task %d: %w", taskID, err)
	}

	// Step 5: create the pending ReactivationRecord.
	rec, err := g.reactivations.Create(ctx, reactivation.Record{
		ReactivationID: uuid.NewString(),
		TaskID:         taskID,
		TriggerType:    triggerType,
		Status:         reactivation.StatusPending,
		Payload:        payload,
		CreatedAt:      now,
	})
	if err != nil {
		g.releaseLock(ctx, taskID, lockID)
		return nil, fmt.Errorf("gate: create reactivation record: %w", err)
	}

	g.logger.Info(ctx, "gate: admitted reactivation attempt", "task_id", taskID, "reactivation_id", rec.ReactivationID, "lock_id", lockID)
	return &Attempt{gate: g, taskID: taskID, lockID: lockID, reactivationID: rec.ReactivationID}, nil
}

// Commit finalizes a successful reactivation: the ReactivationRecord moves
// to completed (linked to runID), failed_reactivation_attempts resets to
// zero, cooldown is set to the normal duration, and the lock is released.
func (a *Attempt) Commit(ctx context.Context, runID string) error {
	if a.settled {
		return fmt.Errorf("gate: attempt for task %d already settled", a.taskID)
	}
	a.settled = true
	g := a.gate

	if _, err := g.reactivations.Complete(ctx, a.reactivationID, runID); err != nil {
		return fmt.Errorf("gate: complete reactivation record: %w", err)
	}

	cooldownUntil := g.now().Add(g.cooldowns.forAttempt(0))
	_, err := g.tasks.CompareAndSwap(ctx, a.taskID, func(current task.Task) (task.Task, error) {
		current.IsLocked = false
		current.LockedBy = ""
		current.FailedReactivationAttempts = 0
		current.CooldownUntil = &cooldownUntil
		current.LastRunID = runID
		current.ReactivationCount++
		return current, nil
	})
	if err != nil {
		return fmt.Errorf("gate: release lock and commit cooldown for task %d: %w", a.taskID, err)
	}
	g.logger.Info(ctx, "gate: committed reactivation", "task_id", a.taskID, "run_id", runID)
	if g.metrics != nil {
		g.metrics.IncCounter("gate.reactivation.committed", 1, "task_id", fmt.Sprint(a.taskID))
	}
	return nil
}

// Rollback aborts an admitted attempt that failed downstream (Run Factory
// error, etc.): the ReactivationRecord moves to failed,
// failed_reactivation_attempts increments, cooldown escalates per the
// configured ladder, and the lock is released.
func (a *Attempt) Rollback(ctx context.Context, cause error) error {
	if a.settled {
		return fmt.Errorf("gate: attempt for task %d already settled", a.taskID)
	}
	a.settled = true
	g := a.gate

	errMsg := ""
	if cause != nil {
		errMsg = cause.Error()
	}
	if _, err := g.reactivations.Fail(ctx, a.reactivationID, errMsg); err != nil {
		g.logger.Error(ctx, "gate: failed to mark reactivation record failed", "error", err)
	}

	_, err := g.tasks.CompareAndSwap(ctx, a.taskID, func(current task.Task) (task.Task, error) {
		current.IsLocked = false
		current.LockedBy = ""
		current.FailedReactivationAttempts++
		cooldownUntil := g.now().Add(g.cooldowns.forAttempt(current.FailedReactivationAttempts - 1))
		current.CooldownUntil = &cooldownUntil
		return current, nil
	})
	if err != nil {
		return fmt.Errorf("gate: release lock and escalate cooldown for task %d: %w", a.taskID, err)
	}
	g.logger.Warn(ctx, "gate: rolled back reactivation attempt", "task_id", a.taskID, "cause", cause)
	if g.metrics != nil {
		g.metrics.IncCounter("gate.reactivation.rolled_back", 1, "task_id", fmt.Sprint(a.taskID))
	}
	return nil
}

// releaseLock is a best-effort cleanup used when Admit fails after
// acquiring the lock but before returning an Attempt to the caller.
func (g *Gate) releaseLock(ctx context.Context, taskID int64, lockID string) {
	_, err := g.tasks.CompareAndSwap(ctx, taskID, func(current task.Task) (task.Task, error) {
		if current.LockedBy != lockID {
			return current, nil
		}
		current.IsLocked = false
		current.LockedBy = ""
		return current, nil
	})
	if err != nil {
		g.logger.Error(ctx, "gate: failed to release lock after admit error", "task_id", taskID, "error", err)
	}
}
