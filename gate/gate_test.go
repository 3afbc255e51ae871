package gate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/taskreactor/orchestrator/domain/reactivation"
	reactivationinmem "github.com/taskreactor/orchestrator/domain/reactivation/inmem"
	"github.com/taskreactor/orchestrator/domain/task"
	taskinmem "github.com/taskreactor/orchestrator/domain/task/inmem"
)

func newTestGate(t *testing.T, now time.Time) (*Gate, *taskinmem.Store) {
	t.Helper()
	tasks := taskinmem.New()
	reactivations := reactivationinmem.New()
	g := New(Options{
		Tasks:         tasks,
		Reactivations: reactivations,
		Cooldowns:     CooldownLadder{Normal: time.Minute, Aggressive: 10 * time.Minute, Emergency: time.Hour},
		MaxFailed:     3,
		Now:           func() time.Time { return now },
	})
	return g, tasks
}

func mustCreateTask(t *testing.T, tasks *taskinmem.Store, status task.Status) task.Task {
	t.Helper()
	created, err := tasks.Create(context.Background(), task.Task{ExternalItemID: "item-1", InternalStatus: status})
	if err != nil {
		t.Fatal(err)
	}
	return created
}

func TestAdmit_RejectsNonTerminalTask(t *testing.T) {
	g, tasks := newTestGate(t, time.Now())
	tk := mustCreateTask(t, tasks, task.StatusProcessing)

	_, err := g.Admit(context.Background(), tk.TaskID, reactivation.TriggerUpdate, "please add X")
	var denied *Denied
	if !errors.As(err, &denied) || denied.Reason != ReasonNotTerminal {
		t.Fatalf("Admit() error = %v, want ReasonNotTerminal", err)
	}
}

func TestAdmit_RejectsDuringCooldown(t *testing.T) {
	now := time.Now()
	g, tasks := newTestGate(t, now)
	tk := mustCreateTask(t, tasks, task.StatusCompleted)
	until := now.Add(30 * time.Second)
	_, err := tasks.CompareAndSwap(context.Background(), tk.TaskID, func(cur task.Task) (task.Task, error) {
		cur.CooldownUntil = &until
		return cur, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = g.Admit(context.Background(), tk.TaskID, reactivation.TriggerUpdate, "please add X")
	var denied *Denied
	if !errors.As(err, &denied) || denied.Reason != ReasonCooldown {
		t.Fatalf("Admit() error = %v, want ReasonCooldown", err)
	}
	if denied.RemainingCooldown <= 0 {
		t.Fatalf("RemainingCooldown = %v, want positive", denied.RemainingCooldown)
	}
}

func TestAdmit_RejectsAtFailedAttemptsCap(t *testing.T) {
	g, tasks := newTestGate(t, time.Now())
	tk := mustCreateTask(t, tasks, task.StatusCompleted)
	_, err := tasks.CompareAndSwap(context.Background(), tk.TaskID, func(cur task.Task) (task.Task, error) {
		cur.FailedReactivationAttempts = 3
		return cur, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = g.Admit(context.Background(), tk.TaskID, reactivation.TriggerUpdate, "please add X")
	var denied *Denied
	if !errors.As(err, &denied) || denied.Reason != ReasonTooManyAttempts {
		t.Fatalf("Admit() error = %v, want ReasonTooManyAttempts", err)
	}
}

func TestAdmit_RejectsWhenAlreadyLocked(t *testing.T) {
	g, tasks := newTestGate(t, time.Now())
	tk := mustCreateTask(t, tasks, task.StatusCompleted)
	_, err := tasks.CompareAndSwap(context.Background(), tk.TaskID, func(cur task.Task) (task.Task, error) {
		cur.IsLocked = true
		cur.LockedBy = "someone-else"
		return cur, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = g.Admit(context.Background(), tk.TaskID, reactivation.TriggerUpdate, "please add X")
	var denied *Denied
	if !errors.As(err, &denied) || denied.Reason != ReasonAlreadyLocked {
		t.Fatalf("Admit() error = %v, want ReasonAlreadyLocked", err)
	}
}

func TestAdmit_ThenCommit_ResetsAttemptsAndSetsCooldown(t *testing.T) {
	now := time.Now()
	g, tasks := newTestGate(t, now)
	tk := mustCreateTask(t, tasks, task.StatusCompleted)

	attempt, err := g.Admit(context.Background(), tk.TaskID, reactivation.TriggerUpdate, "please add X")
	if err != nil {
		t.Fatalf("Admit() error = %v", err)
	}

	locked, err := tasks.Load(context.Background(), tk.TaskID)
	if err != nil {
		t.Fatal(err)
	}
	if !locked.IsLocked {
		t.Fatal("expected task to be locked after Admit")
	}

	if err := attempt.Commit(context.Background(), "run-1"); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	final, err := tasks.Load(context.Background(), tk.TaskID)
	if err != nil {
		t.Fatal(err)
	}
	if final.IsLocked {
		t.Fatal("expected lock released after Commit")
	}
	if final.LastRunID != "run-1" {
		t.Fatalf("LastRunID = %q, want run-1", final.LastRunID)
	}
	if final.CooldownUntil == nil || !final.CooldownUntil.Equal(now.Add(time.Minute)) {
		t.Fatalf("CooldownUntil = %v, want %v", final.CooldownUntil, now.Add(time.Minute))
	}
	if final.ReactivationCount != 1 {
		t.Fatalf("ReactivationCount = %d, want 1", final.ReactivationCount)
	}
}

func TestAdmit_ThenRollback_EscalatesCooldownAndIncrementsAttempts(t *testing.T) {
	now := time.Now()
	g, tasks := newTestGate(t, now)
	tk := mustCreateTask(t, tasks, task.StatusCompleted)

	attempt, err := g.Admit(context.Background(), tk.TaskID, reactivation.TriggerUpdate, "please add X")
	if err != nil {
		t.Fatalf("Admit() error = %v", err)
	}

	if err := attempt.Rollback(context.Background(), errors.New("run factory failed")); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}

	final, err := tasks.Load(context.Background(), tk.TaskID)
	if err != nil {
		t.Fatal(err)
	}
	if final.IsLocked {
		t.Fatal("expected lock released after Rollback")
	}
	if final.FailedReactivationAttempts != 1 {
		t.Fatalf("FailedReactivationAttempts = %d, want 1", final.FailedReactivationAttempts)
	}
	if final.CooldownUntil == nil || !final.CooldownUntil.Equal(now.Add(time.Minute)) {
		t.Fatalf("CooldownUntil = %v, want normal ladder rung", final.CooldownUntil)
	}
}

func TestAttempt_DoubleSettleFails(t *testing.T) {
	g, tasks := newTestGate(t, time.Now())
	tk := mustCreateTask(t, tasks, task.StatusCompleted)

	attempt, err := g.Admit(context.Background(), tk.TaskID, reactivation.TriggerUpdate, "please add X")
	if err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	if err := attempt.Commit(context.Background(), "run-1"); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if err := attempt.Commit(context.Background(), "run-2"); err == nil {
		t.Fatal("expected second Commit on an already-settled attempt to fail")
	}
}
