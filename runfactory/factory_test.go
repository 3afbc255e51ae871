package runfactory

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/taskreactor/orchestrator/branch"
	"github.com/taskreactor/orchestrator/domain/run"
	runinmem "github.com/taskreactor/orchestrator/domain/run/inmem"
	"github.com/taskreactor/orchestrator/domain/task"
	taskinmem "github.com/taskreactor/orchestrator/domain/task/inmem"
	queueinmem "github.com/taskreactor/orchestrator/internal/queue/inmem"
)

func newTestFactory(t *testing.T) (*Factory, *taskinmem.Store, *runinmem.Store, *queueinmem.Queue) {
	t.Helper()
	tasks := taskinmem.New()
	runs := runinmem.New()
	q := queueinmem.New()
	f := New(Options{
		Tasks:    tasks,
		Runs:     runs,
		Branches: branch.NewResolver("main", nil, nil),
		Queue:    q,
	})
	return f, tasks, runs, q
}

func TestCreate_AssignsBaseBranchFromTaskTypeInference(t *testing.T) {
	f, tasks, _, _ := newTestFactory(t)
	created, err := tasks.Create(context.Background(), task.Task{
		ExternalItemID: "item-1", Title: "Fix bug in login", InternalStatus: task.StatusCompleted,
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := f.Create(context.Background(), Input{TaskID: created.TaskID})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if got.BaseBranch != "main" {
		t.Fatalf("BaseBranch = %q, want main (bug-type inference)", got.BaseBranch)
	}
	if got.RunNumber != 1 {
		t.Fatalf("RunNumber = %d, want 1", got.RunNumber)
	}
}

func TestCreate_ReactivationCarriesParentAndCount(t *testing.T) {
	f, tasks, _, _ := newTestFactory(t)
	created, err := tasks.Create(context.Background(), task.Task{
		ExternalItemID: "item-2", Title: "Add feature", InternalStatus: task.StatusCompleted,
	})
	if err != nil {
		t.Fatal(err)
	}
	_, err = tasks.CompareAndSwap(context.Background(), created.TaskID, func(cur task.Task) (task.Task, error) {
		cur.LastRunID = "previous-run"
		cur.ReactivationCount = 2
		return cur, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := f.Create(context.Background(), Input{TaskID: created.TaskID, IsReactivation: true, TriggeringText: "please add X"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !got.IsReactivation {
		t.Fatal("expected IsReactivation = true")
	}
	if got.ParentRunID != "previous-run" {
		t.Fatalf("ParentRunID = %q, want previous-run", got.ParentRunID)
	}
	if got.ReactivationCount != 3 {
		t.Fatalf("ReactivationCount = %d, want 3", got.ReactivationCount)
	}
}

func TestCreate_EnrichesDescriptionWithTriggeringText(t *testing.T) {
	f, tasks, _, _ := newTestFactory(t)
	created, err := tasks.Create(context.Background(), task.Task{
		ExternalItemID: "item-3", BaseDescription: "original body", InternalStatus: task.StatusCompleted,
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = f.Create(context.Background(), Input{TaskID: created.TaskID, TriggeringText: "add logging please"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	reloaded, err := tasks.Load(context.Background(), created.TaskID)
	if err != nil {
		t.Fatal(err)
	}
	if !contains(reloaded.Description(), "add logging please") {
		t.Fatalf("Description() = %q, want it to contain the triggering text", reloaded.Description())
	}
}

func TestCreate_CancelsPriorActiveRunAndRevokesWorkers(t *testing.T) {
	f, tasks, runs, q := newTestFactory(t)
	created, err := tasks.Create(context.Background(), task.Task{
		ExternalItemID: "item-4", InternalStatus: task.StatusCompleted,
	})
	if err != nil {
		t.Fatal(err)
	}

	first, err := f.Create(context.Background(), Input{TaskID: created.TaskID})
	if err != nil {
		t.Fatal(err)
	}
	if err := runs.RegisterWorker(context.Background(), first.RunID, "worker-1"); err != nil {
		t.Fatal(err)
	}

	if _, err := f.Create(context.Background(), Input{TaskID: created.TaskID, IsReactivation: true}); err != nil {
		t.Fatalf("second Create() error = %v", err)
	}

	cancelled, err := runs.LoadRun(context.Background(), first.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if cancelled.Status != run.StatusCancelled {
		t.Fatalf("prior run status = %q, want cancelled", cancelled.Status)
	}

	msgCh, ack, err := q.Subscribe(context.Background(), RevokeStream, "test")
	if err != nil {
		t.Fatal(err)
	}
	select {
	case msg := <-msgCh:
		var payload struct {
			WorkerID string `json:"worker_id"`
		}
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			t.Fatal(err)
		}
		if payload.WorkerID != "worker-1" {
			t.Fatalf("revoked worker = %q, want worker-1", payload.WorkerID)
		}
		_ = ack(context.Background(), msg)
	default:
		t.Fatal("expected a revoke message to have been published")
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (func() bool {
		for i := 0; i+len(needle) <= len(haystack); i++ {
			if haystack[i:i+len(needle)] == needle {
				return true
			}
		}
		return false
	})()
}
