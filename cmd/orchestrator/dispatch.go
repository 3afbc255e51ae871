package main

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/taskreactor/orchestrator/domain/run"
	"github.com/taskreactor/orchestrator/domain/task"
	"github.com/taskreactor/orchestrator/external/ticket"
	"github.com/taskreactor/orchestrator/intent"
	"github.com/taskreactor/orchestrator/internal/queue"
	"github.com/taskreactor/orchestrator/internal/telemetry"
	"github.com/taskreactor/orchestrator/runfactory"
	"github.com/taskreactor/orchestrator/validationcoord"
	"github.com/taskreactor/orchestrator/webhook"
	"github.com/taskreactor/orchestrator/workflow"
)

// consumerGroup and progressGroup name the two independent consumer groups
// this process registers against the durable queue: one for inbound intake
// events, one watching the workflow driver's own progress stream for the
// "suspended" transition (spec §4.5/§4.6 — the driver has no direct callback
// into the Coordinator, so suspension is observed the same way any other
// external consumer would observe it).
const (
	consumerGroup = "orchestrator-workers"
	progressGroup = "orchestrator-validation-watch"
)

// dispatcher is the Event Router (spec §4.1/§4.4): it drains the intake
// queue and turns IntakeEvents into Task/Run lifecycle calls, and separately
// watches the workflow driver's progress stream to hand suspended Runs to
// the Validation Coordinator.
type dispatcher struct {
	tasks   task.Store
	runs    run.Store
	tickets ticket.Client
	factory *runfactory.Factory
	engine  workflow.Engine
	coord   *validationcoord.Coordinator
	logger  telemetry.Logger
}

// start subscribes to both streams and fans the intake stream out across
// workerCount goroutines, mirroring the Driver's own single-goroutine
// Subscribe loop for its revoke stream.
func (d *dispatcher) start(ctx context.Context, q queue.Queue, workerCount int) error {
	intakeMsgs, intakeAck, err := q.Subscribe(ctx, webhook.StreamName, consumerGroup)
	if err != nil {
		return err
	}
	progressMsgs, progressAck, err := q.Subscribe(ctx, workflow.ProgressStream, progressGroup)
	if err != nil {
		return err
	}

	if workerCount <= 0 {
		workerCount = 1
	}
	for i := 0; i < workerCount; i++ {
		go d.intakeWorker(ctx, intakeMsgs, intakeAck)
	}
	go d.progressWorker(ctx, progressMsgs, progressAck)
	return nil
}

func (d *dispatcher) intakeWorker(ctx context.Context, msgs <-chan queue.Message, ack func(context.Context, queue.Message) error) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-msgs:
			if !ok {
				return
			}
			var ev webhook.IntakeEvent
			if err := json.Unmarshal(m.Payload, &ev); err != nil {
				d.logger.Error(ctx, "dispatch: malformed intake event", "error", err.Error())
				d.mustAck(ctx, ack, m)
				continue
			}
			if err := d.handleIntake(ctx, ev); err != nil {
				d.logger.Error(ctx, "dispatch: handling intake event failed", "type", string(ev.Type), "item_id", ev.ItemID, "error", err.Error())
			}
			d.mustAck(ctx, ack, m)
		}
	}
}

func (d *dispatcher) progressWorker(ctx context.Context, msgs <-chan queue.Message, ack func(context.Context, queue.Message) error) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-msgs:
			if !ok {
				return
			}
			var evt struct {
				RunID string `json:"run_id"`
				Phase string `json:"phase"`
			}
			if err := json.Unmarshal(m.Payload, &evt); err != nil {
				d.logger.Error(ctx, "dispatch: malformed progress event", "error", err.Error())
				d.mustAck(ctx, ack, m)
				continue
			}
			if evt.Phase == "suspended" {
				if err := d.handleSuspended(ctx, evt.RunID); err != nil {
					d.logger.Error(ctx, "dispatch: handling suspended run failed", "run_id", evt.RunID, "error", err.Error())
				}
			}
			d.mustAck(ctx, ack, m)
		}
	}
}

func (d *dispatcher) mustAck(ctx context.Context, ack func(context.Context, queue.Message) error, m queue.Message) {
	if err := ack(ctx, m); err != nil {
		d.logger.Error(ctx, "dispatch: ack failed", "message_id", m.ID, "error", err.Error())
	}
}

func (d *dispatcher) handleIntake(ctx context.Context, ev webhook.IntakeEvent) error {
	switch ev.Type {
	case webhook.EventTaskCreate:
		return d.handleTaskCreate(ctx, ev)
	case webhook.EventItemUpdate:
		return d.handleComment(ctx, ev)
	default:
		// Status/column-value changes carry no actionable instruction of
		// their own; they exist in the wire format for the ticket board's
		// benefit, not this orchestrator's (spec §4.1 classifies them but
		// assigns them no further routing).
		return nil
	}
}

// handleTaskCreate materializes the Task for a newly created ticket item and
// spawns its first Run. A redelivered create event for an item that already
// has a Task is logged and ignored, so it spawns no second Run.
func (d *dispatcher) handleTaskCreate(ctx context.Context, ev webhook.IntakeEvent) error {
	if existing, err := d.tasks.LoadByExternalItemID(ctx, ev.ItemID); err == nil {
		d.logger.Info(ctx, "dispatch: task already exists, ignoring redelivered create", "task_id", existing.TaskID)
		return nil
	} else if !errors.Is(err, task.ErrNotFound) {
		return err
	}
	item, err := d.tickets.GetItemInfo(ctx, ev.ItemID)
	if err != nil {
		return err
	}
	t, err := d.tasks.Create(ctx, task.Task{
		ExternalItemID:  ev.ItemID,
		Title:           item.Name,
		BaseDescription: item.Description,
		RepositoryURL:   item.RepositoryURL,
		BaseBranch:      item.BaseBranch,
		InternalStatus:  task.StatusProcessing,
	})
	if err != nil {
		return err
	}

	r, err := d.factory.Create(ctx, runfactory.Input{TaskID: t.TaskID, EventBranch: item.BaseBranch})
	if err != nil {
		return err
	}
	if _, err := d.engine.StartRun(ctx, workflow.StartRequest{RunID: r.RunID, TaskID: t.TaskID}); err != nil {
		return err
	}
	d.logger.Info(ctx, "dispatch: run started", "task_id", t.TaskID, "run_id", r.RunID)
	return nil
}

// handleComment routes an item update's text to the currently active Run's
// suspended validation, if one exists. An update that arrives for a Task
// with no active Run (e.g. a stray comment after completion) is logged and
// dropped rather than treated as an error — there is nothing to validate.
func (d *dispatcher) handleComment(ctx context.Context, ev webhook.IntakeEvent) error {
	t, err := d.tasks.LoadByExternalItemID(ctx, ev.ItemID)
	if err != nil {
		if err == task.ErrNotFound {
			d.logger.Info(ctx, "dispatch: comment on unknown item, dropping", "item_id", ev.ItemID)
			return nil
		}
		return err
	}
	active, err := d.runs.ActiveRunForTask(ctx, t.TaskID)
	if err != nil {
		if err == run.ErrNotFound {
			d.logger.Info(ctx, "dispatch: comment on task with no active run, dropping", "task_id", t.TaskID)
			return nil
		}
		return err
	}

	item, err := d.tickets.GetItemInfo(ctx, ev.ItemID)
	if err != nil {
		return err
	}
	tc := intent.Context{
		TaskTitle:      t.Title,
		Urgent:         t.Priority == "urgent",
		RejectionCount: t.ReactivationCount,
	}
	return d.coord.OnComment(ctx, active.RunID, ev.Text, tc, item.CreatorEmail)
}

// handleSuspended looks up the Task and ticket creator behind a Run that the
// workflow driver just reported as suspended, and opens its ValidationRequest.
func (d *dispatcher) handleSuspended(ctx context.Context, runID string) error {
	r, err := d.runs.LoadRun(ctx, runID)
	if err != nil {
		return err
	}
	t, err := d.tasks.Load(ctx, r.TaskID)
	if err != nil {
		return err
	}
	item, err := d.tickets.GetItemInfo(ctx, t.ExternalItemID)
	if err != nil {
		return err
	}
	return d.coord.OnSuspended(ctx, runID, r.TaskID, item.CreatorEmail)
}
