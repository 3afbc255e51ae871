// Package validationcoord implements the Validation Coordinator (spec §4.6):
// it owns every ValidationRequest from creation through resolution, maps
// incoming ticket comments onto {approve, reject, abandon, clarification}
// via the intent Analyzer, drives the workflow Engine across the
// resulting fan-out, and sweeps expired requests to timed_out on a cron
// schedule instead of an in-process timer.
package validationcoord

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/taskreactor/orchestrator/domain/reactivation"
	"github.com/taskreactor/orchestrator/domain/run"
	"github.com/taskreactor/orchestrator/domain/task"
	"github.com/taskreactor/orchestrator/domain/validation"
	"github.com/taskreactor/orchestrator/external/messaging"
	"github.com/taskreactor/orchestrator/external/ticket"
	"github.com/taskreactor/orchestrator/gate"
	"github.com/taskreactor/orchestrator/intent"
	"github.com/taskreactor/orchestrator/internal/telemetry"
	"github.com/taskreactor/orchestrator/runfactory"
	"github.com/taskreactor/orchestrator/workflow"
)

// sweepSchedule matches the cron expression a Coordinator's background
// sweep runs on, "a robfig/cron job every minute, not an in-process timer"
// per spec §4.6.
const sweepSchedule = "@every 1m"

// minResolutionConfidence is the confidence floor spec §4.2.2 requires
// before an APPROVE or REJECT decision is acted on; anything below it is
// treated as needing clarification instead.
const minResolutionConfidence = 0.5

// Notifier maps a Task's creator to an outbound direct-message channel.
// Isolated behind an interface so the Coordinator's tests don't need a real
// messaging.Client for the (best-effort, failure-tolerant) DM path.
type Notifier interface {
	DirectMessage(ctx context.Context, email string, blocks []messaging.Block) error
}

// messagingNotifier adapts a messaging.Client to Notifier.
type messagingNotifier struct{ client messaging.Client }

func (n messagingNotifier) DirectMessage(ctx context.Context, email string, blocks []messaging.Block) error {
	userID, err := n.client.LookupUserByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("validationcoord: lookup user %q: %w", email, err)
	}
	channelID, err := n.client.OpenDirectChannel(ctx, userID)
	if err != nil {
		return fmt.Errorf("validationcoord: open direct channel for %q: %w", email, err)
	}
	return n.client.PostMessage(ctx, channelID, blocks)
}

// NewMessagingNotifier adapts a messaging.Client to Notifier.
func NewMessagingNotifier(client messaging.Client) Notifier { return messagingNotifier{client: client} }

// Options configures a Coordinator.
type Options struct {
	Validations validation.Store
	Runs        run.Store
	Tasks       task.Store

	Engine   workflow.Engine
	Gate     *gate.Gate
	Factory  *runfactory.Factory
	Analyzer *intent.Analyzer

	Tickets  ticket.Client
	Notifier Notifier

	// ValidationWindow is the initial ValidationRequest.ExpiresAt horizon,
	// spec §4.6's T ("defaults to 60 minutes") — config.ValidationTimeoutQuestion.
	ValidationWindow time.Duration
	// CommandTimeout bounds the Coordinator's own calls into the workflow
	// Engine to resume or tear down a suspended Run — config's "validation
	// ... (command)" deadline (spec line 238), a machine-to-machine budget,
	// not a human reply window. See DESIGN.md for why the two
	// VALIDATION_TIMEOUT_* knobs split this way.
	CommandTimeout         time.Duration
	MaxReactivationsPerRun int

	Telemetry telemetry.Telemetry
	Now       func() time.Time
}

// Coordinator is the Validation Coordinator.
type Coordinator struct {
	validations validation.Store
	runs        run.Store
	tasks       task.Store

	engine   workflow.Engine
	gate     *gate.Gate
	factory  *runfactory.Factory
	analyzer *intent.Analyzer

	tickets  ticket.Client
	notifier Notifier

	validationWindow       time.Duration
	commandTimeout         time.Duration
	maxReactivationsPerRun int

	logger  telemetry.Logger
	metrics telemetry.Metrics
	now     func() time.Time
}

// New builds a Coordinator from opts, applying spec defaults for zero
// values.
func New(opts Options) *Coordinator {
	if opts.ValidationWindow <= 0 {
		opts.ValidationWindow = 60 * time.Minute
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = 20 * time.Second
	}
	if opts.MaxReactivationsPerRun <= 0 {
		opts.MaxReactivationsPerRun = 3
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	tel := opts.Telemetry
	if tel.Logger == nil {
		tel = telemetry.NewNoop()
	}
	return &Coordinator{
		validations:            opts.Validations,
		runs:                   opts.Runs,
		tasks:                  opts.Tasks,
		engine:                 opts.Engine,
		gate:                   opts.Gate,
		factory:                opts.Factory,
		analyzer:               opts.Analyzer,
		tickets:                opts.Tickets,
		notifier:               opts.Notifier,
		validationWindow:       opts.ValidationWindow,
		commandTimeout:         opts.CommandTimeout,
		maxReactivationsPerRun: opts.MaxReactivationsPerRun,
		logger:                 tel.Logger,
		metrics:                tel.Metrics,
		now:                    opts.Now,
	}
}

// StartSweep registers the timeout sweep on a cron schedule and starts it,
// returning a stop function the caller must invoke on shutdown. Wiring the
// sweep through robfig/cron rather than a time.Ticker is deliberate (spec
// §4.6): the schedule is declarative and the same library already used
// elsewhere in the stack for periodic jobs.
func (c *Coordinator) StartSweep(ctx context.Context) (stop func(), err error) {
	sched := cron.New()
	if _, err := sched.AddFunc(sweepSchedule, func() { c.sweep(ctx) }); err != nil {
		return nil, fmt.Errorf("validationcoord: register sweep schedule: %w", err)
	}
	sched.Start()
	return func() { <-sched.Stop().Done() }, nil
}

// OnSuspended is called once a Run's Driver/Engine suspends it at the
// validation node (spec §4.6 "On entry"): it creates the ValidationRequest,
// flips the owning Task into quality_check (making it eligible for the
// Reactivation Gate should this validation end in REJECT), and posts the
// "awaiting validation" notifications.
func (c *Coordinator) OnSuspended(ctx context.Context, runID string, taskID int64, creatorEmail string) error {
	now := c.now()
	req, err := c.validations.Create(ctx, validation.Request{
		ValidationID: uuid.NewString(),
		RunID:        runID,
		TaskID:       taskID,
		CreatedAt:    now,
		ExpiresAt:    now.Add(c.validationWindow),
		Status:       validation.StatusPending,
	})
	if err != nil {
		return fmt.Errorf("validationcoord: create validation request for run %s: %w", runID, err)
	}

	if _, err := c.tasks.CompareAndSwap(ctx, taskID, func(t task.Task) (task.Task, error) {
		t.InternalStatus = task.StatusQualityCheck
		return t, nil
	}); err != nil {
		c.logger.Error(ctx, "validationcoord: failed to mark task quality_check", "task_id", taskID, "error", err)
	}

	t, err := c.tasks.Load(ctx, taskID)
	if err == nil {
		if cerr := c.tickets.AddComment(ctx, t.ExternalItemID, awaitingValidationComment(t.Title)); cerr != nil {
			c.logger.Warn(ctx, "validationcoord: failed to post awaiting-validation comment", "run_id", runID, "error", cerr)
		}
	}
	if creatorEmail != "" {
		if derr := c.notifier.DirectMessage(ctx, creatorEmail, awaitingValidationBlocks(runID)); derr != nil {
			c.logger.Warn(ctx, "validationcoord: failed to DM awaiting-validation notice", "run_id", runID, "error", derr)
		}
	}

	c.logger.Info(ctx, "validationcoord: opened validation request", "validation_id", req.ValidationID, "run_id", runID, "expires_at", req.ExpiresAt)
	if c.metrics != nil {
		c.metrics.IncCounter("validationcoord.opened", 1)
	}
	return nil
}

// OnComment classifies an incoming ticket comment against runID's pending
// ValidationRequest and drives the corresponding fan-out (spec §4.6:
// approve/reject/abandon/clarification). Returns validation.ErrNotFound if
// runID has no pending request.
func (c *Coordinator) OnComment(ctx context.Context, runID string, commentText string, tc intent.Context, creatorEmail string) error {
	req, err := c.validations.PendingForRun(ctx, runID)
	if err != nil {
		return err
	}

	decision := c.analyzer.Analyze(ctx, commentText, tc)
	switch decision.Decision {
	case intent.DecisionApprove:
		return c.approve(ctx, req, decision, creatorEmail)
	case intent.DecisionReject:
		return c.reject(ctx, req, decision, commentText, creatorEmail)
	case intent.DecisionAbandon:
		return c.abandon(ctx, req, decision)
	default: // DecisionQuestion, DecisionClarificationNeeded, DecisionUnclear
		return c.clarify(ctx, req, creatorEmail)
	}
}

func (c *Coordinator) approve(ctx context.Context, req validation.Request, decision intent.IntentDecision, creatorEmail string) error {
	if decision.Confidence < minResolutionConfidence {
		return c.clarify(ctx, req, creatorEmail)
	}
	if _, err := c.validations.Resolve(ctx, req.ValidationID, validation.StatusApproved, ""); err != nil {
		return fmt.Errorf("validationcoord: resolve approved validation %s: %w", req.ValidationID, err)
	}

	resumeCtx, cancel := context.WithTimeout(ctx, c.commandTimeout)
	defer cancel()
	if _, err := c.engine.ResumeRun(resumeCtx, req.RunID); err != nil {
		return fmt.Errorf("validationcoord: resume run %s after approval: %w", req.RunID, err)
	}
	c.logger.Info(ctx, "validationcoord: validation approved", "validation_id", req.ValidationID, "run_id", req.RunID)
	if c.metrics != nil {
		c.metrics.IncCounter("validationcoord.approved", 1)
	}
	return nil
}

// reject resolves the request as rejected, cancels the suspended Run, and
// routes the extracted instructions through the Reactivation Gate to spawn
// the next Run — the spec §4.6 "REJECT with instructions" path, bounded by
// MAX_REACTIVATIONS_PER_RUN (spec §5).
func (c *Coordinator) reject(ctx context.Context, req validation.Request, decision intent.IntentDecision, rawComment, creatorEmail string) error {
	if decision.Confidence < minResolutionConfidence {
		return c.clarify(ctx, req, creatorEmail)
	}
	instructions := intent.CleanText(rawComment)
	if _, err := c.validations.Resolve(ctx, req.ValidationID, validation.StatusRejected, instructions); err != nil {
		return fmt.Errorf("validationcoord: resolve rejected validation %s: %w", req.ValidationID, err)
	}

	r, err := c.runs.LoadRun(ctx, req.RunID)
	if err != nil {
		return fmt.Errorf("validationcoord: load run %s: %w", req.RunID, err)
	}
	if _, err := c.runs.UpdateRunStatus(ctx, req.RunID, run.StatusCancelled); err != nil {
		c.logger.Error(ctx, "validationcoord: failed to cancel rejected run", "run_id", req.RunID, "error", err)
	}
	abandonCtx, cancel := context.WithTimeout(ctx, c.commandTimeout)
	defer cancel()
	if tearDown, ok := c.engine.(interface {
		AbandonSuspendedRun(context.Context, string) error
	}); ok {
		if err := tearDown.AbandonSuspendedRun(abandonCtx, req.RunID); err != nil {
			c.logger.Warn(ctx, "validationcoord: failed to tear down rejected run's engine execution", "run_id", req.RunID, "error", err)
		}
	}

	if r.ReactivationCount+1 > c.maxReactivationsPerRun {
		if _, err := c.tasks.CompareAndSwap(ctx, req.TaskID, func(t task.Task) (task.Task, error) {
			t.InternalStatus = task.StatusAbandoned
			return t, nil
		}); err != nil {
			return fmt.Errorf("validationcoord: abandon task %d after reactivation cap: %w", req.TaskID, err)
		}
		c.logger.Warn(ctx, "validationcoord: reactivation cap reached, task abandoned", "task_id", req.TaskID, "run_id", req.RunID)
		if c.metrics != nil {
			c.metrics.IncCounter("validationcoord.reactivation_cap_reached", 1)
		}
		return nil
	}

	attempt, err := c.gate.Admit(ctx, req.TaskID, reactivation.TriggerUpdate, instructions)
	if err != nil {
		return fmt.Errorf("validationcoord: gate denied reject-driven reactivation for task %d: %w", req.TaskID, err)
	}
	newRun, err := c.factory.Create(ctx, runfactory.Input{
		TaskID:                req.TaskID,
		IsReactivation:        true,
		TriggeringText:        instructions,
		RejectionInstructions: instructions,
	})
	if err != nil {
		if rerr := attempt.Rollback(ctx, err); rerr != nil {
			c.logger.Error(ctx, "validationcoord: rollback after failed reject-driven run creation", "task_id", req.TaskID, "error", rerr)
		}
		return fmt.Errorf("validationcoord: spawn reject-driven run for task %d: %w", req.TaskID, err)
	}
	if err := attempt.Commit(ctx, newRun.RunID); err != nil {
		return fmt.Errorf("validationcoord: commit reject-driven reactivation for task %d: %w", req.TaskID, err)
	}

	startCtx, cancel2 := context.WithTimeout(ctx, c.commandTimeout)
	defer cancel2()
	if _, err := c.engine.StartRun(startCtx, workflow.StartRequest{RunID: newRun.RunID, TaskID: req.TaskID}); err != nil {
		return fmt.Errorf("validationcoord: start reject-driven run %s: %w", newRun.RunID, err)
	}

	c.logger.Info(ctx, "validationcoord: validation rejected, reactivation spawned", "validation_id", req.ValidationID, "old_run_id", req.RunID, "new_run_id", newRun.RunID)
	if c.metrics != nil {
		c.metrics.IncCounter("validationcoord.rejected", 1)
	}
	return nil
}

func (c *Coordinator) abandon(ctx context.Context, req validation.Request, decision intent.IntentDecision) error {
	if _, err := c.validations.Resolve(ctx, req.ValidationID, validation.StatusAbandoned, ""); err != nil {
		return fmt.Errorf("validationcoord: resolve abandoned validation %s: %w", req.ValidationID, err)
	}
	if _, err := c.runs.UpdateRunStatus(ctx, req.RunID, run.StatusCancelled); err != nil {
		c.logger.Error(ctx, "validationcoord: failed to cancel abandoned run", "run_id", req.RunID, "error", err)
	}
	if _, err := c.tasks.CompareAndSwap(ctx, req.TaskID, func(t task.Task) (task.Task, error) {
		t.InternalStatus = task.StatusAbandoned
		return t, nil
	}); err != nil {
		return fmt.Errorf("validationcoord: abandon task %d: %w", req.TaskID, err)
	}
	c.logger.Info(ctx, "validationcoord: validation abandoned", "validation_id", req.ValidationID, "run_id", req.RunID, "reasoning", decision.Reasoning)
	if c.metrics != nil {
		c.metrics.IncCounter("validationcoord.abandoned", 1)
	}
	return nil
}

// clarify posts a single clarification prompt; spec §4.6: at most one per
// ValidationRequest. A second unclear reply with ClarificationAsked already
// true is logged and otherwise ignored — the request stays pending until an
// approve/reject/abandon reply or the timeout sweep resolves it.
func (c *Coordinator) clarify(ctx context.Context, req validation.Request, creatorEmail string) error {
	if req.ClarificationAsked {
		c.logger.Info(ctx, "validationcoord: ignoring additional unclear reply, clarification already asked", "validation_id", req.ValidationID)
		return nil
	}
	if err := c.validations.MarkClarificationAsked(ctx, req.ValidationID); err != nil {
		return fmt.Errorf("validationcoord: mark clarification asked for %s: %w", req.ValidationID, err)
	}
	t, err := c.tasks.Load(ctx, req.TaskID)
	if err == nil {
		if cerr := c.tickets.AddComment(ctx, t.ExternalItemID, clarificationComment()); cerr != nil {
			c.logger.Warn(ctx, "validationcoord: failed to post clarification comment", "run_id", req.RunID, "error", cerr)
		}
	}
	if creatorEmail != "" {
		if derr := c.notifier.DirectMessage(ctx, creatorEmail, clarificationBlocks()); derr != nil {
			c.logger.Warn(ctx, "validationcoord: failed to DM clarification request", "run_id", req.RunID, "error", derr)
		}
	}
	if c.metrics != nil {
		c.metrics.IncCounter("validationcoord.clarification_requested", 1)
	}
	return nil
}

// sweep transitions every due ValidationRequest to timed_out and sends the
// one-time timeout DM (spec §4.6/§8: "at exactly expires_at the request
// transitions to timed_out and a single DM is sent"). The Run is left in
// validation_pending. The request itself is resolved to timed_out, so
// PendingForRun no longer returns it and a later reply on the item does not
// resolve it.
func (c *Coordinator) sweep(ctx context.Context) {
	due, err := c.validations.DuePending(ctx, c.now())
	if err != nil {
		c.logger.Error(ctx, "validationcoord: sweep failed to list due requests", "error", err)
		return
	}
	for _, req := range due {
		if err := c.validations.MarkTimeoutNotified(ctx, req.ValidationID); err != nil {
			c.logger.Error(ctx, "validationcoord: failed to mark timeout notified", "validation_id", req.ValidationID, "error", err)
		}
		if _, err := c.validations.Resolve(ctx, req.ValidationID, validation.StatusTimedOut, ""); err != nil {
			c.logger.Error(ctx, "validationcoord: failed to resolve timed out request", "validation_id", req.ValidationID, "error", err)
			continue
		}
		if t, err := c.tasks.Load(ctx, req.TaskID); err == nil {
			if item, ierr := c.tickets.GetItemInfo(ctx, t.ExternalItemID); ierr == nil && item.CreatorEmail != "" {
				if derr := c.notifier.DirectMessage(ctx, item.CreatorEmail, timeoutBlocks(req.RunID)); derr != nil {
					c.logger.Warn(ctx, "validationcoord: failed to DM timeout notice", "run_id", req.RunID, "error", derr)
				}
			}
		}
		c.logger.Warn(ctx, "validationcoord: validation timed out", "validation_id", req.ValidationID, "run_id", req.RunID)
		if c.metrics != nil {
			c.metrics.IncCounter("validationcoord.timed_out", 1)
		}
	}
}
