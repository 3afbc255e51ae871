package validationcoord_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskreactor/orchestrator/branch"
	ledgerinmem "github.com/taskreactor/orchestrator/domain/ledger/inmem"
	reactivationinmem "github.com/taskreactor/orchestrator/domain/reactivation/inmem"
	"github.com/taskreactor/orchestrator/domain/run"
	runinmem "github.com/taskreactor/orchestrator/domain/run/inmem"
	"github.com/taskreactor/orchestrator/domain/task"
	taskinmem "github.com/taskreactor/orchestrator/domain/task/inmem"
	"github.com/taskreactor/orchestrator/domain/validation"
	validationinmem "github.com/taskreactor/orchestrator/domain/validation/inmem"
	"github.com/taskreactor/orchestrator/external/messaging"
	"github.com/taskreactor/orchestrator/external/ticket"
	"github.com/taskreactor/orchestrator/gate"
	"github.com/taskreactor/orchestrator/intent"
	queueinmem "github.com/taskreactor/orchestrator/internal/queue/inmem"
	"github.com/taskreactor/orchestrator/runfactory"
	"github.com/taskreactor/orchestrator/validationcoord"
	"github.com/taskreactor/orchestrator/workflow"
	"github.com/taskreactor/orchestrator/workflow/engine/inmem"
	"github.com/taskreactor/orchestrator/workflow/workflowtest"
)

type fakeTicket struct {
	comments []string
}

func (f *fakeTicket) GetItemInfo(context.Context, string) (ticket.Item, error) {
	return ticket.Item{CreatorEmail: "dev@example.com"}, nil
}
func (f *fakeTicket) GetItemUpdates(context.Context, string) ([]ticket.Update, error) { return nil, nil }
func (f *fakeTicket) UpdateItemStatus(context.Context, string, string) error          { return nil }
func (f *fakeTicket) AddComment(_ context.Context, _, body string) error {
	f.comments = append(f.comments, body)
	return nil
}
func (f *fakeTicket) ChangeColumnValue(context.Context, string, string, any) error { return nil }

type fakeNotifier struct {
	sent []string
}

func (f *fakeNotifier) DirectMessage(_ context.Context, email string, _ []messaging.Block) error {
	f.sent = append(f.sent, email)
	return nil
}

type testHarness struct {
	t           *testing.T
	validations *validationinmem.Store
	runs        *runinmem.Store
	tasks       *taskinmem.Store
	engine      *inmem.Engine
	coord       *validationcoord.Coordinator
	tickets     *fakeTicket
	notifier    *fakeNotifier
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	runs := runinmem.New()
	tasks := taskinmem.New()
	validations := validationinmem.New()
	reactivations := reactivationinmem.New()
	ledg := ledgerinmem.New()
	q := queueinmem.New()

	runners := make(map[workflow.Node]workflow.NodeRunner)
	fake := workflowtest.NewFakeRunner()
	for _, n := range workflow.Nodes() {
		if n != workflow.NodeValidation {
			runners[n] = fake
		}
	}
	driver := workflow.New(workflow.Options{Runs: runs, Ledger: ledg, Queue: q, Runners: runners})
	eng := inmem.New(driver)

	resolver := branch.NewResolver("main", nil, nil)
	factory := runfactory.New(runfactory.Options{Tasks: tasks, Runs: runs, Branches: resolver, Queue: q})
	g := gate.New(gate.Options{Tasks: tasks, Reactivations: reactivations})

	table, err := intent.LoadTable([]byte(intent.DefaultTableYAML))
	require.NoError(t, err)
	analyzer := intent.NewAnalyzer(table, nil, nil)

	tickets := &fakeTicket{}
	notifier := &fakeNotifier{}

	coord := validationcoord.New(validationcoord.Options{
		Validations:            validations,
		Runs:                   runs,
		Tasks:                  tasks,
		Engine:                 eng,
		Gate:                   g,
		Factory:                factory,
		Analyzer:               analyzer,
		Tickets:                tickets,
		Notifier:               notifier,
		ValidationWindow:       time.Hour,
		CommandTimeout:         time.Second,
		MaxReactivationsPerRun: 3,
	})

	return &testHarness{t: t, validations: validations, runs: runs, tasks: tasks, engine: eng, coord: coord, tickets: tickets, notifier: notifier}
}

// startSuspendedRun creates a Task+Run, drives it through the fake node
// sequence to suspension at validation, and has the Coordinator open the
// ValidationRequest — the common setup every comment-resolution test needs.
func (h *testHarness) startSuspendedRun(taskID int64, runID string) {
	h.t.Helper()
	ctx := context.Background()
	_, err := h.tasks.Create(ctx, task.Task{TaskID: taskID, ExternalItemID: "item-1", Title: "demo task", InternalStatus: task.StatusProcessing})
	require.NoError(h.t, err)
	_, _, err = h.runs.CreateRun(ctx, run.Run{RunID: runID, TaskID: taskID})
	require.NoError(h.t, err)

	handle, err := h.engine.StartRun(ctx, workflow.StartRequest{RunID: runID, TaskID: taskID})
	require.NoError(h.t, err)
	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.ErrorIs(h.t, handle.Wait(waitCtx), workflow.ErrSuspended)

	require.NoError(h.t, h.coord.OnSuspended(ctx, runID, taskID, "dev@example.com"))
}

func TestOnSuspended_CreatesRequestAndNotifies(t *testing.T) {
	h := newHarness(t)
	h.startSuspendedRun(1, "run-1")

	req, err := h.validations.PendingForRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, validation.StatusPending, req.Status)

	tsk, err := h.tasks.Load(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, task.StatusQualityCheck, tsk.InternalStatus)

	assert.Len(t, h.tickets.comments, 1)
	assert.Equal(t, []string{"dev@example.com"}, h.notifier.sent)
}

func TestOnComment_ApproveResumesRunToCompletion(t *testing.T) {
	h := newHarness(t)
	h.startSuspendedRun(1, "run-1")
	req, err := h.validations.PendingForRun(context.Background(), "run-1")
	require.NoError(t, err)

	require.NoError(t, h.coord.OnComment(context.Background(), "run-1", "yes, ship it", intent.Context{TestsPassed: true}, "dev@example.com"))

	r, err := h.runs.LoadRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, run.StatusCompleted, r.Status)

	resolved, err := h.validations.Load(context.Background(), req.ValidationID)
	require.NoError(t, err)
	assert.Equal(t, validation.StatusApproved, resolved.Status)
}

func TestOnComment_RejectSpawnsReactivationRun(t *testing.T) {
	h := newHarness(t)
	h.startSuspendedRun(1, "run-1")
	req, err := h.validations.PendingForRun(context.Background(), "run-1")
	require.NoError(t, err)

	require.NoError(t, h.coord.OnComment(context.Background(), "run-1", "non, renomme le fichier en metrics.py", intent.Context{}, "dev@example.com"))

	resolved, err := h.validations.Load(context.Background(), req.ValidationID)
	require.NoError(t, err)
	assert.Equal(t, validation.StatusRejected, resolved.Status)
	assert.Contains(t, resolved.RejectionInstructions, "metrics.py")

	oldRun, err := h.runs.LoadRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, run.StatusCancelled, oldRun.Status)

	tsk, err := h.tasks.Load(context.Background(), 1)
	require.NoError(t, err)
	assert.NotEmpty(t, tsk.LastRunID, "the reject-driven reactivation should have committed a new run to the task")
	assert.NotEqual(t, "run-1", tsk.LastRunID)
	assert.Equal(t, 1, tsk.ReactivationCount)
}

func TestOnComment_RejectAbandonsTaskOnceReactivationCapReached(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.tasks.Create(ctx, task.Task{TaskID: 1, ExternalItemID: "item-1", InternalStatus: task.StatusQualityCheck, ReactivationCount: 1})
	require.NoError(t, err)
	// run-1 is itself already the product of one reactivation: its snapshot
	// ReactivationCount is 1.
	_, _, err = h.runs.CreateRun(ctx, run.Run{RunID: "run-1", TaskID: 1, IsReactivation: true, ReactivationCount: 1})
	require.NoError(t, err)
	_, err = h.validations.Create(ctx, validation.Request{ValidationID: "v-cap", RunID: "run-1", TaskID: 1, ExpiresAt: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	// A cap of 1: the next reactivation (count 2) would exceed it.
	strictCoord := validationcoord.New(validationcoord.Options{
		Validations: h.validations, Runs: h.runs, Tasks: h.tasks, Engine: h.engine,
		Gate:                   gate.New(gate.Options{Tasks: h.tasks, Reactivations: reactivationinmem.New()}),
		Factory:                runfactory.New(runfactory.Options{Tasks: h.tasks, Runs: h.runs, Branches: branch.NewResolver("main", nil, nil), Queue: queueinmem.New()}),
		Analyzer:               mustAnalyzer(t),
		Tickets:                h.tickets,
		Notifier:               h.notifier,
		MaxReactivationsPerRun: 1,
	})

	require.NoError(t, strictCoord.OnComment(ctx, "run-1", "non, ca ne va pas du tout", intent.Context{}, "dev@example.com"))

	tsk, err := h.tasks.Load(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, task.StatusAbandoned, tsk.InternalStatus)
}

func mustAnalyzer(t *testing.T) *intent.Analyzer {
	t.Helper()
	table, err := intent.LoadTable([]byte(intent.DefaultTableYAML))
	require.NoError(t, err)
	return intent.NewAnalyzer(table, nil, nil)
}

func TestOnComment_AbandonMarksTaskAbandoned(t *testing.T) {
	h := newHarness(t)
	h.startSuspendedRun(1, "run-1")

	require.NoError(t, h.coord.OnComment(context.Background(), "run-1", "abandonne, laisse tomber", intent.Context{}, "dev@example.com"))

	tsk, err := h.tasks.Load(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, task.StatusAbandoned, tsk.InternalStatus)

	r, err := h.runs.LoadRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, run.StatusCancelled, r.Status)
}

func TestOnComment_UnclearAsksClarificationOnce(t *testing.T) {
	h := newHarness(t)
	h.startSuspendedRun(1, "run-1")

	require.NoError(t, h.coord.OnComment(context.Background(), "run-1", "hmm what does this do exactly?", intent.Context{}, "dev@example.com"))
	req, err := h.validations.PendingForRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.True(t, req.ClarificationAsked)
	assert.Equal(t, validation.StatusPending, req.Status)

	commentsBefore := len(h.tickets.comments)
	require.NoError(t, h.coord.OnComment(context.Background(), "run-1", "still unclear??", intent.Context{}, "dev@example.com"))
	assert.Equal(t, commentsBefore, len(h.tickets.comments), "a second unclear reply must not post another clarification")
}

func TestOnComment_NoPendingRequestReturnsNotFound(t *testing.T) {
	h := newHarness(t)
	err := h.coord.OnComment(context.Background(), "no-such-run", "yes", intent.Context{}, "")
	assert.ErrorIs(t, err, validation.ErrNotFound)
}

func TestStartSweep_RegistersAndStops(t *testing.T) {
	h := newHarness(t)
	stop, err := h.coord.StartSweep(context.Background())
	require.NoError(t, err)
	stop()
}
