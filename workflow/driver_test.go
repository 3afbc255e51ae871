package workflow_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskreactor/orchestrator/domain/ledger"
	ledgerinmem "github.com/taskreactor/orchestrator/domain/ledger/inmem"
	"github.com/taskreactor/orchestrator/domain/run"
	runinmem "github.com/taskreactor/orchestrator/domain/run/inmem"
	"github.com/taskreactor/orchestrator/workflow"
	"github.com/taskreactor/orchestrator/workflow/workflowtest"
)

func newTestDriver(t *testing.T, runner workflow.NodeRunner, retries map[workflow.Node]workflow.RetryPolicy) (*workflow.Driver, *runinmem.Store, *ledgerinmem.Store) {
	t.Helper()
	runs := runinmem.New()
	ledg := ledgerinmem.New()
	runners := make(map[workflow.Node]workflow.NodeRunner)
	for _, n := range workflow.Nodes() {
		if n != workflow.NodeValidation {
			runners[n] = runner
		}
	}
	d := workflow.New(workflow.Options{
		Runs:    runs,
		Ledger:  ledg,
		Runners: runners,
		Retries: retries,
		Now:     func() time.Time { return time.Unix(0, 0).UTC() },
	})
	return d, runs, ledg
}

func createTestRun(t *testing.T, runs *runinmem.Store, taskID int64) run.Run {
	t.Helper()
	created, _, err := runs.CreateRun(context.Background(), run.Run{RunID: "run-1", TaskID: taskID})
	require.NoError(t, err)
	return created
}

func TestExecute_RunsUntilSuspendedAtValidation(t *testing.T) {
	fake := workflowtest.NewFakeRunner()
	d, runs, _ := newTestDriver(t, fake, nil)
	createTestRun(t, runs, 1)

	err := d.Execute(context.Background(), "run-1")
	assert.ErrorIs(t, err, workflow.ErrSuspended)

	r, err := runs.LoadRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, run.StatusValidationPending, r.Status)

	steps, err := runs.StepsForRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Len(t, steps, workflow.IndexOf(workflow.NodeValidation))
	for _, s := range steps {
		assert.Equal(t, run.StepCompleted, s.Status)
	}
}

func TestResume_ContinuesPastValidationToCompletion(t *testing.T) {
	fake := workflowtest.NewFakeRunner()
	d, runs, _ := newTestDriver(t, fake, nil)
	createTestRun(t, runs, 1)

	require.ErrorIs(t, d.Execute(context.Background(), "run-1"), workflow.ErrSuspended)
	require.NoError(t, d.Resume(context.Background(), "run-1"))

	r, err := runs.LoadRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, run.StatusCompleted, r.Status)
	assert.NotNil(t, r.CompletedAt)
}

func TestRunStep_RetriesUpToPolicyThenSucceeds(t *testing.T) {
	fake := workflowtest.NewFakeRunner()
	fake.FailUntilAttempt[workflow.NodeTest] = 3
	d, runs, _ := newTestDriver(t, fake, map[workflow.Node]workflow.RetryPolicy{
		workflow.NodeTest: {MaxAttempts: 4, InitialInterval: time.Millisecond},
	})
	createTestRun(t, runs, 1)

	require.ErrorIs(t, d.Execute(context.Background(), "run-1"), workflow.ErrSuspended)

	steps, err := runs.StepsForRun(context.Background(), "run-1")
	require.NoError(t, err)
	testStep := steps[workflow.IndexOf(workflow.NodeTest)]
	assert.Equal(t, run.StepCompleted, testStep.Status)
	assert.Equal(t, 2, testStep.RetryCount)
}

func TestRunStep_FailsRunAfterExhaustingRetries(t *testing.T) {
	fake := workflowtest.NewFakeRunner()
	fake.Err[workflow.NodeImplement] = assertErr{"implement always fails"}
	d, runs, _ := newTestDriver(t, fake, nil)
	createTestRun(t, runs, 1)

	err := d.Execute(context.Background(), "run-1")
	require.Error(t, err)

	r, loadErr := runs.LoadRun(context.Background(), "run-1")
	require.NoError(t, loadErr)
	assert.Equal(t, run.StatusFailed, r.Status)
}

func TestExecute_ForwardsAIUsageToLedger(t *testing.T) {
	fake := workflowtest.NewFakeRunner()
	fake.AIUsage[workflow.NodeAnalyze] = []ledger.Record{{Provider: "anthropic", Model: "claude-sonnet-4", InputTokens: 100, OutputTokens: 50}}
	d, runs, ledg := newTestDriver(t, fake, nil)
	createTestRun(t, runs, 1)

	require.ErrorIs(t, d.Execute(context.Background(), "run-1"), workflow.ErrSuspended)

	agg, err := ledg.ForRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, 100, agg.TotalInputTokens)
	assert.Equal(t, 50, agg.TotalOutputTokens)
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }
