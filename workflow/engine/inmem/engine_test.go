package inmem_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ledgerinmem "github.com/taskreactor/orchestrator/domain/ledger/inmem"
	"github.com/taskreactor/orchestrator/domain/run"
	runinmem "github.com/taskreactor/orchestrator/domain/run/inmem"
	"github.com/taskreactor/orchestrator/workflow"
	"github.com/taskreactor/orchestrator/workflow/engine/inmem"
	"github.com/taskreactor/orchestrator/workflow/workflowtest"
)

func TestEngine_StartRunThenResumeCompletesTheRun(t *testing.T) {
	runs := runinmem.New()
	_, _, err := runs.CreateRun(context.Background(), run.Run{RunID: "run-1", TaskID: 1})
	require.NoError(t, err)

	fake := workflowtest.NewFakeRunner()
	runners := make(map[workflow.Node]workflow.NodeRunner)
	for _, n := range workflow.Nodes() {
		if n != workflow.NodeValidation {
			runners[n] = fake
		}
	}
	driver := workflow.New(workflow.Options{Runs: runs, Ledger: ledgerinmem.New(), Runners: runners})
	eng := inmem.New(driver)

	h, err := eng.StartRun(context.Background(), workflow.StartRequest{RunID: "run-1", TaskID: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.ErrorIs(t, h.Wait(ctx), workflow.ErrSuspended)

	r, err := runs.LoadRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, run.StatusValidationPending, r.Status)

	h2, err := eng.ResumeRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.NoError(t, h2.Wait(ctx))

	r, err = runs.LoadRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, run.StatusCompleted, r.Status)
}
