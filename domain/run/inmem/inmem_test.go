package inmem_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskreactor/orchestrator/domain/run"
	"github.com/taskreactor/orchestrator/domain/run/inmem"
)

func TestCreateRun_AssignsIncrementingRunNumbers(t *testing.T) {
	s := inmem.New()
	ctx := context.Background()

	first, _, err := s.CreateRun(ctx, run.Run{RunID: "r1", TaskID: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, first.RunNumber)

	second, _, err := s.CreateRun(ctx, run.Run{RunID: "r2", TaskID: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, second.RunNumber)
}

func TestCreateRun_CancelsPriorActiveRunAndReturnsItsWorkers(t *testing.T) {
	s := inmem.New()
	ctx := context.Background()

	_, _, err := s.CreateRun(ctx, run.Run{RunID: "r1", TaskID: 1})
	require.NoError(t, err)
	require.NoError(t, s.RegisterWorker(ctx, "r1", "worker-a"))
	require.NoError(t, s.RegisterWorker(ctx, "r1", "worker-b"))

	_, cancelledWorkers, err := s.CreateRun(ctx, run.Run{RunID: "r2", TaskID: 1})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"worker-a", "worker-b"}, cancelledWorkers)

	prior, err := s.LoadRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, run.StatusCancelled, prior.Status)
	assert.NotNil(t, prior.CompletedAt)

	active, err := s.ActiveRunForTask(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "r2", active.RunID)
}

func TestActiveRunForTask_NoneWhenTerminal(t *testing.T) {
	s := inmem.New()
	ctx := context.Background()
	_, _, err := s.CreateRun(ctx, run.Run{RunID: "r1", TaskID: 5})
	require.NoError(t, err)

	_, err = s.UpdateRunStatus(ctx, "r1", run.StatusCompleted)
	require.NoError(t, err)

	_, err = s.ActiveRunForTask(ctx, 5)
	assert.ErrorIs(t, err, run.ErrNotFound)
}

func TestUpdateRunStatus_RejectsAfterTerminal(t *testing.T) {
	s := inmem.New()
	ctx := context.Background()
	_, _, err := s.CreateRun(ctx, run.Run{RunID: "r1", TaskID: 1})
	require.NoError(t, err)

	_, err = s.UpdateRunStatus(ctx, "r1", run.StatusFailed)
	require.NoError(t, err)

	_, err = s.UpdateRunStatus(ctx, "r1", run.StatusRunning)
	assert.ErrorIs(t, err, run.ErrTerminal)
}

func TestAppendStep_RejectsGapInOrder(t *testing.T) {
	s := inmem.New()
	ctx := context.Background()
	_, _, err := s.CreateRun(ctx, run.Run{RunID: "r1", TaskID: 1})
	require.NoError(t, err)

	err = s.AppendStep(ctx, run.Step{RunID: "r1", StepOrder: 1, NodeName: "analyze"})
	assert.Error(t, err, "step_order 1 skips 0")

	require.NoError(t, s.AppendStep(ctx, run.Step{RunID: "r1", StepOrder: 0, NodeName: "prepare"}))
	require.NoError(t, s.AppendStep(ctx, run.Step{RunID: "r1", StepOrder: 1, NodeName: "analyze"}))

	steps, err := s.StepsForRun(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, steps, 2)
}

func TestAppendStep_RejectsOnTerminalRun(t *testing.T) {
	s := inmem.New()
	ctx := context.Background()
	_, _, err := s.CreateRun(ctx, run.Run{RunID: "r1", TaskID: 1})
	require.NoError(t, err)
	_, err = s.UpdateRunStatus(ctx, "r1", run.StatusCancelled)
	require.NoError(t, err)

	err = s.AppendStep(ctx, run.Step{RunID: "r1", StepOrder: 0, NodeName: "prepare"})
	assert.ErrorIs(t, err, run.ErrTerminal)
}
