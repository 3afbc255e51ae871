package inmem_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskreactor/orchestrator/domain/reactivation"
	"github.com/taskreactor/orchestrator/domain/reactivation/inmem"
)

func TestForTask_NewestFirst(t *testing.T) {
	s := inmem.New()
	ctx := context.Background()

	_, err := s.Create(ctx, reactivation.Record{ReactivationID: "a", TaskID: 1, TriggerType: reactivation.TriggerUpdate})
	require.NoError(t, err)
	_, err = s.Create(ctx, reactivation.Record{ReactivationID: "b", TaskID: 1, TriggerType: reactivation.TriggerManual})
	require.NoError(t, err)

	records, err := s.ForTask(ctx, 1)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "b", records[0].ReactivationID)
	assert.Equal(t, "a", records[1].ReactivationID)
}

func TestComplete_SetsRunIDAndCompletedAt(t *testing.T) {
	s := inmem.New()
	ctx := context.Background()
	_, err := s.Create(ctx, reactivation.Record{ReactivationID: "a", TaskID: 1})
	require.NoError(t, err)

	done, err := s.Complete(ctx, "a", "run-1")
	require.NoError(t, err)
	assert.Equal(t, reactivation.StatusCompleted, done.Status)
	assert.Equal(t, "run-1", done.RunID)
	assert.NotNil(t, done.CompletedAt)
}

func TestFail_SetsErrorMessage(t *testing.T) {
	s := inmem.New()
	ctx := context.Background()
	_, err := s.Create(ctx, reactivation.Record{ReactivationID: "a", TaskID: 1})
	require.NoError(t, err)

	failed, err := s.Fail(ctx, "a", "cooldown active")
	require.NoError(t, err)
	assert.Equal(t, reactivation.StatusFailed, failed.Status)
	assert.Equal(t, "cooldown active", failed.ErrorMessage)
}
