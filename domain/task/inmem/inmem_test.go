package inmem_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskreactor/orchestrator/domain/task"
	"github.com/taskreactor/orchestrator/domain/task/inmem"
)

func TestCreate_IsIdempotentPerExternalItemID(t *testing.T) {
	s := inmem.New()
	ctx := context.Background()

	a, err := s.Create(ctx, task.Task{ExternalItemID: "item-1", Title: "first"})
	require.NoError(t, err)

	b, err := s.Create(ctx, task.Task{ExternalItemID: "item-1", Title: "second"})
	require.NoError(t, err)

	assert.Equal(t, a.TaskID, b.TaskID)
	assert.Equal(t, "first", b.Title, "second create must not overwrite the existing row")
}

func TestLoad_NotFound(t *testing.T) {
	s := inmem.New()
	_, err := s.Load(context.Background(), 999)
	assert.ErrorIs(t, err, task.ErrNotFound)
}

func TestCompareAndSwap_AppliesMutation(t *testing.T) {
	s := inmem.New()
	ctx := context.Background()
	created, err := s.Create(ctx, task.Task{ExternalItemID: "item-2", InternalStatus: task.StatusPending})
	require.NoError(t, err)

	updated, err := s.CompareAndSwap(ctx, created.TaskID, func(cur task.Task) (task.Task, error) {
		cur.InternalStatus = task.StatusProcessing
		cur.IsLocked = true
		return cur, nil
	})
	require.NoError(t, err)
	assert.Equal(t, task.StatusProcessing, updated.InternalStatus)
	assert.True(t, updated.IsLocked)

	reloaded, err := s.Load(ctx, created.TaskID)
	require.NoError(t, err)
	assert.Equal(t, updated, reloaded)
}

func TestCompareAndSwap_MutationErrorAborts(t *testing.T) {
	s := inmem.New()
	ctx := context.Background()
	created, err := s.Create(ctx, task.Task{ExternalItemID: "item-3"})
	require.NoError(t, err)

	boom := assert.AnError
	_, err = s.CompareAndSwap(ctx, created.TaskID, func(cur task.Task) (task.Task, error) {
		return task.Task{}, boom
	})
	assert.ErrorIs(t, err, boom)

	unchanged, err := s.Load(ctx, created.TaskID)
	require.NoError(t, err)
	assert.Equal(t, created, unchanged)
}
