package inmem_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskreactor/orchestrator/domain/validation"
	"github.com/taskreactor/orchestrator/domain/validation/inmem"
)

func TestResolve_RejectsAlreadyResolved(t *testing.T) {
	s := inmem.New()
	ctx := context.Background()
	req, err := s.Create(ctx, validation.Request{ValidationID: "v1", RunID: "r1"})
	require.NoError(t, err)

	_, err = s.Resolve(ctx, req.ValidationID, validation.StatusApproved, "")
	require.NoError(t, err)

	_, err = s.Resolve(ctx, req.ValidationID, validation.StatusRejected, "do it differently")
	assert.ErrorIs(t, err, validation.ErrNotPending)
}

func TestPendingForRun_ClearsOnResolve(t *testing.T) {
	s := inmem.New()
	ctx := context.Background()
	_, err := s.Create(ctx, validation.Request{ValidationID: "v1", RunID: "r1"})
	require.NoError(t, err)

	_, err = s.PendingForRun(ctx, "r1")
	require.NoError(t, err)

	_, err = s.Resolve(ctx, "v1", validation.StatusApproved, "")
	require.NoError(t, err)

	_, err = s.PendingForRun(ctx, "r1")
	assert.ErrorIs(t, err, validation.ErrNotFound)
}

func TestDuePending_OnlyReturnsExpired(t *testing.T) {
	s := inmem.New()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	_, err := s.Create(ctx, validation.Request{
		ValidationID: "expired", RunID: "r1", ExpiresAt: now.Add(-time.Minute),
	})
	require.NoError(t, err)
	_, err = s.Create(ctx, validation.Request{
		ValidationID: "fresh", RunID: "r2", ExpiresAt: now.Add(time.Hour),
	})
	require.NoError(t, err)

	due, err := s.DuePending(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "expired", due[0].ValidationID)
}
