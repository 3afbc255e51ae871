package inmem_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskreactor/orchestrator/domain/webhookevent"
	"github.com/taskreactor/orchestrator/domain/webhookevent/inmem"
)

func TestSeenWithin_DetectsDuplicateInWindow(t *testing.T) {
	s := inmem.New()
	ctx := context.Background()
	received := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	_, err := s.Create(ctx, webhookevent.Event{
		EventID: "e1", Source: "monday", PayloadHash: "abc", ReceivedAt: received,
	})
	require.NoError(t, err)

	seen, err := s.SeenWithin(ctx, "monday", "abc", 2*time.Minute, received.Add(90*time.Second))
	require.NoError(t, err)
	assert.True(t, seen)

	notSeen, err := s.SeenWithin(ctx, "monday", "abc", 2*time.Minute, received.Add(3*time.Minute))
	require.NoError(t, err)
	assert.False(t, notSeen)
}

func TestSeenWithin_DifferentSourceDoesNotMatch(t *testing.T) {
	s := inmem.New()
	ctx := context.Background()
	received := time.Now()

	_, err := s.Create(ctx, webhookevent.Event{EventID: "e1", Source: "monday", PayloadHash: "abc", ReceivedAt: received})
	require.NoError(t, err)

	seen, err := s.SeenWithin(ctx, "other-source", "abc", time.Minute, received)
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestUpdateStatus_NotFound(t *testing.T) {
	s := inmem.New()
	_, err := s.UpdateStatus(context.Background(), "missing", webhookevent.StatusProcessed, nil, "")
	assert.ErrorIs(t, err, webhookevent.ErrNotFound)
}
