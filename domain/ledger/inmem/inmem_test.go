package inmem_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskreactor/orchestrator/domain/ledger"
	"github.com/taskreactor/orchestrator/domain/ledger/inmem"
)

func TestForRun_AggregatesOnlyMatchingRecords(t *testing.T) {
	s := inmem.New()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Append(ctx, ledger.Record{
		RunID: "r1", TaskID: 1, Provider: "anthropic", InputTokens: 100, OutputTokens: 50,
		EstimatedCost: 1.5, Timestamp: now,
	}))
	require.NoError(t, s.Append(ctx, ledger.Record{
		RunID: "r2", TaskID: 1, Provider: "openai", InputTokens: 10, OutputTokens: 10,
		EstimatedCost: 0.1, Timestamp: now,
	}))

	agg, err := s.ForRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 100, agg.TotalInputTokens)
	assert.InDelta(t, 1.5, agg.TotalCost, 0.0001)
	assert.Len(t, agg.ByProvider, 1)
}

func TestForTask_SumsAcrossRuns(t *testing.T) {
	s := inmem.New()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Append(ctx, ledger.Record{RunID: "r1", TaskID: 7, Provider: "anthropic", EstimatedCost: 1, Timestamp: now}))
	require.NoError(t, s.Append(ctx, ledger.Record{RunID: "r2", TaskID: 7, Provider: "anthropic", EstimatedCost: 2, Timestamp: now}))
	require.NoError(t, s.Append(ctx, ledger.Record{RunID: "r3", TaskID: 8, Provider: "anthropic", EstimatedCost: 100, Timestamp: now}))

	agg, err := s.ForTask(ctx, 7)
	require.NoError(t, err)
	assert.InDelta(t, 3, agg.TotalCost, 0.0001)
}

func TestForDay_BoundariesAreUTC(t *testing.T) {
	s := inmem.New()
	ctx := context.Background()
	day := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Append(ctx, ledger.Record{
		RunID: "in", Provider: "anthropic", EstimatedCost: 1,
		Timestamp: time.Date(2026, 3, 15, 23, 59, 0, 0, time.UTC),
	}))
	require.NoError(t, s.Append(ctx, ledger.Record{
		RunID: "out", Provider: "anthropic", EstimatedCost: 9,
		Timestamp: time.Date(2026, 3, 16, 0, 0, 1, 0, time.UTC),
	}))

	agg, err := s.ForDay(ctx, day)
	require.NoError(t, err)
	assert.InDelta(t, 1, agg.TotalCost, 0.0001)
}
