// Package ledger defines the AIUsageRecord entity, the pricing table used to
// compute cost, and the append-only Store and aggregate-query capability.
package ledger

import (
	"context"
	"time"
)

// Record is one LLM call, immutable once written (spec §3).
type Record struct {
	RunID         string
	TaskID        int64
	StepID        string
	Provider      string
	Model         string
	Operation     string // "complete" | "moderate"
	InputTokens   int
	OutputTokens  int
	EstimatedCost float64 // USD
	Duration      time.Duration
	Success       bool
	Error         string
	Timestamp     time.Time
}

// Aggregate summarizes usage over some scope (a Run, a Task, a day, a month).
type Aggregate struct {
	TotalInputTokens  int
	TotalOutputTokens int
	TotalCost         float64
	ByProvider        map[string]ProviderAggregate
}

// ProviderAggregate is the per-provider breakdown within an Aggregate.
type ProviderAggregate struct {
	InputTokens  int
	OutputTokens int
	Cost         float64
	Calls        int
}

// Store is the append-only persistence and aggregation capability for
// AIUsageRecord. Corrections are new compensating records, never updates —
// there is deliberately no Update method.
type Store interface {
	// Append inserts r. Never fails on duplicate content; callers are
	// responsible for not double-recording a call.
	Append(ctx context.Context, r Record) error

	// ForRun returns the aggregate over all records for runID. The sum of
	// EstimatedCost across the returned aggregate must equal the sum the
	// ledger would report from a raw scan (spec §8 invariant 6).
	ForRun(ctx context.Context, runID string) (Aggregate, error)

	// ForTask returns the aggregate over all records recorded against runs of
	// taskID.
	ForTask(ctx context.Context, taskID int64) (Aggregate, error)

	// ForDay returns the aggregate over all records timestamped on day (UTC,
	// truncated to the day).
	ForDay(ctx context.Context, day time.Time) (Aggregate, error)

	// ForMonth returns the aggregate over all records timestamped in the
	// given UTC year/month.
	ForMonth(ctx context.Context, year int, month time.Month) (Aggregate, error)
}
