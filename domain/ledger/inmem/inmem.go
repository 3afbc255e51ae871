// Package inmem provides an in-memory implementation of ledger.Store for
// unit tests. Aggregation is a linear scan — fine at test scale, never used
// in production (see domain/ledger/mongostore for that).
package inmem

import (
	"context"
	"sync"
	"time"

	"github.com/taskreactor/orchestrator/domain/ledger"
)

// Store implements ledger.Store in memory.
type Store struct {
	mu      sync.Mutex
	records []ledger.Record
}

// New constructs an empty Store.
func New() *Store {
	return &Store{}
}

// Append implements ledger.Store.
func (s *Store) Append(_ context.Context, r ledger.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
	return nil
}

// ForRun implements ledger.Store.
func (s *Store) ForRun(_ context.Context, runID string) (ledger.Aggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return aggregate(s.records, func(r ledger.Record) bool { return r.RunID == runID }), nil
}

// ForTask implements ledger.Store.
func (s *Store) ForTask(_ context.Context, taskID int64) (ledger.Aggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return aggregate(s.records, func(r ledger.Record) bool { return r.TaskID == taskID }), nil
}

// ForDay implements ledger.Store.
func (s *Store) ForDay(_ context.Context, day time.Time) (ledger.Aggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	y, m, d := day.UTC().Date()
	return aggregate(s.records, func(r ledger.Record) bool {
		ry, rm, rd := r.Timestamp.UTC().Date()
		return ry == y && rm == m && rd == d
	}), nil
}

// ForMonth implements ledger.Store.
func (s *Store) ForMonth(_ context.Context, year int, month time.Month) (ledger.Aggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return aggregate(s.records, func(r ledger.Record) bool {
		return r.Timestamp.UTC().Year() == year && r.Timestamp.UTC().Month() == month
	}), nil
}

func aggregate(records []ledger.Record, match func(ledger.Record) bool) ledger.Aggregate {
	agg := ledger.Aggregate{ByProvider: make(map[string]ledger.ProviderAggregate)}
	for _, r := range records {
		if !match(r) {
			continue
		}
		agg.TotalInputTokens += r.InputTokens
		agg.TotalOutputTokens += r.OutputTokens
		agg.TotalCost += r.EstimatedCost

		p := agg.ByProvider[r.Provider]
		p.InputTokens += r.InputTokens
		p.OutputTokens += r.OutputTokens
		p.Cost += r.EstimatedCost
		p.Calls++
		agg.ByProvider[r.Provider] = p
	}
	return agg
}

// Reset clears all stored records. Test-only helper.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
}
