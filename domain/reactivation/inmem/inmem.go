// Package inmem provides an in-memory implementation of reactivation.Store.
package inmem

import (
	"context"
	"sync"
	"time"

	"github.com/taskreactor/orchestrator/domain/reactivation"
)

// Store implements reactivation.Store in memory.
type Store struct {
	mu      sync.Mutex
	records map[string]reactivation.Record
	byTask  map[int64][]string
}

// New constructs an empty Store.
func New() *Store {
	return &Store{records: make(map[string]reactivation.Record), byTask: make(map[int64][]string)}
}

// Create implements reactivation.Store.
func (s *Store) Create(_ context.Context, r reactivation.Record) (reactivation.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.Status == "" {
		r.Status = reactivation.StatusPending
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	s.records[r.ReactivationID] = r
	s.byTask[r.TaskID] = append(s.byTask[r.TaskID], r.ReactivationID)
	return r, nil
}

// Complete implements reactivation.Store.
func (s *Store) Complete(_ context.Context, reactivationID, runID string) (reactivation.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[reactivationID]
	if !ok {
		return reactivation.Record{}, reactivation.ErrNotFound
	}
	now := time.Now().UTC()
	r.Status = reactivation.StatusCompleted
	r.RunID = runID
	r.CompletedAt = &now
	s.records[reactivationID] = r
	return r, nil
}

// Fail implements reactivation.Store.
func (s *Store) Fail(_ context.Context, reactivationID, errMessage string) (reactivation.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[reactivationID]
	if !ok {
		return reactivation.Record{}, reactivation.ErrNotFound
	}
	now := time.Now().UTC()
	r.Status = reactivation.StatusFailed
	r.ErrorMessage = errMessage
	r.CompletedAt = &now
	s.records[reactivationID] = r
	return r, nil
}

// ForTask implements reactivation.Store.
func (s *Store) ForTask(_ context.Context, taskID int64) ([]reactivation.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.byTask[taskID]
	out := make([]reactivation.Record, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		out = append(out, s.records[ids[i]])
	}
	return out, nil
}

// Reset clears all stored records. Test-only helper.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]reactivation.Record)
	s.byTask = make(map[int64][]string)
}
