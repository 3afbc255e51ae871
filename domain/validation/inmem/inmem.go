// Package inmem provides an in-memory implementation of validation.Store.
package inmem

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/taskreactor/orchestrator/domain/validation"
)

// Store implements validation.Store in memory.
type Store struct {
	mu        sync.Mutex
	byID      map[string]validation.Request
	pendingByRun map[string]string // runID -> validationID, only while pending
}

// New constructs an empty Store.
func New() *Store {
	return &Store{byID: make(map[string]validation.Request), pendingByRun: make(map[string]string)}
}

// Create implements validation.Store.
func (s *Store) Create(_ context.Context, r validation.Request) (validation.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.Status == "" {
		r.Status = validation.StatusPending
	}
	if id, ok := s.pendingByRun[r.RunID]; ok && r.Status == validation.StatusPending {
		return validation.Request{}, fmt.Errorf("inmem: run %s already has pending validation request %s", r.RunID, id)
	}
	s.byID[r.ValidationID] = r
	if r.Status == validation.StatusPending {
		s.pendingByRun[r.RunID] = r.ValidationID
	}
	return r, nil
}

// Load implements validation.Store.
func (s *Store) Load(_ context.Context, validationID string) (validation.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.byID[validationID]
	if !ok {
		return validation.Request{}, validation.ErrNotFound
	}
	return r, nil
}

// PendingForRun implements validation.Store.
func (s *Store) PendingForRun(_ context.Context, runID string) (validation.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.pendingByRun[runID]
	if !ok {
		return validation.Request{}, validation.ErrNotFound
	}
	return s.byID[id], nil
}

// Resolve implements validation.Store.
func (s *Store) Resolve(_ context.Context, validationID string, status validation.Status, rejectionInstructions string) (validation.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.byID[validationID]
	if !ok {
		return validation.Request{}, validation.ErrNotFound
	}
	if r.Status != validation.StatusPending {
		return validation.Request{}, validation.ErrNotPending
	}
	r.Status = status
	r.RejectionInstructions = rejectionInstructions
	s.byID[validationID] = r
	delete(s.pendingByRun, r.RunID)
	return r, nil
}

// MarkClarificationAsked implements validation.Store.
func (s *Store) MarkClarificationAsked(_ context.Context, validationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[validationID]
	if !ok {
		return validation.ErrNotFound
	}
	r.ClarificationAsked = true
	s.byID[validationID] = r
	return nil
}

// MarkTimeoutNotified implements validation.Store.
func (s *Store) MarkTimeoutNotified(_ context.Context, validationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[validationID]
	if !ok {
		return validation.ErrNotFound
	}
	r.TimeoutNotified = true
	s.byID[validationID] = r
	return nil
}

// DuePending implements validation.Store.
func (s *Store) DuePending(_ context.Context, now time.Time) ([]validation.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []validation.Request
	for _, id := range s.pendingByRun {
		r := s.byID[id]
		if r.IsExpired(now) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Reset clears all stored requests. Test-only helper.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID = make(map[string]validation.Request)
	s.pendingByRun = make(map[string]string)
}
