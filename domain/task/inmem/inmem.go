// Package inmem provides an in-memory implementation of task.Store for unit
// tests and local development. Not durable across restarts.
package inmem

import (
	"context"
	"sync"

	"github.com/taskreactor/orchestrator/domain/task"
)

// Store implements task.Store in memory. Safe for concurrent use: all
// mutation for a given TaskID is serialized by the single mutex, which is
// both simpler and stricter than the row-level locking a real database
// would use — exactly what CompareAndSwap needs to be atomic.
type Store struct {
	mu     sync.Mutex
	byID   map[int64]task.Task
	byItem map[string]int64
	nextID int64
}

// New constructs an empty Store.
func New() *Store {
	return &Store{byID: make(map[int64]task.Task), byItem: make(map[string]int64)}
}

// Create implements task.Store.
func (s *Store) Create(_ context.Context, t task.Task) (task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byItem[t.ExternalItemID]; ok {
		return s.byID[id], nil
	}

	s.nextID++
	t.TaskID = s.nextID
	s.byID[t.TaskID] = t
	s.byItem[t.ExternalItemID] = t.TaskID
	return t, nil
}

// Load implements task.Store.
func (s *Store) Load(_ context.Context, taskID int64) (task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.byID[taskID]
	if !ok {
		return task.Task{}, task.ErrNotFound
	}
	return t, nil
}

// LoadByExternalItemID implements task.Store.
func (s *Store) LoadByExternalItemID(_ context.Context, externalItemID string) (task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byItem[externalItemID]
	if !ok {
		return task.Task{}, task.ErrNotFound
	}
	return s.byID[id], nil
}

// CompareAndSwap implements task.Store. Because the whole store is guarded
// by a single mutex, "compare" and "swap" happen under the same critical
// section as the load mutate observed — there is no conflict to detect here,
// so this implementation never returns ErrCASConflict (durable stores can
// race; this one cannot).
func (s *Store) CompareAndSwap(_ context.Context, taskID int64, mutate task.Mutation) (task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.byID[taskID]
	if !ok {
		return task.Task{}, task.ErrNotFound
	}

	next, err := mutate(current)
	if err != nil {
		return task.Task{}, err
	}
	next.TaskID = taskID
	s.byID[taskID] = next
	return next, nil
}

// Reset clears all stored tasks. Test-only helper, not part of task.Store.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID = make(map[int64]task.Task)
	s.byItem = make(map[string]int64)
}
