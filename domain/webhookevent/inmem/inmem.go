// Package inmem is an in-memory webhookevent.Store for unit tests.
package inmem

import (
	"context"
	"sync"
	"time"

	"github.com/taskreactor/orchestrator/domain/webhookevent"
)

// Store implements webhookevent.Store in memory.
type Store struct {
	mu     sync.Mutex
	byID   map[string]webhookevent.Event
	order  []string // insertion order, for SeenWithin's window scan
}

// New constructs an empty Store.
func New() *Store {
	return &Store{byID: make(map[string]webhookevent.Event)}
}

// Create implements webhookevent.Store.
func (s *Store) Create(_ context.Context, e webhookevent.Event) (webhookevent.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ProcessingStatus == "" {
		e.ProcessingStatus = webhookevent.StatusPending
	}
	s.byID[e.EventID] = e
	s.order = append(s.order, e.EventID)
	return e, nil
}

// SeenWithin implements webhookevent.Store.
func (s *Store) SeenWithin(_ context.Context, source, payloadHash string, window time.Duration, asOf time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := asOf.Add(-window)
	for _, id := range s.order {
		e := s.byID[id]
		if e.Source != source || e.PayloadHash != payloadHash {
			continue
		}
		if !e.ReceivedAt.Before(cutoff) && !e.ReceivedAt.After(asOf) {
			return true, nil
		}
	}
	return false, nil
}

// UpdateStatus implements webhookevent.Store.
func (s *Store) UpdateStatus(_ context.Context, eventID string, status webhookevent.ProcessingStatus, relatedTaskID *int64, errMessage string) (webhookevent.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[eventID]
	if !ok {
		return webhookevent.Event{}, webhookevent.ErrNotFound
	}
	e.ProcessingStatus = status
	if relatedTaskID != nil {
		e.RelatedTaskID = relatedTaskID
	}
	if errMessage != "" {
		e.ErrorMessage = errMessage
	}
	s.byID[eventID] = e
	return e, nil
}

// Load implements webhookevent.Store.
func (s *Store) Load(_ context.Context, eventID string) (webhookevent.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[eventID]
	if !ok {
		return webhookevent.Event{}, webhookevent.ErrNotFound
	}
	return e, nil
}

// Reset clears all stored events. Test-only helper.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID = make(map[string]webhookevent.Event)
	s.order = nil
}
