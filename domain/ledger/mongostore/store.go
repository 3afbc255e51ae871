package mongostore

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/taskreactor/orchestrator/domain/ledger"
)

// Store implements ledger.Store by delegating to a Client. It carries no
// state of its own beyond the client, same split as the teacher's
// runlog store over its mongo client wrapper.
type Store struct {
	client Client
}

// NewStore returns a ledger.Store backed by client.
func NewStore(client Client) *Store {
	return &Store{client: client}
}

// Append implements ledger.Store.
func (s *Store) Append(ctx context.Context, r ledger.Record) error {
	return s.client.Append(ctx, r)
}

// ForRun implements ledger.Store.
func (s *Store) ForRun(ctx context.Context, runID string) (ledger.Aggregate, error) {
	return s.client.Aggregate(ctx, bson.M{"run_id": runID})
}

// ForTask implements ledger.Store. Each usage document carries task_id
// denormalized at append time, so this needs no join against the run store.
func (s *Store) ForTask(ctx context.Context, taskID int64) (ledger.Aggregate, error) {
	return s.client.Aggregate(ctx, bson.M{"task_id": taskID})
}

// ForDay implements ledger.Store.
func (s *Store) ForDay(ctx context.Context, day time.Time) (ledger.Aggregate, error) {
	day = day.UTC()
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	return s.client.Aggregate(ctx, bson.M{
		"timestamp": bson.M{"$gte": start.UnixMilli(), "$lt": end.UnixMilli()},
	})
}

// ForMonth implements ledger.Store.
func (s *Store) ForMonth(ctx context.Context, year int, month time.Month) (ledger.Aggregate, error) {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	return s.client.Aggregate(ctx, bson.M{
		"timestamp": bson.M{"$gte": start.UnixMilli(), "$lt": end.UnixMilli()},
	})
}
