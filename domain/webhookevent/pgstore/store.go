// Package pgstore is the PostgreSQL-backed implementation of
// webhookevent.Store.
//
// Schema:
//
//	CREATE TABLE webhook_events (
//	  event_id          TEXT PRIMARY KEY,
//	  source            TEXT NOT NULL,
//	  type              TEXT NOT NULL,
//	  payload           BYTEA NOT NULL,
//	  payload_hash      TEXT NOT NULL,
//	  signature         TEXT NOT NULL DEFAULT '',
//	  received_at       TIMESTAMPTZ NOT NULL,
//	  processing_status TEXT NOT NULL DEFAULT 'pending',
//	  related_task_id   BIGINT REFERENCES tasks(task_id),
//	  error_message     TEXT
//	);
//	CREATE INDEX webhook_events_dedup_idx
//	  ON webhook_events(source, payload_hash, received_at DESC);
//
// Unlike the relational stores for Task/Run/Step, duplicate suppression here
// is a sliding window, not a hard uniqueness constraint (spec §3: "unique
// within a sliding window"), so the dedup check is a range query rather than
// an ON CONFLICT clause.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskreactor/orchestrator/domain/webhookevent"
)

// Store is the PostgreSQL-backed webhookevent.Store.
type Store struct {
	pool *pgxpool.Pool
}

// New returns a Store backed by pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Create implements webhookevent.Store.
func (s *Store) Create(ctx context.Context, e webhookevent.Event) (webhookevent.Event, error) {
	if e.ProcessingStatus == "" {
		e.ProcessingStatus = webhookevent.StatusPending
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO webhook_events (event_id, source, type, payload, payload_hash,
			signature, received_at, processing_status, related_task_id, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''))
		ON CONFLICT (event_id) DO NOTHING
	`, e.EventID, e.Source, e.Type, e.Payload, e.PayloadHash, e.Signature,
		e.ReceivedAt, string(e.ProcessingStatus), e.RelatedTaskID, e.ErrorMessage)
	if err != nil {
		return webhookevent.Event{}, fmt.Errorf("pgstore: create webhook event: %w", err)
	}
	return e, nil
}

// SeenWithin implements webhookevent.Store.
func (s *Store) SeenWithin(ctx context.Context, source, payloadHash string, window time.Duration, asOf time.Time) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM webhook_events
			WHERE source = $1 AND payload_hash = $2
			  AND received_at > $3 AND received_at <= $4
		)
	`, source, payloadHash, asOf.Add(-window), asOf).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("pgstore: seen within window: %w", err)
	}
	return exists, nil
}

// UpdateStatus implements webhookevent.Store.
func (s *Store) UpdateStatus(ctx context.Context, eventID string, status webhookevent.ProcessingStatus, relatedTaskID *int64, errMessage string) (webhookevent.Event, error) {
	_, err := s.pool.Exec(ctx, `
		UPDATE webhook_events
		SET processing_status = $1,
		    related_task_id = coalesce($2, related_task_id),
		    error_message = coalesce(NULLIF($3, ''), error_message)
		WHERE event_id = $4
	`, string(status), relatedTaskID, errMessage, eventID)
	if err != nil {
		return webhookevent.Event{}, fmt.Errorf("pgstore: update webhook event status: %w", err)
	}
	return s.Load(ctx, eventID)
}

// Load implements webhookevent.Store.
func (s *Store) Load(ctx context.Context, eventID string) (webhookevent.Event, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT event_id, source, type, payload, payload_hash, signature,
			received_at, processing_status, related_task_id, coalesce(error_message, '')
		FROM webhook_events WHERE event_id = $1
	`, eventID)

	var e webhookevent.Event
	var status string
	if err := row.Scan(&e.EventID, &e.Source, &e.Type, &e.Payload, &e.PayloadHash,
		&e.Signature, &e.ReceivedAt, &status, &e.RelatedTaskID, &e.ErrorMessage); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return webhookevent.Event{}, webhookevent.ErrNotFound
		}
		return webhookevent.Event{}, fmt.Errorf("pgstore: load webhook event: %w", err)
	}
	e.ProcessingStatus = webhookevent.ProcessingStatus(status)
	return e, nil
}
