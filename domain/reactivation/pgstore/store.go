// Package pgstore is the PostgreSQL-backed implementation of
// reactivation.Store.
//
// Schema:
//
//	CREATE TABLE reactivation_records (
//	  reactivation_id TEXT PRIMARY KEY,
//	  task_id         BIGINT NOT NULL REFERENCES tasks(task_id),
//	  trigger_type    TEXT NOT NULL,
//	  status          TEXT NOT NULL DEFAULT 'pending',
//	  payload         TEXT NOT NULL DEFAULT '',
//	  error_message   TEXT,
//	  run_id          TEXT,
//	  created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
//	  completed_at    TIMESTAMPTZ
//	);
package pgstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskreactor/orchestrator/domain/reactivation"
)

// Store is the PostgreSQL-backed reactivation.Store.
type Store struct {
	pool *pgxpool.Pool
}

// New returns a Store backed by pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Create implements reactivation.Store.
func (s *Store) Create(ctx context.Context, r reactivation.Record) (reactivation.Record, error) {
	if r.Status == "" {
		r.Status = reactivation.StatusPending
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO reactivation_records (reactivation_id, task_id, trigger_type,
			status, payload, error_message, run_id, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), now(), NULL)
	`, r.ReactivationID, r.TaskID, string(r.TriggerType), string(r.Status), r.Payload,
		r.ErrorMessage, r.RunID)
	if err != nil {
		return reactivation.Record{}, fmt.Errorf("pgstore: create reactivation record: %w", err)
	}
	return r, nil
}

// Complete implements reactivation.Store.
func (s *Store) Complete(ctx context.Context, reactivationID, runID string) (reactivation.Record, error) {
	_, err := s.pool.Exec(ctx, `
		UPDATE reactivation_records SET status = $1, run_id = $2, completed_at = now()
		WHERE reactivation_id = $3
	`, string(reactivation.StatusCompleted), runID, reactivationID)
	if err != nil {
		return reactivation.Record{}, fmt.Errorf("pgstore: complete reactivation record: %w", err)
	}
	return s.load(ctx, reactivationID)
}

// Fail implements reactivation.Store.
func (s *Store) Fail(ctx context.Context, reactivationID, errMessage string) (reactivation.Record, error) {
	_, err := s.pool.Exec(ctx, `
		UPDATE reactivation_records SET status = $1, error_message = $2, completed_at = now()
		WHERE reactivation_id = $3
	`, string(reactivation.StatusFailed), errMessage, reactivationID)
	if err != nil {
		return reactivation.Record{}, fmt.Errorf("pgstore: fail reactivation record: %w", err)
	}
	return s.load(ctx, reactivationID)
}

// ForTask implements reactivation.Store.
func (s *Store) ForTask(ctx context.Context, taskID int64) ([]reactivation.Record, error) {
	rows, err := s.pool.Query(ctx, selectSQL+` WHERE task_id = $1 ORDER BY created_at DESC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("pgstore: reactivation records for task: %w", err)
	}
	defer rows.Close()

	var out []reactivation.Record
	for rows.Next() {
		r, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("pgstore: scan reactivation record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) load(ctx context.Context, reactivationID string) (reactivation.Record, error) {
	row := s.pool.QueryRow(ctx, selectSQL+` WHERE reactivation_id = $1`, reactivationID)
	return scan(row)
}

const selectSQL = `
	SELECT reactivation_id, task_id, trigger_type, status, payload,
		coalesce(error_message, ''), coalesce(run_id, ''), created_at, completed_at
	FROM reactivation_records`

type rowScanner interface {
	Scan(dest ...any) error
}

func scan(row rowScanner) (reactivation.Record, error) {
	var r reactivation.Record
	var triggerType, status string
	if err := row.Scan(&r.ReactivationID, &r.TaskID, &triggerType, &status, &r.Payload,
		&r.ErrorMessage, &r.RunID, &r.CreatedAt, &r.CompletedAt); err != nil {
		return reactivation.Record{}, err
	}
	r.TriggerType = reactivation.TriggerType(triggerType)
	r.Status = reactivation.Status(status)
	return r, nil
}
