// Package pgstore is the PostgreSQL-backed implementation of validation.Store.
//
// Schema:
//
//	CREATE TABLE validation_requests (
//	  validation_id          TEXT PRIMARY KEY,
//	  run_id                 TEXT NOT NULL REFERENCES task_runs(run_id),
//	  task_id                BIGINT NOT NULL REFERENCES tasks(task_id),
//	  created_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
//	  expires_at             TIMESTAMPTZ NOT NULL,
//	  status                 TEXT NOT NULL DEFAULT 'pending',
//	  rejection_instructions TEXT,
//	  analysis_confidence    DOUBLE PRECISION NOT NULL DEFAULT 0,
//	  timeout_notified       BOOLEAN NOT NULL DEFAULT FALSE,
//	  clarification_asked    BOOLEAN NOT NULL DEFAULT FALSE
//	);
//	CREATE UNIQUE INDEX validation_requests_pending_run_idx
//	  ON validation_requests(run_id) WHERE status = 'pending';
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskreactor/orchestrator/domain/validation"
)

// Store is the PostgreSQL-backed validation.Store.
type Store struct {
	pool *pgxpool.Pool
}

// New returns a Store backed by pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Create implements validation.Store. The partial unique index on
// (run_id) WHERE status = 'pending' enforces "at most one pending
// ValidationRequest per Run" (spec §3) at the database level.
func (s *Store) Create(ctx context.Context, r validation.Request) (validation.Request, error) {
	if r.Status == "" {
		r.Status = validation.StatusPending
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO validation_requests (validation_id, run_id, task_id, created_at,
			expires_at, status, rejection_instructions, analysis_confidence,
			timeout_notified, clarification_asked)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, $10)
	`, r.ValidationID, r.RunID, r.TaskID, r.CreatedAt, r.ExpiresAt, string(r.Status),
		r.RejectionInstructions, r.AnalysisConfidence, r.TimeoutNotified, r.ClarificationAsked)
	if err != nil {
		return validation.Request{}, fmt.Errorf("pgstore: create validation request: %w", err)
	}
	return r, nil
}

// Load implements validation.Store.
func (s *Store) Load(ctx context.Context, validationID string) (validation.Request, error) {
	row := s.pool.QueryRow(ctx, selectSQL+` WHERE validation_id = $1`, validationID)
	r, err := scan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return validation.Request{}, validation.ErrNotFound
	}
	if err != nil {
		return validation.Request{}, fmt.Errorf("pgstore: load validation request: %w", err)
	}
	return r, nil
}

// PendingForRun implements validation.Store.
func (s *Store) PendingForRun(ctx context.Context, runID string) (validation.Request, error) {
	row := s.pool.QueryRow(ctx, selectSQL+` WHERE run_id = $1 AND status = 'pending'`, runID)
	r, err := scan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return validation.Request{}, validation.ErrNotFound
	}
	if err != nil {
		return validation.Request{}, fmt.Errorf("pgstore: pending for run: %w", err)
	}
	return r, nil
}

// Resolve implements validation.Store.
func (s *Store) Resolve(ctx context.Context, validationID string, status validation.Status, rejectionInstructions string) (validation.Request, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE validation_requests
		SET status = $1, rejection_instructions = NULLIF($2, '')
		WHERE validation_id = $3 AND status = 'pending'
		RETURNING validation_id
	`, string(status), rejectionInstructions, validationID)
	var id string
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return validation.Request{}, validation.ErrNotPending
		}
		return validation.Request{}, fmt.Errorf("pgstore: resolve: %w", err)
	}
	return s.Load(ctx, validationID)
}

// MarkClarificationAsked implements validation.Store.
func (s *Store) MarkClarificationAsked(ctx context.Context, validationID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE validation_requests SET clarification_asked = TRUE WHERE validation_id = $1`, validationID)
	if err != nil {
		return fmt.Errorf("pgstore: mark clarification asked: %w", err)
	}
	return nil
}

// MarkTimeoutNotified implements validation.Store.
func (s *Store) MarkTimeoutNotified(ctx context.Context, validationID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE validation_requests SET timeout_notified = TRUE WHERE validation_id = $1`, validationID)
	if err != nil {
		return fmt.Errorf("pgstore: mark timeout notified: %w", err)
	}
	return nil
}

// DuePending implements validation.Store.
func (s *Store) DuePending(ctx context.Context, now time.Time) ([]validation.Request, error) {
	rows, err := s.pool.Query(ctx, selectSQL+` WHERE status = 'pending' AND expires_at <= $1`, now)
	if err != nil {
		return nil, fmt.Errorf("pgstore: due pending: %w", err)
	}
	defer rows.Close()

	var out []validation.Request
	for rows.Next() {
		r, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("pgstore: scan due pending: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const selectSQL = `
	SELECT validation_id, run_id, task_id, created_at, expires_at, status,
		coalesce(rejection_instructions, ''), analysis_confidence, timeout_notified,
		clarification_asked
	FROM validation_requests`

type rowScanner interface {
	Scan(dest ...any) error
}

func scan(row rowScanner) (validation.Request, error) {
	var r validation.Request
	var status string
	if err := row.Scan(&r.ValidationID, &r.RunID, &r.TaskID, &r.CreatedAt, &r.ExpiresAt,
		&status, &r.RejectionInstructions, &r.AnalysisConfidence, &r.TimeoutNotified,
		&r.ClarificationAsked); err != nil {
		return validation.Request{}, err
	}
	r.Status = validation.Status(status)
	return r, nil
}
