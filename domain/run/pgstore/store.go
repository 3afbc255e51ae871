// Package pgstore is the PostgreSQL-backed implementation of run.Store.
//
// Schema:
//
//	CREATE TABLE task_runs (
//	  run_id                 TEXT PRIMARY KEY,
//	  task_id                BIGINT NOT NULL REFERENCES tasks(task_id),
//	  run_number             INT NOT NULL,
//	  status                 TEXT NOT NULL,
//	  is_reactivation        BOOLEAN NOT NULL DEFAULT FALSE,
//	  reactivation_count     INT NOT NULL DEFAULT 0,
//	  parent_run_id          TEXT,
//	  started_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
//	  completed_at           TIMESTAMPTZ,
//	  active_worker_ids      JSONB NOT NULL DEFAULT '[]',
//	  last_worker_id         TEXT,
//	  current_step_index     INT NOT NULL DEFAULT 0,
//	  rejection_instructions TEXT,
//	  base_branch            TEXT
//	);
//	CREATE UNIQUE INDEX task_runs_task_id_run_number_idx ON task_runs(task_id, run_number);
//
//	CREATE TABLE steps (
//	  step_id         TEXT PRIMARY KEY,
//	  run_id          TEXT NOT NULL REFERENCES task_runs(run_id),
//	  node_name       TEXT NOT NULL,
//	  step_order      INT NOT NULL,
//	  status          TEXT NOT NULL,
//	  started_at      TIMESTAMPTZ,
//	  completed_at    TIMESTAMPTZ,
//	  duration_ms     BIGINT NOT NULL DEFAULT 0,
//	  retry_count     INT NOT NULL DEFAULT 0,
//	  input_snapshot  JSONB,
//	  output_snapshot JSONB,
//	  error_details   TEXT
//	);
//	CREATE UNIQUE INDEX steps_run_id_step_order_idx ON steps(run_id, step_order);
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskreactor/orchestrator/domain/run"
)

// Store is the PostgreSQL-backed run.Store.
type Store struct {
	pool *pgxpool.Pool
}

// New returns a Store backed by pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// CreateRun implements run.Store: it assigns run_number, cancels the prior
// active run of the same task, and inserts the new row in one transaction
// (spec §4.4).
func (s *Store) CreateRun(ctx context.Context, r run.Run) (run.Run, []string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return run.Run{}, nil, fmt.Errorf("pgstore: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var maxNumber int
	if err := tx.QueryRow(ctx,
		`SELECT run_number FROM task_runs WHERE task_id = $1 ORDER BY run_number DESC LIMIT 1 FOR UPDATE`,
		r.TaskID).Scan(&maxNumber); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return run.Run{}, nil, fmt.Errorf("pgstore: lock task runs: %w", err)
	}
	r.RunNumber = maxNumber + 1
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now().UTC()
	}
	if r.Status == "" {
		r.Status = run.StatusStarted
	}

	rows, err := tx.Query(ctx, `
		SELECT run_id, active_worker_ids FROM task_runs
		WHERE task_id = $1 AND status NOT IN ($2, $3, $4)
	`, r.TaskID, string(run.StatusCompleted), string(run.StatusFailed), string(run.StatusCancelled))
	if err != nil {
		return run.Run{}, nil, fmt.Errorf("pgstore: find active runs: %w", err)
	}
	var cancelled []string
	var prevIDs []string
	for rows.Next() {
		var id string
		var workersRaw []byte
		if err := rows.Scan(&id, &workersRaw); err != nil {
			rows.Close()
			return run.Run{}, nil, fmt.Errorf("pgstore: scan active run: %w", err)
		}
		var workers []string
		_ = json.Unmarshal(workersRaw, &workers)
		cancelled = append(cancelled, workers...)
		prevIDs = append(prevIDs, id)
	}
	rows.Close()

	for _, id := range prevIDs {
		if _, err := tx.Exec(ctx, `
			UPDATE task_runs SET status = $1, completed_at = now(), active_worker_ids = '[]'
			WHERE run_id = $2
		`, string(run.StatusCancelled), id); err != nil {
			return run.Run{}, nil, fmt.Errorf("pgstore: cancel prior run: %w", err)
		}
	}

	workers, _ := json.Marshal(r.ActiveWorkerIDs)
	_, err = tx.Exec(ctx, `
		INSERT INTO task_runs (run_id, task_id, run_number, status, is_reactivation,
			reactivation_count, parent_run_id, started_at, active_worker_ids,
			last_worker_id, current_step_index, rejection_instructions, base_branch)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, NULLIF($10, ''), $11, NULLIF($12, ''), NULLIF($13, ''))
	`, r.RunID, r.TaskID, r.RunNumber, string(r.Status), r.IsReactivation, r.ReactivationCount,
		r.ParentRunID, r.StartedAt, workers, r.LastWorkerID, r.CurrentStepIndex,
		r.RejectionInstructions, r.BaseBranch)
	if err != nil {
		return run.Run{}, nil, fmt.Errorf("pgstore: insert run: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return run.Run{}, nil, fmt.Errorf("pgstore: commit: %w", err)
	}
	return r, cancelled, nil
}

// LoadRun implements run.Store.
func (s *Store) LoadRun(ctx context.Context, runID string) (run.Run, error) {
	row := s.pool.QueryRow(ctx, selectRunSQL+` WHERE run_id = $1`, runID)
	r, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return run.Run{}, run.ErrNotFound
	}
	if err != nil {
		return run.Run{}, fmt.Errorf("pgstore: load run: %w", err)
	}
	return r, nil
}

// ActiveRunForTask implements run.Store.
func (s *Store) ActiveRunForTask(ctx context.Context, taskID int64) (run.Run, error) {
	row := s.pool.QueryRow(ctx, selectRunSQL+`
		WHERE task_id = $1 AND status NOT IN ($2, $3, $4)
		ORDER BY run_number DESC LIMIT 1
	`, taskID, string(run.StatusCompleted), string(run.StatusFailed), string(run.StatusCancelled))
	r, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return run.Run{}, run.ErrNotFound
	}
	if err != nil {
		return run.Run{}, fmt.Errorf("pgstore: active run for task: %w", err)
	}
	return r, nil
}

// UpdateRunStatus implements run.Store.
func (s *Store) UpdateRunStatus(ctx context.Context, runID string, status run.Status) (run.Run, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return run.Run{}, fmt.Errorf("pgstore: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	row := tx.QueryRow(ctx, selectRunSQL+` WHERE run_id = $1 FOR UPDATE`, runID)
	r, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return run.Run{}, run.ErrNotFound
	}
	if err != nil {
		return run.Run{}, fmt.Errorf("pgstore: load for update: %w", err)
	}
	if r.Status.IsTerminal() {
		return run.Run{}, run.ErrTerminal
	}

	r.Status = status
	var completedAt *time.Time
	if status.IsTerminal() {
		now := time.Now().UTC()
		completedAt = &now
		r.ActiveWorkerIDs = nil
	}
	workers, _ := json.Marshal(r.ActiveWorkerIDs)
	if _, err := tx.Exec(ctx, `
		UPDATE task_runs SET status = $1, completed_at = $2, active_worker_ids = $3 WHERE run_id = $4
	`, string(status), completedAt, workers, runID); err != nil {
		return run.Run{}, fmt.Errorf("pgstore: update run status: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return run.Run{}, fmt.Errorf("pgstore: commit: %w", err)
	}
	r.CompletedAt = completedAt
	return r, nil
}

// AppendStep implements run.Store.
func (s *Store) AppendStep(ctx context.Context, step run.Step) error {
	input, output := nullableJSON(step.InputSnapshot), nullableJSON(step.OutputSnapshot)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO steps (step_id, run_id, node_name, step_order, status,
			started_at, completed_at, duration_ms, retry_count, input_snapshot,
			output_snapshot, error_details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NULLIF($12, ''))
	`, step.StepID, step.RunID, step.NodeName, step.StepOrder, string(step.Status),
		step.StartedAt, step.CompletedAt, step.Duration.Milliseconds(), step.RetryCount,
		input, output, step.ErrorDetails)
	if err != nil {
		return fmt.Errorf("pgstore: append step: %w", err)
	}
	return nil
}

// UpdateStep implements run.Store.
func (s *Store) UpdateStep(ctx context.Context, step run.Step) error {
	input, output := nullableJSON(step.InputSnapshot), nullableJSON(step.OutputSnapshot)
	_, err := s.pool.Exec(ctx, `
		UPDATE steps SET status = $1, started_at = $2, completed_at = $3,
			duration_ms = $4, retry_count = $5, input_snapshot = $6,
			output_snapshot = $7, error_details = NULLIF($8, '')
		WHERE step_id = $9
	`, string(step.Status), step.StartedAt, step.CompletedAt, step.Duration.Milliseconds(),
		step.RetryCount, input, output, step.ErrorDetails, step.StepID)
	if err != nil {
		return fmt.Errorf("pgstore: update step: %w", err)
	}
	return nil
}

// StepsForRun implements run.Store.
func (s *Store) StepsForRun(ctx context.Context, runID string) ([]run.Step, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT step_id, run_id, node_name, step_order, status, started_at,
			completed_at, duration_ms, retry_count, input_snapshot, output_snapshot,
			coalesce(error_details, '')
		FROM steps WHERE run_id = $1 ORDER BY step_order ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("pgstore: steps for run: %w", err)
	}
	defer rows.Close()

	var out []run.Step
	for rows.Next() {
		var st run.Step
		var status string
		var durationMs int64
		var input, output []byte
		if err := rows.Scan(&st.StepID, &st.RunID, &st.NodeName, &st.StepOrder, &status,
			&st.StartedAt, &st.CompletedAt, &durationMs, &st.RetryCount, &input, &output,
			&st.ErrorDetails); err != nil {
			return nil, fmt.Errorf("pgstore: scan step: %w", err)
		}
		st.Status = run.StepStatus(status)
		st.Duration = time.Duration(durationMs) * time.Millisecond
		st.InputSnapshot = input
		st.OutputSnapshot = output
		out = append(out, st)
	}
	return out, rows.Err()
}

// RegisterWorker implements run.Store.
func (s *Store) RegisterWorker(ctx context.Context, runID, workerID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE task_runs
		SET active_worker_ids = active_worker_ids || to_jsonb($1::text),
			last_worker_id = $1
		WHERE run_id = $2
	`, workerID, runID)
	if err != nil {
		return fmt.Errorf("pgstore: register worker: %w", err)
	}
	return nil
}

// RevokeWorkers implements run.Store.
func (s *Store) RevokeWorkers(ctx context.Context, runID string) ([]string, error) {
	var workersRaw []byte
	err := s.pool.QueryRow(ctx, `
		UPDATE task_runs t SET active_worker_ids = '[]'
		FROM (SELECT run_id, active_worker_ids FROM task_runs WHERE run_id = $1 FOR UPDATE) old
		WHERE t.run_id = old.run_id
		RETURNING old.active_worker_ids
	`, runID).Scan(&workersRaw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, run.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore: revoke workers: %w", err)
	}
	var workers []string
	_ = json.Unmarshal(workersRaw, &workers)
	return workers, nil
}

const selectRunSQL = `
	SELECT run_id, task_id, run_number, status, is_reactivation, reactivation_count,
		coalesce(parent_run_id, ''), started_at, completed_at, active_worker_ids,
		coalesce(last_worker_id, ''), current_step_index,
		coalesce(rejection_instructions, ''), coalesce(base_branch, '')
	FROM task_runs`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (run.Run, error) {
	var r run.Run
	var status string
	var workersRaw []byte
	if err := row.Scan(&r.RunID, &r.TaskID, &r.RunNumber, &status, &r.IsReactivation,
		&r.ReactivationCount, &r.ParentRunID, &r.StartedAt, &r.CompletedAt, &workersRaw,
		&r.LastWorkerID, &r.CurrentStepIndex, &r.RejectionInstructions, &r.BaseBranch); err != nil {
		return run.Run{}, err
	}
	r.Status = run.Status(status)
	_ = json.Unmarshal(workersRaw, &r.ActiveWorkerIDs)
	return r, nil
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
