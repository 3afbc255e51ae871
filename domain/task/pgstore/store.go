// Package pgstore is the PostgreSQL-backed implementation of task.Store.
//
// Schema (see DESIGN.md for the full DDL ledger):
//
//	CREATE TABLE tasks (
//	  task_id                      BIGSERIAL PRIMARY KEY,
//	  external_item_id             TEXT NOT NULL,
//	  title                        TEXT NOT NULL,
//	  base_description             TEXT NOT NULL DEFAULT '',
//	  updates                      JSONB NOT NULL DEFAULT '[]',
//	  repository_url               TEXT NOT NULL DEFAULT '',
//	  base_branch                  TEXT,
//	  priority                     TEXT NOT NULL DEFAULT '',
//	  internal_status              TEXT NOT NULL DEFAULT 'pending',
//	  is_locked                    BOOLEAN NOT NULL DEFAULT FALSE,
//	  locked_by                    TEXT,
//	  cooldown_until               TIMESTAMPTZ,
//	  reactivation_count           INT NOT NULL DEFAULT 0,
//	  failed_reactivation_attempts INT NOT NULL DEFAULT 0,
//	  last_run_id                  TEXT,
//	  created_at                   TIMESTAMPTZ NOT NULL DEFAULT now(),
//	  updated_at                   TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
//	CREATE UNIQUE INDEX tasks_external_item_id_idx ON tasks(external_item_id);
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskreactor/orchestrator/domain/task"
)

// Store is the PostgreSQL-backed task.Store.
type Store struct {
	pool *pgxpool.Pool
}

// New returns a Store backed by pool. The caller owns pool's lifecycle.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Create implements task.Store using INSERT ... ON CONFLICT DO NOTHING
// followed by a read, so two concurrent webhook deliveries for the same
// external_item_id converge on the same row (spec §8's idempotent-creation
// law) without a round trip to check existence first.
func (s *Store) Create(ctx context.Context, t task.Task) (task.Task, error) {
	updates, err := json.Marshal(t.Updates)
	if err != nil {
		return task.Task{}, fmt.Errorf("pgstore: marshal updates: %w", err)
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO tasks (external_item_id, title, base_description, updates,
			repository_url, base_branch, priority, internal_status)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8)
		ON CONFLICT (external_item_id) DO NOTHING
		RETURNING task_id, external_item_id, title, base_description, updates,
			repository_url, coalesce(base_branch, ''), priority, internal_status,
			is_locked, coalesce(locked_by, ''), cooldown_until, reactivation_count,
			failed_reactivation_attempts, coalesce(last_run_id, ''), created_at, updated_at
	`, t.ExternalItemID, t.Title, t.BaseDescription, updates, t.RepositoryURL,
		t.BaseBranch, t.Priority, string(t.InternalStatus))

	out, err := scanTask(row)
	if err == nil {
		return out, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return task.Task{}, fmt.Errorf("pgstore: create task: %w", err)
	}

	return s.LoadByExternalItemID(ctx, t.ExternalItemID)
}

// Load implements task.Store.
func (s *Store) Load(ctx context.Context, taskID int64) (task.Task, error) {
	row := s.pool.QueryRow(ctx, selectTaskSQL+` WHERE task_id = $1`, taskID)
	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return task.Task{}, task.ErrNotFound
	}
	if err != nil {
		return task.Task{}, fmt.Errorf("pgstore: load task: %w", err)
	}
	return t, nil
}

// LoadByExternalItemID implements task.Store.
func (s *Store) LoadByExternalItemID(ctx context.Context, externalItemID string) (task.Task, error) {
	row := s.pool.QueryRow(ctx, selectTaskSQL+` WHERE external_item_id = $1`, externalItemID)
	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return task.Task{}, task.ErrNotFound
	}
	if err != nil {
		return task.Task{}, fmt.Errorf("pgstore: load task by external item id: %w", err)
	}
	return t, nil
}

// CompareAndSwap implements task.Store. The transaction takes SELECT ... FOR
// UPDATE to serialize concurrent writers for the same task_id (spec §5's
// "transactional compare-and-set"), applies mutate in Go, and writes back
// within the same transaction.
func (s *Store) CompareAndSwap(ctx context.Context, taskID int64, mutate task.Mutation) (task.Task, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return task.Task{}, fmt.Errorf("pgstore: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	row := tx.QueryRow(ctx, selectTaskSQL+` WHERE task_id = $1 FOR UPDATE`, taskID)
	current, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return task.Task{}, task.ErrNotFound
	}
	if err != nil {
		return task.Task{}, fmt.Errorf("pgstore: load for update: %w", err)
	}

	next, err := mutate(current)
	if err != nil {
		return task.Task{}, err
	}
	next.TaskID = taskID

	updates, err := json.Marshal(next.Updates)
	if err != nil {
		return task.Task{}, fmt.Errorf("pgstore: marshal updates: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE tasks SET
			title = $1, base_description = $2, updates = $3, repository_url = $4,
			base_branch = NULLIF($5, ''), priority = $6, internal_status = $7,
			is_locked = $8, locked_by = NULLIF($9, ''), cooldown_until = $10,
			reactivation_count = $11, failed_reactivation_attempts = $12,
			last_run_id = NULLIF($13, ''), updated_at = now()
		WHERE task_id = $14
	`, next.Title, next.BaseDescription, updates, next.RepositoryURL, next.BaseBranch,
		next.Priority, string(next.InternalStatus), next.IsLocked, next.LockedBy,
		next.CooldownUntil, next.ReactivationCount, next.FailedReactivationAttempts,
		next.LastRunID, taskID)
	if err != nil {
		return task.Task{}, fmt.Errorf("pgstore: update task: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return task.Task{}, fmt.Errorf("pgstore: commit: %w", err)
	}
	return next, nil
}

const selectTaskSQL = `
	SELECT task_id, external_item_id, title, base_description, updates,
		repository_url, coalesce(base_branch, ''), priority, internal_status,
		is_locked, coalesce(locked_by, ''), cooldown_until, reactivation_count,
		failed_reactivation_attempts, coalesce(last_run_id, ''), created_at, updated_at
	FROM tasks`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (task.Task, error) {
	var t task.Task
	var status string
	var updatesRaw []byte

	if err := row.Scan(&t.TaskID, &t.ExternalItemID, &t.Title, &t.BaseDescription,
		&updatesRaw, &t.RepositoryURL, &t.BaseBranch, &t.Priority, &status,
		&t.IsLocked, &t.LockedBy, &t.CooldownUntil, &t.ReactivationCount,
		&t.FailedReactivationAttempts, &t.LastRunID, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return task.Task{}, err
	}
	t.InternalStatus = task.Status(status)
	if len(updatesRaw) > 0 {
		if err := json.Unmarshal(updatesRaw, &t.Updates); err != nil {
			return task.Task{}, fmt.Errorf("pgstore: unmarshal updates: %w", err)
		}
	}
	return t, nil
}
