package taskstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/funmagic-ai/magiworld-sub000/internal/svcerr"
)

// PostgresStore is the primary Store implementation. Each transition is a
// single UPDATE whose WHERE clause checks the row's current status
// (`UPDATE ... WHERE id = $1 AND status = ...`), so a racing writer matches
// no row; the `version` column is incremented on every update but is not
// compared.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore wraps an already-opened *sqlx.DB.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const uniqueViolation = "23505"

func (p *PostgresStore) Create(ctx context.Context, t *Task) error {
	t.Status = StatusPending
	t.Progress = 0
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	t.Version = 1

	const q = `
INSERT INTO tasks (id, owner_kind, owner_id, tool_slug, input_params, status, progress,
                    parent_task_id, idempotency_key, created_at, updated_at, version)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := p.db.ExecContext(ctx, q, t.ID, t.OwnerKind, t.OwnerID, t.ToolSlug, t.InputParams,
		t.Status, t.Progress, t.ParentTaskID, t.IdempotencyKey, t.CreatedAt, t.UpdatedAt, t.Version)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return svcerr.New(409, svcerr.CodeIdempotencyConflict, "a task with this idempotency key already exists")
		}
		return fmt.Errorf("taskstore: create: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Task, error) {
	var row taskRow
	err := p.db.GetContext(ctx, &row, `SELECT * FROM tasks WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("taskstore: get: %w", err)
	}
	return row.toTask(), nil
}

func (p *PostgresStore) FindByIdempotencyKey(ctx context.Context, ownerID, toolSlug, key string) (*Task, error) {
	var row taskRow
	const q = `SELECT * FROM tasks WHERE owner_id = $1 AND tool_slug = $2 AND idempotency_key = $3`
	err := p.db.GetContext(ctx, &row, q, ownerID, toolSlug, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("taskstore: findByIdempotencyKey: %w", err)
	}
	return row.toTask(), nil
}

func (p *PostgresStore) TransitionToProcessing(ctx context.Context, id string) (*Task, error) {
	now := time.Now().UTC()
	const q = `
UPDATE tasks SET status = $2, progress = 0, started_at = $3, updated_at = $3, version = version + 1
WHERE id = $1 AND status = $4
RETURNING *`
	var row taskRow
	err := p.db.GetContext(ctx, &row, q, id, StatusProcessing, now, StatusPending)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrVersionConflict
	}
	if err != nil {
		return nil, fmt.Errorf("taskstore: transitionToProcessing: %w", err)
	}
	return row.toTask(), nil
}

func (p *PostgresStore) UpdateProgress(ctx context.Context, id string, progress int) error {
	const q = `
UPDATE tasks SET progress = $2, updated_at = $3, version = version + 1
WHERE id = $1 AND status = $4 AND progress <= $2`
	res, err := p.db.ExecContext(ctx, q, id, progress, time.Now().UTC(), StatusProcessing)
	if err != nil {
		return fmt.Errorf("taskstore: updateProgress: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Either the task isn't processing anymore, or progress regressed;
		// both are tolerated no-ops per the monotonic-progress invariant.
		return nil
	}
	return nil
}

func (p *PostgresStore) CompleteSuccess(ctx context.Context, id string, outputData []byte) error {
	now := time.Now().UTC()
	const q = `
UPDATE tasks SET status = $2, progress = 100, output_data = $3, completed_at = $4, updated_at = $4, version = version + 1
WHERE id = $1 AND status = $5`
	res, err := p.db.ExecContext(ctx, q, id, StatusSuccess, outputData, now, StatusProcessing)
	if err != nil {
		return fmt.Errorf("taskstore: completeSuccess: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrVersionConflict
	}
	return nil
}

func (p *PostgresStore) CompleteFailed(ctx context.Context, id string, errorMessage string, attemptsMade int) error {
	now := time.Now().UTC()
	const q = `
UPDATE tasks SET status = $2, error_message = $3, attempts_made = $4, completed_at = $5, updated_at = $5, version = version + 1
WHERE id = $1 AND status IN ($6, $7)`
	res, err := p.db.ExecContext(ctx, q, id, StatusFailed, errorMessage, attemptsMade, now, StatusPending, StatusProcessing)
	if err != nil {
		return fmt.Errorf("taskstore: completeFailed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrVersionConflict
	}
	return nil
}

func (p *PostgresStore) ListRecent(ctx context.Context, filter ListFilter) ([]*Task, error) {
	q := `SELECT * FROM tasks WHERE owner_kind = $1 AND owner_id = $2`
	args := []any{filter.OwnerKind, filter.OwnerID}
	if filter.ToolSlug != "" {
		args = append(args, filter.ToolSlug)
		q += fmt.Sprintf(" AND tool_slug = $%d", len(args))
	}
	if filter.RootOnly {
		q += " AND parent_task_id IS NULL"
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	q += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	var rows []taskRow
	if err := p.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("taskstore: listRecent: %w", err)
	}
	return toTasks(rows), nil
}

func (p *PostgresStore) ListChildren(ctx context.Context, parentID string) ([]*Task, error) {
	var rows []taskRow
	const q = `SELECT * FROM tasks WHERE parent_task_id = $1 ORDER BY created_at ASC`
	if err := p.db.SelectContext(ctx, &rows, q, parentID); err != nil {
		return nil, fmt.Errorf("taskstore: listChildren: %w", err)
	}
	return toTasks(rows), nil
}

func (p *PostgresStore) ListOrphanedPending(ctx context.Context, olderThan time.Duration) ([]*Task, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	var rows []taskRow
	const q = `SELECT * FROM tasks WHERE status = $1 AND created_at < $2 ORDER BY created_at ASC`
	if err := p.db.SelectContext(ctx, &rows, q, StatusPending, cutoff); err != nil {
		return nil, fmt.Errorf("taskstore: listOrphanedPending: %w", err)
	}
	return toTasks(rows), nil
}

func toTasks(rows []taskRow) []*Task {
	out := make([]*Task, len(rows))
	for i := range rows {
		out[i] = rows[i].toTask()
	}
	return out
}
