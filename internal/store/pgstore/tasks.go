package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/linnemanlabs/dupwatch/internal/task"
)

const taskColumns = `id, owner_id, label, conversation_ids, window_hours, method, active, created_at, updated_at`

// CreateTask inserts t and returns it with its assigned id.
func (s *Store) CreateTask(ctx context.Context, t *task.Task) (*task.Task, error) {
	ctx, span := startSpan(ctx, "CreateTask", "INSERT")
	defer span.End()

	query := `INSERT INTO tasks (owner_id, label, conversation_ids, window_hours, method, active, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	RETURNING ` + taskColumns
	created, err := scanTask(s.pool.QueryRow(ctx, query,
		t.OwnerID, t.Label, t.ConversationIDs, t.WindowHours, string(t.Method), t.Active, ts(t.CreatedAt), ts(t.UpdatedAt),
	))
	if isUniqueViolation(err) {
		return nil, task.ErrDuplicateLabel
	}
	if err != nil {
		return nil, fail(span, fmt.Errorf("insert task: %w", err))
	}
	return created, nil
}

// UpdateTask applies the non-nil fields of u in one statement.
func (s *Store) UpdateTask(ctx context.Context, id int64, u *task.Update, now time.Time) (*task.Task, error) {
	ctx, span := startSpan(ctx, "UpdateTask", "UPDATE")
	defer span.End()

	var method *string
	if u.Method != nil {
		m := string(*u.Method)
		method = &m
	}

	query := `UPDATE tasks SET
		label            = COALESCE($2::text, label),
		conversation_ids = COALESCE($3::text[], conversation_ids),
		window_hours     = COALESCE($4::integer, window_hours),
		method           = COALESCE($5::text, method),
		active           = COALESCE($6::boolean, active),
		updated_at       = $7
	WHERE id = $1
	RETURNING ` + taskColumns
	updated, err := scanTask(s.pool.QueryRow(ctx, query,
		id, u.Label, u.ConversationIDs, u.WindowHours, method, u.Active, ts(now),
	))
	switch {
	case isUniqueViolation(err):
		return nil, task.ErrDuplicateLabel
	case errors.Is(err, pgx.ErrNoRows):
		return nil, task.ErrNotFound
	case err != nil:
		return nil, fail(span, fmt.Errorf("update task: %w", err))
	}
	return updated, nil
}

// DeleteTask removes the task; its message history goes with it through
// the foreign key cascade.
func (s *Store) DeleteTask(ctx context.Context, ownerID, label string) (*task.Task, error) {
	ctx, span := startSpan(ctx, "DeleteTask", "DELETE")
	defer span.End()

	query := `DELETE FROM tasks WHERE owner_id = $1 AND label = $2 RETURNING ` + taskColumns
	deleted, err := scanTask(s.pool.QueryRow(ctx, query, ownerID, label))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, task.ErrNotFound
	}
	if err != nil {
		return nil, fail(span, fmt.Errorf("delete task: %w", err))
	}
	return deleted, nil
}

// GetTask retrieves a task by id.
func (s *Store) GetTask(ctx context.Context, id int64) (*task.Task, bool, error) {
	ctx, span := startSpan(ctx, "GetTask", "SELECT")
	defer span.End()

	t, err := scanTask(s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fail(span, fmt.Errorf("get task: %w", err))
	}
	return t, true, nil
}

// ListTasks returns the owner's tasks ordered by id.
func (s *Store) ListTasks(ctx context.Context, ownerID string) ([]*task.Task, error) {
	ctx, span := startSpan(ctx, "ListTasks", "SELECT")
	defer span.End()

	out, err := s.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks WHERE owner_id = $1 ORDER BY id`, ownerID)
	if err != nil {
		return nil, fail(span, err)
	}
	return out, nil
}

// ListActiveTasks returns every active task ordered by id.
func (s *Store) ListActiveTasks(ctx context.Context) ([]*task.Task, error) {
	ctx, span := startSpan(ctx, "ListActiveTasks", "SELECT")
	defer span.End()

	out, err := s.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks WHERE active ORDER BY id`)
	if err != nil {
		return nil, fail(span, err)
	}
	return out, nil
}

func (s *Store) queryTasks(ctx context.Context, query string, args ...any) ([]*task.Task, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	out := make([]*task.Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTask(row pgx.Row) (*task.Task, error) {
	var (
		t      task.Task
		method string
	)
	if err := row.Scan(&t.ID, &t.OwnerID, &t.Label, &t.ConversationIDs, &t.WindowHours,
		&method, &t.Active, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Method = task.Method(method)
	t.CreatedAt = utc(t.CreatedAt)
	t.UpdatedAt = utc(t.UpdatedAt)
	return &t, nil
}
