package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/linnemanlabs/dupwatch/internal/task"
)

const taskColumns = `id, owner_id, label, conversation_ids, window_hours, method, active, created_at, updated_at`

// CreateTask inserts t and returns it with its assigned id.
func (s *Store) CreateTask(ctx context.Context, t *task.Task) (*task.Task, error) {
	convs, err := json.Marshal(t.ConversationIDs)
	if err != nil {
		return nil, fmt.Errorf("marshal conversations: %w", err)
	}
	var out *task.Task
	err = s.do(ctx, "CreateTask", "INSERT", func(ctx context.Context) error {
		var err error
		out, err = scanTask(s.db.QueryRowContext(ctx,
			`INSERT INTO tasks (owner_id, label, conversation_ids, window_hours, method, active, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			RETURNING `+taskColumns,
			t.OwnerID, t.Label, string(convs), t.WindowHours, string(t.Method), t.Active,
			nanos(t.CreatedAt), nanos(t.UpdatedAt)))
		if isUniqueViolation(err) {
			return task.ErrDuplicateLabel
		}
		if err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
		return nil
	})
	return out, err
}

// UpdateTask applies the non-nil fields of u in one statement.
func (s *Store) UpdateTask(ctx context.Context, id int64, u *task.Update, now time.Time) (*task.Task, error) {
	var convs, method *string
	if u.ConversationIDs != nil {
		b, err := json.Marshal(u.ConversationIDs)
		if err != nil {
			return nil, fmt.Errorf("marshal conversations: %w", err)
		}
		v := string(b)
		convs = &v
	}
	if u.Method != nil {
		v := string(*u.Method)
		method = &v
	}

	var out *task.Task
	err := s.do(ctx, "UpdateTask", "UPDATE", func(ctx context.Context) error {
		var err error
		out, err = scanTask(s.db.QueryRowContext(ctx,
			`UPDATE tasks SET
				label            = COALESCE(?, label),
				conversation_ids = COALESCE(?, conversation_ids),
				window_hours     = COALESCE(?, window_hours),
				method           = COALESCE(?, method),
				active           = COALESCE(?, active),
				updated_at       = ?
			WHERE id = ?
			RETURNING `+taskColumns,
			u.Label, convs, u.WindowHours, method, u.Active, nanos(now), id))
		switch {
		case isUniqueViolation(err):
			return task.ErrDuplicateLabel
		case errors.Is(err, sql.ErrNoRows):
			return task.ErrNotFound
		case err != nil:
			return fmt.Errorf("update task: %w", err)
		}
		return nil
	})
	return out, err
}

// DeleteTask removes the task; its message history goes with it through
// the foreign key cascade.
func (s *Store) DeleteTask(ctx context.Context, ownerID, label string) (*task.Task, error) {
	var out *task.Task
	err := s.do(ctx, "DeleteTask", "DELETE", func(ctx context.Context) error {
		var err error
		out, err = scanTask(s.db.QueryRowContext(ctx,
			`DELETE FROM tasks WHERE owner_id = ? AND label = ? RETURNING `+taskColumns, ownerID, label))
		if errors.Is(err, sql.ErrNoRows) {
			return task.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("delete task: %w", err)
		}
		return nil
	})
	return out, err
}

// GetTask retrieves a task by id.
func (s *Store) GetTask(ctx context.Context, id int64) (*task.Task, bool, error) {
	var out *task.Task
	err := s.do(ctx, "GetTask", "SELECT", func(ctx context.Context) error {
		var err error
		out, err = scanTask(s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			out = nil
			return nil
		}
		if err != nil {
			return fmt.Errorf("get task: %w", err)
		}
		return nil
	})
	if err != nil || out == nil {
		return nil, false, err
	}
	return out, true, nil
}

// ListTasks returns the owner's tasks ordered by id.
func (s *Store) ListTasks(ctx context.Context, ownerID string) ([]*task.Task, error) {
	var out []*task.Task
	err := s.do(ctx, "ListTasks", "SELECT", func(ctx context.Context) error {
		var err error
		out, err = s.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks WHERE owner_id = ? ORDER BY id`, ownerID)
		return err
	})
	return out, err
}

// ListActiveTasks returns every active task ordered by id.
func (s *Store) ListActiveTasks(ctx context.Context) ([]*task.Task, error) {
	var out []*task.Task
	err := s.do(ctx, "ListActiveTasks", "SELECT", func(ctx context.Context) error {
		var err error
		out, err = s.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks WHERE active = 1 ORDER BY id`)
		return err
	})
	return out, err
}

func (s *Store) queryTasks(ctx context.Context, query string, args ...any) ([]*task.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
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

func scanTask(row rowScanner) (*task.Task, error) {
	var (
		t                task.Task
		convs, method    string
		created, updated int64
	)
	if err := row.Scan(&t.ID, &t.OwnerID, &t.Label, &convs, &t.WindowHours,
		&method, &t.Active, &created, &updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(convs), &t.ConversationIDs); err != nil {
		return nil, fmt.Errorf("decode conversations: %w", err)
	}
	t.Method = task.Method(method)
	t.CreatedAt = fromNanos(created)
	t.UpdatedAt = fromNanos(updated)
	return &t, nil
}
