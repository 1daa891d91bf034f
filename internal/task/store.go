package task

import (
	"context"
	"time"
)

// Store is the persistence interface for monitor tasks.
//
// CreateTask and UpdateTask return ErrDuplicateLabel when the owner already
// holds the label. UpdateTask and DeleteTask return ErrNotFound when nothing
// matched. DeleteTask removes the task's message history in the same
// statement; alerts are kept.
type Store interface {
	CreateTask(ctx context.Context, t *Task) (*Task, error)
	UpdateTask(ctx context.Context, id int64, u *Update, now time.Time) (*Task, error)
	DeleteTask(ctx context.Context, ownerID, label string) (*Task, error)
	GetTask(ctx context.Context, id int64) (*Task, bool, error)
	ListTasks(ctx context.Context, ownerID string) ([]*Task, error)
	ListActiveTasks(ctx context.Context) ([]*Task, error)
}
