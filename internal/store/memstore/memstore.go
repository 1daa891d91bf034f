// Package memstore provides an in-memory implementation of store.Store.
// Every method runs under one mutex, which makes each operation atomic the
// way a single SQL statement is. Suitable for dev/testing; state does not
// survive a restart and cannot be shared across processes.
package memstore

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/linnemanlabs/dupwatch/internal/access"
	"github.com/linnemanlabs/dupwatch/internal/alert"
	"github.com/linnemanlabs/dupwatch/internal/dedup"
	"github.com/linnemanlabs/dupwatch/internal/task"
)

type messageKey struct {
	taskID int64
	conv   string
	digest string
}

type alertKey struct {
	taskID int64
	conv   string
	dupMsg string
}

// Store holds tasks, message history, alerts and the allow-list in memory.
type Store struct {
	mu sync.RWMutex

	nextTaskID  int64
	nextAlertID int64

	tasks    map[int64]*task.Task
	messages map[messageKey]*dedup.Record
	alerts   map[int64]*alert.Alert
	alertIdx map[alertKey]int64
	users    map[string]*access.User
}

// New initializes an empty Store.
func New() *Store {
	return &Store{
		tasks:    make(map[int64]*task.Task),
		messages: make(map[messageKey]*dedup.Record),
		alerts:   make(map[int64]*alert.Alert),
		alertIdx: make(map[alertKey]int64),
		users:    make(map[string]*access.User),
	}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() {}

//  tasks

// CreateTask stores a copy of t with a new id.
func (s *Store) CreateTask(_ context.Context, t *task.Task) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.labelTaken(t.OwnerID, t.Label, 0) {
		return nil, task.ErrDuplicateLabel
	}
	s.nextTaskID++
	cp := t.Clone()
	cp.ID = s.nextTaskID
	s.tasks[cp.ID] = cp
	return cp.Clone(), nil
}

// UpdateTask applies u to the task.
func (s *Store) UpdateTask(_ context.Context, id int64, u *task.Update, now time.Time) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, task.ErrNotFound
	}
	if u.Label != nil && s.labelTaken(t.OwnerID, *u.Label, id) {
		return nil, task.ErrDuplicateLabel
	}
	u.Apply(t)
	t.UpdatedAt = now
	return t.Clone(), nil
}

// DeleteTask removes the task and its message history.
func (s *Store) DeleteTask(_ context.Context, ownerID, label string) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.tasks {
		if t.OwnerID != ownerID || t.Label != label {
			continue
		}
		delete(s.tasks, id)
		for k := range s.messages {
			if k.taskID == id {
				delete(s.messages, k)
			}
		}
		return t.Clone(), nil
	}
	return nil, task.ErrNotFound
}

// GetTask returns a copy of the task.
func (s *Store) GetTask(_ context.Context, id int64) (*task.Task, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, false, nil
	}
	return t.Clone(), true, nil
}

// ListTasks returns the owner's tasks ordered by id.
func (s *Store) ListTasks(_ context.Context, ownerID string) ([]*task.Task, error) {
	return s.filterTasks(func(t *task.Task) bool { return t.OwnerID == ownerID }), nil
}

// ListActiveTasks returns all active tasks ordered by id.
func (s *Store) ListActiveTasks(_ context.Context) ([]*task.Task, error) {
	return s.filterTasks(func(t *task.Task) bool { return t.Active }), nil
}

func (s *Store) filterTasks(keep func(*task.Task) bool) []*task.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*task.Task, 0)
	for _, t := range s.tasks {
		if keep(t) {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) labelTaken(ownerID, label string, except int64) bool {
	for id, t := range s.tasks {
		if id != except && t.OwnerID == ownerID && t.Label == label {
			return true
		}
	}
	return false
}

//  messages

// InsertMessage lands rec unless a record with the same key was observed
// after cutoff and no later than rec.
func (s *Store) InsertMessage(_ context.Context, rec *dedup.Record, cutoff time.Time) (*dedup.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := messageKey{rec.TaskID, rec.ConversationID, rec.Digest}
	if held, ok := s.messages[k]; ok && held.ObservedAt.After(cutoff) && !held.ObservedAt.After(rec.ObservedAt) {
		cp := *held
		return &cp, false, nil
	}
	cp := *rec
	s.messages[k] = &cp
	return nil, true, nil
}

// PruneMessages deletes the task's records observed before the given time.
func (s *Store) PruneMessages(_ context.Context, taskID int64, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, r := range s.messages {
		if k.taskID == taskID && r.ObservedAt.Before(before) {
			delete(s.messages, k)
			n++
		}
	}
	return n, nil
}

//  alerts

// CreateAlert stores a pending alert, or returns the id of the alert
// already recorded for the same duplicate message.
func (s *Store) CreateAlert(_ context.Context, a *alert.NewAlert) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := alertKey{a.TaskID, a.ConversationID, a.DuplicateMessageID}
	if id, ok := s.alertIdx[k]; ok {
		return id, false, nil
	}
	s.nextAlertID++
	id := s.nextAlertID
	s.alerts[id] = &alert.Alert{
		ID:                 id,
		TaskID:             a.TaskID,
		OwnerID:            a.OwnerID,
		TaskLabel:          a.TaskLabel,
		ConversationID:     a.ConversationID,
		DuplicateMessageID: a.DuplicateMessageID,
		OriginalMessageID:  a.OriginalMessageID,
		Text:               a.Text,
		SenderID:           a.SenderID,
		SenderName:         a.SenderName,
		Status:             alert.StatusPending,
		CreatedAt:          a.CreatedAt,
	}
	s.alertIdx[k] = id
	return id, true, nil
}

// GetAlert returns a copy of the alert.
func (s *Store) GetAlert(_ context.Context, id int64) (*alert.Alert, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, false, nil
	}
	return a.Clone(), true, nil
}

// MarkNotified moves a pending alert to notified.
func (s *Store) MarkNotified(_ context.Context, id int64, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return false, alert.NotifyOutcome(false)
	}
	if a.Status != alert.StatusPending {
		return false, nil
	}
	a.Status = alert.StatusNotified
	a.NotifiedAt = &at
	return true, nil
}

// SubmitReply stores the reply on a pending or notified alert.
func (s *Store) SubmitReply(_ context.Context, id int64, text string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return alert.ReplyRejection("", false)
	}
	if a.Status != alert.StatusPending && a.Status != alert.StatusNotified {
		return alert.ReplyRejection(a.Status, true)
	}
	a.Status = alert.StatusReplied
	a.ReplyText = text
	a.RepliedAt = &at
	return nil
}

// MarkDelivered moves a replied alert to delivered.
func (s *Store) MarkDelivered(_ context.Context, id int64, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return false, alert.DeliveryOutcome("", false)
	}
	if a.Status != alert.StatusReplied {
		return false, alert.DeliveryOutcome(a.Status, true)
	}
	a.Status = alert.StatusDelivered
	a.DeliveredAt = &at
	return true, nil
}

// ListByStatus returns up to limit alerts in status, oldest first.
func (s *Store) ListByStatus(_ context.Context, status alert.Status, limit int) ([]*alert.Alert, error) {
	return s.filterAlerts(limit, func(a *alert.Alert) bool { return a.Status == status }), nil
}

// ListAlerts returns the owner's alerts, oldest first.
func (s *Store) ListAlerts(_ context.Context, ownerID string, status alert.Status, limit int) ([]*alert.Alert, error) {
	return s.filterAlerts(limit, func(a *alert.Alert) bool {
		return a.OwnerID == ownerID && (status == "" || a.Status == status)
	}), nil
}

func (s *Store) filterAlerts(limit int, keep func(*alert.Alert) bool) []*alert.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*alert.Alert, 0)
	for _, a := range s.alerts {
		if keep(a) {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Stats counts the owner's message records and alerts.
func (s *Store) Stats(_ context.Context, ownerID string) (*alert.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := &alert.Stats{ByStatus: make(map[alert.Status]int64)}
	for k := range s.messages {
		if t, ok := s.tasks[k.taskID]; ok && t.OwnerID == ownerID {
			st.Messages++
		}
	}
	for _, a := range s.alerts {
		if a.OwnerID == ownerID {
			st.Alerts++
			st.ByStatus[a.Status]++
		}
	}
	return st, nil
}

//  allow-list

// AddAllowedUser adds u unless the user id is already present.
func (s *Store) AddAllowedUser(_ context.Context, u *access.User) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.UserID]; ok {
		return false, nil
	}
	cp := *u
	s.users[u.UserID] = &cp
	return true, nil
}

// RemoveAllowedUser deletes the user.
func (s *Store) RemoveAllowedUser(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return false, nil
	}
	delete(s.users, userID)
	return true, nil
}

// ListAllowedUsers returns the allow-list ordered by creation time.
func (s *Store) ListAllowedUsers(_ context.Context) ([]*access.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*access.User, 0, len(s.users))
	for _, u := range s.users {
		cp := *u
		out = append(out, &cp)
	}
	slices.SortFunc(out, func(a, b *access.User) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if a.UserID < b.UserID {
			return -1
		}
		if a.UserID > b.UserID {
			return 1
		}
		return 0
	})
	return out, nil
}

// IsAllowedUser reports whether the user is on the allow-list.
func (s *Store) IsAllowedUser(_ context.Context, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[userID]
	return ok, nil
}
