package task

import (
	"context"
	"sync"
	"time"
)

// mockStore implements Store for testing.
type mockStore struct {
	mu         sync.Mutex
	nextID     int64
	tasks      map[int64]*Task
	listCalls  int
	activeCall int
	listErr    error
}

func newMockStore() *mockStore {
	return &mockStore{tasks: make(map[int64]*Task)}
}

func (m *mockStore) CreateTask(_ context.Context, t *Task) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.tasks {
		if e.OwnerID == t.OwnerID && e.Label == t.Label {
			return nil, ErrDuplicateLabel
		}
	}
	m.nextID++
	cp := t.Clone()
	cp.ID = m.nextID
	m.tasks[cp.ID] = cp
	return cp.Clone(), nil
}

func (m *mockStore) UpdateTask(_ context.Context, id int64, u *Update, now time.Time) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	if u.Label != nil {
		for _, e := range m.tasks {
			if e.ID != id && e.OwnerID == t.OwnerID && e.Label == *u.Label {
				return nil, ErrDuplicateLabel
			}
		}
	}
	u.Apply(t)
	t.UpdatedAt = now
	return t.Clone(), nil
}

func (m *mockStore) DeleteTask(_ context.Context, ownerID, label string) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.tasks {
		if t.OwnerID == ownerID && t.Label == label {
			delete(m.tasks, id)
			return t, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockStore) GetTask(_ context.Context, id int64) (*Task, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, false, nil
	}
	return t.Clone(), true, nil
}

func (m *mockStore) ListTasks(_ context.Context, ownerID string) ([]*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*Task
	for _, t := range m.tasks {
		if t.OwnerID == ownerID {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

func (m *mockStore) ListActiveTasks(_ context.Context) ([]*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeCall++
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*Task
	for _, t := range m.tasks {
		if t.Active {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

func (m *mockStore) calls() (list, active int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listCalls, m.activeCall
}
