package access

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type mockStore struct {
	mu      sync.Mutex
	users   map[string]*User
	listErr error
}

func newMockStore(users ...*User) *mockStore {
	m := &mockStore{users: make(map[string]*User)}
	for _, u := range users {
		m.users[u.UserID] = u
	}
	return m
}

func (m *mockStore) AddAllowedUser(_ context.Context, u *User) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.UserID]; ok {
		return false, nil
	}
	cp := *u
	m.users[u.UserID] = &cp
	return true, nil
}

func (m *mockStore) RemoveAllowedUser(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return false, nil
	}
	delete(m.users, id)
	return true, nil
}

func (m *mockStore) ListAllowedUsers(_ context.Context) ([]*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*User
	for _, u := range m.users {
		cp := *u
		out = append(out, &cp)
	}
	return out, nil
}

func (m *mockStore) IsAllowedUser(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.users[id]
	return ok, nil
}

func TestRecipients_PrefersOperators(t *testing.T) {
	t.Parallel()

	c := NewChecker([]string{"op1", " ", "op2", "op1"}, newMockStore(&User{UserID: "u1"}))
	got, err := c.Recipients(context.Background())
	if err != nil {
		t.Fatalf("Recipients: %v", err)
	}
	if len(got) != 2 || got[0] != "op1" || got[1] != "op2" {
		t.Errorf("Recipients = %v, want [op1 op2]", got)
	}
}

func TestRecipients_FallsBackToAllowList(t *testing.T) {
	t.Parallel()

	c := NewChecker(nil, newMockStore(&User{UserID: "u1"}))
	got, err := c.Recipients(context.Background())
	if err != nil {
		t.Fatalf("Recipients: %v", err)
	}
	if len(got) != 1 || got[0] != "u1" {
		t.Errorf("Recipients = %v, want [u1]", got)
	}
}

func TestRecipients_StoreError(t *testing.T) {
	t.Parallel()

	m := newMockStore()
	m.listErr = errors.New("boom")
	if _, err := NewChecker(nil, m).Recipients(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestAllowed(t *testing.T) {
	t.Parallel()

	c := NewChecker([]string{"op"}, newMockStore(&User{UserID: "u1"}))
	ctx := context.Background()

	for id, want := range map[string]bool{"op": true, "u1": true, "stranger": false, "": false} {
		got, err := c.Allowed(ctx, id)
		if err != nil {
			t.Fatalf("Allowed(%q): %v", id, err)
		}
		if got != want {
			t.Errorf("Allowed(%q) = %v, want %v", id, got, want)
		}
	}
}

func TestAddRemove_RequiresAdmin(t *testing.T) {
	t.Parallel()

	c := NewChecker([]string{"op"}, newMockStore(&User{UserID: "plain"}, &User{UserID: "boss", IsAdmin: true}))
	ctx := context.Background()
	now := time.Now()

	if _, err := c.Add(ctx, "plain", "new", false, now); !errors.Is(err, ErrForbidden) {
		t.Errorf("non-admin Add err = %v, want ErrForbidden", err)
	}
	if added, err := c.Add(ctx, "boss", "new", false, now); err != nil || !added {
		t.Errorf("admin Add = %v, %v; want true, nil", added, err)
	}
	if added, err := c.Add(ctx, "op", "new", false, now); err != nil || added {
		t.Errorf("repeat Add = %v, %v; want false, nil", added, err)
	}
	if _, err := c.Add(ctx, "op", " ", false, now); !errors.Is(err, ErrInvalid) {
		t.Errorf("blank Add err = %v, want ErrInvalid", err)
	}
	if _, err := c.Remove(ctx, "op", "op"); !errors.Is(err, ErrInvalid) {
		t.Errorf("removing operator err = %v, want ErrInvalid", err)
	}
	if removed, err := c.Remove(ctx, "op", "new"); err != nil || !removed {
		t.Errorf("Remove = %v, %v; want true, nil", removed, err)
	}
}
