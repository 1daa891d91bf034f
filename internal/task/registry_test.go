package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/linnemanlabs/dupwatch/internal/clock"
)

func seedStore(t *testing.T, m *mockStore, tasks ...*Task) {
	t.Helper()
	for _, tk := range tasks {
		if _, err := m.CreateTask(context.Background(), tk); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func TestRegistry_ForOwnerCaches(t *testing.T) {
	t.Parallel()

	m := newMockStore()
	seedStore(t, m, &Task{OwnerID: "alice", Label: "a", ConversationIDs: []string{"c1"}, Active: true})
	r := NewRegistry(m, nil, 0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := r.ForOwner(ctx, "alice")
		if err != nil {
			t.Fatalf("ForOwner: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("len = %d, want 1", len(got))
		}
	}
	if list, _ := m.calls(); list != 1 {
		t.Errorf("ListTasks calls = %d, want 1", list)
	}
}

func TestRegistry_InvalidateForcesReload(t *testing.T) {
	t.Parallel()

	m := newMockStore()
	r := NewRegistry(m, nil, 0)
	ctx := context.Background()

	if _, err := r.ForOwner(ctx, "alice"); err != nil {
		t.Fatalf("ForOwner: %v", err)
	}
	seedStore(t, m, &Task{OwnerID: "alice", Label: "late", ConversationIDs: []string{"c1"}, Active: true})

	got, _ := r.ForOwner(ctx, "alice")
	if len(got) != 0 {
		t.Fatalf("expected stale empty list before Invalidate, got %d", len(got))
	}

	r.Invalidate("alice")
	got, _ = r.ForOwner(ctx, "alice")
	if len(got) != 1 {
		t.Errorf("after Invalidate len = %d, want 1", len(got))
	}
}

func TestRegistry_WatchingIndexesActiveTasks(t *testing.T) {
	t.Parallel()

	m := newMockStore()
	seedStore(t, m,
		&Task{OwnerID: "alice", Label: "a", ConversationIDs: []string{"c1", "c2"}, Active: true},
		&Task{OwnerID: "bob", Label: "b", ConversationIDs: []string{"c2"}, Active: true},
		&Task{OwnerID: "bob", Label: "off", ConversationIDs: []string{"c1"}, Active: false},
	)
	r := NewRegistry(m, nil, 0)
	ctx := context.Background()

	c1, err := r.Watching(ctx, "c1")
	if err != nil {
		t.Fatalf("Watching: %v", err)
	}
	if len(c1) != 1 || c1[0].Label != "a" {
		t.Errorf("Watching(c1) = %v, want [a]", c1)
	}
	c2, _ := r.Watching(ctx, "c2")
	if len(c2) != 2 {
		t.Errorf("Watching(c2) len = %d, want 2", len(c2))
	}
	none, _ := r.Watching(ctx, "c3")
	if len(none) != 0 {
		t.Errorf("Watching(c3) len = %d, want 0", len(none))
	}
	if _, active := m.calls(); active != 1 {
		t.Errorf("ListActiveTasks calls = %d, want 1", active)
	}
}

func TestRegistry_MaxAgeExpires(t *testing.T) {
	t.Parallel()

	m := newMockStore()
	clk := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	r := NewRegistry(m, clk, time.Minute)
	ctx := context.Background()

	_, _ = r.Watching(ctx, "c1")
	clk.Advance(30 * time.Second)
	_, _ = r.Watching(ctx, "c1")
	if _, active := m.calls(); active != 1 {
		t.Fatalf("ListActiveTasks calls = %d, want 1 inside maxAge", active)
	}

	clk.Advance(31 * time.Second)
	_, _ = r.Watching(ctx, "c1")
	if _, active := m.calls(); active != 2 {
		t.Errorf("ListActiveTasks calls = %d, want 2 after maxAge", active)
	}
}

func TestRegistry_ErrorNotCached(t *testing.T) {
	t.Parallel()

	m := newMockStore()
	m.listErr = errors.New("db down")
	r := NewRegistry(m, nil, 0)

	if _, err := r.ForOwner(context.Background(), "alice"); err == nil {
		t.Fatal("expected error")
	}
	m.mu.Lock()
	m.listErr = nil
	m.mu.Unlock()
	if _, err := r.ForOwner(context.Background(), "alice"); err != nil {
		t.Fatalf("ForOwner after recovery: %v", err)
	}
	if list, _ := m.calls(); list != 2 {
		t.Errorf("ListTasks calls = %d, want 2", list)
	}
}

func TestRegistry_ReturnsCopies(t *testing.T) {
	t.Parallel()

	m := newMockStore()
	seedStore(t, m, &Task{OwnerID: "alice", Label: "a", ConversationIDs: []string{"c1"}, Active: true})
	r := NewRegistry(m, nil, 0)
	ctx := context.Background()

	got, _ := r.ForOwner(ctx, "alice")
	got[0].Label = "mutated"

	again, _ := r.ForOwner(ctx, "alice")
	if again[0].Label != "a" {
		t.Errorf("cached task mutated through returned copy: %q", again[0].Label)
	}
}
