package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/dupwatch/internal/clock"
)

func newTestService(t *testing.T) (*Service, *mockStore) {
	t.Helper()
	m := newMockStore()
	clk := clock.Fake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	return NewService(m, NewRegistry(m, clk, 0), clk, log.Nop()), m
}

func TestNewService_NilStorePanics(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for nil store")
		}
	}()
	NewService(nil, nil, nil, nil)
}

func TestCreateTask_Defaults(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	tk, err := svc.CreateTask(context.Background(), "alice", "support", []string{"c1"}, 0, "")
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if tk.ID == 0 {
		t.Error("expected assigned id")
	}
	if tk.WindowHours != DefaultWindowHours {
		t.Errorf("WindowHours = %d, want %d", tk.WindowHours, DefaultWindowHours)
	}
	if tk.Method != MethodContentHash {
		t.Errorf("Method = %q, want content-hash", tk.Method)
	}
	if !tk.Active {
		t.Error("new task should be active")
	}
	if tk.CreatedAt.IsZero() || tk.CreatedAt.Location() != time.UTC {
		t.Errorf("CreatedAt = %v, want UTC", tk.CreatedAt)
	}
}

func TestCreateTask_Validation(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		owner  string
		label  string
		convs  []string
		window int
		method Method
	}{
		{"missing owner", "", "l", []string{"c"}, 1, ""},
		{"missing label", "o", " ", []string{"c"}, 1, ""},
		{"label with space", "o", "a b", []string{"c"}, 1, ""},
		{"no conversations", "o", "l", nil, 1, ""},
		{"window too large", "o", "l", []string{"c"}, MaxWindowHours + 1, ""},
		{"negative window", "o", "l", []string{"c"}, -1, ""},
		{"bad method", "o", "l", []string{"c"}, 1, "soundex"},
	}
	for _, tt := range tests {
		_, err := svc.CreateTask(ctx, tt.owner, tt.label, tt.convs, tt.window, tt.method)
		if !errors.Is(err, ErrInvalid) {
			t.Errorf("%s: err = %v, want ErrInvalid", tt.name, err)
		}
	}
}

func TestCreateTask_DuplicateLabel(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateTask(ctx, "alice", "support", []string{"c1"}, 1, ""); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if _, err := svc.CreateTask(ctx, "alice", "support", []string{"c2"}, 1, ""); !errors.Is(err, ErrDuplicateLabel) {
		t.Fatalf("second CreateTask err = %v, want ErrDuplicateLabel", err)
	}
	if _, err := svc.CreateTask(ctx, "bob", "support", []string{"c2"}, 1, ""); err != nil {
		t.Fatalf("other owner may reuse label: %v", err)
	}
}

func TestMutationsInvalidateRegistry(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	// prime the cache with an empty list
	if got, _ := svc.ListTasks(ctx, "alice"); len(got) != 0 {
		t.Fatalf("expected no tasks, got %d", len(got))
	}
	if w, _ := svc.registry.Watching(ctx, "c1"); len(w) != 0 {
		t.Fatalf("expected nothing watching c1, got %d", len(w))
	}

	tk, err := svc.CreateTask(ctx, "alice", "support", []string{"c1"}, 1, "")
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if got, _ := svc.ListTasks(ctx, "alice"); len(got) != 1 {
		t.Fatalf("after create len = %d, want 1", len(got))
	}
	if w, _ := svc.registry.Watching(ctx, "c1"); len(w) != 1 {
		t.Fatalf("after create watching = %d, want 1", len(w))
	}

	if _, err := svc.SetActive(ctx, tk.ID, false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	if w, _ := svc.registry.Watching(ctx, "c1"); len(w) != 0 {
		t.Errorf("paused task still watching c1")
	}

	if _, err := svc.DeleteTask(ctx, "alice", "support"); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	if got, _ := svc.ListTasks(ctx, "alice"); len(got) != 0 {
		t.Errorf("after delete len = %d, want 0", len(got))
	}
}

func TestUpdateTask_Errors(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.UpdateTask(ctx, 1, &Update{}); !errors.Is(err, ErrInvalid) {
		t.Errorf("empty update err = %v, want ErrInvalid", err)
	}
	w := 2
	if _, err := svc.UpdateTask(ctx, 99, &Update{WindowHours: &w}); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing task err = %v, want ErrNotFound", err)
	}
	if _, err := svc.UpdateTask(ctx, 0, &Update{WindowHours: &w}); !errors.Is(err, ErrInvalid) {
		t.Errorf("zero id err = %v, want ErrInvalid", err)
	}
}

func TestDeleteTask_NotFound(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	if _, err := svc.DeleteTask(context.Background(), "alice", "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestApplySeed_CreateOnly(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()
	seed := []SeedTask{
		{Owner: "alice", Label: "a", Conversations: []string{"c1"}, WindowHours: 2},
		{Owner: "alice", Label: "b", Conversations: []string{"c2"}, Method: "exact-text"},
	}

	n, err := svc.ApplySeed(ctx, seed)
	if err != nil || n != 2 {
		t.Fatalf("first ApplySeed = %d, %v; want 2, nil", n, err)
	}
	n, err = svc.ApplySeed(ctx, seed)
	if err != nil || n != 0 {
		t.Fatalf("second ApplySeed = %d, %v; want 0, nil", n, err)
	}

	n, err = svc.ApplySeed(ctx, []SeedTask{{Owner: "alice", Label: "c", Conversations: []string{"c"}, Method: "bogus"}})
	if err == nil || n != 0 {
		t.Errorf("bad seed = %d, %v; want 0 and an error", n, err)
	}
}

func TestFindTask(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()
	if _, err := svc.CreateTask(ctx, "alice", "support", []string{"c1"}, 0, ""); err != nil {
		t.Fatal(err)
	}

	tk, err := svc.FindTask(ctx, "alice", " support ")
	if err != nil || tk.Label != "support" {
		t.Fatalf("FindTask = %+v, %v", tk, err)
	}
	if _, err := svc.FindTask(ctx, "bob", "support"); !errors.Is(err, ErrNotFound) {
		t.Errorf("other owner: err = %v", err)
	}
	if _, err := svc.FindTask(ctx, "alice", "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing label: err = %v", err)
	}
}
