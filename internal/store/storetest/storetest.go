// Package storetest is a conformance suite run against every store.Store
// backend. Each backend's tests call Run with a factory that returns a
// fresh, empty store.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/linnemanlabs/dupwatch/internal/access"
	"github.com/linnemanlabs/dupwatch/internal/alert"
	"github.com/linnemanlabs/dupwatch/internal/dedup"
	"github.com/linnemanlabs/dupwatch/internal/store"
	"github.com/linnemanlabs/dupwatch/internal/task"
)

// Factory returns an empty store. It registers its own cleanup.
type Factory func(t *testing.T) store.Store

// base is whole seconds so every backend round-trips it exactly.
var base = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

// Run executes the suite. Subtests do not run in parallel because some
// backends share one database between factory calls.
func Run(t *testing.T, newStore Factory) {
	t.Helper()
	cases := []struct {
		name string
		fn   func(*testing.T, store.Store)
	}{
		{"TaskLifecycle", testTaskLifecycle},
		{"TaskDuplicateLabel", testTaskDuplicateLabel},
		{"TaskNotFound", testTaskNotFound},
		{"ListActiveTasks", testListActiveTasks},
		{"InsertMessage", testInsertMessage},
		{"InsertMessageStale", testInsertMessageStale},
		{"InsertMessageOutOfOrder", testInsertMessageOutOfOrder},
		{"InsertMessageConcurrent", testInsertMessageConcurrent},
		{"PruneMessages", testPruneMessages},
		{"DeleteTaskKeepsAlerts", testDeleteTaskKeepsAlerts},
		{"CreateAlertIdempotent", testCreateAlertIdempotent},
		{"AlertLifecycle", testAlertLifecycle},
		{"AlertRejections", testAlertRejections},
		{"SubmitReplyConcurrent", testSubmitReplyConcurrent},
		{"ListAlerts", testListAlerts},
		{"Stats", testStats},
		{"AllowList", testAllowList},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, newStore(t))
		})
	}
}

func mkTask(t *testing.T, s store.Store, owner, label string, convs ...string) *task.Task {
	t.Helper()
	if len(convs) == 0 {
		convs = []string{"oc_1"}
	}
	created, err := s.CreateTask(context.Background(), &task.Task{
		OwnerID:         owner,
		Label:           label,
		ConversationIDs: convs,
		WindowHours:     1,
		Method:          task.MethodContentHash,
		Active:          true,
		CreatedAt:       base,
		UpdatedAt:       base,
	})
	if err != nil {
		t.Fatalf("CreateTask(%s/%s): %v", owner, label, err)
	}
	return created
}

func mkRecord(taskID int64, msgID, digest string, at time.Time) *dedup.Record {
	return &dedup.Record{
		TaskID:         taskID,
		ConversationID: "oc_1",
		MessageID:      msgID,
		Digest:         digest,
		Text:           "text " + digest,
		SenderID:       "ou_sender",
		SenderName:     "Sender",
		ObservedAt:     at,
	}
}

func mkAlert(t *testing.T, s store.Store, tk *task.Task, dupID string, at time.Time) int64 {
	t.Helper()
	id, created, err := s.CreateAlert(context.Background(), &alert.NewAlert{
		TaskID:             tk.ID,
		OwnerID:            tk.OwnerID,
		TaskLabel:          tk.Label,
		ConversationID:     "oc_1",
		DuplicateMessageID: dupID,
		OriginalMessageID:  "om_orig",
		Text:               "hello",
		SenderID:           "ou_sender",
		SenderName:         "Sender",
		CreatedAt:          at,
	})
	if err != nil {
		t.Fatalf("CreateAlert(%s): %v", dupID, err)
	}
	if !created {
		t.Fatalf("CreateAlert(%s): created = false", dupID)
	}
	return id
}

func testTaskLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	tk := mkTask(t, s, "ou_a", "deploys", "oc_1", "oc_2")
	if tk.ID <= 0 {
		t.Fatalf("ID = %d, want > 0", tk.ID)
	}

	got, ok, err := s.GetTask(ctx, tk.ID)
	if err != nil || !ok {
		t.Fatalf("GetTask: ok=%v err=%v", ok, err)
	}
	if got.Label != "deploys" || got.OwnerID != "ou_a" || len(got.ConversationIDs) != 2 {
		t.Errorf("GetTask = %+v", got)
	}
	if !got.CreatedAt.Equal(base) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, base)
	}

	label := "releases"
	hours := 6
	method := task.MethodExactText
	active := false
	later := base.Add(time.Minute)
	upd, err := s.UpdateTask(ctx, tk.ID, &task.Update{
		Label:           &label,
		ConversationIDs: []string{"oc_3"},
		WindowHours:     &hours,
		Method:          &method,
		Active:          &active,
	}, later)
	if err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	if upd.Label != label || upd.WindowHours != 6 || upd.Method != method || upd.Active {
		t.Errorf("UpdateTask = %+v", upd)
	}
	if len(upd.ConversationIDs) != 1 || upd.ConversationIDs[0] != "oc_3" {
		t.Errorf("ConversationIDs = %v", upd.ConversationIDs)
	}
	if !upd.UpdatedAt.Equal(later) {
		t.Errorf("UpdatedAt = %v, want %v", upd.UpdatedAt, later)
	}

	mkTask(t, s, "ou_a", "zeta")
	mkTask(t, s, "ou_b", "other")
	list, err := s.ListTasks(ctx, "ou_a")
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(list) != 2 || list[0].ID != tk.ID {
		t.Fatalf("ListTasks = %d tasks, first %+v", len(list), list[0])
	}

	deleted, err := s.DeleteTask(ctx, "ou_a", "releases")
	if err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	if deleted.ID != tk.ID {
		t.Errorf("deleted ID = %d, want %d", deleted.ID, tk.ID)
	}
	if _, ok, _ := s.GetTask(ctx, tk.ID); ok {
		t.Error("task still present after delete")
	}
}

func testTaskDuplicateLabel(t *testing.T, s store.Store) {
	ctx := context.Background()
	mkTask(t, s, "ou_a", "one")
	second := mkTask(t, s, "ou_a", "two")
	mkTask(t, s, "ou_b", "one")

	_, err := s.CreateTask(ctx, &task.Task{
		OwnerID: "ou_a", Label: "one", ConversationIDs: []string{"oc_1"},
		WindowHours: 1, Method: task.MethodContentHash, Active: true,
		CreatedAt: base, UpdatedAt: base,
	})
	if !errors.Is(err, task.ErrDuplicateLabel) {
		t.Errorf("CreateTask dup err = %v, want ErrDuplicateLabel", err)
	}

	label := "one"
	if _, err := s.UpdateTask(ctx, second.ID, &task.Update{Label: &label}, base); !errors.Is(err, task.ErrDuplicateLabel) {
		t.Errorf("UpdateTask dup err = %v, want ErrDuplicateLabel", err)
	}
}

func testTaskNotFound(t *testing.T, s store.Store) {
	ctx := context.Background()
	if _, ok, err := s.GetTask(ctx, 404); ok || err != nil {
		t.Errorf("GetTask missing: ok=%v err=%v", ok, err)
	}
	active := false
	if _, err := s.UpdateTask(ctx, 404, &task.Update{Active: &active}, base); !errors.Is(err, task.ErrNotFound) {
		t.Errorf("UpdateTask missing err = %v", err)
	}
	if _, err := s.DeleteTask(ctx, "ou_a", "nope"); !errors.Is(err, task.ErrNotFound) {
		t.Errorf("DeleteTask missing err = %v", err)
	}
	mkTask(t, s, "ou_a", "mine")
	if _, err := s.DeleteTask(ctx, "ou_b", "mine"); !errors.Is(err, task.ErrNotFound) {
		t.Errorf("DeleteTask other owner err = %v", err)
	}
	list, err := s.ListTasks(ctx, "ou_nobody")
	if err != nil || len(list) != 0 {
		t.Errorf("ListTasks empty owner = %v, %v", list, err)
	}
}

func testListActiveTasks(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := mkTask(t, s, "ou_a", "a")
	b := mkTask(t, s, "ou_b", "b")
	c := mkTask(t, s, "ou_a", "c")
	inactive := false
	if _, err := s.UpdateTask(ctx, b.ID, &task.Update{Active: &inactive}, base); err != nil {
		t.Fatal(err)
	}
	list, err := s.ListActiveTasks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != a.ID || list[1].ID != c.ID {
		t.Errorf("ListActiveTasks = %v", ids(list))
	}
}

func ids(ts []*task.Task) []int64 {
	out := make([]int64, len(ts))
	for i, t := range ts {
		out[i] = t.ID
	}
	return out
}

func testInsertMessage(t *testing.T, s store.Store) {
	ctx := context.Background()
	tk := mkTask(t, s, "ou_a", "a")
	cutoff := base.Add(-time.Hour)

	orig, inserted, err := s.InsertMessage(ctx, mkRecord(tk.ID, "om_1", "d1", base), cutoff)
	if err != nil || !inserted || orig != nil {
		t.Fatalf("first insert: orig=%v inserted=%v err=%v", orig, inserted, err)
	}

	at := base.Add(10 * time.Minute)
	orig, inserted, err = s.InsertMessage(ctx, mkRecord(tk.ID, "om_2", "d1", at), at.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if inserted {
		t.Fatal("second insert within window landed")
	}
	if orig == nil || orig.MessageID != "om_1" || !orig.ObservedAt.Equal(base) {
		t.Fatalf("original = %+v, want om_1 at %v", orig, base)
	}
	if orig.Text != "text d1" || orig.SenderName != "Sender" {
		t.Errorf("original fields = %+v", orig)
	}

	// A different digest or conversation is a different key.
	if _, inserted, _ := s.InsertMessage(ctx, mkRecord(tk.ID, "om_3", "d2", at), at.Add(-time.Hour)); !inserted {
		t.Error("different digest did not land")
	}
	other := mkRecord(tk.ID, "om_4", "d1", at)
	other.ConversationID = "oc_2"
	if _, inserted, _ := s.InsertMessage(ctx, other, at.Add(-time.Hour)); !inserted {
		t.Error("different conversation did not land")
	}
}

func testInsertMessageStale(t *testing.T, s store.Store) {
	ctx := context.Background()
	tk := mkTask(t, s, "ou_a", "a")
	if _, _, err := s.InsertMessage(ctx, mkRecord(tk.ID, "om_1", "d", base), base.Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}

	// Exactly one window later the held record sits on the cutoff and is stale.
	at := base.Add(time.Hour)
	orig, inserted, err := s.InsertMessage(ctx, mkRecord(tk.ID, "om_2", "d", at), at.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if !inserted || orig != nil {
		t.Fatalf("stale replace: orig=%v inserted=%v", orig, inserted)
	}

	// The replacement is now the original.
	at2 := at.Add(time.Minute)
	orig, inserted, err = s.InsertMessage(ctx, mkRecord(tk.ID, "om_3", "d", at2), at2.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if inserted || orig == nil || orig.MessageID != "om_2" {
		t.Fatalf("after replace: orig=%+v inserted=%v", orig, inserted)
	}
}

func testInsertMessageOutOfOrder(t *testing.T, s store.Store) {
	ctx := context.Background()
	tk := mkTask(t, s, "ou_a", "a")

	late := base.Add(10 * time.Minute)
	if _, inserted, err := s.InsertMessage(ctx, mkRecord(tk.ID, "om_late", "d", late), late.Add(-time.Hour)); err != nil || !inserted {
		t.Fatalf("first arrival: inserted=%v err=%v", inserted, err)
	}

	// An earlier message handled second takes over the key.
	orig, inserted, err := s.InsertMessage(ctx, mkRecord(tk.ID, "om_early", "d", base), base.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if !inserted || orig != nil {
		t.Fatalf("earlier arrival: orig=%+v inserted=%v", orig, inserted)
	}

	at := base.Add(20 * time.Minute)
	orig, inserted, err = s.InsertMessage(ctx, mkRecord(tk.ID, "om_3", "d", at), at.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if inserted || orig == nil || orig.MessageID != "om_early" || !orig.ObservedAt.Equal(base) {
		t.Fatalf("after takeover: orig=%+v inserted=%v", orig, inserted)
	}

	// A record at the same instant is held, not replaced.
	orig, inserted, err = s.InsertMessage(ctx, mkRecord(tk.ID, "om_same", "d", base), base.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if inserted || orig == nil || orig.MessageID != "om_early" {
		t.Fatalf("same instant: orig=%+v inserted=%v", orig, inserted)
	}
}

func testInsertMessageConcurrent(t *testing.T, s store.Store) {
	ctx := context.Background()
	tk := mkTask(t, s, "ou_a", "a")
	const n = 16

	var (
		wg      sync.WaitGroup
		winners atomic.Int32
		errs    = make(chan error, n)
		start   = make(chan struct{})
	)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			rec := mkRecord(tk.ID, fmt.Sprintf("om_%d", i), "same", base)
			orig, inserted, err := s.InsertMessage(ctx, rec, base.Add(-time.Hour))
			if err != nil {
				errs <- err
				return
			}
			if inserted {
				winners.Add(1)
			} else if orig == nil {
				errs <- errors.New("conflict without original")
			}
		}()
	}
	close(start)
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	if got := winners.Load(); got != 1 {
		t.Errorf("winners = %d, want 1", got)
	}
}

func testPruneMessages(t *testing.T, s store.Store) {
	ctx := context.Background()
	tk := mkTask(t, s, "ou_a", "a")
	other := mkTask(t, s, "ou_a", "b")
	old := base.Add(-3 * time.Hour)
	for i, at := range []time.Time{old, old.Add(time.Minute), base} {
		rec := mkRecord(tk.ID, fmt.Sprintf("om_%d", i), fmt.Sprintf("d%d", i), at)
		if _, _, err := s.InsertMessage(ctx, rec, at.Add(-time.Hour)); err != nil {
			t.Fatal(err)
		}
	}
	if _, _, err := s.InsertMessage(ctx, mkRecord(other.ID, "om_x", "dx", old), old.Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}
	alertID := mkAlert(t, s, tk, "om_dup", old)

	n, err := s.PruneMessages(ctx, tk.ID, base.Add(-2*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("pruned = %d, want 2", n)
	}

	st, err := s.Stats(ctx, "ou_a")
	if err != nil {
		t.Fatal(err)
	}
	if st.Messages != 2 {
		t.Errorf("messages after prune = %d, want 2", st.Messages)
	}
	if _, ok, _ := s.GetAlert(ctx, alertID); !ok {
		t.Error("prune removed an alert")
	}
}

func testDeleteTaskKeepsAlerts(t *testing.T, s store.Store) {
	ctx := context.Background()
	tk := mkTask(t, s, "ou_a", "a")
	if _, _, err := s.InsertMessage(ctx, mkRecord(tk.ID, "om_1", "d", base), base.Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}
	id := mkAlert(t, s, tk, "om_2", base)

	if _, err := s.DeleteTask(ctx, "ou_a", "a"); err != nil {
		t.Fatal(err)
	}
	st, err := s.Stats(ctx, "ou_a")
	if err != nil {
		t.Fatal(err)
	}
	if st.Messages != 0 {
		t.Errorf("messages after delete = %d, want 0", st.Messages)
	}
	a, ok, err := s.GetAlert(ctx, id)
	if err != nil || !ok {
		t.Fatalf("alert gone after task delete: ok=%v err=%v", ok, err)
	}
	if a.TaskLabel != "a" || a.OwnerID != "ou_a" {
		t.Errorf("alert = %+v", a)
	}
	if st.Alerts != 1 {
		t.Errorf("alerts = %d, want 1", st.Alerts)
	}
}

func testCreateAlertIdempotent(t *testing.T, s store.Store) {
	ctx := context.Background()
	tk := mkTask(t, s, "ou_a", "a")
	id := mkAlert(t, s, tk, "om_dup", base)

	again, created, err := s.CreateAlert(ctx, &alert.NewAlert{
		TaskID: tk.ID, OwnerID: "ou_a", TaskLabel: "a", ConversationID: "oc_1",
		DuplicateMessageID: "om_dup", OriginalMessageID: "om_other", Text: "x",
		CreatedAt: base.Add(time.Minute),
	})
	if err != nil {
		t.Fatal(err)
	}
	if created || again != id {
		t.Errorf("repeat CreateAlert = (%d, %v), want (%d, false)", again, created, id)
	}

	a, _, _ := s.GetAlert(ctx, id)
	if a.OriginalMessageID != "om_orig" {
		t.Errorf("repeat overwrote alert: %+v", a)
	}
}

func testAlertLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	tk := mkTask(t, s, "ou_a", "a")
	id := mkAlert(t, s, tk, "om_dup", base)

	a, ok, err := s.GetAlert(ctx, id)
	if err != nil || !ok {
		t.Fatalf("GetAlert: ok=%v err=%v", ok, err)
	}
	if a.Status != alert.StatusPending || a.NotifiedAt != nil || a.ReplyText != "" {
		t.Fatalf("new alert = %+v", a)
	}
	if a.SenderName != "Sender" || a.Text != "hello" || !a.CreatedAt.Equal(base) {
		t.Errorf("fields = %+v", a)
	}

	t1 := base.Add(time.Second)
	changed, err := s.MarkNotified(ctx, id, t1)
	if err != nil || !changed {
		t.Fatalf("MarkNotified: changed=%v err=%v", changed, err)
	}
	changed, err = s.MarkNotified(ctx, id, t1.Add(time.Second))
	if err != nil || changed {
		t.Fatalf("repeat MarkNotified: changed=%v err=%v", changed, err)
	}

	t2 := base.Add(2 * time.Second)
	if err := s.SubmitReply(ctx, id, "please stop", t2); err != nil {
		t.Fatalf("SubmitReply: %v", err)
	}

	t3 := base.Add(3 * time.Second)
	changed, err = s.MarkDelivered(ctx, id, t3)
	if err != nil || !changed {
		t.Fatalf("MarkDelivered: changed=%v err=%v", changed, err)
	}
	changed, err = s.MarkDelivered(ctx, id, t3)
	if err != nil || changed {
		t.Fatalf("repeat MarkDelivered: changed=%v err=%v", changed, err)
	}

	a, _, _ = s.GetAlert(ctx, id)
	if a.Status != alert.StatusDelivered || a.ReplyText != "please stop" {
		t.Errorf("final alert = %+v", a)
	}
	if a.NotifiedAt == nil || !a.NotifiedAt.Equal(t1) {
		t.Errorf("NotifiedAt = %v, want %v", a.NotifiedAt, t1)
	}
	if a.RepliedAt == nil || !a.RepliedAt.Equal(t2) {
		t.Errorf("RepliedAt = %v, want %v", a.RepliedAt, t2)
	}
	if a.DeliveredAt == nil || !a.DeliveredAt.Equal(t3) {
		t.Errorf("DeliveredAt = %v, want %v", a.DeliveredAt, t3)
	}
}

func testAlertRejections(t *testing.T, s store.Store) {
	ctx := context.Background()
	tk := mkTask(t, s, "ou_a", "a")

	if err := s.SubmitReply(ctx, 999, "x", base); !errors.Is(err, alert.ErrNotFound) {
		t.Errorf("reply missing = %v", err)
	}
	if _, err := s.MarkDelivered(ctx, 999, base); !errors.Is(err, alert.ErrNotFound) {
		t.Errorf("deliver missing = %v", err)
	}
	if _, err := s.MarkNotified(ctx, 999, base); !errors.Is(err, alert.ErrNotFound) {
		t.Errorf("notify missing = %v", err)
	}

	// A reply straight from pending is accepted.
	pending := mkAlert(t, s, tk, "om_p", base)
	if _, err := s.MarkDelivered(ctx, pending, base); !errors.Is(err, alert.ErrNotReplied) {
		t.Errorf("deliver pending = %v, want ErrNotReplied", err)
	}
	if err := s.SubmitReply(ctx, pending, "first", base); err != nil {
		t.Fatalf("reply pending: %v", err)
	}
	if err := s.SubmitReply(ctx, pending, "second", base); !errors.Is(err, alert.ErrAlreadyReplied) {
		t.Errorf("second reply = %v, want ErrAlreadyReplied", err)
	}
	// Notify after reply leaves the alert replied.
	if changed, err := s.MarkNotified(ctx, pending, base); changed || err != nil {
		t.Errorf("notify replied: changed=%v err=%v", changed, err)
	}
	a, _, _ := s.GetAlert(ctx, pending)
	if a.Status != alert.StatusReplied || a.ReplyText != "first" {
		t.Errorf("alert = %+v", a)
	}

	if _, err := s.MarkDelivered(ctx, pending, base); err != nil {
		t.Fatal(err)
	}
	if err := s.SubmitReply(ctx, pending, "late", base); !errors.Is(err, alert.ErrAlreadyDelivered) {
		t.Errorf("reply delivered = %v, want ErrAlreadyDelivered", err)
	}
}

func testSubmitReplyConcurrent(t *testing.T, s store.Store) {
	ctx := context.Background()
	tk := mkTask(t, s, "ou_a", "a")
	id := mkAlert(t, s, tk, "om_dup", base)
	const n = 8

	var (
		wg       sync.WaitGroup
		winners  atomic.Int32
		rejected atomic.Int32
		start    = make(chan struct{})
	)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := s.SubmitReply(ctx, id, fmt.Sprintf("reply %d", i), base)
			switch {
			case err == nil:
				winners.Add(1)
			case errors.Is(err, alert.ErrAlreadyReplied):
				rejected.Add(1)
			default:
				t.Errorf("SubmitReply: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()
	if winners.Load() != 1 || rejected.Load() != n-1 {
		t.Errorf("winners=%d rejected=%d", winners.Load(), rejected.Load())
	}
}

func testListAlerts(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := mkTask(t, s, "ou_a", "a")
	b := mkTask(t, s, "ou_b", "b")

	// Created out of id order to check ordering by time.
	late := mkAlert(t, s, a, "om_late", base.Add(time.Hour))
	early := mkAlert(t, s, a, "om_early", base)
	mid := mkAlert(t, s, b, "om_mid", base.Add(time.Minute))
	if err := s.SubmitReply(ctx, mid, "r", base); err != nil {
		t.Fatal(err)
	}

	pending, err := s.ListByStatus(ctx, alert.StatusPending, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 || pending[0].ID != early || pending[1].ID != late {
		t.Errorf("ListByStatus(pending) = %v", alertIDs(pending))
	}

	limited, _ := s.ListByStatus(ctx, alert.StatusPending, 1)
	if len(limited) != 1 || limited[0].ID != early {
		t.Errorf("limit 1 = %v", alertIDs(limited))
	}

	replied, _ := s.ListByStatus(ctx, alert.StatusReplied, 10)
	if len(replied) != 1 || replied[0].ID != mid {
		t.Errorf("ListByStatus(replied) = %v", alertIDs(replied))
	}

	mine, err := s.ListAlerts(ctx, "ou_a", "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(mine) != 2 || mine[0].ID != early {
		t.Errorf("ListAlerts(ou_a) = %v", alertIDs(mine))
	}
	theirs, _ := s.ListAlerts(ctx, "ou_b", alert.StatusPending, 10)
	if len(theirs) != 0 {
		t.Errorf("ListAlerts(ou_b, pending) = %v", alertIDs(theirs))
	}
}

func alertIDs(as []*alert.Alert) []int64 {
	out := make([]int64, len(as))
	for i, a := range as {
		out[i] = a.ID
	}
	return out
}

func testStats(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := mkTask(t, s, "ou_a", "a")
	b := mkTask(t, s, "ou_b", "b")
	for i := range 3 {
		rec := mkRecord(a.ID, fmt.Sprintf("om_%d", i), fmt.Sprintf("d%d", i), base)
		if _, _, err := s.InsertMessage(ctx, rec, base.Add(-time.Hour)); err != nil {
			t.Fatal(err)
		}
	}
	if _, _, err := s.InsertMessage(ctx, mkRecord(b.ID, "om_b", "d", base), base.Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}
	first := mkAlert(t, s, a, "om_x", base)
	mkAlert(t, s, a, "om_y", base)
	if err := s.SubmitReply(ctx, first, "r", base); err != nil {
		t.Fatal(err)
	}

	st, err := s.Stats(ctx, "ou_a")
	if err != nil {
		t.Fatal(err)
	}
	if st.Messages != 3 || st.Alerts != 2 {
		t.Errorf("Stats = %+v", st)
	}
	if st.ByStatus[alert.StatusPending] != 1 || st.ByStatus[alert.StatusReplied] != 1 {
		t.Errorf("ByStatus = %v", st.ByStatus)
	}

	empty, err := s.Stats(ctx, "ou_nobody")
	if err != nil {
		t.Fatal(err)
	}
	if empty.Messages != 0 || empty.Alerts != 0 || empty.ByStatus == nil {
		t.Errorf("empty Stats = %+v", empty)
	}
}

func testAllowList(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := &access.User{UserID: "ou_x", IsAdmin: true, AddedBy: "ou_op", CreatedAt: base}
	added, err := s.AddAllowedUser(ctx, u)
	if err != nil || !added {
		t.Fatalf("AddAllowedUser: added=%v err=%v", added, err)
	}
	added, err = s.AddAllowedUser(ctx, u)
	if err != nil || added {
		t.Fatalf("repeat AddAllowedUser: added=%v err=%v", added, err)
	}
	if _, err := s.AddAllowedUser(ctx, &access.User{UserID: "ou_y", AddedBy: "ou_x", CreatedAt: base.Add(time.Second)}); err != nil {
		t.Fatal(err)
	}

	ok, err := s.IsAllowedUser(ctx, "ou_x")
	if err != nil || !ok {
		t.Errorf("IsAllowedUser(ou_x) = %v, %v", ok, err)
	}
	if ok, _ := s.IsAllowedUser(ctx, "ou_z"); ok {
		t.Error("IsAllowedUser(ou_z) = true")
	}

	list, err := s.ListAllowedUsers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].UserID != "ou_x" || !list[0].IsAdmin || list[1].IsAdmin {
		t.Errorf("ListAllowedUsers = %+v", list)
	}
	if list[0].AddedBy != "ou_op" || !list[0].CreatedAt.Equal(base) {
		t.Errorf("user = %+v", list[0])
	}

	removed, err := s.RemoveAllowedUser(ctx, "ou_x")
	if err != nil || !removed {
		t.Fatalf("RemoveAllowedUser: removed=%v err=%v", removed, err)
	}
	removed, _ = s.RemoveAllowedUser(ctx, "ou_x")
	if removed {
		t.Error("second remove reported true")
	}
}
