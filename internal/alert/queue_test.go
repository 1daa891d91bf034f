package alert_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/dupwatch/internal/alert"
	"github.com/linnemanlabs/dupwatch/internal/clock"
	"github.com/linnemanlabs/dupwatch/internal/store/memstore"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func newQueue(t *testing.T) (*alert.Queue, *clock.FakeClock, *alert.Metrics) {
	t.Helper()
	clk := clock.Fake(t0)
	m := alert.NewMetrics(prometheus.NewRegistry())
	return alert.NewQueue(memstore.New(), clk, log.Nop(), m.Hooks()), clk, m
}

func newAlert(dup string) *alert.NewAlert {
	return &alert.NewAlert{
		TaskID:             1,
		OwnerID:            "ou_a",
		TaskLabel:          "deploys",
		ConversationID:     "oc_1",
		DuplicateMessageID: dup,
		OriginalMessageID:  "om_orig",
		Text:               "hello world",
	}
}

func TestQueue_FullLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q, clk, m := newQueue(t)

	id, err := q.Create(ctx, newAlert("om_dup"))
	if err != nil {
		t.Fatal(err)
	}
	a, err := q.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if a.Status != alert.StatusPending || !a.CreatedAt.Equal(t0) {
		t.Fatalf("created alert = %+v", a)
	}

	clk.Advance(time.Second)
	if changed, err := q.MarkNotified(ctx, id); err != nil || !changed {
		t.Fatalf("MarkNotified = %v, %v", changed, err)
	}
	clk.Advance(time.Second)
	if err := q.SubmitReply(ctx, id, "  ignore  "); err != nil {
		t.Fatal(err)
	}
	clk.Advance(time.Second)
	if changed, err := q.MarkDelivered(ctx, id); err != nil || !changed {
		t.Fatalf("MarkDelivered = %v, %v", changed, err)
	}
	if changed, err := q.MarkDelivered(ctx, id); err != nil || changed {
		t.Fatalf("second MarkDelivered = %v, %v", changed, err)
	}

	a, _ = q.Get(ctx, id)
	if a.Status != alert.StatusDelivered || a.ReplyText != "ignore" {
		t.Errorf("final = %+v", a)
	}
	if !a.DeliveredAt.Equal(t0.Add(3 * time.Second)) {
		t.Errorf("DeliveredAt = %v", a.DeliveredAt)
	}

	if got := testutil.ToFloat64(m.TransitionsTotal.WithLabelValues("delivered", "noop")); got != 1 {
		t.Errorf("delivered/noop = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.CreatedTotal.WithLabelValues("created")); got != 1 {
		t.Errorf("created = %v, want 1", got)
	}
}

func TestQueue_CreateIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q, _, m := newQueue(t)

	first, err := q.Create(ctx, newAlert("om_dup"))
	if err != nil {
		t.Fatal(err)
	}
	second, err := q.Create(ctx, newAlert("om_dup"))
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("ids = %d, %d", first, second)
	}
	if got := testutil.ToFloat64(m.CreatedTotal.WithLabelValues("existing")); got != 1 {
		t.Errorf("existing = %v, want 1", got)
	}
}

func TestQueue_ReplyValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q, _, _ := newQueue(t)
	id, _ := q.Create(ctx, newAlert("om_dup"))

	tests := []struct {
		name string
		id   int64
		text string
		want error
	}{
		{"zero id", 0, "x", alert.ErrInvalid},
		{"blank text", id, "   ", alert.ErrInvalid},
		{"too long", id, strings.Repeat("y", alert.MaxReplyLen+1), alert.ErrInvalid},
		{"missing", id + 100, "x", alert.ErrNotFound},
	}
	for _, tt := range tests {
		if err := q.SubmitReply(ctx, tt.id, tt.text); !errors.Is(err, tt.want) {
			t.Errorf("%s: err = %v, want %v", tt.name, err, tt.want)
		}
	}

	a, _ := q.Get(ctx, id)
	if a.Status != alert.StatusPending {
		t.Errorf("rejected replies mutated alert: %+v", a)
	}
}

func TestQueue_StatusNeverRegresses(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q, _, m := newQueue(t)
	id, _ := q.Create(ctx, newAlert("om_dup"))

	if err := q.SubmitReply(ctx, id, "first"); err != nil {
		t.Fatal(err)
	}
	if changed, err := q.MarkNotified(ctx, id); err != nil || changed {
		t.Errorf("notify after reply = %v, %v", changed, err)
	}
	if err := q.SubmitReply(ctx, id, "second"); !errors.Is(err, alert.ErrAlreadyReplied) {
		t.Errorf("second reply = %v", err)
	}
	if _, err := q.MarkDelivered(ctx, id); err != nil {
		t.Fatal(err)
	}
	if err := q.SubmitReply(ctx, id, "late"); !errors.Is(err, alert.ErrAlreadyDelivered) {
		t.Errorf("reply after delivery = %v", err)
	}
	if !alert.IsRejection(alert.ErrAlreadyDelivered) {
		t.Error("ErrAlreadyDelivered is not a rejection")
	}

	if got := testutil.ToFloat64(m.TransitionsTotal.WithLabelValues("replied", "rejected")); got != 2 {
		t.Errorf("replied/rejected = %v, want 2", got)
	}
}

func TestQueue_MarkDeliveredBeforeReply(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q, _, _ := newQueue(t)
	id, _ := q.Create(ctx, newAlert("om_dup"))

	if _, err := q.MarkDelivered(ctx, id); !errors.Is(err, alert.ErrNotReplied) {
		t.Errorf("err = %v, want ErrNotReplied", err)
	}
	if _, err := q.Get(ctx, 999); !errors.Is(err, alert.ErrNotFound) {
		t.Errorf("Get missing = %v", err)
	}
}

func TestQueue_Lists(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q, clk, _ := newQueue(t)

	var ids []int64
	for _, dup := range []string{"om_1", "om_2", "om_3"} {
		id, err := q.Create(ctx, newAlert(dup))
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
		clk.Advance(time.Minute)
	}
	if err := q.SubmitReply(ctx, ids[1], "r"); err != nil {
		t.Fatal(err)
	}

	pending, err := q.ListByStatus(ctx, alert.StatusPending, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 || pending[0].ID != ids[0] || pending[1].ID != ids[2] {
		t.Errorf("pending = %+v", pending)
	}

	if _, err := q.ListByStatus(ctx, "bogus", 10); !errors.Is(err, alert.ErrInvalidStatus) {
		t.Errorf("bogus status err = %v", err)
	}

	all, err := q.ListAlerts(ctx, "ou_a", "", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].ID != ids[0] {
		t.Errorf("ListAlerts limit 2 = %+v", all)
	}

	st, err := q.Stats(ctx, "ou_a")
	if err != nil {
		t.Fatal(err)
	}
	if st.Alerts != 3 || st.ByStatus[alert.StatusReplied] != 1 {
		t.Errorf("Stats = %+v", st)
	}
}
