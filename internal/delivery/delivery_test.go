package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/dupwatch/internal/alert"
	"github.com/linnemanlabs/dupwatch/internal/clock"
	"github.com/linnemanlabs/dupwatch/internal/store/memstore"
	"github.com/linnemanlabs/dupwatch/internal/transport"
	"github.com/linnemanlabs/dupwatch/internal/transport/transporttest"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

type fixture struct {
	clk    *clock.FakeClock
	queue  *alert.Queue
	gate   *transport.Gate
	sender *transporttest.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.Fake(t0)
	return &fixture{
		clk:    clk,
		queue:  alert.NewQueue(memstore.New(), clk, log.Nop(), alert.Hooks{}),
		gate:   transport.NewGate(clk),
		sender: &transporttest.Recorder{},
	}
}

// replied creates an alert in conversation conv and moves it to replied.
func (f *fixture) replied(t *testing.T, conv, dup, reply string) int64 {
	t.Helper()
	ctx := context.Background()
	id, err := f.queue.Create(ctx, &alert.NewAlert{
		TaskID:             1,
		OwnerID:            "ou_a",
		TaskLabel:          "deploys",
		ConversationID:     conv,
		DuplicateMessageID: dup,
		OriginalMessageID:  "om_1",
		Text:               "Hello world",
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.queue.SubmitReply(ctx, id, reply); err != nil {
		t.Fatal(err)
	}
	return id
}

func (f *fixture) status(t *testing.T, id int64) alert.Status {
	t.Helper()
	a, err := f.queue.Get(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return a.Status
}

func TestCycle_DeliversThreadedReply(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	id := f.replied(t, "oc_1", "om_2", "ignore")
	m := NewMetrics(prometheus.NewRegistry())
	d := New(f.queue, f.sender, f.gate, 0, log.Nop(), m)

	if err := d.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	sent := f.sender.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent = %+v", sent)
	}
	if sent[0] != (transporttest.Message{To: "oc_1", Text: "ignore", ReplyTo: "om_2"}) {
		t.Errorf("sent = %+v", sent[0])
	}
	if s := f.status(t, id); s != alert.StatusDelivered {
		t.Errorf("status = %s", s)
	}
	if got := testutil.ToFloat64(m.AttemptsTotal.WithLabelValues("delivered")); got != 1 {
		t.Errorf("delivered = %v", got)
	}

	if err := d.Cycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(f.sender.Sent()) != 1 {
		t.Error("delivered alert was resent")
	}
}

func TestCycle_FailureLeavesReplied(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	bad := f.replied(t, "oc_bad", "om_2", "no")
	good := f.replied(t, "oc_good", "om_3", "yes")
	f.sender.Fail = func(to string) error {
		if to == "oc_bad" {
			return &transport.SendError{Reason: transport.ReasonTimeout, Err: context.DeadlineExceeded}
		}
		return nil
	}
	d := New(f.queue, f.sender, f.gate, 0, log.Nop(), nil)

	if err := d.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if s := f.status(t, bad); s != alert.StatusReplied {
		t.Errorf("failed alert status = %s", s)
	}
	if s := f.status(t, good); s != alert.StatusDelivered {
		t.Errorf("good alert status = %s", s)
	}

	f.sender.Fail = nil
	if err := d.Cycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s := f.status(t, bad); s != alert.StatusDelivered {
		t.Errorf("retried alert status = %s", s)
	}
}

func TestCycle_WaitHintPausesAllDelivery(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	first := f.replied(t, "oc_1", "om_2", "a")
	second := f.replied(t, "oc_2", "om_3", "b")
	f.sender.Fail = func(string) error {
		return &transport.SendError{Reason: transport.ReasonRateLimited, RetryAfter: 10 * time.Second, Err: errors.New("rate limited")}
	}
	d := New(f.queue, f.sender, f.gate, 0, log.Nop(), nil)

	if err := d.Cycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if f.gate.Remaining() != 10*time.Second {
		t.Fatalf("gate = %s", f.gate.Remaining())
	}

	f.sender.Fail = nil
	f.clk.Advance(5 * time.Second)
	if err := d.Cycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(f.sender.Sent()) != 0 {
		t.Errorf("sent during hold: %+v", f.sender.Sent())
	}

	f.clk.Advance(5 * time.Second)
	if err := d.Cycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	for _, id := range []int64{first, second} {
		if s := f.status(t, id); s != alert.StatusDelivered {
			t.Errorf("alert %d status = %s", id, s)
		}
	}
}

func TestCycle_IgnoresOtherStatuses(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	if _, err := f.queue.Create(context.Background(), &alert.NewAlert{
		TaskID: 1, OwnerID: "ou_a", ConversationID: "oc_1", DuplicateMessageID: "om_9", OriginalMessageID: "om_1",
	}); err != nil {
		t.Fatal(err)
	}
	d := New(f.queue, f.sender, f.gate, 0, log.Nop(), nil)
	if err := d.Cycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(f.sender.Sent()) != 0 {
		t.Error("pending alert was delivered")
	}
}

func TestNew_RequiresGate(t *testing.T) {
	t.Parallel()
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	f := newFixture(t)
	New(f.queue, f.sender, nil, 0, log.Nop(), nil)
}
