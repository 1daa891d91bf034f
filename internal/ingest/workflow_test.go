package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/dupwatch/internal/access"
	"github.com/linnemanlabs/dupwatch/internal/alert"
	"github.com/linnemanlabs/dupwatch/internal/clock"
	"github.com/linnemanlabs/dupwatch/internal/delivery"
	"github.com/linnemanlabs/dupwatch/internal/notify"
	"github.com/linnemanlabs/dupwatch/internal/reply"
	"github.com/linnemanlabs/dupwatch/internal/transport"
	"github.com/linnemanlabs/dupwatch/internal/transport/transporttest"
)

// TestWorkflow_DuplicateToDeliveredReply runs one duplicate through every
// loop over a shared memstore: ingest, notify, reply intake and delivery.
func TestWorkflow_DuplicateToDeliveredReply(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.task(t, "ou_owner", "deploys", "C1")

	sender := &transporttest.Recorder{}
	checker := access.NewChecker([]string{"ou_op"}, f.store)
	gate := transport.NewGate(clock.Fake(t0))
	notifier := notify.New(f.queue, sender, checker, gate, notify.Config{}, log.Nop(), notify.NewMetrics(prometheus.NewRegistry()))
	intake := reply.New(f.queue, checker, log.Nop())
	deliverer := delivery.New(f.queue, sender, gate, 0, log.Nop(), delivery.NewMetrics(prometheus.NewRegistry()))

	if res := f.c.Process(ctx, msg("C1", "M1", "Hello world", t0)); res.Duplicates != 0 {
		t.Fatalf("M1 = %+v, want no duplicate", res)
	}
	res := f.c.Process(ctx, msg("C1", "M2", " Hello   world ", t0.Add(10*time.Minute)))
	if res.Duplicates != 1 || len(res.AlertIDs) != 1 {
		t.Fatalf("M2 = %+v, want one alert", res)
	}
	id := res.AlertIDs[0]

	a, err := f.queue.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if a.Status != alert.StatusPending || a.OriginalMessageID != "M1" || a.DuplicateMessageID != "M2" {
		t.Fatalf("after ingest = %+v", a)
	}

	if err := notifier.Cycle(ctx); err != nil {
		t.Fatalf("notify cycle: %v", err)
	}
	if a, _ = f.queue.Get(ctx, id); a.Status != alert.StatusNotified {
		t.Fatalf("after notify status = %q, want notified", a.Status)
	}
	if len(sender.Sent()) == 0 {
		t.Fatal("no summary sent")
	}

	a, err = intake.Submit(ctx, "ou_owner", id, "ignore")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if a.Status != alert.StatusReplied || a.ReplyText != "ignore" {
		t.Fatalf("after reply = %+v", a)
	}

	before := len(sender.Sent())
	if err := deliverer.Cycle(ctx); err != nil {
		t.Fatalf("deliver cycle: %v", err)
	}
	if a, _ = f.queue.Get(ctx, id); a.Status != alert.StatusDelivered || a.DeliveredAt == nil {
		t.Fatalf("after deliver = %+v", a)
	}
	sent := sender.Sent()[before:]
	want := transporttest.Message{To: "C1", Text: "ignore", ReplyTo: "M2"}
	if len(sent) != 1 || sent[0] != want {
		t.Fatalf("delivered = %+v, want %+v", sent, want)
	}

	if _, err := intake.Submit(ctx, "ou_owner", id, "too late"); !errors.Is(err, alert.ErrAlreadyDelivered) {
		t.Errorf("late reply err = %v, want ErrAlreadyDelivered", err)
	}
	if err := deliverer.Cycle(ctx); err != nil {
		t.Fatal(err)
	}
	if got := len(sender.Sent()); got != before+1 {
		t.Errorf("sends after second deliver cycle = %d, want %d", got, before+1)
	}
}
