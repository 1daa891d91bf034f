// Package notify surfaces pending alerts to operators. Each cycle sends a
// summary of every pending alert to each recipient and to the optional
// sinks, then marks the alert notified whether or not the sends landed.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/dupwatch/internal/alert"
	"github.com/linnemanlabs/dupwatch/internal/schedule"
	"github.com/linnemanlabs/dupwatch/internal/transport"
)

const (
	// DefaultBatchSize is how many pending alerts one cycle takes.
	DefaultBatchSize = 200

	// DefaultTextLimit bounds the quoted message text in a summary.
	DefaultTextLimit = 800
)

// Recipients resolves who receives summaries. access.Checker implements it.
type Recipients interface {
	Recipients(ctx context.Context) ([]string, error)
}

// Sink is an additional destination for alert summaries, such as a
// webhook. Sink failures are logged and never block the transition.
type Sink interface {
	Name() string
	Send(ctx context.Context, a *alert.Alert) error
}

// Config tunes the notifier.
type Config struct {
	BatchSize int
	TextLimit int
}

// Notifier is the pending-alert job run by a schedule.Runner.
type Notifier struct {
	queue      *alert.Queue
	sender     transport.Sender
	recipients Recipients
	sinks      []Sink
	gate       *transport.Gate
	cfg        Config
	logger     log.Logger
	metrics    *Metrics
}

// New creates a Notifier. gate, metrics and sinks are optional.
func New(queue *alert.Queue, sender transport.Sender, recipients Recipients, gate *transport.Gate, cfg Config, logger log.Logger, metrics *Metrics, sinks ...Sink) *Notifier {
	if queue == nil || sender == nil || recipients == nil {
		panic(xerrors.New("notify requires queue, sender and recipients"))
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.TextLimit <= 0 {
		cfg.TextLimit = DefaultTextLimit
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		queue:      queue,
		sender:     sender,
		recipients: recipients,
		sinks:      sinks,
		gate:       gate,
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
	}
}

// Cycle notifies one batch of pending alerts. Only store failures are
// returned; send failures are logged per recipient.
func (n *Notifier) Cycle(ctx context.Context) error {
	if n.gate != nil {
		if d := n.gate.Remaining(); d > 0 {
			n.logger.Info(ctx, "notify held by wait hint", "remaining", d)
			return nil
		}
	}

	pending, err := n.queue.ListByStatus(ctx, alert.StatusPending, n.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("list pending alerts: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	recipients, err := n.recipients.Recipients(ctx)
	if err != nil {
		return fmt.Errorf("resolve recipients: %w", err)
	}
	if len(recipients) == 0 {
		n.logger.Warn(ctx, "no recipients configured, alerts stay pending", "pending", len(pending))
		return nil
	}

	var errs []error
	notified := 0
	for _, a := range pending {
		if schedule.Stopping(ctx) {
			break
		}
		n.notify(ctx, a, recipients)

		changed, err := n.queue.MarkNotified(ctx, a.ID)
		if err != nil {
			n.logger.Error(ctx, err, "mark notified failed", "alert_id", a.ID)
			errs = append(errs, err)
			continue
		}
		if changed {
			notified++
		}
	}

	n.logger.Info(ctx, "notify cycle complete",
		"pending", len(pending),
		"notified", notified,
		"recipients", len(recipients),
		"failed", len(errs),
	)
	return errors.Join(errs...)
}

func (n *Notifier) notify(ctx context.Context, a *alert.Alert, recipients []string) {
	text := Summary(a, n.cfg.TextLimit)
	for _, r := range recipients {
		err := n.sender.SendToRecipient(ctx, r, text)
		n.metrics.send("recipient", err)
		if err != nil {
			if n.gate != nil {
				n.gate.Observe(err)
			}
			n.logger.Warn(ctx, "send summary failed",
				"alert_id", a.ID,
				"recipient_id", r,
				"reason", transport.ReasonOf(err),
				"error", err,
			)
		}
	}
	for _, s := range n.sinks {
		err := s.Send(ctx, a)
		n.metrics.send(s.Name(), err)
		if err != nil {
			n.logger.Warn(ctx, "sink send failed", "alert_id", a.ID, "sink", s.Name(), "error", err)
		}
	}
}

// Summary renders the operator-facing text for an alert.
func Summary(a *alert.Alert, textLimit int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Duplicate message detected [%s]\n", a.TaskLabel)
	fmt.Fprintf(&b, "Alert: %d\n", a.ID)
	fmt.Fprintf(&b, "Conversation: %s\n", a.ConversationID)
	fmt.Fprintf(&b, "Message: %s (original %s)\n", a.DuplicateMessageID, a.OriginalMessageID)
	fmt.Fprintf(&b, "Sender: %s\n", a.SenderLabel())
	fmt.Fprintf(&b, "Text: %s\n", transport.Truncate(a.Text, textLimit))
	fmt.Fprintf(&b, "Reply with: /reply %d <text>", a.ID)
	return b.String()
}
