// Package delivery posts operator replies back into the originating
// conversation, threaded to the duplicate message.
package delivery

import (
	"context"
	"errors"
	"fmt"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/dupwatch/internal/alert"
	"github.com/linnemanlabs/dupwatch/internal/schedule"
	"github.com/linnemanlabs/dupwatch/internal/transport"
)

// DefaultBatchSize is how many replied alerts one cycle takes.
const DefaultBatchSize = 200

// Deliverer is the replied-alert job run by a schedule.Runner.
type Deliverer struct {
	queue     *alert.Queue
	sender    transport.Sender
	gate      *transport.Gate
	batchSize int
	logger    log.Logger
	metrics   *Metrics
}

// New creates a Deliverer. gate must be shared with every other user of
// sender so a wait hint holds all of them.
func New(queue *alert.Queue, sender transport.Sender, gate *transport.Gate, batchSize int, logger log.Logger, metrics *Metrics) *Deliverer {
	if queue == nil || sender == nil || gate == nil {
		panic(xerrors.New("delivery requires queue, sender and gate"))
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Deliverer{
		queue:     queue,
		sender:    sender,
		gate:      gate,
		batchSize: batchSize,
		logger:    logger,
		metrics:   metrics,
	}
}

// Cycle delivers one batch of replied alerts. A failed send leaves its
// alert replied for the next cycle. A wait hint stops the batch and holds
// later cycles until it expires.
func (d *Deliverer) Cycle(ctx context.Context) error {
	if wait := d.gate.Remaining(); wait > 0 {
		d.metrics.outcome("held")
		d.logger.Info(ctx, "delivery held by wait hint", "remaining", wait)
		return nil
	}

	replied, err := d.queue.ListByStatus(ctx, alert.StatusReplied, d.batchSize)
	if err != nil {
		return fmt.Errorf("list replied alerts: %w", err)
	}
	if len(replied) == 0 {
		return nil
	}

	var errs []error
	delivered, failed := 0, 0
	for _, a := range replied {
		if schedule.Stopping(ctx) {
			break
		}
		if d.gate.Remaining() > 0 {
			break
		}

		err := d.sender.SendReply(ctx, a.ConversationID, a.ReplyText, a.DuplicateMessageID)
		if err != nil {
			failed++
			d.metrics.outcome(string(transport.ReasonOf(err)))
			held := d.gate.Observe(err)
			d.logger.Warn(ctx, "deliver reply failed",
				"alert_id", a.ID,
				"conversation_id", a.ConversationID,
				"reason", transport.ReasonOf(err),
				"held", held,
				"error", err,
			)
			continue
		}

		if _, err := d.queue.MarkDelivered(ctx, a.ID); err != nil {
			// The reply is out but the row still says replied, so the next
			// cycle resends it; the sender's idempotency key absorbs that.
			d.logger.Error(ctx, err, "mark delivered failed", "alert_id", a.ID)
			errs = append(errs, err)
			continue
		}
		delivered++
		d.metrics.outcome("delivered")
	}

	d.logger.Info(ctx, "deliver cycle complete",
		"replied", len(replied),
		"delivered", delivered,
		"failed", failed,
	)
	return errors.Join(errs...)
}
