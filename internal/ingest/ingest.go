// Package ingest turns feed events into dedup verdicts and alerts. It is
// the transport.Handler behind the chat feed.
package ingest

import (
	"context"
	"errors"
	"strings"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/dupwatch/internal/alert"
	"github.com/linnemanlabs/dupwatch/internal/dedup"
	"github.com/linnemanlabs/dupwatch/internal/task"
	"github.com/linnemanlabs/dupwatch/internal/transport"
)

// CommandHandler consumes operator commands sent to the bot directly.
type CommandHandler interface {
	Handle(ctx context.Context, ev transport.Event)
}

// Result summarizes what one event did.
type Result struct {
	Command    bool
	Tasks      int
	Duplicates int
	AlertIDs   []int64
	Errors     int
}

// Collector evaluates each event against every active task watching its
// conversation. Tasks are isolated: a failure on one is logged and the
// others still run. There is no in-process lock; the store's insert
// primitive decides races between concurrent events.
type Collector struct {
	registry *task.Registry
	engine   *dedup.Engine
	queue    *alert.Queue
	commands CommandHandler
	logger   log.Logger
	metrics  *Metrics
}

// New creates a Collector. commands and metrics may be nil.
func New(registry *task.Registry, engine *dedup.Engine, queue *alert.Queue, commands CommandHandler, logger log.Logger, metrics *Metrics) *Collector {
	if registry == nil || engine == nil || queue == nil {
		panic(xerrors.New("ingest requires registry, engine and queue"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Collector{
		registry: registry,
		engine:   engine,
		queue:    queue,
		commands: commands,
		logger:   logger,
		metrics:  metrics,
	}
}

// Handle implements transport.Handler.
func (c *Collector) Handle(ctx context.Context, ev transport.Event) {
	c.Process(ctx, ev)
}

// Process handles one event and reports the outcome.
func (c *Collector) Process(ctx context.Context, ev transport.Event) Result {
	if c.commands != nil && isCommand(ev) {
		c.commands.Handle(ctx, ev)
		c.metrics.event("command")
		return Result{Command: true}
	}

	var res Result
	tasks, err := c.registry.Watching(ctx, ev.ConversationID)
	if err != nil {
		c.logger.Error(ctx, err, "load watching tasks failed", "conversation_id", ev.ConversationID)
		c.metrics.event("error")
		res.Errors++
		return res
	}
	if len(tasks) == 0 {
		c.metrics.event("unwatched")
		return res
	}

	in := dedup.Input{
		ConversationID: ev.ConversationID,
		MessageID:      ev.MessageID,
		Text:           ev.Text,
		SenderID:       ev.SenderID,
		SenderName:     ev.SenderName,
		ObservedAt:     ev.ObservedAt,
	}

	for _, t := range tasks {
		res.Tasks++
		id, dup, err := c.evaluate(ctx, t, in)
		if err != nil {
			res.Errors++
			c.logger.Error(ctx, err, "ingest failed for task",
				"task_id", t.ID,
				"conversation_id", ev.ConversationID,
				"message_id", ev.MessageID,
			)
			continue
		}
		if dup {
			res.Duplicates++
			res.AlertIDs = append(res.AlertIDs, id)
		}
	}

	switch {
	case res.Errors > 0:
		c.metrics.event("error")
	case res.Duplicates > 0:
		c.metrics.event("duplicate")
	default:
		c.metrics.event("ok")
	}
	return res
}

func (c *Collector) evaluate(ctx context.Context, t *task.Task, in dedup.Input) (int64, bool, error) {
	v, err := c.engine.Evaluate(ctx, t, in)
	if errors.Is(err, dedup.ErrEmptyText) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if !v.Duplicate {
		return 0, false, nil
	}

	id, err := c.queue.Create(ctx, &alert.NewAlert{
		TaskID:             t.ID,
		OwnerID:            t.OwnerID,
		TaskLabel:          t.Label,
		ConversationID:     in.ConversationID,
		DuplicateMessageID: in.MessageID,
		OriginalMessageID:  v.OriginalMessageID,
		Text:               in.Text,
		SenderID:           in.SenderID,
		SenderName:         in.SenderName,
	})
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// isCommand reports whether ev is an operator command: a slash-prefixed
// message in a direct chat with the bot.
func isCommand(ev transport.Event) bool {
	return ev.ChatType == transport.ChatDirect && strings.HasPrefix(strings.TrimSpace(ev.Text), "/")
}
