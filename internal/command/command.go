// Package command answers operator commands sent to the bot in a direct
// chat: /reply, /pending, /stats and /help.
package command

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/dupwatch/internal/access"
	"github.com/linnemanlabs/dupwatch/internal/alert"
	"github.com/linnemanlabs/dupwatch/internal/reply"
	"github.com/linnemanlabs/dupwatch/internal/transport"
)

const pendingShown = 20

const helpText = `dupwatch commands:
/reply <alert_id> <text>  reply to a duplicate; the text is posted in the original conversation
/pending                  list alerts waiting for a reply
/stats                    message and alert counts
/help                     this message`

// Router parses commands and answers in the same chat.
type Router struct {
	intake  *reply.Intake
	queue   *alert.Queue
	access  *access.Checker
	sender  transport.Sender
	logger  log.Logger
	metrics *Metrics
}

// New creates a Router. metrics may be nil.
func New(intake *reply.Intake, queue *alert.Queue, checker *access.Checker, sender transport.Sender, logger log.Logger, metrics *Metrics) *Router {
	if intake == nil || queue == nil || checker == nil || sender == nil {
		panic(xerrors.New("command router requires intake, queue, access checker and sender"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Router{
		intake:  intake,
		queue:   queue,
		access:  checker,
		sender:  sender,
		logger:  logger,
		metrics: metrics,
	}
}

// Handle executes the command in ev and replies in its chat. It
// implements ingest.CommandHandler.
func (r *Router) Handle(ctx context.Context, ev transport.Event) {
	answer := r.Execute(ctx, ev.SenderID, ev.Text)
	if err := r.sender.SendReply(ctx, ev.ConversationID, answer, ev.MessageID); err != nil {
		r.logger.Warn(ctx, "command answer failed",
			"sender_id", ev.SenderID,
			"reason", transport.ReasonOf(err),
			"error", err,
		)
	}
}

// Execute runs one command for userID and returns the answer text.
func (r *Router) Execute(ctx context.Context, userID, text string) string {
	name, args := split(text)

	ok, err := r.access.Allowed(ctx, userID)
	if err != nil {
		r.logger.Error(ctx, err, "access check failed", "user_id", userID)
		r.metrics.command(name, "error")
		return "Something went wrong, try again later."
	}
	if !ok {
		r.metrics.command(name, "forbidden")
		return "You are not allowed to use dupwatch commands."
	}

	var answer string
	switch name {
	case "/reply":
		answer, err = r.reply(ctx, userID, args)
	case "/pending":
		answer, err = r.pending(ctx, userID)
	case "/stats":
		answer, err = r.stats(ctx, userID)
	case "/help", "/start":
		answer = helpText
	default:
		r.metrics.command("unknown", "ok")
		return fmt.Sprintf("Unknown command %s. Send /help for usage.", name)
	}
	if err != nil {
		r.logger.Error(ctx, err, "command failed", "command", name, "user_id", userID)
		r.metrics.command(name, "error")
		return "Something went wrong, try again later."
	}
	r.metrics.command(name, "ok")
	return answer
}

func (r *Router) reply(ctx context.Context, userID, args string) (string, error) {
	idStr, text := split(args)
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 || strings.TrimSpace(text) == "" {
		return "Usage: /reply <alert_id> <text>", nil
	}
	_, err = r.intake.Submit(ctx, userID, id, text)
	if err != nil && !isRejection(err) {
		return "", err
	}
	return reply.Describe(id, err), nil
}

func (r *Router) pending(ctx context.Context, userID string) (string, error) {
	admin, err := r.access.IsAdmin(ctx, userID)
	if err != nil {
		return "", err
	}

	var waiting []*alert.Alert
	for _, st := range []alert.Status{alert.StatusPending, alert.StatusNotified} {
		var batch []*alert.Alert
		if admin {
			batch, err = r.queue.ListByStatus(ctx, st, pendingShown)
		} else {
			batch, err = r.queue.ListAlerts(ctx, userID, st, pendingShown)
		}
		if err != nil {
			return "", err
		}
		waiting = append(waiting, batch...)
	}
	if len(waiting) == 0 {
		return "No alerts waiting for a reply.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d alert(s) waiting for a reply:", len(waiting))
	for i, a := range waiting {
		if i == pendingShown {
			fmt.Fprintf(&b, "\n... and %d more", len(waiting)-pendingShown)
			break
		}
		fmt.Fprintf(&b, "\n#%d [%s] %s: %s", a.ID, a.TaskLabel, a.SenderLabel(), transport.Truncate(a.Text, 60))
	}
	return b.String(), nil
}

func (r *Router) stats(ctx context.Context, userID string) (string, error) {
	st, err := r.queue.Stats(ctx, userID)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Messages tracked: %d\nAlerts: %d", st.Messages, st.Alerts)
	for _, s := range alert.Statuses {
		fmt.Fprintf(&b, "\n  %s: %d", s, st.ByStatus[s])
	}
	return b.String(), nil
}

func isRejection(err error) bool {
	return alert.IsRejection(err) || errors.Is(err, access.ErrForbidden)
}

// split cuts s at the first run of whitespace.
func split(s string) (head, rest string) {
	s = strings.TrimSpace(s)
	i := strings.IndexAny(s, " \t\r\n")
	if i < 0 {
		return strings.ToLower(s), ""
	}
	return strings.ToLower(s[:i]), strings.TrimSpace(s[i:])
}
