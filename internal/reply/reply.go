// Package reply is the single entry point for operator replies, shared by
// the chat commands, the HTTP API and the MCP tools.
package reply

import (
	"context"
	"errors"
	"fmt"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/dupwatch/internal/access"
	"github.com/linnemanlabs/dupwatch/internal/alert"
)

// Intake validates who is replying and hands the reply to the queue.
//
// The owner of the alert's task may always reply. Configured operators
// and allow-list admins may reply to any alert.
type Intake struct {
	queue  *alert.Queue
	access *access.Checker
	logger log.Logger
}

// New creates an Intake.
func New(queue *alert.Queue, checker *access.Checker, logger log.Logger) *Intake {
	if queue == nil || checker == nil {
		panic(xerrors.New("reply requires queue and access checker"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Intake{queue: queue, access: checker, logger: logger}
}

// Submit stores text as the reply to alertID on behalf of operatorID and
// returns the updated alert. Rejections wrap access.ErrForbidden or one of
// the alert sentinels and carry the alert id in the message.
func (in *Intake) Submit(ctx context.Context, operatorID string, alertID int64, text string) (*alert.Alert, error) {
	a, err := in.queue.Get(ctx, alertID)
	if err != nil {
		return nil, fmt.Errorf("alert %d: %w", alertID, err)
	}
	if err := in.authorize(ctx, operatorID, a); err != nil {
		return nil, err
	}

	if err := in.queue.SubmitReply(ctx, alertID, text); err != nil {
		if alert.IsRejection(err) {
			in.logger.Info(ctx, "reply rejected", "alert_id", alertID, "operator_id", operatorID, "reason", err.Error())
		}
		return nil, fmt.Errorf("alert %d: %w", alertID, err)
	}

	in.logger.Info(ctx, "reply accepted", "alert_id", alertID, "operator_id", operatorID)
	return in.queue.Get(ctx, alertID)
}

func (in *Intake) authorize(ctx context.Context, operatorID string, a *alert.Alert) error {
	if operatorID != "" && a.OwnerID == operatorID {
		return nil
	}
	admin, err := in.access.IsAdmin(ctx, operatorID)
	if err != nil {
		return err
	}
	if !admin {
		return fmt.Errorf("%w: alert %d belongs to another owner", access.ErrForbidden, a.ID)
	}
	return nil
}

// Describe renders a reply outcome for a chat user.
func Describe(alertID int64, err error) string {
	switch {
	case err == nil:
		return fmt.Sprintf("Reply to alert %d queued for delivery.", alertID)
	case errors.Is(err, alert.ErrNotFound):
		return fmt.Sprintf("Alert %d not found.", alertID)
	case errors.Is(err, alert.ErrAlreadyReplied):
		return fmt.Sprintf("Alert %d already has a reply.", alertID)
	case errors.Is(err, alert.ErrAlreadyDelivered):
		return fmt.Sprintf("Alert %d was already answered and delivered.", alertID)
	case errors.Is(err, alert.ErrInvalid):
		return fmt.Sprintf("Reply to alert %d rejected: %v", alertID, err)
	case errors.Is(err, access.ErrForbidden):
		return fmt.Sprintf("You are not allowed to reply to alert %d.", alertID)
	default:
		return fmt.Sprintf("Reply to alert %d failed, try again later.", alertID)
	}
}
