package alert

import (
	"context"
	"time"
)

// Store is the persistence interface for alerts. Each transition is a
// single guarded statement so loops in separate processes can race on the
// same row without read-modify-write hazards.
//
// CreateAlert is idempotent on (task, conversation, duplicate message id):
// a repeat returns the existing id with created=false.
//
// MarkNotified and MarkDelivered return changed=false for a no-op; the
// rejection rules are those of NotifyOutcome and DeliveryOutcome.
// SubmitReply rejects per ReplyRejection.
//
// ListByStatus and ListAlerts return oldest first. An empty status in
// ListAlerts matches every status.
type Store interface {
	CreateAlert(ctx context.Context, a *NewAlert) (id int64, created bool, err error)
	GetAlert(ctx context.Context, id int64) (*Alert, bool, error)
	MarkNotified(ctx context.Context, id int64, at time.Time) (changed bool, err error)
	SubmitReply(ctx context.Context, id int64, text string, at time.Time) error
	MarkDelivered(ctx context.Context, id int64, at time.Time) (changed bool, err error)
	ListByStatus(ctx context.Context, status Status, limit int) ([]*Alert, error)
	ListAlerts(ctx context.Context, ownerID string, status Status, limit int) ([]*Alert, error)
	Stats(ctx context.Context, ownerID string) (*Stats, error)
}
