package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/dupwatch/internal/clock"
)

const (
	// DefaultListLimit caps list calls that pass no limit.
	DefaultListLimit = 200

	// MaxListLimit is the largest page a caller may request.
	MaxListLimit = 1000

	// MaxReplyLen matches the chat platform's text message limit.
	MaxReplyLen = 4096
)

// Hooks receives lifecycle events, typically wired to Metrics.
type Hooks struct {
	OnCreate     func(created bool)
	OnTransition func(to Status, outcome string)
}

// Queue is the alert state machine over a Store. It stamps transitions
// with the clock, validates input at the boundary and reports outcomes to
// hooks. It holds no state of its own.
type Queue struct {
	store  Store
	clock  clock.Clock
	logger log.Logger
	hooks  Hooks
}

// NewQueue creates a Queue.
func NewQueue(store Store, clk clock.Clock, logger log.Logger, hooks Hooks) *Queue {
	if store == nil {
		panic(xerrors.New("alert store is required"))
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Queue{store: store, clock: clk, logger: logger, hooks: hooks}
}

// Create records a new pending alert and returns its id. A repeat of the
// same duplicate message returns the id of the first alert.
func (q *Queue) Create(ctx context.Context, a *NewAlert) (int64, error) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = q.clock.Now().UTC()
	}
	id, created, err := q.store.CreateAlert(ctx, a)
	if err != nil {
		return 0, fmt.Errorf("create alert: %w", err)
	}
	if q.hooks.OnCreate != nil {
		q.hooks.OnCreate(created)
	}
	if created {
		q.logger.Info(ctx, "alert created",
			"alert_id", id,
			"task_id", a.TaskID,
			"conversation_id", a.ConversationID,
			"duplicate_message_id", a.DuplicateMessageID,
			"original_message_id", a.OriginalMessageID,
		)
	}
	return id, nil
}

// Get returns the alert with the given id or ErrNotFound.
func (q *Queue) Get(ctx context.Context, id int64) (*Alert, error) {
	a, ok, err := q.store.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return a, nil
}

// MarkNotified moves a pending alert to notified. It returns false when
// the alert was already notified or later.
func (q *Queue) MarkNotified(ctx context.Context, id int64) (bool, error) {
	changed, err := q.store.MarkNotified(ctx, id, q.clock.Now().UTC())
	q.observe(StatusNotified, changed, err)
	return changed, err
}

// SubmitReply stores an operator reply on a pending or notified alert.
func (q *Queue) SubmitReply(ctx context.Context, id int64, text string) error {
	if id <= 0 {
		return fmt.Errorf("%w: alert id %d", ErrInvalid, id)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("%w: reply text is empty", ErrInvalid)
	}
	if utf8.RuneCountInString(text) > MaxReplyLen {
		return fmt.Errorf("%w: reply longer than %d characters", ErrInvalid, MaxReplyLen)
	}
	err := q.store.SubmitReply(ctx, id, text, q.clock.Now().UTC())
	q.observe(StatusReplied, err == nil, err)
	return err
}

// MarkDelivered moves a replied alert to delivered. It returns false when
// the alert was already delivered.
func (q *Queue) MarkDelivered(ctx context.Context, id int64) (bool, error) {
	changed, err := q.store.MarkDelivered(ctx, id, q.clock.Now().UTC())
	q.observe(StatusDelivered, changed, err)
	return changed, err
}

// ListByStatus returns up to limit alerts in status, oldest first.
func (q *Queue) ListByStatus(ctx context.Context, status Status, limit int) ([]*Alert, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	return q.store.ListByStatus(ctx, status, clampLimit(limit))
}

// ListAlerts returns the owner's alerts, optionally filtered by status.
func (q *Queue) ListAlerts(ctx context.Context, ownerID string, status Status, limit int) ([]*Alert, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	return q.store.ListAlerts(ctx, ownerID, status, clampLimit(limit))
}

// Stats returns message and alert counts for the owner.
func (q *Queue) Stats(ctx context.Context, ownerID string) (*Stats, error) {
	return q.store.Stats(ctx, ownerID)
}

func (q *Queue) observe(to Status, changed bool, err error) {
	if q.hooks.OnTransition == nil {
		return
	}
	outcome := "changed"
	switch {
	case err != nil && IsRejection(err):
		outcome = "rejected"
	case err != nil:
		outcome = "error"
	case !changed:
		outcome = "noop"
	}
	q.hooks.OnTransition(to, outcome)
}

// IsRejection reports whether err is a typed lifecycle rejection rather
// than a storage fault.
func IsRejection(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAlreadyReplied) ||
		errors.Is(err, ErrAlreadyDelivered) ||
		errors.Is(err, ErrNotReplied) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrInvalid)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
