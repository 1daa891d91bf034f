package alert

import (
	"fmt"
	"time"
)

// Status tracks where an alert is in its lifecycle.
type Status string

const (
	// StatusPending means detected, not yet surfaced to operators
	StatusPending Status = "pending"

	// StatusNotified means the summary was dispatched to every recipient
	StatusNotified Status = "notified"

	// StatusReplied means an operator reply is waiting for delivery
	StatusReplied Status = "replied"

	// StatusDelivered means the reply reached the conversation (terminal)
	StatusDelivered Status = "delivered"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusPending, StatusNotified, StatusReplied, StatusDelivered}

// ParseStatus validates s against the closed set of statuses.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return st, nil
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s.rank() >= 0
}

// rank orders statuses along the lifecycle; -1 for unknown values.
func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusNotified:
		return 1
	case StatusReplied:
		return 2
	case StatusDelivered:
		return 3
	default:
		return -1
	}
}

// Before reports whether s comes strictly earlier in the lifecycle than o.
func (s Status) Before(o Status) bool {
	return s.rank() >= 0 && o.rank() >= 0 && s.rank() < o.rank()
}

// Alert is one detected duplicate occurrence.
type Alert struct {
	ID                 int64      `json:"id"`
	TaskID             int64      `json:"task_id"`
	OwnerID            string     `json:"owner_id"`
	TaskLabel          string     `json:"task_label"`
	ConversationID     string     `json:"conversation_id"`
	DuplicateMessageID string     `json:"duplicate_message_id"`
	OriginalMessageID  string     `json:"original_message_id"`
	Text               string     `json:"text"`
	SenderID           string     `json:"sender_id,omitempty"`
	SenderName         string     `json:"sender_name,omitempty"`
	Status             Status     `json:"status"`
	ReplyText          string     `json:"reply_text,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	NotifiedAt         *time.Time `json:"notified_at,omitempty"`
	RepliedAt          *time.Time `json:"replied_at,omitempty"`
	DeliveredAt        *time.Time `json:"delivered_at,omitempty"`
}

// Clone returns a deep copy.
func (a *Alert) Clone() *Alert {
	cp := *a
	cp.NotifiedAt = cloneTime(a.NotifiedAt)
	cp.RepliedAt = cloneTime(a.RepliedAt)
	cp.DeliveredAt = cloneTime(a.DeliveredAt)
	return &cp
}

// SenderLabel is the best human-readable name for the sender.
func (a *Alert) SenderLabel() string {
	switch {
	case a.SenderName != "":
		return a.SenderName
	case a.SenderID != "":
		return a.SenderID
	default:
		return "Unknown"
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// NewAlert is the input to Store.CreateAlert.
type NewAlert struct {
	TaskID             int64
	OwnerID            string
	TaskLabel          string
	ConversationID     string
	DuplicateMessageID string
	OriginalMessageID  string
	Text               string
	SenderID           string
	SenderName         string
	CreatedAt          time.Time
}

// Stats summarizes an owner's detection activity.
type Stats struct {
	Messages int64            `json:"messages"`
	Alerts   int64            `json:"alerts"`
	ByStatus map[Status]int64 `json:"by_status"`
}
