package task

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Method selects how message text is reduced before hashing.
type Method string

const (
	// MethodContentHash collapses whitespace runs before hashing.
	MethodContentHash Method = "content-hash"

	// MethodExactText hashes the trimmed raw text.
	MethodExactText Method = "exact-text"
)

const (
	// DefaultWindowHours is used when a task is created without a window.
	DefaultWindowHours = 1

	// MaxWindowHours bounds the dedup window to 30 days.
	MaxWindowHours = 720

	maxLabelLen         = 64
	maxConversationsLen = 500
)

// ParseMethod validates s. An empty string selects MethodContentHash.
func ParseMethod(s string) (Method, error) {
	switch Method(strings.TrimSpace(s)) {
	case "", MethodContentHash:
		return MethodContentHash, nil
	case MethodExactText:
		return MethodExactText, nil
	default:
		return "", fmt.Errorf("%w: unknown method %q", ErrInvalid, s)
	}
}

// Task is a monitor task owned by a single operator.
type Task struct {
	ID              int64     `json:"id"`
	OwnerID         string    `json:"owner_id"`
	Label           string    `json:"label"`
	ConversationIDs []string  `json:"conversation_ids"`
	WindowHours     int       `json:"window_hours"`
	Method          Method    `json:"method"`
	Active          bool      `json:"active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Window returns the dedup window as a duration.
func (t *Task) Window() time.Duration {
	return time.Duration(t.WindowHours) * time.Hour
}

// Watches reports whether the task monitors conversationID.
func (t *Task) Watches(conversationID string) bool {
	return slices.Contains(t.ConversationIDs, conversationID)
}

// Clone returns a deep copy.
func (t *Task) Clone() *Task {
	cp := *t
	cp.ConversationIDs = slices.Clone(t.ConversationIDs)
	return &cp
}

// Update carries the fields to change on a task. Nil fields are left
// untouched.
type Update struct {
	Label           *string  `json:"label,omitempty"`
	ConversationIDs []string `json:"conversation_ids,omitempty"`
	WindowHours     *int     `json:"window_hours,omitempty"`
	Method          *Method  `json:"method,omitempty"`
	Active          *bool    `json:"active,omitempty"`
}

// Empty reports whether the update changes nothing.
func (u *Update) Empty() bool {
	return u.Label == nil && u.ConversationIDs == nil && u.WindowHours == nil && u.Method == nil && u.Active == nil
}

// Apply writes the non-nil fields of u onto t.
func (u *Update) Apply(t *Task) {
	if u.Label != nil {
		t.Label = *u.Label
	}
	if u.ConversationIDs != nil {
		t.ConversationIDs = slices.Clone(u.ConversationIDs)
	}
	if u.WindowHours != nil {
		t.WindowHours = *u.WindowHours
	}
	if u.Method != nil {
		t.Method = *u.Method
	}
	if u.Active != nil {
		t.Active = *u.Active
	}
}

func validateLabel(label string) error {
	if label == "" {
		return fmt.Errorf("%w: label is required", ErrInvalid)
	}
	if len(label) > maxLabelLen {
		return fmt.Errorf("%w: label longer than %d bytes", ErrInvalid, maxLabelLen)
	}
	if strings.ContainsAny(label, " \t\r\n") {
		return fmt.Errorf("%w: label must not contain whitespace", ErrInvalid)
	}
	return nil
}

func validateWindow(hours int) error {
	if hours < 1 || hours > MaxWindowHours {
		return fmt.Errorf("%w: window_hours %d (must be 1..%d)", ErrInvalid, hours, MaxWindowHours)
	}
	return nil
}

// normalizeConversations trims, drops empties and removes repeats while
// keeping the caller's order.
func normalizeConversations(ids []string) ([]string, error) {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || slices.Contains(out, id) {
			continue
		}
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: at least one conversation id is required", ErrInvalid)
	}
	if len(out) > maxConversationsLen {
		return nil, fmt.Errorf("%w: more than %d conversations", ErrInvalid, maxConversationsLen)
	}
	return out, nil
}
