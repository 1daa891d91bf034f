// Package transport defines the chat platform boundary: inbound feed
// events and the outbound Sender used by the notify and deliver loops.
// Platform adapters live in subpackages.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/linnemanlabs/dupwatch/internal/clock"
)

// ChatType distinguishes direct chats with the bot from group chats.
type ChatType string

const (
	ChatDirect ChatType = "p2p"
	ChatGroup  ChatType = "group"
)

// Event is one inbound text message from the feed.
type Event struct {
	ConversationID string
	MessageID      string
	SenderID       string
	SenderName     string // may be empty
	Text           string
	ChatType       ChatType
	ObservedAt     time.Time
}

// Handler consumes feed events. Implementations must be safe for
// concurrent use; the feed does not serialize calls.
type Handler func(ctx context.Context, ev Event)

// Sender posts messages to the chat platform. Failures are *SendError.
type Sender interface {
	// SendToRecipient posts text to one operator's direct chat.
	SendToRecipient(ctx context.Context, recipientID, text string) error
	// SendReply posts text into the conversation as a reply threaded to
	// the given message.
	SendReply(ctx context.Context, conversationID, text, replyToMessageID string) error
}

// Reason classifies a send failure.
type Reason string

const (
	ReasonRateLimited Reason = "rate_limited"
	ReasonTimeout     Reason = "timeout"
	ReasonRejected    Reason = "rejected"
	ReasonUnavailable Reason = "unavailable"
)

// SendError is the structured failure returned by Sender implementations.
// RetryAfter is the platform's wait hint, zero when none was given.
type SendError struct {
	Reason     Reason
	RetryAfter time.Duration
	Err        error
}

func (e *SendError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("send %s (retry after %s): %v", e.Reason, e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("send %s: %v", e.Reason, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// ReasonOf extracts the failure reason, or "" when err is not a SendError.
func ReasonOf(err error) Reason {
	var se *SendError
	if errors.As(err, &se) {
		return se.Reason
	}
	return ""
}

// WaitHint extracts a positive wait hint from err.
func WaitHint(err error) (time.Duration, bool) {
	var se *SendError
	if errors.As(err, &se) && se.RetryAfter > 0 {
		return se.RetryAfter, true
	}
	return 0, false
}

// Gate holds back sends system-wide until the latest wait hint expires.
// The zero value is not usable; create one with NewGate.
type Gate struct {
	mu    sync.Mutex
	until time.Time
	clk   clock.Clock
}

// NewGate creates an open gate.
func NewGate(clk clock.Clock) *Gate {
	return &Gate{clk: clk}
}

// Hold closes the gate for d from now. A shorter hold never shortens an
// existing one.
func (g *Gate) Hold(d time.Duration) {
	if d <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if until := g.clk.Now().Add(d); until.After(g.until) {
		g.until = until
	}
}

// Remaining reports how long the gate stays closed; zero means open.
func (g *Gate) Remaining() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	if d := g.until.Sub(g.clk.Now()); d > 0 {
		return d
	}
	return 0
}

// Observe closes the gate when err carries a wait hint and reports whether
// it did.
func (g *Gate) Observe(err error) bool {
	d, ok := WaitHint(err)
	if ok {
		g.Hold(d)
	}
	return ok
}

// Truncate shortens s to at most n runes, marking the cut with "...".
// n <= 0 disables truncation.
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	if n <= 3 {
		return string([]rune(s)[:n])
	}
	return string([]rune(s)[:n-3]) + "..."
}
