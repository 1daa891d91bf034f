package transport

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/linnemanlabs/dupwatch/internal/clock"
)

func TestSendError(t *testing.T) {
	t.Parallel()

	inner := errors.New("code 99991400")
	err := fmt.Errorf("reply: %w", &SendError{Reason: ReasonRateLimited, RetryAfter: 3 * time.Second, Err: inner})

	if !errors.Is(err, inner) {
		t.Error("SendError does not unwrap to its cause")
	}
	if got := ReasonOf(err); got != ReasonRateLimited {
		t.Errorf("ReasonOf = %q", got)
	}
	d, ok := WaitHint(err)
	if !ok || d != 3*time.Second {
		t.Errorf("WaitHint = %v, %v", d, ok)
	}

	if _, ok := WaitHint(&SendError{Reason: ReasonTimeout, Err: inner}); ok {
		t.Error("WaitHint without RetryAfter reported ok")
	}
	if got := ReasonOf(inner); got != "" {
		t.Errorf("ReasonOf(plain) = %q", got)
	}
}

func TestGate(t *testing.T) {
	t.Parallel()

	clk := clock.Fake(time.Unix(1000, 0))
	g := NewGate(clk)
	if g.Remaining() != 0 {
		t.Fatal("new gate is closed")
	}

	g.Hold(10 * time.Second)
	if got := g.Remaining(); got != 10*time.Second {
		t.Errorf("Remaining = %v, want 10s", got)
	}

	// shorter hold keeps the longer one
	g.Hold(time.Second)
	clk.Advance(4 * time.Second)
	if got := g.Remaining(); got != 6*time.Second {
		t.Errorf("Remaining = %v, want 6s", got)
	}

	if g.Observe(errors.New("plain")) {
		t.Error("Observe(plain) = true")
	}
	if !g.Observe(&SendError{Reason: ReasonRateLimited, RetryAfter: 20 * time.Second}) {
		t.Error("Observe(hint) = false")
	}
	if got := g.Remaining(); got != 20*time.Second {
		t.Errorf("Remaining after observe = %v, want 20s", got)
	}

	clk.Advance(20 * time.Second)
	if got := g.Remaining(); got != 0 {
		t.Errorf("Remaining after expiry = %v", got)
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello world", 8, "hello..."},
		{"héllo wörld", 8, "héllo..."},
		{"abcdef", 2, "ab"},
		{"abc", 0, "abc"},
	}
	for _, tt := range tests {
		if got := Truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
