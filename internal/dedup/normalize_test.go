package dedup

import (
	"testing"

	"github.com/linnemanlabs/dupwatch/internal/task"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"Hello world", "Hello world"},
		{"  Hello   world  ", "Hello world"},
		{"Hello\t\nworld", "Hello world"},
		{" Hello　world ", "Hello world"},
		{"", ""},
		{"   ", ""},
		{"a  b   c", "a b c"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{"", " x ", "Hello   world", "line\n\nbreaks\tand  tabs", "  mixed  space "}
	for _, s := range inputs {
		once := Normalize(s)
		if twice := Normalize(once); twice != once {
			t.Errorf("Normalize not idempotent for %q: %q then %q", s, once, twice)
		}
	}
}

func TestDigest_WhitespaceInsensitiveUnderContentHash(t *testing.T) {
	t.Parallel()

	a := Digest(Reduce(task.MethodContentHash, "Hello   world"))
	b := Digest(Reduce(task.MethodContentHash, "Hello world"))
	if a != b {
		t.Errorf("digests differ: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("digest length = %d, want 64 hex chars", len(a))
	}
}

func TestDigest_ExactTextKeepsInnerWhitespace(t *testing.T) {
	t.Parallel()

	a := Digest(Reduce(task.MethodExactText, "  Hello   world "))
	b := Digest(Reduce(task.MethodExactText, "Hello world"))
	if a == b {
		t.Error("exact-text should distinguish inner whitespace")
	}
	c := Digest(Reduce(task.MethodExactText, "Hello   world"))
	if a != c {
		t.Error("exact-text should ignore leading and trailing whitespace")
	}
}

func TestDigest_Stable(t *testing.T) {
	t.Parallel()

	if Digest("abc") != Digest("abc") {
		t.Error("Digest is not deterministic")
	}
	if Digest("abc") == Digest("abd") {
		t.Error("different inputs share a digest")
	}
}
