package dedup

import (
	"encoding/hex"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/linnemanlabs/dupwatch/internal/task"
)

// Normalize collapses every whitespace run to a single space and trims the
// ends. It is idempotent.
func Normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Reduce returns the text that is hashed for the given method.
func Reduce(method task.Method, s string) string {
	if method == task.MethodExactText {
		return strings.TrimSpace(s)
	}
	return Normalize(s)
}

// Digest is the hex blake3-256 of s.
func Digest(s string) string {
	sum := blake3.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
