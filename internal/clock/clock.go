// Package clock abstracts time so the polling loops can be driven
// deterministically in tests.
package clock

import "time"

// Clock is the subset of the time package the loops depend on.
type Clock interface {
	Now() time.Time

	// After returns a channel that receives the current time once d has
	// elapsed. If d <= 0 the channel receives immediately.
	After(d time.Duration) <-chan time.Time

	// NewTicker panics if d <= 0, like time.NewTicker.
	NewTicker(d time.Duration) *Ticker
}

// Ticker delivers ticks on C until stopped.
type Ticker struct {
	C <-chan time.Time

	stopFunc  func()
	resetFunc func(time.Duration)
}

// Stop turns off the ticker. No more ticks are sent after Stop returns.
func (t *Ticker) Stop() { t.stopFunc() }

// Reset changes the ticker period and restarts the countdown.
func (t *Ticker) Reset(d time.Duration) { t.resetFunc(d) }
