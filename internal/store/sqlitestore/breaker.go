package sqlitestore

import (
	"errors"
	"sync"
	"time"

	"github.com/linnemanlabs/dupwatch/internal/clock"
)

// BreakerState is the circuit breaker state.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("sqlite circuit breaker is open")

// CircuitBreaker stops hammering a failing database file. After threshold
// consecutive failures it opens; once resetTimeout has passed it lets one
// probe through and closes again if the probe succeeds.
type CircuitBreaker struct {
	mu           sync.Mutex
	state        BreakerState
	failures     int
	threshold    int
	resetTimeout time.Duration
	openedAt     time.Time
	clk          clock.Clock
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(threshold int, resetTimeout time.Duration, clk clock.Clock) *CircuitBreaker {
	if threshold < 1 {
		threshold = 1
	}
	return &CircuitBreaker{threshold: threshold, resetTimeout: resetTimeout, clk: clk}
}

// Execute runs fn unless the breaker is open.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	switch cb.state {
	case StateClosed:
		cb.mu.Unlock()
		err := fn()
		cb.mu.Lock()
		defer cb.mu.Unlock()
		if err == nil {
			cb.failures = 0
			return nil
		}
		cb.failures++
		if cb.failures >= cb.threshold {
			cb.state = StateOpen
			cb.openedAt = cb.clk.Now()
		}
		return err

	case StateOpen:
		if cb.clk.Now().Sub(cb.openedAt) < cb.resetTimeout {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.mu.Unlock()
		err := fn()
		cb.mu.Lock()
		defer cb.mu.Unlock()
		if err != nil {
			cb.state = StateOpen
			cb.openedAt = cb.clk.Now()
			return err
		}
		cb.state = StateClosed
		cb.failures = 0
		return nil

	default:
		// one probe at a time
		cb.mu.Unlock()
		return ErrCircuitOpen
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
