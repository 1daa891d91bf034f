package sqlitestore

import (
	"context"
	"math/rand/v2"
	"strings"
	"time"
)

// RetryConfig controls exponential backoff on lock contention.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	JitterPct  float64 // 0.25 adds up to 25% of the delay
}

// DefaultRetryConfig is 7 retries from a 50ms base with 25% jitter.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 7,
		BaseDelay:  50 * time.Millisecond,
		JitterPct:  0.25,
	}
}

// sleepFunc waits for d or until ctx is done.
type sleepFunc func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// retryOnBusy reruns fn while it fails with a lock error. The last error
// is returned when retries run out or ctx ends first.
func retryOnBusy(ctx context.Context, cfg RetryConfig, fn func() error, sleep sleepFunc) error {
	err := fn()
	if err == nil || !isBusy(err) {
		return err
	}

	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		delay := cfg.BaseDelay * (1 << (attempt - 1))
		jitter := time.Duration(float64(delay) * rand.Float64() * cfg.JitterPct)
		if serr := sleep(ctx, delay+jitter); serr != nil {
			return err
		}

		err = fn()
		if err == nil || !isBusy(err) {
			return err
		}
	}
	return err
}

func isBusy(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "sqlite_busy")
}
