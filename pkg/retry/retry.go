// Package retry provides a small exponential-backoff helper for Transient
// errors. No other package in this repository calls it.
package retry

import (
	"context"
	"time"
)

// Config controls the backoff schedule.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultConfig matches spec.md's capped-retries-then-Failed policy: 10
// attempts, starting at one second, doubling up to two minutes.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 10,
		BaseDelay:   time.Second,
		MaxDelay:    2 * time.Minute,
	}
}

// Do calls fn until it succeeds, ctx is cancelled, or MaxAttempts is
// exhausted. It returns the last error seen.
func Do(ctx context.Context, cfg Config, fn func(attempt int) error) error {
	delay := cfg.BaseDelay
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := fn(attempt); err != nil {
			lastErr = err
		} else {
			return nil
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return lastErr
}
