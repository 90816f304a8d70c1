// Package retry provides a retry combinator for calls against the workspace server
package retry

import (
	"context"
	"fmt"
	"time"
)

// Config controls retry behavior
type Config struct {
	MaxAttempts int           // total attempts, including the first
	Delay       time.Duration // delay before each retry
	Backoff     float64       // delay multiplier per retry; <= 1 means fixed delay
	MaxDelay    time.Duration // cap on the delay when backoff is in effect
}

// Retryable decides whether an error is worth retrying. A nil predicate
// retries every error.
type Retryable func(error) bool

// Do runs fn until it succeeds, the error is terminal, the attempt ceiling
// is reached, or the context is cancelled. The last error is returned wrapped
// when attempts are exhausted; terminal errors are returned as-is so callers
// can match sentinels with errors.Is.
func Do(ctx context.Context, cfg Config, fn func() error, retryable Retryable) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	delay := cfg.Delay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}

			if cfg.Backoff > 1 {
				delay = time.Duration(float64(delay) * cfg.Backoff)
				if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
					delay = cfg.MaxDelay
				}
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if retryable != nil && !retryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	return fmt.Errorf("max retries exceeded after %d attempts: %w", cfg.MaxAttempts, lastErr)
}
