// Package retry runs an operation with exponential backoff. It is used by the
// command line tool around symbol server downloads; the libraries never retry
// on their own.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Config defines the backoff schedule.
type Config struct {
	// MaxRetries is the number of attempts. Values below 1 mean one attempt.
	MaxRetries int
	// InitialBackoff is the wait before the second attempt; it doubles after each failure.
	InitialBackoff time.Duration
	// MaxBackoff caps the wait. Zero means no cap.
	MaxBackoff time.Duration
	// Jitter in [0, 1] lengthens later waits by up to that fraction.
	Jitter float64
}

// ShouldRetryFunc decides whether err is worth another attempt. A nil
// ShouldRetryFunc retries every error.
type ShouldRetryFunc func(error) bool

// NotifyFunc is called before each wait with the failed attempt number
// (starting at 1), its error and the wait.
type NotifyFunc func(attempt int, err error, wait time.Duration)

// Do calls fn until it succeeds, returns an error shouldRetry rejects, the
// attempts run out, or ctx is done.
func Do(ctx context.Context, cfg Config, fn func() error, shouldRetry ShouldRetryFunc) error {
	return DoNotify(ctx, cfg, fn, shouldRetry, nil)
}

// DoNotify is Do with a callback before every wait.
func DoNotify(ctx context.Context, cfg Config, fn func() error, shouldRetry ShouldRetryFunc, notify NotifyFunc) error {
	attempts := max(cfg.MaxRetries, 1)

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			wait := calculateBackoff(cfg, attempt)
			if notify != nil {
				notify(attempt, lastErr, wait)
			}
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		if shouldRetry != nil && !shouldRetry(err) {
			return err
		}
		lastErr = err
	}

	if attempts == 1 {
		return lastErr
	}
	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}

// calculateBackoff returns InitialBackoff * 2^(attempt-1), capped by
// MaxBackoff, plus a jitter share that grows with the attempt number.
func calculateBackoff(cfg Config, attempt int) time.Duration {
	backoff := time.Duration(math.Pow(2, float64(attempt-1)) * float64(cfg.InitialBackoff))
	if cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff {
		backoff = cfg.MaxBackoff
	}
	if cfg.Jitter > 0 {
		backoff += time.Duration(float64(backoff) * cfg.Jitter * float64(attempt) / float64(max(cfg.MaxRetries, 1)))
	}
	return backoff
}
