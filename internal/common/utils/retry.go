package utils

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"
)

// RetryConfig holds configuration for retry operations with exponential
// backoff and jitter.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial attempt)
	MaxAttempts int

	// InitialDelay is the delay before the first retry
	InitialDelay time.Duration

	// MaxDelay caps exponential growth
	MaxDelay time.Duration

	// BackoffFactor is the multiplier for exponential backoff
	BackoffFactor float64

	// JitterFactor adds randomness to delays (0.0-1.0)
	JitterFactor float64

	// RetryableErrors determines which errors should trigger a retry.
	// If nil, all errors are considered retryable.
	RetryableErrors func(error) bool
}

// DefaultRetryConfig returns a sensible default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  1 * time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		JitterFactor:  0.1,
	}
}

// BackoffDelay returns the delay to wait before the given retry attempt
// (attempt 1 = first retry). The base delay grows exponentially, is
// capped at MaxDelay, then receives up to JitterFactor of randomness.
// Exposed so timer-driven schedulers can compute delays without sleeping
// inside RetryWithBackoff.
func (c RetryConfig) BackoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := c.InitialDelay
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * c.BackoffFactor)
		if delay >= c.MaxDelay {
			delay = c.MaxDelay
			break
		}
	}
	if delay > c.MaxDelay {
		delay = c.MaxDelay
	}

	if c.JitterFactor > 0 {
		jitter := time.Duration(float64(delay) * c.JitterFactor)
		delay += time.Duration(randomInt64n(int64(jitter)))
	}

	return delay
}

// RetryWithBackoff executes fn with exponential backoff between failed
// attempts. Returns nil on the first success, the original error if it
// is non-retryable, and a wrapped "max retries exceeded" error once the
// attempt budget is spent. Honors context cancellation between attempts.
func RetryWithBackoff(ctx context.Context, config RetryConfig, fn func() error) error {
	var lastErr error

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err

			if config.RetryableErrors != nil && !config.RetryableErrors(err) {
				return err
			}

			if attempt == config.MaxAttempts {
				break
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-time.After(config.BackoffDelay(attempt)):
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// randomInt64n returns a cryptographically secure random int64 in [0, n).
func randomInt64n(n int64) int64 {
	if n <= 0 {
		return 0
	}

	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return time.Now().UnixNano() % n
	}

	val := int64(bytes[0])<<56 | int64(bytes[1])<<48 | int64(bytes[2])<<40 | int64(bytes[3])<<32 |
		int64(bytes[4])<<24 | int64(bytes[5])<<16 | int64(bytes[6])<<8 | int64(bytes[7])

	if val < 0 {
		val = -val
	}

	return val % n
}
