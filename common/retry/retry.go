// Package retry provides bounded exponential-backoff retry for transient
// failures, typically connectivity probes against networked stores.
//
// Usage:
//
//	err := retry.Do(ctx, retry.Config{MaxAttempts: 5, InitialDelay: time.Second}, func() error {
//	    return pool.Ping(ctx)
//	})
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
)

// Config controls the retry behaviour.
type Config struct {
	// MaxAttempts is the total number of attempts (including the first).
	// Zero or negative values are treated as 1 (no retries).
	MaxAttempts int
	// InitialDelay is the wait before the second attempt. Subsequent delays
	// double, up to MaxDelay, with up to 25% random jitter applied so that
	// restarting replicas do not probe a recovering backend in lockstep.
	InitialDelay time.Duration
	// MaxDelay caps the per-attempt wait (before jitter).
	MaxDelay time.Duration
	// ShouldRetry classifies errors as retryable. When nil, every non-nil
	// error is retried until attempts run out.
	ShouldRetry func(err error) bool
}

// DefaultConfig suits short-lived network calls such as a startup ping.
var DefaultConfig = Config{
	MaxAttempts:  3,
	InitialDelay: 500 * time.Millisecond,
	MaxDelay:     10 * time.Second,
}

// Do calls fn up to cfg.MaxAttempts times, backing off between attempts.
// It stops early when ctx is cancelled, fn succeeds, or ShouldRetry reports
// the error as permanent. Permanent errors are returned as-is; exhausting
// all attempts wraps the last error so callers can still match it with
// errors.Is / errors.As.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = DefaultConfig.InitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultConfig.MaxDelay
	}
	shouldRetry := cfg.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = func(error) bool { return true }
	}

	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.Join(lastErr, err)
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !shouldRetry(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		slog.Debug("retry: attempt failed",
			"attempt", attempt, "max", cfg.MaxAttempts,
			"err", lastErr, "delay", delay)

		select {
		case <-ctx.Done():
			return errors.Join(lastErr, ctx.Err())
		case <-time.After(jittered(delay)):
		}

		delay *= 2
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	if cfg.MaxAttempts > 1 {
		return fmt.Errorf("after %d attempts: %w", cfg.MaxAttempts, lastErr)
	}
	return lastErr
}

// jittered spreads d by up to ±25%.
func jittered(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	spread := int64(d) / 4
	return time.Duration(int64(d) - spread + rand.Int64N(2*spread+1))
}
