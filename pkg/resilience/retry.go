// Package resilience provides the retry and circuit-breaker policies that
// wrap provider requests.
package resilience

import (
	"context"
	"fmt"
	"time"
)

// RetryClass tells the retry loop how to treat a failed attempt.
type RetryClass int

const (
	// RetryNever stops the loop immediately: retrying cannot help
	// (auth failures, missing credentials).
	RetryNever RetryClass = iota
	// RetryFixed retries after a fixed short delay (timeouts, network
	// errors, malformed bodies).
	RetryFixed
	// RetryBackoff retries after an exponentially growing delay
	// (rate limits).
	RetryBackoff
)

// String returns a label suitable for logs and metric values.
func (c RetryClass) String() string {
	switch c {
	case RetryNever:
		return "terminal"
	case RetryFixed:
		return "fixed"
	case RetryBackoff:
		return "backoff"
	default:
		return "unknown"
	}
}

// Classified is implemented by errors that carry their own retry treatment.
// Errors that do not implement it are treated as terminal.
type Classified interface {
	error
	RetryClass() RetryClass
}

// RetryConfig holds the retry policy for one logical request.
type RetryConfig struct {
	MaxAttempts int           // Attempt budget (default 3).
	FixedDelay  time.Duration // Delay for RetryFixed failures (default 1s).
	BackoffUnit time.Duration // Base delay for RetryBackoff: unit << attempt (default 1s).

	// OnRetry, when set, observes every sleep the loop takes.
	OnRetry func(attempt int, class RetryClass, delay time.Duration)

	// Sleep overrides the context-aware sleep, for tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryConfig returns the default policy: three attempts, one-second
// fixed delay, exponential rate-limit backoff starting at one second.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		FixedDelay:  time.Second,
		BackoffUnit: time.Second,
	}
}

func (cfg RetryConfig) withDefaults() RetryConfig {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.FixedDelay <= 0 {
		cfg.FixedDelay = time.Second
	}
	if cfg.BackoffUnit <= 0 {
		cfg.BackoffUnit = time.Second
	}
	if cfg.Sleep == nil {
		cfg.Sleep = contextSleep
	}
	return cfg
}

// Retry runs fn up to cfg.MaxAttempts times.
//
// Failed attempts sleep before the next try according to their RetryClass:
// RetryBackoff sleeps unit<<attempt (1s, 2s, 4s, ...) after every failed
// attempt including the last; RetryFixed
// sleeps the fixed delay except after the final attempt; RetryNever and
// unclassified errors are returned immediately. On exhaustion the returned
// error names the attempt count and wraps the last failure, so callers can
// still match its kind with errors.As.
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	cfg = cfg.withDefaults()

	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry: %w", err)
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		classified, ok := lastErr.(Classified)
		if !ok {
			return lastErr
		}

		var delay time.Duration
		switch classified.RetryClass() {
		case RetryNever:
			return lastErr
		case RetryBackoff:
			delay = cfg.BackoffUnit << uint(attempt)
		default:
			if attempt == cfg.MaxAttempts-1 {
				continue // no sleep before reporting exhaustion
			}
			delay = cfg.FixedDelay
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, classified.RetryClass(), delay)
		}
		if err := cfg.Sleep(ctx, delay); err != nil {
			return fmt.Errorf("retry: %w", err)
		}
	}

	return fmt.Errorf("request failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

func contextSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
