// Package retry provides bounded exponential backoff for robot fault recovery,
// media detection, and inventory scans.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// NonRetryableError wraps errors that should not be retried.
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("non-retryable: %v", e.Err)
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

// NonRetryable wraps an error to indicate it should not be retried.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// IsNonRetryable checks if an error is marked as non-retryable.
func IsNonRetryable(err error) bool {
	var nre *NonRetryableError
	return errors.As(err, &nre)
}

// Config provides retry configuration.
type Config struct {
	MaxAttempts  int           // total attempts; values <= 0 run once
	InitialDelay time.Duration // first delay between attempts
	MaxDelay     time.Duration // upper bound for any delay
	Multiplier   float64       // backoff multiplier; 1 keeps a fixed interval
	AddJitter    bool          // add up to 25% random delay
}

// Fixed returns a config that retries at a constant interval.
func Fixed(attempts int, interval time.Duration) Config {
	return Config{MaxAttempts: attempts, InitialDelay: interval, MaxDelay: interval, Multiplier: 1}
}

// Backoff yields successive delays for a Config.
type Backoff struct {
	cfg   Config
	delay time.Duration
}

// NewBackoff returns a delay sequence starting at cfg.InitialDelay.
func NewBackoff(cfg Config) *Backoff {
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2
	}
	if cfg.MaxDelay > 0 && cfg.MaxDelay < cfg.InitialDelay {
		cfg.MaxDelay = cfg.InitialDelay
	}
	return &Backoff{cfg: cfg, delay: cfg.InitialDelay}
}

// Next returns the delay to wait before the next attempt.
func (b *Backoff) Next() time.Duration {
	current := b.delay
	next := time.Duration(float64(b.delay) * b.cfg.Multiplier)
	if b.cfg.MaxDelay > 0 && (next > b.cfg.MaxDelay || next < 0) {
		next = b.cfg.MaxDelay
	}
	b.delay = next
	if b.cfg.AddJitter && current >= 4 {
		current += time.Duration(rand.Int64N(int64(current / 4)))
	}
	return current
}

// Reset restarts the sequence at the initial delay.
func (b *Backoff) Reset() {
	b.delay = b.cfg.InitialDelay
}

// Sleep waits for d or until ctx ends.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do executes fn until it succeeds, returns a non-retryable error, the
// attempts run out, or ctx ends. fn receives the one-based attempt number.
func Do(ctx context.Context, cfg Config, fn func(attempt int) error) error {
	if cfg.InitialDelay < 0 || cfg.MaxDelay < 0 {
		return errors.New("retry: delays cannot be negative")
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	backoff := NewBackoff(cfg)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		lastErr = err
		if IsNonRetryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return fmt.Errorf("retry cancelled before attempt %d: %w", attempt+1, ctx.Err())
		}
		if attempt == attempts {
			break
		}
		if err := Sleep(ctx, backoff.Next()); err != nil {
			return fmt.Errorf("retry cancelled during backoff for attempt %d: %w", attempt+1, err)
		}
	}
	return fmt.Errorf("retry failed after %d attempts: %w", attempts, lastErr)
}
