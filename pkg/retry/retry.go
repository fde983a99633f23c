// Package retry runs operations with capped exponential backoff.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Config defines retry behavior with exponential backoff
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64 // 0.0-1.0
}

// DefaultConfig starts at 100ms, doubles up to 20s, and gives up after 10 attempts.
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:  10,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     20 * time.Second,
		Multiplier:   2.0,
	}
}

// Delay returns the wait before retry number attempt (0-based), without jitter.
func (c *Config) Delay(attempt int) time.Duration {
	delay := float64(c.InitialDelay)
	for range attempt {
		delay *= c.Multiplier
		if delay >= float64(c.MaxDelay) {
			return c.MaxDelay
		}
	}
	return min(time.Duration(delay), c.MaxDelay)
}

func applyJitter(delay time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 {
		return delay
	}
	jitter := float64(delay) * jitterFactor * (rand.Float64()*2 - 1)
	return time.Duration(float64(delay) + jitter)
}

// Do calls fn until it succeeds, the attempts run out, or ctx is done.
// It returns the last error from fn, or ctx.Err() when cancelled while waiting.
func Do(ctx context.Context, cfg *Config, fn func(ctx context.Context) error) error {
	_, err := DoWithResult(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoWithResult is Do for functions that return a value. The last result is
// returned alongside the last error.
func DoWithResult[T any](ctx context.Context, cfg *Config, fn func(ctx context.Context) (T, error)) (T, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	attempts := max(cfg.MaxAttempts, 1)

	var result T
	var lastErr error
	for attempt := range attempts {
		result, lastErr = fn(ctx)
		if lastErr == nil {
			return result, nil
		}
		if attempt == attempts-1 {
			break
		}

		timer := time.NewTimer(applyJitter(cfg.Delay(attempt), cfg.JitterFactor))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return result, ctx.Err()
		}
	}

	return result, lastErr
}
