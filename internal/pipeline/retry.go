package pipeline

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"affordability-pipeline/internal/model"
)

// RetryConfig defines bounded retry behavior for calls to external
// collaborators
type RetryConfig struct {
	MaxAttempts       int           `json:"max_attempts"`
	InitialDelay      time.Duration `json:"initial_delay"`
	MaxDelay          time.Duration `json:"max_delay"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
	Jitter            bool          `json:"jitter"`
}

// DefaultRetryConfig waits 1s, 2s, 4s... between fetch attempts
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:       3,
	InitialDelay:      1 * time.Second,
	MaxDelay:          30 * time.Second,
	BackoffMultiplier: 2.0,
	Jitter:            false,
}

// Delay returns the wait before attempt number attempt+1, where attempt
// counts from 1.
func (c RetryConfig) Delay(attempt int) time.Duration {
	mult := c.BackoffMultiplier
	if mult < 1 {
		mult = 1
	}
	// Calculate delay with exponential backoff
	delay := time.Duration(float64(c.InitialDelay) * math.Pow(mult, float64(attempt-1)))

	// Cap at max delay
	if c.MaxDelay > 0 && delay > c.MaxDelay {
		delay = c.MaxDelay
	}

	// Add up to ±5% jitter if enabled
	if c.Jitter && delay > 0 {
		delay += time.Duration(float64(delay) * 0.1 * (rand.Float64() - 0.5))
	}
	return delay
}

// Retry calls fn until it succeeds, returns a non-transient error, or
// MaxAttempts is reached. Only TransientIOError is retried: every other
// failure is deterministic for the same input. It returns the number of
// attempts made.
func Retry(ctx context.Context, cfg RetryConfig, op string, logger *slog.Logger, fn func(ctx context.Context) error) (int, error) {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return attempt, nil
		}
		if !model.IsTransient(err) || attempt == attempts {
			return attempt, err
		}

		delay := cfg.Delay(attempt)
		if logger != nil {
			logger.Warn("transient failure, retrying", "op", op, "attempt", attempt, "max_attempts", attempts, "delay", delay, "error", err)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, ctx.Err()
		case <-timer.C:
		}
	}
	return attempts, err
}
