package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"affordability-pipeline/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastRetry = RetryConfig{MaxAttempts: 4, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, BackoffMultiplier: 2}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	attempts, err := Retry(context.Background(), fastRetry, "op", quietLogger(), func(context.Context) error {
		calls++
		if calls < 3 {
			return &model.TransientIOError{Op: "op", Err: errors.New("busy")}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	calls := 0
	permanent := &model.FetchError{Source: "s", Err: errors.New("404")}
	attempts, err := Retry(context.Background(), fastRetry, "op", nil, func(context.Context) error {
		calls++
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
}

func TestRetryGivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	attempts, err := Retry(context.Background(), fastRetry, "op", nil, func(context.Context) error {
		calls++
		return &model.TransientIOError{Op: "op", Err: errors.New("timeout")}
	})
	assert.True(t, model.IsTransient(err))
	assert.Equal(t, 4, attempts)
	assert.Equal(t, 4, calls)
}

func TestRetryHonorsContextWhileWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxAttempts: 5, InitialDelay: time.Hour}
	attempts, err := Retry(ctx, cfg, "op", nil, func(context.Context) error {
		cancel()
		return &model.TransientIOError{Op: "op", Err: errors.New("busy")}
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestRetryDelay(t *testing.T) {
	cfg := RetryConfig{InitialDelay: time.Second, MaxDelay: 5 * time.Second, BackoffMultiplier: 2}
	assert.Equal(t, time.Second, cfg.Delay(1))
	assert.Equal(t, 2*time.Second, cfg.Delay(2))
	assert.Equal(t, 4*time.Second, cfg.Delay(3))
	assert.Equal(t, 5*time.Second, cfg.Delay(4), "capped at MaxDelay")

	flat := RetryConfig{InitialDelay: time.Second}
	assert.Equal(t, time.Second, flat.Delay(3), "multiplier below 1 means constant delay")
}
