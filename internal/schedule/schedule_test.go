package schedule

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAddRejectsBadSpec(t *testing.T) {
	s := New(context.Background(), quietLogger())
	_, err := s.Add("nightly", "not a cron", func(context.Context) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nightly")
}

func TestScheduledJobRuns(t *testing.T) {
	s := New(context.Background(), quietLogger())
	ran := make(chan struct{}, 1)
	id, err := s.Add("every-second", "@every 1s", func(context.Context) {
		select {
		case ran <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)

	s.Start()
	defer s.Stop(time.Second)
	assert.False(t, s.Next(id).IsZero())

	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("scheduled job did not run")
	}
}
