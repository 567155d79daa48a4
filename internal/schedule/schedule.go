// Package schedule triggers pipeline runs from cron expressions.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one scheduled unit of work.
type Job func(ctx context.Context)

// Scheduler wraps a cron runner. Overlapping invocations of the same entry
// are skipped and panics are recovered.
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	logger *slog.Logger
}

// New builds a scheduler whose jobs receive ctx. Standard five-field cron
// expressions and descriptors such as "@hourly" are accepted.
func New(ctx context.Context, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(
			cron.WithChain(
				cron.SkipIfStillRunning(cron.DefaultLogger),
				cron.Recover(cron.DefaultLogger),
			),
		),
		ctx:    ctx,
		logger: logger,
	}
}

// Add registers job under spec.
func (s *Scheduler) Add(name, spec string, job Job) (cron.EntryID, error) {
	id, err := s.cron.AddFunc(spec, func() {
		started := time.Now()
		s.logger.Info("scheduled job starting", "job", name)
		job(s.ctx)
		s.logger.Info("scheduled job finished", "job", name, "duration", time.Since(started))
	})
	if err != nil {
		return 0, fmt.Errorf("invalid schedule %q for %s: %w", spec, name, err)
	}
	s.logger.Info("job scheduled", "job", name, "spec", spec, "entry_id", id)
	return id, nil
}

// Next returns the next activation time of an entry, or the zero time.
func (s *Scheduler) Next(id cron.EntryID) time.Time {
	return s.cron.Entry(id).Next
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits up to timeout for running jobs.
func (s *Scheduler) Stop(timeout time.Duration) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("scheduler stopped")
	case <-time.After(timeout):
		s.logger.Warn("scheduler shutdown timed out", "timeout", timeout)
	}
}
