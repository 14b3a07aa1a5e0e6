// Package scheduler runs periodic maintenance jobs on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultSweepSchedule runs the expiry sweep every minute, on the minute.
const DefaultSweepSchedule = "0 * * * * *"

// Sweeper releases stale pending claims.
type Sweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// Scheduler manages cron job scheduling.
type Scheduler struct {
	cron    *cron.Cron
	sweeper Sweeper
	timeout time.Duration
	logger  *zap.Logger
}

// New creates a scheduler that runs the sweep on schedule (six-field cron
// expression, seconds first, UTC).
func New(sweeper Sweeper, schedule string, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithSeconds(),
		),
		sweeper: sweeper,
		timeout: 30 * time.Second,
		logger:  logger,
	}
	if _, err := s.cron.AddFunc(schedule, func() { s.runWithRecovery("sweep_expired", s.sweep) }); err != nil {
		return nil, fmt.Errorf("register sweep job %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Scheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	n, err := s.sweeper.SweepExpired(ctx)
	if err != nil {
		s.logger.Error("sweep expired claims", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("released expired claims", zap.Int("count", n))
	}
}

// runWithRecovery keeps a panicking job from taking the process down.
func (s *Scheduler) runWithRecovery(name string, job func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("job panicked", zap.String("job", name), zap.Any("panic", r))
		}
	}()
	s.logger.Debug("starting job", zap.String("job", name))
	job()
}

// Start begins the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("cron scheduler started")
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("cron scheduler stopped")
}
