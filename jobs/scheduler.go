package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-appstore-connect/core"
	glog "github.com/goliatone/go-logger/glog"
)

// Scheduler enqueues a built message on every tick. Enqueue failures are
// logged and the ticker keeps going; the queue's idempotency handling absorbs
// overlapping ticks.
type Scheduler struct {
	enqueuer core.JobEnqueuer
	interval time.Duration
	build    func(now time.Time) *core.JobExecutionMessage
	logger   core.Logger
}

func NewScheduler(
	enqueuer core.JobEnqueuer,
	interval time.Duration,
	build func(now time.Time) *core.JobExecutionMessage,
	logger core.Logger,
) (*Scheduler, error) {
	if enqueuer == nil {
		return nil, fmt.Errorf("jobs: scheduler enqueuer is required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("jobs: scheduler interval must be positive")
	}
	if build == nil {
		return nil, fmt.Errorf("jobs: scheduler message builder is required")
	}
	return &Scheduler{
		enqueuer: enqueuer,
		interval: interval,
		build:    build,
		logger:   glog.Ensure(logger),
	}, nil
}

// NewNonceSweepScheduler schedules expired-token sweeps on the configured
// interval.
func NewNonceSweepScheduler(enqueuer core.JobEnqueuer, cfg core.NonceConfig, logger core.Logger) (*Scheduler, error) {
	return NewScheduler(enqueuer, cfg.SweepInterval, NonceSweepMessage, logger)
}

// Run ticks until the context ends. A context cancellation is a clean stop.
func (s *Scheduler) Run(ctx context.Context) error {
	if s == nil || s.enqueuer == nil {
		return fmt.Errorf("jobs: scheduler is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			msg := s.build(now.UTC())
			if msg == nil {
				continue
			}
			if err := s.enqueuer.Enqueue(ctx, msg); err != nil {
				s.logEnqueueFailure(ctx, msg.JobID, err)
			}
		}
	}
}

func (s *Scheduler) logEnqueueFailure(ctx context.Context, jobID string, err error) {
	if s.logger == nil {
		return
	}
	fields := map[string]any{
		"event_type": "maintenance_job",
		"job_id":     jobID,
		"error":      err.Error(),
	}
	logger := s.logger.WithContext(ctx)
	if fieldsLogger, ok := logger.(core.FieldsLogger); ok {
		logger = fieldsLogger.WithFields(fields)
	}
	logger.Error("enqueue scheduled job", jobLogFields(fields)...)
}
