// Package tasks runs the periodic maintenance jobs on a cron schedule.
package tasks

import (
	"context"
	"fmt"
	"time"

	"tabi/internal/config"
	"tabi/internal/metrics"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// JobFunc performs one run of a job and reports how many rows it touched.
type JobFunc func(ctx context.Context, now time.Time) (int64, error)

// Job is a named JobFunc with a six field cron spec (seconds first).
type Job struct {
	Name     string
	Schedule string
	Run      JobFunc
}

// QueueSweeper removes waiting entries that outlived their line's limit.
type QueueSweeper interface {
	AutoRemoveExpired(ctx context.Context, now time.Time) (int64, error)
}

// UsageResetter rolls monthly subscription counters over.
type UsageResetter interface {
	ResetMonthlyUsage(ctx context.Context, now time.Time) (int64, error)
}

// OTPPurger deletes expired one-time codes.
type OTPPurger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// Planner wraps a cron scheduler. Every run gets its own timeout and is
// logged and counted.
type Planner struct {
	cron    *cron.Cron
	log     *zap.Logger
	now     func() time.Time
	timeout time.Duration
}

// NewPlanner evaluates schedules in loc, so daily jobs follow the business day.
func NewPlanner(log *zap.Logger, loc *time.Location, now func() time.Time) *Planner {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &Planner{
		cron:    cron.New(cron.WithSeconds(), cron.WithLocation(loc)),
		log:     log.Named("tasks"),
		now:     now,
		timeout: 30 * time.Second,
	}
}

// Add registers job. Invalid schedules are rejected.
func (p *Planner) Add(job Job) error {
	if _, err := p.cron.AddFunc(job.Schedule, func() { p.RunOnce(context.Background(), job) }); err != nil {
		return fmt.Errorf("tasks: schedule %s %q: %w", job.Name, job.Schedule, err)
	}
	return nil
}

// RunOnce executes job immediately.
func (p *Planner) RunOnce(ctx context.Context, job Job) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := p.now()
	affected, err := job.Run(ctx, start.UTC())
	metrics.RecordJob(job.Name, affected, err)

	if err != nil {
		p.log.Error("Job failed", zap.String("job", job.Name), zap.Error(err))
		return affected, err
	}
	if affected > 0 {
		p.log.Info("Job finished",
			zap.String("job", job.Name),
			zap.Int64("affected", affected),
			zap.Duration("took", p.now().Sub(start)))
	}
	return affected, nil
}

func (p *Planner) Start() {
	p.cron.Start()
	p.log.Info("Scheduler started", zap.Int("jobs", len(p.cron.Entries())))
}

// Stop halts the scheduler and waits for running jobs until ctx is done.
func (p *Planner) Stop(ctx context.Context) {
	done := p.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		p.log.Warn("Scheduler stopped with jobs still running")
	}
}

// Jobs lists the maintenance jobs with their configured schedules.
func Jobs(cfg config.QueueConfig, sweeper QueueSweeper, usage UsageResetter, otps OTPPurger) []Job {
	return []Job{
		{Name: "queue_auto_remove", Schedule: cfg.SweepSchedule, Run: sweeper.AutoRemoveExpired},
		{Name: "usage_reset", Schedule: cfg.UsageResetSchedule, Run: usage.ResetMonthlyUsage},
		{Name: "otp_purge", Schedule: cfg.OTPPurgeSchedule, Run: otps.PurgeExpired},
	}
}

// InitScheduler registers jobs and starts the scheduler.
func InitScheduler(log *zap.Logger, loc *time.Location, jobs []Job) (*Planner, error) {
	p := NewPlanner(log, loc, nil)
	for _, job := range jobs {
		if err := p.Add(job); err != nil {
			return nil, err
		}
	}
	p.Start()
	return p, nil
}
