package schedule

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"
)

// Scheduler runs periodic maintenance jobs such as the watchdog check.
// Runs of the same job never overlap.
type Scheduler struct {
	scheduler *gocron.Scheduler
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewScheduler(parent context.Context) *Scheduler {
	ctx, cancel := context.WithCancel(parent)
	s := gocron.NewScheduler(time.UTC)
	s.TagsUnique()
	s.SingletonModeAll()

	return &Scheduler{
		scheduler: s,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.scheduler.StartAsync()
}

// Stop stops the scheduler and cancels the context handed to running jobs
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
	if s.cancel != nil {
		s.cancel()
	}
}

// ScheduleCron schedules job on a cron expression
func (s *Scheduler) ScheduleCron(tag, cronExpr string, job func(context.Context) error) error {
	_, err := s.scheduler.Cron(cronExpr).Tag(tag).Do(s.wrap(tag, job))
	return err
}

// ScheduleInterval schedules job at a fixed interval, starting immediately
func (s *Scheduler) ScheduleInterval(tag string, every time.Duration, job func(context.Context) error) error {
	_, err := s.scheduler.Every(every).Tag(tag).Do(s.wrap(tag, job))
	return err
}

// RemoveJob removes a scheduled job by tag
func (s *Scheduler) RemoveJob(tag string) error {
	return s.scheduler.RemoveByTag(tag)
}

// Jobs returns the number of scheduled jobs
func (s *Scheduler) Jobs() int {
	return len(s.scheduler.Jobs())
}

func (s *Scheduler) wrap(tag string, job func(context.Context) error) func() {
	return func() {
		if s.ctx.Err() != nil {
			return
		}
		if err := job(s.ctx); err != nil {
			slog.Error("Scheduled job failed", "job", tag, "error", err)
		}
	}
}
