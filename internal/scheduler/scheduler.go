package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/collector"
	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/logger"
)

// Runner performs one full collection run.
type Runner interface {
	RunOnce(ctx context.Context) (collector.RunResult, error)
}

// Scheduler periodically triggers a collection run.
type Scheduler struct {
	scheduler *gocron.Scheduler
	runner    Runner
	interval  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new Scheduler. Jobs are evaluated in zone.
func New(runner Runner, interval time.Duration, zone *time.Location) *Scheduler {
	if zone == nil {
		zone = time.UTC
	}
	s := gocron.NewScheduler(zone)
	s.SingletonModeAll()
	return &Scheduler{
		scheduler: s,
		runner:    runner,
		interval:  interval,
	}
}

// Start schedules the periodic job and starts the underlying scheduler. The
// first run starts immediately. Runs are cancelled when ctx is done or Stop is
// called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	minutes := int(s.interval.Minutes())
	if minutes <= 0 {
		minutes = 15
	}

	_, err := s.scheduler.Every(minutes).Minutes().Do(func() {
		logger.Infof("scheduler: running collection job")
		res, err := s.runner.RunOnce(s.ctx)
		if err != nil {
			logger.Errorf("scheduler: collection run failed: %v", err)
			return
		}
		logger.Infof("scheduler: completed collection job %s", res.RunID)
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

// Stop cancels the in-flight run, waits for it to return and cancels any
// future jobs.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
