package jobs

import (
	"fmt"
	"time"

	"reservation-service/config"
	"reservation-service/internal/util"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler runs the jobs on cron specs.
type Scheduler struct {
	cron   *cron.Cron
	jobs   *JobRunner
	logger *zap.Logger
}

// NewScheduler creates a new scheduler and registers the jobs. Specs have a
// leading seconds field and are evaluated in UTC.
func NewScheduler(jobRunner *JobRunner, cfg config.SchedulerConfig) (*Scheduler, error) {
	s := &Scheduler{
		cron:   cron.New(cron.WithLocation(time.UTC), cron.WithSeconds()),
		jobs:   jobRunner,
		logger: util.GetLogger(),
	}

	if _, err := s.cron.AddFunc(cfg.PayoutReminder, jobRunner.SendPayoutReminders); err != nil {
		return nil, fmt.Errorf("failed to register payout reminder job: %w", err)
	}
	if _, err := s.cron.AddFunc(cfg.AutoComplete, jobRunner.CompleteDueReservations); err != nil {
		return nil, fmt.Errorf("failed to register auto-complete job: %w", err)
	}

	s.logger.Info("Cron jobs registered",
		zap.String("payout_reminder", cfg.PayoutReminder),
		zap.String("auto_complete", cfg.AutoComplete))
	return s, nil
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Cron scheduler started")
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("Cron scheduler stopped")
}

// Entries reports how many jobs are registered.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}
