package cleanup

import (
	"context"
	"sync"
	"time"

	"capture-library/internal/logging"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs a pass at the top of every hour. Schedules take a
// leading seconds field.
const DefaultSchedule = "0 0 * * * *"

const runTimeout = 10 * time.Minute

// Runner executes one cleanup pass. The library facade satisfies it so
// scheduled passes go through the general admission queue.
type Runner interface {
	RunCleanup(ctx context.Context) (Report, bool)
}

// Scheduler triggers periodic cleanup passes.
type Scheduler struct {
	runner Runner
	cron   *cron.Cron

	mu      sync.Mutex
	running bool
}

// NewScheduler creates a scheduler for runner.
func NewScheduler(runner Runner) *Scheduler {
	return &Scheduler{
		runner: runner,
		cron:   cron.New(cron.WithSeconds()),
	}
}

// Start registers schedule (or DefaultSchedule when empty) and starts the cron.
func (s *Scheduler) Start(schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}

	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return err
	}

	s.cron.Start()
	logging.Info("Cleanup scheduler started (schedule %q)", schedule)
	return nil
}

// Stop stops the cron and waits for a running pass to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	logging.Info("Cleanup scheduler stopped")
}

// RunNow triggers an immediate pass in the background.
func (s *Scheduler) RunNow() {
	logging.Info("Triggering immediate cleanup pass")
	go s.run()
}

func (s *Scheduler) run() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		logging.Debug("Cleanup pass already running, skipping trigger")
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	if _, ok := s.runner.RunCleanup(ctx); !ok {
		logging.Warn("Scheduled cleanup pass did not run")
	}
}
