package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"build-bridge/src/logger"
)

// Scheduler repeats a Runner's configurations on a five field cron spec.
// A tick that arrives while the previous run is still going is skipped.
type Scheduler struct {
	runner *Runner
	names  []string
	log    logger.Logger
	c      *cron.Cron

	ctx     context.Context
	cancel  context.CancelFunc
	running sync.Mutex
}

// NewScheduler parses spec in the location loc (UTC when nil).
func NewScheduler(r *Runner, names []string, spec string, loc *time.Location, log logger.Logger) (*Scheduler, error) {
	if loc == nil {
		loc = time.UTC
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithLocation(loc), cron.WithParser(parser))

	s := &Scheduler{runner: r, names: names, log: log, c: c}
	if _, err := c.AddFunc(spec, s.tick); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return s, nil
}

// Next returns the next activation after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	entries := s.c.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Schedule.Next(t)
}

// Start begins scheduling. Runs use ctx and stop when it is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.c.Start()
	s.log.Info("scheduler started, next run at %s", s.Next(time.Now()).Format(time.RFC3339))
}

// Stop stops scheduling and waits for a run in progress to finish.
func (s *Scheduler) Stop() {
	stopped := s.c.Stop()
	if s.cancel != nil {
		s.cancel()
	}
	<-stopped.Done()
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) tick() {
	if !s.running.TryLock() {
		s.log.Info("cron: previous run still in progress, skipping")
		return
	}
	defer s.running.Unlock()
	s.RunOnce(s.ctx)
}

// RunOnce runs every configuration once.
func (s *Scheduler) RunOnce(ctx context.Context) []Report {
	if ctx == nil {
		ctx = context.Background()
	}
	reports, err := s.runner.Run(ctx, s.names)
	if err != nil {
		s.log.Error("cron: %v", err)
	}
	return reports
}
