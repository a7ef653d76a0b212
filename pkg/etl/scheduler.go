package etl

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/robfig/cron/v3"

	"github.com/hackingco/soberlivings-finder-sub003/pkg/observability"
)

// schedulePresets maps operator-friendly names to cron expressions.
var schedulePresets = map[string]string{
	"every-5-min":  "*/5 * * * *",
	"every-15-min": "*/15 * * * *",
	"every-30-min": "*/30 * * * *",
	"hourly":       "0 * * * *",
	"daily":        "0 2 * * *",
	"weekly":       "0 2 * * 0",
}

// ResolveSchedule expands a preset name to its cron expression; any other
// string passes through as a raw expression.
func ResolveSchedule(pattern string) string {
	if expr, ok := schedulePresets[pattern]; ok {
		return expr
	}
	return pattern
}

// Scheduler triggers pipeline runs on cron schedules. A tick that fires
// while the previous run for the same job is still in flight is skipped,
// never queued.
type Scheduler struct {
	cron     *cron.Cron
	pipeline *Pipeline
	logger   *observability.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID
	busy    map[string]*atomic.Bool
}

// NewScheduler builds a scheduler around a pipeline.
func NewScheduler(pipeline *Pipeline, logger *observability.Logger) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		pipeline: pipeline,
		logger:   logger,
		entries:  make(map[string]cron.EntryID),
		busy:     make(map[string]*atomic.Bool),
	}
}

// Schedule registers a named job. Scheduling an existing name replaces its
// previous schedule.
func (s *Scheduler) Schedule(name, pattern string, mode Mode) error {
	expr := ResolveSchedule(pattern)

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.entries[name]; ok {
		s.cron.Remove(id)
		delete(s.entries, name)
	}
	if _, ok := s.busy[name]; !ok {
		s.busy[name] = &atomic.Bool{}
	}
	guard := s.busy[name]

	id, err := s.cron.AddFunc(expr, func() {
		s.runJob(name, mode, guard)
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q for job %s: %w", expr, name, err)
	}
	s.entries[name] = id

	s.logger.WithField("job", name).
		WithField("schedule", expr).
		WithField("mode", string(mode)).
		Info("scheduled pipeline job")
	return nil
}

func (s *Scheduler) runJob(name string, mode Mode, guard *atomic.Bool) {
	if !guard.CompareAndSwap(false, true) {
		s.logger.WithField("job", name).Warn("previous run still in flight, skipping tick")
		return
	}
	defer guard.Store(false)
	defer observability.RecoverPanic(s.logger, "scheduled pipeline run "+name)

	if _, err := s.pipeline.Run(context.Background(), mode); err != nil {
		s.logger.WithError(err).WithField("job", name).Error("scheduled run failed")
	}
}

// RunNow executes one run immediately, outside any schedule.
func (s *Scheduler) RunNow(ctx context.Context, mode Mode) error {
	_, err := s.pipeline.Run(ctx, mode)
	return err
}

// JobCount returns the number of registered jobs.
func (s *Scheduler) JobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Start begins firing scheduled jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started")
}

// StopAll stops the scheduler and waits for any in-flight run to finish.
func (s *Scheduler) StopAll() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("scheduler stopped")
}
