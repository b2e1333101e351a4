package recorder

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// CycleRunner is what the scheduler drives. *Runner implements it.
type CycleRunner interface {
	RunCycle(ctx context.Context) CycleResult
}

// Scheduler runs a cycle, sleeps Interval, and repeats until its context is
// cancelled. The sleep starts after a cycle finishes, so cycles never overlap
// and a slow cycle pushes the next one back.
type Scheduler struct {
	runner      CycleRunner
	interval    time.Duration
	skipInitial bool
	log         *slog.Logger

	mu   sync.RWMutex
	next time.Time
}

func NewScheduler(runner CycleRunner, cfg ScheduleConfig, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = discardLogger()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{
		runner:      runner,
		interval:    interval,
		skipInitial: cfg.SkipInitialRun,
		log:         logger,
	}
}

// Run blocks until ctx is done. A panicking cycle is logged and the loop
// carries on.
func (s *Scheduler) Run(ctx context.Context) error {
	var delay time.Duration
	if s.skipInitial {
		delay = s.interval
	}
	s.setNext(time.Now().Add(delay))
	timer := time.NewTimer(delay)
	defer timer.Stop()

	s.log.Info("scheduler started", "interval", s.interval, "first_run", s.NextRun())
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return nil
		case <-timer.C:
		}

		s.setNext(time.Time{})
		s.runOnce(ctx)
		if ctx.Err() != nil {
			s.log.Info("scheduler stopped")
			return nil
		}
		next := time.Now().Add(s.interval)
		s.setNext(next)
		s.log.Info("next cycle scheduled", "at", next.Format(time.RFC3339))
		timer.Reset(s.interval)
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	defer func() {
		if p := recover(); p != nil {
			s.log.Error("cycle panicked", "panic", p, "stack", string(debug.Stack()))
		}
	}()
	s.runner.RunCycle(ctx)
}

func (s *Scheduler) setNext(t time.Time) {
	s.mu.Lock()
	s.next = t
	s.mu.Unlock()
}

// NextRun is when the next cycle is due. It is zero before Run starts and
// while a scheduled cycle is running.
func (s *Scheduler) NextRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.next
}
