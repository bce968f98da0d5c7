package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Task is a unit of recurring work.
type Task func(ctx context.Context) error

type entry struct {
	name     string
	schedule Schedule
	task     Task
}

// Scheduler runs named tasks on their schedules. Tasks run one at a time.
type Scheduler struct {
	mu      sync.Mutex
	entries []entry
	tick    time.Duration
	logger  *slog.Logger
}

// NewScheduler creates a scheduler that checks due tasks every tick.
func NewScheduler(tick time.Duration, logger *slog.Logger) *Scheduler {
	if tick <= 0 {
		tick = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{tick: tick, logger: logger}
}

// Add registers a task. Tasks added after Run starts are picked up on the next tick.
func (s *Scheduler) Add(name string, sched Schedule, task Task) {
	s.mu.Lock()
	s.entries = append(s.entries, entry{name: name, schedule: sched, task: task})
	s.mu.Unlock()
}

// Len returns the number of registered tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Run blocks until ctx is done, running each task whenever it falls due.
// The first run of every task is one period after Run starts.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	started := time.Now()
	lastRun := make(map[string]time.Time)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.mu.Lock()
			entries := make([]entry, len(s.entries))
			copy(entries, s.entries)
			s.mu.Unlock()

			now := time.Now()
			for _, e := range entries {
				last, ok := lastRun[e.name]
				if !ok {
					last = started
				}
				if now.Before(e.schedule.Next(last)) {
					continue
				}
				lastRun[e.name] = now
				s.runTask(ctx, e)
				if ctx.Err() != nil {
					return nil
				}
			}
		}
	}
}

func (s *Scheduler) runTask(ctx context.Context, e entry) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled task panicked", "task", e.name, "panic", r)
		}
	}()
	if err := e.task(ctx); err != nil {
		s.logger.Error("scheduled task failed", "task", e.name, "error", err)
		return
	}
	s.logger.Debug("scheduled task finished", "task", e.name, "duration", time.Since(start))
}
