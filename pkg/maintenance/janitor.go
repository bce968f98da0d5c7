// Package maintenance runs the periodic cleanup of history, in-memory job
// records and staged files.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jdziat/docflow/pkg/schedule"
)

// Config controls what the janitor removes. A zero retention disables that
// cleanup.
type Config struct {
	HistoryRetention  time.Duration
	QueueRecordTTL    time.Duration
	ArtifactRetention time.Duration

	// Schedule decides when a sweep runs. Defaults to every 15 minutes.
	Schedule schedule.Schedule
}

// DefaultConfig keeps history for 30 days, queue records for an hour and
// staged files for a day.
func DefaultConfig() Config {
	return Config{
		HistoryRetention:  30 * 24 * time.Hour,
		QueueRecordTTL:    time.Hour,
		ArtifactRetention: 24 * time.Hour,
		Schedule:          schedule.Every(15 * time.Minute),
	}
}

// Pruner deletes history rows completed before a cutoff.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// Forgetter evicts terminal in-memory records finished before a cutoff.
type Forgetter interface {
	Forget(before time.Time) int
}

// Sweeper removes staged directories untouched since a cutoff.
type Sweeper interface {
	SweepArtifacts(ctx context.Context, before time.Time) (int, error)
}

// Report is the result of one sweep.
type Report struct {
	HistoryPruned  int64
	RecordsEvicted int
	DirsRemoved    int
}

// Janitor performs the cleanup. Any of its targets may be nil.
type Janitor struct {
	cfg     Config
	history Pruner
	queue   Forgetter
	files   Sweeper
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a janitor.
func New(cfg Config, history Pruner, queue Forgetter, files Sweeper, logger *slog.Logger) *Janitor {
	if cfg.Schedule == nil {
		cfg.Schedule = schedule.Every(15 * time.Minute)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		cfg:     cfg,
		history: history,
		queue:   queue,
		files:   files,
		logger:  logger,
		now:     time.Now,
	}
}

// RunOnce performs a single sweep. Every step runs even when an earlier
// one fails; the errors are joined.
func (j *Janitor) RunOnce(ctx context.Context) (Report, error) {
	var (
		report Report
		errs   []error
	)
	now := j.now()

	if j.history != nil && j.cfg.HistoryRetention > 0 {
		n, err := j.history.Prune(ctx, now.Add(-j.cfg.HistoryRetention))
		if err != nil {
			errs = append(errs, fmt.Errorf("prune history: %w", err))
		}
		report.HistoryPruned = n
	}
	if j.queue != nil && j.cfg.QueueRecordTTL > 0 {
		report.RecordsEvicted = j.queue.Forget(now.Add(-j.cfg.QueueRecordTTL))
	}
	if j.files != nil && j.cfg.ArtifactRetention > 0 {
		n, err := j.files.SweepArtifacts(ctx, now.Add(-j.cfg.ArtifactRetention))
		if err != nil {
			errs = append(errs, fmt.Errorf("sweep artifacts: %w", err))
		}
		report.DirsRemoved = n
	}

	if report != (Report{}) {
		j.logger.Info("maintenance sweep finished",
			"history_pruned", report.HistoryPruned,
			"records_evicted", report.RecordsEvicted,
			"dirs_removed", report.DirsRemoved)
	}
	return report, errors.Join(errs...)
}

// Register adds the sweep to a scheduler.
func (j *Janitor) Register(s *schedule.Scheduler) {
	s.Add("maintenance", j.cfg.Schedule, func(ctx context.Context) error {
		_, err := j.RunOnce(ctx)
		return err
	})
}
