package stats

import (
	"context"
	"time"

	"github.com/jdziat/docflow/pkg/core"
)

// AllFormats is the bucket key used for queue depth snapshots.
const AllFormats = "all"

// ConversionStat stores per-format statistics bucketed by minute.
type ConversionStat struct {
	ID         uint      `gorm:"primaryKey" json:"-"`
	Format     string    `gorm:"index:idx_conversion_stats_format_ts;size:32;not null" json:"format"`
	Timestamp  time.Time `gorm:"index:idx_conversion_stats_format_ts;not null" json:"timestamp"`
	Pending    int64     `gorm:"default:0" json:"pending"`
	Processing int64     `gorm:"default:0" json:"processing"`
	Completed  int64     `gorm:"default:0" json:"completed"`
	Failed     int64     `gorm:"default:0" json:"failed"`
	Cancelled  int64     `gorm:"default:0" json:"cancelled"`
	DurationMS int64     `gorm:"default:0" json:"duration_ms"`
}

// Counters is a batch of terminal outcomes for one format.
type Counters struct {
	Completed  int64
	Failed     int64
	Cancelled  int64
	DurationMS int64
}

// IsZero reports whether the batch holds nothing to write.
func (c Counters) IsZero() bool {
	return c.Completed == 0 && c.Failed == 0 && c.Cancelled == 0
}

// Storage is the interface for stats persistence.
type Storage interface {
	MigrateStats(ctx context.Context) error
	UpsertCounters(ctx context.Context, format core.InputFormat, ts time.Time, c Counters) error
	SnapshotDepth(ctx context.Context, ts time.Time, pending, processing int64) error
	History(ctx context.Context, format string, since, until time.Time) ([]ConversionStat, error)
	PruneStats(ctx context.Context, before time.Time) (int64, error)
}
