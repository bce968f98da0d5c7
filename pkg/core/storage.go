package core

import (
	"context"
	"time"
)

// HistoryStore is the durable log of terminal job records.
type HistoryStore interface {
	// Migrate creates the necessary database tables.
	Migrate(ctx context.Context) error

	// Save upserts a terminal job by id. Saving the same job twice leaves one row.
	Save(ctx context.Context, job *Job) error
	Get(ctx context.Context, jobID string) (*Job, error)
	Delete(ctx context.Context, jobID string) error

	List(ctx context.Context, filter HistoryFilter) ([]*Job, int64, error)
	Stats(ctx context.Context, sessionID string) (*HistoryStats, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// SettingsStore persists session-scoped conversion settings.
type SettingsStore interface {
	GetSettings(ctx context.Context, sessionID string) (ConversionSettings, error)
	SaveSettings(ctx context.Context, sessionID string, s ConversionSettings) error
	DeleteSettings(ctx context.Context, sessionID string) error
}

// HistoryFilter narrows a history listing.
type HistoryFilter struct {
	Status    JobStatus
	Format    InputFormat
	SessionID string
	Search    string
	Since     time.Time
	Until     time.Time
	Limit     int
	Offset    int
}

// HistoryStats summarises the history log.
type HistoryStats struct {
	Total             int64                 `json:"total"`
	Completed         int64                 `json:"completed"`
	Failed            int64                 `json:"failed"`
	Cancelled         int64                 `json:"cancelled"`
	ByFormat          map[InputFormat]int64 `json:"by_format"`
	AverageConfidence float64               `json:"average_confidence"`
	AverageDurationMS float64               `json:"average_duration_ms"`
}
