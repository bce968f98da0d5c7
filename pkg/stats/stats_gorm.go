package stats

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/jdziat/docflow/pkg/core"
)

// gormStorage implements Storage using GORM.
type gormStorage struct {
	db *gorm.DB
}

// NewGormStorage creates a GORM-backed stats storage.
func NewGormStorage(db *gorm.DB) Storage {
	return &gormStorage{db: db}
}

func (s *gormStorage) MigrateStats(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&ConversionStat{})
}

// bucket returns the row for (format, minute), creating it when missing.
func (s *gormStorage) bucket(ctx context.Context, format string, ts time.Time) (*ConversionStat, bool, error) {
	var existing ConversionStat
	err := s.db.WithContext(ctx).
		Where("format = ? AND timestamp = ?", format, ts).
		First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &ConversionStat{Format: format, Timestamp: ts}, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &existing, true, nil
}

func (s *gormStorage) UpsertCounters(ctx context.Context, format core.InputFormat, ts time.Time, c Counters) error {
	ts = ts.Truncate(time.Minute)

	row, found, err := s.bucket(ctx, string(format), ts)
	if err != nil {
		return err
	}
	if !found {
		row.Completed = c.Completed
		row.Failed = c.Failed
		row.Cancelled = c.Cancelled
		row.DurationMS = c.DurationMS
		return s.db.WithContext(ctx).Create(row).Error
	}

	return s.db.WithContext(ctx).Model(row).Updates(map[string]any{
		"completed":   gorm.Expr("completed + ?", c.Completed),
		"failed":      gorm.Expr("failed + ?", c.Failed),
		"cancelled":   gorm.Expr("cancelled + ?", c.Cancelled),
		"duration_ms": gorm.Expr("duration_ms + ?", c.DurationMS),
	}).Error
}

func (s *gormStorage) SnapshotDepth(ctx context.Context, ts time.Time, pending, processing int64) error {
	ts = ts.Truncate(time.Minute)

	row, found, err := s.bucket(ctx, AllFormats, ts)
	if err != nil {
		return err
	}
	if !found {
		row.Pending = pending
		row.Processing = processing
		return s.db.WithContext(ctx).Create(row).Error
	}

	return s.db.WithContext(ctx).Model(row).Updates(map[string]any{
		"pending":    pending,
		"processing": processing,
	}).Error
}

func (s *gormStorage) History(ctx context.Context, format string, since, until time.Time) ([]ConversionStat, error) {
	var rows []ConversionStat
	q := s.db.WithContext(ctx).Order("timestamp ASC, format ASC")

	if format != "" {
		q = q.Where("format = ?", format)
	}
	if !since.IsZero() {
		q = q.Where("timestamp >= ?", since)
	}
	if !until.IsZero() {
		q = q.Where("timestamp <= ?", until)
	}

	return rows, q.Find(&rows).Error
}

func (s *gormStorage) PruneStats(ctx context.Context, before time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where("timestamp < ?", before).Delete(&ConversionStat{})
	return result.RowsAffected, result.Error
}
