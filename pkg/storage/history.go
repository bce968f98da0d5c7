package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jdziat/docflow/pkg/core"
	"github.com/jdziat/docflow/pkg/security"
)

// Save upserts a terminal job by id. Saving the same job again overwrites
// the existing row.
func (s *GormStorage) Save(ctx context.Context, job *core.Job) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("%w: job id is required", core.ErrInvalidSubmission)
	}
	if !job.Status.IsTerminal() {
		return fmt.Errorf("%w: history only records terminal jobs, got %s", core.ErrInvalidTransition, job.Status)
	}
	row := job.Snapshot()
	row.Error = security.SanitizeErrorMessage(row.Error)
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(row).Error
}

// Get retrieves a job by ID.
func (s *GormStorage) Get(ctx context.Context, jobID string) (*core.Job, error) {
	var job core.Job
	err := s.db.WithContext(ctx).First(&job, "id = ?", jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// Delete permanently removes a job from history.
func (s *GormStorage) Delete(ctx context.Context, jobID string) error {
	result := s.db.WithContext(ctx).Where("id = ?", jobID).Delete(&core.Job{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return core.ErrNotFound
	}
	return nil
}

// List returns jobs matching the filter, newest first, with the total count.
func (s *GormStorage) List(ctx context.Context, filter core.HistoryFilter) ([]*core.Job, int64, error) {
	q := s.filtered(ctx, filter)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := security.ClampPageSize(filter.Limit, 50)
	offset := max(filter.Offset, 0)

	var jobs []*core.Job
	err := q.Order("submitted_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

func (s *GormStorage) filtered(ctx context.Context, filter core.HistoryFilter) *gorm.DB {
	q := s.db.WithContext(ctx).Model(&core.Job{})

	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Format != "" {
		q = q.Where("format = ?", filter.Format)
	}
	if filter.SessionID != "" {
		q = q.Where("session_id = ?", filter.SessionID)
	}
	if filter.Search != "" {
		search := "%" + strings.ToLower(filter.Search) + "%"
		q = q.Where("LOWER(filename) LIKE ? OR id LIKE ?", search, search)
	}
	if !filter.Since.IsZero() {
		q = q.Where("submitted_at >= ?", filter.Since)
	}
	if !filter.Until.IsZero() {
		q = q.Where("submitted_at <= ?", filter.Until)
	}
	return q
}

// Stats summarises history, optionally for one session.
// Failed excludes cancelled jobs, which are counted separately.
func (s *GormStorage) Stats(ctx context.Context, sessionID string) (*core.HistoryStats, error) {
	scope := func() *gorm.DB {
		q := s.db.WithContext(ctx).Model(&core.Job{})
		if sessionID != "" {
			q = q.Where("session_id = ?", sessionID)
		}
		return q
	}

	type statusRow struct {
		Status    string
		ErrorKind string
		Count     int64
	}
	var statusRows []statusRow
	err := scope().
		Select("status, error_kind, count(*) as count").
		Group("status, error_kind").
		Find(&statusRows).Error
	if err != nil {
		return nil, err
	}

	stats := &core.HistoryStats{ByFormat: make(map[core.InputFormat]int64)}
	for _, r := range statusRows {
		stats.Total += r.Count
		switch core.JobStatus(r.Status) {
		case core.StatusCompleted:
			stats.Completed += r.Count
		case core.StatusFailed:
			if core.FailureKind(r.ErrorKind) == core.FailureCancelled {
				stats.Cancelled += r.Count
			} else {
				stats.Failed += r.Count
			}
		}
	}

	type formatRow struct {
		Format string
		Count  int64
	}
	var formatRows []formatRow
	err = scope().
		Select("format, count(*) as count").
		Group("format").
		Find(&formatRows).Error
	if err != nil {
		return nil, err
	}
	for _, r := range formatRows {
		stats.ByFormat[core.InputFormat(r.Format)] = r.Count
	}

	var avg struct {
		Confidence float64
		Duration   float64
	}
	err = scope().
		Select("COALESCE(AVG(confidence), 0) AS confidence, COALESCE(AVG(duration_ms), 0) AS duration").
		Where("status = ?", core.StatusCompleted).
		Scan(&avg).Error
	if err != nil {
		return nil, err
	}
	stats.AverageConfidence = avg.Confidence
	stats.AverageDurationMS = avg.Duration

	return stats, nil
}

// Prune deletes jobs that completed before the cutoff.
func (s *GormStorage) Prune(ctx context.Context, before time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("completed_at < ?", before).
		Delete(&core.Job{})
	return result.RowsAffected, result.Error
}
