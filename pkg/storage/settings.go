package storage

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jdziat/docflow/pkg/core"
	"github.com/jdziat/docflow/pkg/security"
)

// GetSettings returns the stored settings for a session, or the defaults
// when the session has none.
func (s *GormStorage) GetSettings(ctx context.Context, sessionID string) (core.ConversionSettings, error) {
	if err := security.ValidateSessionID(sessionID); err != nil {
		return core.ConversionSettings{}, err
	}
	var row core.SessionSettings
	err := s.db.WithContext(ctx).First(&row, "session_id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return core.DefaultSettings(), nil
	}
	if err != nil {
		return core.ConversionSettings{}, err
	}
	return row.Settings, nil
}

// SaveSettings validates and stores settings for a session.
func (s *GormStorage) SaveSettings(ctx context.Context, sessionID string, settings core.ConversionSettings) error {
	if err := security.ValidateSessionID(sessionID); err != nil {
		return err
	}
	if err := settings.Validate(); err != nil {
		return err
	}
	row := &core.SessionSettings{SessionID: sessionID, Settings: settings.Clone()}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"settings", "updated_at"}),
		}).
		Create(row).Error
}

// DeleteSettings resets a session to the defaults.
func (s *GormStorage) DeleteSettings(ctx context.Context, sessionID string) error {
	if err := security.ValidateSessionID(sessionID); err != nil {
		return err
	}
	return s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Delete(&core.SessionSettings{}).Error
}
