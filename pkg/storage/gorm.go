package storage

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jdziat/docflow/pkg/core"
)

// GormStorage implements HistoryStore and SettingsStore using GORM.
type GormStorage struct {
	db *gorm.DB
}

// NewGormStorage creates a new GORM-backed storage.
func NewGormStorage(db *gorm.DB) *GormStorage {
	return &GormStorage{db: db}
}

// Open connects to a database by driver name ("sqlite" or "postgres") and
// applies the connection pool options.
func Open(driver, dsn string, opts ...PoolOption) (*GormStorage, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		dialector = sqlite.Open(dsn)
		// SQLite has a single writer and ":memory:" databases live per
		// connection, so keep one long-lived connection unless overridden.
		opts = append([]PoolOption{MaxOpenConns(1), MaxIdleConns(1), ConnMaxLifetime(0), ConnMaxIdleTime(0)}, opts...)
	case "postgres", "postgresql":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("storage: unsupported driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", driver, err)
	}
	return NewGormStorageWithPool(db, opts...)
}

// DB returns the underlying database handle.
func (s *GormStorage) DB() *gorm.DB {
	return s.db
}

// IsSQLite reports whether the storage runs on SQLite.
func (s *GormStorage) IsSQLite() bool {
	return s.db != nil && s.db.Dialector.Name() == "sqlite"
}

// Migrate creates the necessary tables.
func (s *GormStorage) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&core.Job{}, &core.SessionSettings{})
}

// Close releases the underlying connection pool.
func (s *GormStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var (
	_ core.HistoryStore  = (*GormStorage)(nil)
	_ core.SettingsStore = (*GormStorage)(nil)
)
