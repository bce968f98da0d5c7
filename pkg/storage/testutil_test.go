package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jdziat/docflow/pkg/core"
)

// openTestDB opens a database for tests.
// When TEST_DATABASE_URL is set it connects to PostgreSQL; otherwise it
// opens a fresh in-memory SQLite instance.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn != "" {
		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		require.NoError(t, err, "open postgres test db")

		sqlDB, err := db.DB()
		require.NoError(t, err, "get underlying sql.DB")
		sqlDB.SetMaxOpenConns(2)
		sqlDB.SetMaxIdleConns(1)

		// Clean before AND after to ensure test isolation.
		cleanupPostgresDB(db)
		t.Cleanup(func() {
			cleanupPostgresDB(db)
			_ = sqlDB.Close()
		})
		return db
	}
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "open in-memory sqlite")

	// Every connection to ":memory:" is a separate database.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	return db
}

// cleanupPostgresDB deletes all rows so tests are isolated without
// requiring a fresh database per test.
func cleanupPostgresDB(db *gorm.DB) {
	for _, tbl := range []string{"conversion_jobs", "session_settings"} {
		db.Exec("DELETE FROM " + tbl)
	}
}

// newTestStorage creates a migrated storage instance for each test.
func newTestStorage(t *testing.T) *GormStorage {
	t.Helper()
	s := NewGormStorage(openTestDB(t))
	require.NoError(t, s.Migrate(context.Background()), "migrate schema")
	return s
}

// newTerminalJob builds a completed job submitted at the given time.
func newTerminalJob(filename string, submitted time.Time) *core.Job {
	completed := submitted.Add(3 * time.Second)
	started := submitted.Add(time.Second)
	return &core.Job{
		ID:          uuid.New().String(),
		Status:      core.StatusCompleted,
		Progress:    100,
		Message:     "Conversion complete",
		Filename:    filename,
		Format:      core.FormatPDF,
		SizeBytes:   2048,
		SessionID:   "default",
		Settings:    core.DefaultSettings(),
		Confidence:  0.9,
		SubmittedAt: submitted,
		StartedAt:   &started,
		CompletedAt: &completed,
		DurationMS:  2000,
		Result: &core.ConversionResult{
			Exports: map[core.ExportFormat]core.Artifact{
				core.ExportMarkdown: {Name: "out.md", Path: "out.md", MediaType: "text/markdown"},
			},
			Chunks:     []core.Chunk{{Index: 0, Text: "Intro", Headings: []string{"Title"}}},
			Confidence: 0.9,
			PageCount:  4,
		},
	}
}
