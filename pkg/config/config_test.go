package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, 2, cfg.Concurrency)
	assert.Equal(t, 10*time.Minute, cfg.JobTimeout)
	assert.Equal(t, 30*time.Second, cfg.AbandonGrace)
	assert.Empty(t, cfg.RedisAddr)
	assert.Empty(t, cfg.EngineArgs)
	assert.True(t, cfg.StatsEnabled)
	assert.Equal(t, time.Hour, cfg.QueueRecordTTL)
	require.NoError(t, cfg.Validate())
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DB_DSN", "postgres://localhost/docflow")
	t.Setenv("DB_POOL", "shared")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("MAX_CONCURRENT_JOBS", "4")
	t.Setenv("JOB_TIMEOUT", "90s")
	t.Setenv("ENGINE_ARGS", "-m  docling_bridge")
	t.Setenv("STATS_ENABLED", "false")
	t.Setenv("UPLOAD_RATE", "2.5")
	t.Setenv("MAINTENANCE_SCHEDULE", "0 3 * * *")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := Load()
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, "shared", cfg.DBPool)
	assert.True(t, cfg.IsPostgres())
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, 90*time.Second, cfg.JobTimeout)
	assert.Equal(t, []string{"-m", "docling_bridge"}, cfg.EngineArgs)
	assert.False(t, cfg.StatsEnabled)
	assert.Equal(t, 2.5, cfg.UploadRate)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	require.NoError(t, cfg.Validate())

	sched, err := cfg.Schedule()
	require.NoError(t, err)
	from := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC), sched.Next(from))
}

func TestLoad_MalformedValuesFallBack(t *testing.T) {
	t.Setenv("MAX_CONCURRENT_JOBS", "many")
	t.Setenv("JOB_TIMEOUT", "forever")
	t.Setenv("STATS_ENABLED", "maybe")

	cfg := Load()
	assert.Equal(t, 2, cfg.Concurrency)
	assert.Equal(t, 10*time.Minute, cfg.JobTimeout)
	assert.True(t, cfg.StatsEnabled)
}

func TestValidate(t *testing.T) {
	cfg := Load()
	cfg.DBDriver = "mysql"
	cfg.Concurrency = 0
	cfg.MaintenanceSchedule = "not a schedule"
	cfg.LogLevel = "loud"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_DRIVER")
	assert.Contains(t, err.Error(), "MAX_CONCURRENT_JOBS")
	assert.Contains(t, err.Error(), "MAINTENANCE_SCHEDULE")
	assert.Contains(t, err.Error(), "LOG_LEVEL")
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}

func TestValidate_PoolProfile(t *testing.T) {
	cfg := Load()
	cfg.DBPool = "shared"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_POOL: only applies to postgres")

	cfg.DBDriver = "postgres"
	require.NoError(t, cfg.Validate())

	cfg.DBPool = "huge"
	assert.ErrorContains(t, cfg.Validate(), "unknown profile")
}
