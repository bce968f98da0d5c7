// Package config loads docflowd settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jdziat/docflow/pkg/schedule"
)

type Config struct {
	HTTPAddr     string
	LogLevel     string
	AllowOrigins string
	UploadRate   float64
	UploadBurst  int

	DBDriver string
	DBDSN    string
	// DBPool names a connection pool profile for postgres: "default" or "shared".
	DBPool string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	MirrorTTL     time.Duration

	Concurrency  int
	JobTimeout   time.Duration
	AbandonGrace time.Duration
	DrainTimeout time.Duration

	UploadDir     string
	OutputDir     string
	EngineCommand string
	EngineArgs    []string

	StatsEnabled   bool
	StatsRetention time.Duration

	HistoryRetention    time.Duration
	QueueRecordTTL      time.Duration
	ArtifactRetention   time.Duration
	MaintenanceSchedule string
}

func Load() *Config {
	return &Config{
		HTTPAddr:     getEnv("HTTP_ADDR", ":8080"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		AllowOrigins: getEnv("CORS_ORIGINS", "*"),
		UploadRate:   getEnvAsFloat("UPLOAD_RATE", 10),
		UploadBurst:  getEnvAsInt("UPLOAD_BURST", 20),

		DBDriver: getEnv("DB_DRIVER", "sqlite"),
		DBDSN:    getEnv("DB_DSN", "docflow.db"),
		DBPool:   getEnv("DB_POOL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),
		MirrorTTL:     getEnvAsDuration("STATUS_CACHE_TTL", 10*time.Minute),

		Concurrency:  getEnvAsInt("MAX_CONCURRENT_JOBS", 2),
		JobTimeout:   getEnvAsDuration("JOB_TIMEOUT", 10*time.Minute),
		AbandonGrace: getEnvAsDuration("ABANDON_GRACE", 30*time.Second),
		DrainTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		UploadDir:     getEnv("UPLOAD_DIR", "data/uploads"),
		OutputDir:     getEnv("OUTPUT_DIR", "data/outputs"),
		EngineCommand: getEnv("ENGINE_COMMAND", "docling-bridge"),
		EngineArgs:    strings.Fields(getEnv("ENGINE_ARGS", "")),

		StatsEnabled:   getEnvAsBool("STATS_ENABLED", true),
		StatsRetention: getEnvAsDuration("STATS_RETENTION", 7*24*time.Hour),

		HistoryRetention:    getEnvAsDuration("HISTORY_RETENTION", 30*24*time.Hour),
		QueueRecordTTL:      getEnvAsDuration("QUEUE_RECORD_TTL", time.Hour),
		ArtifactRetention:   getEnvAsDuration("ARTIFACT_RETENTION", 24*time.Hour),
		MaintenanceSchedule: getEnv("MAINTENANCE_SCHEDULE", "15m"),
	}
}

// Validate reports settings the daemon cannot start with.
func (c *Config) Validate() error {
	var errs []error
	switch c.DBDriver {
	case "sqlite", "sqlite3", "postgres", "postgresql":
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER: unsupported driver %q", c.DBDriver))
	}
	switch c.DBPool {
	case "":
	case "default", "shared":
		if !c.IsPostgres() {
			errs = append(errs, errors.New("DB_POOL: only applies to postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("DB_POOL: unknown profile %q", c.DBPool))
	}
	if c.DBDSN == "" {
		errs = append(errs, errors.New("DB_DSN: must not be empty"))
	}
	if c.EngineCommand == "" {
		errs = append(errs, errors.New("ENGINE_COMMAND: must not be empty"))
	}
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("MAX_CONCURRENT_JOBS: must be at least 1, got %d", c.Concurrency))
	}
	if c.JobTimeout < 0 {
		errs = append(errs, errors.New("JOB_TIMEOUT: must not be negative"))
	}
	if c.UploadBurst < 1 {
		errs = append(errs, fmt.Errorf("UPLOAD_BURST: must be at least 1, got %d", c.UploadBurst))
	}
	if _, err := c.Schedule(); err != nil {
		errs = append(errs, fmt.Errorf("MAINTENANCE_SCHEDULE: %w", err))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	return errors.Join(errs...)
}

// IsPostgres reports whether DBDriver selects PostgreSQL.
func (c *Config) IsPostgres() bool {
	return c.DBDriver == "postgres" || c.DBDriver == "postgresql"
}

// Schedule parses MaintenanceSchedule as a duration or a cron expression.
func (c *Config) Schedule() (schedule.Schedule, error) {
	return schedule.Parse(c.MaintenanceSchedule)
}

// SlogLevel returns the configured log level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, err
	}
	return level, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
