// Package worker provides the execution unit that runs one conversion job.
package worker

import (
	"log/slog"
	"time"
)

// Option configures a Unit.
type Option interface {
	ApplyUnit(*Config)
}

type optionFunc func(*Config)

func (f optionFunc) ApplyUnit(c *Config) { f(c) }

// Config holds execution unit configuration.
type Config struct {
	// Timeout is the default per-job deadline. Zero disables it.
	// A job's own settings may override it.
	Timeout time.Duration

	// AbandonGrace is how long a slot stays occupied after a timeout or
	// cancellation while waiting for the engine call to return.
	AbandonGrace time.Duration

	// ProgressInterval is how often estimated milestones are advanced when
	// the engine reports nothing itself. Zero disables estimation.
	ProgressInterval time.Duration

	Logger *slog.Logger
}

// DefaultConfig returns the default execution unit configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:          10 * time.Minute,
		AbandonGrace:     30 * time.Second,
		ProgressInterval: 2 * time.Second,
		Logger:           slog.Default(),
	}
}

// WithTimeout sets the default per-job deadline.
func WithTimeout(d time.Duration) Option {
	return optionFunc(func(c *Config) {
		if d >= 0 {
			c.Timeout = d
		}
	})
}

// WithAbandonGrace sets how long to wait for an engine after timeout or cancel.
func WithAbandonGrace(d time.Duration) Option {
	return optionFunc(func(c *Config) {
		if d >= 0 {
			c.AbandonGrace = d
		}
	})
}

// WithProgressInterval sets the estimated-progress tick.
func WithProgressInterval(d time.Duration) Option {
	return optionFunc(func(c *Config) {
		if d >= 0 {
			c.ProgressInterval = d
		}
	})
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	})
}
