package queue

import (
	"log/slog"
	"time"

	"github.com/jdziat/docflow/pkg/security"
	"github.com/jdziat/docflow/pkg/worker"
)

// Options holds queue configuration.
type Options struct {
	// Capacity is the maximum number of jobs processing at once.
	Capacity int

	// Timeout is the default per-job deadline. Zero disables it.
	Timeout time.Duration

	// AbandonGrace bounds how long a slot stays held by an engine call that
	// outlived its job.
	AbandonGrace time.Duration

	// ProgressInterval is the estimated-progress tick for silent engines.
	ProgressInterval time.Duration

	// PersistRetry controls retries when writing terminal records to history.
	PersistRetry worker.RetryConfig

	// PersistTimeout bounds a single terminal write including retries.
	PersistTimeout time.Duration

	// DrainTimeout bounds how long Start waits for in-flight jobs on shutdown.
	DrainTimeout time.Duration

	Logger *slog.Logger
}

// NewOptions creates Options with defaults.
func NewOptions() *Options {
	return &Options{
		Capacity:         DefaultCapacity,
		Timeout:          DefaultTimeout,
		AbandonGrace:     30 * time.Second,
		ProgressInterval: 2 * time.Second,
		PersistRetry:     worker.DefaultRetryConfig(),
		PersistTimeout:   30 * time.Second,
		DrainTimeout:     30 * time.Second,
		Logger:           slog.Default(),
	}
}

// Option modifies Options.
type Option interface {
	Apply(*Options)
}

type optionFunc func(*Options)

func (f optionFunc) Apply(o *Options) { f(o) }

// Capacity sets how many jobs may process concurrently.
// Values are clamped to [1, security.MaxConcurrency].
func Capacity(n int) Option {
	return optionFunc(func(o *Options) {
		o.Capacity = security.ClampConcurrency(n)
	})
}

// Timeout sets the default per-job deadline. Zero disables it.
func Timeout(d time.Duration) Option {
	return optionFunc(func(o *Options) {
		if d >= 0 {
			o.Timeout = d
		}
	})
}

// WithAbandonGrace sets how long a timed-out or cancelled engine call may keep its slot.
func WithAbandonGrace(d time.Duration) Option {
	return optionFunc(func(o *Options) {
		if d >= 0 {
			o.AbandonGrace = d
		}
	})
}

// WithProgressInterval sets the estimated-progress tick. Zero disables estimation.
func WithProgressInterval(d time.Duration) Option {
	return optionFunc(func(o *Options) {
		if d >= 0 {
			o.ProgressInterval = d
		}
	})
}

// WithPersistRetry sets the retry policy for history writes.
func WithPersistRetry(cfg worker.RetryConfig) Option {
	return optionFunc(func(o *Options) {
		if cfg.MaxAttempts > 0 {
			o.PersistRetry = cfg
		}
	})
}

// WithPersistTimeout bounds one terminal history write.
func WithPersistTimeout(d time.Duration) Option {
	return optionFunc(func(o *Options) {
		if d > 0 {
			o.PersistTimeout = d
		}
	})
}

// WithDrainTimeout bounds the shutdown drain performed by Start.
func WithDrainTimeout(d time.Duration) Option {
	return optionFunc(func(o *Options) {
		if d > 0 {
			o.DrainTimeout = d
		}
	})
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	})
}

// Default values.
var (
	DefaultCapacity = 2
	DefaultTimeout  = 10 * time.Minute
)
