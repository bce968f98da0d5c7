package worker

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/jdziat/docflow/pkg/core"
)

// RetryConfig controls how terminal records are re-written to history after
// a failed save.
type RetryConfig struct {
	// MaxAttempts counts the first try. Default 5.
	MaxAttempts int

	// InitialBackoff is the wait after the first failure. Default 100ms.
	InitialBackoff time.Duration

	// MaxBackoff caps the wait between attempts. Default 5s.
	MaxBackoff time.Duration

	// BackoffMultiplier grows the wait after each failure. Default 2.
	BackoffMultiplier float64

	// JitterFraction randomizes each wait by up to this share of it. Default 0.1.
	JitterFraction float64
}

// DefaultRetryConfig returns the policy used for history writes.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       5,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		JitterFraction:    0.1,
	}
}

// wait returns the jittered delay for a backoff step.
func (c RetryConfig) wait(backoff time.Duration) time.Duration {
	jitter := time.Duration(float64(backoff) * c.JitterFraction * (rand.Float64()*2 - 1))
	if d := backoff + jitter; d > 0 {
		return d
	}
	return backoff
}

// next grows backoff by the multiplier, capped at MaxBackoff.
func (c RetryConfig) next(backoff time.Duration) time.Duration {
	return min(time.Duration(float64(backoff)*c.BackoffMultiplier), c.MaxBackoff)
}

// Retry runs op until it succeeds, returns an error IsRetryableError rejects,
// or runs out of attempts. It returns the last error seen, or ctx.Err() if
// ctx ends while waiting.
func Retry(ctx context.Context, config RetryConfig, op func() error) error {
	backoff := config.InitialBackoff
	for attempt := 1; ; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		if !IsRetryableError(err) || attempt >= config.MaxAttempts {
			return err
		}

		timer := time.NewTimer(config.wait(backoff))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff = config.next(backoff)
	}
}

// IsRetryableError reports whether a failed history write is worth repeating.
// Context errors and records the store rejects outright are permanent; other
// database errors (lost connections, "database is locked") are treated as
// transient.
func IsRetryableError(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, core.ErrInvalidTransition), errors.Is(err, core.ErrInvalidSubmission):
		return false
	}
	return true
}
