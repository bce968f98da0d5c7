package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/jdziat/docflow/pkg/core"
	"github.com/jdziat/docflow/pkg/engine"
	intctx "github.com/jdziat/docflow/pkg/internal/context"
)

// Outcome is the result of running one job.
type Outcome struct {
	Result   *core.ConversionResult
	Err      *core.ConversionError
	Duration time.Duration

	// Settled is closed once the engine call has returned or the abandon
	// grace has elapsed. The concurrency slot must be held until then.
	Settled <-chan struct{}

	abandoned *atomic.Bool
}

// Abandoned reports whether the engine was still running when Settled closed.
// Only meaningful after Settled is closed.
func (o Outcome) Abandoned() bool {
	return o.abandoned != nil && o.abandoned.Load()
}

// Unit runs conversion jobs against an engine.
type Unit struct {
	engine engine.Engine
	config Config
}

// New creates an execution unit for the given engine.
func New(e engine.Engine, opts ...Option) *Unit {
	config := DefaultConfig()
	for _, opt := range opts {
		opt.ApplyUnit(&config)
	}
	return &Unit{engine: e, config: config}
}

// Config returns the unit configuration.
func (u *Unit) Config() Config {
	return u.config
}

type engineReturn struct {
	result *core.ConversionResult
	err    error
}

// Run converts job and returns as soon as the job has a terminal outcome.
// Progress updates are delivered through report. Cancelling ctx marks the
// outcome as cancelled; a deadline from the job or unit timeout marks it as
// a timeout. Run never panics because of the engine.
func (u *Unit) Run(ctx context.Context, job *core.Job, report func(core.ProgressUpdate)) Outcome {
	start := time.Now()
	logger := u.config.Logger.With("job_id", job.ID)

	timeout := job.Settings.Timeout()
	if timeout <= 0 {
		timeout = u.config.Timeout
	}
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}

	jc := &intctx.JobContext{
		JobID:    job.ID,
		Filename: job.Filename,
		Format:   job.Format,
		Report:   report,
	}
	runCtx = intctx.WithJobContext(runCtx, jc)

	settled := make(chan struct{})
	out := Outcome{Settled: settled, abandoned: &atomic.Bool{}}

	if job.InputPath != "" {
		if _, err := os.Stat(job.InputPath); err != nil {
			cancel()
			close(settled)
			out.Err = core.Failed(core.FailureConversion, fmt.Errorf("input file unavailable: %w", err))
			out.Duration = time.Since(start)
			return out
		}
	}

	milestones := engine.Milestones(job.Format, job.Settings)
	jc.Estimate(milestones[0].Progress, milestones[0].Message)

	done := make(chan engineReturn, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("engine panicked", "panic", r, "stack", string(debug.Stack()))
				done <- engineReturn{err: core.Failed(core.FailureInternal, fmt.Errorf("panic: %v", r))}
			}
		}()
		res, err := u.engine.Convert(runCtx, engine.Input{
			JobID:     job.ID,
			Path:      job.InputPath,
			Filename:  job.Filename,
			Format:    job.Format,
			OutputDir: job.OutputDir,
			Settings:  job.Settings.Clone(),
		})
		done <- engineReturn{result: res, err: err}
	}()

	stopEstimate := make(chan struct{})
	if u.config.ProgressInterval > 0 && len(milestones) > 1 {
		go u.estimate(jc, milestones[1:], stopEstimate)
	}

	var ret engineReturn
	select {
	case ret = <-done:
		close(stopEstimate)
		cancel()
		close(settled)
	case <-runCtx.Done():
		close(stopEstimate)
		// Prefer a result that raced with the deadline.
		select {
		case ret = <-done:
			cancel()
			close(settled)
		default:
			ret = engineReturn{err: runCtx.Err()}
			go u.awaitSettle(done, cancel, settled, out.abandoned, logger)
		}
	}

	out.Duration = time.Since(start)
	out.Result, out.Err = classify(ctx, runCtx, ret)
	return out
}

// awaitSettle waits for an engine that outlived its job, up to AbandonGrace.
func (u *Unit) awaitSettle(done <-chan engineReturn, cancel context.CancelFunc, settled chan struct{}, abandoned *atomic.Bool, logger *slog.Logger) {
	defer close(settled)
	defer cancel()

	if u.config.AbandonGrace <= 0 {
		abandoned.Store(true)
		logger.Warn("abandoning engine call still in progress")
		return
	}
	timer := time.NewTimer(u.config.AbandonGrace)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		abandoned.Store(true)
		logger.Warn("abandoning engine call still in progress", "grace", u.config.AbandonGrace)
	}
}

// estimate advances through milestones until the engine reports progress
// of its own.
func (u *Unit) estimate(jc *intctx.JobContext, milestones []engine.Milestone, stop <-chan struct{}) {
	ticker := time.NewTicker(u.config.ProgressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if jc.EngineReported() {
				return
			}
			current := jc.Progress()
			next := -1
			for i, m := range milestones {
				if m.Progress > current {
					next = i
					break
				}
			}
			if next < 0 {
				return
			}
			if !jc.Estimate(milestones[next].Progress, milestones[next].Message) && jc.EngineReported() {
				return
			}
		}
	}
}

// classify maps an engine return into a terminal result or failure.
func classify(parent, runCtx context.Context, ret engineReturn) (*core.ConversionResult, *core.ConversionError) {
	if ret.err == nil {
		if ret.result == nil {
			return nil, core.Failed(core.FailureInternal, errors.New("engine returned no result"))
		}
		return ret.result, nil
	}

	var ce *core.ConversionError
	switch {
	case parent.Err() != nil:
		return nil, core.Failed(core.FailureCancelled, errors.New("cancelled"))
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) || errors.Is(ret.err, context.DeadlineExceeded):
		return nil, core.Failed(core.FailureTimeout, errors.New("conversion exceeded deadline"))
	case errors.Is(ret.err, context.Canceled):
		return nil, core.Failed(core.FailureCancelled, errors.New("cancelled"))
	case errors.As(ret.err, &ce):
		return nil, ce
	default:
		return nil, core.Failed(core.FailureConversion, ret.err)
	}
}
