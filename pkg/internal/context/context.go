// Package context provides context helpers for docflow execution units.
package context

import (
	"context"
	"sync"

	"github.com/jdziat/docflow/pkg/core"
)

// JobContextKey is the key for storing job context in context.Context.
type JobContextKey struct{}

// JobContext holds the job being converted and the channel back to its owner.
type JobContext struct {
	JobID    string
	Filename string
	Format   core.InputFormat
	// Report delivers a progress update to the owner of the job record.
	Report func(core.ProgressUpdate)

	mu             sync.Mutex
	progress       int
	engineReported bool
}

// GetJobContext retrieves the job context from a context.Context.
func GetJobContext(ctx context.Context) *JobContext {
	if jc, ok := ctx.Value(JobContextKey{}).(*JobContext); ok {
		return jc
	}
	return nil
}

// WithJobContext adds job context to a context.Context.
func WithJobContext(ctx context.Context, jc *JobContext) context.Context {
	return context.WithValue(ctx, JobContextKey{}, jc)
}

// Advance records progress p reported by the engine itself. Once the engine
// has reported, Estimate refuses further updates for the rest of the job.
// Updates below the current progress are dropped. Values are clamped to
// [0, 99]; 100 is reserved for completion. It reports whether the job has an
// owner to report to.
func (jc *JobContext) Advance(p int, msg string) bool {
	jc.advance(p, msg, true)
	return jc.Report != nil
}

// Estimate records a milestone estimate unless the engine has reported
// progress of its own. It reports whether the update was applied.
func (jc *JobContext) Estimate(p int, msg string) bool {
	return jc.advance(p, msg, false)
}

// EngineReported reports whether the engine has called Advance.
func (jc *JobContext) EngineReported() bool {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	return jc.engineReported
}

func (jc *JobContext) advance(p int, msg string, fromEngine bool) bool {
	p = min(max(p, 0), 99)

	jc.mu.Lock()
	if fromEngine {
		jc.engineReported = true
	} else if jc.engineReported {
		jc.mu.Unlock()
		return false
	}
	if p < jc.progress {
		jc.mu.Unlock()
		return false
	}
	jc.progress = p
	jc.mu.Unlock()

	if jc.Report == nil {
		return false
	}
	jc.Report(core.ProgressUpdate{JobID: jc.JobID, Progress: p, Message: msg})
	return true
}

// Progress returns the last progress value recorded.
func (jc *JobContext) Progress() int {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	return jc.progress
}
