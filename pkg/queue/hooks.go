package queue

import (
	"context"

	"github.com/jdziat/docflow/pkg/core"
)

// OnJobStart registers a callback for when a job is admitted for processing.
func (q *Queue) OnJobStart(fn func(context.Context, *core.Job)) {
	q.hooksMu.Lock()
	q.onStart = append(q.onStart, fn)
	q.hooksMu.Unlock()
}

// OnJobComplete registers a callback for when a job completes successfully.
func (q *Queue) OnJobComplete(fn func(context.Context, *core.Job)) {
	q.hooksMu.Lock()
	q.onComplete = append(q.onComplete, fn)
	q.hooksMu.Unlock()
}

// OnJobFail registers a callback for when a job fails, times out or is cancelled.
func (q *Queue) OnJobFail(fn func(context.Context, *core.Job, error)) {
	q.hooksMu.Lock()
	q.onFail = append(q.onFail, fn)
	q.hooksMu.Unlock()
}

// OnProgress registers a callback for accepted progress updates.
func (q *Queue) OnProgress(fn func(context.Context, core.ProgressUpdate)) {
	q.hooksMu.Lock()
	q.onProgress = append(q.onProgress, fn)
	q.hooksMu.Unlock()
}

// Events returns a channel for receiving queue events.
// The caller must call Unsubscribe when done to prevent resource leaks.
func (q *Queue) Events() <-chan core.Event {
	ch := make(chan core.Event, 100)
	q.hooksMu.Lock()
	q.eventSubs = append(q.eventSubs, ch)
	q.hooksMu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel created by Events().
// The channel is not closed. After Unsubscribe returns, no further events
// will be sent to the channel.
func (q *Queue) Unsubscribe(ch <-chan core.Event) {
	q.hooksMu.Lock()
	defer q.hooksMu.Unlock()
	for i, sub := range q.eventSubs {
		if sub == ch {
			q.eventSubs = append(q.eventSubs[:i], q.eventSubs[i+1:]...)
			return
		}
	}
}

// Emit emits an event to all subscribers.
func (q *Queue) Emit(e core.Event) {
	q.hooksMu.RLock()
	subs := make([]chan core.Event, len(q.eventSubs))
	copy(subs, q.eventSubs)
	q.hooksMu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- e:
		default:
			// Drop if full - slow consumers never block the queue
		}
	}
}

func (q *Queue) callStartHooks(ctx context.Context, job *core.Job) {
	q.hooksMu.RLock()
	hooks := make([]func(context.Context, *core.Job), len(q.onStart))
	copy(hooks, q.onStart)
	q.hooksMu.RUnlock()

	for _, fn := range hooks {
		fn(ctx, job)
	}
}

func (q *Queue) callCompleteHooks(ctx context.Context, job *core.Job) {
	q.hooksMu.RLock()
	hooks := make([]func(context.Context, *core.Job), len(q.onComplete))
	copy(hooks, q.onComplete)
	q.hooksMu.RUnlock()

	for _, fn := range hooks {
		fn(ctx, job)
	}
}

func (q *Queue) callFailHooks(ctx context.Context, job *core.Job, err error) {
	q.hooksMu.RLock()
	hooks := make([]func(context.Context, *core.Job, error), len(q.onFail))
	copy(hooks, q.onFail)
	q.hooksMu.RUnlock()

	for _, fn := range hooks {
		fn(ctx, job, err)
	}
}

func (q *Queue) callProgressHooks(ctx context.Context, u core.ProgressUpdate) {
	q.hooksMu.RLock()
	hooks := make([]func(context.Context, core.ProgressUpdate), len(q.onProgress))
	copy(hooks, q.onProgress)
	q.hooksMu.RUnlock()

	for _, fn := range hooks {
		fn(ctx, u)
	}
}
