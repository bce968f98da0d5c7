package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jdziat/docflow/pkg/core"
	"github.com/jdziat/docflow/pkg/engine"
	"github.com/jdziat/docflow/pkg/security"
	"github.com/jdziat/docflow/pkg/worker"
)

// Stats is a point-in-time view of queue occupancy.
type Stats struct {
	Pending    int   `json:"pending"`
	Processing int   `json:"processing"`
	Capacity   int   `json:"capacity"`
	Tracked    int   `json:"tracked"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
}

// Queue admits conversion jobs in FIFO order and runs at most Capacity of
// them at once.
type Queue struct {
	unit    *worker.Unit
	history core.HistoryStore
	opts    *Options
	logger  *slog.Logger

	// mu guards the job records, the pending list and the slot counter.
	mu          sync.Mutex
	records     map[string]*core.Job
	pending     []string
	running     int
	closed      bool
	completed   int64
	failed      int64
	runningJobs map[string]context.CancelFunc

	hooksMu    sync.RWMutex
	onStart    []func(context.Context, *core.Job)
	onComplete []func(context.Context, *core.Job)
	onFail     []func(context.Context, *core.Job, error)
	onProgress []func(context.Context, core.ProgressUpdate)
	eventSubs  []chan core.Event

	baseCtx   context.Context
	cancelAll context.CancelFunc
	inflight  sync.WaitGroup
	settling  sync.WaitGroup
}

// New creates a queue that converts with e and records terminal jobs in history.
// The queue dispatches as soon as jobs are submitted.
func New(e engine.Engine, history core.HistoryStore, opts ...Option) *Queue {
	options := NewOptions()
	for _, opt := range opts {
		opt.Apply(options)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		unit: worker.New(e,
			worker.WithTimeout(options.Timeout),
			worker.WithAbandonGrace(options.AbandonGrace),
			worker.WithProgressInterval(options.ProgressInterval),
			worker.WithLogger(options.Logger),
		),
		history:     history,
		opts:        options,
		logger:      options.Logger,
		records:     make(map[string]*core.Job),
		runningJobs: make(map[string]context.CancelFunc),
		baseCtx:     ctx,
		cancelAll:   cancel,
	}
}

// Capacity returns the concurrency bound.
func (q *Queue) Capacity() int {
	return q.opts.Capacity
}

// Start ties the queue lifetime to ctx. It blocks until ctx is done, then
// stops admitting work and drains in-flight jobs for up to DrainTimeout.
func (q *Queue) Start(ctx context.Context) error {
	q.logger.Info("queue started", "capacity", q.opts.Capacity, "timeout", q.opts.Timeout)
	<-ctx.Done()

	drainCtx, cancel := context.WithTimeout(context.Background(), q.opts.DrainTimeout)
	defer cancel()
	return q.Close(drainCtx)
}

// Submit validates d, records a pending job and returns its id.
// It never waits for conversion work.
func (q *Queue) Submit(ctx context.Context, d core.Descriptor) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	name, err := security.ValidateFilename(d.Filename)
	if err != nil {
		return "", core.InvalidSubmission(err)
	}
	if !d.Format.Valid() {
		return "", core.InvalidSubmission(fmt.Errorf("%w: %q", core.ErrUnsupportedFormat, d.Format))
	}
	if err := d.Settings.Validate(); err != nil {
		return "", core.InvalidSubmission(err)
	}

	now := time.Now()
	job := &core.Job{
		ID:          uuid.New().String(),
		Status:      core.StatusPending,
		Message:     "Queued",
		Filename:    name,
		Format:      d.Format,
		SizeBytes:   d.SizeBytes,
		SessionID:   d.SessionID,
		InputPath:   d.InputPath,
		OutputDir:   d.OutputDir,
		Settings:    d.Settings.Clone(),
		SubmittedAt: now,
		UpdatedAt:   now,
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", core.ErrQueueClosed
	}
	q.records[job.ID] = job
	q.pending = append(q.pending, job.ID)
	snap := job.Snapshot()
	q.mu.Unlock()

	q.logger.Debug("job submitted", "job_id", job.ID, "filename", name, "format", d.Format)
	q.Emit(&core.JobSubmitted{Job: snap, Timestamp: now})

	q.dispatch()
	return job.ID, nil
}

type admission struct {
	job *core.Job
	ctx context.Context
}

// dispatch admits pending jobs in FIFO order while slots are free.
func (q *Queue) dispatch() {
	var admitted []admission

	q.mu.Lock()
	for q.running < q.opts.Capacity && len(q.pending) > 0 {
		id := q.pending[0]
		q.pending = q.pending[1:]

		job, ok := q.records[id]
		if !ok || !core.CanTransition(job.Status, core.StatusProcessing) {
			continue
		}

		now := time.Now()
		job.Status = core.StatusProcessing
		job.Progress = 5
		job.Message = "Starting conversion"
		job.StartedAt = &now
		job.UpdatedAt = now

		ctx, cancel := context.WithCancel(q.baseCtx)
		q.runningJobs[id] = cancel
		q.running++
		q.inflight.Add(1)
		admitted = append(admitted, admission{job: job.Snapshot(), ctx: ctx})
	}
	q.mu.Unlock()

	for _, a := range admitted {
		q.logger.Info("job started", "job_id", a.job.ID, "filename", a.job.Filename)
		q.Emit(&core.JobStarted{Job: a.job, Timestamp: time.Now()})
		q.callStartHooks(a.ctx, a.job)
		go q.execute(a.ctx, a.job)
	}
}

// execute runs one admitted job and releases its slot once the engine settles.
// The history write runs on its own goroutine so a slow store never delays
// admission of the next pending job.
func (q *Queue) execute(ctx context.Context, job *core.Job) {
	out := q.unit.Run(ctx, job, q.reporter(job.ID))
	if snap, ok := q.finish(job.ID, out); ok {
		q.settling.Add(1)
		go func() {
			defer q.settling.Done()
			q.settle(snap, out.Err)
		}()
	}
	q.inflight.Done()

	<-out.Settled
	if out.Abandoned() {
		q.logger.Warn("slot released while engine call still running", "job_id", job.ID)
	}

	q.mu.Lock()
	q.running--
	q.mu.Unlock()
	q.dispatch()
}

// reporter returns the progress sink for one job. Updates for a job that is
// no longer processing, or that would move progress backwards, are dropped.
func (q *Queue) reporter(jobID string) func(core.ProgressUpdate) {
	return func(u core.ProgressUpdate) {
		q.mu.Lock()
		job, ok := q.records[jobID]
		if !ok || job.Status != core.StatusProcessing || u.Progress < job.Progress {
			q.mu.Unlock()
			return
		}
		job.Progress = min(u.Progress, 99)
		if u.Message != "" {
			job.Message = u.Message
		}
		job.UpdatedAt = time.Now()
		update := core.ProgressUpdate{JobID: jobID, Progress: job.Progress, Message: job.Message}
		q.mu.Unlock()

		q.Emit(&core.JobProgressed{
			JobID:     update.JobID,
			Progress:  update.Progress,
			Message:   update.Message,
			Timestamp: time.Now(),
		})
		q.callProgressHooks(q.baseCtx, update)
	}
}

// finish applies a unit outcome and returns the terminal snapshot to settle.
// Outcomes for jobs that already reached a terminal state are discarded.
func (q *Queue) finish(jobID string, out worker.Outcome) (*core.Job, bool) {
	target := core.StatusCompleted
	if out.Err != nil {
		target = core.StatusFailed
	}

	q.mu.Lock()
	if cancel, ok := q.runningJobs[jobID]; ok {
		cancel()
		delete(q.runningJobs, jobID)
	}
	job, ok := q.records[jobID]
	if !ok || !core.CanTransition(job.Status, target) {
		q.mu.Unlock()
		q.logger.Debug("discarding outcome for settled job", "job_id", jobID)
		return nil, false
	}

	now := time.Now()
	job.CompletedAt = &now
	job.UpdatedAt = now
	job.DurationMS = out.Duration.Milliseconds()
	if out.Err == nil {
		job.Status = core.StatusCompleted
		job.Progress = 100
		job.Message = "Conversion complete"
		job.Result = out.Result.Clone()
		job.Confidence = out.Result.Confidence
		q.completed++
	} else {
		markFailed(job, out.Err)
		q.failed++
	}
	snap := job.Snapshot()
	q.mu.Unlock()
	return snap, true
}

// Status returns a snapshot of the job record.
func (q *Queue) Status(jobID string) (*core.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.records[jobID]
	if !ok {
		return nil, core.ErrNotFound
	}
	return job.Snapshot(), nil
}

// Result returns the conversion result of a completed job. A failed job
// yields its *core.ConversionError; an unfinished job yields ErrNotReady.
func (q *Queue) Result(jobID string) (*core.ConversionResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.records[jobID]
	if !ok {
		return nil, core.ErrNotFound
	}
	switch job.Status {
	case core.StatusCompleted:
		return job.Result.Clone(), nil
	case core.StatusFailed:
		return nil, core.Failed(job.ErrorKind, errors.New(job.Error))
	default:
		return nil, core.ErrNotReady
	}
}

// List returns snapshots of every tracked job in submission order.
func (q *Queue) List() []*core.Job {
	q.mu.Lock()
	jobs := make([]*core.Job, 0, len(q.records))
	for _, job := range q.records {
		jobs = append(jobs, job.Snapshot())
	}
	q.mu.Unlock()

	slices.SortFunc(jobs, func(a, b *core.Job) int {
		return a.SubmittedAt.Compare(b.SubmittedAt)
	})
	return jobs
}

// Cancel fails a pending or processing job with kind cancelled.
// A processing job is marked immediately and its engine call is cancelled;
// any result that arrives afterwards is discarded.
func (q *Queue) Cancel(ctx context.Context, jobID string) error {
	q.mu.Lock()
	job, ok := q.records[jobID]
	if !ok {
		q.mu.Unlock()
		return core.ErrNotFound
	}
	if !core.CanTransition(job.Status, core.StatusFailed) {
		q.mu.Unlock()
		return fmt.Errorf("%w: job is %s", core.ErrInvalidTransition, job.Status)
	}

	if job.Status == core.StatusPending {
		q.pending = slices.DeleteFunc(q.pending, func(id string) bool { return id == jobID })
	}
	if cancel, ok := q.runningJobs[jobID]; ok {
		cancel()
		delete(q.runningJobs, jobID)
	}

	cerr := core.Failed(core.FailureCancelled, errors.New("cancelled by request"))
	now := time.Now()
	if job.StartedAt != nil {
		job.DurationMS = now.Sub(*job.StartedAt).Milliseconds()
	}
	job.CompletedAt = &now
	job.UpdatedAt = now
	markFailed(job, cerr)
	q.failed++
	snap := job.Snapshot()
	q.mu.Unlock()

	q.logger.Info("job cancelled", "job_id", jobID)
	q.persist(ctx, snap)
	q.notifyTerminal(snap, cerr)
	return nil
}

// Stats returns current queue occupancy.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Pending:    len(q.pending),
		Processing: q.running,
		Capacity:   q.opts.Capacity,
		Tracked:    len(q.records),
		Completed:  q.completed,
		Failed:     q.failed,
	}
}

// Forget evicts terminal records that completed before the cutoff.
// Evicted jobs remain available from the history store.
func (q *Queue) Forget(before time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for id, job := range q.records {
		if job.Status.IsTerminal() && job.CompletedAt != nil && job.CompletedAt.Before(before) {
			delete(q.records, id)
			n++
		}
	}
	return n
}

// Evict drops one terminal record from memory. It reports whether a record
// was removed.
func (q *Queue) Evict(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.records[jobID]
	if !ok || !job.Status.IsTerminal() {
		return false
	}
	delete(q.records, jobID)
	return true
}

// Close stops admitting work, cancels pending jobs and waits for processing
// jobs to reach a terminal state and be written to history. If ctx ends first, processing jobs are
// cancelled and ctx.Err() is returned.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true

	var dropped []*core.Job
	cerr := core.Failed(core.FailureCancelled, core.ErrQueueClosed)
	now := time.Now()
	for _, id := range q.pending {
		job, ok := q.records[id]
		if !ok || !core.CanTransition(job.Status, core.StatusFailed) {
			continue
		}
		job.CompletedAt = &now
		job.UpdatedAt = now
		markFailed(job, cerr)
		q.failed++
		dropped = append(dropped, job.Snapshot())
	}
	q.pending = nil
	q.mu.Unlock()

	for _, snap := range dropped {
		q.settle(snap, cerr)
	}

	done := make(chan struct{})
	go func() {
		q.inflight.Wait()
		q.settling.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancelAll()
		q.logger.Info("queue closed")
		return nil
	case <-ctx.Done():
		q.logger.Warn("drain deadline reached, cancelling processing jobs")
		q.cancelAll()
		<-done
		return ctx.Err()
	}
}

// settle persists a terminal snapshot and notifies listeners.
func (q *Queue) settle(snap *core.Job, cerr *core.ConversionError) {
	ctx, cancel := context.WithTimeout(context.Background(), q.opts.PersistTimeout)
	defer cancel()
	q.persist(ctx, snap)
	q.notifyTerminal(snap, cerr)
}

// persist writes a terminal snapshot to history. Failures are logged and never
// change the in-memory record.
func (q *Queue) persist(ctx context.Context, snap *core.Job) {
	if q.history == nil {
		return
	}
	err := worker.Retry(ctx, q.opts.PersistRetry, func() error {
		return q.history.Save(ctx, snap)
	})
	if err != nil {
		q.logger.Error("failed to persist job history", "job_id", snap.ID, "status", snap.Status, "error", err)
	}
}

func (q *Queue) notifyTerminal(snap *core.Job, cerr *core.ConversionError) {
	now := time.Now()
	if cerr == nil {
		q.logger.Info("job completed", "job_id", snap.ID, "duration_ms", snap.DurationMS)
		q.Emit(&core.JobCompleted{
			Job:       snap,
			Duration:  time.Duration(snap.DurationMS) * time.Millisecond,
			Timestamp: now,
		})
		q.callCompleteHooks(q.baseCtx, snap)
		return
	}
	if cerr.Kind != core.FailureCancelled {
		q.logger.Warn("job failed", "job_id", snap.ID, "kind", cerr.Kind, "error", snap.Error)
	}
	q.Emit(&core.JobFailed{Job: snap, Error: cerr, Timestamp: now})
	q.callFailHooks(q.baseCtx, snap, cerr)
}

// markFailed moves job into the failed state. Progress is left where it stopped.
func markFailed(job *core.Job, cerr *core.ConversionError) {
	job.Status = core.StatusFailed
	job.ErrorKind = cerr.Kind
	msg := string(cerr.Kind)
	if cerr.Err != nil {
		msg = cerr.Err.Error()
	}
	job.Error = security.SanitizeErrorMessage(msg)
	switch cerr.Kind {
	case core.FailureCancelled:
		job.Message = "Cancelled"
	case core.FailureTimeout:
		job.Message = "Conversion timed out"
	default:
		job.Message = "Conversion failed"
	}
}
