package core

import "time"

// Event is the interface for all queue events.
type Event interface {
	eventMarker()
}

// JobSubmitted is emitted when a job enters the pending list.
type JobSubmitted struct {
	Job       *Job
	Timestamp time.Time
}

func (*JobSubmitted) eventMarker() {}

// JobStarted is emitted when a job is admitted and starts processing.
type JobStarted struct {
	Job       *Job
	Timestamp time.Time
}

func (*JobStarted) eventMarker() {}

// JobProgressed is emitted when a processing job reports a new milestone.
type JobProgressed struct {
	JobID     string
	Progress  int
	Message   string
	Timestamp time.Time
}

func (*JobProgressed) eventMarker() {}

// JobCompleted is emitted when a job completes successfully.
type JobCompleted struct {
	Job       *Job
	Duration  time.Duration
	Timestamp time.Time
}

func (*JobCompleted) eventMarker() {}

// JobFailed is emitted when a job fails, times out or is cancelled.
type JobFailed struct {
	Job       *Job
	Error     error
	Timestamp time.Time
}

func (*JobFailed) eventMarker() {}

// ProgressUpdate is the message an execution unit sends to the record owner.
type ProgressUpdate struct {
	JobID    string
	Progress int
	Message  string
}
