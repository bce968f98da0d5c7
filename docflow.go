// Package docflow provides a document conversion job service with a
// bounded-concurrency in-process queue.
//
// This is the main package users should import. It re-exports the public
// types from the pkg/ packages for a clean API surface.
//
// Basic usage:
//
//	store, _ := docflow.OpenStorage("sqlite", "docflow.db")
//	store.Migrate(ctx)
//
//	eng := docflow.NewCommandEngine("docling-bridge")
//	queue := docflow.New(eng, store, docflow.Capacity(2))
//	go queue.Start(ctx)
//
//	id, _ := queue.Submit(ctx, docflow.Descriptor{
//	    Filename:  "report.pdf",
//	    Format:    docflow.FormatPDF,
//	    InputPath: "/data/uploads/report.pdf",
//	    OutputDir: "/data/outputs/report",
//	    Settings:  docflow.DefaultSettings(),
//	})
//	job, _ := queue.Status(id)
package docflow

import (
	"context"
	"time"

	"github.com/jdziat/docflow/pkg/core"
	"github.com/jdziat/docflow/pkg/engine"
	"github.com/jdziat/docflow/pkg/jobctx"
	"github.com/jdziat/docflow/pkg/queue"
	"github.com/jdziat/docflow/pkg/schedule"
	"github.com/jdziat/docflow/pkg/security"
	"github.com/jdziat/docflow/pkg/service"
	"github.com/jdziat/docflow/pkg/storage"
)

type (
	// Job is the record tracking one conversion request.
	Job = core.Job

	// JobStatus represents the current state of a job.
	JobStatus = core.JobStatus

	// FailureKind categorises why a job failed.
	FailureKind = core.FailureKind

	// InputFormat is the detected format of an uploaded document.
	InputFormat = core.InputFormat

	// ExportFormat identifies a document export produced by the engine.
	ExportFormat = core.ExportFormat

	// Descriptor describes a submission before it becomes a Job.
	Descriptor = core.Descriptor

	// ConversionSettings controls a conversion.
	ConversionSettings = core.ConversionSettings

	// SettingsOverride carries per-request settings changes.
	SettingsOverride = core.SettingsOverride

	// ConversionResult is the payload of a completed job.
	ConversionResult = core.ConversionResult

	Artifact = core.Artifact
	Chunk    = core.Chunk

	// ConversionError is an execution-time failure recorded on a job.
	ConversionError = core.ConversionError

	// HistoryStore is the durable log of terminal jobs.
	HistoryStore = core.HistoryStore

	// SettingsStore persists session-scoped settings.
	SettingsStore = core.SettingsStore

	HistoryFilter = core.HistoryFilter
	HistoryStats  = core.HistoryStats

	// Event is the interface for all queue events.
	Event = core.Event

	JobSubmitted  = core.JobSubmitted
	JobStarted    = core.JobStarted
	JobProgressed = core.JobProgressed
	JobCompleted  = core.JobCompleted
	JobFailed     = core.JobFailed

	// Engine converts one document.
	Engine = engine.Engine

	// EngineInput is everything an engine needs to convert one document.
	EngineInput = engine.Input

	// EngineFunc adapts a plain function to Engine.
	EngineFunc = engine.FuncEngine

	// Queue is the bounded FIFO job queue.
	Queue = queue.Queue

	// Option configures a Queue.
	Option = queue.Option

	// QueueStats is a snapshot of queue depth and counters.
	QueueStats = queue.Stats

	// Service stages uploads and fronts the queue and stores.
	Service = service.Service

	// Upload is one document handed to Service.Submit.
	Upload = service.Upload

	// GormStorage implements HistoryStore and SettingsStore using GORM.
	GormStorage = storage.GormStorage

	// Schedule defines when a recurring task runs next.
	Schedule = schedule.Schedule
)

// Status constants
const (
	StatusPending    = core.StatusPending
	StatusProcessing = core.StatusProcessing
	StatusCompleted  = core.StatusCompleted
	StatusFailed     = core.StatusFailed
)

// Failure kinds
const (
	FailureConversion = core.FailureConversion
	FailureTimeout    = core.FailureTimeout
	FailureInternal   = core.FailureInternal
	FailureCancelled  = core.FailureCancelled
)

// Input formats
const (
	FormatPDF      = core.FormatPDF
	FormatDOCX     = core.FormatDOCX
	FormatPPTX     = core.FormatPPTX
	FormatXLSX     = core.FormatXLSX
	FormatHTML     = core.FormatHTML
	FormatMarkdown = core.FormatMarkdown
	FormatAsciiDoc = core.FormatAsciiDoc
	FormatCSV      = core.FormatCSV
	FormatImage    = core.FormatImage
)

// Security limits
const (
	MaxUploadSize  = security.MaxUploadSize
	MaxBatchFiles  = security.MaxBatchFiles
	MaxConcurrency = security.MaxConcurrency
)

// Error variables
var (
	ErrInvalidSubmission = core.ErrInvalidSubmission
	ErrNotFound          = core.ErrNotFound
	ErrNotReady          = core.ErrNotReady
	ErrQueueClosed       = core.ErrQueueClosed
	ErrInvalidTransition = core.ErrInvalidTransition
	ErrUnsupportedFormat = core.ErrUnsupportedFormat
	ErrConversionFailed  = core.ErrConversionFailed
)

// New creates a queue that runs conversions on e and records terminal jobs
// in history. history may be nil.
func New(e Engine, history HistoryStore, opts ...Option) *Queue {
	return queue.New(e, history, opts...)
}

// OpenStorage opens a GORM store for "sqlite" or "postgres".
func OpenStorage(driver, dsn string) (*GormStorage, error) {
	return storage.Open(driver, dsn)
}

// NewCommandEngine creates an engine that runs command once per conversion.
func NewCommandEngine(command string, opts ...engine.CommandOption) *engine.CommandEngine {
	return engine.NewCommandEngine(command, opts...)
}

// NewService creates the upload-facing service over a queue and its stores.
func NewService(q *Queue, history HistoryStore, settings SettingsStore, opts ...service.Option) *Service {
	return service.New(q, history, settings, opts...)
}

// DefaultSettings returns the settings used when a session has none stored.
func DefaultSettings() ConversionSettings {
	return core.DefaultSettings()
}

// DetectFormat determines the input format from a file name and its first bytes.
func DetectFormat(filename string, head []byte) (InputFormat, error) {
	return security.DetectFormat(filename, head)
}

// Queue option functions

// Capacity sets the number of conversions that may run at once.
func Capacity(n int) Option {
	return queue.Capacity(n)
}

// Timeout sets the default per-job timeout. Zero disables it.
func Timeout(d time.Duration) Option {
	return queue.Timeout(d)
}

// Engine-side helpers

// ReportProgress reports a conversion milestone from inside an engine.
func ReportProgress(ctx context.Context, progress int, message string) bool {
	return jobctx.ReportProgress(ctx, progress, message)
}

// JobIDFromContext returns the id of the job being converted, or "".
func JobIDFromContext(ctx context.Context) string {
	return jobctx.JobIDFromContext(ctx)
}

// Schedule functions

// Every creates a schedule that runs at fixed intervals.
func Every(d time.Duration) Schedule {
	return schedule.Every(d)
}

// Cron creates a schedule from a cron expression.
func Cron(expr string) (Schedule, error) {
	return schedule.Cron(expr)
}
