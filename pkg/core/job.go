// Package core provides the domain models and interfaces for docflow.
package core

import (
	"maps"
	"slices"
	"time"
)

// JobStatus represents the current state of a conversion job.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transitions can occur.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether a job may move from one status to another.
// pending -> failed is the cancellation shortcut.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing || to == StatusFailed
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	}
	return false
}

// FailureKind categorises why a job failed.
type FailureKind string

const (
	FailureConversion FailureKind = "conversion_failed"
	FailureTimeout    FailureKind = "timeout"
	FailureInternal   FailureKind = "internal_fault"
	FailureCancelled  FailureKind = "cancelled"
)

// InputFormat is the detected format of an uploaded document.
type InputFormat string

const (
	FormatPDF      InputFormat = "pdf"
	FormatDOCX     InputFormat = "docx"
	FormatPPTX     InputFormat = "pptx"
	FormatXLSX     InputFormat = "xlsx"
	FormatHTML     InputFormat = "html"
	FormatMarkdown InputFormat = "md"
	FormatAsciiDoc InputFormat = "asciidoc"
	FormatCSV      InputFormat = "csv"
	FormatImage    InputFormat = "image"
)

// Valid reports whether f is a format the engine accepts.
func (f InputFormat) Valid() bool {
	switch f {
	case FormatPDF, FormatDOCX, FormatPPTX, FormatXLSX, FormatHTML,
		FormatMarkdown, FormatAsciiDoc, FormatCSV, FormatImage:
		return true
	}
	return false
}

// Artifact is a file produced by a conversion.
type Artifact struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	MediaType string `json:"media_type,omitempty"`
	Page      int    `json:"page,omitempty"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
	Caption   string `json:"caption,omitempty"`
}

// Chunk is a retrieval-sized slice of the converted document.
type Chunk struct {
	Index    int      `json:"index"`
	Text     string   `json:"text"`
	Headings []string `json:"headings,omitempty"`
	Pages    []int    `json:"pages,omitempty"`
	Tokens   int      `json:"tokens,omitempty"`
}

// ConversionResult is the payload of a completed job.
type ConversionResult struct {
	Exports    map[ExportFormat]Artifact `json:"exports"`
	Images     []Artifact                `json:"images,omitempty"`
	Tables     []Artifact                `json:"tables,omitempty"`
	Chunks     []Chunk                   `json:"chunks,omitempty"`
	Confidence float64                   `json:"confidence"`
	PageCount  int                       `json:"page_count,omitempty"`
}

// ExportFormats returns the available export format identifiers in sorted order.
func (r *ConversionResult) ExportFormats() []ExportFormat {
	if r == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(r.Exports))
}

// Clone returns a deep copy of the result.
func (r *ConversionResult) Clone() *ConversionResult {
	if r == nil {
		return nil
	}
	c := &ConversionResult{
		Exports:    maps.Clone(r.Exports),
		Images:     slices.Clone(r.Images),
		Tables:     slices.Clone(r.Tables),
		Confidence: r.Confidence,
		PageCount:  r.PageCount,
	}
	if r.Chunks != nil {
		c.Chunks = make([]Chunk, len(r.Chunks))
		for i, ch := range r.Chunks {
			ch.Headings = slices.Clone(ch.Headings)
			ch.Pages = slices.Clone(ch.Pages)
			c.Chunks[i] = ch
		}
	}
	return c
}

// Descriptor describes a submission before it becomes a Job.
type Descriptor struct {
	Filename  string
	Format    InputFormat
	InputPath string
	OutputDir string
	SizeBytes int64
	SessionID string
	Settings  ConversionSettings
}

// Job is the record tracking one conversion request.
type Job struct {
	ID        string      `gorm:"primaryKey;size:36" json:"id"`
	Status    JobStatus   `gorm:"index;size:20;default:'pending'" json:"status"`
	Progress  int         `gorm:"default:0" json:"progress"`
	Message   string      `gorm:"size:512" json:"message"`
	Filename  string      `gorm:"index;size:512;not null" json:"filename"`
	Format    InputFormat `gorm:"index;size:20" json:"format"`
	SizeBytes int64       `json:"size_bytes"`
	SessionID string      `gorm:"index;size:255" json:"session_id,omitempty"`
	InputPath string      `gorm:"type:text" json:"-"`
	OutputDir string      `gorm:"type:text" json:"-"`

	Settings ConversionSettings `gorm:"serializer:json;type:text" json:"settings"`
	Result   *ConversionResult  `gorm:"serializer:json;type:text" json:"result,omitempty"`

	// Confidence is denormalised from Result for history queries.
	Confidence float64 `json:"confidence,omitempty"`

	Error     string      `gorm:"type:text" json:"error,omitempty"`
	ErrorKind FailureKind `gorm:"size:32" json:"error_kind,omitempty"`

	SubmittedAt time.Time  `gorm:"index" json:"submitted_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `gorm:"index" json:"completed_at,omitempty"`
	DurationMS  int64      `json:"duration_ms,omitempty"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName keeps the history table name stable regardless of naming strategy.
func (Job) TableName() string { return "conversion_jobs" }

// Snapshot returns a deep copy safe to hand to readers.
func (j *Job) Snapshot() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.Settings = j.Settings.Clone()
	c.Result = j.Result.Clone()
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Cancelled reports whether the job ended through cancellation.
func (j *Job) Cancelled() bool {
	return j.Status == StatusFailed && j.ErrorKind == FailureCancelled
}
