package core

import (
	"errors"
	"fmt"
)

// Submission and query errors. These are returned synchronously to callers.
var (
	ErrInvalidSubmission  = errors.New("docflow: invalid submission")
	ErrNotFound           = errors.New("docflow: job not found")
	ErrNotReady           = errors.New("docflow: job result not ready")
	ErrQueueClosed        = errors.New("docflow: queue closed")
	ErrInvalidTransition  = errors.New("docflow: invalid status transition")
	ErrUnsupportedFormat  = errors.New("docflow: unsupported input format")
	ErrFileTooLarge       = errors.New("docflow: file exceeds size limit")
	ErrEmptyFile          = errors.New("docflow: file is empty")
	ErrInvalidFilename    = errors.New("docflow: invalid filename")
	ErrInvalidSettings    = errors.New("docflow: invalid settings")
	ErrInvalidSessionID   = errors.New("docflow: invalid session id")
	ErrArtifactNotFound   = errors.New("docflow: artifact not found")
	ErrConversionFailed   = errors.New("docflow: conversion failed")
	ErrInvalidArtifactDir = errors.New("docflow: artifact outside output directory")
)

// ConversionError is an execution-time failure recorded on a job.
// Every kind matches ErrConversionFailed under errors.Is.
type ConversionError struct {
	Kind FailureKind
	Err  error
}

func (e *ConversionError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

func (e *ConversionError) Is(target error) bool {
	return target == ErrConversionFailed
}

// Failed wraps err as a conversion failure of the given kind.
func Failed(kind FailureKind, err error) *ConversionError {
	return &ConversionError{Kind: kind, Err: err}
}

// KindOf returns the failure kind carried by err, or FailureConversion.
func KindOf(err error) FailureKind {
	var ce *ConversionError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return FailureConversion
}

// InvalidSubmission wraps a validation cause so it matches ErrInvalidSubmission.
func InvalidSubmission(cause error) error {
	return fmt.Errorf("%w: %w", ErrInvalidSubmission, cause)
}
