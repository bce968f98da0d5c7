// Package context provides internal context helpers for job execution.
//
// This package is internal and should not be imported directly.
// It carries the job identity and the progress reporter from the
// execution unit down into the conversion engine.
package context
