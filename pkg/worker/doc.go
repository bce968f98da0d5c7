// Package worker provides the execution unit for conversion jobs.
//
// This package includes:
//   - Unit: runs one job against the engine on its own goroutine
//   - Timeout and cancellation handling with a bounded abandon grace
//   - Panic trapping, so an engine crash becomes an internal_fault outcome
//   - Estimated progress milestones for engines that report nothing
//   - Retry with exponential backoff, used for persisting terminal records
//
// Units are driven by the queue in pkg/queue; most users never call Run directly.
package worker
