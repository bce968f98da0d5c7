// Package queue provides the bounded conversion job queue.
//
// This package includes:
//   - Queue: owns every in-flight job record and the FIFO pending list
//   - Option: capacity, timeout and persistence configuration
//   - Hook registration for job lifecycle events
//   - Event subscription for monitoring
//
// At most Capacity jobs are processing at any moment. Jobs are admitted in
// submission order. Every terminal record is pushed to the history store.
//
// Most users should import the root package github.com/jdziat/docflow
// which re-exports Queue and all option functions.
package queue
