// Package core provides the fundamental types and interfaces for docflow.
//
// This package contains:
//   - Job, the record tracking one conversion request, and its status machine
//   - ConversionSettings and per-request overrides
//   - HistoryStore and SettingsStore persistence contracts
//   - Event types for queue monitoring
//   - Error types for submission, query and execution failures
//
// Most users should import the root package github.com/jdziat/docflow
// instead of this package directly.
package core
