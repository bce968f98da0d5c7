// Package security provides validation, sanitization, and limits for docflow.
//
// This package includes:
//   - Upload validation: file names, sizes and input format detection
//   - Session identifier validation for settings storage
//   - Path joining that refuses to escape a job's output directory
//   - Error message sanitization before persistence
//   - Clamping functions to enforce safe limits on concurrency and page sizes
package security
