// Package stats records per-minute conversion statistics.
//
// A Collector listens to queue events, accumulates completed, failed and
// cancelled counters per input format, snapshots queue depth once per
// interval and writes everything to a Storage. The GORM implementation keeps
// one row per (format, minute).
package stats
