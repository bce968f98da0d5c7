// Package schedule provides recurring schedules and a small task scheduler
// used for maintenance work.
//
// This package includes:
//   - Schedule interface for defining recurring times
//   - Every() for fixed-interval schedules
//   - Daily() for daily schedules at a specific time
//   - Weekly() for weekly schedules on a specific day and time
//   - Cron() for cron expression-based schedules
//   - Parse() for schedules given as configuration strings
//   - Scheduler, which runs named tasks on their schedules
package schedule
