// Package scheduler coordinates the daemon's recurring background jobs
// (scraping, health checks, retention cleanup).
//
// It is built around a single control loop that:
//   - registers task descriptors (interval or cron trigger, per-run timeout)
//   - computes each task's next fire time
//   - sleeps until the earliest one, then dispatches due tasks to the runner
//   - applies consecutive-failure backoff and overlap skipping per task
//
// All timing goes through an injectable clock, so every scheduling decision
// can be driven deterministically in tests without real sleeping.
package scheduler
