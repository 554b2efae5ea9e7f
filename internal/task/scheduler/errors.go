package scheduler

import "fmt"

// ConfigError reports an invalid task descriptor or registration. It is
// fatal at startup: a descriptor that fails validation is never retried.
type ConfigError struct {
	Task   string
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Task == "" {
		return fmt.Sprintf("scheduler config: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("task %q: %s: %s", e.Task, e.Field, e.Reason)
}

// ScheduleError reports a cron expression that failed to evaluate. The
// registry validates expressions up front, so hitting this during recompute
// means the descriptor was corrupted; the task is disabled and reported, and
// the rest of the schedule keeps running.
type ScheduleError struct {
	Task string
	Expr string
	Err  error
}

func (e *ScheduleError) Error() string {
	return fmt.Sprintf("task %q: cron %q: %v", e.Task, e.Expr, e.Err)
}

func (e *ScheduleError) Unwrap() error { return e.Err }

// AlreadyRunningError is returned by Start when the scheduler is already
// running with a different configuration. Start with an identical
// configuration is an idempotent no-op.
type AlreadyRunningError struct{}

func (e *AlreadyRunningError) Error() string {
	return "scheduler already running with a different configuration"
}
