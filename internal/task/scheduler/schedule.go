package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"
)

// newCronParser returns the parser shared by registration and recompute.
// SecondOptional allows both 5-field and 6-field (with seconds) expressions;
// Descriptor allows "@hourly"-style shortcuts.
func newCronParser() cron.Parser {
	return cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
}

// NextFixedInterval computes an interval task's next fire time. A task that
// has fired before re-fires at lastFire + interval, keeping the cadence
// anchored to the scheduled grid even when the loop wakes late. A task that
// has never fired starts at start + initialDelay, or start + interval when
// no initial delay is configured.
func NextFixedInterval(start, lastFire time.Time, interval, initialDelay time.Duration) time.Time {
	if lastFire.IsZero() {
		if initialDelay > 0 {
			return start.Add(initialDelay)
		}
		return start.Add(interval)
	}
	return lastFire.Add(interval)
}

// NextCronFire returns the earliest instant strictly after `after` matching
// expr. The expression is re-parsed on every call: registration already
// validated it, but recompute re-validates defensively and reports a
// *ScheduleError instead of trusting stale state.
func NextCronFire(p cron.Parser, task, expr string, after time.Time) (time.Time, error) {
	sched, err := p.Parse(expr)
	if err != nil {
		return time.Time{}, &ScheduleError{Task: task, Expr: expr, Err: err}
	}
	return sched.Next(after), nil
}
