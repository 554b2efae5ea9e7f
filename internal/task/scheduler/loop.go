package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/Qais-Hweidi/Burroughs-Alert-sub002/internal/eventbus"
	"github.com/Qais-Hweidi/Burroughs-Alert-sub002/internal/task/engine"
	logx "github.com/Qais-Hweidi/Burroughs-Alert-sub002/pkg/logx"
)

// runLoop is the coordinating loop: dispatch everything due, sleep until the
// earliest next fire, repeat. It exits on Stop or context cancellation; a
// panic is recovered into loopErr so a supervisor can restart the
// orchestrator instead of the process dying.
func (s *Service) runLoop(ctx context.Context, done chan struct{}) {
	s.mu.Lock()
	stopCh, wake := s.stopCh, s.wakeCh
	s.mu.Unlock()

	defer func() {
		if p := recover(); p != nil {
			s.log.Error("scheduler loop panic", logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
			s.finishLoop(fmt.Errorf("scheduler loop panic: %v", p))
		} else {
			s.finishLoop(nil)
		}
		close(done)
	}()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		s.mu.Lock()
		now := s.clk.Now()
		s.dispatchDueLocked(now)
		next, ok := s.earliestLocked()
		s.mu.Unlock()

		if !ok {
			// Nothing schedulable; wait for a state change or shutdown.
			select {
			case <-stopCh:
				return
			case <-ctx.Done():
				return
			case <-wake:
			}
			continue
		}

		d := next.Sub(s.clk.Now())
		if d <= 0 {
			continue
		}
		tmr := s.clk.NewTimer(d)
		select {
		case <-stopCh:
			tmr.Stop()
			return
		case <-ctx.Done():
			tmr.Stop()
			return
		case <-wake:
			tmr.Stop()
		case <-tmr.C():
		}
	}
}

func (s *Service) finishLoop(err error) {
	s.mu.Lock()
	s.loopErr = err
	if err != nil {
		// Crash: clear running so a supervisor restart can Start again.
		s.running = false
	}
	s.mu.Unlock()
}

// dispatchDueLocked fires every enabled task whose next-fire time has been
// reached, in registration order (the deterministic tie-break for tasks due
// at the same instant). Each dispatch advances nextFire before the run
// starts: the slot, not the clock, is what gates overlap.
func (s *Service) dispatchDueLocked(now time.Time) {
	for _, t := range s.tasks {
		if t.disabled || !t.desc.Enabled {
			continue
		}
		if t.nextFire.IsZero() || t.nextFire.After(now) {
			continue
		}
		fire := t.nextFire
		if !t.slot.TryAcquire() {
			t.skips++
			s.rescheduleSkipLocked(t, fire, now)
			s.log.Debug("task.skipped", logx.String("task", t.desc.Name), logx.Time("missed", fire), logx.Time("next", t.nextFire))
			s.publish("task.skipped", now, engine.Event{Task: t.desc.Name, Outcome: engine.OutcomeSkipped, At: now})
			continue
		}
		t.state = StateRunning
		t.lastFire = fire
		s.rescheduleFiredLocked(t, fire, now)
		s.inFlight++
		gen := s.gen
		job := engine.Job{Name: t.desc.Name, Timeout: t.desc.Timeout, Run: t.desc.Run}
		go s.runner.Execute(s.runCtx, job, t.slot, func(res engine.Result) { s.onResult(gen, res) })
	}
}

// rescheduleFiredLocked advances nextFire after a dispatch. Interval tasks
// stay on the scheduled grid (fire + interval) even when the loop woke late;
// cron tasks take the next occurrence after now.
func (s *Service) rescheduleFiredLocked(t *taskState, fire, now time.Time) {
	if t.desc.Cron != "" {
		s.rescheduleCronLocked(t, now)
		return
	}
	t.nextFire = NextFixedInterval(s.startAt, fire, t.desc.Interval, t.desc.InitialDelay)
}

// rescheduleSkipLocked advances nextFire after an overlap skip: one normal
// interval past the missed slot, so a slow run never causes
// faster-than-configured re-triggering. Cron tasks take the next occurrence
// after now.
func (s *Service) rescheduleSkipLocked(t *taskState, missed, now time.Time) {
	if t.desc.Cron != "" {
		s.rescheduleCronLocked(t, now)
		return
	}
	t.nextFire = missed.Add(t.desc.Interval)
}

func (s *Service) rescheduleCronLocked(t *taskState, after time.Time) {
	next, err := NextCronFire(s.parser, t.desc.Name, t.desc.Cron, after)
	if err != nil {
		t.disabled = true
		s.log.Error("task disabled: cron evaluation failed", logx.String("task", t.desc.Name), logx.String("cron", t.desc.Cron), logx.Any("err", err))
		return
	}
	t.nextFire = next
}

// earliestLocked returns the minimum next-fire time over schedulable tasks.
func (s *Service) earliestLocked() (time.Time, bool) {
	var next time.Time
	for _, t := range s.tasks {
		if t.disabled || !t.desc.Enabled || t.nextFire.IsZero() {
			continue
		}
		if next.IsZero() || t.nextFire.Before(next) {
			next = t.nextFire
		}
	}
	return next, !next.IsZero()
}

// onResult applies a run verdict to the task's state machine. It runs on a
// runner goroutine, so it mutates only under the service mutex and nudges
// the loop instead of touching timers itself. Verdicts from a previous
// incarnation (gen mismatch after a supervisor restart) are dropped: a
// restart begins every schedule fresh.
func (s *Service) onResult(gen uint64, res engine.Result) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	t := s.byName[res.Task]
	if t == nil {
		s.mu.Unlock()
		return
	}
	if s.inFlight > 0 {
		s.inFlight--
	}
	t.lastOutcome = res.Outcome
	switch {
	case res.Outcome == engine.OutcomeSuccess:
		t.failures = 0
		t.state = StateIdle
	case res.Outcome.Failed():
		t.failures++
		if t.failures >= t.ceiling {
			// Ceiling reached: rest for the backoff delay on top of the
			// normal schedule. Every further failure extends the rest again.
			t.state = StateBackingOff
			t.nextFire = t.nextFire.Add(t.backoff)
			s.log.Warn("task backing off",
				logx.String("task", t.desc.Name),
				logx.Int("failures", t.failures),
				logx.Time("next", t.nextFire))
		} else {
			t.state = StateIdle
		}
	default:
		t.state = StateIdle
	}
	wake, idle := s.wakeCh, s.idleCh
	s.mu.Unlock()

	select {
	case idle <- struct{}{}:
	default:
	}
	select {
	case wake <- struct{}{}:
	default:
	}
}

func (s *Service) publish(typ string, at time.Time, ev engine.Event) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: at, Data: ev})
}
