package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/Qais-Hweidi/Burroughs-Alert-sub002/internal/eventbus"
	"github.com/Qais-Hweidi/Burroughs-Alert-sub002/internal/task/clock"
	logx "github.com/Qais-Hweidi/Burroughs-Alert-sub002/pkg/logx"
)

// Runner executes one dispatch and reports its terminal outcome.
//
// The runner is deliberately small: no queue, no retries. The scheduler loop
// owns cadence and backoff; the runner owns the deadline, panic containment
// and slot release.
type Runner struct {
	clk clock.Clock
	log logx.Logger
	bus eventbus.Bus
}

func NewRunner(clk clock.Clock, log logx.Logger, bus eventbus.Bus) *Runner {
	if clk == nil {
		clk = clock.System()
	}
	return &Runner{clk: clk, log: log, bus: bus}
}

// Execute runs job in the calling goroutine and blocks until a terminal
// outcome exists: the work returned, or the deadline passed. onDone is
// invoked exactly once with that outcome.
//
// slot must already be held by the caller. Execute releases it when the work
// function actually returns; for a timed-out run that happens in a
// background waiter after onDone has fired, so the task stays gated while
// the abandoned work keeps going.
func (r *Runner) Execute(ctx context.Context, job Job, slot *Slot, onDone func(Result)) {
	start := r.clk.Now()

	if job.Run == nil {
		slot.Release()
		r.finish(job, Result{Task: job.Name, Outcome: OutcomeFailure, Started: start, Err: ErrNoRunFunc}, onDone)
		return
	}

	r.log.Debug("task.started", logx.String("task", job.Name))
	r.publish("task.started", start, Event{Task: job.Name, Outcome: OutcomeNone, At: start})

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		var err error
		// Convert panics to errors so one bad task can't take down the daemon.
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("panic: %v", p)
				r.log.Error("task.panic", logx.String("task", job.Name), logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
			}
			done <- err
		}()
		err = job.Run(runCtx)
	}()

	if job.Timeout <= 0 {
		err := <-done
		cancel()
		slot.Release()
		r.finish(job, r.verdict(job, start, err), onDone)
		return
	}

	tmr := r.clk.NewTimer(job.Timeout)
	select {
	case err := <-done:
		tmr.Stop()
		cancel()
		slot.Release()
		r.finish(job, r.verdict(job, start, err), onDone)
	case <-tmr.C():
		// Deadline wins. Cancel cooperatively, report timed-out now, and let
		// a background waiter release the slot once the work really returns.
		cancel()
		res := Result{
			Task:     job.Name,
			Outcome:  OutcomeTimedOut,
			Started:  start,
			Duration: job.Timeout,
			Err:      fmt.Errorf("%w after %s", ErrTimeout, job.Timeout),
		}
		r.finish(job, res, onDone)
		go r.awaitAbandoned(job, slot, start, done)
	}
}

func (r *Runner) verdict(job Job, start time.Time, err error) Result {
	res := Result{Task: job.Name, Started: start, Duration: r.clk.Now().Sub(start)}
	if res.Duration < 0 {
		res.Duration = 0
	}
	if err != nil {
		res.Outcome = OutcomeFailure
		res.Err = err
	} else {
		res.Outcome = OutcomeSuccess
	}
	return res
}

func (r *Runner) finish(job Job, res Result, onDone func(Result)) {
	at := res.Started.Add(res.Duration)
	ev := Event{Task: res.Task, Outcome: res.Outcome, At: at, DurationMS: res.Duration.Milliseconds()}
	if res.Err != nil {
		ev.Error = res.Err.Error()
	}
	switch res.Outcome {
	case OutcomeSuccess:
		if res.Duration >= 750*time.Millisecond {
			r.log.Info("task.finished", logx.String("task", res.Task), logx.Duration("dur", res.Duration))
		} else {
			r.log.Debug("task.finished", logx.String("task", res.Task), logx.Duration("dur", res.Duration))
		}
		r.publish("task.finished", at, ev)
	case OutcomeTimedOut:
		r.log.Warn("task.timeout", logx.String("task", res.Task), logx.Duration("limit", job.Timeout), logx.Any("err", res.Err))
		r.publish("task.timeout", at, ev)
	default:
		r.log.Warn("task.failed", logx.String("task", res.Task), logx.Duration("dur", res.Duration), logx.Any("err", res.Err))
		r.publish("task.failed", at, ev)
	}
	if onDone != nil {
		onDone(res)
	}
}

// awaitAbandoned blocks until a timed-out run's work function returns, then
// releases the slot. The verdict recorded at the deadline stands; the late
// completion is only logged so operators can see how far over budget the
// task really went.
func (r *Runner) awaitAbandoned(job Job, slot *Slot, start time.Time, done <-chan error) {
	err := <-done
	slot.Release()
	now := r.clk.Now()
	dur := now.Sub(start)
	r.log.Info("task.late", logx.String("task", job.Name), logx.Duration("dur", dur), logx.Any("err", err))
	ev := Event{Task: job.Name, Outcome: OutcomeTimedOut, At: now, DurationMS: dur.Milliseconds()}
	if err != nil {
		ev.Error = err.Error()
	}
	r.publish("task.late", now, ev)
}

func (r *Runner) publish(typ string, at time.Time, ev Event) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.Event{Type: typ, Time: at, Data: ev})
}
