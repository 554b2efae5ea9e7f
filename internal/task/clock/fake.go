package clock

import (
	"runtime"
	"sort"
	"sync"
	"time"
)

// Fake is a manual clock. Time only moves when Advance is called.
//
// Timers fire in deadline order, and each timer observes a "now" equal to its
// own deadline, so a sequence of fires behaves like real time passing. Between
// fires the goroutine scheduler is yielded so waiters can re-arm; tests that
// depend on work completing should still poll their own observable state.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) NewTimer(d time.Duration) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTimer{clk: f, ch: make(chan time.Time, 1), at: f.now.Add(d)}
	if d <= 0 {
		// Match time.NewTimer: non-positive durations fire immediately.
		t.fired = true
		t.ch <- f.now
		return t
	}
	f.timers = append(f.timers, t)
	return t
}

// Advance moves the clock forward by d, firing every timer whose deadline is
// reached, in deadline order.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	for {
		t := f.popDueLocked(target)
		if t == nil {
			break
		}
		if t.at.After(f.now) {
			f.now = t.at
		}
		t.fired = true
		t.ch <- f.now // cap 1, fires at most once; never blocks
		// Yield so the timer's consumer can run (and possibly re-arm)
		// before the next due timer fires.
		f.mu.Unlock()
		runtime.Gosched()
		f.mu.Lock()
	}
	if target.After(f.now) {
		f.now = target
	}
	f.mu.Unlock()
}

// popDueLocked removes and returns the earliest timer with deadline <= target.
func (f *Fake) popDueLocked(target time.Time) *fakeTimer {
	if len(f.timers) == 0 {
		return nil
	}
	sort.SliceStable(f.timers, func(i, j int) bool {
		return f.timers[i].at.Before(f.timers[j].at)
	})
	t := f.timers[0]
	if t.at.After(target) {
		return nil
	}
	f.timers = f.timers[1:]
	return t
}

func (f *Fake) removeLocked(t *fakeTimer) bool {
	for i, cur := range f.timers {
		if cur == t {
			f.timers = append(f.timers[:i], f.timers[i+1:]...)
			return true
		}
	}
	return false
}

// Pending reports how many timers are armed. Intended for tests.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timers)
}

type fakeTimer struct {
	clk   *Fake
	ch    chan time.Time
	at    time.Time
	fired bool
}

func (t *fakeTimer) C() <-chan time.Time { return t.ch }

func (t *fakeTimer) Stop() bool {
	t.clk.mu.Lock()
	defer t.clk.mu.Unlock()
	if t.fired {
		return false
	}
	return t.clk.removeLocked(t)
}
