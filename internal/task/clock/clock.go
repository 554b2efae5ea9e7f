// Package clock abstracts wall-clock scheduling primitives so schedule
// computations can run under a deterministic manual clock in tests.
package clock

import "time"

// Clock provides the current instant and timer construction.
//
// All scheduler sleeping and deadline arithmetic goes through a Clock;
// production code uses System(), tests use NewFake().
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) Timer
}

// Timer is the subset of time.Timer the scheduler needs.
type Timer interface {
	C() <-chan time.Time
	// Stop reports whether the timer was still pending.
	// It does not drain the channel.
	Stop() bool
}

// System returns the wall-clock implementation.
func System() Clock { return systemClock{} }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) NewTimer(d time.Duration) Timer {
	return &systemTimer{t: time.NewTimer(d)}
}

type systemTimer struct{ t *time.Timer }

func (st *systemTimer) C() <-chan time.Time { return st.t.C }
func (st *systemTimer) Stop() bool          { return st.t.Stop() }
