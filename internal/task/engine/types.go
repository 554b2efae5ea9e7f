package engine

import (
	"context"
	"sync"
	"time"
)

// Outcome classifies how a run ended.
//
// A timed-out run counts as a failure for backoff purposes but keeps its own
// tag so operators can tell "too slow" apart from "broken".
type Outcome string

const (
	// OutcomeNone marks a task that has not completed a run yet.
	OutcomeNone     Outcome = "none"
	OutcomeSuccess  Outcome = "success"
	OutcomeFailure  Outcome = "failure"
	OutcomeTimedOut Outcome = "timed-out"
	// OutcomeSkipped records a fire that was dropped because the previous
	// run still held the task's slot. Skips are informational, not errors.
	OutcomeSkipped Outcome = "skipped"
)

// Failed reports whether the outcome counts toward the consecutive-failure
// ceiling. Skips are neutral: they neither extend nor reset a failure streak.
func (o Outcome) Failed() bool { return o == OutcomeFailure || o == OutcomeTimedOut }

// Job is one unit of work dispatched by the scheduler loop.
type Job struct {
	Name    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// Result is the terminal verdict of one dispatch, delivered exactly once.
// For a timed-out run it is delivered when the deadline passes, not when the
// abandoned work eventually returns; a late completion never revises it.
type Result struct {
	Task     string
	Outcome  Outcome
	Started  time.Time
	Duration time.Duration
	Err      error
}

// Event is the run record published on the bus and mirrored into logs.
// It is shaped for persistence: the app layer writes it to job_runs as-is.
type Event struct {
	Task       string    `json:"task"`
	Outcome    Outcome   `json:"outcome"`
	At         time.Time `json:"at"`
	DurationMS int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
}

// Slot gates a task to at most one in-flight run. The scheduler loop acquires
// it before dispatch; the runner releases it when the work function actually
// returns. An abandoned (timed-out) run therefore keeps blocking re-dispatch
// until it truly finishes.
type Slot struct {
	mu   sync.Mutex
	held bool
}

// TryAcquire claims the slot if it is free.
func (s *Slot) TryAcquire() bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.held {
		return false
	}
	s.held = true
	return true
}

// Release frees the slot. Releasing a free slot is a no-op.
func (s *Slot) Release() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.held = false
	s.mu.Unlock()
}
