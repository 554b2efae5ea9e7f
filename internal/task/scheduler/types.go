package scheduler

import (
	"context"
	"time"

	"github.com/Qais-Hweidi/Burroughs-Alert-sub002/internal/task/engine"
)

// Config controls the scheduler service. The zero value is disabled; the
// failure ceiling and backoff delay fall back to defaults when unset.
type Config struct {
	Enabled bool

	// FailureCeiling is the consecutive-failure count at which a task
	// transitions to backing-off. <= 0 applies the default of 3.
	FailureCeiling int

	// BackoffDelay is added on top of a task's normal schedule once it trips
	// the ceiling. <= 0 applies the default of 5m.
	BackoffDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.FailureCeiling <= 0 {
		c.FailureCeiling = 3
	}
	if c.BackoffDelay <= 0 {
		c.BackoffDelay = 5 * time.Minute
	}
	return c
}

// Descriptor is the static definition of one recurring task. Descriptors are
// registered before Start and are immutable afterwards; all mutable state
// lives in the per-task run state owned by the loop.
//
// Exactly one trigger policy must be set: Interval (with optional
// InitialDelay) or Cron (standard five-field expression, optional seconds
// field, @-descriptors accepted).
type Descriptor struct {
	Name string

	Interval     time.Duration
	InitialDelay time.Duration
	Cron         string

	// Timeout bounds each run; the runner abandons work that exceeds it.
	Timeout time.Duration

	// FailureCeiling and BackoffDelay override the scheduler-wide policy for
	// this task. Zero means inherit.
	FailureCeiling int
	BackoffDelay   time.Duration

	Enabled bool

	Run func(ctx context.Context) error
}

// State is a task's position in the scheduling state machine.
type State string

const (
	StateIdle       State = "idle"
	StateRunning    State = "running"
	StateBackingOff State = "backing-off"
)

// TaskStatus is a point-in-time copy of one task's run state.
type TaskStatus struct {
	Name        string         `json:"name"`
	State       State          `json:"state"`
	Disabled    bool           `json:"disabled"`
	NextFire    time.Time      `json:"next_fire"`
	LastFire    time.Time      `json:"last_fire"`
	LastOutcome engine.Outcome `json:"last_outcome"`
	Failures    int            `json:"failures"`
	Skips       uint64         `json:"skips"`
}

// Snapshot is returned by Status. Tasks appear in registration order.
type Snapshot struct {
	Running  bool         `json:"running"`
	InFlight int          `json:"in_flight"`
	Tasks    []TaskStatus `json:"tasks"`
}

// StopReport summarizes a shutdown: how long Stop waited for in-flight runs
// and which tasks were still mid-run when the grace period expired.
type StopReport struct {
	Waited    time.Duration
	Abandoned []string
}

// taskState is the mutable run state for one registered task. All fields are
// guarded by the service mutex; the loop and result callbacks never touch
// them without it.
type taskState struct {
	desc    Descriptor
	slot    *engine.Slot
	ceiling int
	backoff time.Duration

	state       State
	disabled    bool
	nextFire    time.Time
	lastFire    time.Time
	lastOutcome engine.Outcome
	failures    int
	skips       uint64
}
