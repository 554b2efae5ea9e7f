// Package health implements the periodic liveness probe: ping the store,
// remember the result for the ops endpoint, and strobe the process watchdog
// while things look good.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	logx "github.com/Qais-Hweidi/Burroughs-Alert-sub002/pkg/logx"
)

// Pinger is the slice of the storage API the probe needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Watchdog gets a kick on every healthy probe. Under systemd this maps to
// WATCHDOG=1, so a wedged daemon stops strobing and gets restarted from
// outside. A nil Watchdog is fine.
type Watchdog interface {
	Kick()
}

// Result is the latest probe outcome, served by /healthz.
type Result struct {
	At      time.Time `json:"at"`
	Healthy bool      `json:"healthy"`
	Error   string    `json:"error,omitempty"`
}

type Task struct {
	store Pinger
	wd    Watchdog
	log   logx.Logger

	mu   sync.Mutex
	last Result
}

func New(store Pinger, wd Watchdog, log logx.Logger) *Task {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Task{store: store, wd: wd, log: log}
}

// Run performs one probe. A failed ping is returned as the task error so
// the scheduler counts it toward the failure ceiling.
func (t *Task) Run(ctx context.Context) error {
	err := t.store.Ping(ctx)
	res := Result{At: time.Now(), Healthy: err == nil}
	if err != nil {
		res.Error = err.Error()
	}

	t.mu.Lock()
	t.last = res
	t.mu.Unlock()

	if err != nil {
		return fmt.Errorf("store ping: %w", err)
	}
	if t.wd != nil {
		t.wd.Kick()
	}
	t.log.Debug("health check ok")
	return nil
}

// Last returns the most recent probe result; the zero Result means the
// probe has not run yet.
func (t *Task) Last() Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}
