package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Qais-Hweidi/Burroughs-Alert-sub002/internal/eventbus"
	"github.com/Qais-Hweidi/Burroughs-Alert-sub002/internal/task/clock"
	"github.com/Qais-Hweidi/Burroughs-Alert-sub002/internal/task/engine"
	logx "github.com/Qais-Hweidi/Burroughs-Alert-sub002/pkg/logx"
)

// fireLog records the instants a work function ran, for asserting schedules.
type fireLog struct {
	mu    sync.Mutex
	times []time.Time
}

func (f *fireLog) record(ts time.Time) {
	f.mu.Lock()
	f.times = append(f.times, ts)
	f.mu.Unlock()
}

func (f *fireLog) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.times)
}

func (f *fireLog) list() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Time, len(f.times))
	copy(out, f.times)
	return out
}

// minutes returns each recorded instant as whole minutes since t0.
func (f *fireLog) minutes(t0 time.Time) []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, 0, len(f.times))
	for _, ts := range f.times {
		out = append(out, int(ts.Sub(t0)/time.Minute))
	}
	return out
}

func startScheduler(t *testing.T, clk *clock.Fake, bus eventbus.Bus, cfg Config, descs ...Descriptor) *Service {
	t.Helper()
	reg := NewRegistry()
	for _, d := range descs {
		if err := reg.Register(d); err != nil {
			t.Fatalf("Register(%q) = %v", d.Name, err)
		}
	}
	svc := New(reg, clk, logx.Nop(), bus)
	if err := svc.Start(context.Background(), cfg); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	return svc
}

// settle waits until the loop has finished dispatching (nothing in flight)
// and armed its next sleep timer. Calling Advance only from a settled state
// keeps fake-clock tests deterministic.
func settle(t *testing.T, clk *clock.Fake, svc *Service) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if svc.Status().InFlight == 0 && clk.Pending() >= 1 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("scheduler did not settle")
}

func advanceBy(t *testing.T, clk *clock.Fake, svc *Service, step, total time.Duration) {
	t.Helper()
	for elapsed := time.Duration(0); elapsed < total; elapsed += step {
		clk.Advance(step)
		settle(t, clk, svc)
	}
}

func waitStatus(t *testing.T, svc *Service, what string, cond func(Snapshot) bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond(svc.Status()) {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s; status %+v", what, svc.Status())
}

func taskByName(s Snapshot, name string) TaskStatus {
	for _, ts := range s.Tasks {
		if ts.Name == name {
			return ts
		}
	}
	return TaskStatus{}
}

func TestIntervalTaskFiresOnGrid(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clk := clock.NewFake(t0)
	var fires fireLog
	svc := startScheduler(t, clk, nil, Config{Enabled: true}, Descriptor{
		Name:         "scraper",
		Interval:     45 * time.Minute,
		InitialDelay: 5 * time.Minute,
		Timeout:      24 * time.Hour,
		Enabled:      true,
		Run: func(ctx context.Context) error {
			fires.record(clk.Now())
			return nil
		},
	})
	defer svc.Stop(0)

	settle(t, clk, svc)
	advanceBy(t, clk, svc, 5*time.Minute, 95*time.Minute)

	want := []time.Time{
		t0.Add(5 * time.Minute),
		t0.Add(50 * time.Minute),
		t0.Add(95 * time.Minute),
	}
	got := fires.list()
	if len(got) != len(want) {
		t.Fatalf("fires = %d, want %d (%v)", len(got), len(want), got)
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Fatalf("fire[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	st := taskByName(svc.Status(), "scraper")
	if !st.NextFire.Equal(t0.Add(140 * time.Minute)) {
		t.Fatalf("NextFire = %v, want %v", st.NextFire, t0.Add(140*time.Minute))
	}
	if st.LastOutcome != engine.OutcomeSuccess || st.State != StateIdle {
		t.Fatalf("status = %+v, want idle/success", st)
	}
}

func TestCronTaskFiresAtBoundary(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2025, 6, 1, 1, 30, 0, 0, time.UTC)
	clk := clock.NewFake(t0)
	var fires fireLog
	svc := startScheduler(t, clk, nil, Config{Enabled: true}, Descriptor{
		Name:    "cleanup",
		Cron:    "0 2 * * *",
		Timeout: 24 * time.Hour,
		Enabled: true,
		Run: func(ctx context.Context) error {
			fires.record(clk.Now())
			return nil
		},
	})
	defer svc.Stop(0)

	settle(t, clk, svc)
	st := taskByName(svc.Status(), "cleanup")
	if want := time.Date(2025, 6, 1, 2, 0, 0, 0, time.UTC); !st.NextFire.Equal(want) {
		t.Fatalf("initial NextFire = %v, want %v", st.NextFire, want)
	}

	advanceBy(t, clk, svc, 30*time.Minute, 30*time.Minute) // to 02:00
	advanceBy(t, clk, svc, time.Hour, 24*time.Hour)        // through next day 02:00

	want := []time.Time{
		time.Date(2025, 6, 1, 2, 0, 0, 0, time.UTC),
		time.Date(2025, 6, 2, 2, 0, 0, 0, time.UTC),
	}
	got := fires.list()
	if len(got) != len(want) {
		t.Fatalf("fires = %v, want %v", got, want)
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Fatalf("fire[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestOverlapSkipKeepsSingleFlight(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clk := clock.NewFake(t0)
	bus := eventbus.New()
	events, unsub := bus.Subscribe(32)
	defer unsub()

	release := make(chan struct{})
	var active atomic.Int32
	var runs atomic.Int32
	svc := startScheduler(t, clk, bus, Config{Enabled: true}, Descriptor{
		Name:     "slow",
		Interval: 10 * time.Minute,
		Timeout:  24 * time.Hour,
		Enabled:  true,
		Run: func(ctx context.Context) error {
			if active.Add(1) != 1 {
				t.Errorf("overlapping execution detected")
			}
			defer active.Add(-1)
			runs.Add(1)
			select {
			case <-release:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
	defer svc.Stop(0)

	settle(t, clk, svc)
	clk.Advance(10 * time.Minute) // first fire, run blocks
	waitStatus(t, svc, "task running", func(s Snapshot) bool {
		return taskByName(s, "slow").State == StateRunning
	})

	clk.Advance(10 * time.Minute) // second slot while still running: skip
	waitStatus(t, svc, "overlap skip", func(s Snapshot) bool {
		return taskByName(s, "slow").Skips == 1
	})

	st := taskByName(svc.Status(), "slow")
	if want := t0.Add(30 * time.Minute); !st.NextFire.Equal(want) {
		t.Fatalf("NextFire after skip = %v, want missed slot + one interval (%v)", st.NextFire, want)
	}
	if st.LastOutcome != engine.OutcomeNone {
		t.Fatalf("LastOutcome after skip = %q, want %q (skips never overwrite outcomes)", st.LastOutcome, engine.OutcomeNone)
	}

	close(release)
	waitStatus(t, svc, "run completion", func(s Snapshot) bool {
		ts := taskByName(s, "slow")
		return s.InFlight == 0 && ts.State == StateIdle && ts.LastOutcome == engine.OutcomeSuccess
	})

	clk.Advance(10 * time.Minute) // minute 30: fires normally again
	waitStatus(t, svc, "second run", func(s Snapshot) bool { return runs.Load() == 2 })

	if got := taskByName(svc.Status(), "slow").Skips; got != 1 {
		t.Fatalf("Skips = %d, want 1", got)
	}

	// The skip is observable on the bus as a distinct, non-error record.
	sawSkip := false
	for !sawSkip {
		select {
		case e := <-events:
			if e.Type == "task.skipped" {
				rec := e.Data.(engine.Event)
				if rec.Task != "slow" || rec.Outcome != engine.OutcomeSkipped {
					t.Fatalf("skip record = %+v", rec)
				}
				sawSkip = true
			}
		case <-time.After(2 * time.Second):
			t.Fatal("no task.skipped event on the bus")
		}
	}
}

func TestFailureCeilingTripsBackoff(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clk := clock.NewFake(t0)
	var failing atomic.Bool
	failing.Store(true)
	var runs atomic.Int32
	svc := startScheduler(t, clk, nil,
		Config{Enabled: true, FailureCeiling: 3, BackoffDelay: 30 * time.Minute},
		Descriptor{
			Name:     "flaky",
			Interval: 10 * time.Minute,
			Timeout:  24 * time.Hour,
			Enabled:  true,
			Run: func(ctx context.Context) error {
				runs.Add(1)
				if failing.Load() {
					return errors.New("source down")
				}
				return nil
			},
		})
	defer svc.Stop(0)

	settle(t, clk, svc)
	advanceBy(t, clk, svc, 10*time.Minute, 20*time.Minute) // two failures

	st := taskByName(svc.Status(), "flaky")
	if st.Failures != 2 || st.State != StateIdle {
		t.Fatalf("below ceiling: %+v, want 2 failures and idle", st)
	}

	advanceBy(t, clk, svc, 10*time.Minute, 10*time.Minute) // third failure trips

	st = taskByName(svc.Status(), "flaky")
	if st.State != StateBackingOff || st.Failures != 3 {
		t.Fatalf("at ceiling: %+v, want backing-off with 3 failures", st)
	}
	if want := t0.Add(70 * time.Minute); !st.NextFire.Equal(want) {
		t.Fatalf("NextFire = %v, want normal slot + backoff (%v)", st.NextFire, want)
	}

	// Nothing fires while resting.
	advanceBy(t, clk, svc, 10*time.Minute, 30*time.Minute)
	if got := runs.Load(); got != 3 {
		t.Fatalf("runs during backoff = %d, want 3", got)
	}

	failing.Store(false)
	advanceBy(t, clk, svc, 10*time.Minute, 10*time.Minute) // minute 70: recovery attempt

	st = taskByName(svc.Status(), "flaky")
	if st.State != StateIdle || st.Failures != 0 || st.LastOutcome != engine.OutcomeSuccess {
		t.Fatalf("after recovery: %+v, want idle with counter reset", st)
	}
	if want := t0.Add(80 * time.Minute); !st.NextFire.Equal(want) {
		t.Fatalf("NextFire after recovery = %v, want normal cadence (%v)", st.NextFire, want)
	}
	if got := runs.Load(); got != 4 {
		t.Fatalf("total runs = %d, want 4", got)
	}
}

func TestPerTaskBackoffOverride(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clk := clock.NewFake(t0)
	svc := startScheduler(t, clk, nil,
		Config{Enabled: true, FailureCeiling: 5, BackoffDelay: 5 * time.Minute},
		Descriptor{
			Name:           "fragile",
			Interval:       10 * time.Minute,
			Timeout:        24 * time.Hour,
			FailureCeiling: 1,
			BackoffDelay:   time.Hour,
			Enabled:        true,
			Run: func(ctx context.Context) error {
				return errors.New("always broken")
			},
		})
	defer svc.Stop(0)

	settle(t, clk, svc)
	advanceBy(t, clk, svc, 10*time.Minute, 10*time.Minute)

	st := taskByName(svc.Status(), "fragile")
	if st.State != StateBackingOff || st.Failures != 1 {
		t.Fatalf("status = %+v, want backing-off after a single failure", st)
	}
	if want := t0.Add(20*time.Minute + time.Hour); !st.NextFire.Equal(want) {
		t.Fatalf("NextFire = %v, want %v", st.NextFire, want)
	}
}

func TestTimeoutCountsTowardCeiling(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clk := clock.NewFake(t0)
	svc := startScheduler(t, clk, nil,
		Config{Enabled: true, FailureCeiling: 2, BackoffDelay: 30 * time.Minute},
		Descriptor{
			Name:     "stuck",
			Interval: 10 * time.Minute,
			Timeout:  time.Minute,
			Enabled:  true,
			Run: func(ctx context.Context) error {
				<-ctx.Done() // never finishes on its own
				return ctx.Err()
			},
		})
	defer svc.Stop(0)

	settle(t, clk, svc)
	clk.Advance(10 * time.Minute) // fire; run blocks
	waitStatus(t, svc, "run in flight", func(s Snapshot) bool { return s.InFlight == 1 })
	waitFakeTimers(t, clk, 2) // loop sleep + runner deadline armed

	clk.Advance(time.Minute) // deadline passes
	waitStatus(t, svc, "timeout verdict", func(s Snapshot) bool {
		ts := taskByName(s, "stuck")
		return ts.LastOutcome == engine.OutcomeTimedOut && ts.Failures == 1
	})
	if st := taskByName(svc.Status(), "stuck"); st.State != StateIdle {
		t.Fatalf("state after first timeout = %q, want idle below ceiling", st.State)
	}
}

func TestEndToEndFiftyMinutes(t *testing.T) {
	t.Parallel()

	// Start at 00:30 so the daily 02:00 cleanup stays out of the window.
	t0 := time.Date(2025, 6, 1, 0, 30, 0, 0, time.UTC)
	clk := clock.NewFake(t0)
	var scraper, health, cleanup fireLog
	svc := startScheduler(t, clk, nil, Config{Enabled: true},
		Descriptor{
			Name:         "scraper",
			Interval:     45 * time.Minute,
			InitialDelay: 5 * time.Minute,
			Timeout:      10 * time.Minute,
			Enabled:      true,
			Run: func(ctx context.Context) error {
				scraper.record(clk.Now())
				return nil
			},
		},
		Descriptor{
			Name:     "health-check",
			Interval: 5 * time.Minute,
			Timeout:  30 * time.Second,
			Enabled:  true,
			Run: func(ctx context.Context) error {
				health.record(clk.Now())
				return nil
			},
		},
		Descriptor{
			Name:    "cleanup",
			Cron:    "0 2 * * *",
			Timeout: 5 * time.Minute,
			Enabled: true,
			Run: func(ctx context.Context) error {
				cleanup.record(clk.Now())
				return nil
			},
		})
	defer svc.Stop(0)

	settle(t, clk, svc)
	advanceBy(t, clk, svc, time.Minute, 50*time.Minute)

	wantHealth := []int{5, 10, 15, 20, 25, 30, 35, 40, 45, 50}
	if got := health.minutes(t0); len(got) != len(wantHealth) {
		t.Fatalf("health-check fires = %v, want %v", got, wantHealth)
	} else {
		for i := range wantHealth {
			if got[i] != wantHealth[i] {
				t.Fatalf("health-check fires = %v, want %v", got, wantHealth)
			}
		}
	}

	// First fire after the 5-minute initial delay; the second lands on the
	// observation boundary, one full 45-minute interval later. Boundary
	// instants are included, same as the health check's minute-50 fire.
	wantScraper := []int{5, 50}
	if got := scraper.minutes(t0); len(got) != len(wantScraper) || got[0] != 5 || got[1] != 50 {
		t.Fatalf("scraper fires = %v, want %v", got, wantScraper)
	}

	if got := cleanup.count(); got != 0 {
		t.Fatalf("cleanup fires = %d, want 0 before 02:00", got)
	}

	st := svc.Status()
	if !st.Running {
		t.Fatal("Running = false, want true")
	}
	if next := taskByName(st, "health-check").NextFire; !next.Equal(t0.Add(55 * time.Minute)) {
		t.Fatalf("health-check NextFire = %v, want %v", next, t0.Add(55*time.Minute))
	}
	if next := taskByName(st, "scraper").NextFire; !next.Equal(t0.Add(95 * time.Minute)) {
		t.Fatalf("scraper NextFire = %v, want %v", next, t0.Add(95*time.Minute))
	}
	if next := taskByName(st, "cleanup").NextFire; !next.Equal(time.Date(2025, 6, 1, 2, 0, 0, 0, time.UTC)) {
		t.Fatalf("cleanup NextFire = %v, want 02:00", next)
	}
}

func TestDisabledTaskNeverFires(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clk := clock.NewFake(t0)
	var onFires, offFires fireLog
	svc := startScheduler(t, clk, nil, Config{Enabled: true},
		Descriptor{
			Name:     "on",
			Interval: 5 * time.Minute,
			Timeout:  time.Hour,
			Enabled:  true,
			Run: func(ctx context.Context) error {
				onFires.record(clk.Now())
				return nil
			},
		},
		Descriptor{
			Name:     "off",
			Interval: 5 * time.Minute,
			Timeout:  time.Hour,
			Run: func(ctx context.Context) error {
				offFires.record(clk.Now())
				return nil
			},
		})
	defer svc.Stop(0)

	settle(t, clk, svc)
	advanceBy(t, clk, svc, 5*time.Minute, 15*time.Minute)

	if got := onFires.count(); got != 3 {
		t.Fatalf("enabled task fires = %d, want 3", got)
	}
	if got := offFires.count(); got != 0 {
		t.Fatalf("disabled task fires = %d, want 0", got)
	}
	if st := taskByName(svc.Status(), "off"); !st.Disabled {
		t.Fatalf("status for disabled task = %+v, want Disabled", st)
	}
}
