package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Qais-Hweidi/Burroughs-Alert-sub002/internal/eventbus"
	"github.com/Qais-Hweidi/Burroughs-Alert-sub002/internal/task/clock"
	"github.com/Qais-Hweidi/Burroughs-Alert-sub002/internal/task/engine"
	logx "github.com/Qais-Hweidi/Burroughs-Alert-sub002/pkg/logx"
)

// Service is the lifecycle controller around the scheduling loop: Start,
// Stop with a grace period, and read-only Status snapshots.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	bus    eventbus.Bus
	clk    clock.Clock
	reg    *Registry
	runner *engine.Runner
	parser cron.Parser

	// slots outlive restarts: an abandoned run from a previous incarnation
	// must still block re-dispatch of its task after the supervisor brings
	// the orchestrator back with fresh run state.
	slots map[string]*engine.Slot

	cfg      Config
	running  bool
	stopping bool
	startAt  time.Time
	tasks    []*taskState
	byName   map[string]*taskState
	inFlight int
	loopErr  error

	// gen is bumped on every Start so verdicts from runs dispatched by a
	// previous incarnation cannot leak into fresh run state.
	gen uint64

	wakeCh chan struct{}
	idleCh chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}

	runCtx     context.Context
	cancelRuns context.CancelFunc
}

func New(reg *Registry, clk clock.Clock, log logx.Logger, bus eventbus.Bus) *Service {
	if clk == nil {
		clk = clock.System()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:    log,
		bus:    bus,
		clk:    clk,
		reg:    reg,
		runner: engine.NewRunner(clk, log, bus),
		parser: newCronParser(),
		slots:  map[string]*engine.Slot{},
	}
}

// Start brings up the scheduling loop with cfg. It is idempotent: starting
// an already-running service with an identical configuration is a no-op,
// while a different configuration fails with *AlreadyRunningError. With
// cfg.Enabled false Start logs and returns nil without running anything.
//
// Run state is built fresh on every Start: schedules begin again from their
// initial-delay/interval/cron rule, failure counters at zero.
func (s *Service) Start(ctx context.Context, cfg Config) error {
	cfg = cfg.withDefaults()

	s.mu.Lock()
	if s.running {
		same := s.cfg == cfg
		s.mu.Unlock()
		if same {
			s.log.Debug("start ignored: already running")
			return nil
		}
		return &AlreadyRunningError{}
	}
	if !cfg.Enabled {
		s.mu.Unlock()
		s.log.Info("jobs disabled, scheduler not started")
		return nil
	}

	defs := s.reg.List()
	now := s.clk.Now()
	s.cfg = cfg
	s.startAt = now
	s.gen++
	s.tasks = make([]*taskState, 0, len(defs))
	s.byName = make(map[string]*taskState, len(defs))
	enabled := 0
	for _, d := range defs {
		slot := s.slots[d.Name]
		if slot == nil {
			slot = &engine.Slot{}
			s.slots[d.Name] = slot
		}
		t := &taskState{
			desc:        d,
			slot:        slot,
			ceiling:     d.FailureCeiling,
			backoff:     d.BackoffDelay,
			state:       StateIdle,
			lastOutcome: engine.OutcomeNone,
		}
		if t.ceiling <= 0 {
			t.ceiling = cfg.FailureCeiling
		}
		if t.backoff <= 0 {
			t.backoff = cfg.BackoffDelay
		}
		if d.Enabled {
			enabled++
			s.scheduleInitialLocked(t, now)
		}
		s.tasks = append(s.tasks, t)
		s.byName[d.Name] = t
	}

	s.inFlight = 0
	s.loopErr = nil
	s.wakeCh = make(chan struct{}, 1)
	s.idleCh = make(chan struct{}, 1)
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.runCtx, s.cancelRuns = context.WithCancel(ctx)
	s.running = true
	loopCtx, done := s.runCtx, s.doneCh
	s.mu.Unlock()

	s.log.Info("scheduler started",
		logx.Int("tasks", len(defs)),
		logx.Int("enabled", enabled),
		logx.Int("failure_ceiling", cfg.FailureCeiling),
		logx.Duration("backoff", cfg.BackoffDelay))
	go s.runLoop(loopCtx, done)
	return nil
}

// scheduleInitialLocked seeds a task's first fire time at startup. A cron
// expression that fails here (it was validated at registration, so this is
// defensive) disables the task and reports it without taking down the rest.
func (s *Service) scheduleInitialLocked(t *taskState, now time.Time) {
	d := t.desc
	if d.Cron != "" {
		next, err := NextCronFire(s.parser, d.Name, d.Cron, now)
		if err != nil {
			t.disabled = true
			s.log.Error("task disabled: cron evaluation failed", logx.String("task", d.Name), logx.String("cron", d.Cron), logx.Any("err", err))
			return
		}
		t.nextFire = next
		return
	}
	t.nextFire = NextFixedInterval(now, time.Time{}, d.Interval, d.InitialDelay)
}

// Stop tells the loop to stop dispatching, waits up to grace for in-flight
// runs to finish, then abandons whatever is still running. The report names
// the abandoned tasks; their slots stay held until the work really returns.
func (s *Service) Stop(grace time.Duration) StopReport {
	s.mu.Lock()
	if !s.running || s.stopping {
		s.mu.Unlock()
		return StopReport{}
	}
	s.stopping = true
	stopCh, done, idle := s.stopCh, s.doneCh, s.idleCh
	s.mu.Unlock()

	start := s.clk.Now()
	s.log.Info("stop requested", logx.Duration("grace", grace))
	close(stopCh)
	<-done

	if grace > 0 {
		tmr := s.clk.NewTimer(grace)
	wait:
		for {
			s.mu.Lock()
			n := s.inFlight
			s.mu.Unlock()
			if n == 0 {
				tmr.Stop()
				break
			}
			select {
			case <-idle:
			case <-tmr.C():
				break wait
			}
		}
	}

	var rep StopReport
	s.mu.Lock()
	for _, t := range s.tasks {
		if t.state == StateRunning {
			rep.Abandoned = append(rep.Abandoned, t.desc.Name)
			t.state = StateIdle
		}
	}
	s.cancelRuns()
	s.running = false
	s.stopping = false
	s.mu.Unlock()

	rep.Waited = s.clk.Now().Sub(start)
	if len(rep.Abandoned) > 0 {
		s.log.Warn("scheduler stopped, runs abandoned", logx.Duration("took", rep.Waited), logx.Any("abandoned", rep.Abandoned))
	} else {
		s.log.Info("scheduler stopped", logx.Duration("took", rep.Waited))
	}
	return rep
}

// Join blocks until the scheduling loop exits and returns its terminal
// error: nil after a clean Stop, the recovered panic error after a crash.
// A supervisor can restart the orchestrator on a non-nil return; Start then
// rebuilds run state from scratch. Join returns nil immediately if the
// service never started (for example when jobs are disabled).
func (s *Service) Join(ctx context.Context) error {
	s.mu.Lock()
	done := s.doneCh
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		s.mu.Lock()
		err := s.loopErr
		s.mu.Unlock()
		return err
	case <-ctx.Done():
		return nil
	}
}
