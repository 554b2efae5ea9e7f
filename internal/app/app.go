// Package app wires the alert daemon together: configuration, logging,
// storage, the notification pipeline, the three background tasks and the
// scheduler that drives them, plus the ops server and the systemd
// integration. cmd/alertd owns flags, signals and the exit code; everything
// else lives here.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Qais-Hweidi/Burroughs-Alert-sub002/internal/cleanup"
	"github.com/Qais-Hweidi/Burroughs-Alert-sub002/internal/config"
	"github.com/Qais-Hweidi/Burroughs-Alert-sub002/internal/eventbus"
	"github.com/Qais-Hweidi/Burroughs-Alert-sub002/internal/health"
	"github.com/Qais-Hweidi/Burroughs-Alert-sub002/internal/notifier"
	"github.com/Qais-Hweidi/Burroughs-Alert-sub002/internal/observability/ops"
	rtsup "github.com/Qais-Hweidi/Burroughs-Alert-sub002/internal/runtime/supervisor"
	"github.com/Qais-Hweidi/Burroughs-Alert-sub002/internal/scrape"
	"github.com/Qais-Hweidi/Burroughs-Alert-sub002/internal/storage"
	"github.com/Qais-Hweidi/Burroughs-Alert-sub002/internal/task/engine"
	"github.com/Qais-Hweidi/Burroughs-Alert-sub002/internal/task/scheduler"
	"github.com/Qais-Hweidi/Burroughs-Alert-sub002/internal/transport/telegram"
	logx "github.com/Qais-Hweidi/Burroughs-Alert-sub002/pkg/logx"
	"github.com/Qais-Hweidi/Burroughs-Alert-sub002/pkg/sdnotify"
)

// StopReason labels why the daemon is going down; it only feeds the final
// log lines.
type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal-error"
)

// stopGrace is how long a shutdown waits for in-flight task runs before
// abandoning them.
const stopGrace = 6 * time.Second

type App struct {
	cfgPath string

	cfgm *config.Manager

	mu  sync.Mutex
	sup *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	scr *scrape.Task
	hc  *health.Task
	cln *cleanup.Task

	reg   *scheduler.Registry
	sched *scheduler.Service
	notif *notifier.Service
	ops   *ops.Service

	schedCfg     scheduler.Config
	restartDelay time.Duration
	maxRestarts  int
}

// NewApp builds the whole daemon from the config file at cfgPath. Nothing
// runs until Start; a config, storage or transport problem surfaces here so
// the process can exit non-zero before touching the scheduler.
func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	ok := false
	defer func() {
		if !ok {
			_ = store.Close()
		}
	}()

	// The pipeline is always wired; without a real transport a nop sender
	// takes the sends so enabling the notifier later is a config change, not
	// a code change.
	var sender notifier.Sender = notifier.NopSender{}
	if cfg.Notifier.Enabled {
		tg, err := telegram.New(telegram.Config{
			Token:  cfg.Notifier.Telegram.Token,
			ChatID: cfg.Notifier.Telegram.ChatID,
		}, log.With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, err
		}
		sender = tg
	}
	notif := notifier.New(mapNotifierConfig(cfg), sender, log.With(logx.String("comp", "notifier")), bus)

	wdWindow := sdnotify.WatchdogInterval()
	var wd health.Watchdog
	if wdWindow > 0 {
		wd = sdnotify.Watchdog{}
		log.Info("systemd watchdog armed", logx.Duration("window", wdWindow))
	}

	scr := scrape.New(scrape.Config{FeedURL: cfg.Scraper.FeedURL}, store, notif, log.With(logx.String("comp", "scrape")))
	hc := health.New(store, wd, log.With(logx.String("comp", "health")))

	days := cfg.Cleanup.DaysToKeep
	if days == 0 {
		days = defDaysToKeep
	}
	cln := cleanup.New(store, days, nil, log.With(logx.String("comp", "cleanup")))

	reg, descs, err := buildRegistry(cfg, scr.Run, hc.Run, cln.Run)
	if err != nil {
		return nil, err
	}
	if wdWindow > 0 {
		for _, d := range descs {
			if d.Name == taskHealth && d.Interval > wdWindow/2 {
				log.Warn("healthCheck.interval is longer than half the watchdog window; systemd may kill a healthy process",
					logx.Duration("interval", d.Interval),
					logx.Duration("window", wdWindow))
			}
		}
	}

	schedCfg, restartDelay, maxRestarts, err := mapJobsConfig(cfg)
	if err != nil {
		return nil, err
	}

	sched := scheduler.New(reg, nil, log.With(logx.String("comp", "scheduler")), bus)

	a := &App{
		cfgPath:      cfgPath,
		cfgm:         cfgm,
		log:          log,
		logs:         logs,
		bus:          bus,
		store:        store,
		scr:          scr,
		hc:           hc,
		cln:          cln,
		reg:          reg,
		sched:        sched,
		notif:        notif,
		schedCfg:     schedCfg,
		restartDelay: restartDelay,
		maxRestarts:  maxRestarts,
	}

	a.ops = ops.New(mapOpsConfig(cfg), ops.Sources{
		Started:   time.Now(),
		Health:    hc.Last,
		Scheduler: sched.Status,
		Supervisor: func() rtsup.Snapshot {
			if sup := a.supervisor(); sup != nil {
				return sup.Stats()
			}
			return rtsup.Snapshot{}
		},
		Notifier: notif.History,
	}, log.With(logx.String("comp", "ops")))

	ok = true
	return a, nil
}

func (a *App) supervisor() *rtsup.Supervisor {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sup
}

// Done is closed once the app's run context is canceled: a fatal supervised
// error, Stop, or the parent context expiring.
func (a *App) Done() <-chan struct{} {
	if sup := a.supervisor(); sup != nil {
		return sup.Context().Done()
	}
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Err returns the first fatal error the supervisor recorded, if any. A
// non-nil value after Done means the process should exit non-zero.
func (a *App) Err() error {
	if sup := a.supervisor(); sup != nil {
		return sup.Err()
	}
	return nil
}

// Start launches everything under one supervisor: the orchestrator restart
// loop, the run recorder, the config watcher and reloader, and the optional
// servers. It returns once launched; later failures cancel the supervisor
// context (see Done/Err).
func (a *App) Start(ctx context.Context) error {
	sup := rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.mu.Lock()
	a.sup = sup
	a.mu.Unlock()

	// Transactional reload: a file that fails to parse, validate or build
	// the task set is rejected before commit, keeping the last good config.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		c2 := *cfg
		if err := applyEnvOverrides(&c2); err != nil {
			return err
		}
		if err := c2.Validate(); err != nil {
			return err
		}
		_, _, err := buildRegistry(&c2, a.scr.Run, a.hc.Run, a.cln.Run)
		return err
	})

	if a.notif.Enabled() {
		a.notif.Start(sup.Context())
	}

	// Terminal task events become job_runs rows. task.started and task.late
	// stay out: the timeout verdict recorded at the deadline is final. The
	// subscription exists before the first dispatch can happen.
	events, unsub := a.bus.Subscribe(256)
	sup.Go0("runs.record", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				rec, ok := runRecordFromEvent(e)
				if !ok {
					continue
				}
				wctx, cancel := context.WithTimeout(c, 3*time.Second)
				err := a.store.RecordRun(wctx, rec)
				cancel()
				if err != nil && c.Err() == nil {
					a.log.Warn("job run not recorded", logx.String("task", rec.Task), logx.Any("err", err))
				}
			}
		}
	})

	// Debug view of the bus; components log their own events at the right
	// levels, this is the firehose for troubleshooting.
	dbg, unsubDbg := a.bus.Subscribe(128)
	sup.Go0("eventbus.log", func(c context.Context) {
		defer unsubDbg()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-dbg:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	// The orchestrator gets a bounded number of fresh starts; after that the
	// supervisor records the exhaustion, cancels the run context and the
	// process hands the problem to its process manager.
	sup.Restart("orchestrator", func(c context.Context) error {
		if err := a.sched.Start(c, a.schedCfg); err != nil {
			return err
		}
		return a.sched.Join(c)
	}, rtsup.WithRestartDelay(a.restartDelay), rtsup.WithMaxRestarts(a.maxRestarts))

	if a.ops.Enabled() {
		a.ops.Start(sup.Context())
	}

	// Hot reload: only logging applies live. Everything else feeds immutable
	// descriptors, the storage handle or a listen socket, so a change there
	// gets a restart-required warning instead of a half-applied update.
	sub := a.cfgm.Subscribe(8)
	sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the newest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				sections, attrs, needRestart := config.SummarizeChange(lastApplied, newCfg)
				lastApplied = newCfg

				a.logs.Apply(logx.Config{
					Level:   newCfg.Logging.Level,
					Console: newCfg.Logging.Console,
					File: logx.FileConfig{
						Enabled: newCfg.Logging.File.Enabled,
						Path:    newCfg.Logging.File.Path,
					},
				})

				if len(needRestart) > 0 {
					a.log.Warn("config change needs a restart to take effect",
						logx.String("sections", strings.Join(needRestart, ",")))
				}
				if len(sections) > 0 {
					fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
					a.log.Info("config reloaded", fields...)
				} else {
					a.log.Info("config reloaded (no changes)")
				}
			}
		}
	})

	sup.Go("config.watch", a.cfgm.Watch)

	sdnotify.Ready()
	a.log.Info("app started",
		logx.Bool("jobs", a.schedCfg.Enabled),
		logx.Bool("notifier", a.notif.Enabled()),
		logx.Bool("ops", a.ops.Enabled()))
	return nil
}

// Stop tears the daemon down in dependency order, bounding every step so one
// stuck component cannot stall the exit. Safe to call when Start never ran.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	sup := a.supervisor()
	if sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdnotify.Stopping()

	// Cancel the run context first so every supervised loop starts
	// unwinding while the steps below wait on them.
	sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// Respect the caller's deadline; never extend it.
			if dl, hasDL := ctx.Deadline(); hasDL {
				if rem := time.Until(dl); rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Any("err", err))
			}
			a.log.Debug("stop step done", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached, continuing",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)))
			// Leak signal: observe when the straggler actually finishes.
			go func() {
				err := <-done
				a.log.Warn("stop step finished after deadline",
					logx.String("name", name),
					logx.Any("err", err),
					logx.Duration("took", time.Since(start)))
			}()
		}
	}

	step("scheduler", stopGrace+2*time.Second, func(context.Context) error {
		a.sched.Stop(stopGrace)
		return nil
	})
	step("ops", 2*time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	step("notifier", 5*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	// The recorder writes to storage, so the supervised goroutines must be
	// gone before the store closes.
	step("supervisor", 2*time.Second, func(c context.Context) error { return sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped", logx.String("reason", string(reason)))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// runRecordFromEvent maps a terminal task event to its job_runs row.
// Anything else (task.started, task.late, notifier traffic) maps to false.
func runRecordFromEvent(e eventbus.Event) (storage.RunRecord, bool) {
	switch e.Type {
	case "task.finished", "task.failed", "task.timeout", "task.skipped":
	default:
		return storage.RunRecord{}, false
	}
	ev, ok := e.Data.(engine.Event)
	if !ok {
		return storage.RunRecord{}, false
	}
	dur := time.Duration(ev.DurationMS) * time.Millisecond
	return storage.RunRecord{
		Task:     ev.Task,
		Outcome:  string(ev.Outcome),
		Started:  ev.At.Add(-dur),
		Duration: dur,
		Error:    ev.Error,
	}, true
}
