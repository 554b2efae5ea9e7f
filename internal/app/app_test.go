package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Qais-Hweidi/Burroughs-Alert-sub002/internal/config"
	"github.com/Qais-Hweidi/Burroughs-Alert-sub002/internal/eventbus"
	"github.com/Qais-Hweidi/Burroughs-Alert-sub002/internal/notifier"
	"github.com/Qais-Hweidi/Burroughs-Alert-sub002/internal/task/engine"
	"github.com/Qais-Hweidi/Burroughs-Alert-sub002/internal/task/scheduler"
)

func nopRun(context.Context) error { return nil }

func TestBuildDescriptorsDefaults(t *testing.T) {
	t.Parallel()

	descs, err := buildDescriptors(&config.Config{}, nopRun, nopRun, nopRun)
	if err != nil {
		t.Fatalf("buildDescriptors = %v", err)
	}
	if len(descs) != 3 {
		t.Fatalf("len(descs) = %d, want 3", len(descs))
	}

	scr := descs[0]
	if scr.Name != taskScraper || scr.Interval != 45*time.Minute || scr.InitialDelay != 5*time.Minute || scr.Timeout != 10*time.Minute {
		t.Fatalf("scraper descriptor = %+v", scr)
	}
	hc := descs[1]
	if hc.Name != taskHealth || hc.Interval != 5*time.Minute || hc.Timeout != time.Minute || hc.InitialDelay != 0 {
		t.Fatalf("health descriptor = %+v", hc)
	}
	cl := descs[2]
	if cl.Name != taskCleanup || cl.Cron != "0 2 * * *" || cl.Timeout != 5*time.Minute || cl.Interval != 0 {
		t.Fatalf("cleanup descriptor = %+v", cl)
	}
	for _, d := range descs {
		if !d.Enabled || d.Run == nil {
			t.Fatalf("descriptor %s not runnable: %+v", d.Name, d)
		}
	}
}

func TestBuildDescriptorsExplicit(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.Scraper.Interval = "30m"
	cfg.Scraper.InitialDelay = "0s"
	cfg.Scraper.Timeout = config.FlexDuration("2m")
	cfg.HealthCheck.Interval = config.FlexDuration("90s")
	cfg.HealthCheck.Timeout = "15s"
	cfg.Cleanup.Cron = "30 3 * * *"
	cfg.Cleanup.Timeout = "2m"

	descs, err := buildDescriptors(cfg, nopRun, nopRun, nopRun)
	if err != nil {
		t.Fatalf("buildDescriptors = %v", err)
	}
	scr := descs[0]
	if scr.Interval != 30*time.Minute || scr.Timeout != 2*time.Minute {
		t.Fatalf("scraper descriptor = %+v", scr)
	}
	// An explicit zero initial delay is not a missing value; the first fire
	// is then one interval after start.
	if scr.InitialDelay != 0 {
		t.Fatalf("explicit zero initialDelay overridden: %v", scr.InitialDelay)
	}
	if descs[1].Interval != 90*time.Second || descs[1].Timeout != 15*time.Second {
		t.Fatalf("health descriptor = %+v", descs[1])
	}
	if descs[2].Cron != "30 3 * * *" || descs[2].Timeout != 2*time.Minute {
		t.Fatalf("cleanup descriptor = %+v", descs[2])
	}
}

func TestBuildDescriptorsBadDuration(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.Scraper.Interval = "soon"
	_, err := buildDescriptors(cfg, nopRun, nopRun, nopRun)
	if err == nil || !strings.Contains(err.Error(), "scraper.interval") {
		t.Fatalf("err = %v, want scraper.interval parse error", err)
	}
}

func TestBuildRegistryRejectsBadCron(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.Cleanup.Cron = "every day at dawn"
	_, _, err := buildRegistry(cfg, nopRun, nopRun, nopRun)
	var ce *scheduler.ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want *scheduler.ConfigError", err)
	}
	if ce.Task != taskCleanup || ce.Field != "cron" {
		t.Fatalf("ConfigError = %+v", ce)
	}
}

func TestMapJobsConfig(t *testing.T) {
	t.Parallel()

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()
		loop, delay, maxRestarts, err := mapJobsConfig(&config.Config{})
		if err != nil {
			t.Fatalf("mapJobsConfig = %v", err)
		}
		if loop.Enabled || loop.FailureCeiling != 0 || loop.BackoffDelay != 0 {
			t.Fatalf("loop = %+v", loop)
		}
		if delay != 10*time.Second || maxRestarts != 5 {
			t.Fatalf("restart policy = (%v, %d), want (10s, 5)", delay, maxRestarts)
		}
	})

	t.Run("explicit", func(t *testing.T) {
		t.Parallel()
		cfg := &config.Config{}
		cfg.Jobs.Enabled = true
		cfg.Jobs.FailureCeiling = 4
		cfg.Jobs.BackoffDelay = "10m"
		cfg.Jobs.Supervisor.MaxRestarts = 2
		cfg.Jobs.Supervisor.RestartDelay = "30s"
		loop, delay, maxRestarts, err := mapJobsConfig(cfg)
		if err != nil {
			t.Fatalf("mapJobsConfig = %v", err)
		}
		if !loop.Enabled || loop.FailureCeiling != 4 || loop.BackoffDelay != 10*time.Minute {
			t.Fatalf("loop = %+v", loop)
		}
		if delay != 30*time.Second || maxRestarts != 2 {
			t.Fatalf("restart policy = (%v, %d), want (30s, 2)", delay, maxRestarts)
		}
	})

	t.Run("bad delay", func(t *testing.T) {
		t.Parallel()
		cfg := &config.Config{}
		cfg.Jobs.BackoffDelay = "whenever"
		if _, _, _, err := mapJobsConfig(cfg); err == nil {
			t.Fatal("want parse error")
		}
	})
}

func TestRunRecordFromEvent(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("finished", func(t *testing.T) {
		t.Parallel()
		rec, ok := runRecordFromEvent(eventbus.Event{
			Type: "task.finished",
			Time: at,
			Data: engine.Event{Task: taskScraper, Outcome: engine.OutcomeSuccess, At: at, DurationMS: 1500},
		})
		if !ok {
			t.Fatal("finished event not recorded")
		}
		if rec.Task != taskScraper || rec.Outcome != "success" {
			t.Fatalf("rec = %+v", rec)
		}
		if want := at.Add(-1500 * time.Millisecond); !rec.Started.Equal(want) {
			t.Fatalf("Started = %v, want %v", rec.Started, want)
		}
		if rec.Duration != 1500*time.Millisecond {
			t.Fatalf("Duration = %v", rec.Duration)
		}
	})

	t.Run("timeout keeps error", func(t *testing.T) {
		t.Parallel()
		rec, ok := runRecordFromEvent(eventbus.Event{
			Type: "task.timeout",
			Time: at,
			Data: engine.Event{Task: taskHealth, Outcome: engine.OutcomeTimedOut, At: at, DurationMS: 60000, Error: "task timed out after 1m0s"},
		})
		if !ok || rec.Outcome != "timed-out" || rec.Error == "" {
			t.Fatalf("rec = %+v ok = %v", rec, ok)
		}
	})

	t.Run("skip has zero duration", func(t *testing.T) {
		t.Parallel()
		rec, ok := runRecordFromEvent(eventbus.Event{
			Type: "task.skipped",
			Time: at,
			Data: engine.Event{Task: taskScraper, Outcome: engine.OutcomeSkipped, At: at},
		})
		if !ok || rec.Duration != 0 || !rec.Started.Equal(at) {
			t.Fatalf("rec = %+v ok = %v", rec, ok)
		}
	})

	t.Run("non-terminal and foreign events ignored", func(t *testing.T) {
		t.Parallel()
		ignored := []eventbus.Event{
			{Type: "task.started", Data: engine.Event{Task: taskScraper, At: at}},
			{Type: "task.late", Data: engine.Event{Task: taskScraper, Outcome: engine.OutcomeTimedOut, At: at}},
			{Type: "notifier.sent", Data: notifier.DeliveryEvent{Text: "x", At: at}},
			{Type: "task.finished", Data: "not an engine event"},
		}
		for _, e := range ignored {
			if _, ok := runRecordFromEvent(e); ok {
				t.Fatalf("event %s recorded, want ignored", e.Type)
			}
		}
	})
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "env-token")
	t.Setenv("TELEGRAM_CHAT_ID", "-100123")

	cfg := &config.Config{}
	cfg.Notifier.Telegram.Token = "file-token"
	cfg.Notifier.Telegram.ChatID = 7
	if err := applyEnvOverrides(cfg); err != nil {
		t.Fatalf("applyEnvOverrides = %v", err)
	}
	if cfg.Notifier.Telegram.Token != "env-token" || cfg.Notifier.Telegram.ChatID != -100123 {
		t.Fatalf("telegram cfg = %+v", cfg.Notifier.Telegram)
	}
}

func TestApplyEnvOverridesBadChatID(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("TELEGRAM_CHAT_ID", "not-a-number")

	if err := applyEnvOverrides(&config.Config{}); err == nil {
		t.Fatal("want error for malformed TELEGRAM_CHAT_ID")
	}
}

func TestNewAppRejectsBadConfig(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body func(dir string) string
		want string
	}{
		{
			name: "unknown key",
			body: func(string) string { return `{"loging": {"level": "info"}}` },
			want: "unknown field",
		},
		{
			name: "bad cron",
			body: func(dir string) string {
				return fmt.Sprintf(`{"storage": {"path": %q}, "cleanup": {"cron": "every day at dawn"}}`,
					filepath.Join(dir, "alerts.db"))
			},
			want: "cron",
		},
		{
			name: "feed url required",
			body: func(string) string { return `{"jobs": {"enabled": true}}` },
			want: "feedURL",
		},
		{
			name: "insecure ops bind",
			body: func(string) string { return `{"ops": {"enabled": true, "addr": "0.0.0.0:6061"}}` },
			want: "allowInsecure",
		},
	}
	for _, tt := range cases {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			path := filepath.Join(dir, "config.json")
			if err := os.WriteFile(path, []byte(tt.body(dir)), 0o644); err != nil {
				t.Fatalf("write config: %v", err)
			}
			_, err := NewApp(path)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("NewApp err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestAppLifecycle(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	body := fmt.Sprintf(`
logging:
  level: "error"
  console: true
jobs:
  enabled: false
storage:
  path: %q
`, filepath.Join(dir, "alerts.db"))
	if err := os.WriteFile(cfgPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	a, err := NewApp(cfgPath)
	if err != nil {
		t.Fatalf("NewApp = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start = %v", err)
	}

	// Jobs are disabled, so the master kill-switch must keep the scheduler
	// and the notifier down while the rest of the app runs.
	if snap := a.sched.Status(); snap.Running {
		t.Fatalf("scheduler running with jobs disabled: %+v", snap)
	}
	if a.notif.Running() {
		t.Fatal("notifier running while disabled")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, StopSignal); err != nil {
		t.Fatalf("Stop = %v", err)
	}

	select {
	case <-a.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}
	if err := a.Err(); err != nil {
		t.Fatalf("Err = %v, want nil after clean stop", err)
	}

	// A second Stop is harmless.
	if err := a.Stop(stopCtx, StopSignal); err != nil {
		t.Fatalf("second Stop = %v", err)
	}
}

func TestStopBeforeStart(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")
	body := fmt.Sprintf(`{"storage": {"path": %q}}`, filepath.Join(dir, "alerts.db"))
	if err := os.WriteFile(cfgPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	a, err := NewApp(cfgPath)
	if err != nil {
		t.Fatalf("NewApp = %v", err)
	}
	if err := a.Stop(context.Background(), StopUnknown); err != nil {
		t.Fatalf("Stop before Start = %v", err)
	}
	select {
	case <-a.Done():
	default:
		t.Fatal("Done must report closed when the app never started")
	}
}
