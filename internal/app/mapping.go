package app

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Qais-Hweidi/Burroughs-Alert-sub002/internal/config"
	"github.com/Qais-Hweidi/Burroughs-Alert-sub002/internal/notifier"
	"github.com/Qais-Hweidi/Burroughs-Alert-sub002/internal/observability/ops"
	"github.com/Qais-Hweidi/Burroughs-Alert-sub002/internal/storage"
	"github.com/Qais-Hweidi/Burroughs-Alert-sub002/internal/task/scheduler"
)

// Task names as they appear in logs, status output and job_runs rows.
const (
	taskScraper = "scraper"
	taskHealth  = "health-check"
	taskCleanup = "cleanup"
)

// Defaults applied when the config file leaves a field unset. They mirror
// the product's cadence: scrape every 45 minutes after a short warm-up,
// probe health every 5, prune nightly at 02:00.
const (
	defScrapeInterval = 45 * time.Minute
	defScrapeDelay    = 5 * time.Minute
	defScrapeTimeout  = 10 * time.Minute
	defHealthInterval = 5 * time.Minute
	defHealthTimeout  = time.Minute
	defCleanupCron    = "0 2 * * *"
	defCleanupTimeout = 5 * time.Minute
	defDaysToKeep     = 30

	defMaxRestarts  = 5
	defRestartDelay = 10 * time.Second

	defStoragePath = "./data/alerts.db"
	defBusyTimeout = time.Second

	// Delivery retries are a fixed policy, not a config knob.
	defNotifyRetryMax = 3
)

// applyEnvOverrides lets the Telegram credentials live outside the config
// file: a .env or the service manager's environment wins over whatever the
// file says.
func applyEnvOverrides(cfg *config.Config) error {
	if v := strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN")); v != "" {
		cfg.Notifier.Telegram.Token = v
	}
	if v := strings.TrimSpace(os.Getenv("TELEGRAM_CHAT_ID")); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("TELEGRAM_CHAT_ID: invalid chat id %q", v)
		}
		cfg.Notifier.Telegram.ChatID = id
	}
	return nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	path := strings.TrimSpace(cfg.Storage.Path)
	if path == "" {
		path = defStoragePath
	}
	busy, err := config.ParseDurationOrDefault("storage.busyTimeout", cfg.Storage.BusyTimeout, defBusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Path: path, BusyTimeout: busy}, nil
}

func mapNotifierConfig(cfg *config.Config) notifier.Config {
	return notifier.Config{
		Enabled:    cfg.Notifier.Enabled,
		RatePerMin: cfg.Notifier.RatePerMin,
		QueueSize:  cfg.Notifier.QueueSize,
		RetryMax:   defNotifyRetryMax,
	}
}

func mapOpsConfig(cfg *config.Config) ops.Config {
	return ops.Config{
		Enabled:       cfg.Ops.Enabled,
		Addr:          strings.TrimSpace(cfg.Ops.Addr),
		Token:         strings.TrimSpace(cfg.Ops.Token),
		AllowInsecure: cfg.Ops.AllowInsecure,
		// WriteTimeout stays 0: pprof profile captures stream for longer
		// than any sane fixed limit.
		ReadTimeout: 5 * time.Second,
		IdleTimeout: 2 * time.Minute,
	}
}

// mapJobsConfig produces the scheduler loop config plus the orchestrator
// restart policy. Ceiling/backoff zeros pass through; the scheduler fills
// its own defaults.
func mapJobsConfig(cfg *config.Config) (scheduler.Config, time.Duration, int, error) {
	backoff, err := config.ParseDurationField("jobs.backoffDelay", cfg.Jobs.BackoffDelay)
	if err != nil {
		return scheduler.Config{}, 0, 0, err
	}
	delay, err := config.ParseDurationOrDefault("jobs.supervisor.restartDelay", cfg.Jobs.Supervisor.RestartDelay, defRestartDelay)
	if err != nil {
		return scheduler.Config{}, 0, 0, err
	}
	maxRestarts := cfg.Jobs.Supervisor.MaxRestarts
	if maxRestarts <= 0 {
		maxRestarts = defMaxRestarts
	}
	loop := scheduler.Config{
		Enabled:        cfg.Jobs.Enabled,
		FailureCeiling: cfg.Jobs.FailureCeiling,
		BackoffDelay:   backoff,
	}
	return loop, delay, maxRestarts, nil
}

// buildDescriptors turns the three task sections into registry descriptors.
// Durations left empty fall back to the defaults above; an explicit
// initialDelay of "0s" is kept, so the first scrape then lands one interval
// after start per the registry's rule.
func buildDescriptors(cfg *config.Config, scrapeRun, healthRun, cleanupRun func(context.Context) error) ([]scheduler.Descriptor, error) {
	interval, err := config.ParseDurationOrDefault("scraper.interval", cfg.Scraper.Interval, defScrapeInterval)
	if err != nil {
		return nil, err
	}
	delay := defScrapeDelay
	if strings.TrimSpace(cfg.Scraper.InitialDelay) != "" {
		if delay, err = config.ParseDurationField("scraper.initialDelay", cfg.Scraper.InitialDelay); err != nil {
			return nil, err
		}
	}
	scrTimeout, err := config.ParseDurationOrDefault("scraper.timeout", string(cfg.Scraper.Timeout), defScrapeTimeout)
	if err != nil {
		return nil, err
	}
	hcInterval, err := config.ParseDurationOrDefault("healthCheck.interval", string(cfg.HealthCheck.Interval), defHealthInterval)
	if err != nil {
		return nil, err
	}
	hcTimeout, err := config.ParseDurationOrDefault("healthCheck.timeout", cfg.HealthCheck.Timeout, defHealthTimeout)
	if err != nil {
		return nil, err
	}
	cronExpr := strings.TrimSpace(cfg.Cleanup.Cron)
	if cronExpr == "" {
		cronExpr = defCleanupCron
	}
	clTimeout, err := config.ParseDurationOrDefault("cleanup.timeout", cfg.Cleanup.Timeout, defCleanupTimeout)
	if err != nil {
		return nil, err
	}

	return []scheduler.Descriptor{
		{
			Name:         taskScraper,
			Interval:     interval,
			InitialDelay: delay,
			Timeout:      scrTimeout,
			Enabled:      true,
			Run:          scrapeRun,
		},
		{
			Name:     taskHealth,
			Interval: hcInterval,
			Timeout:  hcTimeout,
			Enabled:  true,
			Run:      healthRun,
		},
		{
			Name:    taskCleanup,
			Cron:    cronExpr,
			Timeout: clTimeout,
			Enabled: true,
			Run:     cleanupRun,
		},
	}, nil
}

// buildRegistry registers the full task set into a fresh registry. The
// reload validator runs it as a dry run; construction keeps the result.
func buildRegistry(cfg *config.Config, scrapeRun, healthRun, cleanupRun func(context.Context) error) (*scheduler.Registry, []scheduler.Descriptor, error) {
	descs, err := buildDescriptors(cfg, scrapeRun, healthRun, cleanupRun)
	if err != nil {
		return nil, nil, err
	}
	reg := scheduler.NewRegistry()
	for _, d := range descs {
		if err := reg.Register(d); err != nil {
			return nil, nil, err
		}
	}
	return reg, descs, nil
}
