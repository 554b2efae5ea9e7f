package config

import (
	"sort"
	"strings"

	logx "github.com/Qais-Hweidi/Burroughs-Alert-sub002/pkg/logx"
)

// Only the logging section can be applied to a running process; everything
// else feeds immutable task descriptors, storage handles, or listen sockets
// built at startup.
var hotSections = map[string]bool{"logging": true}

// SummarizeChange compares two configs section by section and returns
// (1) the changed section names, (2) safe structured attrs for logging
// (never secrets like the Telegram token), and (3) the subset of changed
// sections that only take effect after a restart.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Jobs != newCfg.Jobs {
		changed = append(changed, "jobs")
		attrs = append(attrs,
			logx.Bool("jobs.enabled", newCfg.Jobs.Enabled),
			logx.Int("jobs.failure_ceiling", newCfg.Jobs.FailureCeiling),
			logx.String("jobs.backoff_delay", strings.TrimSpace(newCfg.Jobs.BackoffDelay)),
			logx.Int("jobs.max_restarts", newCfg.Jobs.Supervisor.MaxRestarts),
		)
	}

	if oldCfg.Scraper != newCfg.Scraper {
		changed = append(changed, "scraper")
		attrs = append(attrs,
			logx.String("scraper.interval", strings.TrimSpace(newCfg.Scraper.Interval)),
			logx.String("scraper.initial_delay", strings.TrimSpace(newCfg.Scraper.InitialDelay)),
			logx.String("scraper.timeout", strings.TrimSpace(string(newCfg.Scraper.Timeout))),
			logx.Bool("scraper.feed_url_set", strings.TrimSpace(newCfg.Scraper.FeedURL) != ""),
		)
	}

	if oldCfg.HealthCheck != newCfg.HealthCheck {
		changed = append(changed, "healthCheck")
		attrs = append(attrs,
			logx.String("health_check.interval", strings.TrimSpace(string(newCfg.HealthCheck.Interval))),
			logx.String("health_check.timeout", strings.TrimSpace(newCfg.HealthCheck.Timeout)),
		)
	}

	if oldCfg.Cleanup != newCfg.Cleanup {
		changed = append(changed, "cleanup")
		attrs = append(attrs,
			logx.String("cleanup.cron", strings.TrimSpace(newCfg.Cleanup.Cron)),
			logx.Int("cleanup.days_to_keep", newCfg.Cleanup.DaysToKeep),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(newCfg.Storage.BusyTimeout)),
		)
	}

	// Notifier: never log the token, only whether one is set.
	if oldCfg.Notifier != newCfg.Notifier {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", newCfg.Notifier.Enabled),
			logx.Int("notifier.rate_per_min", newCfg.Notifier.RatePerMin),
			logx.Bool("notifier.token_set", strings.TrimSpace(newCfg.Notifier.Telegram.Token) != ""),
		)
	}

	// Ops: never log the token, only whether one is set.
	if oldCfg.Ops != newCfg.Ops {
		changed = append(changed, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", newCfg.Ops.Enabled),
			logx.String("ops.addr", strings.TrimSpace(newCfg.Ops.Addr)),
			logx.Bool("ops.token_set", strings.TrimSpace(newCfg.Ops.Token) != ""),
			logx.Bool("ops.allow_insecure", newCfg.Ops.AllowInsecure),
		)
	}

	sort.Strings(changed)
	needRestart := make([]string, 0, len(changed))
	for _, name := range changed {
		if !hotSections[name] {
			needRestart = append(needRestart, name)
		}
	}
	return changed, attrs, needRestart
}
