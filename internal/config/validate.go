package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Validate checks everything the config file itself can get wrong: unknown
// log levels, malformed durations, negative counts, sections enabled
// without the fields they need. Schedule-level validation (cron syntax,
// trigger exclusivity) belongs to the task registry, which sees the built
// descriptors.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	switch strings.ToLower(strings.TrimSpace(c.Logging.Level)) {
	case "", "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}
	if c.Logging.File.Enabled && strings.TrimSpace(c.Logging.File.Path) == "" {
		return errors.New("logging.file.path required when logging.file.enabled")
	}

	for _, f := range []struct{ path, raw string }{
		{"jobs.backoffDelay", c.Jobs.BackoffDelay},
		{"jobs.supervisor.restartDelay", c.Jobs.Supervisor.RestartDelay},
		{"scraper.interval", c.Scraper.Interval},
		{"scraper.initialDelay", c.Scraper.InitialDelay},
		{"scraper.timeout", string(c.Scraper.Timeout)},
		{"healthCheck.interval", string(c.HealthCheck.Interval)},
		{"healthCheck.timeout", c.HealthCheck.Timeout},
		{"cleanup.timeout", c.Cleanup.Timeout},
		{"storage.busyTimeout", c.Storage.BusyTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}

	if c.Jobs.FailureCeiling < 0 {
		return errors.New("jobs.failureCeiling: must be >= 0")
	}
	if c.Jobs.Supervisor.MaxRestarts < 0 {
		return errors.New("jobs.supervisor.maxRestarts: must be >= 0")
	}
	if c.Cleanup.DaysToKeep < 0 {
		return errors.New("cleanup.daysToKeep: must be >= 0")
	}
	if c.Notifier.RatePerMin < 0 {
		return errors.New("notifier.ratePerMin: must be >= 0")
	}
	if c.Notifier.QueueSize < 0 {
		return errors.New("notifier.queueSize: must be >= 0")
	}
	if c.Notifier.Enabled {
		if strings.TrimSpace(c.Notifier.Telegram.Token) == "" {
			return errors.New("notifier.telegram.token required when notifier.enabled")
		}
		if c.Notifier.Telegram.ChatID == 0 {
			return errors.New("notifier.telegram.chatID required when notifier.enabled")
		}
	}
	if c.Jobs.Enabled && strings.TrimSpace(c.Scraper.FeedURL) == "" {
		return errors.New("scraper.feedURL required when jobs.enabled")
	}
	if addr := strings.TrimSpace(c.Ops.Addr); c.Ops.Enabled && addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("ops.addr: %w", err)
		}
		if !c.Ops.AllowInsecure && strings.TrimSpace(c.Ops.Token) == "" && !loopbackAddr(addr) {
			return errors.New("ops.addr: non-loopback bind requires ops.token or ops.allowInsecure")
		}
	}
	return nil
}

// loopbackAddr reports whether addr binds only to a loopback interface.
// Unparseable hosts count as non-loopback; the ops server applies the same
// rule at listen time.
func loopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
