package config

// Config is the full configuration file surface. JSON and YAML are both
// accepted (YAML is coerced to JSON before decoding); unknown keys are
// rejected so typos and removed options are caught at load time instead of
// being silently ignored.
//
// All durations are Go duration strings (e.g. "30s", "5m") unless a field
// documents the legacy bare-number form.
type Config struct {
	Logging     LoggingConfig     `json:"logging"`
	Jobs        JobsConfig        `json:"jobs"`
	Scraper     ScraperConfig     `json:"scraper"`
	HealthCheck HealthCheckConfig `json:"healthCheck"`
	Cleanup     CleanupConfig     `json:"cleanup"`
	Storage     StorageConfig     `json:"storage"`
	Notifier    NotifierConfig    `json:"notifier"`
	Ops         OpsConfig         `json:"ops"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// JobsConfig controls the background job orchestrator as a whole.
//
// Enabled is the master kill-switch: when false the orchestrator's start()
// is a no-op and no task ever fires. FailureCeiling and BackoffDelay are the
// loop-wide retry policy defaults; individual tasks may override them.
type JobsConfig struct {
	Enabled        bool             `json:"enabled"`
	FailureCeiling int              `json:"failureCeiling,omitempty"`
	BackoffDelay   string           `json:"backoffDelay,omitempty"`
	Supervisor     SupervisorConfig `json:"supervisor"`
}

// SupervisorConfig bounds in-process orchestrator restarts. This is the
// inner resilience layer; the outer one is whatever process manager hosts
// the daemon (systemd Restart=, for example) and is configured there, not
// here.
type SupervisorConfig struct {
	MaxRestarts  int    `json:"maxRestarts,omitempty"`
	RestartDelay string `json:"restartDelay,omitempty"`
}

// ScraperConfig configures the listing scrape task.
//
// Timeout keeps the original product's bare-number form: a plain number
// means minutes, a string is parsed as a Go duration.
type ScraperConfig struct {
	Interval     string       `json:"interval,omitempty"`
	InitialDelay string       `json:"initialDelay,omitempty"`
	Timeout      FlexDuration `json:"timeout,omitempty"`
	FeedURL      string       `json:"feedURL,omitempty"`
}

// HealthCheckConfig configures the periodic liveness probe. Interval keeps
// the original product's bare-number form (minutes).
type HealthCheckConfig struct {
	Interval FlexDuration `json:"interval,omitempty"`
	Timeout  string       `json:"timeout,omitempty"`
}

// CleanupConfig configures the retention cleanup task. DaysToKeep is passed
// through to the cleanup collaborator unchanged.
type CleanupConfig struct {
	Cron       string `json:"cron,omitempty"`
	DaysToKeep int    `json:"daysToKeep,omitempty"`
	Timeout    string `json:"timeout,omitempty"`
}

type StorageConfig struct {
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busyTimeout,omitempty"`
}

// NotifierConfig controls the async notification pipeline. Disabled by
// default: without a Telegram token there is nowhere to send.
type NotifierConfig struct {
	Enabled    bool           `json:"enabled"`
	RatePerMin int            `json:"ratePerMin,omitempty"`
	QueueSize  int            `json:"queueSize,omitempty"`
	Telegram   TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Token  string `json:"token,omitempty"`
	ChatID int64  `json:"chatID,omitempty"`
}

// OpsConfig controls the local HTTP ops server (/healthz, /statusz, pprof).
// The server refuses to bind a non-loopback addr unless a token is set or
// allowInsecure is explicitly true; /healthz itself is always tokenless so
// process managers can probe it.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allowInsecure,omitempty"`
}
