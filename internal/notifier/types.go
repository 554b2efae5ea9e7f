package notifier

import "time"

// Config controls the async announcement pipeline.
type Config struct {
	Enabled       bool
	Workers       int
	QueueSize     int
	RatePerMin    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.RatePerMin <= 0 {
		c.RatePerMin = 20
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	return c
}

// HistoryItem is one delivered announcement, kept for the status page.
type HistoryItem struct {
	At   time.Time `json:"at"`
	Text string    `json:"text"`
}

// DeliveryEvent is the bus payload for pipeline lifecycle events
// (notifier.queued, notifier.sent, notifier.failed, notifier.dropped).
type DeliveryEvent struct {
	Text  string    `json:"text"`
	At    time.Time `json:"at"`
	Error string    `json:"error,omitempty"`
}
