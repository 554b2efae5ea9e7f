package storage

import (
	"time"
)

type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means driver default
}

// Listing is one apartment listing as persisted. ExternalID is the feed's
// own identifier; it deduplicates listings across scrape runs.
type Listing struct {
	ID           int64
	ExternalID   string
	Title        string
	Price        int64
	Neighborhood string
	URL          string
	FirstSeen    time.Time
}

// RunRecord is one task run outcome, kept for operator forensics and pruned
// by the cleanup task together with old listings.
type RunRecord struct {
	Task     string
	Outcome  string
	Started  time.Time
	Duration time.Duration
	Error    string
}
