package storage

import (
	"context"
	"time"

	logx "github.com/Qais-Hweidi/Burroughs-Alert-sub002/pkg/logx"
)

// Store is the persistence API consumed by the scrape, health-check and
// cleanup tasks. The orchestrator core never touches it.
type Store interface {
	// UpsertListings inserts listings that are not yet known (by
	// ExternalID) and returns the newly inserted ones, IDs assigned.
	UpsertListings(ctx context.Context, items []Listing) (inserted []Listing, err error)
	RecentListings(ctx context.Context, limit int) ([]Listing, error)
	RecordRun(ctx context.Context, rec RunRecord) error
	// PruneBefore deletes listings first seen and runs started before
	// cutoff, reporting how many rows of each went away.
	PruneBefore(ctx context.Context, cutoff time.Time) (listings, runs int64, err error)
	Ping(ctx context.Context) error
	Close() error
}

// Open initializes the sqlite-backed store at cfg.Path, applying schema
// migrations.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	return openSQLite(cfg, log)
}
