// Package scrape implements the listing scrape task: fetch the configured
// JSON feed, persist anything new, and announce each new listing.
package scrape

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Qais-Hweidi/Burroughs-Alert-sub002/internal/storage"
	logx "github.com/Qais-Hweidi/Burroughs-Alert-sub002/pkg/logx"
)

// maxFeedBytes caps how much of a response body gets read; a misbehaving
// feed should fail the run, not exhaust memory.
const maxFeedBytes = 8 << 20

// Store is the slice of the storage API the scrape task needs.
type Store interface {
	UpsertListings(ctx context.Context, items []storage.Listing) ([]storage.Listing, error)
}

// Announcer receives one message per newly discovered listing. A nil
// Announcer disables announcements (scrape still persists).
type Announcer interface {
	Announce(ctx context.Context, text string)
}

type Config struct {
	FeedURL string
	// Client defaults to http.DefaultClient. The run deadline comes from
	// ctx, so no client timeout is set here.
	Client *http.Client
}

type Task struct {
	cfg   Config
	store Store
	ann   Announcer
	log   logx.Logger
}

func New(cfg Config, store Store, ann Announcer, log logx.Logger) *Task {
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Task{cfg: cfg, store: store, ann: ann, log: log}
}

// feedListing is the wire shape of one entry in the listings feed.
type feedListing struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Price        int64  `json:"price"`
	Neighborhood string `json:"neighborhood"`
	URL          string `json:"url"`
}

// Run fetches the feed once. Errors surface to the caller so the scheduler
// counts them toward the task's failure ceiling.
func (t *Task) Run(ctx context.Context) error {
	if strings.TrimSpace(t.cfg.FeedURL) == "" {
		return errors.New("no feed url configured")
	}
	start := time.Now()

	entries, err := t.fetch(ctx)
	if err != nil {
		return err
	}

	items := make([]storage.Listing, 0, len(entries))
	for _, e := range entries {
		items = append(items, storage.Listing{
			ExternalID:   e.ID,
			Title:        e.Title,
			Price:        e.Price,
			Neighborhood: e.Neighborhood,
			URL:          e.URL,
		})
	}
	inserted, err := t.store.UpsertListings(ctx, items)
	if err != nil {
		return fmt.Errorf("persist listings: %w", err)
	}

	if t.ann != nil {
		for _, it := range inserted {
			t.ann.Announce(ctx, formatListing(it))
		}
	}

	t.log.Info("scrape finished",
		logx.Int("fetched", len(entries)),
		logx.Int("new", len(inserted)),
		logx.Duration("took", time.Since(start)))
	return nil
}

func (t *Task) fetch(ctx context.Context) ([]feedListing, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.cfg.FeedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build feed request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := t.cfg.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch feed: unexpected status %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("read feed: %w", err)
	}
	return decodeFeed(body)
}

// decodeFeed accepts either a bare JSON array or an object wrapping it in a
// "listings" field; the feed has been published both ways.
func decodeFeed(body []byte) ([]feedListing, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return nil, errors.New("decode feed: empty body")
	}
	if trimmed[0] == '[' {
		var entries []feedListing
		if err := json.Unmarshal(body, &entries); err != nil {
			return nil, fmt.Errorf("decode feed: %w", err)
		}
		return entries, nil
	}
	var wrapped struct {
		Listings []feedListing `json:"listings"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}
	return wrapped.Listings, nil
}

func formatListing(it storage.Listing) string {
	var b strings.Builder
	b.WriteString("New listing: ")
	b.WriteString(it.Title)
	if it.Price > 0 {
		fmt.Fprintf(&b, " ($%d/mo)", it.Price)
	}
	if it.Neighborhood != "" {
		b.WriteString(" in ")
		b.WriteString(it.Neighborhood)
	}
	if it.URL != "" {
		b.WriteString("\n")
		b.WriteString(it.URL)
	}
	return b.String()
}
