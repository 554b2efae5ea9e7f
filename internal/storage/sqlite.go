package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "github.com/Qais-Hweidi/Burroughs-Alert-sub002/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage path is required")
	}
	path := cfg.Path
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("store closed")
	}
	var one int
	return s.db.QueryRowContext(ctx, `SELECT 1`).Scan(&one)
}

func (s *sqliteStore) UpsertListings(ctx context.Context, items []Listing) ([]Listing, error) {
	if len(items) == 0 {
		return nil, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO listings(external_id, title, price, neighborhood, url, first_seen)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(external_id) DO NOTHING`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = stmt.Close() }()

	var inserted []Listing
	for _, it := range items {
		if strings.TrimSpace(it.ExternalID) == "" {
			continue
		}
		if it.FirstSeen.IsZero() {
			it.FirstSeen = time.Now()
		}
		res, err := stmt.ExecContext(ctx,
			it.ExternalID, it.Title, it.Price, it.Neighborhood, it.URL, it.FirstSeen.UnixMilli())
		if err != nil {
			return nil, err
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			if id, err := res.LastInsertId(); err == nil {
				it.ID = id
			}
			inserted = append(inserted, it)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return inserted, nil
}

func (s *sqliteStore) RecentListings(ctx context.Context, limit int) ([]Listing, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, external_id, title, price, neighborhood, url, first_seen
		 FROM listings ORDER BY first_seen DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Listing
	for rows.Next() {
		var it Listing
		var firstSeen int64
		if err := rows.Scan(&it.ID, &it.ExternalID, &it.Title, &it.Price, &it.Neighborhood, &it.URL, &firstSeen); err != nil {
			return nil, err
		}
		it.FirstSeen = time.UnixMilli(firstSeen)
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *sqliteStore) RecordRun(ctx context.Context, rec RunRecord) error {
	if rec.Started.IsZero() {
		rec.Started = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_runs(task, outcome, started, duration_ms, error)
		 VALUES(?,?,?,?,?)`,
		rec.Task, rec.Outcome, rec.Started.UnixMilli(), rec.Duration.Milliseconds(), nullStr(rec.Error))
	return err
}

func (s *sqliteStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, int64, error) {
	ms := cutoff.UnixMilli()
	res, err := s.db.ExecContext(ctx, `DELETE FROM listings WHERE first_seen < ?`, ms)
	if err != nil {
		return 0, 0, err
	}
	listings, _ := res.RowsAffected()
	res, err = s.db.ExecContext(ctx, `DELETE FROM job_runs WHERE started < ?`, ms)
	if err != nil {
		return listings, 0, err
	}
	runs, _ := res.RowsAffected()
	return listings, runs, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
