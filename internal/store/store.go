package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/trendmill/trendmill/internal/store/migrations"
	"github.com/trendmill/trendmill/pkg/types"
)

// Store persists keywords, cached trend series, and daily snapshots in a
// single SQLite database file. All methods are safe for use from one
// process; the pipeline is single-process by design.
type Store struct {
	db *sql.DB
}

// New opens (creating if needed) the database at path and applies any
// pending schema migrations.
func New(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("store: create dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %q: %w", path, err)
	}

	// One writer at a time; a single pooled connection avoids SQLITE_BUSY
	// when reads interleave with the nightly write burst.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable foreign keys: %w", err)
	}

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	return &Store{db: db}, nil
}

// migrateUp applies all embedded migrations that have not run yet.
func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("open migration source: %w", err)
	}

	driver, err := sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertKeyword inserts text on first sighting and updates last_seen on
// every later one. The stored kind and first_seen are never overwritten.
func (s *Store) UpsertKeyword(ctx context.Context, text string, kind types.KeywordKind, seen time.Time) (types.Keyword, error) {
	day := types.DateOf(seen).Format(types.DateLayout)

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO keywords (text, kind, first_seen, last_seen)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(text) DO UPDATE SET last_seen = excluded.last_seen
		RETURNING id, text, kind, first_seen, last_seen
	`, text, string(kind), day, day)

	return scanKeyword(row)
}

// scanKeyword scans one keywords row.
func scanKeyword(row *sql.Row) (types.Keyword, error) {
	var (
		k           types.Keyword
		kind        string
		first, last string
	)
	if err := row.Scan(&k.ID, &k.Text, &kind, &first, &last); err != nil {
		return types.Keyword{}, fmt.Errorf("store: scan keyword: %w", err)
	}
	k.Kind = types.KeywordKind(kind)

	var err error
	if k.FirstSeen, err = time.Parse(types.DateLayout, first); err != nil {
		return types.Keyword{}, fmt.Errorf("store: keyword first_seen: %w", err)
	}
	if k.LastSeen, err = time.Parse(types.DateLayout, last); err != nil {
		return types.Keyword{}, fmt.Errorf("store: keyword last_seen: %w", err)
	}
	return k, nil
}

// InsertSnapshot writes one (keyword, date) snapshot row. A snapshot that
// already exists for the pair is left untouched and inserted=false is
// returned, which makes same-day re-runs idempotent.
func (s *Store) InsertSnapshot(ctx context.Context, snap types.DailySnapshot) (inserted bool, err error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_snapshots
			(keyword_id, date, momentum_score, raw_score, lift, acceleration, novelty, noise)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(keyword_id, date) DO NOTHING
	`, snap.KeywordID, snap.Date.Format(types.DateLayout), snap.Momentum,
		snap.Raw, snap.Lift, snap.Acceleration, snap.Novelty, snap.Noise)
	if err != nil {
		return false, fmt.Errorf("store: insert snapshot: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: insert snapshot: %w", err)
	}
	return n > 0, nil
}

// GetCacheEntry returns the cached series for (keywordID, geo, timeframe),
// or nil when no entry exists. Staleness is the caller's concern.
func (s *Store) GetCacheEntry(ctx context.Context, keywordID int64, geo, timeframe string) (*types.TrendsCacheEntry, error) {
	var (
		e       types.TrendsCacheEntry
		series  string
		fetched string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT keyword_id, geo, timeframe, series, fetched_at
		FROM trends_cache
		WHERE keyword_id = ? AND geo = ? AND timeframe = ?
	`, keywordID, geo, timeframe).Scan(&e.KeywordID, &e.Geo, &e.Timeframe, &series, &fetched)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get cache entry: %w", err)
	}

	if err := json.Unmarshal([]byte(series), &e.Series); err != nil {
		return nil, fmt.Errorf("store: decode cached series: %w", err)
	}
	if e.FetchedAt, err = time.Parse(time.RFC3339Nano, fetched); err != nil {
		return nil, fmt.Errorf("store: cache fetched_at: %w", err)
	}
	return &e, nil
}

// PutCacheEntry replaces the entry for (keyword, geo, timeframe) wholesale:
// new series, new fetched_at, never a partial merge.
func (s *Store) PutCacheEntry(ctx context.Context, e types.TrendsCacheEntry) error {
	series, err := json.Marshal(e.Series)
	if err != nil {
		return fmt.Errorf("store: encode series: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO trends_cache (keyword_id, geo, timeframe, series, fetched_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(keyword_id, geo, timeframe) DO UPDATE SET
			series = excluded.series,
			fetched_at = excluded.fetched_at
	`, e.KeywordID, e.Geo, e.Timeframe, string(series),
		e.FetchedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("store: put cache entry: %w", err)
	}
	return nil
}

// SnapshotsForDate returns the scored rows for one date joined with their
// keyword and cached series, ranked by momentum descending. Keywords whose
// cache entry has vanished get an empty series.
func (s *Store) SnapshotsForDate(ctx context.Context, date time.Time, geo, timeframe string) ([]types.PageRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT k.id, k.text, k.kind, k.first_seen, k.last_seen,
		       s.date, s.momentum_score, s.raw_score, s.lift, s.acceleration, s.novelty, s.noise,
		       COALESCE(c.series, '[]')
		FROM daily_snapshots s
		JOIN keywords k ON k.id = s.keyword_id
		LEFT JOIN trends_cache c
		       ON c.keyword_id = s.keyword_id AND c.geo = ? AND c.timeframe = ?
		WHERE s.date = ?
		ORDER BY s.momentum_score DESC, k.text ASC
	`, geo, timeframe, types.DateOf(date).Format(types.DateLayout))
	if err != nil {
		return nil, fmt.Errorf("store: snapshots for date: %w", err)
	}
	defer rows.Close()

	var out []types.PageRow
	for rows.Next() {
		var (
			r           types.PageRow
			kind        string
			first, last string
			day         string
			series      string
		)
		if err := rows.Scan(
			&r.Keyword.ID, &r.Keyword.Text, &kind, &first, &last,
			&day, &r.Snapshot.Momentum, &r.Snapshot.Raw, &r.Snapshot.Lift,
			&r.Snapshot.Acceleration, &r.Snapshot.Novelty, &r.Snapshot.Noise,
			&series,
		); err != nil {
			return nil, fmt.Errorf("store: scan page row: %w", err)
		}

		r.Keyword.Kind = types.KeywordKind(kind)
		if r.Keyword.FirstSeen, err = time.Parse(types.DateLayout, first); err != nil {
			return nil, fmt.Errorf("store: page row first_seen: %w", err)
		}
		if r.Keyword.LastSeen, err = time.Parse(types.DateLayout, last); err != nil {
			return nil, fmt.Errorf("store: page row last_seen: %w", err)
		}
		if r.Snapshot.Date, err = time.Parse(types.DateLayout, day); err != nil {
			return nil, fmt.Errorf("store: page row date: %w", err)
		}
		r.Snapshot.KeywordID = r.Keyword.ID
		if err := json.Unmarshal([]byte(series), &r.Series); err != nil {
			return nil, fmt.Errorf("store: page row series: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Backup writes a consistent copy of the live database to dst using
// VACUUM INTO. dst must not already exist.
func (s *Store) Backup(ctx context.Context, dst string) error {
	if _, err := os.Stat(dst); err == nil {
		return fmt.Errorf("store: backup target %q already exists", dst)
	}
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", dst); err != nil {
		return fmt.Errorf("store: backup: %w", err)
	}
	return nil
}
