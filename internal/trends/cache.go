package trends

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/trendmill/trendmill/pkg/types"
)

// ErrFetchFailed is returned by GetOrFetch when the external lookup failed
// and no cached entry exists to fall back on. Callers skip the keyword.
var ErrFetchFailed = errors.New("trends: fetch failed")

// CacheStore is the slice of persistence the cache needs. Get returns nil
// (no error) when no entry exists.
type CacheStore interface {
	GetCacheEntry(ctx context.Context, keywordID int64, geo, timeframe string) (*types.TrendsCacheEntry, error)
	PutCacheEntry(ctx context.Context, e types.TrendsCacheEntry) error
}

// Fetcher is the external lookup the cache falls back to on miss or expiry.
type Fetcher interface {
	Fetch(ctx context.Context, keyword, geo, timeframe string) ([]float64, error)
}

// Cache decides fetch-vs-reuse for weekly series. An entry younger than ttl
// is served without any external call; expired or missing entries trigger a
// fetch whose result replaces the entry wholesale. When the fetch fails and
// a stale entry exists, the stale series is served instead of an error.
type Cache struct {
	store   CacheStore
	fetcher Fetcher
	ttl     time.Duration
	now     func() time.Time // injectable for deterministic tests
}

// NewCache wires a Cache over the given store and fetcher.
func NewCache(store CacheStore, fetcher Fetcher, ttl time.Duration) *Cache {
	return &Cache{
		store:   store,
		fetcher: fetcher,
		ttl:     ttl,
		now:     time.Now,
	}
}

// GetOrFetch returns the weekly series for kw. The only error it returns is
// ErrFetchFailed (wrapped with keyword context); cache-store hiccups degrade
// to a fetch or a warning, never to a hard failure.
func (c *Cache) GetOrFetch(ctx context.Context, kw types.Keyword, geo, timeframe string) ([]float64, error) {
	entry, err := c.store.GetCacheEntry(ctx, kw.ID, geo, timeframe)
	if err != nil {
		// Treat an unreadable cache row as a miss; the fetch below decides
		// whether the keyword survives.
		slog.Warn("trends: cache read failed", "keyword", kw.Text, "err", err)
		entry = nil
	}

	if entry != nil {
		age := c.now().Sub(entry.FetchedAt)
		if age < c.ttl {
			slog.Debug("trends: cache hit",
				"keyword", kw.Text, "age", age)
			return entry.Series, nil
		}
	}

	series, err := c.fetcher.Fetch(ctx, kw.Text, geo, timeframe)
	if err != nil {
		if entry != nil {
			slog.Warn("trends: fetch failed, serving stale cache",
				"keyword", kw.Text,
				"age", c.now().Sub(entry.FetchedAt),
				"err", err)
			return entry.Series, nil
		}
		return nil, fmt.Errorf("%w: keyword %q: %v", ErrFetchFailed, kw.Text, err)
	}

	put := types.TrendsCacheEntry{
		KeywordID: kw.ID,
		Geo:       geo,
		Timeframe: timeframe,
		Series:    series,
		FetchedAt: c.now(),
	}
	if err := c.store.PutCacheEntry(ctx, put); err != nil {
		// Serve the fresh series anyway; the entry is refetched next run.
		slog.Warn("trends: cache write failed", "keyword", kw.Text, "err", err)
	}

	return series, nil
}
