package trends

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/trendmill/trendmill/pkg/types"
)

// fakeCacheStore is a map-backed CacheStore.
type fakeCacheStore struct {
	entries map[string]*types.TrendsCacheEntry
	getErr  error
	putErr  error
	puts    int
}

func newFakeCacheStore() *fakeCacheStore {
	return &fakeCacheStore{entries: make(map[string]*types.TrendsCacheEntry)}
}

func cacheKey(id int64, geo, tf string) string {
	return fmt.Sprintf("%d|%s|%s", id, geo, tf)
}

func (f *fakeCacheStore) GetCacheEntry(_ context.Context, id int64, geo, tf string) (*types.TrendsCacheEntry, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.entries[cacheKey(id, geo, tf)], nil
}

func (f *fakeCacheStore) PutCacheEntry(_ context.Context, e types.TrendsCacheEntry) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.puts++
	f.entries[cacheKey(e.KeywordID, e.Geo, e.Timeframe)] = &e
	return nil
}

// fakeFetcher counts calls and returns a fixed series or error.
type fakeFetcher struct {
	series []float64
	err    error
	calls  int
}

func (f *fakeFetcher) Fetch(context.Context, string, string, string) ([]float64, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.series, nil
}

var testKw = types.Keyword{ID: 7, Text: "glow up", Kind: types.KindKeyword}

const (
	testGeo = "US"
	testTF  = "today 12-m"
)

// newTestCache returns a cache with a fixed, advanceable clock.
func newTestCache(store CacheStore, fetcher Fetcher) (*Cache, *time.Time) {
	now := time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC)
	c := NewCache(store, fetcher, 7*24*time.Hour)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestCache_SecondCallWithinTTLUsesCache(t *testing.T) {
	store := newFakeCacheStore()
	fetcher := &fakeFetcher{series: []float64{1, 2, 3}}
	c, _ := newTestCache(store, fetcher)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		series, err := c.GetOrFetch(ctx, testKw, testGeo, testTF)
		if err != nil {
			t.Fatalf("GetOrFetch %d: %v", i, err)
		}
		if len(series) != 3 {
			t.Fatalf("series %d: got %v", i, series)
		}
	}

	if fetcher.calls != 1 {
		t.Errorf("external fetches: got %d, want exactly 1", fetcher.calls)
	}
}

func TestCache_FreshEntryNeverRefetched(t *testing.T) {
	store := newFakeCacheStore()
	fetcher := &fakeFetcher{series: []float64{9, 9, 9}}
	c, now := newTestCache(store, fetcher)

	store.entries[cacheKey(testKw.ID, testGeo, testTF)] = &types.TrendsCacheEntry{
		KeywordID: testKw.ID, Geo: testGeo, Timeframe: testTF,
		Series:    []float64{1, 2},
		FetchedAt: now.Add(-6 * 24 * time.Hour), // younger than the 7d TTL
	}

	series, err := c.GetOrFetch(context.Background(), testKw, testGeo, testTF)
	if err != nil {
		t.Fatalf("GetOrFetch: %v", err)
	}
	if fetcher.calls != 0 {
		t.Errorf("fetches for fresh entry: got %d, want 0", fetcher.calls)
	}
	if len(series) != 2 {
		t.Errorf("series: got %v, want the cached one", series)
	}
}

func TestCache_ExpiredEntryReplacedWholesale(t *testing.T) {
	store := newFakeCacheStore()
	fetcher := &fakeFetcher{series: []float64{5, 6, 7, 8}}
	c, now := newTestCache(store, fetcher)

	store.entries[cacheKey(testKw.ID, testGeo, testTF)] = &types.TrendsCacheEntry{
		KeywordID: testKw.ID, Geo: testGeo, Timeframe: testTF,
		Series:    []float64{1, 2},
		FetchedAt: now.Add(-8 * 24 * time.Hour), // older than TTL
	}

	series, err := c.GetOrFetch(context.Background(), testKw, testGeo, testTF)
	if err != nil {
		t.Fatalf("GetOrFetch: %v", err)
	}
	if fetcher.calls != 1 {
		t.Errorf("fetches: got %d, want 1", fetcher.calls)
	}
	if len(series) != 4 {
		t.Errorf("series: got %v, want the fresh one", series)
	}

	stored := store.entries[cacheKey(testKw.ID, testGeo, testTF)]
	if len(stored.Series) != 4 {
		t.Errorf("stored series: got %v, want full replacement", stored.Series)
	}
	if !stored.FetchedAt.Equal(*now) {
		t.Errorf("stored fetched_at: got %v, want %v", stored.FetchedAt, *now)
	}
}

func TestCache_StaleFallbackOnFetchFailure(t *testing.T) {
	store := newFakeCacheStore()
	fetcher := &fakeFetcher{err: errors.New("upstream down")}
	c, now := newTestCache(store, fetcher)

	store.entries[cacheKey(testKw.ID, testGeo, testTF)] = &types.TrendsCacheEntry{
		KeywordID: testKw.ID, Geo: testGeo, Timeframe: testTF,
		Series:    []float64{3, 1, 4},
		FetchedAt: now.Add(-30 * 24 * time.Hour), // long expired
	}

	series, err := c.GetOrFetch(context.Background(), testKw, testGeo, testTF)
	if err != nil {
		t.Fatalf("GetOrFetch with stale fallback: %v", err)
	}
	if len(series) != 3 || series[2] != 4 {
		t.Errorf("series: got %v, want the stale cached one", series)
	}
	if fetcher.calls != 1 {
		t.Errorf("fetches: got %d, want 1", fetcher.calls)
	}
}

func TestCache_FetchFailureWithoutCache(t *testing.T) {
	store := newFakeCacheStore()
	fetcher := &fakeFetcher{err: errors.New("upstream down")}
	c, _ := newTestCache(store, fetcher)

	_, err := c.GetOrFetch(context.Background(), testKw, testGeo, testTF)
	if !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("err = %v, want ErrFetchFailed", err)
	}
}

func TestCache_StoreReadErrorDegradesToFetch(t *testing.T) {
	store := newFakeCacheStore()
	store.getErr = errors.New("disk trouble")
	fetcher := &fakeFetcher{series: []float64{1}}
	c, _ := newTestCache(store, fetcher)

	series, err := c.GetOrFetch(context.Background(), testKw, testGeo, testTF)
	if err != nil {
		t.Fatalf("GetOrFetch: %v", err)
	}
	if len(series) != 1 {
		t.Errorf("series: got %v", series)
	}
	if fetcher.calls != 1 {
		t.Errorf("fetches: got %d, want 1", fetcher.calls)
	}
}

func TestCache_StoreWriteErrorStillReturnsSeries(t *testing.T) {
	store := newFakeCacheStore()
	store.putErr = errors.New("disk full")
	fetcher := &fakeFetcher{series: []float64{1, 2}}
	c, _ := newTestCache(store, fetcher)

	series, err := c.GetOrFetch(context.Background(), testKw, testGeo, testTF)
	if err != nil {
		t.Fatalf("GetOrFetch: %v", err)
	}
	if len(series) != 2 {
		t.Errorf("series: got %v", series)
	}
}
