package rules

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edgelink/internal/common/errors"
	"edgelink/internal/models"
)

// countingFetcher counts upstream fetches and can be toggled unavailable.
type countingFetcher struct {
	mu          sync.Mutex
	link        *models.Link
	rules       *models.RuleSet
	fetches     atomic.Int64
	unavailable bool
	delay       time.Duration
}

func (f *countingFetcher) GetActiveLink(ctx context.Context, domain, key string) (*models.Link, error) {
	f.fetches.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unavailable {
		return nil, errors.StoreUnavailableError("rule store down", nil)
	}
	return f.link, nil
}

func (f *countingFetcher) GetRuleSet(ctx context.Context, linkID int64) (*models.RuleSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unavailable {
		return nil, errors.StoreUnavailableError("rule store down", nil)
	}
	return f.rules, nil
}

func (f *countingFetcher) setUnavailable(down bool) {
	f.mu.Lock()
	f.unavailable = down
	f.mu.Unlock()
}

func newTestFetcher() *countingFetcher {
	return &countingFetcher{
		link:  &models.Link{ID: 1, Key: "abc123", DefaultTarget: "https://example.com", Active: true},
		rules: &models.RuleSet{LinkID: 1, Version: 1},
	}
}

func TestCacheHitAvoidsRefetch(t *testing.T) {
	fetcher := newTestFetcher()
	cache := NewCache(fetcher, time.Minute, nil)

	for i := 0; i < 5; i++ {
		link, _, err := cache.Snapshot(context.Background(), "", "abc123")
		require.NoError(t, err)
		require.NotNil(t, link)
	}

	assert.Equal(t, int64(1), fetcher.fetches.Load(), "one lazy fill, then hits")
}

func TestCacheSingleFlight(t *testing.T) {
	fetcher := newTestFetcher()
	fetcher.delay = 20 * time.Millisecond
	cache := NewCache(fetcher, time.Minute, nil)

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			link, _, err := cache.Snapshot(context.Background(), "", "abc123")
			assert.NoError(t, err)
			assert.NotNil(t, link)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), fetcher.fetches.Load(), "concurrent misses must collapse into one fetch")
}

func TestCacheInvalidateForcesRefetch(t *testing.T) {
	fetcher := newTestFetcher()
	cache := NewCache(fetcher, time.Minute, nil)

	_, _, err := cache.Snapshot(context.Background(), "", "abc123")
	require.NoError(t, err)

	gen := cache.Generation()
	fetcher.mu.Lock()
	fetcher.rules = &models.RuleSet{LinkID: 1, Version: 2}
	fetcher.mu.Unlock()

	cache.Invalidate("", "abc123")
	assert.Equal(t, gen+1, cache.Generation())

	_, ruleSet, err := cache.Snapshot(context.Background(), "", "abc123")
	require.NoError(t, err)
	assert.Equal(t, int64(2), ruleSet.Version, "post-invalidation resolve must see the new rules")
	assert.Equal(t, int64(2), fetcher.fetches.Load())
}

func TestCacheServesStaleWhenStoreUnavailable(t *testing.T) {
	fetcher := newTestFetcher()
	cache := NewCache(fetcher, time.Millisecond, nil)

	_, _, err := cache.Snapshot(context.Background(), "", "abc123")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond) // let the entry expire
	fetcher.setUnavailable(true)

	link, _, err := cache.Snapshot(context.Background(), "", "abc123")
	require.NoError(t, err, "stale entry must be served over failing the redirect")
	assert.Equal(t, "abc123", link.Key)

	_, _, stale := cache.Stats()
	assert.Equal(t, uint64(1), stale)
}

func TestCacheHardFailureWithoutCachedData(t *testing.T) {
	fetcher := newTestFetcher()
	fetcher.setUnavailable(true)
	cache := NewCache(fetcher, time.Minute, nil)

	_, _, err := cache.Snapshot(context.Background(), "", "never-seen")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeStoreUnavailable))
}

func TestCacheMissingLinkCached(t *testing.T) {
	fetcher := newTestFetcher()
	fetcher.link = nil
	cache := NewCache(fetcher, time.Minute, nil)

	link, _, err := cache.Snapshot(context.Background(), "", "ghost")
	require.NoError(t, err)
	assert.Nil(t, link)

	_, _, err = cache.Snapshot(context.Background(), "", "ghost")
	require.NoError(t, err)
	assert.Equal(t, int64(1), fetcher.fetches.Load(), "negative lookups are cached too")
}
