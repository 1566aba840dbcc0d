package rules

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"edgelink/internal/common/errors"
	"edgelink/internal/common/logging"
	"edgelink/internal/models"
)

// snapshot is one cached (link, rule set) pair. Entries are immutable
// once stored; invalidation swaps the whole entry.
type snapshot struct {
	link      *models.Link
	rules     *models.RuleSet
	fetchedAt time.Time
}

// Cache is the read-mostly rule store cache on the resolution hot path.
// It populates lazily per link key, collapses concurrent misses for the
// same key into one upstream fetch, and serves a stale entry when the
// store is unreachable rather than failing the redirect.
type Cache struct {
	fetcher Fetcher
	ttl     time.Duration
	logger  logging.Logger

	mu      sync.RWMutex
	entries map[string]*snapshot

	group      singleflight.Group
	generation atomic.Uint64 // bumped on every invalidation, observable for tests

	hits   atomic.Uint64
	misses atomic.Uint64
	stale  atomic.Uint64
}

// NewCache creates a cache refilling from fetcher. Entries older than
// ttl refresh on next access; ttl <= 0 disables expiry.
func NewCache(fetcher Fetcher, ttl time.Duration, logger logging.Logger) *Cache {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Cache{
		fetcher: fetcher,
		ttl:     ttl,
		logger:  logger,
		entries: make(map[string]*snapshot),
	}
}

func cacheKey(domain, key string) string {
	return domain + "\x00" + key
}

// Snapshot returns the link and rule set for (domain, key). Fresh cache
// hits are lock-free beyond an RLock; misses collapse into a single
// upstream fetch per key. When the store is unavailable, any cached
// entry (even expired) is served; with no cached data the
// StoreUnavailable error propagates to the caller.
func (c *Cache) Snapshot(ctx context.Context, domain, key string) (*models.Link, *models.RuleSet, error) {
	ck := cacheKey(domain, key)

	c.mu.RLock()
	entry := c.entries[ck]
	c.mu.RUnlock()

	if entry != nil && !c.expired(entry) {
		c.hits.Add(1)
		return entry.link, entry.rules, nil
	}
	c.misses.Add(1)

	fresh, err, _ := c.group.Do(ck, func() (interface{}, error) {
		return c.refill(ctx, domain, key, ck)
	})
	if err != nil {
		if errors.IsType(err, errors.ErrTypeStoreUnavailable) && entry != nil {
			c.stale.Add(1)
			c.logger.Warn("rule store unavailable, serving stale entry",
				logging.Field{Key: "key", Value: key},
			)
			return entry.link, entry.rules, nil
		}
		return nil, nil, err
	}

	s := fresh.(*snapshot)
	return s.link, s.rules, nil
}

func (c *Cache) refill(ctx context.Context, domain, key, ck string) (*snapshot, error) {
	link, err := c.fetcher.GetActiveLink(ctx, domain, key)
	if err != nil {
		return nil, err
	}

	entry := &snapshot{link: link, fetchedAt: time.Now()}
	if link != nil {
		ruleSet, err := c.fetcher.GetRuleSet(ctx, link.ID)
		if err != nil {
			return nil, err
		}
		entry.rules = ruleSet
	}

	c.mu.Lock()
	c.entries[ck] = entry
	c.mu.Unlock()
	return entry, nil
}

func (c *Cache) expired(entry *snapshot) bool {
	return c.ttl > 0 && time.Since(entry.fetchedAt) >= c.ttl
}

// Invalidate drops the cached entry for (domain, key). Called on every
// link or rule set mutation; the next resolve refetches.
func (c *Cache) Invalidate(domain, key string) {
	ck := cacheKey(domain, key)
	c.mu.Lock()
	delete(c.entries, ck)
	c.mu.Unlock()
	c.generation.Add(1)
}

// Generation returns the invalidation counter.
func (c *Cache) Generation() uint64 {
	return c.generation.Load()
}

// Stats returns hit/miss/stale counters for observability.
func (c *Cache) Stats() (hits, misses, stale uint64) {
	return c.hits.Load(), c.misses.Load(), c.stale.Load()
}
