// Package snapshot freezes search-result orderings for a bounded freshness
// window, so paginated re-reads return the same ordering without re-scraping.
package snapshot

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Cache stores ordered listing-ID snapshots under a query key.
type Cache interface {
	Get(ctx context.Context, key string) ([]string, bool)
	Set(ctx context.Context, key string, ids []string) error
	// Len reports live snapshots; the admin dashboard surfaces it.
	Len() int
}

// Clock is injected so tests control expiry.
type Clock func() time.Time

const defaultMaxEntries = 256

// MemoryCache is the single-process implementation: TTL per entry, oldest
// entries evicted when the cap is hit.
type MemoryCache struct {
	mu         sync.Mutex
	ttl        time.Duration
	now        Clock
	maxEntries int
	entries    map[string]memEntry
}

type memEntry struct {
	ids     []string
	savedAt time.Time
}

func NewMemoryCache(ttl time.Duration, now Clock) *MemoryCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryCache{
		ttl:        ttl,
		now:        now,
		maxEntries: defaultMaxEntries,
		entries:    make(map[string]memEntry),
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.savedAt) > c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	return append([]string(nil), e.ids...), true
}

func (c *MemoryCache) Set(_ context.Context, key string, ids []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memEntry{ids: append([]string(nil), ids...), savedAt: c.now()}
	c.evictLocked()
	return nil
}

func (c *MemoryCache) evictLocked() {
	now := c.now()
	for k, e := range c.entries {
		if now.Sub(e.savedAt) > c.ttl {
			delete(c.entries, k)
		}
	}
	if len(c.entries) <= c.maxEntries {
		return
	}
	type aged struct {
		key string
		at  time.Time
	}
	all := make([]aged, 0, len(c.entries))
	for k, e := range c.entries {
		all = append(all, aged{k, e.savedAt})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].at.Before(all[j].at) })
	for _, a := range all[:len(c.entries)-c.maxEntries] {
		delete(c.entries, a.key)
	}
}

// Len reports live (unexpired) entries.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, now := 0, c.now()
	for _, e := range c.entries {
		if now.Sub(e.savedAt) <= c.ttl {
			n++
		}
	}
	return n
}
