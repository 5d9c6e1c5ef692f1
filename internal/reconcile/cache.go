package reconcile

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/earthcopilot/mapview/internal/interpret"
	"github.com/earthcopilot/mapview/pkg/backend"
)

// DescriptorCache is a concurrent-safe LRU cache of TileJSON documents with
// TTL expiration. It wraps a fetcher and serves repeated descriptor lookups
// for the same item without another backend round trip.
type DescriptorCache struct {
	next interpret.DescriptorFetcher

	mu         sync.Mutex
	entries    map[string]*descriptorEntry
	order      []string // front=oldest, back=newest
	maxEntries int
	ttl        time.Duration
	now        func() time.Time
	hits       atomic.Int64
	misses     atomic.Int64
}

type descriptorEntry struct {
	doc       *backend.TileJSON
	createdAt time.Time
}

// CacheStats contains cache performance statistics.
type CacheStats struct {
	Entries    int     `json:"entries"`
	MaxEntries int     `json:"max_entries"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	HitRate    float64 `json:"hit_rate"`
}

// NewDescriptorCache wraps next with a cache of the given capacity and TTL.
func NewDescriptorCache(next interpret.DescriptorFetcher, maxEntries int, ttl time.Duration) *DescriptorCache {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	return &DescriptorCache{
		next:       next,
		entries:    make(map[string]*descriptorEntry),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
	}
}

// FetchTileJSON returns the cached document for url or fetches and stores it.
// Failed fetches are not cached.
func (c *DescriptorCache) FetchTileJSON(ctx context.Context, url string) (*backend.TileJSON, error) {
	if doc := c.get(url); doc != nil {
		return doc, nil
	}
	doc, err := c.next.FetchTileJSON(ctx, url)
	if err != nil {
		return nil, err
	}
	c.put(url, doc)
	return doc, nil
}

func (c *DescriptorCache) get(key string) *backend.TileJSON {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)
		return nil
	}
	if c.ttl > 0 && c.now().Sub(entry.createdAt) > c.ttl {
		delete(c.entries, key)
		c.removeFromOrder(key)
		c.misses.Add(1)
		return nil
	}

	c.removeFromOrder(key)
	c.order = append(c.order, key)
	c.hits.Add(1)
	return entry.doc
}

func (c *DescriptorCache) put(key string, doc *backend.TileJSON) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		c.entries[key] = &descriptorEntry{doc: doc, createdAt: c.now()}
		c.removeFromOrder(key)
		c.order = append(c.order, key)
		return
	}

	for len(c.entries) >= c.maxEntries && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[key] = &descriptorEntry{doc: doc, createdAt: c.now()}
	c.order = append(c.order, key)
}

// Purge drops every cached document.
func (c *DescriptorCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*descriptorEntry)
	c.order = nil
}

// Stats returns cache performance statistics.
func (c *DescriptorCache) Stats() CacheStats {
	c.mu.Lock()
	entries := len(c.entries)
	c.mu.Unlock()

	hits, misses := c.hits.Load(), c.misses.Load()
	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}
	return CacheStats{
		Entries:    entries,
		MaxEntries: c.maxEntries,
		Hits:       hits,
		Misses:     misses,
		HitRate:    rate,
	}
}

func (c *DescriptorCache) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}
