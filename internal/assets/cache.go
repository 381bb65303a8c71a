package assets

import "sync"

type cacheKey struct {
	registryID string
	rev        uint64
	assetKey   string
}

// Cache memoizes history lookups per registry snapshot. Keys combine the
// registry's identity with its revision counter, so a mutated or freshly
// loaded registry misses the cache instead of serving stale histories.
// Entries for dead revisions are evicted lazily as registries are re-read.
type Cache struct {
	mu      sync.RWMutex
	entries map[cacheKey]*History
	latest  map[string]uint64
}

// NewCache returns an empty lookup cache.
func NewCache() *Cache {
	return &Cache{
		entries: make(map[cacheKey]*History),
		latest:  make(map[string]uint64),
	}
}

// Lookup returns the memoized history for the registry snapshot, if any.
func (c *Cache) Lookup(reg *Registry, assetKey string) (*History, bool) {
	if c == nil || reg == nil {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.entries[cacheKey{registryID: reg.ID(), rev: reg.Rev(), assetKey: assetKey}]
	return h, ok
}

// Store memoizes a history lookup for the registry snapshot, discarding any
// entries cached for earlier revisions of the same registry.
func (c *Cache) Store(reg *Registry, assetKey string, h *History) {
	if c == nil || reg == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	id, rev := reg.ID(), reg.Rev()
	if prior, ok := c.latest[id]; ok && prior != rev {
		for key := range c.entries {
			if key.registryID == id && key.rev != rev {
				delete(c.entries, key)
			}
		}
	}
	c.latest[id] = rev
	c.entries[cacheKey{registryID: id, rev: rev, assetKey: assetKey}] = h
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
