package store

import (
	"context"
	"slices"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Cache is a read-through, write-through cache over a Store. Entries stay
// until Invalidate, Refresh, or a write through the cache replaces them;
// there is no expiry. Concurrent misses for the same record share one
// backend load.
type Cache struct {
	backend Store

	mu      sync.RWMutex
	entries map[cacheKey][]byte
	// gen is bumped by every write and invalidation so a slow load that
	// started earlier cannot install an older body.
	gen   map[cacheKey]uint64
	group singleflight.Group

	hits, misses uint64
}

type cacheKey struct {
	kind Kind
	id   string
}

func (k cacheKey) String() string { return string(k.kind) + "/" + k.id }

// NewCache wraps backend.
func NewCache(backend Store) *Cache {
	return &Cache{
		backend: backend,
		entries: make(map[cacheKey][]byte),
		gen:     make(map[cacheKey]uint64),
	}
}

// Backend returns the wrapped store.
func (c *Cache) Backend() Store { return c.backend }

// Load serves id from memory when present, otherwise from the backend.
func (c *Cache) Load(ctx context.Context, kind Kind, id string) ([]byte, error) {
	key := cacheKey{kind, id}
	c.mu.Lock()
	data, ok := c.entries[key]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	c.mu.Unlock()
	if ok {
		return slices.Clone(data), nil
	}
	return c.load(ctx, key)
}

// Refresh reloads id from the backend and replaces the cached copy.
func (c *Cache) Refresh(ctx context.Context, kind Kind, id string) ([]byte, error) {
	c.Invalidate(kind, id)
	return c.load(ctx, cacheKey{kind, id})
}

func (c *Cache) load(ctx context.Context, key cacheKey) ([]byte, error) {
	v, err, _ := c.group.Do(key.String(), func() (any, error) {
		c.mu.RLock()
		g := c.gen[key]
		c.mu.RUnlock()

		data, err := c.backend.Load(ctx, key.kind, key.id)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.gen[key] == g {
			c.entries[key] = data
		}
		c.mu.Unlock()
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(v.([]byte)), nil
}

// Save writes through to the backend and caches the new body on success.
// On failure the cached copy is dropped so the next read goes to disk.
func (c *Cache) Save(ctx context.Context, kind Kind, id string, data []byte) error {
	key := cacheKey{kind, id}
	if err := c.backend.Save(ctx, kind, id, data); err != nil {
		c.Invalidate(kind, id)
		return err
	}
	c.mu.Lock()
	c.gen[key]++
	c.entries[key] = slices.Clone(data)
	c.mu.Unlock()
	return nil
}

// Delete removes id from the backend and the cache.
func (c *Cache) Delete(ctx context.Context, kind Kind, id string) error {
	c.Invalidate(kind, id)
	return c.backend.Delete(ctx, kind, id)
}

// List always asks the backend.
func (c *Cache) List(ctx context.Context, kind Kind) ([]string, error) {
	return c.backend.List(ctx, kind)
}

// Invalidate drops the cached copy of id.
func (c *Cache) Invalidate(kind Kind, id string) {
	key := cacheKey{kind, id}
	c.mu.Lock()
	c.gen[key]++
	delete(c.entries, key)
	c.mu.Unlock()
	c.group.Forget(key.String())
}

// InvalidateKind drops every cached record of kind.
func (c *Cache) InvalidateKind(kind Kind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if k.kind == kind {
			c.gen[k]++
			delete(c.entries, k)
		}
	}
}

// InvalidateAll empties the cache.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	for k := range c.entries {
		c.gen[k]++
	}
	c.entries = make(map[cacheKey][]byte)
	c.mu.Unlock()
}

// Cached reports whether id currently has an in-memory copy.
func (c *Cache) Cached(kind Kind, id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[cacheKey{kind, id}]
	return ok
}

// CacheStats reports hit and miss counts.
type CacheStats struct {
	Entries int
	Hits    uint64
	Misses  uint64
}

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return CacheStats{Entries: len(c.entries), Hits: c.hits, Misses: c.misses}
}

// Close closes the backend.
func (c *Cache) Close() error {
	c.InvalidateAll()
	return c.backend.Close()
}
