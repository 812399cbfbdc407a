package cache

import (
	"context"
	"sort"
	"sync"
)

// MemoryCache is a non-durable Cache keeping everything in a mutex-guarded
// map. Useful in tests and for one-shot runs that do not need resumption.
type MemoryCache struct {
	lock    sync.RWMutex
	entries map[Key]Entry
}

var _ Cache = (*MemoryCache)(nil)

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[Key]Entry)}
}

// Get see [Cache].Get.
func (c *MemoryCache) Get(_ context.Context, key Key) (Entry, bool, error) {
	c.lock.RLock()
	defer c.lock.RUnlock()

	entry, ok := c.entries[key]

	return entry, ok, nil
}

// Put see [Cache].Put.
func (c *MemoryCache) Put(_ context.Context, key Key, entry Entry) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.entries[key] = entry

	return nil
}

// Invalidate see [Cache].Invalidate.
func (c *MemoryCache) Invalidate(_ context.Context, experiment string) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	for key := range c.entries {
		if key.Experiment == experiment {
			delete(c.entries, key)
		}
	}

	return nil
}

// List see [Cache].List.
func (c *MemoryCache) List(_ context.Context, experiment string) ([]KeyedEntry, error) {
	c.lock.RLock()
	defer c.lock.RUnlock()

	res := make([]KeyedEntry, 0)
	for key, entry := range c.entries {
		if key.Experiment == experiment {
			res = append(res, KeyedEntry{Key: key, Entry: entry})
		}
	}

	sort.Slice(res, func(i, j int) bool {
		a, b := res[i].Key, res[j].Key
		if a.Queue != b.Queue {
			return a.Queue < b.Queue
		}
		if a.Step != b.Step {
			return a.Step < b.Step
		}

		return a.Sample < b.Sample
	})

	return res, nil
}

// Close see [Cache].Close.
func (c *MemoryCache) Close() error {
	return nil
}
