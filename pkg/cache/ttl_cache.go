package cache

import (
	"hash/fnv"
	"sync"
	"time"
)

const numShards = 16

// TTLCache is a sharded price cache where every entry expires a fixed
// duration after it was written. Expired entries are evicted lazily on
// read; Cleanup sweeps them eagerly.
type TTLCache struct {
	shards [numShards]*shard
	ttl    time.Duration

	// now is swapped out in tests for deterministic expiry.
	now func() time.Time
}

type shard struct {
	mu    sync.RWMutex
	items map[string]entry
}

type entry struct {
	value     float64
	updatedAt time.Time
}

// NewTTL creates a cache whose entries expire ttl after being set.
func NewTTL(ttl time.Duration) *TTLCache {
	c := &TTLCache{ttl: ttl, now: time.Now}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &shard{items: make(map[string]entry)}
	}
	return c
}

func (c *TTLCache) getShard(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%numShards]
}

// Set stores a value for a key, resetting its expiry.
func (c *TTLCache) Set(key string, value float64) {
	s := c.getShard(key)
	s.mu.Lock()
	s.items[key] = entry{value: value, updatedAt: c.now()}
	s.mu.Unlock()
}

// Get returns the value for a key. An entry whose age has reached the
// TTL counts as absent and is removed.
func (c *TTLCache) Get(key string) (float64, bool) {
	s := c.getShard(key)
	s.mu.RLock()
	e, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return 0, false
	}
	if c.now().Sub(e.updatedAt) >= c.ttl {
		s.mu.Lock()
		// re-check under the write lock, Set may have raced the expiry
		if cur, ok := s.items[key]; ok && c.now().Sub(cur.updatedAt) >= c.ttl {
			delete(s.items, key)
		}
		s.mu.Unlock()
		return 0, false
	}
	return e.value, true
}

// GetWithAge returns the value and how long ago it was written.
func (c *TTLCache) GetWithAge(key string) (float64, time.Duration, bool) {
	s := c.getShard(key)
	s.mu.RLock()
	e, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return 0, 0, false
	}
	age := c.now().Sub(e.updatedAt)
	if age >= c.ttl {
		return 0, 0, false
	}
	return e.value, age, true
}

// Delete removes a key.
func (c *TTLCache) Delete(key string) {
	s := c.getShard(key)
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
}

// Len counts entries still present, expired ones included until swept.
func (c *TTLCache) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.RLock()
		total += len(s.items)
		s.mu.RUnlock()
	}
	return total
}

// Cleanup removes every expired entry and reports how many were dropped.
func (c *TTLCache) Cleanup() int {
	removed := 0
	cutoff := c.now().Add(-c.ttl)
	for _, s := range c.shards {
		s.mu.Lock()
		for k, e := range s.items {
			if !e.updatedAt.After(cutoff) {
				delete(s.items, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}
