// Package cache is an in-process TTL cache for ranked recommendation results.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"github.com/temcen/simrec/pkg/models"
)

const shardCount = 32

// entry is immutable once stored; updates replace the pointer.
type entry[V any] struct {
	value     V
	expiresAt time.Time
}

type shard[V any] struct {
	mu      sync.RWMutex
	entries map[string]*entry[V]
}

// Cache is a sharded map of key to value with a per-entry expiry. Requests for
// different keys rarely contend on the same lock.
type Cache[V any] struct {
	shards [shardCount]*shard[V]
	ttl    time.Duration
	now    func() time.Time

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// New creates a cache whose entries live for ttl after they are written.
func New[V any](ttl time.Duration) *Cache[V] {
	c := &Cache[V]{ttl: ttl, now: time.Now}
	for i := range c.shards {
		c.shards[i] = &shard[V]{entries: make(map[string]*entry[V])}
	}
	return c
}

func (c *Cache[V]) shardFor(key string) *shard[V] {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return c.shards[h.Sum32()%shardCount]
}

// Get returns the value for key. An expired entry counts as a miss and is
// evicted.
func (c *Cache[V]) Get(key string) (V, bool) {
	s := c.shardFor(key)

	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		c.misses.Add(1)
		var zero V
		return zero, false
	}

	if c.now().After(e.expiresAt) {
		s.mu.Lock()
		// only drop the entry we saw; a concurrent Set may have replaced it
		if cur, ok := s.entries[key]; ok && cur == e {
			delete(s.entries, key)
			c.evictions.Add(1)
		}
		s.mu.Unlock()
		c.misses.Add(1)
		var zero V
		return zero, false
	}

	c.hits.Add(1)
	return e.value, true
}

// Set stores value under key with the cache's TTL.
func (c *Cache[V]) Set(key string, value V) {
	e := &entry[V]{value: value, expiresAt: c.now().Add(c.ttl)}
	s := c.shardFor(key)

	s.mu.Lock()
	s.entries[key] = e
	s.mu.Unlock()
}

// Invalidate removes one key.
func (c *Cache[V]) Invalidate(key string) {
	s := c.shardFor(key)

	s.mu.Lock()
	if _, ok := s.entries[key]; ok {
		delete(s.entries, key)
		c.evictions.Add(1)
	}
	s.mu.Unlock()
}

// Clear drops every entry and returns how many were removed.
func (c *Cache[V]) Clear() int {
	removed := 0
	for _, s := range c.shards {
		s.mu.Lock()
		removed += len(s.entries)
		s.entries = make(map[string]*entry[V])
		s.mu.Unlock()
	}
	c.evictions.Add(int64(removed))
	return removed
}

// Len is the number of stored entries, expired ones included.
func (c *Cache[V]) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}

// Stats returns a snapshot of the counters.
func (c *Cache[V]) Stats() models.CacheStats {
	return models.CacheStats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Size:      int64(c.Len()),
	}
}

// Sweep removes all expired entries and returns how many were dropped.
func (c *Cache[V]) Sweep() int {
	now := c.now()
	removed := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for key, e := range s.entries {
			if now.After(e.expiresAt) {
				delete(s.entries, key)
				removed++
			}
		}
		s.mu.Unlock()
	}
	c.evictions.Add(int64(removed))
	return removed
}

// Start sweeps expired entries every interval until ctx is done. With no
// positive interval or TTL it returns at once and expired entries are only
// dropped on read.
func (c *Cache[V]) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = c.ttl
	}
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// Key builds a compact canonical key from a namespace and any JSON-encodable
// value. Callers are responsible for putting v in canonical form first.
func Key(namespace string, v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode cache key: %w", err)
	}
	sum := sha256.Sum256(data)
	return namespace + ":" + hex.EncodeToString(sum[:16]), nil
}
