// Package cache implements the in-process response cache shared across runs:
// one entry per (provider kind, normalized sub-request key), inserted on
// successful provider calls and expired by TTL. Expired entries are
// indistinguishable from misses.
package cache

import (
	"crypto/sha256"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/freightwise/logistics-cli/internal/model"
)

const shardCount = 32

// Key returns the cache key for a provider kind and normalized sub-request:
// SHA-256 hex over the lowercased, trimmed parts joined with '|'.
func Key(kind model.ProviderKind, parts ...string) string {
	normalized := make([]string, 0, len(parts)+1)
	normalized = append(normalized, string(kind))
	for _, p := range parts {
		normalized = append(normalized, strings.ToLower(strings.TrimSpace(p)))
	}
	h := sha256.Sum256([]byte(strings.Join(normalized, "|")))
	return fmt.Sprintf("%x", h)
}

type entry struct {
	result    model.ProviderResult
	expiresAt time.Time
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// ResponseCache is a sharded TTL cache. Shards keep concurrent runs from
// serializing on a single lock; last writer for a key wins.
type ResponseCache struct {
	shards  [shardCount]*shard
	nowFunc func() time.Time
}

// New creates an empty response cache.
func New() *ResponseCache {
	c := &ResponseCache{nowFunc: time.Now}
	for i := range c.shards {
		c.shards[i] = &shard{entries: make(map[string]entry)}
	}
	return c
}

// WithNow sets the clock. Test use only.
func (c *ResponseCache) WithNow(now func() time.Time) *ResponseCache {
	c.nowFunc = now
	return c
}

func (c *ResponseCache) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return c.shards[h.Sum32()%shardCount]
}

// Get returns the cached result for key if present and unexpired.
func (c *ResponseCache) Get(key string) (model.ProviderResult, bool) {
	s := c.shardFor(key)
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok || c.nowFunc().After(e.expiresAt) {
		return model.ProviderResult{}, false
	}
	res := e.result
	res.FromCache = true
	return res, true
}

// Put stores res under key for ttl. A non-positive ttl disables caching for
// this entry.
func (c *ResponseCache) Put(key string, res model.ProviderResult, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	s := c.shardFor(key)
	s.mu.Lock()
	s.entries[key] = entry{result: res, expiresAt: c.nowFunc().Add(ttl)}
	s.mu.Unlock()
}

// Purge removes expired entries and returns how many were dropped.
func (c *ResponseCache) Purge() int {
	now := c.nowFunc()
	dropped := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for k, e := range s.entries {
			if now.After(e.expiresAt) {
				delete(s.entries, k)
				dropped++
			}
		}
		s.mu.Unlock()
	}
	return dropped
}

// Len returns the number of entries, including not-yet-purged expired ones.
func (c *ResponseCache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}
