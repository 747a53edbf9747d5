// Package cache provides an in-memory TTL cache with ETag support. It backs
// the schedule provider (computed days) and the HTTP layer (conditional GETs).
package cache

import (
	"context"
	"crypto/md5"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// A computed day never changes for a given location and method.
	TTLSchedule = 24 * time.Hour
	// Rendered schedule responses.
	TTLScheduleResponse = 10 * time.Minute

	evictInterval = 5 * time.Minute
)

type entry struct {
	data      []byte
	etag      string
	expiresAt time.Time
}

// Cache is a thread-safe in-memory TTL cache.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	enabled bool
	now     func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a new cache. Pass enabled=false to create a no-op cache.
func New(enabled bool) *Cache {
	return &Cache{
		entries: make(map[string]entry),
		enabled: enabled,
		now:     time.Now,
	}
}

// WithClock swaps the cache clock. For tests.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// Enabled reports whether the cache stores anything.
func (c *Cache) Enabled() bool { return c.enabled }

// Get returns a live entry and its ETag. Expired entries count as misses
// and are left for the eviction loop.
func (c *Cache) Get(key string) (data []byte, etag string, ok bool) {
	if !c.enabled {
		return nil, "", false
	}
	c.mu.RLock()
	e, exists := c.entries[key]
	c.mu.RUnlock()
	if !exists || c.now().After(e.expiresAt) {
		c.misses.Add(1)
		return nil, "", false
	}
	c.hits.Add(1)
	return e.data, e.etag, true
}

// Set stores a value with a TTL and returns its ETag.
func (c *Cache) Set(key string, data []byte, ttl time.Duration) string {
	etag := ComputeETag(data)
	if !c.enabled {
		return etag
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{
		data:      data,
		etag:      etag,
		expiresAt: c.now().Add(ttl),
	}
	return etag
}

// Delete drops every key for which match returns true.
func (c *Cache) Delete(match func(key string) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for key := range c.entries {
		if match(key) {
			delete(c.entries, key)
			n++
		}
	}
	return n
}

// Stats reports key counts and hit/miss totals for /health/cache.
func (c *Cache) Stats() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	active := 0
	now := c.now()
	for _, e := range c.entries {
		if now.Before(e.expiresAt) {
			active++
		}
	}
	return map[string]interface{}{
		"enabled":      c.enabled,
		"total_keys":   len(c.entries),
		"active_keys":  active,
		"expired_keys": len(c.entries) - active,
		"hits":         c.hits.Load(),
		"misses":       c.misses.Load(),
	}
}

// Run evicts expired entries periodically until ctx is cancelled.
// Intended to be called with `go`.
func (c *Cache) Run(ctx context.Context) {
	if !c.enabled {
		return
	}
	ticker := time.NewTicker(evictInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.evict()
		case <-ctx.Done():
			return
		}
	}
}

func (c *Cache) evict() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
		}
	}
}

// ComputeETag derives a weak ETag from the first 8 bytes of the MD5 of data.
func ComputeETag(data []byte) string {
	hash := md5.Sum(data)
	return fmt.Sprintf(`W/"%x"`, hash[:8])
}

// CheckETagMatch reports whether an If-None-Match header, which may list
// several tags, names etag. Weak comparison: the W/ prefix is ignored.
func CheckETagMatch(ifNoneMatch, etag string) bool {
	if ifNoneMatch == "" {
		return false
	}
	want := strings.TrimPrefix(etag, "W/")
	for _, tag := range strings.Split(ifNoneMatch, ",") {
		tag = strings.TrimSpace(tag)
		if tag == "*" || strings.TrimPrefix(tag, "W/") == want {
			return true
		}
	}
	return false
}
