package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

type memoryEntry struct {
	value   []byte
	expires time.Time
}

// MemoryCache is an in-process Cache used when Redis is not configured.
type MemoryCache struct {
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
	mu      sync.RWMutex
}

// NewMemoryCache creates an in-process cache. A zero ttl keeps entries until
// they are invalidated.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get implements Cache.
func (c *MemoryCache) Get(_ context.Context, key Key) ([]byte, bool, error) {
	k := key.String()
	c.mu.RLock()
	e, ok := c.entries[k]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if c.expired(e) {
		c.mu.Lock()
		defer c.mu.Unlock()
		// A Set may have replaced the entry since the read lock was released.
		cur, ok := c.entries[k]
		if !ok {
			return nil, false, nil
		}
		if c.expired(cur) {
			delete(c.entries, k)
			return nil, false, nil
		}
		return cur.value, true, nil
	}
	return e.value, true, nil
}

func (c *MemoryCache) expired(e memoryEntry) bool {
	return !e.expires.IsZero() && c.now().After(e.expires)
}

// Set implements Cache. The value is copied so callers may reuse the slice.
func (c *MemoryCache) Set(_ context.Context, key Key, value []byte) error {
	e := memoryEntry{value: append([]byte(nil), value...)}
	if c.ttl > 0 {
		e.expires = c.now().Add(c.ttl)
	}
	c.mu.Lock()
	c.entries[key.String()] = e
	c.mu.Unlock()
	return nil
}

// InvalidateUser implements Cache.
func (c *MemoryCache) InvalidateUser(_ context.Context, userID string) (int, error) {
	prefix := userPrefix(userID)
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored entries, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
