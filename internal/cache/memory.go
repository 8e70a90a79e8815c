package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache is an in-process LRU cache with per-entry TTL.
type MemoryCache struct {
	entries *lru.Cache[string, memoryEntry]
	now     func() time.Time
}

// NewMemoryCache creates a MemoryCache holding at most maxSize entries; the
// least recently used entry is evicted first.
func NewMemoryCache(maxSize int) *MemoryCache {
	if maxSize <= 0 {
		maxSize = 1024
	}
	// New only fails for a non-positive size.
	entries, _ := lru.New[string, memoryEntry](maxSize)
	return &MemoryCache{entries: entries, now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, key string, out any) (bool, error) {
	entry, ok := c.entries.Get(key)
	if !ok {
		return false, nil
	}
	if !c.now().Before(entry.expiresAt) {
		c.entries.Remove(key)
		return false, nil
	}
	if err := json.Unmarshal(entry.value, out); err != nil {
		return false, fmt.Errorf("failed to decode cached %s: %w", key, err)
	}
	return true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s for cache: %w", key, err)
	}
	c.entries.Add(key, memoryEntry{value: data, expiresAt: c.now().Add(ttl)})
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (c *MemoryCache) Len() int {
	return c.entries.Len()
}
