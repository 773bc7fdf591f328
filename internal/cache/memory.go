package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryCache is an in-process Cache for tests and local development. TTLs
// are honored lazily on read.
type MemoryCache struct {
	mu       sync.Mutex
	values   map[string]memEntry
	counters map[string]int64
	sets     map[string]map[string]bool
}

type memEntry struct {
	value     string
	expiresAt time.Time
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		values:   make(map[string]memEntry),
		counters: make(map[string]int64),
		sets:     make(map[string]map[string]bool),
	}
}

func (c *MemoryCache) Ping(_ context.Context) error { return nil }
func (c *MemoryCache) Close() error                 { return nil }

func (c *MemoryCache) SetJobState(_ context.Context, jobID, state string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[JobStateKey(jobID)] = memEntry{value: state, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (c *MemoryCache) GetJobState(_ context.Context, jobID string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.values[JobStateKey(jobID)]
	if !ok || time.Now().After(entry.expiresAt) {
		return "", false, nil
	}
	return entry.value, true, nil
}

func (c *MemoryCache) IncrWithExpiry(_ context.Context, key string, _ time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[key]++
	return c.counters[key], nil
}

func (c *MemoryCache) ClaimSlot(_ context.Context, pool, jobID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := InflightSetKey(pool)
	if c.sets[key] == nil {
		c.sets[key] = make(map[string]bool)
	}
	c.sets[key][jobID] = true
	return nil
}

func (c *MemoryCache) ReleaseSlot(_ context.Context, pool, jobID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sets[InflightSetKey(pool)], jobID)
	return nil
}

func (c *MemoryCache) InflightCount(_ context.Context, pool string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(len(c.sets[InflightSetKey(pool)])), nil
}

func (c *MemoryCache) AcquireLock(_ context.Context, name string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := LockKey(name)
	entry, ok := c.values[key]
	if ok && time.Now().Before(entry.expiresAt) {
		return false, nil
	}
	c.values[key] = memEntry{value: "1", expiresAt: time.Now().Add(ttl)}
	return true, nil
}

var _ Cache = (*MemoryCache)(nil)
