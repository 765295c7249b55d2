package rules

import (
	"sync"
	"time"
)

type cacheEntry struct {
	rules    []*Rule
	cachedAt time.Time
}

// InMemoryRulesCache is a RulesCache backed by a map of snapshots.
// Snapshots are treated as immutable once stored.
type InMemoryRulesCache struct {
	entries map[string]cacheEntry
	config  CacheConfig
	now     func() time.Time
	mu      sync.RWMutex
}

// NewInMemoryRulesCache creates a new in-memory rules cache
func NewInMemoryRulesCache(config CacheConfig) *InMemoryRulesCache {
	return &InMemoryRulesCache{
		entries: make(map[string]cacheEntry),
		config:  config,
		now:     time.Now,
	}
}

// Get returns the snapshot for scope, or nil if absent or expired
func (c *InMemoryRulesCache) Get(scope string) []*Rule {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[scope]
	if !ok {
		return nil
	}
	if c.config.TTL > 0 && c.now().Sub(entry.cachedAt) > c.config.TTL {
		return nil
	}

	// Copy the slice header so callers cannot reorder the snapshot
	out := make([]*Rule, len(entry.rules))
	copy(out, entry.rules)
	return out
}

// Set stores a snapshot. A nil slice is stored as empty so it still counts as a hit.
func (c *InMemoryRulesCache) Set(scope string, rules []*Rule) {
	snapshot := make([]*Rule, len(rules))
	copy(snapshot, rules)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[scope] = cacheEntry{rules: snapshot, cachedAt: c.now()}
}

// Invalidate clears every snapshot
func (c *InMemoryRulesCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}
