package rules

import "time"

// RulesCache holds rule-list snapshots keyed by scope so dispatch does not hit
// the store on every event. The empty key holds the unscoped ListAll snapshot.
type RulesCache interface {
	// Get returns the snapshot for scope, or nil on a miss or expiry
	Get(scope string) []*Rule

	// Set stores the snapshot for scope
	Set(scope string, rules []*Rule)

	// Invalidate drops every snapshot, forcing a reload on next Get
	Invalidate()
}

// CacheConfig holds configuration for cache behavior
type CacheConfig struct {
	// TTL bounds how long a snapshot is served.
	// Zero means no expiry (invalidate on mutation only).
	TTL time.Duration
}

// DefaultCacheConfig returns the defaults used by NewEngine
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{TTL: 0}
}
