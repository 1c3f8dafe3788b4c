package entitlement

import (
	"sync"
	"time"

	"arcacli/internal/capability"
)

// checkCache holds positive entitlement results for a short TTL so hot
// feature checks do not re-read and re-decrypt the store on every call.
// Expiry is lazy; there is no background sweeper.
type checkCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
}

type cacheEntry struct {
	record    capability.Capability
	expiresAt time.Time
}

func newCheckCache(ttl time.Duration) *checkCache {
	return &checkCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
	}
}

func cacheKey(action, scope string) string {
	return action + "|" + scope
}

// get returns a cached capability if present and fresh.
func (c *checkCache) get(action, scope string) (*capability.Capability, bool) {
	if c.ttl <= 0 {
		return nil, false
	}
	c.mu.RLock()
	entry, ok := c.entries[cacheKey(action, scope)]
	c.mu.RUnlock()
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	// A capability that expired inside the cache window must not be served.
	if entry.record.IsExpired(time.Now()) {
		return nil, false
	}
	cached := entry.record
	return &cached, true
}

// set stores a positive result.
func (c *checkCache) set(action, scope string, record capability.Capability) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[cacheKey(action, scope)] = cacheEntry{
		record:    record,
		expiresAt: time.Now().Add(c.ttl),
	}
	c.mu.Unlock()
}

// invalidateAll drops every cached result. Called on any store mutation.
func (c *checkCache) invalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}
