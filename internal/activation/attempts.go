package activation

import (
	"sync"
	"time"
)

// attemptTracker blocks redemption after repeated failures. Bookkeeping
// is lazy: stale windows and expired blocks are cleared on access, never
// by a background goroutine.
type attemptTracker struct {
	mu            sync.Mutex
	counts        map[string]int
	lastAttempts  map[string]time.Time
	blocked       map[string]time.Time
	maxAttempts   int
	window        time.Duration
	blockDuration time.Duration
	now           func() time.Time
}

func newAttemptTracker(maxAttempts int, window, blockDuration time.Duration) *attemptTracker {
	return &attemptTracker{
		counts:        make(map[string]int),
		lastAttempts:  make(map[string]time.Time),
		blocked:       make(map[string]time.Time),
		maxAttempts:   maxAttempts,
		window:        window,
		blockDuration: blockDuration,
		now:           time.Now,
	}
}

// isBlocked reports whether the identifier is currently blocked.
func (t *attemptTracker) isBlocked(identifier string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	blockTime, exists := t.blocked[identifier]
	if !exists {
		return false
	}
	if t.now().Sub(blockTime) < t.blockDuration {
		return true
	}
	delete(t.blocked, identifier)
	return false
}

// record registers an attempt outcome. A success clears the identifier's
// failure history; enough failures inside the window trigger a block.
func (t *attemptTracker) record(identifier string, success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if success {
		delete(t.counts, identifier)
		delete(t.lastAttempts, identifier)
		return
	}

	if last, exists := t.lastAttempts[identifier]; exists && now.Sub(last) > t.window {
		t.counts[identifier] = 1
	} else {
		t.counts[identifier]++
	}
	t.lastAttempts[identifier] = now

	if t.counts[identifier] >= t.maxAttempts {
		t.blocked[identifier] = now
	}
}
