// Package ratelimit implements per-user sliding-window rate limiting for
// the bot. Each identity may make at most maxRequests within the trailing
// window; older timestamps are pruned on every check.
package ratelimit

import (
	"sync"
	"time"
)

const (
	cleanupInterval = 5 * time.Minute
	staleThreshold  = 10 * time.Minute

	// maxIdentities caps the tracked-identity map. When full, the longest
	// idle identity is evicted to make room.
	maxIdentities = 4096
)

// Limiter tracks request timestamps per identity.
// Safe for concurrent use.
type Limiter struct {
	mu          sync.Mutex
	windows     map[string]*window
	windowSpan  time.Duration
	maxRequests int
	lastCleanup time.Time

	now func() time.Time // injectable clock for tests
}

// window holds the recent request timestamps for a single identity.
type window struct {
	stamps   []time.Time
	lastSeen time.Time
}

// New creates a limiter allowing maxRequests per identity within span.
func New(span time.Duration, maxRequests int) *Limiter {
	return &Limiter{
		windows:     make(map[string]*window),
		windowSpan:  span,
		maxRequests: maxRequests,
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

// Allow reports whether the identity may make a request now.
// On allow the current timestamp is recorded. Never errors: the limiter is
// a pure function of in-memory state.
func (l *Limiter) Allow(identity string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	// Periodic cleanup of stale identities
	if now.Sub(l.lastCleanup) > cleanupInterval {
		for k, w := range l.windows {
			if now.Sub(w.lastSeen) > staleThreshold {
				delete(l.windows, k)
			}
		}
		l.lastCleanup = now
	}

	w, exists := l.windows[identity]
	if !exists {
		if len(l.windows) >= maxIdentities {
			l.evictIdlest()
		}
		w = &window{}
		l.windows[identity] = w
	}
	w.lastSeen = now

	// Prune timestamps outside the trailing window
	cutoff := now.Add(-l.windowSpan)
	kept := w.stamps[:0]
	for _, ts := range w.stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	w.stamps = kept

	if len(w.stamps) >= l.maxRequests {
		return false
	}

	w.stamps = append(w.stamps, now)
	return true
}

// evictIdlest removes the identity with the oldest lastSeen.
// Caller must hold l.mu.
func (l *Limiter) evictIdlest() {
	var victim string
	var oldest time.Time
	for k, w := range l.windows {
		if victim == "" || w.lastSeen.Before(oldest) {
			victim = k
			oldest = w.lastSeen
		}
	}
	if victim != "" {
		delete(l.windows, victim)
	}
}

// Tracked returns the number of identities currently tracked.
func (l *Limiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
