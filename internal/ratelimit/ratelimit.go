package ratelimit

import (
	"sync"
	"time"

	"github.com/docsync/docsync/pkg/metrics"
)

// Limit describes a fixed-window limit: at most Max calls per Window.
type Limit struct {
	Max    int
	Window time.Duration
}

// Result is the outcome of a single Allow call. RetryAfter is only set when
// the call was rejected and reports how long until the window resets.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

type entryKey struct {
	store string
	key   string
}

type entry struct {
	count   int
	resetAt time.Time
}

// Limiter maintains fixed-window counters keyed by (store, key). Stores are
// registered once at startup; counters reset lazily when their window has
// elapsed. A Limiter is an explicit service object, never package state, so
// tests construct fresh instances.
type Limiter struct {
	mu      sync.Mutex
	limits  map[string]Limit
	entries map[entryKey]*entry
	now     func() time.Time
}

func New() *Limiter {
	return &Limiter{
		limits:  make(map[string]Limit),
		entries: make(map[entryKey]*entry),
		now:     time.Now,
	}
}

// Register installs the limit for a named store. Calling Register again for
// the same store replaces the limit but keeps existing counters.
func (l *Limiter) Register(store string, limit Limit) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit.Window <= 0 {
		limit.Window = time.Minute
	}
	l.limits[store] = limit
}

// Allow consumes one call for key within store. Unregistered stores and
// non-positive limits allow everything.
func (l *Limiter) Allow(store, key string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	limit, ok := l.limits[store]
	if !ok || limit.Max <= 0 {
		return Result{Allowed: true, Remaining: -1}
	}

	now := l.now()
	k := entryKey{store: store, key: key}
	e, ok := l.entries[k]
	if !ok || !now.Before(e.resetAt) {
		e = &entry{count: 0, resetAt: now.Add(limit.Window)}
		l.entries[k] = e
	}

	if e.count >= limit.Max {
		metrics.RateLimitRejected.WithLabelValues(store).Inc()
		return Result{Allowed: false, RetryAfter: e.resetAt.Sub(now)}
	}
	e.count++
	metrics.RateLimitAllowed.WithLabelValues(store).Inc()
	return Result{Allowed: true, Remaining: limit.Max - e.count}
}

// Reset drops the counter for key within store.
func (l *Limiter) Reset(store, key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, entryKey{store: store, key: key})
}

// Prune removes counters whose window has elapsed. Intended to run
// periodically so idle keys do not accumulate.
func (l *Limiter) Prune() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for k, e := range l.entries {
		if !now.Before(e.resetAt) {
			delete(l.entries, k)
		}
	}
}
