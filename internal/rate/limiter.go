package rate

import (
	"sync"
	"time"
)

// WindowLimiter allows at most limit events per key within a fixed window.
type WindowLimiter struct {
	mu              sync.Mutex
	limit           int
	window          time.Duration
	now             func() time.Time
	items           map[string]*windowEntry
	lastCleanup     time.Time
	cleanupInterval time.Duration
}

type windowEntry struct {
	start time.Time
	count int
}

// NewWindowLimiter creates window limiter.
func NewWindowLimiter(limit int, window time.Duration) *WindowLimiter {
	return &WindowLimiter{
		limit:           limit,
		window:          window,
		now:             time.Now,
		items:           make(map[string]*windowEntry),
		lastCleanup:     time.Now(),
		cleanupInterval: window,
	}
}

// WithClock replaces the time source.
func (l *WindowLimiter) WithClock(now func() time.Time) *WindowLimiter {
	if now != nil {
		l.mu.Lock()
		l.now = now
		l.lastCleanup = now()
		l.mu.Unlock()
	}
	return l
}

// Allow records one event for key and reports whether it fits in the current window.
// A non-positive limit disables throttling.
func (l *WindowLimiter) Allow(key string) bool {
	if l.limit <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.maybeCleanup(now)

	entry, ok := l.items[key]
	if !ok {
		l.items[key] = &windowEntry{start: now, count: 1}
		return true
	}

	if now.Sub(entry.start) >= l.window {
		entry.start = now
		entry.count = 1
		return true
	}

	if entry.count >= l.limit {
		return false
	}

	entry.count++
	return true
}

// Len reports how many keys are tracked.
func (l *WindowLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

func (l *WindowLimiter) maybeCleanup(now time.Time) {
	if l.cleanupInterval <= 0 || l.window <= 0 {
		return
	}
	if !l.lastCleanup.IsZero() && now.Sub(l.lastCleanup) < l.cleanupInterval {
		return
	}
	for key, entry := range l.items {
		if now.Sub(entry.start) >= l.window {
			delete(l.items, key)
		}
	}
	l.lastCleanup = now
}
