// Package ratelimit implements per-owner fixed-window admission control.
package ratelimit

import (
	"log/slog"
	"sync"
	"time"
)

type window struct {
	start time.Time
	count int
}

// Limiter tracks one fixed window per owner. When the window has elapsed a
// new one starts at the next request; counts never carry over. A disabled
// limiter admits everything.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window

	limit   int
	period  time.Duration
	enabled bool

	now func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock substitutes the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New returns a limiter admitting up to limit requests per owner per period.
func New(limit int, period time.Duration, enabled bool, opts ...Option) *Limiter {
	l := &Limiter{
		windows: make(map[string]*window),
		limit:   limit,
		period:  period,
		enabled: enabled,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow reports whether owner may proceed. On denial it returns how long the
// caller should wait before the window resets.
func (l *Limiter) Allow(owner string) (bool, time.Duration) {
	if !l.enabled {
		return true, 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[owner]
	if !ok || now.Sub(w.start) >= l.period {
		l.windows[owner] = &window{start: now, count: 1}
		return true, 0
	}

	if w.count >= l.limit {
		retryAfter := l.period - now.Sub(w.start)
		slog.Debug("rate limit exceeded", "owner", owner, "count", w.count, "retry_after", retryAfter)
		return false, retryAfter
	}

	w.count++
	return true, 0
}

// remaining returns how many requests owner has left in the current window.
func (l *Limiter) remaining(owner string) int {
	if !l.enabled {
		return l.limit
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[owner]
	if !ok || l.now().Sub(w.start) >= l.period {
		return l.limit
	}
	left := l.limit - w.count
	if left < 0 {
		return 0
	}
	return left
}

// PurgeExpired drops windows that ended before now, so idle owners do not
// accumulate. Called by the cleanup sweeper.
func (l *Limiter) PurgeExpired() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for owner, w := range l.windows {
		if now.Sub(w.start) >= l.period {
			delete(l.windows, owner)
			removed++
		}
	}
	return removed
}
