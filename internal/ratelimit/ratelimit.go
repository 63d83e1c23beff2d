// Package ratelimit throttles per-user actions over fixed windows. The
// default backend is an in-process counter map; callers treat a nil Limiter
// as no limiting, so the feature degrades open rather than blocking traffic.
package ratelimit

import (
	"sync"
	"time"

	"heartmend/internal/config"
)

// Result reports one admission decision.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter admits or rejects one action for one identity.
type Limiter interface {
	Check(identity, action string, limit config.RateLimit) Result
}

type window struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter counts requests per identity+action in fixed windows. The
// window starts at the first request and resets wholesale when it expires.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
	done    chan struct{}
}

// NewMemoryLimiter returns a limiter with no sweep goroutine running; call
// Start to begin expiring idle windows.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// WithNow overrides the clock, for tests.
func (l *MemoryLimiter) WithNow(now func() time.Time) *MemoryLimiter {
	l.now = now
	return l
}

// Check admits the request if the identity has budget left in the current
// window. An admitted request consumes one unit.
func (l *MemoryLimiter) Check(identity, action string, limit config.RateLimit) Result {
	key := identity + "|" + action
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || now.After(w.resetAt) {
		w = &window{resetAt: now.Add(limit.Window())}
		l.windows[key] = w
	}
	if w.count >= limit.MaxRequests {
		return Result{Allowed: false, Remaining: 0, ResetAt: w.resetAt}
	}
	w.count++
	return Result{Allowed: true, Remaining: limit.MaxRequests - w.count, ResetAt: w.resetAt}
}

// Start launches a background sweep that drops expired windows once a
// minute. Stop ends it.
func (l *MemoryLimiter) Start() {
	l.done = make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.sweep()
			case <-l.done:
				return
			}
		}
	}()
}

// Stop ends the sweep goroutine. Safe to call when Start was never called.
func (l *MemoryLimiter) Stop() {
	if l.done != nil {
		close(l.done)
		l.done = nil
	}
}

func (l *MemoryLimiter) sweep() {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, w := range l.windows {
		if now.After(w.resetAt) {
			delete(l.windows, key)
		}
	}
}
