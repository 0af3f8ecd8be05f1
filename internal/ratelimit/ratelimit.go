// Package ratelimit implements the fixed-window counter used to gate
// every mutating entry point: one bucket per opaque key, a count that
// grows monotonically within the window, and a lazy reset once the
// window's reset_at passes.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/pion/logging"
)

type bucket struct {
	count   int
	resetAt time.Time
}

// Limiter is a fixed-window rate limiter keyed by an opaque string.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	window time.Duration
	max    int

	log logging.LeveledLogger
}

// New creates a Limiter with the given window and max request count. It
// does not start the background scavenger; call Scavenge in a goroutine
// (or rely on the caller's own periodic cleanup) to bound memory.
func New(window time.Duration, max int, log logging.LeveledLogger) *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		window:  window,
		max:     max,
		log:     log,
	}
}

// Allow reports whether key may proceed, incrementing its bucket. The
// bucket resets lazily the first time Allow observes that its reset_at
// has passed; Remaining reports an expired bucket as full without
// resetting it.
func (l *Limiter) Allow(key string) bool {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok || now.After(b.resetAt) {
		l.buckets[key] = &bucket{count: 1, resetAt: now.Add(l.window)}
		return true
	}
	if b.count >= l.max {
		return false
	}
	b.count++
	return true
}

// Remaining reports how many more requests key may make in the current
// window.
func (l *Limiter) Remaining(key string) int {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok || now.After(b.resetAt) {
		return l.max
	}
	remaining := l.max - b.count
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Cleanup removes every bucket whose window has already expired.
func (l *Limiter) Cleanup() {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, b := range l.buckets {
		if now.After(b.resetAt) {
			delete(l.buckets, key)
		}
	}
}

// Scavenge runs Cleanup every interval until ctx is canceled. Intended
// to be launched with `go limiter.Scavenge(ctx, 60*time.Second)`.
func (l *Limiter) Scavenge(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Cleanup()
			if l.log != nil {
				l.log.Debugf("rate-limit scavenger ran, %d buckets remain", l.size())
			}
		}
	}
}

func (l *Limiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
