// Package ratelimit implements the two request limiters used at the system
// boundaries: an in-memory sliding window keyed by identity (webhook/API
// edge) and a durable per-user action log limiter (tracking creation).
package ratelimit

import (
	"sync"
	"time"
)

// Window is a sliding-window request counter keyed by identity. Each key
// holds the timestamps of recent attempts; entries older than the window are
// purged lazily on every check.
//
// The read-modify-write per key happens under one lock, so concurrent checks
// for the same identity never under-count. The type is safe for concurrent
// use.
type Window struct {
	limit  int
	span   time.Duration
	now    func() time.Time
	maxTTL time.Duration

	mu       sync.Mutex
	attempts map[string][]time.Time
	checks   uint64
}

// NewWindow builds a limiter allowing limit attempts per identity within
// span.
func NewWindow(limit int, span time.Duration) *Window {
	if limit < 1 {
		limit = 1
	}
	return &Window{
		limit:    limit,
		span:     span,
		now:      time.Now,
		maxTTL:   span,
		attempts: make(map[string][]time.Time),
	}
}

// WithNow replaces the clock. Tests use it to advance time deterministically.
func (w *Window) WithNow(now func() time.Time) *Window {
	w.now = now
	return w
}

// Allow reports whether identity may act now and, if so, records the attempt.
// The decision and the record are a single critical section.
func (w *Window) Allow(identity string) bool {
	now := w.now()
	cutoff := now.Add(-w.span)

	w.mu.Lock()
	defer w.mu.Unlock()

	// Opportunistic eviction of idle keys to bound memory.
	w.checks++
	if w.checks >= 5000 {
		for k, ts := range w.attempts {
			if len(ts) == 0 || ts[len(ts)-1].Before(cutoff) {
				delete(w.attempts, k)
			}
		}
		w.checks = 0
	}

	ts := w.attempts[identity]
	kept := ts[:0]
	for _, t := range ts {
		if !t.Before(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= w.limit {
		w.attempts[identity] = kept
		return false
	}
	w.attempts[identity] = append(kept, now)
	return true
}

// Remaining reports how many attempts identity has left in the current
// window without recording one.
func (w *Window) Remaining(identity string) int {
	cutoff := w.now().Add(-w.span)

	w.mu.Lock()
	defer w.mu.Unlock()

	n := 0
	for _, t := range w.attempts[identity] {
		if !t.Before(cutoff) {
			n++
		}
	}
	if n >= w.limit {
		return 0
	}
	return w.limit - n
}
