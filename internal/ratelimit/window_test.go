package ratelimit

import (
	"sync"
	"testing"
	"time"
)

func TestWindow_LimitEnforced(t *testing.T) {
	w := NewWindow(5, time.Hour)

	for i := 0; i < 5; i++ {
		if !w.Allow("user:1") {
			t.Fatalf("call %d should be allowed", i+1)
		}
	}
	if w.Allow("user:1") {
		t.Fatal("6th call within the window must be denied")
	}
	// A different identity is unaffected.
	if !w.Allow("user:2") {
		t.Fatal("other identity must have its own budget")
	}
}

func TestWindow_ExpiryReopensBudget(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := base
	w := NewWindow(2, time.Hour).WithNow(func() time.Time { return now })

	if !w.Allow("k") || !w.Allow("k") {
		t.Fatal("first two calls should pass")
	}
	if w.Allow("k") {
		t.Fatal("third call should be denied")
	}

	now = base.Add(time.Hour + time.Second)
	if !w.Allow("k") {
		t.Fatal("call after the window elapsed should pass")
	}
}

func TestWindow_Remaining(t *testing.T) {
	w := NewWindow(3, time.Hour)
	if got := w.Remaining("k"); got != 3 {
		t.Fatalf("fresh key: want 3, got %d", got)
	}
	w.Allow("k")
	w.Allow("k")
	if got := w.Remaining("k"); got != 1 {
		t.Fatalf("after two: want 1, got %d", got)
	}
	w.Allow("k")
	if got := w.Remaining("k"); got != 0 {
		t.Fatalf("exhausted: want 0, got %d", got)
	}
}

func TestWindow_ConcurrentSameKeyNeverOvercounts(t *testing.T) {
	const limit = 50
	w := NewWindow(limit, time.Hour)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if w.Allow("shared") {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != limit {
		t.Fatalf("want exactly %d allowed, got %d", limit, allowed)
	}
}
