package security

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestNewRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(5, 10, nil)
	defer rl.Stop()

	if rl.logger == nil {
		t.Error("logger should default to slog.Default()")
	}
	if rl.maxEntries != DefaultMaxLimiters {
		t.Errorf("maxEntries = %d, want %d", rl.maxEntries, DefaultMaxLimiters)
	}

	neg := NewRateLimiterWithConfig(5, 10, -1, nil)
	defer neg.Stop()
	if neg.maxEntries != DefaultMaxLimiters {
		t.Errorf("negative maxEntries -> %d, want %d", neg.maxEntries, DefaultMaxLimiters)
	}
}

func TestRateLimiter_Allow_Burst(t *testing.T) {
	rl := NewRateLimiter(1, 3, nil)
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		if !rl.Allow("198.51.100.1") {
			t.Fatalf("request %d within burst was rejected", i+1)
		}
	}
	if rl.Allow("198.51.100.1") {
		t.Error("request beyond burst was allowed")
	}

	// A different identifier has its own bucket
	if !rl.Allow("198.51.100.2") {
		t.Error("separate identifier was rejected")
	}
}

func TestRateLimiter_Allow_Refill(t *testing.T) {
	rl := NewRateLimiter(20, 1, nil)
	defer rl.Stop()

	if !rl.Allow("ip") {
		t.Fatal("first request rejected")
	}
	if rl.Allow("ip") {
		t.Fatal("second immediate request allowed")
	}

	time.Sleep(100 * time.Millisecond)

	if !rl.Allow("ip") {
		t.Error("request after refill interval rejected")
	}
}

func TestRateLimiter_LRUEviction(t *testing.T) {
	rl := NewRateLimiterWithConfig(1, 1, 2, nil)
	defer rl.Stop()

	rl.Allow("a")
	rl.Allow("b")
	rl.Allow("a") // a becomes most recent
	rl.Allow("c") // evicts b

	stats := rl.GetStats()
	if stats.CurrentEntries != 2 {
		t.Errorf("CurrentEntries = %d, want 2", stats.CurrentEntries)
	}
	if stats.TotalEvictions != 1 {
		t.Errorf("TotalEvictions = %d, want 1", stats.TotalEvictions)
	}

	rl.mu.Lock()
	_, hasB := rl.entries["b"]
	_, hasA := rl.entries["a"]
	rl.mu.Unlock()
	if hasB {
		t.Error("least recently used entry b was not evicted")
	}
	if !hasA {
		t.Error("recently used entry a was evicted")
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(10, 10, nil)
	defer rl.Stop()

	rl.Allow("idle")
	time.Sleep(30 * time.Millisecond)
	rl.Allow("active")

	rl.Cleanup(20 * time.Millisecond)

	stats := rl.GetStats()
	if stats.CurrentEntries != 1 {
		t.Errorf("CurrentEntries = %d, want 1", stats.CurrentEntries)
	}
	if stats.TotalCleanups != 1 {
		t.Errorf("TotalCleanups = %d, want 1", stats.TotalCleanups)
	}
}

func TestRateLimiter_ConcurrentAccess(t *testing.T) {
	rl := NewRateLimiterWithConfig(100, 100, 50, nil)
	defer rl.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				rl.Allow(fmt.Sprintf("ip-%d", (n*j)%80))
			}
		}(i)
	}
	wg.Wait()

	if got := rl.GetStats().CurrentEntries; got > 50 {
		t.Errorf("CurrentEntries = %d, exceeds cap 50", got)
	}
}

func TestRateLimiter_StopTwice(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	rl.Stop()
	rl.Stop()
}
