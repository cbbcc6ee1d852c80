package security

import (
	"fmt"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func newTestRateLimiter(clock *fakeClock, limit rate.Limit, burst, maxEntries int) *RateLimiter {
	rl := NewRateLimiter(RateLimiterConfig{
		Limit:           limit,
		Burst:           burst,
		MaxEntries:      maxEntries,
		IdleTimeout:     time.Hour,
		CleanupInterval: -1,
		Now:             clock.Now,
	}, nil)
	return rl
}

func TestNewRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{}, nil)
	defer rl.Stop()

	if rl.burst != DefaultRegistrationBurst {
		t.Errorf("burst = %d, want %d", rl.burst, DefaultRegistrationBurst)
	}
	want := rate.Every(time.Hour / DefaultRegistrationsPerHour)
	if rl.limit != want {
		t.Errorf("limit = %v, want %v", rl.limit, want)
	}
	if rl.logger == nil {
		t.Error("logger should not be nil")
	}
}

func TestRateLimiter_Allow(t *testing.T) {
	clock := newFakeClock()
	rl := newTestRateLimiter(clock, 1, 3, 0)

	for i := 0; i < 3; i++ {
		if !rl.Allow("10.0.0.1") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if rl.Allow("10.0.0.1") {
		t.Fatal("request beyond burst should be denied")
	}
	if !rl.Allow("10.0.0.2") {
		t.Error("a different identifier has its own bucket")
	}
}

func TestRateLimiter_RefillOverTime(t *testing.T) {
	clock := newFakeClock()
	rl := newTestRateLimiter(clock, 2, 2, 0)

	rl.Allow("id")
	rl.Allow("id")
	if rl.Allow("id") {
		t.Fatal("bucket should be empty")
	}

	clock.Advance(500 * time.Millisecond)
	if !rl.Allow("id") {
		t.Error("one token should have been refilled")
	}
}

func TestRateLimiter_RegistrationThrottle(t *testing.T) {
	clock := newFakeClock()
	cfg := RegistrationThrottleConfig(6, 2)
	cfg.CleanupInterval = -1
	cfg.Now = clock.Now
	rl := NewRateLimiter(cfg, nil)

	if !rl.Allow("ip") || !rl.Allow("ip") {
		t.Fatal("burst of 2 should be allowed")
	}
	if rl.Allow("ip") {
		t.Fatal("third registration should be throttled")
	}

	clock.Advance(10 * time.Minute)
	if !rl.Allow("ip") {
		t.Error("one registration should be allowed after 10 minutes at 6/hour")
	}
}

func TestRateLimiter_LRUEviction(t *testing.T) {
	clock := newFakeClock()
	rl := newTestRateLimiter(clock, 1, 1, 2)

	for i := 0; i < 4; i++ {
		rl.Allow(fmt.Sprintf("id-%d", i))
	}

	stats := rl.GetStats()
	if stats.CurrentEntries != 2 {
		t.Errorf("CurrentEntries = %d, want 2", stats.CurrentEntries)
	}
	if stats.TotalEvictions != 2 {
		t.Errorf("TotalEvictions = %d, want 2", stats.TotalEvictions)
	}
	if stats.MemoryPressure != 100 {
		t.Errorf("MemoryPressure = %v, want 100", stats.MemoryPressure)
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	clock := newFakeClock()
	rl := newTestRateLimiter(clock, 1, 1, 0)

	rl.Allow("old")
	clock.Advance(90 * time.Minute)
	rl.Allow("recent")

	if removed := rl.Cleanup(); removed != 1 {
		t.Fatalf("Cleanup() removed %d, want 1", removed)
	}
	if got := rl.GetStats().CurrentEntries; got != 1 {
		t.Errorf("CurrentEntries = %d, want 1", got)
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{CleanupInterval: time.Millisecond}, nil)
	rl.Stop()
	rl.Stop()
}

func TestRateLimiter_Nil(t *testing.T) {
	var rl *RateLimiter
	if !rl.Allow("x") {
		t.Error("nil limiter should allow")
	}
	rl.Stop()
	if rl.Cleanup() != 0 {
		t.Error("nil limiter Cleanup() != 0")
	}
}
