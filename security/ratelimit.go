package security

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultRegistrationsPerHour is the sustained per-IP dynamic registration rate
	DefaultRegistrationsPerHour = 10

	// DefaultRegistrationBurst is how many registrations an IP may make back to back
	DefaultRegistrationBurst = 5

	// DefaultMaxRateLimitEntries bounds the number of tracked identifiers
	DefaultMaxRateLimitEntries = 10000

	defaultIdleTimeout     = 2 * time.Hour
	defaultCleanupInterval = 5 * time.Minute
)

// RateLimiterConfig configures a RateLimiter. Zero values take the defaults
// of the registration throttle.
type RateLimiterConfig struct {
	// Limit is the sustained rate in events per second.
	Limit rate.Limit

	// Burst is the token bucket size.
	Burst int

	// MaxEntries caps tracked identifiers, evicting the least recently used.
	// Set to 0 for unlimited.
	MaxEntries int

	// IdleTimeout is how long an identifier may go unseen before Cleanup drops it.
	IdleTimeout time.Duration

	// CleanupInterval controls the background cleanup loop. Negative disables it.
	CleanupInterval time.Duration

	// Now is the clock (default time.Now)
	Now func() time.Time
}

// RegistrationThrottleConfig returns the config used for POST /register.
func RegistrationThrottleConfig(perHour, burst int) RateLimiterConfig {
	if perHour <= 0 {
		perHour = DefaultRegistrationsPerHour
	}
	if burst <= 0 {
		burst = DefaultRegistrationBurst
	}
	return RateLimiterConfig{
		Limit: rate.Every(time.Hour / time.Duration(perHour)),
		Burst: burst,
	}
}

// rateLimiterEntry tracks a token bucket and its last access time
type rateLimiterEntry struct {
	identifier string
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter provides per-identifier token bucket throttling with LRU
// eviction to keep memory bounded.
type RateLimiter struct {
	limiters    map[string]*list.Element // identifier -> list element
	lruList     *list.List               // LRU list of *rateLimiterEntry
	mu          sync.Mutex
	limit       rate.Limit
	burst       int
	maxEntries  int
	idleTimeout time.Duration
	now         func() time.Time
	logger      *slog.Logger
	stopCleanup chan struct{}
	stopOnce    sync.Once

	// Statistics
	totalEvictions int64
	totalCleanups  int64
	totalRejected  int64
}

// NewRateLimiter creates a rate limiter and starts its cleanup loop.
// Call Stop when done with it.
func NewRateLimiter(cfg RateLimiterConfig, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := RegistrationThrottleConfig(0, 0)
	if cfg.Limit <= 0 {
		cfg.Limit = defaults.Limit
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaults.Burst
	}
	if cfg.MaxEntries < 0 {
		cfg.MaxEntries = DefaultMaxRateLimitEntries
		logger.Warn("Invalid maxEntries, using default", "maxEntries", cfg.MaxEntries)
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = defaultCleanupInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	rl := &RateLimiter{
		limiters:    make(map[string]*list.Element),
		lruList:     list.New(),
		limit:       cfg.Limit,
		burst:       cfg.Burst,
		maxEntries:  cfg.MaxEntries,
		idleTimeout: cfg.IdleTimeout,
		now:         cfg.Now,
		logger:      logger,
		stopCleanup: make(chan struct{}),
	}

	if cfg.CleanupInterval > 0 {
		go rl.cleanupLoop(cfg.CleanupInterval)
	}

	return rl
}

// Allow reports whether an event for identifier may happen now and consumes
// a token if so. A nil limiter allows everything.
func (rl *RateLimiter) Allow(identifier string) bool {
	if rl == nil {
		return true
	}

	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	var entry *rateLimiterEntry
	if elem, exists := rl.limiters[identifier]; exists {
		rl.lruList.MoveToFront(elem)
		entry = elem.Value.(*rateLimiterEntry)
	} else {
		if rl.maxEntries > 0 && len(rl.limiters) >= rl.maxEntries {
			rl.evictLRU()
		}
		entry = &rateLimiterEntry{
			identifier: identifier,
			limiter:    rate.NewLimiter(rl.limit, rl.burst),
		}
		rl.limiters[identifier] = rl.lruList.PushFront(entry)
	}

	entry.lastAccess = now
	if !entry.limiter.AllowN(now, 1) {
		rl.totalRejected++
		return false
	}
	return true
}

// evictLRU removes the least recently used entry.
// Must be called with mutex locked.
func (rl *RateLimiter) evictLRU() {
	elem := rl.lruList.Back()
	if elem == nil {
		return
	}
	entry := elem.Value.(*rateLimiterEntry)
	delete(rl.limiters, entry.identifier)
	rl.lruList.Remove(elem)
	rl.totalEvictions++

	rl.logger.Debug("Rate limiter LRU eviction",
		"identifier", entry.identifier,
		"total_evictions", rl.totalEvictions,
		"current_entries", len(rl.limiters))
}

func (rl *RateLimiter) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.Cleanup()
		case <-rl.stopCleanup:
			return
		}
	}
}

// Cleanup drops identifiers idle for longer than the configured timeout.
// The LRU list is ordered by access, so it walks from the back and stops at
// the first active entry.
func (rl *RateLimiter) Cleanup() int {
	if rl == nil {
		return 0
	}

	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for elem := rl.lruList.Back(); elem != nil; {
		entry := elem.Value.(*rateLimiterEntry)
		if now.Sub(entry.lastAccess) <= rl.idleTimeout {
			break
		}
		prev := elem.Prev()
		delete(rl.limiters, entry.identifier)
		rl.lruList.Remove(elem)
		removed++
		elem = prev
	}

	if removed > 0 {
		rl.totalCleanups++
		rl.logger.Debug("Rate limiter cleanup completed",
			"removed", removed,
			"remaining", len(rl.limiters),
			"total_cleanups", rl.totalCleanups)
	}
	return removed
}

// Stop ends the cleanup loop. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	if rl == nil {
		return
	}
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}

// Stats holds rate limiter statistics for monitoring
type Stats struct {
	CurrentEntries int     // Current number of tracked identifiers
	MaxEntries     int     // Maximum allowed entries (0 = unlimited)
	TotalEvictions int64   // Total number of LRU evictions
	TotalCleanups  int64   // Total number of cleanup passes that removed something
	TotalRejected  int64   // Total number of denied events
	MemoryPressure float64 // Percentage of max capacity used (0-100)
}

// GetStats returns current statistics, useful for tuning MaxEntries.
func (rl *RateLimiter) GetStats() Stats {
	if rl == nil {
		return Stats{}
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	stats := Stats{
		CurrentEntries: len(rl.limiters),
		MaxEntries:     rl.maxEntries,
		TotalEvictions: rl.totalEvictions,
		TotalCleanups:  rl.totalCleanups,
		TotalRejected:  rl.totalRejected,
	}
	if rl.maxEntries > 0 {
		stats.MemoryPressure = float64(stats.CurrentEntries) / float64(rl.maxEntries) * 100.0
	}
	return stats
}
