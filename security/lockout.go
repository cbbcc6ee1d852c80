package security

import (
	"container/list"
	"errors"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultMaxFailedAttempts is the number of failures that triggers a lockout
	DefaultMaxFailedAttempts = 5

	// DefaultFailureWindow is how long failures are counted before the count resets
	DefaultFailureWindow = 5 * time.Minute

	// DefaultLockoutPenalty is how long a key stays locked once the threshold is hit
	DefaultLockoutPenalty = time.Minute

	// DefaultMaxLockoutEntries is the maximum number of keys to track
	DefaultMaxLockoutEntries = 10000
)

// ErrLocked is returned by Check while a key is serving a lockout penalty.
var ErrLocked = errors.New("too many failed attempts")

// FailureLimiterConfig configures a FailureLimiter. Zero values take the defaults.
type FailureLimiterConfig struct {
	MaxAttempts int
	Window      time.Duration
	Penalty     time.Duration

	// MaxEntries bounds memory; the least recently used key is evicted when full.
	MaxEntries int

	// Now is the clock (default time.Now)
	Now func() time.Time
}

// failureEntry tracks failed attempts for one key
type failureEntry struct {
	key         string
	attempts    int
	windowStart time.Time
	lockedUntil time.Time
}

// FailureLimiter locks a key out after repeated failures within a window.
// It has no background goroutine; expired entries are removed by Sweep.
// A nil *FailureLimiter allows everything.
type FailureLimiter struct {
	entries     map[string]*list.Element // key -> list element
	lruList     *list.List               // LRU list of *failureEntry
	mu          sync.Mutex
	maxAttempts int
	window      time.Duration
	penalty     time.Duration
	maxEntries  int
	now         func() time.Time
	logger      *slog.Logger

	// Statistics
	totalLockouts  int64
	totalBlocked   int64
	totalEvictions int64
}

// NewFailureLimiter creates a failure limiter.
func NewFailureLimiter(cfg FailureLimiterConfig, logger *slog.Logger) *FailureLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxFailedAttempts
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultFailureWindow
	}
	if cfg.Penalty <= 0 {
		cfg.Penalty = DefaultLockoutPenalty
	}
	if cfg.MaxEntries < 0 {
		cfg.MaxEntries = DefaultMaxLockoutEntries
		logger.Warn("Invalid maxEntries, using default", "maxEntries", cfg.MaxEntries)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &FailureLimiter{
		entries:     make(map[string]*list.Element),
		lruList:     list.New(),
		maxAttempts: cfg.MaxAttempts,
		window:      cfg.Window,
		penalty:     cfg.Penalty,
		maxEntries:  cfg.MaxEntries,
		now:         cfg.Now,
		logger:      logger,
	}
}

// LockoutKey builds the per-source key "clientID:source".
func LockoutKey(clientID, source string) string {
	return clientID + ":" + source
}

// Check returns ErrLocked while key is locked out.
func (l *FailureLimiter) Check(key string) error {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	elem, ok := l.entries[key]
	if !ok {
		return nil
	}
	entry := elem.Value.(*failureEntry)
	if entry.lockedUntil.After(l.now()) {
		l.totalBlocked++
		return ErrLocked
	}
	return nil
}

// RecordFailure counts a failed attempt and reports whether key is now locked.
func (l *FailureLimiter) RecordFailure(key string) bool {
	if l == nil {
		return false
	}

	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	var entry *failureEntry
	if elem, ok := l.entries[key]; ok {
		l.lruList.MoveToFront(elem)
		entry = elem.Value.(*failureEntry)
		if l.expired(entry, now) {
			entry.attempts = 0
			entry.windowStart = now
			entry.lockedUntil = time.Time{}
		}
	} else {
		if l.maxEntries > 0 && len(l.entries) >= l.maxEntries {
			l.evictLRU()
		}
		entry = &failureEntry{key: key, windowStart: now}
		l.entries[key] = l.lruList.PushFront(entry)
	}

	entry.attempts++
	if entry.attempts >= l.maxAttempts {
		entry.lockedUntil = now.Add(l.penalty)
		l.totalLockouts++
		l.logger.Warn("Failure limit reached, key locked",
			"key", key,
			"attempts", entry.attempts,
			"penalty", l.penalty)
		return true
	}
	return false
}

// Clear forgets all failures for key.
func (l *FailureLimiter) Clear(key string) {
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if elem, ok := l.entries[key]; ok {
		delete(l.entries, key)
		l.lruList.Remove(elem)
	}
}

// Sweep removes entries whose window has elapsed and whose lock has expired.
// It returns the number of removed entries.
func (l *FailureLimiter) Sweep() int {
	if l == nil {
		return 0
	}

	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	var next *list.Element
	for elem := l.lruList.Front(); elem != nil; elem = next {
		next = elem.Next()
		entry := elem.Value.(*failureEntry)
		if l.expired(entry, now) {
			delete(l.entries, entry.key)
			l.lruList.Remove(elem)
			removed++
		}
	}

	if removed > 0 {
		l.logger.Debug("Failure limiter sweep completed",
			"removed", removed,
			"remaining", len(l.entries))
	}
	return removed
}

// expired reports whether the entry's window has elapsed and it is not locked.
// Must be called with mutex locked.
func (l *FailureLimiter) expired(entry *failureEntry, now time.Time) bool {
	return now.Sub(entry.windowStart) >= l.window && !entry.lockedUntil.After(now)
}

// evictLRU removes the least recently used entry.
// Must be called with mutex locked.
func (l *FailureLimiter) evictLRU() {
	elem := l.lruList.Back()
	if elem == nil {
		return
	}
	entry := elem.Value.(*failureEntry)
	delete(l.entries, entry.key)
	l.lruList.Remove(elem)
	l.totalEvictions++

	l.logger.Debug("Failure limiter LRU eviction",
		"key", entry.key,
		"total_evictions", l.totalEvictions)
}

// LockoutStats holds failure limiter statistics for monitoring
type LockoutStats struct {
	CurrentEntries int   // Current number of tracked keys
	MaxEntries     int   // Maximum allowed entries (0 = unlimited)
	TotalLockouts  int64 // Number of times a key was locked
	TotalBlocked   int64 // Number of Check calls rejected
	TotalEvictions int64 // Number of LRU evictions
}

// GetStats returns current statistics.
func (l *FailureLimiter) GetStats() LockoutStats {
	if l == nil {
		return LockoutStats{}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return LockoutStats{
		CurrentEntries: len(l.entries),
		MaxEntries:     l.maxEntries,
		TotalLockouts:  l.totalLockouts,
		TotalBlocked:   l.totalBlocked,
		TotalEvictions: l.totalEvictions,
	}
}
