// Package security holds the hardening pieces of the provider.
//
// # Brute-force protection
//
// FailureLimiter counts failed client authentications at the token endpoint.
// Keys are "client_id:source" (see LockoutKey). After MaxAttempts failures
// inside Window the key is locked for Penalty, and Check returns ErrLocked
// even for correct credentials until the penalty has elapsed. A successful
// authentication clears the key. There is no background goroutine: the token
// endpoint calls Sweep on every request.
//
//	limiter := security.NewFailureLimiter(security.FailureLimiterConfig{}, logger)
//	limiter.Sweep()
//	key := security.LockoutKey(clientID, security.GetClientIP(r, proxyCfg))
//	if err := limiter.Check(key); err != nil {
//	    // 429
//	}
//
// # Registration throttling
//
// RateLimiter is a per-identifier token bucket (golang.org/x/time/rate) with
// LRU eviction and an idle cleanup loop. The provider uses it per IP on
// dynamic client registration; call Stop on shutdown.
//
// # Other helpers
//
//   - Auditor writes security events to a slog.Logger, hashing user ids.
//   - Encryptor seals the persisted signing key with AES-256-GCM.
//   - SetSecurityHeaders and SetPageSecurityHeaders set response headers.
//   - RequestIDMiddleware propagates X-Request-ID.
package security
