// Package security provides the authorization server's security plumbing:
// audit logging, rate limiting, secure identifier generation, encryption at
// rest, client IP extraction, response headers, and request IDs.
//
// # Rate Limiting
//
// RateLimiter keeps a token bucket per identifier. The number of tracked
// identifiers is capped (DefaultMaxLimiters by default); once the cap is hit
// the least recently used bucket is evicted. Idle buckets are dropped by a
// background loop every 5 minutes after 30 minutes without use.
//
//	limiter := security.NewRateLimiter(10, 20, logger)
//	defer limiter.Stop()
//
//	if !limiter.Allow(clientIP) {
//	    // 429 rate_limit_exceeded
//	}
//
// # Identifiers
//
// Authorization codes and access tokens come from a TokenGenerator. The
// default SecureTokenGenerator yields 256 bits of crypto/rand entropy encoded
// as unpadded base64url. Tests inject deterministic generators.
//
// # Audit
//
// Auditor writes structured security events through log/slog. Usernames,
// client IDs and other identifiers are hashed before logging; secrets,
// passwords, codes and tokens are never logged.
package security
