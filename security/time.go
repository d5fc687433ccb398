package security

import "time"

// DefaultClockSkewGracePeriod is how long past its expiry an access token is
// still accepted, to absorb clock drift between nodes sharing a store.
const DefaultClockSkewGracePeriod = 5 * time.Second

// IsTokenExpired checks expiry against time.Now with the default grace period
func IsTokenExpired(expiresAt time.Time) bool {
	return IsExpiredAt(expiresAt, time.Now(), DefaultClockSkewGracePeriod)
}

// IsExpiredAt reports whether expiresAt plus gracePeriod lies before now.
// A zero expiresAt never expires.
func IsExpiredAt(expiresAt, now time.Time, gracePeriod time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return now.After(expiresAt.Add(gracePeriod))
}
