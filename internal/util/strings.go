package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// SafeTruncate returns at most maxLen bytes of s. It is used when logging
// codes and tokens, where only a prefix may appear in logs.
// A negative maxLen yields an empty string.
//
//	SafeTruncate("0123456789abcdef", 8) // "01234567"
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// HashKey returns the hex SHA-256 digest of a credential. Stores that keep
// credentials in a shared keyspace index them by this digest so the raw
// value never appears in key listings.
func HashKey(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])
}
