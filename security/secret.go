package security

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// prehashSecret maps a secret of any length to a fixed 44-byte value.
// bcrypt only reads the first 72 bytes of its input, so hashing first keeps
// long secrets loadable and makes every byte of the secret significant.
func prehashSecret(secret string) []byte {
	sum := sha256.Sum256([]byte(secret))
	out := make([]byte, base64.StdEncoding.EncodedLen(len(sum)))
	base64.StdEncoding.Encode(out, sum[:])
	return out
}

// HashSecret returns the bcrypt hash stored for a client secret or password.
// Pre-computed hashes in a registry file must be produced by this function.
func HashSecret(secret string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword(prehashSecret(secret), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash secret: %w", err)
	}
	return string(hash), nil
}

// CompareSecret reports whether secret matches a hash from HashSecret.
// The comparison is constant-time with respect to the secret.
func CompareSecret(hash, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), prehashSecret(secret)) == nil
}
