package security

import (
	"golang.org/x/oauth2"
)

// MinTokenEntropyBits is the minimum entropy an identifier generator must provide.
const MinTokenEntropyBits = 128

// TokenGenerator produces opaque identifiers for authorization codes, access
// tokens, and anti-forgery state. Implementations must be safe for concurrent use.
type TokenGenerator interface {
	Generate() string
}

// TokenGeneratorFunc adapts a plain function to TokenGenerator
type TokenGeneratorFunc func() string

// Generate implements TokenGenerator
func (f TokenGeneratorFunc) Generate() string {
	return f()
}

// SecureTokenGenerator draws 32 bytes (256 bits) from crypto/rand and
// renders them as a 43 character unpadded base64url string.
type SecureTokenGenerator struct{}

// Generate implements TokenGenerator.
// It panics if the system random source fails.
func (SecureTokenGenerator) Generate() string {
	return oauth2.GenerateVerifier()
}

// DefaultTokenGenerator is the generator used when none is injected
var DefaultTokenGenerator TokenGenerator = SecureTokenGenerator{}
