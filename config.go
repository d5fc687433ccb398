package oauth

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/giantswarm/oauth-authcode/instrumentation"
	"github.com/giantswarm/oauth-authcode/server"
	"github.com/giantswarm/oauth-authcode/storage/memory"
	"github.com/giantswarm/oauth-authcode/storage/valkey"
)

// Storage backends for authorization codes and access tokens
const (
	StorageBackendMemory = "memory"
	StorageBackendValkey = "valkey"
)

// Config holds the authorization server configuration.
// Structured using composition, one section per concern.
type Config struct {
	// Server holds issuer, lifetimes and proxy trust settings
	Server server.Config

	// Registry lists the clients and resource owners known to the server
	Registry RegistryConfig

	// Rate limiting configuration
	RateLimit RateLimitConfig

	// Security settings (secure by default)
	Security SecurityConfig

	// Storage selects where codes and tokens live
	Storage StorageConfig

	// Instrumentation configures OpenTelemetry metrics and tracing
	Instrumentation instrumentation.Config

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	// Rate is requests per second allowed per IP. Zero disables limiting.
	Rate int

	// Burst is the maximum burst size allowed per IP.
	Burst int

	// MaxEntries bounds the number of tracked IPs (default 10000).
	MaxEntries int
}

// SecurityConfig holds security settings
type SecurityConfig struct {
	// EnableAuditLogging enables security audit logging.
	// Logs auth events, code and token operations (usernames hashed).
	EnableAuditLogging bool

	// EncryptionKey is the AES-256 key (32 bytes) for encrypting codes and
	// tokens at rest in Valkey. Nil disables encryption.
	EncryptionKey []byte
}

// StorageConfig selects and configures the code and token store
type StorageConfig struct {
	// Backend is "memory" (default) or "valkey"
	Backend string

	// CleanupInterval is how often the memory backend purges expired entries.
	// Default: 1 minute
	CleanupInterval time.Duration

	// Valkey configures the valkey backend
	Valkey valkey.Config
}

// RegistryConfig is the on-disk form of the registry
type RegistryConfig struct {
	Clients []memory.ClientDefinition `yaml:"clients"`
	Users   []memory.UserDefinition   `yaml:"users"`

	// BcryptCost is used when hashing plaintext secrets at load. Zero means bcrypt.DefaultCost.
	BcryptCost int `yaml:"bcrypt_cost,omitempty"`
}

// LoadRegistryFile reads a YAML registry file.
//
//	clients:
//	  - client_id: abc123
//	    client_secret: sooper-secret
//	    redirect_uris: ["http://localhost:4000/callback"]
//	users:
//	  - username: alice
//	    password_hash: $2a$10$...
//
// Hashes must be produced by security.HashSecret, which bcrypts the
// SHA-256 digest of the value rather than the raw value.
func LoadRegistryFile(path string) (*RegistryConfig, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from operator configuration
	if err != nil {
		return nil, fmt.Errorf("failed to read registry file: %w", err)
	}
	cfg, err := ParseRegistry(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ParseRegistry decodes a YAML registry document. Unknown fields are rejected.
func ParseRegistry(data []byte) (*RegistryConfig, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var cfg RegistryConfig
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse registry: %w", err)
	}
	return &cfg, nil
}

// DemoRegistry returns the single client and user used for local demos.
func DemoRegistry() RegistryConfig {
	return RegistryConfig{
		Clients: []memory.ClientDefinition{{
			ClientID:     "abc123",
			ClientSecret: "sooper-secret",
			RedirectURIs: []string{"http://localhost:4000/callback"},
			ClientName:   "Demo Client",
		}},
		Users: []memory.UserDefinition{{
			Username: "alice",
			Password: "password123",
		}},
	}
}
