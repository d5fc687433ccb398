package valkey

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oauth-authcode/instrumentation"
	"github.com/giantswarm/oauth-authcode/internal/util"
	"github.com/giantswarm/oauth-authcode/security"
	"github.com/giantswarm/oauth-authcode/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys
	DefaultKeyPrefix = "oauth:"

	// tokenIDLogLength is the number of characters to include when logging codes and tokens
	tokenIDLogLength = 8

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second

	// MaxPayloadSize is the maximum size of a stored grant or token payload
	MaxPayloadSize = 64 * 1024
)

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "oauth:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Store is a Valkey-backed implementation of CodeStore and TokenStore.
// Several server replicas may share one Store keyspace.
type Store struct {
	client      valkeygo.Client
	prefix      string
	logger      *slog.Logger
	now         func() time.Time
	tokenGrace  time.Duration
	tracer      trace.Tracer
	inst        *instrumentation.Instrumentation
	encryptor   *security.Encryptor
	encryptorMu sync.RWMutex
}

var (
	_ storage.CodeStore  = (*Store)(nil)
	_ storage.TokenStore = (*Store)(nil)
)

// New creates a new Valkey-backed storage instance.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	store, err := NewWithClient(client, cfg)
	if err != nil {
		client.Close()
		return nil, err
	}
	return store, nil
}

// NewWithClient creates a Store on top of a pre-configured client.
// Only KeyPrefix and Logger are read from cfg. The Store takes ownership of
// the client and closes it in Close.
func NewWithClient(client valkeygo.Client, cfg Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("valkey client is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{
		client:     client,
		prefix:     prefix,
		logger:     logger,
		now:        time.Now,
		tokenGrace: security.DefaultClockSkewGracePeriod,
	}, nil
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey storage connection closed")
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetClock overrides the time source used for expiry checks and TTLs.
func (s *Store) SetClock(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	s.now = now
}

// SetTokenGracePeriod sets how long past ExpiresAt an access token key is kept,
// so validators applying clock skew grace can still see it.
func (s *Store) SetTokenGracePeriod(d time.Duration) {
	if d >= 0 {
		s.tokenGrace = d
	}
}

// SetInstrumentation enables tracing and storage metrics.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.inst = inst
	s.tracer = nil
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}
}

// SetEncryptor enables encryption at rest for stored grants and tokens.
// Payloads are sealed with their storage key as additional data.
func (s *Store) SetEncryptor(enc *security.Encryptor) {
	s.encryptorMu.Lock()
	defer s.encryptorMu.Unlock()
	s.encryptor = enc
	if enc != nil && enc.IsEnabled() {
		s.logger.Info("Encryption at rest enabled for Valkey storage")
	}
}

// getEncryptor returns the current encryptor (thread-safe)
func (s *Store) getEncryptor() *security.Encryptor {
	s.encryptorMu.RLock()
	defer s.encryptorMu.RUnlock()
	return s.encryptor
}

// seal encrypts a payload bound to its key when an encryptor is configured
func (s *Store) seal(key string, data []byte) ([]byte, error) {
	enc := s.getEncryptor()
	if !enc.IsEnabled() {
		return data, nil
	}
	return enc.Seal(data, []byte(key))
}

// open reverses seal
func (s *Store) open(key string, data []byte) ([]byte, error) {
	enc := s.getEncryptor()
	if !enc.IsEnabled() {
		return data, nil
	}
	return enc.Open(data, []byte(key))
}

// codeKey returns the key for an authorization code: {prefix}code:{sha256(code)}
func (s *Store) codeKey(code string) string {
	return fmt.Sprintf("%scode:%s", s.prefix, util.HashKey(code))
}

// tokenKey returns the key for an access token: {prefix}token:{sha256(token)}
func (s *Store) tokenKey(token string) string {
	return fmt.Sprintf("%stoken:%s", s.prefix, util.HashKey(token))
}

// luaGetAndDelete atomically reads and removes a key.
//
// KEYS[1] = code key
//
// Returns the stored payload, or nil when the key does not exist.
const luaGetAndDelete = `
local data = redis.call('GET', KEYS[1])
if not data then
    return false
end
redis.call('DEL', KEYS[1])
return data
`

// calculateTTL returns the time remaining until expiresAt, or 0 if it has passed.
func calculateTTL(expiresAt, now time.Time) time.Duration {
	ttl := expiresAt.Sub(now)
	if ttl <= 0 {
		return 0
	}
	return ttl
}

// isNilError reports whether err is a Valkey nil reply
func isNilError(err error) bool {
	return valkeygo.IsValkeyNil(err)
}

func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(context.Background())
	}

	ctx, span := s.tracer.Start(ctx, "storage."+operation)
	instrumentation.AddStorageAttributes(span, operation, "valkey")
	return ctx, span
}

func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if s.inst == nil {
		return
	}

	durationMs := float64(time.Since(startTime).Microseconds()) / 1000
	result := "success"
	if err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	s.inst.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}
