package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oauth-authcode/instrumentation"
	"github.com/giantswarm/oauth-authcode/internal/util"
	"github.com/giantswarm/oauth-authcode/security"
	"github.com/giantswarm/oauth-authcode/storage"
)

// tokenIDLogLength is how much of a code or token may appear in logs
const tokenIDLogLength = 8

// Store is an in-memory CodeStore and TokenStore.
// All mutations happen under one mutex, which makes redemption atomic.
type Store struct {
	mu sync.RWMutex

	codes  map[string]*storage.AuthorizationGrant
	tokens map[string]*storage.AccessToken

	now              func() time.Time
	tokenGracePeriod time.Duration

	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer

	// read by metric callbacks without taking mu
	codesCountAtomic  atomic.Int64
	tokensCountAtomic atomic.Int64

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
}

var (
	_ storage.CodeStore  = (*Store)(nil)
	_ storage.TokenStore = (*Store)(nil)
)

// New creates a store that purges expired entries every minute
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a store with a custom cleanup interval.
// Non-positive intervals fall back to one minute.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		codes:            make(map[string]*storage.AuthorizationGrant),
		tokens:           make(map[string]*storage.AccessToken),
		now:              time.Now,
		tokenGracePeriod: security.DefaultClockSkewGracePeriod,
		cleanupInterval:  cleanupInterval,
		stopCleanup:      make(chan struct{}),
		logger:           slog.Default(),
	}

	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetClock replaces the time source used for expiry decisions
func (s *Store) SetClock(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SetTokenGracePeriod sets how long past expiry a token is kept before cleanup
// removes it. It should match the server's clock skew grace period.
func (s *Store) SetTokenGracePeriod(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenGracePeriod = d
}

// SetInstrumentation enables storage spans, operation metrics and size gauges
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.instrumentation = inst
	s.tracer = nil
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}
	s.codesCountAtomic.Store(int64(len(s.codes)))
	s.tokensCountAtomic.Store(int64(len(s.tokens)))
	s.mu.Unlock()

	if inst != nil {
		err := inst.RegisterStorageSizeCallbacks(
			func() int64 { return s.codesCountAtomic.Load() },
			func() int64 { return s.tokensCountAtomic.Load() },
		)
		if err != nil {
			s.logger.Warn("Failed to register storage size callbacks", "error", err)
		}
	}
}

// Stop ends the cleanup goroutine. It is safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

// SaveAuthorizationCode implements storage.CodeStore
func (s *Store) SaveAuthorizationCode(ctx context.Context, grant *storage.AuthorizationGrant) (err error) {
	ctx, span := s.startStorageSpan(ctx, "save_authorization_code")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "save_authorization_code", err, startTime) }()

	if grant == nil || grant.Code == "" {
		return fmt.Errorf("authorization code cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.codes[grant.Code]; exists {
		return storage.ErrAlreadyExists
	}

	stored := *grant
	s.codes[grant.Code] = &stored
	s.codesCountAtomic.Add(1)

	s.logger.Debug("Saved authorization code",
		"client_id", grant.ClientID,
		"code_prefix", util.SafeTruncate(grant.Code, tokenIDLogLength))
	return nil
}

// RedeemAuthorizationCode implements storage.CodeStore.
// SECURITY: the lookup and the delete happen under one write lock.
func (s *Store) RedeemAuthorizationCode(ctx context.Context, code string) (_ *storage.AuthorizationGrant, err error) {
	ctx, span := s.startStorageSpan(ctx, "redeem_authorization_code")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "redeem_authorization_code", err, startTime) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	grant, ok := s.codes[code]
	if !ok {
		return nil, storage.ErrAuthorizationCodeNotFound
	}
	delete(s.codes, code)
	s.codesCountAtomic.Add(-1)

	if grant.Expired(s.now()) {
		s.logger.Debug("Expired authorization code redeemed",
			"client_id", grant.ClientID,
			"code_prefix", util.SafeTruncate(code, tokenIDLogLength))
		return nil, storage.ErrAuthorizationCodeExpired
	}

	redeemed := *grant
	return &redeemed, nil
}

// SaveAccessToken implements storage.TokenStore
func (s *Store) SaveAccessToken(ctx context.Context, token *storage.AccessToken) (err error) {
	ctx, span := s.startStorageSpan(ctx, "save_access_token")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "save_access_token", err, startTime) }()

	if token == nil || token.Token == "" {
		return fmt.Errorf("access token cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tokens[token.Token]; exists {
		return storage.ErrAlreadyExists
	}

	stored := *token
	s.tokens[token.Token] = &stored
	s.tokensCountAtomic.Add(1)

	s.logger.Debug("Saved access token",
		"client_id", token.ClientID,
		"token_prefix", util.SafeTruncate(token.Token, tokenIDLogLength))
	return nil
}

// GetAccessToken implements storage.TokenStore. Expiry is left to the caller.
func (s *Store) GetAccessToken(ctx context.Context, token string) (_ *storage.AccessToken, err error) {
	ctx, span := s.startStorageSpan(ctx, "get_access_token")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "get_access_token", err, startTime) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.tokens[token]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}

	found := *stored
	return &found, nil
}

// CodeCount returns the number of outstanding authorization codes
func (s *Store) CodeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.codes)
}

// TokenCount returns the number of stored access tokens
func (s *Store) TokenCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

// cleanup drops expired codes and tokens past their grace period
func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	codesRemoved, tokensRemoved := 0, 0

	for code, grant := range s.codes {
		if grant.Expired(now) {
			delete(s.codes, code)
			codesRemoved++
		}
	}
	for id, token := range s.tokens {
		if security.IsExpiredAt(token.ExpiresAt, now, s.tokenGracePeriod) {
			delete(s.tokens, id)
			tokensRemoved++
		}
	}

	s.codesCountAtomic.Store(int64(len(s.codes)))
	s.tokensCountAtomic.Store(int64(len(s.tokens)))

	if codesRemoved > 0 || tokensRemoved > 0 {
		s.logger.Debug("Cleaned up expired entries",
			"codes_removed", codesRemoved,
			"tokens_removed", tokensRemoved)
	}
}

// startStorageSpan returns a storage span, or a non-recording span when
// tracing is off so callers can End it unconditionally.
func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(context.Background())
	}

	ctx, span := s.tracer.Start(ctx, "storage."+operation)
	instrumentation.AddStorageAttributes(span, operation, "memory")
	return ctx, span
}

func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if s.instrumentation == nil {
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

	s.instrumentation.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}
