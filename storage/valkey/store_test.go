package valkey

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/giantswarm/oauth-authcode/security"
	"github.com/giantswarm/oauth-authcode/storage"
)

// testStore creates a test store. When VALKEY_TEST_ADDR is set the store
// connects to that server and skips if it is unreachable; otherwise it runs
// against an in-process miniredis.
// Each test gets a unique prefix to ensure test isolation.
func testStore(t *testing.T) *Store {
	t.Helper()

	prefix := fmt.Sprintf("oauthtest:%s:", t.Name())
	logger := slog.New(slog.DiscardHandler)

	addr := os.Getenv("VALKEY_TEST_ADDR")
	if addr == "" {
		store, _ := miniStore(t, prefix)
		return store
	}

	store, err := New(Config{
		Address:   addr,
		KeyPrefix: prefix,
		Logger:    logger,
	})
	if err != nil {
		t.Skipf("Skipping test: could not connect to Valkey at %s: %v", addr, err)
	}

	t.Cleanup(func() {
		cleanupTestKeys(t, store)
		store.Close()
	})

	cleanupTestKeys(t, store)
	return store
}

// miniStore returns a store backed by miniredis along with the server,
// so tests can inspect TTLs and raw values.
func miniStore(t *testing.T, prefix string) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client, err := valkeygo.NewClient(valkeygo.ClientOption{
		InitAddress:  []string{mr.Addr()},
		DisableCache: true,
		AlwaysRESP2:  true,
	})
	require.NoError(t, err)

	store, err := NewWithClient(client, Config{
		Address:   mr.Addr(),
		KeyPrefix: prefix,
		Logger:    slog.New(slog.DiscardHandler),
	})
	require.NoError(t, err)
	t.Cleanup(store.Close)

	return store, mr
}

// cleanupTestKeys removes all test keys from Valkey
func cleanupTestKeys(t *testing.T, s *Store) {
	t.Helper()

	ctx := context.Background()
	pattern := s.prefix + "*"

	var cursor uint64
	for {
		result, err := s.client.Do(ctx,
			s.client.B().Scan().Cursor(cursor).Match(pattern).Count(100).Build(),
		).AsScanEntry()
		if err != nil {
			t.Logf("Warning: failed to scan for cleanup: %v", err)
			return
		}

		for _, key := range result.Elements {
			_ = s.client.Do(ctx, s.client.B().Del().Key(key).Build())
		}

		cursor = result.Cursor
		if cursor == 0 {
			break
		}
	}
}

func testGrant(code string, now time.Time) *storage.AuthorizationGrant {
	return &storage.AuthorizationGrant{
		Code:        code,
		ClientID:    "abc123",
		RedirectURI: "http://localhost:4000/callback",
		Username:    "alice",
		CreatedAt:   now,
		ExpiresAt:   now.Add(10 * time.Minute),
	}
}

func TestNew_RequiresAddress(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address is required")
}

func TestKeys_HashCredentials(t *testing.T) {
	s := &Store{prefix: "oauth:"}

	codeKey := s.codeKey("secret-code")
	tokenKey := s.tokenKey("secret-code")

	assert.True(t, strings.HasPrefix(codeKey, "oauth:code:"))
	assert.True(t, strings.HasPrefix(tokenKey, "oauth:token:"))
	assert.NotContains(t, codeKey, "secret-code")
	assert.NotContains(t, tokenKey, "secret-code")
	assert.NotEqual(t, codeKey, tokenKey)
	assert.Equal(t, codeKey, s.codeKey("secret-code"))
}

func TestCalculateTTL(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	assert.Equal(t, 10*time.Minute, calculateTTL(now.Add(10*time.Minute), now))
	assert.Equal(t, time.Duration(0), calculateTTL(now, now))
	assert.Equal(t, time.Duration(0), calculateTTL(now.Add(-time.Second), now))
}

func TestStore_SaveAndRedeemAuthorizationCode(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	require.NoError(t, store.SaveAuthorizationCode(ctx, testGrant("code-1", now)))

	grant, err := store.RedeemAuthorizationCode(ctx, "code-1")
	require.NoError(t, err)
	assert.Equal(t, "code-1", grant.Code)
	assert.Equal(t, "abc123", grant.ClientID)
	assert.Equal(t, "http://localhost:4000/callback", grant.RedirectURI)
	assert.Equal(t, "alice", grant.Username)
	assert.True(t, grant.ExpiresAt.Equal(now.Add(10*time.Minute)))

	_, err = store.RedeemAuthorizationCode(ctx, "code-1")
	assert.ErrorIs(t, err, storage.ErrAuthorizationCodeNotFound)
}

func TestStore_SaveAuthorizationCode_Collision(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.SaveAuthorizationCode(ctx, testGrant("dup", now)))
	err := store.SaveAuthorizationCode(ctx, testGrant("dup", now))
	assert.ErrorIs(t, err, storage.ErrAlreadyExists)
}

func TestStore_RedeemAuthorizationCode_Unknown(t *testing.T) {
	store := testStore(t)

	_, err := store.RedeemAuthorizationCode(context.Background(), "nope")
	assert.ErrorIs(t, err, storage.ErrAuthorizationCodeNotFound)

	_, err = store.RedeemAuthorizationCode(context.Background(), "")
	assert.ErrorIs(t, err, storage.ErrAuthorizationCodeNotFound)
}

func TestStore_RedeemAuthorizationCode_Expired(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.SaveAuthorizationCode(ctx, testGrant("late", now)))

	store.SetClock(func() time.Time { return now.Add(11 * time.Minute) })
	_, err := store.RedeemAuthorizationCode(ctx, "late")
	assert.ErrorIs(t, err, storage.ErrAuthorizationCodeExpired)

	// Expired codes are deleted on redemption.
	store.SetClock(nil)
	_, err = store.RedeemAuthorizationCode(ctx, "late")
	assert.ErrorIs(t, err, storage.ErrAuthorizationCodeNotFound)
}

func TestStore_RedeemAuthorizationCode_Concurrent(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveAuthorizationCode(ctx, testGrant("race", time.Now())))

	const workers = 20
	var wins, misses atomic.Int32
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.RedeemAuthorizationCode(ctx, "race")
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, storage.ErrAuthorizationCodeNotFound):
				misses.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(workers-1), misses.Load())
}

func TestStore_AccessToken(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	token := &storage.AccessToken{
		Token:     "tok-1",
		ClientID:  "abc123",
		Username:  "alice",
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Hour),
	}
	require.NoError(t, store.SaveAccessToken(ctx, token))
	assert.ErrorIs(t, store.SaveAccessToken(ctx, token), storage.ErrAlreadyExists)

	got, err := store.GetAccessToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, "abc123", got.ClientID)
	assert.True(t, got.ExpiresAt.Equal(now.Add(time.Hour)))

	// Lookups are repeatable.
	_, err = store.GetAccessToken(ctx, "tok-1")
	require.NoError(t, err)

	_, err = store.GetAccessToken(ctx, "unknown")
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)
}

func TestStore_Encryption(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	enc, err := security.NewEncryptor([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	store.SetEncryptor(enc)

	require.NoError(t, store.SaveAuthorizationCode(ctx, testGrant("sealed", time.Now())))

	raw, err := store.client.Do(ctx, store.client.B().Get().Key(store.codeKey("sealed")).Build()).ToString()
	require.NoError(t, err)
	assert.NotContains(t, raw, "alice")

	grant, err := store.RedeemAuthorizationCode(ctx, "sealed")
	require.NoError(t, err)
	assert.Equal(t, "alice", grant.Username)
}

func TestNewWithClient_RequiresClient(t *testing.T) {
	_, err := NewWithClient(nil, Config{})
	require.Error(t, err)
}

func TestStore_KeyTTL(t *testing.T) {
	store, mr := miniStore(t, "ttl:")
	ctx := context.Background()
	now := time.Now()
	store.SetClock(func() time.Time { return now })

	require.NoError(t, store.SaveAuthorizationCode(ctx, testGrant("ttl-code", now)))
	assert.Equal(t, 10*time.Minute, mr.TTL(store.codeKey("ttl-code")))

	token := &storage.AccessToken{
		Token:     "ttl-token",
		ClientID:  "abc123",
		Username:  "alice",
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Hour),
	}
	require.NoError(t, store.SaveAccessToken(ctx, token))
	assert.Equal(t, time.Hour+security.DefaultClockSkewGracePeriod, mr.TTL(store.tokenKey("ttl-token")))
}

func TestStore_KeysDoNotContainCredentials(t *testing.T) {
	store, mr := miniStore(t, "keys:")
	ctx := context.Background()

	require.NoError(t, store.SaveAuthorizationCode(ctx, testGrant("plain-code-value", time.Now())))

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.True(t, strings.HasPrefix(keys[0], "keys:code:"))
	assert.NotContains(t, keys[0], "plain-code-value")
}

func TestStore_ExpiredKeyIsNotFound(t *testing.T) {
	store, mr := miniStore(t, "expire:")
	ctx := context.Background()

	require.NoError(t, store.SaveAuthorizationCode(ctx, testGrant("gone", time.Now())))
	mr.FastForward(11 * time.Minute)

	_, err := store.RedeemAuthorizationCode(ctx, "gone")
	assert.ErrorIs(t, err, storage.ErrAuthorizationCodeNotFound)
}
