package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/giantswarm/oauth-authcode/instrumentation"
	"github.com/giantswarm/oauth-authcode/internal/testutil"
	"github.com/giantswarm/oauth-authcode/storage"
)

func newTestStore(t *testing.T) (*Store, *testutil.MockTime) {
	t.Helper()
	s := NewWithInterval(time.Hour)
	t.Cleanup(s.Stop)
	s.SetLogger(slog.New(slog.DiscardHandler))

	clock := testutil.NewMockTime(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	s.SetClock(clock.Now)
	return s, clock
}

func grantFor(code string, now time.Time) *storage.AuthorizationGrant {
	return &storage.AuthorizationGrant{
		Code:        code,
		ClientID:    "abc123",
		RedirectURI: "http://localhost:4000/callback",
		Username:    "alice",
		CreatedAt:   now,
		ExpiresAt:   now.Add(10 * time.Minute),
	}
}

func TestStore_SaveAndRedeemCode(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveAuthorizationCode(ctx, grantFor("code-1", clock.Now())))
	assert.Equal(t, 1, s.CodeCount())

	grant, err := s.RedeemAuthorizationCode(ctx, "code-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", grant.Username)
	assert.Equal(t, "http://localhost:4000/callback", grant.RedirectURI)
	assert.Equal(t, 0, s.CodeCount())

	_, err = s.RedeemAuthorizationCode(ctx, "code-1")
	assert.ErrorIs(t, err, storage.ErrAuthorizationCodeNotFound)
}

func TestStore_SaveCodeRejectsDuplicate(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveAuthorizationCode(ctx, grantFor("dup", clock.Now())))

	other := grantFor("dup", clock.Now())
	other.Username = "mallory"
	err := s.SaveAuthorizationCode(ctx, other)
	assert.ErrorIs(t, err, storage.ErrAlreadyExists)

	grant, err := s.RedeemAuthorizationCode(ctx, "dup")
	require.NoError(t, err)
	assert.Equal(t, "alice", grant.Username, "the original grant must not be overwritten")
}

func TestStore_SaveCodeValidation(t *testing.T) {
	s, _ := newTestStore(t)
	assert.Error(t, s.SaveAuthorizationCode(context.Background(), nil))
	assert.Error(t, s.SaveAuthorizationCode(context.Background(), &storage.AuthorizationGrant{}))
}

func TestStore_RedeemExpiredCode(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveAuthorizationCode(ctx, grantFor("old", clock.Now())))
	clock.Advance(10*time.Minute + time.Second)

	_, err := s.RedeemAuthorizationCode(ctx, "old")
	assert.ErrorIs(t, err, storage.ErrAuthorizationCodeExpired)

	// Expired codes are deleted by the failed redemption
	_, err = s.RedeemAuthorizationCode(ctx, "old")
	assert.ErrorIs(t, err, storage.ErrAuthorizationCodeNotFound)
}

func TestStore_StoredGrantIsACopy(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	grant := grantFor("copy", clock.Now())
	require.NoError(t, s.SaveAuthorizationCode(ctx, grant))
	grant.RedirectURI = "http://evil.example/callback"

	redeemed, err := s.RedeemAuthorizationCode(ctx, "copy")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:4000/callback", redeemed.RedirectURI)
}

func TestStore_ConcurrentRedeem(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveAuthorizationCode(ctx, grantFor("race", clock.Now())))

	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	start := make(chan struct{})
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := s.RedeemAuthorizationCode(ctx, "race"); err == nil {
				winners.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}

func TestStore_AccessTokens(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	token := &storage.AccessToken{
		Token:     "tok-1",
		ClientID:  "abc123",
		Username:  "alice",
		IssuedAt:  clock.Now(),
		ExpiresAt: clock.Now().Add(time.Hour),
	}
	require.NoError(t, s.SaveAccessToken(ctx, token))
	assert.ErrorIs(t, s.SaveAccessToken(ctx, token), storage.ErrAlreadyExists)

	got, err := s.GetAccessToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, "abc123", got.ClientID)

	// Lookups do not consume the token
	_, err = s.GetAccessToken(ctx, "tok-1")
	require.NoError(t, err)

	_, err = s.GetAccessToken(ctx, "tok-2")
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)

	assert.Error(t, s.SaveAccessToken(ctx, nil))
	assert.Equal(t, 1, s.TokenCount())
}

func TestStore_Cleanup(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	now := clock.Now()

	require.NoError(t, s.SaveAuthorizationCode(ctx, grantFor("fresh", now.Add(2*time.Hour))))
	require.NoError(t, s.SaveAuthorizationCode(ctx, grantFor("stale", now)))
	require.NoError(t, s.SaveAccessToken(ctx, &storage.AccessToken{Token: "live", ExpiresAt: now.Add(2 * time.Hour)}))
	require.NoError(t, s.SaveAccessToken(ctx, &storage.AccessToken{Token: "dead", ExpiresAt: now.Add(time.Hour)}))

	clock.Advance(time.Hour + 3*time.Second)
	s.cleanup()

	// inside the grace period the expired token survives
	assert.Equal(t, 2, s.TokenCount())
	assert.Equal(t, 1, s.CodeCount())

	clock.Advance(3 * time.Second)
	s.cleanup()

	assert.Equal(t, 1, s.TokenCount())
	_, err := s.GetAccessToken(ctx, "dead")
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)
	_, err = s.GetAccessToken(ctx, "live")
	assert.NoError(t, err)
}

func TestStore_StopIsIdempotent(t *testing.T) {
	s := NewWithInterval(0)
	assert.Equal(t, time.Minute, s.cleanupInterval)
	s.Stop()
	s.Stop()
}

func TestStore_Instrumentation(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	exporter := tracetest.NewInMemoryExporter()
	inst, err := instrumentation.New(instrumentation.Config{
		Enabled:      true,
		MetricReader: reader,
		SpanExporter: exporter,
	})
	require.NoError(t, err)
	defer func() { _ = inst.Shutdown(context.Background()) }()

	s, clock := newTestStore(t)
	s.SetInstrumentation(inst)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.SaveAuthorizationCode(ctx, grantFor(fmt.Sprintf("c%d", i), clock.Now())))
	}
	_, err = s.RedeemAuthorizationCode(ctx, "c0")
	require.NoError(t, err)
	_, err = s.RedeemAuthorizationCode(ctx, "missing")
	require.True(t, errors.Is(err, storage.ErrAuthorizationCodeNotFound))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	var codesGauge int64 = -1
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == "oauth.storage.codes.count" {
				g, ok := m.Data.(metricdata.Gauge[int64])
				require.True(t, ok)
				require.Len(t, g.DataPoints, 1)
				codesGauge = g.DataPoints[0].Value
			}
		}
	}
	assert.Equal(t, int64(2), codesGauge)

	var redeemSpans []tracetest.SpanStub
	for _, span := range exporter.GetSpans() {
		if span.Name == "storage.redeem_authorization_code" {
			redeemSpans = append(redeemSpans, span)
		}
	}
	require.Len(t, redeemSpans, 2)
	assert.Equal(t, codes.Ok, redeemSpans[0].Status.Code)
	assert.Equal(t, codes.Error, redeemSpans[1].Status.Code)
	assert.Contains(t, redeemSpans[0].Attributes, attribute.String(instrumentation.AttrStorageOperation, "redeem_authorization_code"))
	assert.Contains(t, redeemSpans[0].Attributes, attribute.String(instrumentation.AttrStorageType, "memory"))
}
