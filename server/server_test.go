package server

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/oauth-authcode/internal/testutil"
	"github.com/giantswarm/oauth-authcode/security"
	"github.com/giantswarm/oauth-authcode/storage/mock"
)

func TestNew_RequiresStores(t *testing.T) {
	clients := mock.NewMockClientStore()
	flows := mock.NewMockFlowStore()

	tests := []struct {
		name    string
		build   func() (*Server, error)
		wantErr string
	}{
		{
			name:    "missing client store",
			build:   func() (*Server, error) { return New(nil, clients, flows, flows, nil, nil) },
			wantErr: "client store is required",
		},
		{
			name:    "missing user store",
			build:   func() (*Server, error) { return New(clients, nil, flows, flows, nil, nil) },
			wantErr: "user store is required",
		},
		{
			name:    "missing code store",
			build:   func() (*Server, error) { return New(clients, clients, nil, flows, nil, nil) },
			wantErr: "code store is required",
		},
		{
			name:    "missing token store",
			build:   func() (*Server, error) { return New(clients, clients, flows, nil, nil, nil) },
			wantErr: "token store is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, err := tt.build()
			require.Error(t, err)
			assert.Nil(t, srv)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	clients, flows := testutil.NewFixtureStores()

	srv, err := New(clients, clients, flows, flows, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, int64(DefaultAuthorizationCodeTTL), srv.Config.AuthorizationCodeTTL)
	assert.Equal(t, int64(DefaultAccessTokenTTL), srv.Config.AccessTokenTTL)
	assert.Equal(t, int64(DefaultClockSkewGracePeriod), srv.Config.ClockSkewGracePeriod)
	assert.Equal(t, 1, srv.Config.TrustedProxyCount)
	assert.NotNil(t, srv.Logger)
	assert.Equal(t, security.DefaultTokenGenerator, srv.tokenGenerator)
}

func TestSetters_NilRestoresDefaults(t *testing.T) {
	clients, flows := testutil.NewFixtureStores()
	srv, err := New(clients, clients, flows, flows, nil, nil)
	require.NoError(t, err)

	srv.SetTokenGenerator(testutil.NewSequenceGenerator("x"))
	srv.SetTokenGenerator(nil)
	assert.Equal(t, security.DefaultTokenGenerator, srv.tokenGenerator)

	fixed := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	srv.SetClock(func() time.Time { return fixed })
	assert.Equal(t, fixed, srv.now())
	srv.SetClock(nil)
	assert.WithinDuration(t, time.Now(), srv.now(), time.Second)

	srv.SetInstrumentation(nil)
	assert.Nil(t, srv.tracer)
	assert.Nil(t, srv.metrics)
}

func TestApplySecureDefaults_Warnings(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		wantWarn string
	}{
		{
			name:     "long code lifetime",
			config:   Config{AuthorizationCodeTTL: 3600},
			wantWarn: "Long authorization code lifetime",
		},
		{
			name:     "trusting proxy headers",
			config:   Config{TrustProxy: true, TrustedProxyCount: 2},
			wantWarn: "Trusting proxy headers",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, nil))

			cfg := tt.config
			applySecureDefaults(&cfg, logger)

			assert.Contains(t, buf.String(), tt.wantWarn)
		})
	}
}

func TestApplySecureDefaults_Quiet(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	cfg := Config{}
	applySecureDefaults(&cfg, logger)

	assert.Empty(t, buf.String())
	assert.Equal(t, 10*time.Minute, cfg.AuthorizationCodeTTLDuration())
	assert.Equal(t, time.Hour, cfg.AccessTokenTTLDuration())
	assert.Equal(t, 5*time.Second, cfg.ClockSkewGracePeriodDuration())
}
