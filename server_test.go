package oauth

import (
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/oauth-authcode/storage/memory"
)

func TestNewServer_RequiresConfig(t *testing.T) {
	_, err := NewServer(nil)
	require.Error(t, err)
}

func TestNewServer_InvalidRegistry(t *testing.T) {
	cfg := testConfig()
	cfg.Registry.Clients = append(cfg.Registry.Clients, cfg.Registry.Clients[0])

	_, err := NewServer(cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, memory.ErrInvalidRegistry)
}

func TestNewServer_UnsupportedBackend(t *testing.T) {
	cfg := testConfig()
	cfg.Storage.Backend = "etcd"

	_, err := NewServer(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported storage backend")
}

func TestNewServer_ValkeyRequiresAddress(t *testing.T) {
	cfg := testConfig()
	cfg.Storage.Backend = StorageBackendValkey

	_, err := NewServer(cfg)
	require.Error(t, err)
}

func TestNewServer_AppliesDefaults(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, int64(600), s.srv.Core.Config.AuthorizationCodeTTL)
	assert.Equal(t, int64(3600), s.srv.Core.Config.AccessTokenTTL)
	assert.Equal(t, []string{"abc123"}, s.srv.Registry.ClientIDs())
}

func TestServer_Metrics(t *testing.T) {
	s := newTestServer(t, func(cfg *Config) {
		cfg.Instrumentation.Enabled = true
	})

	s.login(t, "xyz789")

	resp, err := s.client.Get(s.ts.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "oauth_code_issued")
	assert.Contains(t, string(body), `client_id="abc123"`)
}

func TestServer_MetricsDisabled(t *testing.T) {
	s := newTestServer(t)

	resp, err := s.client.Get(s.ts.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
