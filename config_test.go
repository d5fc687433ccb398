package oauth

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const registryYAML = `
clients:
  - client_id: abc123
    client_secret: sooper-secret
    client_name: Demo
    redirect_uris:
      - http://localhost:4000/callback
      - http://localhost:4000/alt
users:
  - username: alice
    password: password123
  - username: bob
    password_hash: $2a$04$abcdefghijklmnopqrstuu5Dh1ZkFqzeQ7lVKTQIf36r3CqBmT8Se
bcrypt_cost: 4
`

func TestParseRegistry(t *testing.T) {
	cfg, err := ParseRegistry([]byte(registryYAML))
	require.NoError(t, err)

	require.Len(t, cfg.Clients, 1)
	assert.Equal(t, "abc123", cfg.Clients[0].ClientID)
	assert.Equal(t, "sooper-secret", cfg.Clients[0].ClientSecret)
	assert.Equal(t, "Demo", cfg.Clients[0].ClientName)
	assert.Equal(t, []string{"http://localhost:4000/callback", "http://localhost:4000/alt"}, cfg.Clients[0].RedirectURIs)

	require.Len(t, cfg.Users, 2)
	assert.Equal(t, "alice", cfg.Users[0].Username)
	assert.NotEmpty(t, cfg.Users[1].PasswordHash)
	assert.Equal(t, 4, cfg.BcryptCost)
}

func TestParseRegistry_Empty(t *testing.T) {
	cfg, err := ParseRegistry(nil)
	require.NoError(t, err)
	assert.Empty(t, cfg.Clients)
	assert.Empty(t, cfg.Users)
}

func TestParseRegistry_RejectsUnknownFields(t *testing.T) {
	_, err := ParseRegistry([]byte("clients:\n  - client_id: abc\n    secret: typo\n"))
	require.Error(t, err)
}

func TestLoadRegistryFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(registryYAML), 0o600))

	cfg, err := LoadRegistryFile(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Clients, 1)
}

func TestLoadRegistryFile_Missing(t *testing.T) {
	_, err := LoadRegistryFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read registry file")
}

func TestDemoRegistry(t *testing.T) {
	reg := DemoRegistry()

	require.Len(t, reg.Clients, 1)
	assert.Equal(t, "abc123", reg.Clients[0].ClientID)
	assert.Equal(t, []string{"http://localhost:4000/callback"}, reg.Clients[0].RedirectURIs)
	require.Len(t, reg.Users, 1)
	assert.Equal(t, "alice", reg.Users[0].Username)
}
