package memory

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/oauth-authcode/security"
	"github.com/giantswarm/oauth-authcode/storage"
)

// ErrInvalidRegistry is wrapped by every NewRegistry validation failure
var ErrInvalidRegistry = errors.New("invalid registry")

// ClientDefinition describes a client to load. Exactly one of ClientSecret
// and ClientSecretHash must be set; plaintext secrets are hashed at load.
type ClientDefinition struct {
	ClientID         string   `yaml:"client_id" json:"client_id"`
	ClientSecret     string   `yaml:"client_secret,omitempty" json:"client_secret,omitempty"`
	ClientSecretHash string   `yaml:"client_secret_hash,omitempty" json:"client_secret_hash,omitempty"`
	RedirectURIs     []string `yaml:"redirect_uris" json:"redirect_uris"`
	ClientName       string   `yaml:"client_name,omitempty" json:"client_name,omitempty"`
}

// UserDefinition describes a resource owner to load. Exactly one of Password
// and PasswordHash must be set.
type UserDefinition struct {
	Username     string `yaml:"username" json:"username"`
	Password     string `yaml:"password,omitempty" json:"password,omitempty"`
	PasswordHash string `yaml:"password_hash,omitempty" json:"password_hash,omitempty"`
}

// Registry is a read-only ClientStore and UserStore built once at startup.
// It needs no locking because nothing mutates it after NewRegistry returns.
type Registry struct {
	clients map[string]*storage.Client
	users   map[string]*storage.ResourceOwner

	// dummyHash is compared against when the client or user does not exist,
	// so a miss costs the same bcrypt work as a wrong secret
	dummyHash string
}

var (
	_ storage.ClientStore = (*Registry)(nil)
	_ storage.UserStore   = (*Registry)(nil)
)

// NewRegistry validates and loads clients and users, hashing plaintext
// secrets with bcrypt.DefaultCost.
func NewRegistry(clients []ClientDefinition, users []UserDefinition) (*Registry, error) {
	return NewRegistryWithCost(clients, users, bcrypt.DefaultCost)
}

// NewRegistryWithCost is NewRegistry with an explicit bcrypt cost
func NewRegistryWithCost(clients []ClientDefinition, users []UserDefinition, cost int) (*Registry, error) {
	dummy, err := security.HashSecret("registry-timing-equaliser", cost)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare registry: %w", err)
	}

	r := &Registry{
		clients:   make(map[string]*storage.Client, len(clients)),
		users:     make(map[string]*storage.ResourceOwner, len(users)),
		dummyHash: dummy,
	}

	now := time.Now()
	for i, def := range clients {
		client, err := buildClient(def, cost, now)
		if err != nil {
			return nil, fmt.Errorf("%w: client %d: %w", ErrInvalidRegistry, i, err)
		}
		if _, dup := r.clients[client.ClientID]; dup {
			return nil, fmt.Errorf("%w: duplicate client_id %q", ErrInvalidRegistry, client.ClientID)
		}
		r.clients[client.ClientID] = client
	}

	for i, def := range users {
		owner, err := buildUser(def, cost)
		if err != nil {
			return nil, fmt.Errorf("%w: user %d: %w", ErrInvalidRegistry, i, err)
		}
		if _, dup := r.users[owner.Username]; dup {
			return nil, fmt.Errorf("%w: duplicate username %q", ErrInvalidRegistry, owner.Username)
		}
		r.users[owner.Username] = owner
	}

	return r, nil
}

func buildClient(def ClientDefinition, cost int, now time.Time) (*storage.Client, error) {
	if def.ClientID == "" {
		return nil, errors.New("client_id is required")
	}
	if len(def.RedirectURIs) == 0 {
		return nil, fmt.Errorf("client %q has no redirect_uris", def.ClientID)
	}
	for _, raw := range def.RedirectURIs {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("client %q redirect_uri %q must be an absolute URL", def.ClientID, raw)
		}
		if u.Fragment != "" {
			return nil, fmt.Errorf("client %q redirect_uri %q must not contain a fragment", def.ClientID, raw)
		}
	}

	hash, err := resolveHash(def.ClientSecret, def.ClientSecretHash, cost)
	if err != nil {
		return nil, fmt.Errorf("client %q: %w", def.ClientID, err)
	}

	return &storage.Client{
		ClientID:         def.ClientID,
		ClientSecretHash: hash,
		RedirectURIs:     append([]string(nil), def.RedirectURIs...),
		ClientName:       def.ClientName,
		CreatedAt:        now,
	}, nil
}

func buildUser(def UserDefinition, cost int) (*storage.ResourceOwner, error) {
	if def.Username == "" {
		return nil, errors.New("username is required")
	}
	hash, err := resolveHash(def.Password, def.PasswordHash, cost)
	if err != nil {
		return nil, fmt.Errorf("user %q: %w", def.Username, err)
	}
	return &storage.ResourceOwner{Username: def.Username, PasswordHash: hash}, nil
}

// resolveHash hashes a plaintext value or checks a pre-computed hash.
// Pre-computed hashes must come from security.HashSecret.
func resolveHash(plaintext, hash string, cost int) (string, error) {
	switch {
	case plaintext != "" && hash != "":
		return "", errors.New("set either the plaintext value or its hash, not both")
	case hash != "":
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return "", fmt.Errorf("invalid bcrypt hash: %w", err)
		}
		return hash, nil
	case plaintext != "":
		return security.HashSecret(plaintext, cost)
	default:
		return "", errors.New("a secret or password is required")
	}
}

// GetClient implements storage.ClientStore
func (r *Registry) GetClient(_ context.Context, clientID string) (*storage.Client, error) {
	client, ok := r.clients[clientID]
	if !ok {
		return nil, storage.ErrClientNotFound
	}
	return client, nil
}

// ValidateClientSecret implements storage.ClientStore
func (r *Registry) ValidateClientSecret(_ context.Context, clientID, secret string) (*storage.Client, error) {
	client, ok := r.clients[clientID]
	if !ok {
		_ = security.CompareSecret(r.dummyHash, secret)
		return nil, storage.ErrInvalidClientCredentials
	}
	if !security.CompareSecret(client.ClientSecretHash, secret) {
		return nil, storage.ErrInvalidClientCredentials
	}
	return client, nil
}

// AuthenticateResourceOwner implements storage.UserStore
func (r *Registry) AuthenticateResourceOwner(_ context.Context, username, password string) (*storage.ResourceOwner, error) {
	owner, ok := r.users[username]
	if !ok {
		_ = security.CompareSecret(r.dummyHash, password)
		return nil, storage.ErrInvalidUserCredentials
	}
	if !security.CompareSecret(owner.PasswordHash, password) {
		return nil, storage.ErrInvalidUserCredentials
	}
	return owner, nil
}

// ClientIDs returns the registered client IDs in sorted order
func (r *Registry) ClientIDs() []string {
	ids := make([]string, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// UserCount returns the number of registered resource owners
func (r *Registry) UserCount() int {
	return len(r.users)
}
