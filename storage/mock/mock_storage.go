// Package mock provides mock implementations of storage interfaces for testing.
package mock

import (
	"context"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/oauth-authcode/security"
	"github.com/giantswarm/oauth-authcode/storage"
)

// MockClientStore is a mock implementation of ClientStore and UserStore for testing.
// Override the Func fields to inject failures.
type MockClientStore struct {
	mu                       sync.RWMutex
	clients                  map[string]*storage.Client
	owners                   map[string]*storage.ResourceOwner
	GetClientFunc            func(clientID string) (*storage.Client, error)
	ValidateClientSecretFunc func(clientID, secret string) (*storage.Client, error)
	AuthenticateFunc         func(username, password string) (*storage.ResourceOwner, error)
	CallCounts               map[string]int
}

// NewMockClientStore creates a new mock client store
func NewMockClientStore() *MockClientStore {
	m := &MockClientStore{
		clients:    make(map[string]*storage.Client),
		owners:     make(map[string]*storage.ResourceOwner),
		CallCounts: make(map[string]int),
	}

	m.GetClientFunc = func(clientID string) (*storage.Client, error) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		client, ok := m.clients[clientID]
		if !ok {
			return nil, storage.ErrClientNotFound
		}
		return client, nil
	}

	m.ValidateClientSecretFunc = func(clientID, secret string) (*storage.Client, error) {
		m.mu.RLock()
		client, ok := m.clients[clientID]
		m.mu.RUnlock()
		if !ok {
			return nil, storage.ErrInvalidClientCredentials
		}
		if !security.CompareSecret(client.ClientSecretHash, secret) {
			return nil, storage.ErrInvalidClientCredentials
		}
		return client, nil
	}

	m.AuthenticateFunc = func(username, password string) (*storage.ResourceOwner, error) {
		m.mu.RLock()
		owner, ok := m.owners[username]
		m.mu.RUnlock()
		if !ok {
			return nil, storage.ErrInvalidUserCredentials
		}
		if !security.CompareSecret(owner.PasswordHash, password) {
			return nil, storage.ErrInvalidUserCredentials
		}
		return owner, nil
	}

	return m
}

// AddClient registers a client, hashing the plaintext secret with bcrypt.MinCost
func (m *MockClientStore) AddClient(clientID, secret string, redirectURIs ...string) *storage.Client {
	hash, _ := security.HashSecret(secret, bcrypt.MinCost)
	client := &storage.Client{
		ClientID:         clientID,
		ClientSecretHash: hash,
		RedirectURIs:     redirectURIs,
	}
	m.mu.Lock()
	m.clients[clientID] = client
	m.mu.Unlock()
	return client
}

// AddResourceOwner registers a user, hashing the plaintext password with bcrypt.MinCost
func (m *MockClientStore) AddResourceOwner(username, password string) *storage.ResourceOwner {
	hash, _ := security.HashSecret(password, bcrypt.MinCost)
	owner := &storage.ResourceOwner{Username: username, PasswordHash: hash}
	m.mu.Lock()
	m.owners[username] = owner
	m.mu.Unlock()
	return owner
}

func (m *MockClientStore) count(name string) {
	m.mu.Lock()
	m.CallCounts[name]++
	m.mu.Unlock()
}

// GetClient implements storage.ClientStore
func (m *MockClientStore) GetClient(_ context.Context, clientID string) (*storage.Client, error) {
	m.count("GetClient")
	return m.GetClientFunc(clientID)
}

// ValidateClientSecret implements storage.ClientStore
func (m *MockClientStore) ValidateClientSecret(_ context.Context, clientID, secret string) (*storage.Client, error) {
	m.count("ValidateClientSecret")
	return m.ValidateClientSecretFunc(clientID, secret)
}

// AuthenticateResourceOwner implements storage.UserStore
func (m *MockClientStore) AuthenticateResourceOwner(_ context.Context, username, password string) (*storage.ResourceOwner, error) {
	m.count("AuthenticateResourceOwner")
	return m.AuthenticateFunc(username, password)
}

// MockFlowStore is a mock implementation of CodeStore and TokenStore for testing
type MockFlowStore struct {
	mu                  sync.Mutex
	codes               map[string]*storage.AuthorizationGrant
	tokens              map[string]*storage.AccessToken
	SaveCodeFunc        func(grant *storage.AuthorizationGrant) error
	RedeemCodeFunc      func(code string) (*storage.AuthorizationGrant, error)
	SaveAccessTokenFunc func(token *storage.AccessToken) error
	GetAccessTokenFunc  func(token string) (*storage.AccessToken, error)
	CallCounts          map[string]int
}

// NewMockFlowStore creates a new mock code/token store
func NewMockFlowStore() *MockFlowStore {
	m := &MockFlowStore{
		codes:      make(map[string]*storage.AuthorizationGrant),
		tokens:     make(map[string]*storage.AccessToken),
		CallCounts: make(map[string]int),
	}

	m.SaveCodeFunc = func(grant *storage.AuthorizationGrant) error {
		if _, exists := m.codes[grant.Code]; exists {
			return storage.ErrAlreadyExists
		}
		m.codes[grant.Code] = grant
		return nil
	}

	m.RedeemCodeFunc = func(code string) (*storage.AuthorizationGrant, error) {
		grant, ok := m.codes[code]
		if !ok {
			return nil, storage.ErrAuthorizationCodeNotFound
		}
		delete(m.codes, code)
		return grant, nil
	}

	m.SaveAccessTokenFunc = func(token *storage.AccessToken) error {
		if _, exists := m.tokens[token.Token]; exists {
			return storage.ErrAlreadyExists
		}
		m.tokens[token.Token] = token
		return nil
	}

	m.GetAccessTokenFunc = func(token string) (*storage.AccessToken, error) {
		t, ok := m.tokens[token]
		if !ok {
			return nil, storage.ErrTokenNotFound
		}
		return t, nil
	}

	return m
}

// SaveAuthorizationCode implements storage.CodeStore
func (m *MockFlowStore) SaveAuthorizationCode(_ context.Context, grant *storage.AuthorizationGrant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCounts["SaveAuthorizationCode"]++
	return m.SaveCodeFunc(grant)
}

// RedeemAuthorizationCode implements storage.CodeStore
func (m *MockFlowStore) RedeemAuthorizationCode(_ context.Context, code string) (*storage.AuthorizationGrant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCounts["RedeemAuthorizationCode"]++
	return m.RedeemCodeFunc(code)
}

// SaveAccessToken implements storage.TokenStore
func (m *MockFlowStore) SaveAccessToken(_ context.Context, token *storage.AccessToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCounts["SaveAccessToken"]++
	return m.SaveAccessTokenFunc(token)
}

// GetAccessToken implements storage.TokenStore
func (m *MockFlowStore) GetAccessToken(_ context.Context, token string) (*storage.AccessToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCounts["GetAccessToken"]++
	return m.GetAccessTokenFunc(token)
}

// Calls returns how many times the named method was invoked
func (m *MockFlowStore) Calls(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCounts[name]
}

var (
	_ storage.ClientStore = (*MockClientStore)(nil)
	_ storage.UserStore   = (*MockClientStore)(nil)
	_ storage.CodeStore   = (*MockFlowStore)(nil)
	_ storage.TokenStore  = (*MockFlowStore)(nil)
)
