package testutil

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/giantswarm/oauth-authcode/storage/mock"
)

// Fixture values for the demo client and resource owner
const (
	ClientID     = "abc123"
	ClientSecret = "sooper-secret"
	RedirectURI  = "http://localhost:4000/callback"
	Username     = "alice"
	Password     = "password123"
)

// MockTime provides a controllable, goroutine-safe time source
type MockTime struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockTime creates a new mock time provider
func NewMockTime(t time.Time) *MockTime {
	return &MockTime{now: t}
}

// Now returns the current mock time
func (m *MockTime) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the mock time forward by the given duration
func (m *MockTime) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set sets the mock time to a specific value
func (m *MockTime) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// SequenceGenerator is a deterministic security.TokenGenerator.
// It yields "<prefix>-1", "<prefix>-2", ... and is safe for concurrent use.
type SequenceGenerator struct {
	prefix string
	n      atomic.Int64
}

// NewSequenceGenerator creates a generator with the given prefix
func NewSequenceGenerator(prefix string) *SequenceGenerator {
	return &SequenceGenerator{prefix: prefix}
}

// Generate returns the next value in the sequence
func (g *SequenceGenerator) Generate() string {
	return fmt.Sprintf("%s-%d", g.prefix, g.n.Add(1))
}

// Count returns how many values have been generated
func (g *SequenceGenerator) Count() int64 {
	return g.n.Load()
}

// FixedGenerator always returns the same value. It is used to force
// identifier collisions in tests.
type FixedGenerator string

// Generate returns the fixed value
func (g FixedGenerator) Generate() string {
	return string(g)
}

// NewFixtureStores returns mock stores holding the demo client and resource owner
func NewFixtureStores() (*mock.MockClientStore, *mock.MockFlowStore) {
	registry := mock.NewMockClientStore()
	registry.AddClient(ClientID, ClientSecret, RedirectURI)
	registry.AddResourceOwner(Username, Password)
	return registry, mock.NewMockFlowStore()
}
