package client

import (
	"container/list"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultStateTTL is how long an issued state value stays redeemable
	DefaultStateTTL = 10 * time.Minute

	// DefaultMaxPendingStates bounds outstanding state values. Every
	// unauthenticated visit to the index page adds one.
	DefaultMaxPendingStates = 10000
)

type stateEntry struct {
	state     string
	sessionID string
	expiresAt time.Time
}

// StateStore holds outstanding state values. Each value can be consumed once.
// Entries are kept in issue order; once the store is full the oldest pending
// state is evicted.
type StateStore struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List // front = oldest
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

// NewStateStore creates a store whose entries expire after ttl and which holds
// at most maxEntries pending states. Non-positive values use DefaultStateTTL
// and DefaultMaxPendingStates.
func NewStateStore(ttl time.Duration, maxEntries int) *StateStore {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxPendingStates
	}
	return &StateStore{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Save records state and returns a session id for log correlation
func (s *StateStore) Save(state string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeLocked()
	if elem, ok := s.entries[state]; ok {
		s.removeLocked(elem)
	}
	for s.order.Len() >= s.maxEntries {
		s.removeLocked(s.order.Front())
	}

	id := uuid.NewString()
	s.entries[state] = s.order.PushBack(&stateEntry{
		state:     state,
		sessionID: id,
		expiresAt: s.now().Add(s.ttl),
	})
	return id
}

// Consume removes state and reports whether it was outstanding and unexpired,
// along with its session id.
func (s *StateStore) Consume(state string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.entries[state]
	if !ok {
		return "", false
	}
	entry := s.removeLocked(elem)
	if s.now().After(entry.expiresAt) {
		return "", false
	}
	return entry.sessionID, true
}

// Len returns the number of outstanding states
func (s *StateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// purgeLocked drops expired entries from the front. All entries share one
// TTL, so expiry follows issue order. Callers must hold s.mu.
func (s *StateStore) purgeLocked() {
	now := s.now()
	for elem := s.order.Front(); elem != nil; elem = s.order.Front() {
		if !now.After(elem.Value.(*stateEntry).expiresAt) {
			return
		}
		s.removeLocked(elem)
	}
}

func (s *StateStore) removeLocked(elem *list.Element) *stateEntry {
	entry := s.order.Remove(elem).(*stateEntry)
	delete(s.entries, entry.state)
	return entry
}
