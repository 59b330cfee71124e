// Package session keeps per-identity haggle state for the life of the process.
package session

import (
	"sync"

	"github.com/shopkeeper/backend/internal/behavior"
)

// Store reads and mutates haggle sessions. Update must run fn atomically with
// respect to other updates for the same identity.
type Store interface {
	Get(identity string) behavior.Session
	Update(identity string, fn func(s *behavior.Session)) behavior.Session
	Len() int
}

type entry struct {
	mu    sync.Mutex
	state behavior.Session
}

// MemoryStore is a lazily populated map with one lock per identity, so turns
// for different shoppers never contend.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*entry)}
}

// Get returns a snapshot. Unknown identities read as a fresh session.
func (m *MemoryStore) Get(identity string) behavior.Session {
	m.mu.RLock()
	e, ok := m.entries[identity]
	m.mu.RUnlock()
	if !ok {
		return behavior.Session{}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Update applies fn under the identity's lock and returns the resulting state.
func (m *MemoryStore) Update(identity string, fn func(s *behavior.Session)) behavior.Session {
	e := m.entry(identity)
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.state)
	return e.state
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *MemoryStore) entry(identity string) *entry {
	m.mu.RLock()
	e, ok := m.entries[identity]
	m.mu.RUnlock()
	if ok {
		return e
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok = m.entries[identity]; ok {
		return e
	}
	e = &entry{}
	m.entries[identity] = e
	return e
}
