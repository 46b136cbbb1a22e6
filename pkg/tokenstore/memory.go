package tokenstore

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process revocation store for development and tests.
// Entries do not survive a restart, so a redeploy silently un-revokes every
// logged-out credential; production uses the sqlite store.
type MemoryStore struct {
	mu     sync.Mutex
	tokens map[string]Token
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: make(map[string]Token)}
}

func (m *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[key] = Token{Key: key, Value: value, ExpiresAt: time.Now().Add(ttl)}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, key string) (*Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tok, ok := m.tokens[key]
	if !ok {
		return nil, ErrTokenNotFound
	}
	if tok.IsExpired() {
		// Evict lazily so a dead entry is reported expired at most once.
		delete(m.tokens, key)
		return nil, ErrTokenExpired
	}
	return &tok, nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, key)
	return nil
}

func (m *MemoryStore) Cleanup(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, tok := range m.tokens {
		if tok.IsExpired() {
			delete(m.tokens, key)
			removed++
		}
	}
	return removed, nil
}
