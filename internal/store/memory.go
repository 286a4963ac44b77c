package store

import (
	"context"
	"sync"
	"time"

	"github.com/evogenom/ephemeral-auth/internal/models"
)

// MemoryStore keeps tokens in process memory. Contents are lost on restart.
type MemoryStore struct {
	mu     sync.RWMutex
	tokens map[string]models.EphemeralToken
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: make(map[string]models.EphemeralToken)}
}

func (m *MemoryStore) Insert(_ context.Context, token *models.EphemeralToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tokens[token.Value]; exists {
		return ErrConflict
	}

	now := time.Now().UTC()
	if token.CreatedAt.IsZero() {
		token.CreatedAt = now
	}
	token.UpdatedAt = now

	stored := *token
	stored.Claims = token.Claims.Clone()
	m.tokens[token.Value] = stored
	return nil
}

func (m *MemoryStore) TakeByValue(_ context.Context, value string) (*models.EphemeralToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	token, ok := m.tokens[value]
	if !ok {
		return nil, ErrNotFound
	}
	delete(m.tokens, value)
	return &token, nil
}

func (m *MemoryStore) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for value, token := range m.tokens {
		if token.ExpiresAt.Before(before) {
			delete(m.tokens, value)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Count(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.tokens)), nil
}

func (m *MemoryStore) Close() error {
	return nil
}
