package repository

import (
	"context"
	"sync"

	"feedback-relay/internal/domain"
)

// MemoryStore keeps conversation states in process memory. Entries live
// for the lifetime of the process.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]domain.ConversationState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]domain.ConversationState)}
}

func (m *MemoryStore) Get(_ context.Context, userID string) (domain.ConversationState, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.states[userID]
	return state, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, state domain.ConversationState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.states[state.UserID] = state
	return nil
}

// Len returns the number of users with a stored state.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.states)
}
