package session

import (
	"context"
	"sync"
)

// MemoryStorage is the default in-memory Storage: a mapping of string
// chatIds to states, with no persistence across restarts.
type MemoryStorage struct {
	mu    sync.Mutex
	items map[string]*State
}

// NewMemoryStorage constructs an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{items: make(map[string]*State)}
}

func (s *MemoryStorage) Get(_ context.Context, chatID string) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items[chatID], nil
}

func (s *MemoryStorage) Set(_ context.Context, chatID string, state *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[chatID] = state
	return nil
}

func (s *MemoryStorage) Delete(_ context.Context, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, chatID)
	return nil
}

var (
	_ Storage = (*MemoryStorage)(nil)
	_ Deleter = (*MemoryStorage)(nil)
)
