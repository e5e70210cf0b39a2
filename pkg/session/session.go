// Package session implements the per-chat session cache: a read-through,
// write-through Manager over a pluggable Storage backend.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/hrygo/convoflow/pkg/transport"
)

// State is the in-memory shape of a chat's conversation position plus
// free-form session data. Data is never nil; callers must not assume a
// particular map identity survives a save.
type State struct {
	PageID string // empty means "no current page"
	Data   map[string]any
	User   *transport.User
}

// Storage is the pluggable backing store behind Manager. Deleter is an
// optional additional capability; a Storage that doesn't support
// eviction simply doesn't implement it.
type Storage interface {
	Get(ctx context.Context, chatID string) (*State, error)
	Set(ctx context.Context, chatID string, state *State) error
}

// Deleter is an optional capability of Storage.
type Deleter interface {
	Delete(ctx context.Context, chatID string) error
}

// Manager is a write-through cache over Storage.
type Manager struct {
	storage Storage

	mu    sync.Mutex
	cache map[string]*State
}

// New constructs a Manager over the given Storage.
func New(storage Storage) *Manager {
	return &Manager{
		storage: storage,
		cache:   make(map[string]*State),
	}
}

// GetSession returns the cached entry for chatID, or loads, normalizes,
// and caches it from storage. Storage misses return a fresh empty state,
// never nil and never an error.
func (m *Manager) GetSession(ctx context.Context, chatID string) (*State, error) {
	m.mu.Lock()
	if s, ok := m.cache[chatID]; ok {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	loaded, err := m.storage.Get(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("session: load %s: %w", chatID, err)
	}
	state := normalize(loaded)

	m.mu.Lock()
	// Another goroutine may have populated the cache first; the caller
	// serializes per-chat work via pkg/chatlock, so this is a benign
	// overwrite, not a race to fix here.
	m.cache[chatID] = state
	m.mu.Unlock()

	return state, nil
}

// SaveSession updates the cache then the backing store. Both must
// succeed for the call to succeed; on storage failure the cache is left
// updated, so the next load may refresh from storage — eventually
// consistent on restart rather than fully atomic.
func (m *Manager) SaveSession(ctx context.Context, chatID string, state *State) error {
	if state.Data == nil {
		state.Data = make(map[string]any)
	}

	m.mu.Lock()
	m.cache[chatID] = state
	m.mu.Unlock()

	if err := m.storage.Set(ctx, chatID, state); err != nil {
		return fmt.Errorf("session: save %s: %w", chatID, err)
	}
	return nil
}

// DeleteSession evicts the cache entry and, if the backing Storage
// supports it, deletes it there too.
func (m *Manager) DeleteSession(ctx context.Context, chatID string) error {
	m.mu.Lock()
	delete(m.cache, chatID)
	m.mu.Unlock()

	if d, ok := m.storage.(Deleter); ok {
		if err := d.Delete(ctx, chatID); err != nil {
			return fmt.Errorf("session: delete %s: %w", chatID, err)
		}
	}
	return nil
}

// normalize always returns a non-nil State with a non-nil Data map: a
// storage miss becomes {PageID: "", Data: {}} and a nil Data is replaced
// with an empty map. Storage already returns typed *State values, so no
// conversion of other payload shapes happens here.
func normalize(loaded *State) *State {
	if loaded == nil {
		return &State{Data: make(map[string]any)}
	}
	if loaded.Data == nil {
		loaded.Data = make(map[string]any)
	}
	return loaded
}
