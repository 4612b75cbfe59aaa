package session

import (
	"context"
	"sync"
)

// Fixed application-scoped keys. The first three form the persisted session
// unit and are always written or cleared together.
const (
	KeyToken    = "arena.auth.token"
	KeyLoggedIn = "arena.auth.logged_in"
	KeyRole     = "arena.auth.role"
	KeyCookies  = "arena.cookie.session"
)

var allKeys = []string{KeyToken, KeyLoggedIn, KeyRole, KeyCookies}

// KV is the client-persisted key/value storage behind the fallback channel.
type KV interface {
	// Get returns the values present for keys. Missing keys are omitted.
	Get(ctx context.Context, keys ...string) (map[string]string, error)
	// Update applies set and remove as one atomic unit.
	Update(ctx context.Context, set map[string]string, remove []string) error
	Close() error
}

// MemoryKV keeps state for the lifetime of the process only.
type MemoryKV struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryKV builds an empty in-memory store.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{values: make(map[string]string)}
}

func (m *MemoryKV) Get(_ context.Context, keys ...string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := m.values[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (m *MemoryKV) Update(_ context.Context, set map[string]string, remove []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range remove {
		delete(m.values, k)
	}
	for k, v := range set {
		m.values[k] = v
	}
	return nil
}

func (m *MemoryKV) Close() error { return nil }

// Len reports how many keys are stored.
func (m *MemoryKV) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}
