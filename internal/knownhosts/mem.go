package knownhosts

import (
	"context"
	"fmt"
	"sync"
)

// MemStore is an in-memory HostKeyStore. Used when no database is
// configured; trust decisions then last only for the process lifetime.
type MemStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{entries: make(map[string]Entry)}
}

// GetHostKey implements HostKeyStore.
func (m *MemStore) GetHostKey(_ context.Context, host string, port int) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[memKey(host, port)]
	if !ok {
		return nil, ErrNotFound
	}
	return &e, nil
}

// UpsertHostKey implements HostKeyStore.
func (m *MemStore) UpsertHostKey(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[memKey(e.Host, e.Port)] = e
	return nil
}

func memKey(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
