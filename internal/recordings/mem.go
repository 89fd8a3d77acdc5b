package recordings

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-memory RecordingStore. Used when no database is
// configured; the files still land on disk but the index is lost on
// restart. Enforces the same (session, name) uniqueness as the database.
type MemStore struct {
	mu     sync.Mutex
	rows   map[uuid.UUID]Recording
	byName map[string]uuid.UUID
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		rows:   make(map[uuid.UUID]Recording),
		byName: make(map[string]uuid.UUID),
	}
}

// InsertRecording implements RecordingStore.
func (m *MemStore) InsertRecording(_ context.Context, rec Recording) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := rec.SessionID.String() + "/" + rec.Name
	if _, exists := m.byName[key]; exists {
		return fmt.Errorf("recording %q for session %s: %w", rec.Name, rec.SessionID, ErrDuplicate)
	}
	m.rows[rec.ID] = rec
	m.byName[key] = rec.ID
	return nil
}

// SetRecordingEnded implements RecordingStore.
func (m *MemStore) SetRecordingEnded(_ context.Context, id uuid.UUID, ended time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[id]
	if !ok {
		return fmt.Errorf("recordings: no recording %s", id)
	}
	rec.Ended = &ended
	m.rows[id] = rec
	return nil
}

// Get returns a copy of the indexed row, for inspection in tests and
// diagnostics.
func (m *MemStore) Get(id uuid.UUID) (Recording, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[id]
	return rec, ok
}
