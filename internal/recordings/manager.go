package recordings

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Manager creates and indexes recordings. One Manager is shared by all
// sessions; metadata writes from every session and writer go through a
// single mutex-guarded store handle, so at most one statement is in
// flight at a time. Metadata writes are small and rare relative to
// session duration, so the serialization costs nothing that matters.
type Manager struct {
	db   RecordingStore
	dbMu *sync.Mutex
	cfg  Config
}

// NewManager creates a Manager. When recording is enabled the root
// directory is created up front with owner-only permissions — recordings
// contain keystrokes and may contain secrets.
func NewManager(db RecordingStore, cfg Config) (*Manager, error) {
	if cfg.Enable {
		if cfg.Path == "" {
			return nil, fmt.Errorf("recordings: storage path is empty")
		}
		if err := os.MkdirAll(cfg.Path, 0o700); err != nil {
			return nil, fmt.Errorf("recordings: create storage dir: %w", err)
		}
		if err := os.Chmod(cfg.Path, 0o700); err != nil {
			return nil, fmt.Errorf("recordings: restrict storage dir: %w", err)
		}
	}
	return &Manager{
		db:   db,
		dbMu: &sync.Mutex{},
		cfg:  cfg,
	}, nil
}

// StartTerminal begins a terminal recording named name for the session.
// width and height seed the cast header.
func (m *Manager) StartTerminal(ctx context.Context, sessionID uuid.UUID, name string, width, height int) (*TerminalRecorder, error) {
	w, err := m.start(ctx, sessionID, name, KindTerminal)
	if err != nil {
		return nil, err
	}
	return newTerminalRecorder(w, width, height)
}

// StartTraffic begins a raw-traffic recording named name for the session.
func (m *Manager) StartTraffic(ctx context.Context, sessionID uuid.UUID, name string) (*TrafficRecorder, error) {
	w, err := m.start(ctx, sessionID, name, KindTraffic)
	if err != nil {
		return nil, err
	}
	return newTrafficRecorder(w), nil
}

// start inserts the index row, then opens the backing file.
//
// The row goes in first: a crash between the insert and the first write
// still leaves discoverable evidence that the recording was attempted.
// The store lock is held only for the insert, never across file I/O, so
// concurrent starts from different sessions interleave safely.
func (m *Manager) start(ctx context.Context, sessionID uuid.UUID, name string, kind Kind) (*Writer, error) {
	if !m.cfg.Enable {
		return nil, ErrDisabled
	}

	rec := Recording{
		ID:        uuid.New(),
		SessionID: sessionID,
		Name:      name,
		Kind:      kind,
		Started:   time.Now().UTC(),
	}

	m.dbMu.Lock()
	err := m.db.InsertRecording(ctx, rec)
	m.dbMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("recordings: index %s %q for session %s: %w", kind, name, sessionID, err)
	}

	dir := filepath.Join(m.cfg.Path, sessionID.String())
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("recordings: create session dir: %w", err)
	}

	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("recordings: open %s: %w", path, err)
	}

	log.Printf("[RECORD] Recording %s %q for session %s → %s", kind, name, sessionID, path)
	return newWriter(f, rec.ID, m.db, m.dbMu), nil
}

// PathFor returns the on-disk location a recording would use.
func (m *Manager) PathFor(sessionID uuid.UUID, name string) string {
	return filepath.Join(m.cfg.Path, sessionID.String(), name)
}

// Enabled reports whether recording is turned on.
func (m *Manager) Enabled() bool {
	return m.cfg.Enable
}
