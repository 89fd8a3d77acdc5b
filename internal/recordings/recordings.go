// Package recordings durably captures session activity. Each recording
// is indexed by a database row and backed by an append-only file under
// a per-session directory; terminal recordings use the asciinema v2
// cast format, traffic recordings a line-delimited frame log.
package recordings

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrDisabled is returned by Start* when recording is turned off.
	// An expected condition: callers continue the session unrecorded.
	ErrDisabled = errors.New("recordings: disabled")

	// ErrClosed is returned by writer operations after finalization.
	ErrClosed = errors.New("recordings: writer closed")

	// ErrDuplicate is returned when a (session, name) pair already has
	// a recording. Store implementations map their unique-constraint
	// violation to it.
	ErrDuplicate = errors.New("recordings: duplicate recording name for session")
)

// Kind distinguishes recording formats. Stable storage tags.
type Kind string

const (
	KindTerminal Kind = "terminal"
	KindTraffic  Kind = "traffic"
)

// Recording is the persisted index row for one recording artifact.
// Ended stays nil until the writer is finalized; a row left with a nil
// Ended means the recording did not complete cleanly, not that it is
// still active.
type Recording struct {
	ID        uuid.UUID
	SessionID uuid.UUID
	Name      string
	Kind      Kind
	Started   time.Time
	Ended     *time.Time
}

// RecordingStore persists recording rows. InsertRecording must return
// an error wrapping ErrDuplicate when (SessionID, Name) already exists.
type RecordingStore interface {
	InsertRecording(ctx context.Context, rec Recording) error
	SetRecordingEnded(ctx context.Context, id uuid.UUID, ended time.Time) error
}

// Config controls the recordings subsystem.
type Config struct {
	// Enable turns recording on. When false, Start* returns ErrDisabled
	// and no filesystem or database mutation happens.
	Enable bool

	// Path is the recordings root directory. One subdirectory is
	// created per session id.
	Path string
}
