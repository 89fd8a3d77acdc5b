package recordings

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Writer binds an open recording file to its database row, so
// finalization can set the row's end time without re-querying.
// Append-only for the lifetime of the row; never truncates.
// Safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	f      *os.File
	closed bool

	id   uuid.UUID
	db   RecordingStore
	dbMu *sync.Mutex
}

func newWriter(f *os.File, id uuid.UUID, db RecordingStore, dbMu *sync.Mutex) *Writer {
	return &Writer{f: f, id: id, db: db, dbMu: dbMu}
}

// Write appends p to the recording file. Implements io.Writer.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, ErrClosed
	}
	return w.f.Write(p)
}

// Close flushes the file, sets the row's end time and releases the
// handle. Idempotent. After Close every write fails with ErrClosed.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true

	var errs []error
	if err := w.f.Sync(); err != nil {
		errs = append(errs, fmt.Errorf("recordings: sync: %w", err))
	}
	if err := w.f.Close(); err != nil {
		errs = append(errs, fmt.Errorf("recordings: close file: %w", err))
	}
	w.mu.Unlock()

	w.dbMu.Lock()
	err := w.db.SetRecordingEnded(ctx, w.id, time.Now().UTC())
	w.dbMu.Unlock()
	if err != nil {
		errs = append(errs, fmt.Errorf("recordings: finalize row %s: %w", w.id, err))
	}

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// ID returns the recording row id.
func (w *Writer) ID() uuid.UUID {
	return w.id
}

// Name returns the path of the backing file.
func (w *Writer) Name() string {
	return w.f.Name()
}
