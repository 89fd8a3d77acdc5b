package recordings

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

// TerminalSink is what the session glue writes terminal activity to.
// Satisfied by TerminalRecorder and by NopTerminalRecorder, so callers
// need no nil checks when recording is disabled.
type TerminalSink interface {
	io.Writer
	WriteResize(width, height int) error
	Close(ctx context.Context) error
}

// castHeader is the asciinema v2 .cast file header (first line, JSON).
type castHeader struct {
	Version   int               `json:"version"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Timestamp int64             `json:"timestamp"`
	Env       map[string]string `json:"env,omitempty"`
}

// castEvent is a single asciinema v2 event: [time, type, data].
type castEvent [3]interface{}

// TerminalRecorder encodes a terminal session as an asciinema v2 .cast
// file: timestamped output chunks ("o") and resize events ("r").
// Safe for concurrent use.
type TerminalRecorder struct {
	mu    sync.Mutex
	w     *Writer
	enc   *json.Encoder
	start time.Time
}

func newTerminalRecorder(w *Writer, width, height int) (*TerminalRecorder, error) {
	r := &TerminalRecorder{
		w:     w,
		enc:   json.NewEncoder(w),
		start: time.Now(),
	}

	h := castHeader{
		Version:   2,
		Width:     width,
		Height:    height,
		Timestamp: r.start.Unix(),
		Env:       map[string]string{"TERM": "xterm-256color"},
	}
	if err := r.enc.Encode(h); err != nil {
		return nil, fmt.Errorf("recordings: write cast header: %w", err)
	}
	return r, nil
}

// Write records p as an output event. Implements io.Writer so the
// recorder drops into an io.MultiWriter tee.
func (r *TerminalRecorder) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if err := r.encode("o", string(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}

// WriteResize records a terminal resize event.
func (r *TerminalRecorder) WriteResize(width, height int) error {
	return r.encode("r", fmt.Sprintf("%dx%d", width, height))
}

func (r *TerminalRecorder) encode(typ, data string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	elapsed := time.Since(r.start).Seconds()
	return r.enc.Encode(castEvent{elapsed, typ, data})
}

// Close finalizes the recording: remaining data is flushed, the row's
// end time is set, the file handle is released.
func (r *TerminalRecorder) Close(ctx context.Context) error {
	return r.w.Close(ctx)
}

// Path returns the .cast file location.
func (r *TerminalRecorder) Path() string {
	return r.w.Name()
}

// NopTerminalRecorder discards everything. Used when recording is
// disabled or failed to start and the session continues unrecorded.
type NopTerminalRecorder struct{}

func (NopTerminalRecorder) Write(p []byte) (int, error) { return len(p), nil }
func (NopTerminalRecorder) WriteResize(int, int) error  { return nil }
func (NopTerminalRecorder) Close(context.Context) error { return nil }
