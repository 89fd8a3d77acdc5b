package recordings

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// trafficFrame is one directional chunk of raw traffic, encoded as a
// JSON line. Rx is true for bytes received from the peer, false for
// bytes sent to it. Data is base64 under encoding/json's []byte rules.
type trafficFrame struct {
	T    float64 `json:"t"`
	Peer string  `json:"peer"`
	Rx   bool    `json:"rx"`
	Data []byte  `json:"data"`
}

// TrafficRecorder encodes a raw-traffic session as a line-delimited
// frame log: each frame is timestamped, tagged with the peer address
// and the direction. Safe for concurrent use.
type TrafficRecorder struct {
	mu    sync.Mutex
	w     *Writer
	enc   *json.Encoder
	start time.Time
}

func newTrafficRecorder(w *Writer) *TrafficRecorder {
	return &TrafficRecorder{
		w:     w,
		enc:   json.NewEncoder(w),
		start: time.Now(),
	}
}

// WriteChunk records one directional chunk.
func (r *TrafficRecorder) WriteChunk(peer string, rx bool, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	frame := trafficFrame{
		T:    time.Since(r.start).Seconds(),
		Peer: peer,
		Rx:   rx,
		Data: data,
	}
	if err := r.enc.Encode(frame); err != nil {
		return fmt.Errorf("recordings: write traffic frame: %w", err)
	}
	return nil
}

// ChunkWriter returns an io.Writer recording every write as a chunk
// with a fixed peer and direction, for use with io.TeeReader or
// io.MultiWriter.
func (r *TrafficRecorder) ChunkWriter(peer string, rx bool) *chunkWriter {
	return &chunkWriter{r: r, peer: peer, rx: rx}
}

// Close finalizes the recording.
func (r *TrafficRecorder) Close(ctx context.Context) error {
	return r.w.Close(ctx)
}

// Path returns the traffic log location.
func (r *TrafficRecorder) Path() string {
	return r.w.Name()
}

type chunkWriter struct {
	r    *TrafficRecorder
	peer string
	rx   bool
}

func (c *chunkWriter) Write(p []byte) (int, error) {
	if err := c.r.WriteChunk(c.peer, c.rx, p); err != nil {
		return 0, err
	}
	return len(p), nil
}
