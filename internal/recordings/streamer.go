package recordings

import (
	"fmt"
	"io"
	"log"
	"sync"
)

const (
	// defaultMaxViewers caps concurrent live viewers per session.
	defaultMaxViewers = 10

	// viewerChanSize is the per-viewer frame buffer. A full buffer
	// drops frames rather than slowing the session down.
	viewerChanSize = 64

	// replaySize is how much recent output a viewer joining
	// mid-session receives before the live stream begins.
	replaySize = 4 * 1024
)

// Streamer fans a session's terminal output out to live viewers. It
// implements io.Writer, so it drops into the same io.MultiWriter tee as
// the TerminalRecorder. A slow viewer never blocks the session; frames
// are dropped for that viewer instead. Safe for concurrent use.
type Streamer struct {
	mu         sync.Mutex
	viewers    map[uint64]*viewer
	nextID     uint64
	maxViewers int

	// ring of the last replaySize bytes of output.
	replay    []byte
	replayPos int
	replayLen int
}

type viewer struct {
	id   uint64
	ch   chan []byte
	done chan struct{}
	once sync.Once
}

func (v *viewer) stop() { v.once.Do(func() { close(v.done) }) }

// NewStreamer creates a Streamer. maxViewers <= 0 selects the default cap.
func NewStreamer(maxViewers int) *Streamer {
	if maxViewers <= 0 {
		maxViewers = defaultMaxViewers
	}
	return &Streamer{
		viewers:    make(map[uint64]*viewer),
		maxViewers: maxViewers,
		replay:     make([]byte, replaySize),
	}
}

// Write fans one output frame out to all current viewers. Never blocks.
func (s *Streamer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	frame := make([]byte, len(p))
	copy(frame, p)

	s.mu.Lock()
	s.appendReplay(frame)
	for _, v := range s.viewers {
		select {
		case v.ch <- frame:
		default:
			log.Printf("[STREAMER] viewer %d too slow, frame dropped", v.id)
		}
	}
	s.mu.Unlock()

	return len(p), nil
}

// Subscribe registers w as a live viewer. The viewer first receives a
// replay of recent output, then live frames, pumped by a dedicated
// goroutine. The returned function unsubscribes; the caller must invoke
// it when the viewer disconnects.
func (s *Streamer) Subscribe(w io.Writer) (unsubscribe func(), err error) {
	s.mu.Lock()
	if len(s.viewers) >= s.maxViewers {
		s.mu.Unlock()
		return nil, fmt.Errorf("recordings: viewer limit reached (%d)", s.maxViewers)
	}

	v := &viewer{
		id:   s.nextID,
		ch:   make(chan []byte, viewerChanSize),
		done: make(chan struct{}),
	}
	s.nextID++
	s.viewers[v.id] = v
	replay := s.replaySnapshot()
	s.mu.Unlock()

	go func() {
		if len(replay) > 0 {
			if _, err := w.Write(replay); err != nil {
				v.stop()
				return
			}
		}
		for {
			select {
			case frame := <-v.ch:
				if _, err := w.Write(frame); err != nil {
					return
				}
			case <-v.done:
				return
			}
		}
	}()

	return func() {
		v.stop()
		s.mu.Lock()
		delete(s.viewers, v.id)
		s.mu.Unlock()
	}, nil
}

// ViewerCount returns the number of active viewers.
func (s *Streamer) ViewerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.viewers)
}

// Close detaches all viewers. Called when the session ends.
func (s *Streamer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, v := range s.viewers {
		v.stop()
		delete(s.viewers, id)
	}
	return nil
}

// appendReplay writes p into the ring. Caller holds s.mu.
func (s *Streamer) appendReplay(p []byte) {
	for _, b := range p {
		s.replay[s.replayPos] = b
		s.replayPos = (s.replayPos + 1) % replaySize
		if s.replayLen < replaySize {
			s.replayLen++
		}
	}
}

// replaySnapshot copies the ring contents in chronological order.
// Caller holds s.mu.
func (s *Streamer) replaySnapshot() []byte {
	if s.replayLen == 0 {
		return nil
	}
	out := make([]byte, s.replayLen)
	if s.replayLen < replaySize {
		copy(out, s.replay[:s.replayLen])
	} else {
		n := copy(out, s.replay[s.replayPos:])
		copy(out[n:], s.replay[:s.replayPos])
	}
	return out
}
