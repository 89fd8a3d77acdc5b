// Package heart relays data between the client channel and the target
// session, teeing each direction into optional audit sinks.
package heart

import (
	"io"
	"sync"

	"golang.org/x/crypto/ssh"
)

// Bridge manages bidirectional data flow between the SSH client
// and the target server session.
//
// Operates on io.ReadWriter instead of ssh.Channel so tests can inject
// plain buffers, and so recording sinks attach without changing the
// Bridge structure.
type Bridge struct {
	client       io.ReadWriter  // client side (ssh.Channel)
	targetStdin  io.WriteCloser // stdin of the target session
	targetStdout io.Reader      // stdout of the target session
	targetStderr io.Reader      // stderr of the target session

	// outputSink receives a copy of everything the target sends to the
	// client (stdout and stderr). nil means no tee.
	outputSink io.Writer

	// inputSink receives a copy of everything the client sends to the
	// target. nil means no tee.
	inputSink io.Writer
}

// NewBridge creates a bridge between a client channel and the pipes of
// a target session.
//
//	client — SSH channel of the client (ssh.Channel implements io.ReadWriter)
//	stdin  — targetSession.StdinPipe()
//	stdout — targetSession.StdoutPipe()
//	stderr — targetSession.StderrPipe()
func NewBridge(
	client io.ReadWriter,
	stdin io.WriteCloser,
	stdout io.Reader,
	stderr io.Reader,
) *Bridge {
	return &Bridge{
		client:       client,
		targetStdin:  stdin,
		targetStdout: stdout,
		targetStderr: stderr,
	}
}

// TeeOutput copies target→client traffic into w as well. Call before Run.
func (b *Bridge) TeeOutput(w io.Writer) {
	b.outputSink = w
}

// TeeInput copies client→target traffic into w as well. Call before Run.
func (b *Bridge) TeeInput(w io.Writer) {
	b.inputSink = w
}

// Run starts the bridge and blocks until all streams are done.
//
// Three goroutines run concurrently:
//   - target server stdout → client (+ output sink)
//   - target server stderr → client (+ output sink)
//   - client → target server stdin (+ input sink)
//
// Sink write errors are swallowed by the tee writers the sinks are
// wrapped in before being handed here — a failing recorder must never
// take down a healthy session.
func (b *Bridge) Run() {
	var wg sync.WaitGroup
	wg.Add(3)

	// Direction: target server stdout → client
	go func() {
		defer wg.Done()
		io.Copy(b.withOutputSink(b.client), b.targetStdout) //nolint:errcheck
	}()

	// Direction: target server stderr → client
	// If client is ssh.Channel — write to its separate stderr stream.
	// Otherwise stderr goes to the client stdout (fallback).
	go func() {
		defer wg.Done()
		if ch, ok := b.client.(ssh.Channel); ok {
			io.Copy(b.withOutputSink(ch.Stderr()), b.targetStderr) //nolint:errcheck
		} else {
			io.Copy(b.withOutputSink(b.client), b.targetStderr) //nolint:errcheck
		}
	}()

	// Direction: client → target server stdin
	go func() {
		defer wg.Done()
		src := io.Reader(b.client)
		if b.inputSink != nil {
			src = io.TeeReader(b.client, b.inputSink)
		}
		io.Copy(b.targetStdin, src) //nolint:errcheck

		// Closing stdin signals EOF to the target server
		// without closing the entire SSH channel.
		b.targetStdin.Close()
	}()

	wg.Wait()
}

// withOutputSink wraps dst so writes are mirrored into the output sink.
func (b *Bridge) withOutputSink(dst io.Writer) io.Writer {
	if b.outputSink == nil {
		return dst
	}
	return io.MultiWriter(dst, b.outputSink)
}
