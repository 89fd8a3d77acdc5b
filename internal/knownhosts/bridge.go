package knownhosts

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"

	"golang.org/x/crypto/ssh"
)

// Mode selects how an unknown host key is handled.
type Mode string

const (
	// ModePrompt asks an out-of-band consumer to confirm the key. Default.
	ModePrompt Mode = "prompt"

	// ModeAutoAccept trusts any previously-unseen key (TOFU without a human).
	ModeAutoAccept Mode = "auto_accept"

	// ModeAutoReject refuses any previously-unseen key.
	ModeAutoReject Mode = "auto_reject"
)

var (
	// ErrHostKeyRejected is returned when the key was declined, either
	// by mode or by an explicit operator decision.
	ErrHostKeyRejected = errors.New("knownhosts: host key rejected")

	// ErrDecisionAborted is returned when the decision flow broke down:
	// the event consumer is gone, the reply channel was closed without
	// an answer, or the connection attempt's context ended. Fatal to the
	// current connection attempt only.
	ErrDecisionAborted = errors.New("knownhosts: host key decision aborted")
)

// Event is a notification emitted by a Bridge. Exactly one consumer per
// connection attempt drains the event channel.
type Event interface{ isEvent() }

// HostKeyReceived is emitted for every key the target presents, before
// any decision is made. Observers use it to mirror the key to connected
// clients and to the audit trail.
type HostKeyReceived struct {
	Key ssh.PublicKey
}

// HostKeyUnknown is emitted in prompt mode for a previously-unseen key.
// The consumer must send exactly one boolean on Reply (or close it to
// abort); the connection attempt is suspended until then.
type HostKeyUnknown struct {
	Key   ssh.PublicKey
	Reply chan<- bool
}

// Disconnect is emitted exactly once when the bridge is closed, whatever
// the outcome, so observers can release per-connection resources.
type Disconnect struct{}

func (HostKeyReceived) isEvent() {}
func (HostKeyUnknown) isEvent()  {}
func (Disconnect) isEvent()      {}

// HostKeyMismatchError reports a key that differs from the trusted one.
// It aborts the connection and carries both fingerprints for the
// operator; it is never resolved automatically.
type HostKeyMismatchError struct {
	Host              string
	Port              int
	ReceivedAlgorithm string
	ReceivedSHA256    string
	KnownAlgorithm    string
	KnownSHA256       string
}

func (e *HostKeyMismatchError) Error() string {
	return fmt.Sprintf(
		"knownhosts: host key mismatch for %s:%d: received %s %s, previously trusted %s %s",
		e.Host, e.Port,
		e.ReceivedAlgorithm, e.ReceivedSHA256,
		e.KnownAlgorithm, e.KnownSHA256,
	)
}

// Bridge adapts the ssh.HostKeyCallback hook, which must synchronously
// return accept or reject, into a decision that may involve storage I/O
// and an operator's out-of-band confirmation.
//
// One Bridge serves one outbound connection attempt. The caller owns the
// event channel and its consumer; the caller's context bounds every wait
// (this package applies no timeout of its own). Close must be called on
// teardown, successful or not.
type Bridge struct {
	store  *Store
	mode   Mode
	events chan<- Event
	ctx    context.Context
	host   string
	port   int

	closeOnce sync.Once
}

// NewBridge creates a Bridge for one connection attempt to host:port.
func NewBridge(ctx context.Context, store *Store, mode Mode, events chan<- Event, host string, port int) *Bridge {
	if mode == "" {
		mode = ModePrompt
	}
	return &Bridge{
		store:  store,
		mode:   mode,
		events: events,
		ctx:    ctx,
		host:   host,
		port:   port,
	}
}

// Callback returns the hook to plug into ssh.ClientConfig.
func (b *Bridge) Callback() ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		return b.check(key)
	}
}

// check runs the decision state machine for one presented key.
func (b *Bridge) check(key ssh.PublicKey) error {
	// The consumer may rely on seeing the key before any decision, so a
	// failed delivery is fatal to the attempt, not a skipped nicety.
	if err := b.emit(HostKeyReceived{Key: key}); err != nil {
		return err
	}

	result, err := b.store.Validate(b.ctx, b.host, b.port, key)
	if err != nil {
		return err
	}

	switch result.Status {
	case StatusValid:
		return nil

	case StatusInvalid:
		log.Printf("[HOSTKEY] Key mismatch for %s:%d — possible tampering", b.host, b.port)
		return &HostKeyMismatchError{
			Host:              b.host,
			Port:              b.port,
			ReceivedAlgorithm: key.Type(),
			ReceivedSHA256:    ssh.FingerprintSHA256(key),
			KnownAlgorithm:    result.KnownAlgorithm,
			KnownSHA256:       fingerprintBase64(result.KnownKeyBase64),
		}

	case StatusUnknown:
		return b.decideUnknown(key)
	}

	return fmt.Errorf("knownhosts: unhandled validation status %d", result.Status)
}

// decideUnknown resolves a previously-unseen key according to the mode.
func (b *Bridge) decideUnknown(key ssh.PublicKey) error {
	log.Printf("[HOSTKEY] Unknown %s key for %s:%d (%s), mode=%s",
		key.Type(), b.host, b.port, ssh.FingerprintSHA256(key), b.mode)

	switch b.mode {
	case ModeAutoAccept:
		return b.store.Trust(b.ctx, b.host, b.port, key)

	case ModeAutoReject:
		return ErrHostKeyRejected
	}

	// Prompt: suspend until the consumer pushes a decision.
	reply := make(chan bool, 1)
	if err := b.emit(HostKeyUnknown{Key: key, Reply: reply}); err != nil {
		return err
	}

	select {
	case accepted, ok := <-reply:
		if !ok {
			// Consumer dropped the reply channel without answering.
			return ErrDecisionAborted
		}
		if !accepted {
			return ErrHostKeyRejected
		}
		// Persist before returning success so the next connection to
		// this host short-circuits to Valid.
		return b.store.Trust(b.ctx, b.host, b.port, key)
	case <-b.ctx.Done():
		return ErrDecisionAborted
	}
}

// Close emits Disconnect exactly once. Must be called on handler
// teardown for any reason.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() {
		// Best effort under the same context bound as every other wait;
		// if the consumer is already gone the attempt is over anyway.
		_ = b.emit(Disconnect{})
	})
}

// emit delivers ev to the consumer, bounded by the attempt's context.
func (b *Bridge) emit(ev Event) error {
	select {
	case b.events <- ev:
		return nil
	case <-b.ctx.Done():
		return ErrDecisionAborted
	}
}

// fingerprintBase64 renders the SHA256 fingerprint of a stored key blob.
// Falls back to a prefix of the raw encoding when the blob will not parse.
func fingerprintBase64(keyB64 string) string {
	blob, err := base64.StdEncoding.DecodeString(keyB64)
	if err == nil {
		if key, err := ssh.ParsePublicKey(blob); err == nil {
			return ssh.FingerprintSHA256(key)
		}
	}
	if len(keyB64) > 16 {
		keyB64 = keyB64[:16] + "..."
	}
	return keyB64
}
