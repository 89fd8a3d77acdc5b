package knownhosts_test

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"gatewarden/internal/knownhosts"
)

// =============================================================================
// Helpers
// =============================================================================

// bridgeEnv wires a Bridge to a memory-backed Store and an event channel
// large enough that tests can inspect events after the fact.
type bridgeEnv struct {
	db     *memHostKeyStore
	store  *knownhosts.Store
	events chan knownhosts.Event
	bridge *knownhosts.Bridge
}

func newBridgeEnv(t *testing.T, mode knownhosts.Mode) *bridgeEnv {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	db := newMemHostKeyStore()
	store := knownhosts.NewStore(db)
	events := make(chan knownhosts.Event, 8)
	return &bridgeEnv{
		db:     db,
		store:  store,
		events: events,
		bridge: knownhosts.NewBridge(ctx, store, mode, events, "10.0.0.1", 22),
	}
}

// callback invokes the ssh.HostKeyCallback the way the SSH library would.
func (e *bridgeEnv) callback(key ssh.PublicKey) error {
	return e.bridge.Callback()("10.0.0.1:22", &net.TCPAddr{}, key)
}

// nextEvent returns the next emitted event or fails the test.
func (e *bridgeEnv) nextEvent(t *testing.T) knownhosts.Event {
	t.Helper()
	select {
	case ev := <-e.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for bridge event")
		return nil
	}
}

// answer drains events until HostKeyUnknown arrives, then replies.
func (e *bridgeEnv) answer(t *testing.T, accept bool) {
	t.Helper()
	for {
		ev := e.nextEvent(t)
		if unknown, ok := ev.(knownhosts.HostKeyUnknown); ok {
			unknown.Reply <- accept
			return
		}
	}
}

// =============================================================================
// Trusted and mismatched keys
// =============================================================================

func TestBridge_TrustedKeyAccepted(t *testing.T) {
	env := newBridgeEnv(t, knownhosts.ModePrompt)
	key := genKey(t)
	require.NoError(t, env.store.Trust(context.Background(), "10.0.0.1", 22, key))

	assert.NoError(t, env.callback(key))
}

func TestBridge_MismatchFailsWithBothFingerprints(t *testing.T) {
	env := newBridgeEnv(t, knownhosts.ModePrompt)
	trusted := genKey(t)
	imposter := genKey(t)
	require.NoError(t, env.store.Trust(context.Background(), "10.0.0.1", 22, trusted))

	err := env.callback(imposter)
	require.Error(t, err)

	var mismatch *knownhosts.HostKeyMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, ssh.FingerprintSHA256(imposter), mismatch.ReceivedSHA256)
	assert.Equal(t, ssh.FingerprintSHA256(trusted), mismatch.KnownSHA256)
	assert.Equal(t, 1, env.db.count(), "a mismatch must never overwrite the trusted entry")
}

// =============================================================================
// Unknown key, automatic modes
// =============================================================================

func TestBridge_AutoAcceptTrustsAndAccepts(t *testing.T) {
	env := newBridgeEnv(t, knownhosts.ModeAutoAccept)
	key := genKey(t)

	require.NoError(t, env.callback(key))
	assert.Equal(t, 1, env.db.count())

	// The next attempt short-circuits to Valid.
	res, err := env.store.Validate(context.Background(), "10.0.0.1", 22, key)
	require.NoError(t, err)
	assert.Equal(t, knownhosts.StatusValid, res.Status)
}

func TestBridge_AutoRejectRejectsWithoutPersisting(t *testing.T) {
	env := newBridgeEnv(t, knownhosts.ModeAutoReject)

	err := env.callback(genKey(t))
	assert.ErrorIs(t, err, knownhosts.ErrHostKeyRejected)
	assert.Equal(t, 0, env.db.count())
}

// =============================================================================
// Unknown key, prompt mode
// =============================================================================

func TestBridge_PromptAcceptTrustsEntry(t *testing.T) {
	env := newBridgeEnv(t, knownhosts.ModePrompt)
	key := genKey(t)

	done := make(chan error, 1)
	go func() { done <- env.callback(key) }()

	env.answer(t, true)
	require.NoError(t, <-done)
	assert.Equal(t, 1, env.db.count())
}

func TestBridge_PromptRejectLeavesNoEntry(t *testing.T) {
	env := newBridgeEnv(t, knownhosts.ModePrompt)

	done := make(chan error, 1)
	go func() { done <- env.callback(genKey(t)) }()

	env.answer(t, false)
	assert.ErrorIs(t, <-done, knownhosts.ErrHostKeyRejected)
	assert.Equal(t, 0, env.db.count())
}

func TestBridge_PromptDroppedReplyChannelRejects(t *testing.T) {
	env := newBridgeEnv(t, knownhosts.ModePrompt)

	done := make(chan error, 1)
	go func() { done <- env.callback(genKey(t)) }()

	for {
		ev := env.nextEvent(t)
		if unknown, ok := ev.(knownhosts.HostKeyUnknown); ok {
			// Consumer goes away without answering.
			close(unknown.Reply)
			break
		}
	}

	assert.ErrorIs(t, <-done, knownhosts.ErrDecisionAborted,
		"a dropped reply channel must reject, never hang")
	assert.Equal(t, 0, env.db.count())
}

func TestBridge_PromptCancelledContextRejects(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	db := newMemHostKeyStore()
	events := make(chan knownhosts.Event, 8)
	bridge := knownhosts.NewBridge(ctx, knownhosts.NewStore(db), knownhosts.ModePrompt, events, "10.0.0.1", 22)

	done := make(chan error, 1)
	go func() {
		done <- bridge.Callback()("10.0.0.1:22", &net.TCPAddr{}, genKey(t))
	}()

	// Wait for the prompt, then abandon the attempt without replying.
	for {
		ev := <-events
		if _, ok := ev.(knownhosts.HostKeyUnknown); ok {
			cancel()
			break
		}
	}

	assert.ErrorIs(t, <-done, knownhosts.ErrDecisionAborted)
}

// =============================================================================
// Event protocol
// =============================================================================

func TestBridge_EmitsReceivedBeforeUnknown(t *testing.T) {
	env := newBridgeEnv(t, knownhosts.ModeAutoReject)
	key := genKey(t)

	err := env.callback(key)
	require.ErrorIs(t, err, knownhosts.ErrHostKeyRejected)

	received, ok := env.nextEvent(t).(knownhosts.HostKeyReceived)
	require.True(t, ok, "HostKeyReceived must be the first event")
	assert.Equal(t, key.Marshal(), received.Key.Marshal())
}

func TestBridge_NoConsumerFailsAttempt(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	// Unbuffered channel with nobody draining it.
	events := make(chan knownhosts.Event)
	bridge := knownhosts.NewBridge(ctx, knownhosts.NewStore(newMemHostKeyStore()),
		knownhosts.ModeAutoAccept, events, "10.0.0.1", 22)

	err := bridge.Callback()("10.0.0.1:22", &net.TCPAddr{}, genKey(t))
	assert.ErrorIs(t, err, knownhosts.ErrDecisionAborted)
}

func TestBridge_CloseEmitsDisconnectExactlyOnce(t *testing.T) {
	env := newBridgeEnv(t, knownhosts.ModePrompt)

	env.bridge.Close()
	env.bridge.Close()
	env.bridge.Close()

	_, ok := env.nextEvent(t).(knownhosts.Disconnect)
	require.True(t, ok)

	select {
	case ev := <-env.events:
		t.Fatalf("unexpected second event after Close: %T", ev)
	default:
	}
}

// =============================================================================
// HostKeyMismatchError message
// =============================================================================

func TestHostKeyMismatchError_MentionsHostAndKeys(t *testing.T) {
	err := &knownhosts.HostKeyMismatchError{
		Host:              "10.0.0.1",
		Port:              22,
		ReceivedAlgorithm: "ssh-ed25519",
		ReceivedSHA256:    "SHA256:aaaa",
		KnownAlgorithm:    "ssh-rsa",
		KnownSHA256:       "SHA256:bbbb",
	}
	msg := err.Error()
	assert.Contains(t, msg, "10.0.0.1:22")
	assert.Contains(t, msg, "SHA256:aaaa")
	assert.Contains(t, msg, "SHA256:bbbb")
	assert.False(t, errors.Is(err, knownhosts.ErrHostKeyRejected))
}
