package knownhosts_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"gatewarden/internal/knownhosts"
)

// =============================================================================
// Helpers
// =============================================================================

// memHostKeyStore is an in-memory HostKeyStore for unit tests.
type memHostKeyStore struct {
	mu      sync.Mutex
	entries map[string]knownhosts.Entry
}

func newMemHostKeyStore() *memHostKeyStore {
	return &memHostKeyStore{entries: make(map[string]knownhosts.Entry)}
}

func (m *memHostKeyStore) GetHostKey(_ context.Context, host string, port int) (*knownhosts.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[fmt.Sprintf("%s:%d", host, port)]
	if !ok {
		return nil, knownhosts.ErrNotFound
	}
	return &e, nil
}

func (m *memHostKeyStore) UpsertHostKey(_ context.Context, e knownhosts.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[fmt.Sprintf("%s:%d", e.Host, e.Port)] = e
	return nil
}

func (m *memHostKeyStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func genKey(t *testing.T) ssh.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	key, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)
	return key
}

// =============================================================================
// Validate / Trust
// =============================================================================

func TestValidate_UnseenHostIsUnknown(t *testing.T) {
	s := knownhosts.NewStore(newMemHostKeyStore())

	res, err := s.Validate(context.Background(), "10.0.0.1", 22, genKey(t))
	require.NoError(t, err)
	assert.Equal(t, knownhosts.StatusUnknown, res.Status)
}

func TestValidate_TrustedKeyIsValid(t *testing.T) {
	s := knownhosts.NewStore(newMemHostKeyStore())
	key := genKey(t)

	require.NoError(t, s.Trust(context.Background(), "10.0.0.1", 22, key))

	res, err := s.Validate(context.Background(), "10.0.0.1", 22, key)
	require.NoError(t, err)
	assert.Equal(t, knownhosts.StatusValid, res.Status)
}

func TestValidate_DifferentKeyIsInvalidWithKnownKey(t *testing.T) {
	s := knownhosts.NewStore(newMemHostKeyStore())
	trusted := genKey(t)
	imposter := genKey(t)

	require.NoError(t, s.Trust(context.Background(), "10.0.0.1", 22, trusted))

	res, err := s.Validate(context.Background(), "10.0.0.1", 22, imposter)
	require.NoError(t, err)
	assert.Equal(t, knownhosts.StatusInvalid, res.Status)
	assert.Equal(t, trusted.Type(), res.KnownAlgorithm)
	assert.NotEmpty(t, res.KnownKeyBase64, "the originally trusted key must be carried in the result")
}

func TestValidate_PortsAreIndependent(t *testing.T) {
	s := knownhosts.NewStore(newMemHostKeyStore())
	key := genKey(t)

	require.NoError(t, s.Trust(context.Background(), "10.0.0.1", 22, key))

	res, err := s.Validate(context.Background(), "10.0.0.1", 2222, key)
	require.NoError(t, err)
	assert.Equal(t, knownhosts.StatusUnknown, res.Status)
}

func TestTrust_IsIdempotent(t *testing.T) {
	db := newMemHostKeyStore()
	s := knownhosts.NewStore(db)
	key := genKey(t)

	require.NoError(t, s.Trust(context.Background(), "10.0.0.1", 22, key))
	require.NoError(t, s.Trust(context.Background(), "10.0.0.1", 22, key))

	assert.Equal(t, 1, db.count(), "repeated trust must not create duplicates")
}

func TestTrust_ReplacesPreviousKey(t *testing.T) {
	db := newMemHostKeyStore()
	s := knownhosts.NewStore(db)
	old := genKey(t)
	rotated := genKey(t)

	require.NoError(t, s.Trust(context.Background(), "10.0.0.1", 22, old))
	require.NoError(t, s.Trust(context.Background(), "10.0.0.1", 22, rotated))

	res, err := s.Validate(context.Background(), "10.0.0.1", 22, rotated)
	require.NoError(t, err)
	assert.Equal(t, knownhosts.StatusValid, res.Status)
	assert.Equal(t, 1, db.count())
}
