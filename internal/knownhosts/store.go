// Package knownhosts decides whether an outbound connection to a target
// host is safe to proceed. The Store keeps the persistent (host, port) →
// key mapping; the Bridge adapts the protocol library's synchronous
// host-key hook into an asynchronous decision that may wait on an
// operator (trust-on-first-use).
package knownhosts

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/crypto/ssh"
)

// ErrNotFound is returned by HostKeyStore implementations when no entry
// exists for a (host, port).
var ErrNotFound = errors.New("knownhosts: entry not found")

// Entry is one trusted host key. At most one entry exists per
// (host, port); trusting a host again replaces the previous entry.
type Entry struct {
	Host      string
	Port      int
	Algorithm string
	KeyBase64 string
	TrustedAt time.Time
}

// HostKeyStore persists known-host entries. Implementations must be
// safe for concurrent use.
type HostKeyStore interface {
	GetHostKey(ctx context.Context, host string, port int) (*Entry, error)
	UpsertHostKey(ctx context.Context, e Entry) error
}

// Status classifies a validation outcome. "Key differs from the stored
// one" is deliberately distinct from "no entry exists" — the former is
// the man-in-the-middle signal and must never be auto-resolved.
type Status int

const (
	StatusUnknown Status = iota
	StatusValid
	StatusInvalid
)

// Result of a Validate call. KnownAlgorithm/KnownKeyBase64 carry the
// previously trusted key when Status is Invalid.
type Result struct {
	Status         Status
	KnownAlgorithm string
	KnownKeyBase64 string
}

// Store validates and records host-key trust against a HostKeyStore.
type Store struct {
	db HostKeyStore
}

// NewStore creates a Store over the given backing store.
func NewStore(db HostKeyStore) *Store {
	return &Store{db: db}
}

// Validate compares the candidate key with the stored entry for
// (host, port).
func (s *Store) Validate(ctx context.Context, host string, port int, key ssh.PublicKey) (Result, error) {
	entry, err := s.db.GetHostKey(ctx, host, port)
	if errors.Is(err, ErrNotFound) {
		return Result{Status: StatusUnknown}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("knownhosts: look up %s:%d: %w", host, port, err)
	}

	if entry.Algorithm == key.Type() && entry.KeyBase64 == keyBase64(key) {
		return Result{Status: StatusValid}, nil
	}
	return Result{
		Status:         StatusInvalid,
		KnownAlgorithm: entry.Algorithm,
		KnownKeyBase64: entry.KeyBase64,
	}, nil
}

// Trust records key as the expected key for (host, port), replacing any
// previous entry. Called only after an explicit accept decision.
// Idempotent: repeated calls with the same key leave a single entry.
func (s *Store) Trust(ctx context.Context, host string, port int, key ssh.PublicKey) error {
	entry := Entry{
		Host:      host,
		Port:      port,
		Algorithm: key.Type(),
		KeyBase64: keyBase64(key),
		TrustedAt: time.Now().UTC(),
	}
	if err := s.db.UpsertHostKey(ctx, entry); err != nil {
		return fmt.Errorf("knownhosts: trust %s:%d: %w", host, port, err)
	}
	log.Printf("[HOSTKEY] Trusted %s key for %s:%d (%s)", key.Type(), host, port, ssh.FingerprintSHA256(key))
	return nil
}

// keyBase64 is the storage encoding of a public key blob.
func keyBase64(key ssh.PublicKey) string {
	return base64.StdEncoding.EncodeToString(key.Marshal())
}
