package creds

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/ssh"
)

const (
	// totpPeriod is the TOTP time step in seconds.
	totpPeriod = 30

	// totpSkew is how many periods either side of now a code is
	// still accepted. One period of tolerance absorbs clock drift
	// between the client device and the bastion.
	totpSkew = 1
)

// Stored is a credential registered for a user. Matches reports whether
// a presented credential satisfies it; a Presented of a different kind
// never matches.
type Stored interface {
	Kind() Kind
	Matches(p Presented) bool
}

// PasswordHash is a bcrypt hash of a user's password.
type PasswordHash struct {
	Hash string
}

func (PasswordHash) Kind() Kind { return KindPassword }

// Matches verifies a presented password against the hash.
// bcrypt's comparison is constant-time with respect to the password.
func (c PasswordHash) Matches(p Presented) bool {
	pw, ok := p.(Password)
	if !ok {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(c.Hash), []byte(pw.Secret)) == nil
}

// AuthorizedKey is a public key a user may authenticate with.
type AuthorizedKey struct {
	Algorithm string
	Bytes     []byte
}

func (AuthorizedKey) Kind() Kind { return KindPublicKey }

// Matches compares algorithm and exact key bytes. The protocol layer
// has already verified the signature, so byte equality is the whole check.
func (c AuthorizedKey) Matches(p Presented) bool {
	pk, ok := p.(PublicKey)
	if !ok {
		return false
	}
	return c.Algorithm == pk.Algorithm && bytes.Equal(c.Bytes, pk.Bytes)
}

// ParseAuthorizedKey parses one line in OpenSSH authorized_keys format.
func ParseAuthorizedKey(line string) (AuthorizedKey, error) {
	key, _, _, _, err := ssh.ParseAuthorizedKey([]byte(line))
	if err != nil {
		return AuthorizedKey{}, fmt.Errorf("creds: parse authorized key: %w", err)
	}
	return AuthorizedKey{Algorithm: key.Type(), Bytes: key.Marshal()}, nil
}

// TotpKey is a user's TOTP secret in base32.
type TotpKey struct {
	Secret string
}

func (TotpKey) Kind() Kind { return KindOtp }

// Matches validates a presented one-time code within the skew window.
func (c TotpKey) Matches(p Presented) bool {
	code, ok := p.(Otp)
	if !ok {
		return false
	}
	valid, err := totp.ValidateCustom(code.Code, c.Secret, time.Now().UTC(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && valid
}

// SsoBinding ties a user to an identity-provider account.
// A nil Provider accepts an assertion from any configured provider.
type SsoBinding struct {
	Provider *string
	Email    string
}

func (SsoBinding) Kind() Kind { return KindSso }

// Matches compares provider (when pinned) and email exactly.
func (c SsoBinding) Matches(p Presented) bool {
	sso, ok := p.(Sso)
	if !ok {
		return false
	}
	if c.Provider != nil && *c.Provider != sso.Provider {
		return false
	}
	return c.Email == sso.Email
}

// storedRecord is the JSON envelope a Stored credential is persisted as.
// Exactly one payload group is set, selected by Kind.
type storedRecord struct {
	Kind Kind `json:"kind"`

	Hash string `json:"hash,omitempty"`

	Algorithm string `json:"algorithm,omitempty"`
	KeyBytes  []byte `json:"key,omitempty"`

	TotpSecret string `json:"totp_secret,omitempty"`

	Provider *string `json:"provider,omitempty"`
	Email    string  `json:"email,omitempty"`
}

// MarshalStored encodes a set of stored credentials for persistence.
func MarshalStored(list []Stored) ([]byte, error) {
	records := make([]storedRecord, 0, len(list))
	for _, s := range list {
		switch c := s.(type) {
		case PasswordHash:
			records = append(records, storedRecord{Kind: KindPassword, Hash: c.Hash})
		case AuthorizedKey:
			records = append(records, storedRecord{Kind: KindPublicKey, Algorithm: c.Algorithm, KeyBytes: c.Bytes})
		case TotpKey:
			records = append(records, storedRecord{Kind: KindOtp, TotpSecret: c.Secret})
		case SsoBinding:
			records = append(records, storedRecord{Kind: KindSso, Provider: c.Provider, Email: c.Email})
		default:
			return nil, fmt.Errorf("creds: cannot marshal credential of type %T", s)
		}
	}
	return json.Marshal(records)
}

// UnmarshalStored decodes a set of stored credentials.
// An unrecognised kind is an error, not a silent skip — a record this
// code cannot verify must not be dropped from a user's credential set.
func UnmarshalStored(data []byte) ([]Stored, error) {
	var records []storedRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("creds: unmarshal stored credentials: %w", err)
	}
	list := make([]Stored, 0, len(records))
	for _, r := range records {
		switch r.Kind {
		case KindPassword:
			list = append(list, PasswordHash{Hash: r.Hash})
		case KindPublicKey:
			list = append(list, AuthorizedKey{Algorithm: r.Algorithm, Bytes: r.KeyBytes})
		case KindOtp:
			list = append(list, TotpKey{Secret: r.TotpSecret})
		case KindSso:
			list = append(list, SsoBinding{Provider: r.Provider, Email: r.Email})
		default:
			return nil, fmt.Errorf("creds: unknown stored credential kind %q", r.Kind)
		}
	}
	return list, nil
}
