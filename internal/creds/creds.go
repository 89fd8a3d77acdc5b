// Package creds defines the credential model shared by every protocol
// front-end: what a client presented at login time, what is registered
// for a user on file, and the per-protocol policy deciding which kinds
// of proof a user must supply.
//
// Presented and Stored are deliberately distinct types. A Presented
// credential is ephemeral — it exists only for the duration of one
// authorization call and is never persisted. A Stored credential is the
// durable record (a bcrypt hash, an authorized key, a TOTP secret) and
// knows how to verify a Presented credential of its own kind.
package creds

import "fmt"

// Kind is the category of proof of identity. The string values are
// stable storage tags — they appear in user records and config files.
type Kind string

const (
	KindPassword  Kind = "password"
	KindPublicKey Kind = "publickey"
	KindOtp       Kind = "otp"
	KindSso       Kind = "sso"
)

// ParseKind maps a config/storage tag to a Kind.
func ParseKind(name string) (Kind, error) {
	switch Kind(name) {
	case KindPassword, KindPublicKey, KindOtp, KindSso:
		return Kind(name), nil
	}
	return "", fmt.Errorf("creds: unknown credential kind %q", name)
}

// Presented is a single credential shown by a client during login.
// Implementations are plain value types; Kind() is a pure mapping.
type Presented interface {
	Kind() Kind
}

// Password is a plaintext password presented at login.
type Password struct {
	Secret string
}

func (Password) Kind() Kind { return KindPassword }

// PublicKey is a public key the client proved possession of
// (the protocol layer has already checked the signature).
type PublicKey struct {
	// Algorithm is the SSH wire name of the key type, e.g. "ssh-ed25519".
	Algorithm string
	// Bytes is the marshalled key blob in SSH wire format.
	Bytes []byte
}

func (PublicKey) Kind() Kind { return KindPublicKey }

// Otp is a one-time code presented at login.
type Otp struct {
	Code string
}

func (Otp) Kind() Kind { return KindOtp }

// Sso is a single-sign-on assertion relayed by an identity provider.
type Sso struct {
	Provider string
	Email    string
}

func (Sso) Kind() Kind { return KindSso }
