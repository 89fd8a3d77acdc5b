package proxy

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"gatewarden/internal/auth"
	"gatewarden/internal/creds"
)

// authTimeout bounds a single authorization decision. The user store may
// sit behind a database — a hung lookup must not hold the SSH handshake
// open forever.
const authTimeout = 10 * time.Second

// errAccessDenied is the only error a client ever sees from an auth
// callback. Engine errors, rejections and unsupported credential kinds
// all collapse into it — an attacker cannot tell which one occurred,
// and cannot determine whether a username exists.
var errAccessDenied = errors.New("access denied")

// Authenticator adapts the authorization engine to ssh.ServerConfig
// callbacks. It holds no per-login state: each SSH auth round presents
// the full set of credentials proven so far, and the engine re-evaluates
// them from scratch.
//
// Multi-factor logins use SSH partial success. When the engine answers
// "need one more credential", the callback returns ssh.PartialSuccessError
// whose Next callbacks capture the already-proven credentials in a
// closure and resubmit them together with the newly obtained one.
type Authenticator struct {
	engine *auth.Engine
}

// NewAuthenticator creates an Authenticator backed by the given engine.
func NewAuthenticator(engine *auth.Engine) (*Authenticator, error) {
	if engine == nil {
		return nil, fmt.Errorf("proxy: authenticator requires an authorization engine")
	}
	return &Authenticator{engine: engine}, nil
}

// PasswordCallback returns an ssh.ServerConfig-compatible password callback.
//
// Usage:
//
//	serverConfig.PasswordCallback = auth.PasswordCallback()
func (a *Authenticator) PasswordCallback() func(ssh.ConnMetadata, []byte) (*ssh.Permissions, error) {
	return func(meta ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
		return a.attempt(meta, []creds.Presented{creds.Password{Secret: string(password)}})
	}
}

// PublicKeyCallback returns an ssh.ServerConfig-compatible public key
// callback. The ssh package has already verified the signature by the
// time this runs, so the presented credential carries only the key
// material for matching against the user's registered keys.
func (a *Authenticator) PublicKeyCallback() func(ssh.ConnMetadata, ssh.PublicKey) (*ssh.Permissions, error) {
	return func(meta ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
		return a.attempt(meta, []creds.Presented{creds.PublicKey{
			Algorithm: key.Type(),
			Bytes:     key.Marshal(),
		}})
	}
}

// attempt runs one authorization round over everything proven so far.
func (a *Authenticator) attempt(meta ssh.ConnMetadata, proven []creds.Presented) (*ssh.Permissions, error) {
	ctx, cancel := context.WithTimeout(context.Background(), authTimeout)
	defer cancel()

	verdict, err := a.engine.Authorize(ctx, meta.User(), proven, creds.ProtocolSSH)
	if err != nil {
		// A storage failure is not a rejection, but the client must not
		// be able to tell the difference.
		log.Printf("[AUTH] Authorization error for user %q from %s: %v",
			meta.User(), meta.RemoteAddr(), err)
		return nil, errAccessDenied
	}

	switch verdict.Outcome {
	case auth.OutcomeAccepted:
		return &ssh.Permissions{
			Extensions: map[string]string{"gatewarden-user": verdict.Username},
		}, nil

	case auth.OutcomeNeed:
		next, err := a.nextCallbacks(proven, verdict.Missing)
		if err != nil {
			log.Printf("[AUTH] Cannot continue login for user %q from %s: %v",
				meta.User(), meta.RemoteAddr(), err)
			return nil, errAccessDenied
		}
		return nil, &ssh.PartialSuccessError{Next: next}

	default:
		return nil, errAccessDenied
	}
}

// nextCallbacks builds the partial-success continuation for the missing
// credential kind. The proven slice is captured with a hard cap so a
// later append cannot alias into it.
func (a *Authenticator) nextCallbacks(proven []creds.Presented, missing creds.Kind) (ssh.ServerAuthCallbacks, error) {
	proven = proven[:len(proven):len(proven)]

	switch missing {
	case creds.KindPassword:
		return ssh.ServerAuthCallbacks{
			PasswordCallback: func(meta ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
				return a.attempt(meta, append(proven, creds.Password{Secret: string(password)}))
			},
		}, nil

	case creds.KindPublicKey:
		return ssh.ServerAuthCallbacks{
			PublicKeyCallback: func(meta ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
				return a.attempt(meta, append(proven, creds.PublicKey{
					Algorithm: key.Type(),
					Bytes:     key.Marshal(),
				}))
			},
		}, nil

	case creds.KindOtp:
		return ssh.ServerAuthCallbacks{
			KeyboardInteractiveCallback: func(meta ssh.ConnMetadata, challenge ssh.KeyboardInteractiveChallenge) (*ssh.Permissions, error) {
				answers, err := challenge("", "", []string{"One-time code: "}, []bool{false})
				if err != nil || len(answers) != 1 {
					return nil, errAccessDenied
				}
				code := strings.TrimSpace(answers[0])
				return a.attempt(meta, append(proven, creds.Otp{Code: code}))
			},
		}, nil

	default:
		// Sso and anything unrecognised cannot be collected over SSH.
		return ssh.ServerAuthCallbacks{}, fmt.Errorf("credential kind %q not obtainable over ssh", missing)
	}
}
