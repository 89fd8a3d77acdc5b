// Package auth implements the authorization decision engine: it turns a
// set of presented credentials into a verdict by checking them against a
// user's registered credentials and per-protocol policy.
//
// Policy outcomes (Rejected, Need) are results, never errors. An error
// from Authorize means the decision could not be made at all (storage
// unreachable), which callers must not present as "access denied" —
// although the SSH front-end deliberately shows the same opaque failure
// to the client in both cases.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log"

	"gatewarden/internal/creds"
)

// ErrUserNotFound is returned by UserStore implementations when no user
// exists under the requested name. The engine maps it to Rejected so the
// response never reveals whether the account exists.
var ErrUserNotFound = errors.New("auth: user not found")

// User is an account as registered with the bastion.
type User struct {
	Username    string
	Credentials []creds.Stored
	Policy      *creds.Policy
	Roles       []string
}

// UserStore looks up registered users. Implementations must be safe for
// concurrent use.
type UserStore interface {
	GetUserByName(ctx context.Context, username string) (*User, error)
}

// Engine evaluates login attempts. It is stateless: each Authorize call
// is a pure decision over its arguments plus the stored user record, so
// one Engine serves any number of concurrent sessions.
type Engine struct {
	users UserStore
}

// NewEngine creates an Engine backed by the given user store.
func NewEngine(users UserStore) *Engine {
	return &Engine{users: users}
}

// Authorize evaluates the presented credentials for username over the
// given protocol.
//
// The verdict rules, in precedence order:
//
//   - unknown user → Rejected (indistinguishable from a bad credential)
//   - any presented credential that fails verification → Rejected
//   - every required kind satisfied → Accepted
//   - a required kind missing from the presented set → Need(kind)
//
// The engine keeps no per-login state. A caller resolving Need must
// resubmit the already-proven credentials together with the newly
// requested one in a fresh call.
func (e *Engine) Authorize(
	ctx context.Context,
	username string,
	presented []creds.Presented,
	protocol creds.Protocol,
) (Verdict, error) {
	user, err := e.users.GetUserByName(ctx, username)
	if errors.Is(err, ErrUserNotFound) {
		log.Printf("[AUTH] Access denied for user %q (%s)", username, protocol)
		return Rejected(), nil
	}
	if err != nil {
		return Verdict{}, fmt.Errorf("auth: look up user %q: %w", username, err)
	}

	// Verify everything that was presented. A single active failure
	// rejects the attempt outright, before any Need is considered.
	satisfied := make(map[creds.Kind]bool, len(presented))
	for _, p := range presented {
		if !matchesAny(user.Credentials, p) {
			log.Printf("[AUTH] Access denied for user %q (%s)", username, protocol)
			return Rejected(), nil
		}
		satisfied[p.Kind()] = true
	}

	required := user.Policy.Required(protocol)
	if required == nil {
		// No policy: any one verified credential is enough.
		if len(satisfied) > 0 {
			log.Printf("[AUTH] Authenticated user %q (%s)", username, protocol)
			return Accepted(user.Username), nil
		}
		return Rejected(), nil
	}

	for _, kind := range required {
		if !satisfied[kind] {
			log.Printf("[AUTH] User %q needs %s (%s)", username, kind, protocol)
			return Need(kind), nil
		}
	}

	log.Printf("[AUTH] Authenticated user %q (%s)", username, protocol)
	return Accepted(user.Username), nil
}

// matchesAny reports whether p matches at least one stored credential of
// the same kind.
func matchesAny(stored []creds.Stored, p creds.Presented) bool {
	for _, s := range stored {
		if s.Kind() == p.Kind() && s.Matches(p) {
			return true
		}
	}
	return false
}
