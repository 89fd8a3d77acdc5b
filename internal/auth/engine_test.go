package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"gatewarden/internal/auth"
	"gatewarden/internal/creds"
)

// =============================================================================
// Helpers
// =============================================================================

func hash(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func totpSecret(t *testing.T) string {
	t.Helper()
	key, err := totp.Generate(totp.GenerateOpts{Issuer: "gatewarden-test", AccountName: "alice"})
	require.NoError(t, err)
	return key.Secret()
}

func currentCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.GenerateCode(secret, time.Now().UTC())
	require.NoError(t, err)
	return code
}

func newEngine(t *testing.T, users ...*auth.User) *auth.Engine {
	t.Helper()
	store, err := auth.NewStaticUserStore(users)
	require.NoError(t, err)
	return auth.NewEngine(store)
}

// failingStore returns a fixed error from every lookup.
type failingStore struct{ err error }

func (f *failingStore) GetUserByName(context.Context, string) (*auth.User, error) {
	return nil, f.err
}

// =============================================================================
// No policy: any one matching credential suffices
// =============================================================================

func TestAuthorize_NoPolicy_PasswordAccepted(t *testing.T) {
	e := newEngine(t, &auth.User{
		Username:    "alice",
		Credentials: []creds.Stored{creds.PasswordHash{Hash: hash(t, "s3cret")}},
	})

	v, err := e.Authorize(context.Background(), "alice",
		[]creds.Presented{creds.Password{Secret: "s3cret"}}, creds.ProtocolSSH)
	require.NoError(t, err)
	assert.Equal(t, auth.OutcomeAccepted, v.Outcome)
	assert.Equal(t, "alice", v.Username)
}

func TestAuthorize_NoPolicy_WrongPasswordRejected(t *testing.T) {
	e := newEngine(t, &auth.User{
		Username:    "alice",
		Credentials: []creds.Stored{creds.PasswordHash{Hash: hash(t, "s3cret")}},
	})

	v, err := e.Authorize(context.Background(), "alice",
		[]creds.Presented{creds.Password{Secret: "guess"}}, creds.ProtocolSSH)
	require.NoError(t, err)
	assert.Equal(t, auth.OutcomeRejected, v.Outcome)
}

func TestAuthorize_NoPolicy_NothingPresentedRejected(t *testing.T) {
	e := newEngine(t, &auth.User{
		Username:    "alice",
		Credentials: []creds.Stored{creds.PasswordHash{Hash: hash(t, "s3cret")}},
	})

	v, err := e.Authorize(context.Background(), "alice", nil, creds.ProtocolSSH)
	require.NoError(t, err)
	assert.Equal(t, auth.OutcomeRejected, v.Outcome)
}

// =============================================================================
// Unknown user
// =============================================================================

func TestAuthorize_UnknownUser_RejectedNotError(t *testing.T) {
	e := newEngine(t)

	v, err := e.Authorize(context.Background(), "nobody",
		[]creds.Presented{creds.Password{Secret: "s3cret"}}, creds.ProtocolSSH)
	require.NoError(t, err, "unknown user must be a verdict, not an error")
	assert.Equal(t, auth.OutcomeRejected, v.Outcome)
}

func TestAuthorize_StoreOutage_IsError(t *testing.T) {
	e := auth.NewEngine(&failingStore{err: errors.New("connection refused")})

	_, err := e.Authorize(context.Background(), "alice",
		[]creds.Presented{creds.Password{Secret: "s3cret"}}, creds.ProtocolSSH)
	assert.Error(t, err, "storage outage must not be reported as a rejection")
}

// =============================================================================
// Multi-factor policy {password, otp}
// =============================================================================

func mfaUser(t *testing.T, secret string) *auth.User {
	t.Helper()
	return &auth.User{
		Username: "alice",
		Credentials: []creds.Stored{
			creds.PasswordHash{Hash: hash(t, "s3cret")},
			creds.TotpKey{Secret: secret},
		},
		Policy: &creds.Policy{SSH: []creds.Kind{creds.KindPassword, creds.KindOtp}},
	}
}

func TestAuthorize_MFA_PasswordOnlyNeedsOtp(t *testing.T) {
	e := newEngine(t, mfaUser(t, totpSecret(t)))

	v, err := e.Authorize(context.Background(), "alice",
		[]creds.Presented{creds.Password{Secret: "s3cret"}}, creds.ProtocolSSH)
	require.NoError(t, err)
	assert.Equal(t, auth.OutcomeNeed, v.Outcome)
	assert.Equal(t, creds.KindOtp, v.Missing)
}

func TestAuthorize_MFA_PasswordPlusOtpAccepted(t *testing.T) {
	secret := totpSecret(t)
	e := newEngine(t, mfaUser(t, secret))

	v, err := e.Authorize(context.Background(), "alice",
		[]creds.Presented{
			creds.Password{Secret: "s3cret"},
			creds.Otp{Code: currentCode(t, secret)},
		}, creds.ProtocolSSH)
	require.NoError(t, err)
	assert.Equal(t, auth.OutcomeAccepted, v.Outcome)
}

func TestAuthorize_MFA_WrongOtpRejectedNotNeed(t *testing.T) {
	e := newEngine(t, mfaUser(t, totpSecret(t)))

	v, err := e.Authorize(context.Background(), "alice",
		[]creds.Presented{
			creds.Password{Secret: "s3cret"},
			creds.Otp{Code: "000000"},
		}, creds.ProtocolSSH)
	require.NoError(t, err)
	assert.Equal(t, auth.OutcomeRejected, v.Outcome,
		"an actively failing credential overrides Need")
}

func TestAuthorize_MFA_NothingPresentedNeedsFirstKind(t *testing.T) {
	e := newEngine(t, mfaUser(t, totpSecret(t)))

	v, err := e.Authorize(context.Background(), "alice", nil, creds.ProtocolSSH)
	require.NoError(t, err)
	assert.Equal(t, auth.OutcomeNeed, v.Outcome)
	assert.Equal(t, creds.KindPassword, v.Missing, "missing kinds are requested in policy order")
}

func TestAuthorize_MFA_PolicyIsPerProtocol(t *testing.T) {
	// SSH requires password+otp; HTTP is unconstrained, so the same
	// password alone is enough there.
	e := newEngine(t, mfaUser(t, totpSecret(t)))

	v, err := e.Authorize(context.Background(), "alice",
		[]creds.Presented{creds.Password{Secret: "s3cret"}}, creds.ProtocolHTTP)
	require.NoError(t, err)
	assert.Equal(t, auth.OutcomeAccepted, v.Outcome)
}

// =============================================================================
// Re-entrancy: repeated calls with the same inputs agree
// =============================================================================

func TestAuthorize_Stateless(t *testing.T) {
	secret := totpSecret(t)
	e := newEngine(t, mfaUser(t, secret))

	// First call: password only.
	v1, err := e.Authorize(context.Background(), "alice",
		[]creds.Presented{creds.Password{Secret: "s3cret"}}, creds.ProtocolSSH)
	require.NoError(t, err)
	require.Equal(t, auth.OutcomeNeed, v1.Outcome)

	// Second call resubmits the proven password alongside the otp.
	v2, err := e.Authorize(context.Background(), "alice",
		[]creds.Presented{
			creds.Password{Secret: "s3cret"},
			creds.Otp{Code: currentCode(t, secret)},
		}, creds.ProtocolSSH)
	require.NoError(t, err)
	assert.Equal(t, auth.OutcomeAccepted, v2.Outcome)
}

// =============================================================================
// StaticUserStore
// =============================================================================

func TestStaticUserStore_DuplicateUsername(t *testing.T) {
	_, err := auth.NewStaticUserStore([]*auth.User{
		{Username: "alice"},
		{Username: "alice"},
	})
	assert.Error(t, err)
}

func TestStaticUserStore_UnknownUser(t *testing.T) {
	s, err := auth.NewStaticUserStore(nil)
	require.NoError(t, err)
	_, err = s.GetUserByName(context.Background(), "nobody")
	assert.ErrorIs(t, err, auth.ErrUserNotFound)
}
