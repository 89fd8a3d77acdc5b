package auth

import "gatewarden/internal/creds"

// Outcome is the shape of a Verdict.
type Outcome int

const (
	// OutcomeRejected denies the login. The zero value, so an
	// accidentally unset Verdict denies rather than admits.
	OutcomeRejected Outcome = iota

	// OutcomeAccepted admits the login as Verdict.Username.
	OutcomeAccepted

	// OutcomeNeed signals an incomplete multi-factor login: the caller
	// must obtain one more credential of Verdict.Missing and call
	// Authorize again with the full set.
	OutcomeNeed
)

// Verdict is the result of an authorization evaluation.
type Verdict struct {
	Outcome  Outcome
	Username string     // set when Accepted
	Missing  creds.Kind // set when Need
}

// Accepted builds an admitting verdict for the given identity.
func Accepted(username string) Verdict {
	return Verdict{Outcome: OutcomeAccepted, Username: username}
}

// Rejected builds a denying verdict.
func Rejected() Verdict {
	return Verdict{Outcome: OutcomeRejected}
}

// Need builds a verdict requesting one more credential of the given kind.
func Need(kind creds.Kind) Verdict {
	return Verdict{Outcome: OutcomeNeed, Missing: kind}
}
