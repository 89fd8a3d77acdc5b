package creds

// Protocol tags the front-end a login arrives through. The policy for
// each protocol is independent — an account may require password+otp
// over SSH but a plain password over HTTP.
type Protocol string

const (
	ProtocolHTTP     Protocol = "http"
	ProtocolSSH      Protocol = "ssh"
	ProtocolDatabase Protocol = "database"
)

// Policy lists, per protocol, the credential kinds a user must satisfy.
// A nil slice for a protocol means no policy: any single matching
// registered credential suffices. A non-nil slice means every listed
// kind must be satisfied by at least one presented credential; the
// order determines which missing kind is requested first.
type Policy struct {
	HTTP     []Kind `json:"http,omitempty"`
	SSH      []Kind `json:"ssh,omitempty"`
	Database []Kind `json:"database,omitempty"`
}

// Required returns the kind list for proto, or nil when the policy
// leaves that protocol unconstrained. A nil receiver is a valid
// "no policy at all" value.
func (p *Policy) Required(proto Protocol) []Kind {
	if p == nil {
		return nil
	}
	switch proto {
	case ProtocolHTTP:
		return p.HTTP
	case ProtocolSSH:
		return p.SSH
	case ProtocolDatabase:
		return p.Database
	}
	return nil
}
