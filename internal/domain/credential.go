package domain

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

type (
	SessionID string
	RoomName  string
)

// Credential is a short-lived room grant. It is immutable after NewCredential;
// the only mutation is Zero, which drops the secret when a session closes.
type Credential struct {
	token     string
	serverURL string
	expiresAt time.Time
	room      RoomName
	identity  ParticipantID
	name      string
}

// NewCredential is the single constructor used by every credential source.
func NewCredential(token, serverURL string, expiresAt time.Time, room RoomName, identity ParticipantID) Credential {
	return Credential{
		token:     token,
		serverURL: serverURL,
		expiresAt: expiresAt,
		room:      room,
		identity:  identity,
	}
}

func (c Credential) Token() string           { return c.token }
func (c Credential) ServerURL() string       { return c.serverURL }
func (c Credential) ExpiresAt() time.Time    { return c.expiresAt }
func (c Credential) Room() RoomName          { return c.room }
func (c Credential) Identity() ParticipantID { return c.identity }
func (c Credential) DisplayName() string     { return c.name }

// WithDisplayName returns a copy announcing the participant under name.
func (c Credential) WithDisplayName(name string) Credential {
	c.name = name
	return c
}

// Expired reports whether the grant is no longer usable at now.
func (c Credential) Expired(now time.Time) bool {
	return !c.expiresAt.IsZero() && !now.Before(c.expiresAt)
}

// Validate checks the shape of the credential. The token itself stays opaque.
func (c Credential) Validate(now time.Time) error {
	if strings.TrimSpace(c.token) == "" {
		return &CredentialError{Kind: CredentialInvalid, Err: fmt.Errorf("empty token")}
	}
	if c.expiresAt.IsZero() {
		return &CredentialError{Kind: CredentialInvalid, Err: fmt.Errorf("missing expiry")}
	}
	if c.serverURL != "" {
		u, err := url.Parse(c.serverURL)
		if err != nil {
			return &CredentialError{Kind: CredentialInvalid, Err: err}
		}
		switch u.Scheme {
		case "ws", "wss", "http", "https":
		default:
			return &CredentialError{Kind: CredentialInvalid, Err: fmt.Errorf("unsupported server url scheme %q", u.Scheme)}
		}
		if u.Host == "" {
			return &CredentialError{Kind: CredentialInvalid, Err: fmt.Errorf("server url has no host")}
		}
	}
	if c.Expired(now) {
		return &CredentialError{Kind: CredentialExpired, Err: fmt.Errorf("expired at %s", c.expiresAt.Format(time.RFC3339))}
	}
	return nil
}

// Zero releases the secret material.
func (c *Credential) Zero() {
	*c = Credential{}
}

// IsZero is true for a credential that was never issued or already released.
func (c Credential) IsZero() bool { return c.token == "" && c.serverURL == "" }

// String never prints the token.
func (c Credential) String() string {
	return fmt.Sprintf("credential{room=%s identity=%s name=%q server=%s expires=%s}",
		c.room, c.identity, c.name, c.serverURL, c.expiresAt.Format(time.RFC3339))
}
