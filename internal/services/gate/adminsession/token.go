// Package adminsession issues and verifies the self-contained administrative
// session token.
//
// The token is a bearer credential: possession grants access with no
// server-side session table. Wire format:
//
//	<base64url JSON payload>.<lowercase hex HMAC-SHA256>
package adminsession

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	apperrors "github.com/lanternfest/platform/internal/platform/errors"
)

// SessionTTL is the fixed lifetime of every admin session. Expiry is computed
// server-side during Issue; callers cannot supply their own.
const SessionTTL = 24 * time.Hour

// Role is the operator role carried by a session.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleCrewmate Role = "crewmate"
	RoleImposter Role = "imposter"
	RoleMaster   Role = "master"
)

// Valid reports whether the role belongs to the fixed operator role set.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleCrewmate, RoleImposter, RoleMaster:
		return true
	}
	return false
}

// Session is the payload carried by an admin session token.
type Session struct {
	ID          string   `json:"id"`
	Email       string   `json:"email"`
	Role        Role     `json:"role"`
	Permissions []string `json:"permissions,omitempty"`
	ExpiresAt   int64    `json:"exp"`
}

// HasPermission reports whether the session carries a capability tag.
func (s Session) HasPermission(tag string) bool {
	return slices.Contains(s.Permissions, tag)
}

var (
	// ErrEmptyID indicates a session payload without an operator id.
	ErrEmptyID = apperrors.New(apperrors.CodeAdminSessionEmptyID, "session id is required")
	// ErrEmptyEmail indicates a session payload without an email.
	ErrEmptyEmail = apperrors.New(apperrors.CodeAdminSessionEmptyEmail, "session email is required")
	// ErrInvalidRole indicates a role outside the fixed operator role set.
	ErrInvalidRole = apperrors.New(apperrors.CodeAdminSessionBadRole, "session role is not recognized")
)

// Codec signs and verifies admin session tokens.
type Codec struct {
	secret []byte
	clock  func() time.Time
}

// NewCodec creates a codec from the resolved configuration.
func NewCodec(cfg Config) *Codec {
	return &Codec{
		secret: []byte(cfg.Secret),
		clock:  time.Now,
	}
}

// Issue serializes the session and returns the signed token. The expiry is
// stamped here as now + SessionTTL, overwriting whatever the caller set.
func (c *Codec) Issue(session Session) (string, error) {
	if strings.TrimSpace(session.ID) == "" {
		return "", ErrEmptyID
	}
	if strings.TrimSpace(session.Email) == "" {
		return "", ErrEmptyEmail
	}
	if !session.Role.Valid() {
		return "", ErrInvalidRole
	}
	session.ExpiresAt = c.clock().Add(SessionTTL).Unix()

	payload, err := json.Marshal(session)
	if err != nil {
		return "", fmt.Errorf("marshal session payload: %w", err)
	}
	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return encoded + "." + c.sign(encoded), nil
}

// Verify checks a token and returns its payload.
//
// The signature is checked over the still-encoded payload before any decode,
// so content is never inspected until authenticity is established. Every
// failure collapses to ok == false: tampered signature, undecodable payload,
// missing required fields, and expiry are indistinguishable to callers.
func (c *Codec) Verify(token string) (Session, bool) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Session{}, false
	}
	if !hmac.Equal([]byte(c.sign(parts[0])), []byte(parts[1])) {
		return Session{}, false
	}

	raw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return Session{}, false
	}
	var session Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return Session{}, false
	}
	if session.ID == "" || session.Email == "" || session.Role == "" {
		return Session{}, false
	}
	if session.ExpiresAt <= c.clock().Unix() {
		return Session{}, false
	}
	return session, true
}

func (c *Codec) sign(encoded string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(encoded))
	return hex.EncodeToString(mac.Sum(nil))
}
