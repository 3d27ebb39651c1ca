package domain

import (
	"time"

	"github.com/google/uuid"
)

// ProviderLink is the stored credential for one (user, provider) pair.
// A row exists iff a usable credential is stored: connectivity is never a
// flag divorced from the credential. At most one link per (user, provider);
// relinking replaces the row atomically.
type ProviderLink struct {
	UserID     uuid.UUID `db:"user_id"`
	Provider   Provider  `db:"provider"`
	ExternalID string    `db:"external_id"`
	Username   string    `db:"username"`
	AvatarURL  *string   `db:"avatar_url"`

	AccessToken  string     `db:"access_token"`
	RefreshToken *string    `db:"refresh_token"`
	ExpiresAt    *time.Time `db:"expires_at"`

	// InstanceHost is set for Misskey links only.
	InstanceHost *string `db:"instance_host"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Expired reports whether the stored access credential has passed its
// expiry. Links without an expiry never expire.
func (l *ProviderLink) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && !now.Before(*l.ExpiresAt)
}

// Credential returns the stored credential.
func (l *ProviderLink) Credential() Credential {
	c := Credential{AccessToken: l.AccessToken}
	if l.RefreshToken != nil {
		c.RefreshToken = *l.RefreshToken
	}
	if l.ExpiresAt != nil {
		c.ExpiresAt = *l.ExpiresAt
	}
	return c
}

// Host returns the instance host or "".
func (l *ProviderLink) Host() string {
	if l.InstanceHost == nil {
		return ""
	}
	return *l.InstanceHost
}

// LinkingAttempt tracks an in-flight handshake across the provider
// redirect. It is keyed by the opaque state value, consumed exactly once
// by the matching callback, and treated as expired at lookup time once
// ExpiresAt has passed.
type LinkingAttempt struct {
	State    string    `db:"state"`
	Provider Provider  `db:"provider"`
	UserID   uuid.UUID `db:"user_id"`

	// InstanceHost is the normalized target host for Misskey attempts.
	InstanceHost string `db:"instance_host"`
	// CodeVerifier is the PKCE verifier for Twitter attempts.
	CodeVerifier string `db:"code_verifier"`

	CreatedAt time.Time `db:"created_at"`
	ExpiresAt time.Time `db:"expires_at"`
}

// Expired reports whether the attempt window has passed.
func (a *LinkingAttempt) Expired(now time.Time) bool {
	return !now.Before(a.ExpiresAt)
}

// Session is a server-side browser session. The token handed to the
// client is opaque; only its hash is stored, and validation always goes
// through a store lookup so revocation is immediate.
type Session struct {
	TokenHash string    `db:"token_hash"`
	UserID    uuid.UUID `db:"user_id"`
	CreatedAt time.Time `db:"created_at"`
	ExpiresAt time.Time `db:"expires_at"`
}
