package domain

import "time"

// Provider identifies an external identity or posting service.
type Provider string

const (
	ProviderSpotify Provider = "spotify"
	ProviderMisskey Provider = "misskey"
	ProviderTwitter Provider = "twitter"
)

// Valid reports whether p is one of the supported providers.
func (p Provider) Valid() bool {
	switch p {
	case ProviderSpotify, ProviderMisskey, ProviderTwitter:
		return true
	}
	return false
}

// Credential is the outcome of a completed handshake or refresh.
// ExpiresAt is zero for non-expiring credentials (MiAuth session tokens).
type Credential struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Expiring reports whether the credential carries an expiry at all.
func (c Credential) Expiring() bool {
	return !c.ExpiresAt.IsZero()
}

// Identity is a provider's answer to "who am I" for a fresh credential.
type Identity struct {
	ExternalID string
	Username   string
	AvatarURL  string
}

// Eligibility is the derived permission to use a posting destination.
// It is recomputed from the current links on every query, never stored.
type Eligibility struct {
	Eligible bool   `json:"eligible"`
	Reason   string `json:"reason,omitempty"`
}
