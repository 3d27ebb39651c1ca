package domain

import (
	"time"

	"github.com/google/uuid"
)

// User is the account anchored by the mandatory Spotify identity.
// It is created on the first successful Spotify handshake and never
// deleted here; display attributes are refreshed opportunistically.
type User struct {
	ID            uuid.UUID `json:"id" db:"id"`
	SpotifyUserID string    `json:"spotify_user_id" db:"spotify_user_id"`
	DisplayName   string    `json:"display_name" db:"display_name"`
	AvatarURL     *string   `json:"avatar_url,omitempty" db:"avatar_url"`

	// URLToken is the bearer value embedded in the external post URL. It
	// always exists; rotating it invalidates the prior value atomically.
	URLToken uuid.UUID `json:"-" db:"url_token"`
	// HeaderTokenHash holds the SHA-256 of the optional header token.
	// The plaintext is shown once at generation and never stored.
	HeaderTokenHash    *string `json:"-" db:"header_token_hash"`
	HeaderTokenEnabled bool    `json:"-" db:"header_token_enabled"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
