package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/sumire/nowplaying/internal/crypto"
)

// Settings manages the user's posting tokens.
type Settings struct {
	users UserStore
}

// NewSettings creates a new Settings service.
func NewSettings(users UserStore) *Settings {
	return &Settings{users: users}
}

// GenerateHeaderToken mints a new header token, stores only its hash,
// and returns the plaintext. It is shown once and cannot be recovered.
func (s *Settings) GenerateHeaderToken(ctx context.Context, userID uuid.UUID) (string, error) {
	token, err := crypto.RandomToken(32)
	if err != nil {
		return "", fmt.Errorf("generate header token: %w", err)
	}
	if err := s.users.SetHeaderToken(ctx, userID, crypto.HashToken(token)); err != nil {
		return "", fmt.Errorf("store header token: %w", err)
	}
	return token, nil
}

// DisableHeaderToken turns the header token requirement off and drops
// the stored hash.
func (s *Settings) DisableHeaderToken(ctx context.Context, userID uuid.UUID) error {
	return s.users.DisableHeaderToken(ctx, userID)
}

// RotateURLToken replaces the post URL token in one statement; the old
// value stops resolving the moment the new one exists.
func (s *Settings) RotateURLToken(ctx context.Context, userID uuid.UUID) (uuid.UUID, error) {
	return s.users.RotateURLToken(ctx, userID)
}
