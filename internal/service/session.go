package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sumire/nowplaying/internal/crypto"
	"github.com/sumire/nowplaying/internal/domain"
)

// SessionStore defines the session data access interface consumed by
// SessionManager.
type SessionStore interface {
	Create(ctx context.Context, session domain.Session) error
	FindByHash(ctx context.Context, tokenHash string) (*domain.Session, error)
	Delete(ctx context.Context, tokenHash string) error
	DeleteExpired(ctx context.Context) error
}

// UserStore defines the user data access interface consumed by services.
type UserStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	FindByURLToken(ctx context.Context, token uuid.UUID) (*domain.User, error)
	Upsert(ctx context.Context, user domain.User) (*domain.User, error)
	RotateURLToken(ctx context.Context, userID uuid.UUID) (uuid.UUID, error)
	SetHeaderToken(ctx context.Context, userID uuid.UUID, tokenHash string) error
	DisableHeaderToken(ctx context.Context, userID uuid.UUID) error
}

// SessionManager issues and validates browser sessions. Tokens handed to
// the client are opaque random values; only their hash is stored, and
// every validation is a store lookup so revocation takes effect
// immediately.
type SessionManager struct {
	sessions SessionStore
	users    UserStore
	ttl      time.Duration
	now      func() time.Time
}

// NewSessionManager creates a new SessionManager.
func NewSessionManager(sessions SessionStore, users UserStore, ttl time.Duration) *SessionManager {
	return &SessionManager{
		sessions: sessions,
		users:    users,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Create mints a session for the user and returns the raw token. The
// token never touches the database; its SHA-256 hash does.
func (s *SessionManager) Create(ctx context.Context, userID uuid.UUID) (string, error) {
	token, err := crypto.RandomToken(32)
	if err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}

	now := s.now()
	err = s.sessions.Create(ctx, domain.Session{
		TokenHash: crypto.HashToken(token),
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	})
	if err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}
	return token, nil
}

// Authenticate resolves a raw session token to its user. Missing,
// expired and revoked sessions all fail with domain.ErrUnauthenticated.
func (s *SessionManager) Authenticate(ctx context.Context, token string) (*domain.User, error) {
	if token == "" {
		return nil, domain.ErrUnauthenticated
	}

	session, err := s.sessions.FindByHash(ctx, crypto.HashToken(token))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrUnauthenticated
		}
		return nil, fmt.Errorf("find session: %w", err)
	}
	if !s.now().Before(session.ExpiresAt) {
		return nil, domain.ErrUnauthenticated
	}

	user, err := s.users.FindByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrUnauthenticated
		}
		return nil, fmt.Errorf("find session user: %w", err)
	}
	return user, nil
}

// Invalidate revokes the session for a raw token. Unknown tokens are
// ignored; logout is idempotent.
func (s *SessionManager) Invalidate(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.sessions.Delete(ctx, crypto.HashToken(token)); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// SweepExpired removes sessions past their expiry. Authenticate already
// rejects stale rows; this just keeps the table small.
func (s *SessionManager) SweepExpired(ctx context.Context) error {
	return s.sessions.DeleteExpired(ctx)
}
