package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/sumire/nowplaying/internal/domain"
)

// UserRepository handles user data access operations.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, spotify_user_id, display_name, avatar_url,
	url_token, header_token_hash, header_token_enabled, created_at, updated_at`

// FindByID retrieves a user by their internal ID.
func (r *UserRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	var user domain.User
	err := r.db.GetContext(ctx, &user,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find user by id %s: %w", id, err)
	}
	return &user, nil
}

// FindByURLToken retrieves a user by the posting URL token.
func (r *UserRepository) FindByURLToken(ctx context.Context, token uuid.UUID) (*domain.User, error) {
	var user domain.User
	err := r.db.GetContext(ctx, &user,
		`SELECT `+userColumns+` FROM users WHERE url_token = $1`, token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find user by url token: %w", err)
	}
	return &user, nil
}

// Upsert creates a user anchored on their Spotify account or refreshes the
// display attributes of an existing one. Returns the stored user.
func (r *UserRepository) Upsert(ctx context.Context, user domain.User) (*domain.User, error) {
	var result domain.User
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO users (spotify_user_id, display_name, avatar_url)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (spotify_user_id)
		 DO UPDATE SET display_name = EXCLUDED.display_name,
		               avatar_url = EXCLUDED.avatar_url,
		               updated_at = NOW()
		 RETURNING `+userColumns,
		user.SpotifyUserID, user.DisplayName, user.AvatarURL,
	).StructScan(&result)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return &result, nil
}

// RotateURLToken replaces the posting URL token in a single statement, so
// the prior value stops validating the instant the new one exists.
func (r *UserRepository) RotateURLToken(ctx context.Context, userID uuid.UUID) (uuid.UUID, error) {
	newToken := uuid.New()
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET url_token = $2, updated_at = NOW() WHERE id = $1`,
		userID, newToken)
	if err != nil {
		return uuid.Nil, fmt.Errorf("rotate url token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return uuid.Nil, domain.ErrNotFound
	}
	return newToken, nil
}

// SetHeaderToken stores the hash of a freshly generated header token and
// enables header-token checking in the same statement.
func (r *UserRepository) SetHeaderToken(ctx context.Context, userID uuid.UUID, tokenHash string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET header_token_hash = $2, header_token_enabled = TRUE, updated_at = NOW()
		 WHERE id = $1`,
		userID, tokenHash)
	if err != nil {
		return fmt.Errorf("set header token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DisableHeaderToken clears and disables the header token.
func (r *UserRepository) DisableHeaderToken(ctx context.Context, userID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET header_token_hash = NULL, header_token_enabled = FALSE, updated_at = NOW()
		 WHERE id = $1`,
		userID)
	if err != nil {
		return fmt.Errorf("disable header token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
