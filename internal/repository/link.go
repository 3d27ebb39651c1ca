package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/sumire/nowplaying/internal/crypto"
	"github.com/sumire/nowplaying/internal/domain"
)

// LinkRepository handles provider link storage. Access and refresh
// credentials are encrypted before they touch the database and decrypted
// on the way out.
type LinkRepository struct {
	db    *sqlx.DB
	codec *crypto.Codec
}

// NewLinkRepository creates a new LinkRepository. codec may be nil, in
// which case credentials are stored in plaintext.
func NewLinkRepository(db *sqlx.DB, codec *crypto.Codec) *LinkRepository {
	return &LinkRepository{db: db, codec: codec}
}

const linkColumns = `user_id, provider, external_id, username, avatar_url,
	access_token, refresh_token, expires_at, instance_host, created_at, updated_at`

// Find retrieves the link for one (user, provider) pair.
func (r *LinkRepository) Find(ctx context.Context, userID uuid.UUID, provider domain.Provider) (*domain.ProviderLink, error) {
	var link domain.ProviderLink
	err := r.db.GetContext(ctx, &link,
		`SELECT `+linkColumns+` FROM provider_links WHERE user_id = $1 AND provider = $2`,
		userID, provider)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find link %s/%s: %w", userID, provider, err)
	}
	if err := r.decrypt(&link); err != nil {
		return nil, err
	}
	return &link, nil
}

// FindAll retrieves every link a user currently holds.
func (r *LinkRepository) FindAll(ctx context.Context, userID uuid.UUID) ([]domain.ProviderLink, error) {
	var links []domain.ProviderLink
	err := r.db.SelectContext(ctx, &links,
		`SELECT `+linkColumns+` FROM provider_links WHERE user_id = $1 ORDER BY provider`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("find links for %s: %w", userID, err)
	}
	for i := range links {
		if err := r.decrypt(&links[i]); err != nil {
			return nil, err
		}
	}
	return links, nil
}

// Upsert writes a link, atomically replacing any prior link of the same
// provider for the user.
func (r *LinkRepository) Upsert(ctx context.Context, link domain.ProviderLink) error {
	accessToken, refreshToken, err := r.encrypt(link.AccessToken, link.RefreshToken)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO provider_links
		   (user_id, provider, external_id, username, avatar_url,
		    access_token, refresh_token, expires_at, instance_host)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (user_id, provider)
		 DO UPDATE SET external_id = EXCLUDED.external_id,
		               username = EXCLUDED.username,
		               avatar_url = EXCLUDED.avatar_url,
		               access_token = EXCLUDED.access_token,
		               refresh_token = EXCLUDED.refresh_token,
		               expires_at = EXCLUDED.expires_at,
		               instance_host = EXCLUDED.instance_host,
		               updated_at = NOW()`,
		link.UserID, link.Provider, link.ExternalID, link.Username, link.AvatarURL,
		accessToken, refreshToken, link.ExpiresAt, link.InstanceHost)
	if err != nil {
		return fmt.Errorf("upsert link %s/%s: %w", link.UserID, link.Provider, err)
	}
	return nil
}

// Delete removes the link for one (user, provider) pair. Deleting a link
// that does not exist is not an error.
func (r *LinkRepository) Delete(ctx context.Context, userID uuid.UUID, provider domain.Provider) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM provider_links WHERE user_id = $1 AND provider = $2`,
		userID, provider)
	if err != nil {
		return fmt.Errorf("delete link %s/%s: %w", userID, provider, err)
	}
	return nil
}

// UpdateCredential installs a refreshed credential with a compare-and-swap
// on updated_at, so concurrent refreshes for the same link serialize with
// last-committed-wins instead of merging partial rows. Returns
// domain.ErrNotFound when the row changed (or vanished) underneath us.
func (r *LinkRepository) UpdateCredential(ctx context.Context, userID uuid.UUID, provider domain.Provider, seenUpdatedAt time.Time, cred domain.Credential) error {
	var refreshToken *string
	if cred.RefreshToken != "" {
		refreshToken = &cred.RefreshToken
	}
	var expiresAt *time.Time
	if cred.Expiring() {
		expiresAt = &cred.ExpiresAt
	}

	accessToken, refreshToken, err := r.encrypt(cred.AccessToken, refreshToken)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE provider_links
		 SET access_token = $4,
		     refresh_token = COALESCE($5, refresh_token),
		     expires_at = $6,
		     updated_at = NOW()
		 WHERE user_id = $1 AND provider = $2 AND updated_at = $3`,
		userID, provider, seenUpdatedAt, accessToken, refreshToken, expiresAt)
	if err != nil {
		return fmt.Errorf("update credential %s/%s: %w", userID, provider, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *LinkRepository) encrypt(accessToken string, refreshToken *string) (string, *string, error) {
	enc, err := r.codec.Encrypt(accessToken)
	if err != nil {
		return "", nil, fmt.Errorf("encrypt access token: %w", err)
	}
	if refreshToken == nil {
		return enc, nil, nil
	}
	encRefresh, err := r.codec.Encrypt(*refreshToken)
	if err != nil {
		return "", nil, fmt.Errorf("encrypt refresh token: %w", err)
	}
	return enc, &encRefresh, nil
}

func (r *LinkRepository) decrypt(link *domain.ProviderLink) error {
	dec, err := r.codec.Decrypt(link.AccessToken)
	if err != nil {
		return fmt.Errorf("decrypt access token: %w", err)
	}
	link.AccessToken = dec
	if link.RefreshToken != nil {
		decRefresh, err := r.codec.Decrypt(*link.RefreshToken)
		if err != nil {
			return fmt.Errorf("decrypt refresh token: %w", err)
		}
		link.RefreshToken = &decRefresh
	}
	return nil
}
