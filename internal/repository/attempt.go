package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sumire/nowplaying/internal/domain"
)

// AttemptRepository stores in-flight handshake attempts in Postgres.
type AttemptRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(db *sqlx.DB) *AttemptRepository {
	return &AttemptRepository{db: db, now: time.Now}
}

// Create persists a new attempt keyed by its state value.
func (r *AttemptRepository) Create(ctx context.Context, attempt domain.LinkingAttempt) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO linking_attempts (state, provider, user_id, instance_host, code_verifier, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		attempt.State, attempt.Provider, attempt.UserID,
		attempt.InstanceHost, attempt.CodeVerifier, attempt.ExpiresAt)
	if err != nil {
		return fmt.Errorf("create linking attempt: %w", err)
	}
	return nil
}

// Consume removes and returns the attempt for a state value in one
// statement, so a second callback with the same state finds nothing.
// Missing and expired attempts both fail with domain.ErrHandshakeExpired;
// expiry is checked at lookup time, no sweeper required.
func (r *AttemptRepository) Consume(ctx context.Context, state string) (*domain.LinkingAttempt, error) {
	var attempt domain.LinkingAttempt
	err := r.db.QueryRowxContext(ctx,
		`DELETE FROM linking_attempts WHERE state = $1
		 RETURNING state, provider, user_id, instance_host, code_verifier, created_at, expires_at`,
		state).StructScan(&attempt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrHandshakeExpired
		}
		return nil, fmt.Errorf("consume linking attempt: %w", err)
	}
	if attempt.Expired(r.now()) {
		return nil, domain.ErrHandshakeExpired
	}
	return &attempt, nil
}

// DeleteExpired sweeps attempts whose window has passed. Purely an
// optimization; Consume already rejects stale rows.
func (r *AttemptRepository) DeleteExpired(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM linking_attempts WHERE expires_at < NOW()`)
	if err != nil {
		return fmt.Errorf("delete expired attempts: %w", err)
	}
	return nil
}
