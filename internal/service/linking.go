package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sumire/nowplaying/internal/domain"
	"github.com/sumire/nowplaying/internal/provider"
)

// AttemptStore defines the handshake attempt access interface. Consume
// must remove the attempt atomically so a state value completes at most
// once.
type AttemptStore interface {
	Create(ctx context.Context, attempt domain.LinkingAttempt) error
	Consume(ctx context.Context, state string) (*domain.LinkingAttempt, error)
	DeleteExpired(ctx context.Context) error
}

// LinkStore defines the provider link access interface.
type LinkStore interface {
	Find(ctx context.Context, userID uuid.UUID, kind domain.Provider) (*domain.ProviderLink, error)
	FindAll(ctx context.Context, userID uuid.UUID) ([]domain.ProviderLink, error)
	Upsert(ctx context.Context, link domain.ProviderLink) error
	Delete(ctx context.Context, userID uuid.UUID, kind domain.Provider) error
	UpdateCredential(ctx context.Context, userID uuid.UUID, kind domain.Provider, seenUpdatedAt time.Time, cred domain.Credential) error
}

// Orchestrator drives the linking lifecycle: it starts handshakes,
// completes callbacks, and removes links. It holds no handshake state of
// its own; everything lives in the AttemptStore keyed by the state value.
type Orchestrator struct {
	adapters map[domain.Provider]provider.Adapter
	attempts AttemptStore
	links    LinkStore
	users    UserStore
}

// NewOrchestrator creates a new Orchestrator over the given adapters.
func NewOrchestrator(adapters []provider.Adapter, attempts AttemptStore, links LinkStore, users UserStore) *Orchestrator {
	byKind := make(map[domain.Provider]provider.Adapter, len(adapters))
	for _, a := range adapters {
		byKind[a.Kind()] = a
	}
	return &Orchestrator{
		adapters: byKind,
		attempts: attempts,
		links:    links,
		users:    users,
	}
}

func (o *Orchestrator) adapter(kind domain.Provider) (provider.Adapter, error) {
	a, ok := o.adapters[kind]
	if !ok {
		return nil, fmt.Errorf("provider %q not configured: %w", kind, domain.ErrInvalidInput)
	}
	return a, nil
}

// StartLogin begins the unauthenticated Spotify handshake that anchors
// an account. The attempt carries no user; the callback creates one.
func (o *Orchestrator) StartLogin(ctx context.Context) (string, error) {
	adapter, err := o.adapter(domain.ProviderSpotify)
	if err != nil {
		return "", err
	}

	authURL, attempt, err := adapter.BeginHandshake(ctx, provider.BeginParams{})
	if err != nil {
		return "", fmt.Errorf("begin spotify login: %w", err)
	}
	if err := o.attempts.Create(ctx, attempt); err != nil {
		return "", fmt.Errorf("store login attempt: %w", err)
	}
	return authURL, nil
}

// StartLink begins a handshake that attaches a provider to an existing
// account. Spotify is the anchor identity: starting a Spotify link while
// one exists fails with ErrAlreadyLinked. Misskey and Twitter may be
// relinked freely; completion replaces the old row atomically.
func (o *Orchestrator) StartLink(ctx context.Context, userID uuid.UUID, kind domain.Provider, instanceHost string) (string, error) {
	adapter, err := o.adapter(kind)
	if err != nil {
		return "", err
	}

	if kind == domain.ProviderSpotify {
		_, err := o.links.Find(ctx, userID, kind)
		switch {
		case err == nil:
			return "", domain.ErrAlreadyLinked
		case !errors.Is(err, domain.ErrNotFound):
			return "", fmt.Errorf("check existing link: %w", err)
		}
	}

	authURL, attempt, err := adapter.BeginHandshake(ctx, provider.BeginParams{
		UserID:       userID,
		InstanceHost: instanceHost,
	})
	if err != nil {
		return "", fmt.Errorf("begin %s link: %w", kind, err)
	}
	if err := o.attempts.Create(ctx, attempt); err != nil {
		return "", fmt.Errorf("store link attempt: %w", err)
	}
	return authURL, nil
}

// CompleteLogin finishes the Spotify login handshake: it consumes the
// attempt, upserts the account keyed by the Spotify user id, and replaces
// the Spotify link. Returns the resolved user.
func (o *Orchestrator) CompleteLogin(ctx context.Context, cb provider.Callback) (*domain.User, error) {
	adapter, err := o.adapter(domain.ProviderSpotify)
	if err != nil {
		return nil, err
	}

	attempt, err := o.attempts.Consume(ctx, cb.State)
	if err != nil {
		return nil, err
	}
	if attempt.Provider != domain.ProviderSpotify {
		return nil, domain.ErrStateMismatch
	}

	cred, err := adapter.CompleteHandshake(ctx, cb, *attempt)
	if err != nil {
		return nil, err
	}
	identity, err := adapter.Identify(ctx, cred, "")
	if err != nil {
		return nil, err
	}

	user, err := o.users.Upsert(ctx, domain.User{
		SpotifyUserID: identity.ExternalID,
		DisplayName:   identity.Username,
		AvatarURL:     strPtr(identity.AvatarURL),
	})
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}

	if err := o.storeLink(ctx, user.ID, domain.ProviderSpotify, identity, cred, ""); err != nil {
		return nil, err
	}
	return user, nil
}

// CompleteLink finishes a Misskey or Twitter handshake for the user the
// attempt was started by. A state minted for a different provider, or an
// anonymous login attempt replayed here, fails with ErrStateMismatch.
func (o *Orchestrator) CompleteLink(ctx context.Context, kind domain.Provider, cb provider.Callback) error {
	adapter, err := o.adapter(kind)
	if err != nil {
		return err
	}

	attempt, err := o.attempts.Consume(ctx, cb.State)
	if err != nil {
		return err
	}
	if attempt.Provider != kind || attempt.UserID == uuid.Nil {
		return domain.ErrStateMismatch
	}

	cred, err := adapter.CompleteHandshake(ctx, cb, *attempt)
	if err != nil {
		return err
	}
	identity, err := adapter.Identify(ctx, cred, attempt.InstanceHost)
	if err != nil {
		return err
	}

	return o.storeLink(ctx, attempt.UserID, kind, identity, cred, attempt.InstanceHost)
}

// Unlink removes a provider link. Spotify anchors the account and cannot
// be unlinked; Misskey and Twitter removal also removes their stored
// credential in the same row.
func (o *Orchestrator) Unlink(ctx context.Context, userID uuid.UUID, kind domain.Provider) error {
	if kind == domain.ProviderSpotify {
		return domain.ErrAnchorProvider
	}
	if !kind.Valid() {
		return fmt.Errorf("unknown provider %q: %w", kind, domain.ErrInvalidInput)
	}
	return o.links.Delete(ctx, userID, kind)
}

// Links returns the user's current provider links with credentials
// stripped; callers that need a live credential go through the gate.
func (o *Orchestrator) Links(ctx context.Context, userID uuid.UUID) ([]domain.ProviderLink, error) {
	links, err := o.links.FindAll(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	for i := range links {
		links[i].AccessToken = ""
		links[i].RefreshToken = nil
	}
	return links, nil
}

// SweepExpiredAttempts removes attempts past their window. Consume
// already rejects stale states; this only bounds table growth.
func (o *Orchestrator) SweepExpiredAttempts(ctx context.Context) error {
	return o.attempts.DeleteExpired(ctx)
}

func (o *Orchestrator) storeLink(ctx context.Context, userID uuid.UUID, kind domain.Provider, identity domain.Identity, cred domain.Credential, instanceHost string) error {
	link := domain.ProviderLink{
		UserID:      userID,
		Provider:    kind,
		ExternalID:  identity.ExternalID,
		Username:    identity.Username,
		AvatarURL:   strPtr(identity.AvatarURL),
		AccessToken: cred.AccessToken,
	}
	if cred.RefreshToken != "" {
		link.RefreshToken = &cred.RefreshToken
	}
	if cred.Expiring() {
		link.ExpiresAt = &cred.ExpiresAt
	}
	if instanceHost != "" {
		link.InstanceHost = &instanceHost
	}

	if err := o.links.Upsert(ctx, link); err != nil {
		return fmt.Errorf("store %s link: %w", kind, err)
	}
	return nil
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
