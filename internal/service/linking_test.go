package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sumire/nowplaying/internal/domain"
	"github.com/sumire/nowplaying/internal/provider"
)

func stubAdapter(kind domain.Provider) *fakeAdapter {
	return &fakeAdapter{
		kind: kind,
		begin: func(p provider.BeginParams) (string, domain.LinkingAttempt, error) {
			host := p.InstanceHost
			now := time.Now()
			return "https://auth.example/" + string(kind), domain.LinkingAttempt{
				State:        string(kind) + "-state",
				Provider:     kind,
				UserID:       p.UserID,
				InstanceHost: host,
				CreatedAt:    now,
				ExpiresAt:    now.Add(10 * time.Minute),
			}, nil
		},
		complete: func(cb provider.Callback, attempt domain.LinkingAttempt) (domain.Credential, error) {
			if cb.State != attempt.State {
				return domain.Credential{}, domain.ErrStateMismatch
			}
			return domain.Credential{AccessToken: string(kind) + "-access"}, nil
		},
		identify: func(cred domain.Credential, instanceHost string) (domain.Identity, error) {
			return domain.Identity{ExternalID: string(kind) + "-ext", Username: string(kind) + "-user"}, nil
		},
	}
}

func newTestOrchestrator() (*Orchestrator, *fakeAttemptStore, *fakeLinkStore, *fakeUserStore) {
	attempts := newFakeAttemptStore()
	links := newFakeLinkStore()
	users := newFakeUserStore()
	adapters := []provider.Adapter{
		stubAdapter(domain.ProviderSpotify),
		stubAdapter(domain.ProviderMisskey),
		stubAdapter(domain.ProviderTwitter),
	}
	return NewOrchestrator(adapters, attempts, links, users), attempts, links, users
}

func TestLoginRoundTripCreatesUserAndLink(t *testing.T) {
	ctx := context.Background()
	o, _, links, _ := newTestOrchestrator()

	authURL, err := o.StartLogin(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://auth.example/spotify", authURL)

	user, err := o.CompleteLogin(ctx, provider.Callback{State: "spotify-state", Code: "c"})
	require.NoError(t, err)
	assert.Equal(t, "spotify-ext", user.SpotifyUserID)
	assert.NotEqual(t, uuid.Nil, user.ID)
	assert.NotEqual(t, uuid.Nil, user.URLToken)

	link, err := links.Find(ctx, user.ID, domain.ProviderSpotify)
	require.NoError(t, err)
	assert.Equal(t, "spotify-access", link.AccessToken)
}

func TestLoginIsIdempotentPerSpotifyAccount(t *testing.T) {
	ctx := context.Background()
	o, _, _, _ := newTestOrchestrator()

	_, err := o.StartLogin(ctx)
	require.NoError(t, err)
	first, err := o.CompleteLogin(ctx, provider.Callback{State: "spotify-state", Code: "c"})
	require.NoError(t, err)

	_, err = o.StartLogin(ctx)
	require.NoError(t, err)
	second, err := o.CompleteLogin(ctx, provider.Callback{State: "spotify-state", Code: "c"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
}

func TestAttemptConsumedExactlyOnce(t *testing.T) {
	ctx := context.Background()
	o, _, _, _ := newTestOrchestrator()

	_, err := o.StartLogin(ctx)
	require.NoError(t, err)

	_, err = o.CompleteLogin(ctx, provider.Callback{State: "spotify-state", Code: "c"})
	require.NoError(t, err)

	// Replaying the same state finds no attempt.
	_, err = o.CompleteLogin(ctx, provider.Callback{State: "spotify-state", Code: "c"})
	assert.ErrorIs(t, err, domain.ErrHandshakeExpired)
}

func TestAttemptExpiresAtLookup(t *testing.T) {
	ctx := context.Background()
	o, attempts, _, _ := newTestOrchestrator()

	_, err := o.StartLogin(ctx)
	require.NoError(t, err)

	attempts.now = func() time.Time { return time.Now().Add(11 * time.Minute) }

	_, err = o.CompleteLogin(ctx, provider.Callback{State: "spotify-state", Code: "c"})
	assert.ErrorIs(t, err, domain.ErrHandshakeExpired)
}

func TestCompleteLinkWrongProviderState(t *testing.T) {
	ctx := context.Background()
	o, _, _, users := newTestOrchestrator()
	user, err := users.Upsert(ctx, domain.User{SpotifyUserID: "sp"})
	require.NoError(t, err)

	_, err = o.StartLink(ctx, user.ID, domain.ProviderMisskey, "misskey.io")
	require.NoError(t, err)

	// A Misskey state presented on the Twitter callback is rejected, and
	// the attempt is gone afterwards.
	err = o.CompleteLink(ctx, domain.ProviderTwitter, provider.Callback{State: "misskey-state"})
	assert.ErrorIs(t, err, domain.ErrStateMismatch)

	err = o.CompleteLink(ctx, domain.ProviderMisskey, provider.Callback{State: "misskey-state"})
	assert.ErrorIs(t, err, domain.ErrHandshakeExpired)
}

func TestCompleteLinkRejectsAnonymousAttempt(t *testing.T) {
	ctx := context.Background()
	o, attempts, _, _ := newTestOrchestrator()

	// A login attempt (no user) replayed against the link callback.
	now := time.Now()
	require.NoError(t, attempts.Create(ctx, domain.LinkingAttempt{
		State:     "tw-anon",
		Provider:  domain.ProviderTwitter,
		UserID:    uuid.Nil,
		CreatedAt: now,
		ExpiresAt: now.Add(10 * time.Minute),
	}))

	err := o.CompleteLink(ctx, domain.ProviderTwitter, provider.Callback{State: "tw-anon"})
	assert.ErrorIs(t, err, domain.ErrStateMismatch)
}

func TestRelinkReplacesRowAtomically(t *testing.T) {
	ctx := context.Background()
	o, _, links, users := newTestOrchestrator()
	user, err := users.Upsert(ctx, domain.User{SpotifyUserID: "sp"})
	require.NoError(t, err)

	_, err = o.StartLink(ctx, user.ID, domain.ProviderMisskey, "misskey.io")
	require.NoError(t, err)
	require.NoError(t, o.CompleteLink(ctx, domain.ProviderMisskey, provider.Callback{State: "misskey-state"}))

	_, err = o.StartLink(ctx, user.ID, domain.ProviderMisskey, "mi.example.social")
	require.NoError(t, err)
	require.NoError(t, o.CompleteLink(ctx, domain.ProviderMisskey, provider.Callback{State: "misskey-state"}))

	all, err := links.FindAll(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "mi.example.social", all[0].Host())
}

func TestSpotifyRelinkWhileLinked(t *testing.T) {
	ctx := context.Background()
	o, _, _, _ := newTestOrchestrator()

	_, err := o.StartLogin(ctx)
	require.NoError(t, err)
	user, err := o.CompleteLogin(ctx, provider.Callback{State: "spotify-state", Code: "c"})
	require.NoError(t, err)

	_, err = o.StartLink(ctx, user.ID, domain.ProviderSpotify, "")
	assert.ErrorIs(t, err, domain.ErrAlreadyLinked)
}

func TestUnlinkAnchorForbidden(t *testing.T) {
	ctx := context.Background()
	o, _, _, users := newTestOrchestrator()
	user, err := users.Upsert(ctx, domain.User{SpotifyUserID: "sp"})
	require.NoError(t, err)

	err = o.Unlink(ctx, user.ID, domain.ProviderSpotify)
	assert.ErrorIs(t, err, domain.ErrAnchorProvider)
}

func TestUnlinkRemovesRow(t *testing.T) {
	ctx := context.Background()
	o, _, links, users := newTestOrchestrator()
	user, err := users.Upsert(ctx, domain.User{SpotifyUserID: "sp"})
	require.NoError(t, err)

	_, err = o.StartLink(ctx, user.ID, domain.ProviderMisskey, "misskey.io")
	require.NoError(t, err)
	require.NoError(t, o.CompleteLink(ctx, domain.ProviderMisskey, provider.Callback{State: "misskey-state"}))

	require.NoError(t, o.Unlink(ctx, user.ID, domain.ProviderMisskey))

	_, err = links.Find(ctx, user.ID, domain.ProviderMisskey)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = o.Unlink(ctx, user.ID, domain.ProviderMisskey)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLinksStripCredentials(t *testing.T) {
	ctx := context.Background()
	o, _, _, users := newTestOrchestrator()
	user, err := users.Upsert(ctx, domain.User{SpotifyUserID: "sp"})
	require.NoError(t, err)

	_, err = o.StartLink(ctx, user.ID, domain.ProviderMisskey, "misskey.io")
	require.NoError(t, err)
	require.NoError(t, o.CompleteLink(ctx, domain.ProviderMisskey, provider.Callback{State: "misskey-state"}))

	links, err := o.Links(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Empty(t, links[0].AccessToken)
	assert.Nil(t, links[0].RefreshToken)
	assert.Equal(t, "misskey-user", links[0].Username)
}
