package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sumire/nowplaying/internal/domain"
	"github.com/sumire/nowplaying/internal/provider"
)

type fakePlayer struct {
	playing *provider.NowPlaying
	err     error
}

func (f *fakePlayer) CurrentlyPlaying(context.Context, domain.Credential) (*provider.NowPlaying, error) {
	return f.playing, f.err
}

type fakeNotePoster struct {
	notes []string
	hosts []string
	err   error
}

func (f *fakeNotePoster) CreateNote(_ context.Context, host string, _ domain.Credential, text string) error {
	if f.err != nil {
		return f.err
	}
	f.hosts = append(f.hosts, host)
	f.notes = append(f.notes, text)
	return nil
}

type fakeTweetPoster struct {
	tweets []string
	err    error
}

func (f *fakeTweetPoster) CreateTweet(_ context.Context, _ domain.Credential, text string) error {
	if f.err != nil {
		return f.err
	}
	f.tweets = append(f.tweets, text)
	return nil
}

type shareFixture struct {
	share   *Share
	links   *fakeLinkStore
	player  *fakePlayer
	misskey *fakeNotePoster
	twitter *fakeTweetPoster
	userID  uuid.UUID
}

func newShareFixture(t *testing.T, policy TwitterPolicy) *shareFixture {
	t.Helper()
	links := newFakeLinkStore()
	gate := newTestGate(links, policy)

	f := &shareFixture{
		links:   links,
		player:  &fakePlayer{},
		misskey: &fakeNotePoster{},
		twitter: &fakeTweetPoster{},
		userID:  uuid.New(),
	}
	f.share = NewShare(gate, links, f.player, f.misskey, f.twitter, discardLogger())

	seedLink(t, links, f.userID, domain.ProviderSpotify, domain.Credential{
		AccessToken: "sp-access",
		ExpiresAt:   time.Now().Add(time.Hour),
	}, "")
	return f
}

func trackPlaying() *provider.NowPlaying {
	return &provider.NowPlaying{
		Title:  "Song",
		Artist: "Artist",
		URL:    "https://open.spotify.com/track/1",
	}
}

func TestSharePostBothTargets(t *testing.T) {
	policy := TwitterPolicy{Enabled: true, CredsConfigured: true}
	f := newShareFixture(t, policy)
	f.player.playing = trackPlaying()

	seedLink(t, f.links, f.userID, domain.ProviderMisskey, domain.Credential{AccessToken: "m"}, "misskey.io")
	seedLink(t, f.links, f.userID, domain.ProviderTwitter, domain.Credential{AccessToken: "tw"}, "")

	result, err := f.share.Post(context.Background(), f.userID, ShareTargetBoth)
	require.NoError(t, err)

	assert.True(t, result.Posted)
	assert.Equal(t, "success", result.Results["misskey"])
	assert.Equal(t, "success", result.Results["twitter"])

	wantText := "Song / Artist\n#NowPlaying #PsrPlaying\nhttps://open.spotify.com/track/1"
	assert.Equal(t, wantText, result.Message)
	require.Len(t, f.misskey.notes, 1)
	assert.Equal(t, wantText, f.misskey.notes[0])
	assert.Equal(t, []string{"misskey.io"}, f.misskey.hosts)
	require.Len(t, f.twitter.tweets, 1)
	assert.Equal(t, wantText, f.twitter.tweets[0])
}

func TestShareEpisodeTextOmitsTag(t *testing.T) {
	f := newShareFixture(t, TwitterPolicy{})
	f.player.playing = &provider.NowPlaying{
		Title:   "Ep 12",
		Artist:  "Some Show",
		URL:     "https://open.spotify.com/episode/1",
		Episode: true,
	}
	seedLink(t, f.links, f.userID, domain.ProviderMisskey, domain.Credential{AccessToken: "m"}, "misskey.io")

	result, err := f.share.Post(context.Background(), f.userID, ShareTargetMisskey)
	require.NoError(t, err)
	assert.Equal(t, "Ep 12 / Some Show\n#NowPlaying\nhttps://open.spotify.com/episode/1", result.Message)
}

func TestShareNothingPlaying(t *testing.T) {
	f := newShareFixture(t, TwitterPolicy{})

	result, err := f.share.Post(context.Background(), f.userID, ShareTargetBoth)
	require.NoError(t, err)
	assert.False(t, result.Posted)
	assert.Equal(t, "nothing is playing", result.Message)
	assert.Empty(t, f.misskey.notes)
	assert.Empty(t, f.twitter.tweets)
}

func TestShareSpotifyNotConnected(t *testing.T) {
	links := newFakeLinkStore()
	gate := newTestGate(links, TwitterPolicy{})
	share := NewShare(gate, links, &fakePlayer{}, &fakeNotePoster{}, &fakeTweetPoster{}, discardLogger())

	_, err := share.Post(context.Background(), uuid.New(), ShareTargetBoth)
	assert.ErrorIs(t, err, domain.ErrNotConnected)
}

func TestShareSingleTarget(t *testing.T) {
	f := newShareFixture(t, TwitterPolicy{Enabled: true, CredsConfigured: true})
	f.player.playing = trackPlaying()

	seedLink(t, f.links, f.userID, domain.ProviderMisskey, domain.Credential{AccessToken: "m"}, "misskey.io")
	seedLink(t, f.links, f.userID, domain.ProviderTwitter, domain.Credential{AccessToken: "tw"}, "")

	result, err := f.share.Post(context.Background(), f.userID, ShareTargetMisskey)
	require.NoError(t, err)

	assert.True(t, result.Posted)
	assert.Contains(t, result.Results, "misskey")
	assert.NotContains(t, result.Results, "twitter")
	assert.Empty(t, f.twitter.tweets)
}

func TestShareOneTargetFailingDoesNotBlockOther(t *testing.T) {
	f := newShareFixture(t, TwitterPolicy{Enabled: true, CredsConfigured: true})
	f.player.playing = trackPlaying()
	f.misskey.err = errors.New("instance down")

	seedLink(t, f.links, f.userID, domain.ProviderMisskey, domain.Credential{AccessToken: "m"}, "misskey.io")
	seedLink(t, f.links, f.userID, domain.ProviderTwitter, domain.Credential{AccessToken: "tw"}, "")

	result, err := f.share.Post(context.Background(), f.userID, ShareTargetBoth)
	require.NoError(t, err)

	assert.True(t, result.Posted)
	assert.Equal(t, "error: internal failure", result.Results["misskey"])
	assert.Equal(t, "success", result.Results["twitter"])
	assert.Len(t, f.twitter.tweets, 1)
}

func TestShareResultHidesProviderErrorDetail(t *testing.T) {
	f := newShareFixture(t, TwitterPolicy{Enabled: true, CredsConfigured: true})
	f.player.playing = trackPlaying()
	f.misskey.err = fmt.Errorf("note rejected (400 CREDENTIAL_REQUIRED token=abc123): %w", domain.ErrProviderRejected)

	seedLink(t, f.links, f.userID, domain.ProviderMisskey, domain.Credential{AccessToken: "m"}, "misskey.io")

	result, err := f.share.Post(context.Background(), f.userID, ShareTargetMisskey)
	require.NoError(t, err)

	assert.False(t, result.Posted)
	assert.Equal(t, "error: provider rejected the post", result.Results["misskey"])
	assert.NotContains(t, result.Results["misskey"], "abc123")
}

func TestShareHonorsEligibility(t *testing.T) {
	policy := TwitterPolicy{Enabled: true, CredsConfigured: true, RequireMisskey: true}
	f := newShareFixture(t, policy)
	f.player.playing = trackPlaying()

	// Twitter linked but Misskey missing: policy blocks the tweet.
	seedLink(t, f.links, f.userID, domain.ProviderTwitter, domain.Credential{AccessToken: "tw"}, "")

	result, err := f.share.Post(context.Background(), f.userID, ShareTargetTwitter)
	require.NoError(t, err)

	assert.False(t, result.Posted)
	assert.Equal(t, "misskey connection required for twitter", result.Results["twitter"])
	assert.Empty(t, f.twitter.tweets)
}

func TestParseShareTarget(t *testing.T) {
	assert.Equal(t, ShareTargetMisskey, ParseShareTarget("misskey"))
	assert.Equal(t, ShareTargetTwitter, ParseShareTarget("Twitter"))
	assert.Equal(t, ShareTargetBoth, ParseShareTarget(""))
	assert.Equal(t, ShareTargetBoth, ParseShareTarget("everything"))
}
