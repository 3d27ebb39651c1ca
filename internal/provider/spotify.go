package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	spotifyauth "golang.org/x/oauth2/spotify"

	"github.com/sumire/nowplaying/internal/crypto"
	"github.com/sumire/nowplaying/internal/domain"
)

const spotifyAPIBaseURL = "https://api.spotify.com"

var spotifyScopes = []string{"user-read-currently-playing", "user-read-playback-state"}

// Spotify implements Adapter with the standard authorization-code flow.
// Spotify anchors the user account, so its handshake doubles as login.
type Spotify struct {
	oauth      *oauth2.Config
	client     *http.Client
	apiBaseURL string
	attemptTTL time.Duration
	now        func() time.Time
}

// SpotifyOption configures a Spotify adapter.
type SpotifyOption func(*Spotify)

// WithSpotifyHTTPClient sets a custom HTTP client.
func WithSpotifyHTTPClient(client *http.Client) SpotifyOption {
	return func(s *Spotify) {
		s.client = client
	}
}

// WithSpotifyEndpoints overrides the OAuth and API endpoints (tests).
func WithSpotifyEndpoints(authURL, tokenURL, apiBaseURL string) SpotifyOption {
	return func(s *Spotify) {
		s.oauth.Endpoint = oauth2.Endpoint{AuthURL: authURL, TokenURL: tokenURL}
		s.apiBaseURL = apiBaseURL
	}
}

// WithSpotifyClock sets the time source (tests).
func WithSpotifyClock(now func() time.Time) SpotifyOption {
	return func(s *Spotify) {
		s.now = now
	}
}

// NewSpotify creates the Spotify adapter. redirectURL is the absolute
// callback URL registered with the Spotify application.
func NewSpotify(clientID, clientSecret, redirectURL string, attemptTTL time.Duration, opts ...SpotifyOption) *Spotify {
	s := &Spotify{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       spotifyScopes,
			Endpoint:     spotifyauth.Endpoint,
		},
		client:     defaultHTTPClient(),
		apiBaseURL: spotifyAPIBaseURL,
		attemptTTL: attemptTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Spotify) Kind() domain.Provider { return domain.ProviderSpotify }

// BeginHandshake builds the consent URL with a fresh CSRF state.
func (s *Spotify) BeginHandshake(_ context.Context, p BeginParams) (string, domain.LinkingAttempt, error) {
	state, err := crypto.RandomToken(16)
	if err != nil {
		return "", domain.LinkingAttempt{}, fmt.Errorf("generate state: %w", err)
	}

	now := s.now()
	attempt := domain.LinkingAttempt{
		State:     state,
		Provider:  domain.ProviderSpotify,
		UserID:    p.UserID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.attemptTTL),
	}
	return s.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline), attempt, nil
}

// CompleteHandshake exchanges the authorization code for tokens.
func (s *Spotify) CompleteHandshake(ctx context.Context, cb Callback, attempt domain.LinkingAttempt) (domain.Credential, error) {
	if cb.State == "" || cb.State != attempt.State {
		return domain.Credential{}, domain.ErrStateMismatch
	}
	if cb.Code == "" {
		return domain.Credential{}, fmt.Errorf("missing code: %w", domain.ErrProviderRejected)
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.client)
	tok, err := s.oauth.Exchange(ctx, cb.Code)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("spotify exchange: %w", domain.ErrProviderRejected)
	}

	return domain.Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}, nil
}

// Refresh exchanges the stored refresh token for a new access token.
// Spotify keeps the refresh token stable, so the returned credential
// carries the old one when the response omits it.
func (s *Spotify) Refresh(ctx context.Context, link *domain.ProviderLink) (domain.Credential, error) {
	if link.RefreshToken == nil || *link.RefreshToken == "" {
		return domain.Credential{}, fmt.Errorf("spotify link has no refresh token: %w", domain.ErrRefreshRevoked)
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.client)
	tok, err := s.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: *link.RefreshToken}).Token()
	if err != nil {
		return domain.Credential{}, refreshError(domain.ProviderSpotify, err)
	}

	cred := domain.Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
	if cred.RefreshToken == "" {
		cred.RefreshToken = *link.RefreshToken
	}
	return cred, nil
}

type spotifyImage struct {
	URL string `json:"url"`
}

type spotifyProfile struct {
	ID          string         `json:"id"`
	DisplayName string         `json:"display_name"`
	Images      []spotifyImage `json:"images"`
}

// Identify fetches the Spotify account profile.
func (s *Spotify) Identify(ctx context.Context, cred domain.Credential, _ string) (domain.Identity, error) {
	var profile spotifyProfile
	if err := getJSON(ctx, s.client, s.apiBaseURL+"/v1/me", cred.AccessToken, &profile); err != nil {
		return domain.Identity{}, fmt.Errorf("spotify profile: %w", domain.ErrProviderRejected)
	}

	identity := domain.Identity{
		ExternalID: profile.ID,
		Username:   profile.DisplayName,
	}
	if len(profile.Images) > 0 {
		identity.AvatarURL = profile.Images[0].URL
	}
	return identity, nil
}

// NowPlaying describes the currently playing item, already reduced to
// what the share text needs.
type NowPlaying struct {
	Title   string
	Artist  string
	URL     string
	Episode bool
}

type spotifyPlayer struct {
	CurrentlyPlayingType string `json:"currently_playing_type"`
	Item                 struct {
		Name    string `json:"name"`
		Artists []struct {
			Name string `json:"name"`
		} `json:"artists"`
		Show struct {
			Name string `json:"name"`
		} `json:"show"`
		ExternalUrls struct {
			Spotify string `json:"spotify"`
		} `json:"external_urls"`
	} `json:"item"`
}

// CurrentlyPlaying fetches the player state. Returns (nil, nil) when
// nothing shareable is playing.
func (s *Spotify) CurrentlyPlaying(ctx context.Context, cred domain.Credential) (*NowPlaying, error) {
	var player spotifyPlayer
	err := getJSON(ctx, s.client, s.apiBaseURL+"/v1/me/player", cred.AccessToken, &player)
	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNoContent {
			return nil, nil
		}
		return nil, fmt.Errorf("spotify player: %w", domain.ErrProviderRejected)
	}

	switch player.CurrentlyPlayingType {
	case "track":
		artists := make([]string, 0, len(player.Item.Artists))
		for _, a := range player.Item.Artists {
			artists = append(artists, a.Name)
		}
		return &NowPlaying{
			Title:  player.Item.Name,
			Artist: strings.Join(artists, ", "),
			URL:    player.Item.ExternalUrls.Spotify,
		}, nil
	case "episode":
		return &NowPlaying{
			Title:   player.Item.Name,
			Artist:  player.Item.Show.Name,
			URL:     player.Item.ExternalUrls.Spotify,
			Episode: true,
		}, nil
	}
	return nil, nil
}
