package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/sumire/nowplaying/internal/crypto"
	"github.com/sumire/nowplaying/internal/domain"
)

const (
	twitterAuthURL  = "https://x.com/i/oauth2/authorize"
	twitterTokenURL = "https://api.twitter.com/2/oauth2/token"
	twitterAPIURL   = "https://api.twitter.com"
)

// Twitter implements Adapter over the OAuth2 authorization code flow with
// PKCE. The code verifier travels inside the linking attempt so callback
// handling stays stateless on the adapter side.
type Twitter struct {
	oauth      oauth2.Config
	client     *http.Client
	apiURL     string
	attemptTTL time.Duration
	now        func() time.Time
}

// TwitterOption configures a Twitter adapter.
type TwitterOption func(*Twitter)

// WithTwitterHTTPClient sets a custom HTTP client.
func WithTwitterHTTPClient(client *http.Client) TwitterOption {
	return func(t *Twitter) {
		t.client = client
	}
}

// WithTwitterEndpoints overrides the OAuth and API endpoints (tests).
func WithTwitterEndpoints(authURL, tokenURL, apiURL string) TwitterOption {
	return func(t *Twitter) {
		t.oauth.Endpoint.AuthURL = authURL
		t.oauth.Endpoint.TokenURL = tokenURL
		t.apiURL = apiURL
	}
}

// WithTwitterClock sets the time source (tests).
func WithTwitterClock(now func() time.Time) TwitterOption {
	return func(t *Twitter) {
		t.now = now
	}
}

// NewTwitter creates the Twitter adapter.
func NewTwitter(clientID, clientSecret, redirectURL string, attemptTTL time.Duration, opts ...TwitterOption) *Twitter {
	t := &Twitter{
		oauth: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"tweet.read", "tweet.write", "users.read", "offline.access"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   twitterAuthURL,
				TokenURL:  twitterTokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		client:     defaultHTTPClient(),
		apiURL:     twitterAPIURL,
		attemptTTL: attemptTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Twitter) Kind() domain.Provider { return domain.ProviderTwitter }

// BeginHandshake builds the authorization URL with an S256 code challenge
// and stashes the verifier in the attempt for the callback leg.
func (t *Twitter) BeginHandshake(_ context.Context, p BeginParams) (string, domain.LinkingAttempt, error) {
	state, err := crypto.RandomToken(16)
	if err != nil {
		return "", domain.LinkingAttempt{}, fmt.Errorf("generate state: %w", err)
	}
	verifier := oauth2.GenerateVerifier()

	now := t.now()
	attempt := domain.LinkingAttempt{
		State:        state,
		Provider:     domain.ProviderTwitter,
		UserID:       p.UserID,
		CodeVerifier: verifier,
		CreatedAt:    now,
		ExpiresAt:    now.Add(t.attemptTTL),
	}

	authURL := t.oauth.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.S256ChallengeOption(verifier),
	)
	return authURL, attempt, nil
}

// CompleteHandshake exchanges the authorization code, replaying the
// verifier captured at handshake start.
func (t *Twitter) CompleteHandshake(ctx context.Context, cb Callback, attempt domain.LinkingAttempt) (domain.Credential, error) {
	if cb.State == "" || cb.State != attempt.State {
		return domain.Credential{}, domain.ErrStateMismatch
	}
	if cb.Code == "" {
		return domain.Credential{}, fmt.Errorf("missing authorization code: %w", domain.ErrProviderRejected)
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, t.client)
	token, err := t.oauth.Exchange(ctx, cb.Code, oauth2.VerifierOption(attempt.CodeVerifier))
	if err != nil {
		return domain.Credential{}, fmt.Errorf("exchange code: %w", domain.ErrProviderRejected)
	}

	return domain.Credential{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}, nil
}

// Refresh trades the stored refresh token for a fresh pair. Twitter
// rotates refresh tokens, so the response always carries a new one.
func (t *Twitter) Refresh(ctx context.Context, link *domain.ProviderLink) (domain.Credential, error) {
	cred := link.Credential()
	if cred.RefreshToken == "" {
		return domain.Credential{}, fmt.Errorf("no refresh token: %w", domain.ErrRefreshRevoked)
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, t.client)
	source := t.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken})
	token, err := source.Token()
	if err != nil {
		return domain.Credential{}, refreshError(domain.ProviderTwitter, err)
	}

	next := domain.Credential{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}
	if next.RefreshToken == "" {
		next.RefreshToken = cred.RefreshToken
	}
	return next, nil
}

type twitterUser struct {
	Data struct {
		ID              string `json:"id"`
		Username        string `json:"username"`
		ProfileImageURL string `json:"profile_image_url"`
	} `json:"data"`
}

// Identify fetches the authenticated account.
func (t *Twitter) Identify(ctx context.Context, cred domain.Credential, _ string) (domain.Identity, error) {
	var user twitterUser
	endpoint := t.apiURL + "/2/users/me?user.fields=profile_image_url"
	if err := getJSON(ctx, t.client, endpoint, cred.AccessToken, &user); err != nil {
		return domain.Identity{}, fmt.Errorf("twitter account: %w", domain.ErrProviderRejected)
	}
	return domain.Identity{
		ExternalID: user.Data.ID,
		Username:   user.Data.Username,
		AvatarURL:  user.Data.ProfileImageURL,
	}, nil
}

// CreateTweet posts a tweet on behalf of the linked account.
func (t *Twitter) CreateTweet(ctx context.Context, cred domain.Credential, text string) error {
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("marshal tweet: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.apiURL+"/2/tweets", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tweet rejected (%d): %w", resp.StatusCode, domain.ErrProviderRejected)
	}
	return nil
}
