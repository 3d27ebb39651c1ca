package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sumire/nowplaying/internal/domain"
)

const miauthPermission = "write:notes,read:account"

// Misskey implements Adapter over MiAuth: the instance mints a single-shot
// session token with no refresh credential and no expiry. Refresh is a
// no-op that hands back the stored credential.
type Misskey struct {
	appName     string
	callbackURL string
	client      *http.Client
	scheme      string
	attemptTTL  time.Duration
	now         func() time.Time
}

// MisskeyOption configures a Misskey adapter.
type MisskeyOption func(*Misskey)

// WithMisskeyHTTPClient sets a custom HTTP client.
func WithMisskeyHTTPClient(client *http.Client) MisskeyOption {
	return func(m *Misskey) {
		m.client = client
	}
}

// WithMisskeyScheme overrides the instance URL scheme (tests).
func WithMisskeyScheme(scheme string) MisskeyOption {
	return func(m *Misskey) {
		m.scheme = scheme
	}
}

// WithMisskeyClock sets the time source (tests).
func WithMisskeyClock(now func() time.Time) MisskeyOption {
	return func(m *Misskey) {
		m.now = now
	}
}

// NewMisskey creates the Misskey adapter. appName is shown on the
// instance's consent screen; callbackURL receives the redirect.
func NewMisskey(appName, callbackURL string, attemptTTL time.Duration, opts ...MisskeyOption) *Misskey {
	m := &Misskey{
		appName:     appName,
		callbackURL: callbackURL,
		client:      defaultHTTPClient(),
		scheme:      "https",
		attemptTTL:  attemptTTL,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Misskey) Kind() domain.Provider { return domain.ProviderMisskey }

// NormalizeInstanceHost reduces user input like "https://misskey.io/" to a
// bare lowercase host and rejects anything that does not parse as one.
func NormalizeInstanceHost(raw string) (string, error) {
	host := strings.ToLower(strings.TrimSpace(raw))
	host = strings.TrimPrefix(host, "https://")
	host = strings.TrimPrefix(host, "http://")
	host = strings.TrimSuffix(host, "/")
	if host == "" {
		return "", fmt.Errorf("empty host: %w", domain.ErrInvalidInstance)
	}

	parsed, err := url.Parse("https://" + host)
	if err != nil {
		return "", fmt.Errorf("parse host %q: %w", raw, domain.ErrInvalidInstance)
	}
	if parsed.Host != host || parsed.Path != "" || parsed.RawQuery != "" || parsed.Fragment != "" {
		return "", fmt.Errorf("host %q is not a bare hostname: %w", raw, domain.ErrInvalidInstance)
	}
	if !strings.Contains(parsed.Hostname(), ".") {
		return "", fmt.Errorf("host %q has no domain: %w", raw, domain.ErrInvalidInstance)
	}
	return host, nil
}

// BeginHandshake validates the instance host and builds the MiAuth URL.
// The MiAuth session id doubles as the attempt state.
func (m *Misskey) BeginHandshake(_ context.Context, p BeginParams) (string, domain.LinkingAttempt, error) {
	host, err := NormalizeInstanceHost(p.InstanceHost)
	if err != nil {
		return "", domain.LinkingAttempt{}, err
	}

	session := uuid.NewString()
	now := m.now()
	attempt := domain.LinkingAttempt{
		State:        session,
		Provider:     domain.ProviderMisskey,
		UserID:       p.UserID,
		InstanceHost: host,
		CreatedAt:    now,
		ExpiresAt:    now.Add(m.attemptTTL),
	}

	authURL := fmt.Sprintf("%s://%s/miauth/%s?name=%s&callback=%s&permission=%s",
		m.scheme, host, session,
		url.QueryEscape(m.appName),
		url.QueryEscape(m.callbackURL),
		url.QueryEscape(miauthPermission),
	)
	return authURL, attempt, nil
}

type miauthCheckResponse struct {
	OK    bool   `json:"ok"`
	Token string `json:"token"`
}

// CompleteHandshake asks the instance whether the session was approved
// and collects the minted token.
func (m *Misskey) CompleteHandshake(ctx context.Context, cb Callback, attempt domain.LinkingAttempt) (domain.Credential, error) {
	if cb.State == "" || cb.State != attempt.State {
		return domain.Credential{}, domain.ErrStateMismatch
	}

	checkURL := fmt.Sprintf("%s://%s/api/miauth/%s/check", m.scheme, attempt.InstanceHost, attempt.State)
	var check miauthCheckResponse
	if err := m.postJSON(ctx, checkURL, map[string]string{}, &check); err != nil {
		return domain.Credential{}, fmt.Errorf("miauth check: %w", domain.ErrProviderRejected)
	}
	if !check.OK || check.Token == "" {
		return domain.Credential{}, fmt.Errorf("miauth session not approved: %w", domain.ErrProviderRejected)
	}

	// Single-shot token: no refresh credential, no expiry.
	return domain.Credential{AccessToken: check.Token}, nil
}

// Refresh returns the stored credential unchanged; MiAuth tokens do not
// expire and cannot be refreshed.
func (m *Misskey) Refresh(_ context.Context, link *domain.ProviderLink) (domain.Credential, error) {
	return link.Credential(), nil
}

type misskeyAccount struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatarUrl"`
}

// Identify fetches the instance account via the /api/i endpoint, which
// authenticates through the request body rather than a header.
func (m *Misskey) Identify(ctx context.Context, cred domain.Credential, instanceHost string) (domain.Identity, error) {
	endpoint := fmt.Sprintf("%s://%s/api/i", m.scheme, instanceHost)
	var account misskeyAccount
	if err := m.postJSON(ctx, endpoint, map[string]string{"i": cred.AccessToken}, &account); err != nil {
		return domain.Identity{}, fmt.Errorf("misskey account: %w", domain.ErrProviderRejected)
	}
	return domain.Identity{
		ExternalID: account.ID,
		Username:   account.Username,
		AvatarURL:  account.AvatarURL,
	}, nil
}

// CreateNote posts a public note to the user's instance.
func (m *Misskey) CreateNote(ctx context.Context, instanceHost string, cred domain.Credential, text string) error {
	endpoint := fmt.Sprintf("%s://%s/api/notes/create", m.scheme, instanceHost)
	body := map[string]string{
		"i":          cred.AccessToken,
		"text":       text,
		"visibility": "public",
	}
	if err := m.postJSON(ctx, endpoint, body, &json.RawMessage{}); err != nil {
		return fmt.Errorf("misskey note: %w", domain.ErrProviderRejected)
	}
	return nil
}

func (m *Misskey) postJSON(ctx context.Context, url string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &apiError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
