// Package provider implements the handshake, refresh, and identity
// mechanics of each linked service behind a single Adapter interface.
// Each OAuth variant (authorization-code, PKCE, MiAuth single-shot) lives
// in its own implementation; callers dispatch on the provider kind.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/sumire/nowplaying/internal/domain"
)

// BeginParams carries the caller-supplied inputs for starting a handshake.
type BeginParams struct {
	// UserID is the linking user, or uuid.Nil for the anchor login flow.
	UserID uuid.UUID
	// InstanceHost is the user-supplied Misskey host; ignored elsewhere.
	InstanceHost string
}

// Callback carries the parameters the provider sent back through the
// browser redirect.
type Callback struct {
	State string
	Code  string
}

// Adapter is the per-provider handshake and credential contract.
type Adapter interface {
	Kind() domain.Provider

	// BeginHandshake builds the authorization URL and the server-held
	// attempt state for one handshake.
	BeginHandshake(ctx context.Context, p BeginParams) (string, domain.LinkingAttempt, error)

	// CompleteHandshake validates the callback against the stored attempt
	// and exchanges the authorization artifact for a credential.
	CompleteHandshake(ctx context.Context, cb Callback, attempt domain.LinkingAttempt) (domain.Credential, error)

	// Refresh exchanges the stored refresh credential for a fresh one.
	// Variants without refresh credentials return the stored credential
	// unchanged. domain.ErrRefreshRevoked means the provider no longer
	// honors the refresh credential and the link must be deleted.
	Refresh(ctx context.Context, link *domain.ProviderLink) (domain.Credential, error)

	// Identify fetches the provider's account identity for a credential.
	Identify(ctx context.Context, cred domain.Credential, instanceHost string) (domain.Identity, error)
}

// refreshError converts an oauth2 token-endpoint failure into the domain
// taxonomy: a definitive rejection of the grant means the refresh
// credential is revoked, anything else is a transient provider failure.
func refreshError(provider domain.Provider, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		switch retrieveErr.Response.StatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%s: %w", provider, domain.ErrRefreshRevoked)
		}
	}
	return fmt.Errorf("%s refresh: %w", provider, domain.ErrProviderRejected)
}

// getJSON performs an authenticated GET and decodes the JSON body into out.
func getJSON(ctx context.Context, client *http.Client, url, accessToken string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &apiError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// apiError is an HTTP-level provider failure. It stays inside this
// package: adapters convert it to the domain taxonomy before returning.
type apiError struct {
	StatusCode int
	Body       string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("provider API error: status %d", e.StatusCode)
}

func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}
