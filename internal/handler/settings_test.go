package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sumire/nowplaying/internal/domain"
	"github.com/sumire/nowplaying/internal/service"
)

func performAuthed(t *testing.T, user *domain.User, fn echo.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	c := e.NewContext(req, rec)
	c.Set(contextKeyUser, user)
	require.NoError(t, fn(c))
	return rec
}

func TestGetAppConfigEligibility(t *testing.T) {
	user := testUser()
	host := "misskey.io"
	links := &stubLinkStore{links: map[domain.Provider]*domain.ProviderLink{
		domain.ProviderTwitter: {
			UserID: user.ID, Provider: domain.ProviderTwitter, AccessToken: "tw",
		},
	}}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	policy := service.TwitterPolicy{Enabled: true, CredsConfigured: true, RequireMisskey: true}
	gate := service.NewGate(nil, links, policy, logger)
	h := NewSettingsHandler(nil, gate, nil, "https://app.example.com")

	decode := func(rec *httptest.ResponseRecorder) AppConfigResponse {
		var body struct {
			Data AppConfigResponse `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		return body.Data
	}

	// Twitter linked but Misskey missing: available, not yet eligible.
	rec := performAuthed(t, user, h.GetAppConfig)
	require.Equal(t, http.StatusOK, rec.Code)
	cfg := decode(rec)
	assert.True(t, cfg.TwitterAvailable)
	assert.False(t, cfg.TwitterEligibility.Eligible)
	assert.Equal(t, "misskey connection required for twitter", cfg.TwitterEligibility.Reason)

	// Linking Misskey flips eligibility on the next call.
	links.links[domain.ProviderMisskey] = &domain.ProviderLink{
		UserID: user.ID, Provider: domain.ProviderMisskey, AccessToken: "mi", InstanceHost: &host,
	}
	cfg = decode(performAuthed(t, user, h.GetAppConfig))
	assert.True(t, cfg.TwitterAvailable)
	assert.True(t, cfg.TwitterEligibility.Eligible)
	assert.Empty(t, cfg.TwitterEligibility.Reason)
}

func TestGetAppConfigTwitterDisabled(t *testing.T) {
	user := testUser()
	links := &stubLinkStore{links: map[domain.Provider]*domain.ProviderLink{}}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gate := service.NewGate(nil, links, service.TwitterPolicy{}, logger)
	h := NewSettingsHandler(nil, gate, nil, "https://app.example.com")

	rec := performAuthed(t, user, h.GetAppConfig)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data AppConfigResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Data.TwitterAvailable)
	assert.False(t, body.Data.TwitterEligibility.Eligible)
	assert.Equal(t, "twitter posting is disabled", body.Data.TwitterEligibility.Reason)
}
