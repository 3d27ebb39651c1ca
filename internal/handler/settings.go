package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sumire/nowplaying/internal/domain"
	"github.com/sumire/nowplaying/internal/service"
)

// SettingsHandler serves the dashboard's account and token endpoints.
type SettingsHandler struct {
	linking  *service.Orchestrator
	gate     *service.Gate
	settings *service.Settings
	baseURL  string
}

// NewSettingsHandler creates a new SettingsHandler.
func NewSettingsHandler(linking *service.Orchestrator, gate *service.Gate, settings *service.Settings, baseURL string) *SettingsHandler {
	return &SettingsHandler{
		linking:  linking,
		gate:     gate,
		settings: settings,
		baseURL:  baseURL,
	}
}

// Connection describes one provider link without its credential.
type Connection struct {
	Connected    bool    `json:"connected"`
	Username     string  `json:"username,omitempty"`
	AvatarURL    *string `json:"avatar_url,omitempty"`
	InstanceHost string  `json:"instance_host,omitempty"`
}

// UserInfoResponse is the /api/me payload.
type UserInfoResponse struct {
	User               *domain.User                            `json:"user"`
	Connections        map[domain.Provider]Connection          `json:"connections"`
	Eligibility        map[domain.Provider]domain.Eligibility  `json:"eligibility"`
	PostURL            string                                  `json:"post_url"`
	HeaderTokenEnabled bool                                    `json:"header_token_enabled"`
}

// Me returns the signed-in user with link and eligibility state.
// Connection state is derived from the stored links on every call.
// GET /api/me
func (h *SettingsHandler) Me(c echo.Context) error {
	user, ok := GetUser(c)
	if !ok {
		return domain.ErrUnauthenticated
	}
	ctx := c.Request().Context()

	links, err := h.linking.Links(ctx, user.ID)
	if err != nil {
		return err
	}
	eligibility, err := h.gate.Eligibility(ctx, user.ID)
	if err != nil {
		return err
	}

	connections := map[domain.Provider]Connection{
		domain.ProviderSpotify: {},
		domain.ProviderMisskey: {},
		domain.ProviderTwitter: {},
	}
	for _, link := range links {
		connections[link.Provider] = Connection{
			Connected:    true,
			Username:     link.Username,
			AvatarURL:    link.AvatarURL,
			InstanceHost: link.Host(),
		}
	}

	return JSON(c, http.StatusOK, UserInfoResponse{
		User:               user,
		Connections:        connections,
		Eligibility:        eligibility,
		PostURL:            h.baseURL + "/api/post/" + user.URLToken.String(),
		HeaderTokenEnabled: user.HeaderTokenEnabled,
	})
}

// AppConfigResponse is the /api/config payload.
type AppConfigResponse struct {
	TwitterAvailable   bool               `json:"twitter_available"`
	TwitterEligibility domain.Eligibility `json:"twitter_eligibility"`
}

// GetAppConfig returns the Twitter feature flag together with the
// caller's posting eligibility, recomputed from the current links.
// GET /api/config
func (h *SettingsHandler) GetAppConfig(c echo.Context) error {
	user, ok := GetUser(c)
	if !ok {
		return domain.ErrUnauthenticated
	}

	eligibility, err := h.gate.Eligibility(c.Request().Context(), user.ID)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, AppConfigResponse{
		TwitterAvailable:   h.gate.TwitterEnabled(),
		TwitterEligibility: eligibility[domain.ProviderTwitter],
	})
}

// GenerateHeaderToken mints a new header token and returns its
// plaintext exactly once.
// POST /api/settings/header-token
func (h *SettingsHandler) GenerateHeaderToken(c echo.Context) error {
	user, ok := GetUser(c)
	if !ok {
		return domain.ErrUnauthenticated
	}

	token, err := h.settings.GenerateHeaderToken(c.Request().Context(), user.ID)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, map[string]string{"header_token": token})
}

// DisableHeaderToken turns the header token requirement off.
// DELETE /api/settings/header-token
func (h *SettingsHandler) DisableHeaderToken(c echo.Context) error {
	user, ok := GetUser(c)
	if !ok {
		return domain.ErrUnauthenticated
	}
	if err := h.settings.DisableHeaderToken(c.Request().Context(), user.ID); err != nil {
		return err
	}
	return JSON(c, http.StatusOK, map[string]string{"status": "disabled"})
}

// RegenerateURLToken rotates the post URL token; the old URL stops
// working immediately.
// POST /api/settings/api-url-token/regenerate
func (h *SettingsHandler) RegenerateURLToken(c echo.Context) error {
	user, ok := GetUser(c)
	if !ok {
		return domain.ErrUnauthenticated
	}

	token, err := h.settings.RotateURLToken(c.Request().Context(), user.ID)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, map[string]string{
		"post_url": h.baseURL + "/api/post/" + token.String(),
	})
}
