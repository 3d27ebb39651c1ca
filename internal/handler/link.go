package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sumire/nowplaying/internal/domain"
	"github.com/sumire/nowplaying/internal/metrics"
	"github.com/sumire/nowplaying/internal/provider"
	"github.com/sumire/nowplaying/internal/service"
)

// LinkHandler handles connecting and disconnecting posting providers.
type LinkHandler struct {
	linking *service.Orchestrator
	gate    *service.Gate
}

// NewLinkHandler creates a new LinkHandler.
func NewLinkHandler(linking *service.Orchestrator, gate *service.Gate) *LinkHandler {
	return &LinkHandler{linking: linking, gate: gate}
}

// StartMiAuthRequest is the body for starting a Misskey handshake.
type StartMiAuthRequest struct {
	InstanceURL string `json:"instance_url" validate:"required"`
}

// StartMiAuth begins a MiAuth handshake against the supplied instance.
// POST /api/miauth/start
func (h *LinkHandler) StartMiAuth(c echo.Context) error {
	user, ok := GetUser(c)
	if !ok {
		return domain.ErrUnauthenticated
	}

	var req StartMiAuthRequest
	if err := c.Bind(&req); err != nil {
		return domain.ErrInvalidInput
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	authURL, err := h.linking.StartLink(c.Request().Context(), user.ID, domain.ProviderMisskey, req.InstanceURL)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, map[string]string{"auth_url": authURL})
}

// CallbackMiAuth completes a MiAuth handshake. MiAuth sends the session
// id back as a query parameter; it doubles as the state value.
// GET /api/miauth/callback
func (h *LinkHandler) CallbackMiAuth(c echo.Context) error {
	session := c.QueryParam("session")
	cb := provider.Callback{State: session}

	if err := h.linking.CompleteLink(c.Request().Context(), domain.ProviderMisskey, cb); err != nil {
		metrics.OAuthCallbacks.WithLabelValues("misskey", "error").Inc()
		return c.Redirect(http.StatusTemporaryRedirect, "/dashboard?error="+redirectReason(err))
	}

	metrics.OAuthCallbacks.WithLabelValues("misskey", "success").Inc()
	return c.Redirect(http.StatusTemporaryRedirect, "/dashboard?success=misskey_connected")
}

// DisconnectMisskey removes the Misskey link and its credential.
// DELETE /api/miauth
func (h *LinkHandler) DisconnectMisskey(c echo.Context) error {
	user, ok := GetUser(c)
	if !ok {
		return domain.ErrUnauthenticated
	}
	if err := h.linking.Unlink(c.Request().Context(), user.ID, domain.ProviderMisskey); err != nil {
		return err
	}
	return JSON(c, http.StatusOK, map[string]string{"status": "disconnected"})
}

// StartTwitter begins the Twitter PKCE handshake, provided the static
// policy allows Twitter for this user at all.
// GET /api/twitter/start
func (h *LinkHandler) StartTwitter(c echo.Context) error {
	user, ok := GetUser(c)
	if !ok {
		return domain.ErrUnauthenticated
	}

	ctx := c.Request().Context()
	if err := h.gate.TwitterLinkable(ctx, user.ID); err != nil {
		return err
	}

	authURL, err := h.linking.StartLink(ctx, user.ID, domain.ProviderTwitter, "")
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, map[string]string{"auth_url": authURL})
}

// CallbackTwitter completes the Twitter handshake.
// GET /api/twitter/callback
func (h *LinkHandler) CallbackTwitter(c echo.Context) error {
	cb := provider.Callback{
		State: c.QueryParam("state"),
		Code:  c.QueryParam("code"),
	}

	if err := h.linking.CompleteLink(c.Request().Context(), domain.ProviderTwitter, cb); err != nil {
		metrics.OAuthCallbacks.WithLabelValues("twitter", "error").Inc()
		return c.Redirect(http.StatusTemporaryRedirect, "/dashboard?error="+redirectReason(err))
	}

	metrics.OAuthCallbacks.WithLabelValues("twitter", "success").Inc()
	return c.Redirect(http.StatusTemporaryRedirect, "/dashboard?success=twitter_connected")
}

// DisconnectTwitter removes the Twitter link and its credential.
// DELETE /api/twitter
func (h *LinkHandler) DisconnectTwitter(c echo.Context) error {
	user, ok := GetUser(c)
	if !ok {
		return domain.ErrUnauthenticated
	}
	if err := h.linking.Unlink(c.Request().Context(), user.ID, domain.ProviderTwitter); err != nil {
		return err
	}
	return JSON(c, http.StatusOK, map[string]string{"status": "disconnected"})
}
