package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sumire/nowplaying/internal/domain"
	"github.com/sumire/nowplaying/internal/metrics"
	"github.com/sumire/nowplaying/internal/provider"
	"github.com/sumire/nowplaying/internal/service"
)

// AuthHandler handles the Spotify login flow and session endpoints.
type AuthHandler struct {
	linking    *service.Orchestrator
	sessions   *service.SessionManager
	sessionTTL time.Duration
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(linking *service.Orchestrator, sessions *service.SessionManager, sessionTTL time.Duration) *AuthHandler {
	return &AuthHandler{
		linking:    linking,
		sessions:   sessions,
		sessionTTL: sessionTTL,
	}
}

// AuthCheckResponse is the /api/auth/check payload. The id fields are
// present only when the session is valid.
type AuthCheckResponse struct {
	Authenticated bool   `json:"authenticated"`
	UserID        string `json:"user_id,omitempty"`
	SpotifyUserID string `json:"spotify_user_id,omitempty"`
}

// Check reports whether the request carries a valid session and, when
// it does, identifies the signed-in user.
// GET /api/auth/check
func (h *AuthHandler) Check(c echo.Context) error {
	res := AuthCheckResponse{}
	if cookie, err := c.Cookie(sessionCookieName); err == nil {
		if user, err := h.sessions.Authenticate(c.Request().Context(), cookie.Value); err == nil {
			res.Authenticated = true
			res.UserID = user.ID.String()
			res.SpotifyUserID = user.SpotifyUserID
		}
	}
	return JSON(c, http.StatusOK, res)
}

// LoginSpotify starts the Spotify handshake that signs the user in.
// GET /api/auth/spotify
func (h *AuthHandler) LoginSpotify(c echo.Context) error {
	authURL, err := h.linking.StartLogin(c.Request().Context())
	if err != nil {
		return err
	}
	return c.Redirect(http.StatusTemporaryRedirect, authURL)
}

// CallbackSpotify completes the login handshake, mints a session, and
// sends the browser to the dashboard. Failures redirect back to the
// login page with a reason instead of surfacing JSON.
// GET /api/auth/spotify/callback
func (h *AuthHandler) CallbackSpotify(c echo.Context) error {
	ctx := c.Request().Context()
	cb := provider.Callback{
		State: c.QueryParam("state"),
		Code:  c.QueryParam("code"),
	}

	user, err := h.linking.CompleteLogin(ctx, cb)
	if err != nil {
		metrics.OAuthCallbacks.WithLabelValues("spotify", "error").Inc()
		return c.Redirect(http.StatusTemporaryRedirect, "/login?error="+redirectReason(err))
	}

	token, err := h.sessions.Create(ctx, user.ID)
	if err != nil {
		metrics.OAuthCallbacks.WithLabelValues("spotify", "error").Inc()
		return c.Redirect(http.StatusTemporaryRedirect, "/login?error=internal_error")
	}

	metrics.OAuthCallbacks.WithLabelValues("spotify", "success").Inc()
	setSessionCookie(c, token, h.sessionTTL)
	return c.Redirect(http.StatusTemporaryRedirect, "/dashboard?success=spotify_connected")
}

// Logout revokes the current session. Idempotent.
// POST /api/logout
func (h *AuthHandler) Logout(c echo.Context) error {
	if cookie, err := c.Cookie(sessionCookieName); err == nil {
		if err := h.sessions.Invalidate(c.Request().Context(), cookie.Value); err != nil {
			return err
		}
	}
	clearSessionCookie(c)
	return JSON(c, http.StatusOK, map[string]string{"status": "logged_out"})
}

// redirectReason flattens a domain error into a short query-safe code
// for the browser redirect. Raw error text never reaches the URL.
func redirectReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrHandshakeExpired):
		return "handshake_expired"
	case errors.Is(err, domain.ErrStateMismatch):
		return "state_mismatch"
	case errors.Is(err, domain.ErrProviderRejected):
		return "provider_rejected"
	case errors.Is(err, domain.ErrInvalidInstance):
		return "invalid_instance"
	default:
		return "internal_error"
	}
}
