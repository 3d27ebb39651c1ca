package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sumire/nowplaying/internal/domain"
	"github.com/sumire/nowplaying/internal/service"
)

const (
	contextKeyUser = "user"

	sessionCookieName = "session_token"
)

// RequestLogger logs each HTTP request with structured fields.
func RequestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			slog.Info("http request",
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"status", c.Response().Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
			)

			return err
		}
	}
}

// SessionAuth resolves the session cookie through the session store and
// injects the user into echo context. Missing, expired and revoked
// sessions fail the request.
func SessionAuth(sessions *service.SessionManager) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cookie, err := c.Cookie(sessionCookieName)
			if err != nil {
				return domain.ErrUnauthenticated
			}

			user, err := sessions.Authenticate(c.Request().Context(), cookie.Value)
			if err != nil {
				return err
			}

			c.Set(contextKeyUser, user)
			return next(c)
		}
	}
}

// GetUser extracts the authenticated user from echo context.
func GetUser(c echo.Context) (*domain.User, bool) {
	user, ok := c.Get(contextKeyUser).(*domain.User)
	return user, ok
}

func setSessionCookie(c echo.Context, token string, ttl time.Duration) {
	c.SetCookie(&http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.Scheme() == "https",
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(ttl.Seconds()),
	})
}

func clearSessionCookie(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}
