package handler

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/sumire/nowplaying/internal/crypto"
	"github.com/sumire/nowplaying/internal/domain"
	"github.com/sumire/nowplaying/internal/service"
)

// PostHandler serves the public now-playing post endpoint.
type PostHandler struct {
	users service.UserStore
	share *service.Share
}

// NewPostHandler creates a new PostHandler.
func NewPostHandler(users service.UserStore, share *service.Share) *PostHandler {
	return &PostHandler{users: users, share: share}
}

// PostNowPlaying posts the currently playing track for the user behind
// the URL token. When the user enabled the header token, the request
// must also carry it as a Bearer value.
// GET /api/post/:token
func (h *PostHandler) PostNowPlaying(c echo.Context) error {
	token, err := uuid.Parse(c.Param("token"))
	if err != nil {
		return fmt.Errorf("malformed post token: %w", domain.ErrInvalidInput)
	}

	ctx := c.Request().Context()
	user, err := h.users.FindByURLToken(ctx, token)
	if err != nil {
		return err
	}

	if user.HeaderTokenEnabled {
		if err := checkHeaderToken(c, user); err != nil {
			return err
		}
	}

	target := service.ParseShareTarget(c.QueryParam("target"))
	result, err := h.share.Post(ctx, user.ID, target)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func checkHeaderToken(c echo.Context, user *domain.User) error {
	header := c.Request().Header.Get("Authorization")
	if header == "" {
		return domain.ErrUnauthenticated
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return domain.ErrUnauthenticated
	}

	if user.HeaderTokenHash == nil || crypto.HashToken(parts[1]) != *user.HeaderTokenHash {
		return domain.ErrUnauthenticated
	}
	return nil
}

// RateLimit rejects requests beyond the limiter's budget with 429.
func RateLimit(limiter *rate.Limiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !limiter.Allow() {
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
