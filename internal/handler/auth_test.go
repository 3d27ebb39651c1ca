package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sumire/nowplaying/internal/domain"
	"github.com/sumire/nowplaying/internal/service"
)

func TestAuthCheck(t *testing.T) {
	user := testUser()
	sessions := service.NewSessionManager(
		&stubSessionStore{rows: make(map[string]domain.Session)},
		&stubUserStore{user: user},
		time.Hour,
	)
	h := NewAuthHandler(nil, sessions, time.Hour)

	token, err := sessions.Create(context.Background(), user.ID)
	require.NoError(t, err)

	e := echo.New()
	perform := func(cookie string) AuthCheckResponse {
		req := httptest.NewRequest(http.MethodGet, "/api/auth/check", nil)
		if cookie != "" {
			req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: cookie})
		}
		rec := httptest.NewRecorder()
		require.NoError(t, h.Check(e.NewContext(req, rec)))
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Data AuthCheckResponse `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		return body.Data
	}

	t.Run("valid session identifies the user", func(t *testing.T) {
		res := perform(token)
		assert.True(t, res.Authenticated)
		assert.Equal(t, user.ID.String(), res.UserID)
		assert.Equal(t, user.SpotifyUserID, res.SpotifyUserID)
	})

	t.Run("missing cookie", func(t *testing.T) {
		res := perform("")
		assert.False(t, res.Authenticated)
		assert.Empty(t, res.UserID)
		assert.Empty(t, res.SpotifyUserID)
	})

	t.Run("forged token", func(t *testing.T) {
		res := perform("forged")
		assert.False(t, res.Authenticated)
		assert.Empty(t, res.UserID)
	})
}
