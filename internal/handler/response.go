package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sumire/nowplaying/internal/domain"
)

// Envelope is the standard API response wrapper.
type Envelope struct {
	Data  any       `json:"data,omitempty"`
	Error *APIError `json:"error,omitempty"`
}

// APIError represents an error in the API response.
type APIError struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
}

// FieldError represents a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// JSON writes a JSON response with the standard envelope.
func JSON(c echo.Context, status int, data any) error {
	return c.JSON(status, Envelope{Data: data})
}

// HTTPErrorHandler is the global error handler for echo.
func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status, apiErr := mapError(err)
	if jsonErr := c.JSON(status, Envelope{Error: &apiErr}); jsonErr != nil {
		slog.Error("failed to send error response", "error", jsonErr)
	}
}

func mapError(err error) (int, APIError) {
	// Handle echo's own HTTP errors (404, 405, etc.)
	var echoErr *echo.HTTPError
	if errors.As(err, &echoErr) {
		msg, _ := echoErr.Message.(string)
		if msg == "" {
			msg = http.StatusText(echoErr.Code)
		}
		return echoErr.Code, APIError{
			Code:    http.StatusText(echoErr.Code),
			Message: msg,
		}
	}

	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized, APIError{
			Code:    "unauthenticated",
			Message: "Authentication is required",
		}
	case errors.Is(err, domain.ErrAnchorProvider):
		return http.StatusForbidden, APIError{
			Code:    "anchor_provider",
			Message: "The sign-in provider cannot be disconnected",
		}
	case errors.Is(err, domain.ErrAlreadyLinked):
		return http.StatusConflict, APIError{
			Code:    "already_linked",
			Message: "The provider is already connected",
		}
	case errors.Is(err, domain.ErrInvalidInstance):
		return http.StatusBadRequest, APIError{
			Code:    "invalid_instance",
			Message: "The instance host is not a valid hostname",
		}
	case errors.Is(err, domain.ErrStateMismatch):
		return http.StatusBadRequest, APIError{
			Code:    "state_mismatch",
			Message: "The callback state does not match the pending request",
		}
	case errors.Is(err, domain.ErrHandshakeExpired):
		return http.StatusGone, APIError{
			Code:    "handshake_expired",
			Message: "The authorization request expired or was already used",
		}
	case errors.Is(err, domain.ErrProviderRejected):
		return http.StatusBadGateway, APIError{
			Code:    "provider_rejected",
			Message: "The provider rejected the request",
		}
	case errors.Is(err, domain.ErrNotConnected):
		return http.StatusNotFound, APIError{
			Code:    "not_connected",
			Message: "The provider is not connected",
		}
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, APIError{
			Code:    "not_found",
			Message: "The requested resource was not found",
		}
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, APIError{
			Code:    "invalid_input",
			Message: "The request is invalid",
		}
	default:
		var validationErr *domain.ValidationError
		if errors.As(err, &validationErr) {
			return http.StatusBadRequest, APIError{
				Code:    "validation_error",
				Message: "Validation failed",
				Details: []FieldError{
					{Field: validationErr.Field, Message: validationErr.Message},
				},
			}
		}

		slog.Error("unhandled error", "error", err)
		return http.StatusInternalServerError, APIError{
			Code:    "internal_error",
			Message: "An unexpected error occurred",
		}
	}
}
