package domain

import "errors"

var (
	ErrNotFound        = errors.New("resource not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrUnauthenticated = errors.New("unauthenticated")

	// Linking lifecycle failures.
	ErrInvalidInstance  = errors.New("invalid instance host")
	ErrStateMismatch    = errors.New("state mismatch")
	ErrHandshakeExpired = errors.New("handshake expired")
	ErrProviderRejected = errors.New("provider rejected the request")
	ErrAlreadyLinked    = errors.New("provider already linked")
	ErrAnchorProvider   = errors.New("anchor provider cannot be unlinked")

	// Credential resolution failures.
	ErrRefreshRevoked = errors.New("refresh credential revoked")
	ErrNotConnected   = errors.New("provider not connected")
)

// ValidationError represents a field-level validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}
