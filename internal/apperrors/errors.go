package apperrors

import (
	"errors"
	"fmt"
)

var (
	// Session losing errors: the session is torn down when any of them happens
	ErrNoRefreshToken      = errors.New("no refresh token")
	ErrRefreshTokenExpired = errors.New("refresh token is expired")
	ErrRefreshRejected     = errors.New("refresh token rejected")
	ErrRefreshTimeout      = errors.New("refresh token renewal timed out")
	ErrAuthRetryExhausted  = errors.New("request unauthorized after token renewal")

	// Access to the resource denied; the session stays alive
	ErrForbidden = errors.New("forbidden")

	ErrInvalidSession = errors.New("invalid session")
	ErrSessionChanged = errors.New("session changed")
	ErrInvalidInput   = errors.New("invalid input")
)

// APIError is returned when the API responds with an error status or cannot be reached at all.
// StatusCode is zero for network errors.
type APIError struct {
	StatusCode int

	// Short user facing message
	Message string

	Err error
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("api unreachable: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("api error: status %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// IsSessionFatal reports whether err means the session can't be recovered and the user has to log in again
func IsSessionFatal(err error) bool {
	for _, target := range []error{
		ErrNoRefreshToken,
		ErrRefreshTokenExpired,
		ErrRefreshRejected,
		ErrAuthRetryExhausted,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// StatusCode returns the API status code carried by err, or zero
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
