// Package gdrive provides an HTTP client for the Google Drive v3 REST API
// together with the OAuth2 credential lifecycle it depends on: authorization
// code exchange, silent refresh, and a single retry-with-refresh helper that
// every authenticated call goes through.
package gdrive

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors. Use errors.Is(err, gdrive.ErrNotFound) to check.
var (
	ErrNotAuthenticated = errors.New("gdrive: not authenticated")
	ErrNoRefreshToken   = errors.New("gdrive: no refresh token")
	ErrValidation       = errors.New("gdrive: validation failed")

	ErrBadRequest   = errors.New("gdrive: bad request")
	ErrUnauthorized = errors.New("gdrive: unauthorized")
	ErrForbidden    = errors.New("gdrive: forbidden")
	ErrNotFound     = errors.New("gdrive: not found")
	ErrConflict     = errors.New("gdrive: conflict")
	ErrThrottled    = errors.New("gdrive: throttled")
	ErrServerError  = errors.New("gdrive: server error")
)

// APIError is a non-2xx response from a listing, transfer, or mutating call
// after the retry-with-refresh protocol has run its course. The body is kept
// verbatim so callers can show the API's own explanation.
type APIError struct {
	StatusCode int
	Body       string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gdrive: HTTP %d: %s", e.StatusCode, e.Body)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// AuthError is a failed token exchange or refresh. StatusCode is zero when
// the token endpoint could not be reached at all; Err then carries the cause.
type AuthError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *AuthError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("gdrive: authentication failed: %v", e.Err)
	}

	return fmt.Sprintf("gdrive: authentication failed: HTTP %d: %s", e.StatusCode, e.Body)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// ValidationError is a caller mistake detected before any network call.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "gdrive: " + e.Reason
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NetworkError wraps a transport-level failure (connection refused, timeout,
// reset) for the named operation.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("gdrive: %s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// LocalIOError wraps a local file-system failure during a transfer.
type LocalIOError struct {
	Op   string
	Path string
	Err  error
}

func (e *LocalIOError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("gdrive: %s: %v", e.Op, e.Err)
	}

	return fmt.Sprintf("gdrive: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *LocalIOError) Unwrap() error {
	return e.Err
}

// newAPIError builds an APIError with the sentinel for its status class.
func newAPIError(status int, body []byte) *APIError {
	return &APIError{
		StatusCode: status,
		Body:       string(body),
		Err:        classifyStatus(status),
	}
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for codes without a dedicated sentinel.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == code
	}

	return false
}
