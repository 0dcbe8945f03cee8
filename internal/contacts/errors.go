package contacts

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// maxErrorBodyLength bounds the response body quoted in an APIError message.
const maxErrorBodyLength = 200

var (
	// ErrNotConnected indicates the account has no active Google connection.
	ErrNotConnected = errors.New("contacts: account not connected")

	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = errors.New("contacts: not found")

	// ErrRateLimited indicates the API quota was exhausted.
	ErrRateLimited = errors.New("contacts: rate limited")

	// ErrUnauthorized indicates the credential was rejected.
	ErrUnauthorized = errors.New("contacts: unauthorized")
)

// APIError is returned for non-2xx responses from the People API.
type APIError struct {
	// Body is the raw response body.
	Body string

	// StatusCode is the HTTP status code.
	StatusCode int
}

// Error returns the formatted error message, with the body cut to maxErrorBodyLength bytes.
func (e *APIError) Error() string {
	body := e.Body
	if len(body) > maxErrorBodyLength {
		body = strings.ToValidUTF8(body[:maxErrorBodyLength], "") + "..."
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, body)
}

// Is classifies the error against the package sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrRateLimited:
		return e.StatusCode == http.StatusTooManyRequests
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	default:
		return false
	}
}
