package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingCredentials is returned when OAuth is configured without a
	// client id or secret. It is never retried.
	ErrMissingCredentials = errors.New("oauth client credentials are missing")
	// ErrMalformedTokenResponse classifies token endpoint bodies that cannot be used.
	ErrMalformedTokenResponse = errors.New("malformed token response")
)

// AuthenticationError is returned once the token fetch retry budget is spent.
type AuthenticationError struct {
	Attempts int
	Cause    error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("oauth token fetch failed after %d attempt(s): %v", e.Attempts, e.Cause)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Cause
}

// TokenEndpointError reports a non-2xx token endpoint response.
type TokenEndpointError struct {
	Status int
	Body   string
}

func (e *TokenEndpointError) Error() string {
	return fmt.Sprintf("token endpoint returned %d: %s", e.Status, e.Body)
}
