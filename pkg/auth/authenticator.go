package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
)

// Authenticator decorates outbound requests with credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, req *http.Request) error
}

// NoAuth sends requests without an Authorization header.
type NoAuth struct{}

// Authenticate implements Authenticator.
func (NoAuth) Authenticate(context.Context, *http.Request) error { return nil }

// BasicAuth sends "Authorization: Basic <base64(user:pass)>".
type BasicAuth struct {
	Username string
	Password string
}

// NewBasicAuth validates the username and returns a BasicAuth.
func NewBasicAuth(username, password string) (*BasicAuth, error) {
	if strings.TrimSpace(username) == "" {
		return nil, errors.New("basic auth username is required")
	}
	return &BasicAuth{Username: username, Password: password}, nil
}

// Authenticate implements Authenticator.
func (b *BasicAuth) Authenticate(_ context.Context, req *http.Request) error {
	credentials := base64.StdEncoding.EncodeToString([]byte(b.Username + ":" + b.Password))
	req.Header.Set("Authorization", "Basic "+credentials)
	return nil
}

// BearerAuth sends "Authorization: Bearer <token>" using a TokenManager.
type BearerAuth struct {
	Tokens *TokenManager
}

// Authenticate implements Authenticator.
func (b *BearerAuth) Authenticate(ctx context.Context, req *http.Request) error {
	token, err := b.Tokens.GetToken(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// Transport is an http.RoundTripper that applies an Authenticator before
// delegating to Base.
type Transport struct {
	Base          http.RoundTripper
	Authenticator Authenticator
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	if t.Authenticator == nil {
		return base.RoundTrip(req)
	}

	clone := req.Clone(req.Context())
	if err := t.Authenticator.Authenticate(req.Context(), clone); err != nil {
		if req.Body != nil {
			_ = req.Body.Close()
		}
		return nil, err
	}
	return base.RoundTrip(clone)
}
