package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// OAuth2TokenResponse models a standard token endpoint response.
type OAuth2TokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
	Scope       string `json:"scope"`
}

// ClientCredentialsRequest holds the form fields of a client-credentials grant.
type ClientCredentialsRequest struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Audience     string
	Scope        string
}

// Validate checks the fields required to request a token.
func (r ClientCredentialsRequest) Validate() error {
	if strings.TrimSpace(r.ClientID) == "" || strings.TrimSpace(r.ClientSecret) == "" {
		return ErrMissingCredentials
	}
	if !isValidAbsoluteURL(r.TokenURL) {
		return fmt.Errorf("oauth token url must be a valid absolute URL: %q", r.TokenURL)
	}
	return nil
}

// RequestClientCredentialsToken performs one client-credentials token request.
func RequestClientCredentialsToken(ctx context.Context, httpClient *http.Client, r ClientCredentialsRequest) (*OAuth2TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", r.ClientID)
	form.Set("client_secret", r.ClientSecret)
	if strings.TrimSpace(r.Audience) != "" {
		form.Set("audience", r.Audience)
	}
	if strings.TrimSpace(r.Scope) != "" {
		form.Set("scope", r.Scope)
	}
	return exchangeToken(ctx, httpClient, r.TokenURL, form)
}

func exchangeToken(ctx context.Context, httpClient *http.Client, tokenURL string, form url.Values) (*OAuth2TokenResponse, error) {
	client := httpClient
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &TokenEndpointError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var token OAuth2TokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTokenResponse, err)
	}
	if strings.TrimSpace(token.AccessToken) == "" {
		return nil, fmt.Errorf("%w: access_token is empty", ErrMalformedTokenResponse)
	}
	if token.ExpiresIn < 0 {
		return nil, fmt.Errorf("%w: negative expires_in", ErrMalformedTokenResponse)
	}
	return &token, nil
}

// Lifetime returns the token lifetime announced by the endpoint, falling back
// to the JWT exp claim and then to fallback.
func (t *OAuth2TokenResponse) Lifetime(obtainedAt time.Time, fallback time.Duration) time.Duration {
	if t.ExpiresIn > 0 {
		return time.Duration(t.ExpiresIn) * time.Second
	}
	if exp, ok := ExpiryFromJWT(t.AccessToken); ok {
		if lifetime := exp.Sub(obtainedAt); lifetime > 0 {
			return lifetime
		}
	}
	return fallback
}

func isValidAbsoluteURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return parsed.Scheme != "" && parsed.Host != ""
}
