package auth

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/nimburion/orchestra/pkg/observability/logger"
	"github.com/nimburion/orchestra/pkg/observability/metrics"
	"github.com/nimburion/orchestra/pkg/resilience"
)

const (
	DefaultTokenTimeout     = 5 * time.Second
	DefaultTokenRefreshLead = 5 * time.Second
	// DefaultTokenLifetime applies when the endpoint reports no expires_in and
	// the token is not a JWT with an exp claim.
	DefaultTokenLifetime = 5 * time.Minute

	minExpirySkew     = 30 * time.Second
	expirySkewPercent = 5
)

// OAuthConfig configures the client-credentials token manager.
type OAuthConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Audience     string
	Scope        string
	Timeout      time.Duration
	RefreshLead  time.Duration
	Retry        resilience.RetryConfig
}

func (c *OAuthConfig) normalize() {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTokenTimeout
	}
	if c.RefreshLead <= 0 {
		c.RefreshLead = DefaultTokenRefreshLead
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry = resilience.DefaultRetryConfig()
	}
}

// OAuthToken is the cached bearer token.
type OAuthToken struct {
	AccessToken string
	ObtainedAt  time.Time
	ExpiresAt   time.Time
}

// TokenManager caches one bearer token and refreshes it with singleflight
// semantics: concurrent callers that find the token stale share one fetch.
type TokenManager struct {
	config     OAuthConfig
	httpClient *http.Client
	log        logger.Logger
	now        func() time.Time

	mu    sync.RWMutex
	token *OAuthToken

	// refreshSem is a one-slot lock that waiters can abandon on ctx cancellation.
	refreshSem chan struct{}
}

// TokenManagerOption customizes a TokenManager.
type TokenManagerOption func(*TokenManager)

// WithTokenHTTPClient sets the HTTP client used for the token endpoint.
func WithTokenHTTPClient(client *http.Client) TokenManagerOption {
	return func(m *TokenManager) {
		if client != nil {
			m.httpClient = client
		}
	}
}

// WithTokenLogger sets the logger.
func WithTokenLogger(log logger.Logger) TokenManagerOption {
	return func(m *TokenManager) {
		if log != nil {
			m.log = log
		}
	}
}

// WithTokenClock replaces time.Now.
func WithTokenClock(now func() time.Time) TokenManagerOption {
	return func(m *TokenManager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewTokenManager validates credentials and creates a manager. Missing
// client credentials fail immediately with ErrMissingCredentials.
func NewTokenManager(cfg OAuthConfig, opts ...TokenManagerOption) (*TokenManager, error) {
	cfg.normalize()
	request := ClientCredentialsRequest{TokenURL: cfg.TokenURL, ClientID: cfg.ClientID, ClientSecret: cfg.ClientSecret}
	if err := request.Validate(); err != nil {
		return nil, err
	}

	m := &TokenManager{
		config:     cfg,
		httpClient: http.DefaultClient,
		log:        logger.NewNop(),
		now:        time.Now,
		refreshSem: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// GetToken returns a valid access token, fetching a new one when the cached
// token is missing or within RefreshLead of its effective expiry.
func (m *TokenManager) GetToken(ctx context.Context) (string, error) {
	if token, ok := m.cachedFresh(); ok {
		return token, nil
	}

	select {
	case m.refreshSem <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-m.refreshSem }()

	// another caller may have refreshed while we waited
	if token, ok := m.cachedFresh(); ok {
		return token, nil
	}
	return m.refreshLocked(ctx)
}

// ForceRefresh discards the cached token and fetches a new one.
func (m *TokenManager) ForceRefresh(ctx context.Context) (string, error) {
	select {
	case m.refreshSem <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-m.refreshSem }()

	m.ClearCache()
	return m.refreshLocked(ctx)
}

// ClearCache drops the cached token; the next GetToken fetches a new one.
func (m *TokenManager) ClearCache() {
	m.mu.Lock()
	m.token = nil
	m.mu.Unlock()
}

// Snapshot returns a copy of the cached token, if any.
func (m *TokenManager) Snapshot() (OAuthToken, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.token == nil {
		return OAuthToken{}, false
	}
	return *m.token, true
}

func (m *TokenManager) cachedFresh() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.token == nil {
		return "", false
	}
	if !m.now().Before(m.token.ExpiresAt.Add(-m.config.RefreshLead)) {
		return "", false
	}
	return m.token.AccessToken, true
}

// refreshLocked must be called while holding refreshSem.
func (m *TokenManager) refreshLocked(ctx context.Context) (string, error) {
	attempts := 0
	response, err := resilience.ExecuteWithRetry(ctx, m.config.Retry, classifyTokenError, func(ctx context.Context) (*OAuth2TokenResponse, error) {
		attempts++
		return resilience.WithTimeout(ctx, m.config.Timeout, func(ctx context.Context) (*OAuth2TokenResponse, error) {
			return RequestClientCredentialsToken(ctx, m.httpClient, ClientCredentialsRequest{
				TokenURL:     m.config.TokenURL,
				ClientID:     m.config.ClientID,
				ClientSecret: m.config.ClientSecret,
				Audience:     m.config.Audience,
				Scope:        m.config.Scope,
			})
		})
	}, resilience.WithRetryLogger(m.log))
	if err != nil {
		metrics.RecordTokenFetch("failure")
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		m.log.Error("oauth token fetch failed", "attempts", attempts, "error", err)
		return "", &AuthenticationError{Attempts: attempts, Cause: err}
	}

	obtainedAt := m.now()
	lifetime := response.Lifetime(obtainedAt, DefaultTokenLifetime)
	token := &OAuthToken{
		AccessToken: response.AccessToken,
		ObtainedAt:  obtainedAt,
		ExpiresAt:   obtainedAt.Add(EffectiveLifetime(lifetime)),
	}

	m.mu.Lock()
	m.token = token
	m.mu.Unlock()

	metrics.RecordTokenFetch("success")
	m.log.Debug("oauth token refreshed", "expires_at", token.ExpiresAt, "lifetime", lifetime)
	return token.AccessToken, nil
}

// EffectiveLifetime subtracts the refresh skew max(30s, 5% of lifetime).
// The skew is capped at half the lifetime so short-lived tokens are still cached.
func EffectiveLifetime(lifetime time.Duration) time.Duration {
	skew := lifetime * expirySkewPercent / 100
	if skew < minExpirySkew {
		skew = minExpirySkew
	}
	if skew > lifetime/2 {
		skew = lifetime / 2
	}
	return lifetime - skew
}

func classifyTokenError(err error) resilience.RetryDecision {
	if errors.Is(err, ErrMissingCredentials) || errors.Is(err, context.Canceled) {
		return resilience.RetryDecision{Retryable: false, Reason: "fatal"}
	}
	return resilience.RetryDecision{Retryable: true, Reason: "token fetch failed"}
}
