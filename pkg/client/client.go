// Package client is the invocation core of the engine REST API: every typed
// operation funnels through Invoke, which composes the backpressure gate, the
// retry executor and the auth transport around one HTTP exchange.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/nimburion/orchestra/pkg/auth"
	"github.com/nimburion/orchestra/pkg/config"
	"github.com/nimburion/orchestra/pkg/observability/logger"
	"github.com/nimburion/orchestra/pkg/observability/metrics"
	"github.com/nimburion/orchestra/pkg/resilience"
	"github.com/nimburion/orchestra/pkg/version"
)

// ErrClosed is returned by Invoke after Close.
var ErrClosed = errors.New("client is closed")

// Client talks to one engine with one set of credentials. The token cache and
// the backpressure manager belong to the instance and are never shared.
type Client struct {
	baseURL      *url.URL
	httpClient   *http.Client
	tokens       *auth.TokenManager
	backpressure *resilience.BackpressureManager
	limiter      *rate.Limiter
	retry        resilience.RetryConfig
	classify     resilience.Classifier
	jitter       func() float64
	log          logger.Logger

	tenantID       string
	throwOnError   bool
	requestTimeout time.Duration
	userAgent      string
	workerDefaults config.WorkerConfig
	newRequestID   func() string

	mu      sync.Mutex
	closed  bool
	closers []io.Closer
}

// Option customizes a Client.
type Option func(*clientOptions)

type clientOptions struct {
	httpClient   *http.Client
	transport    http.RoundTripper
	log          logger.Logger
	classifier   resilience.Classifier
	jitter       func() float64
	requestID    func() string
	backpressure []resilience.BackpressureOption
	tokenOpts    []auth.TokenManagerOption
}

// WithHTTPClient sets the base HTTP client. Its Transport is wrapped by the
// auth transport.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(o *clientOptions) {
		o.httpClient = httpClient
	}
}

// WithTransport sets the base RoundTripper.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *clientOptions) {
		o.transport = rt
	}
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(o *clientOptions) {
		o.log = log
	}
}

// WithClassifier replaces resilience.DefaultClassifier for API calls.
func WithClassifier(classifier resilience.Classifier) Option {
	return func(o *clientOptions) {
		o.classifier = classifier
	}
}

// WithJitterSource replaces the random source used for retry jitter.
func WithJitterSource(source func() float64) Option {
	return func(o *clientOptions) {
		o.jitter = source
	}
}

// WithRequestIDGenerator replaces uuid-based X-Request-ID values.
func WithRequestIDGenerator(gen func() string) Option {
	return func(o *clientOptions) {
		o.requestID = gen
	}
}

// WithBackpressureOptions forwards options to the backpressure manager.
func WithBackpressureOptions(opts ...resilience.BackpressureOption) Option {
	return func(o *clientOptions) {
		o.backpressure = append(o.backpressure, opts...)
	}
}

// WithTokenManagerOptions forwards options to the OAuth token manager.
func WithTokenManagerOptions(opts ...auth.TokenManagerOption) Option {
	return func(o *clientOptions) {
		o.tokenOpts = append(o.tokenOpts, opts...)
	}
}

// New builds a Client from a validated configuration.
func New(cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	options := clientOptions{log: logger.NewNop()}
	for _, opt := range opts {
		opt(&options)
	}
	if options.log == nil {
		options.log = logger.NewNop()
	}

	baseURL, err := url.Parse(strings.TrimRight(cfg.Client.RestAddress, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse rest address: %w", err)
	}

	c := &Client{
		baseURL:        baseURL,
		retry:          cfg.HTTP.RetryConfig(),
		classify:       options.classifier,
		jitter:         options.jitter,
		log:            options.log.With("component", "orchestra_client"),
		tenantID:       cfg.Client.TenantID,
		throwOnError:   cfg.Client.ThrowOnError,
		requestTimeout: cfg.Client.RequestTimeout,
		userAgent:      cfg.Client.UserAgent,
		workerDefaults: cfg.Worker,
		newRequestID:   options.requestID,
	}
	if c.classify == nil {
		c.classify = resilience.DefaultClassifier
	}
	if c.userAgent == "" {
		c.userAgent = version.UserAgent()
	}
	if c.tenantID == "" {
		c.tenantID = config.DefaultTenantID
	}
	if c.newRequestID == nil {
		c.newRequestID = uuid.NewString
	}

	authenticator, err := c.buildAuthenticator(cfg, options)
	if err != nil {
		return nil, err
	}

	httpClient := options.httpClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	base := options.transport
	if base == nil {
		base = httpClient.Transport
	}
	wrapped := *httpClient
	wrapped.Transport = &auth.Transport{Base: base, Authenticator: authenticator}
	c.httpClient = &wrapped

	bpConfig, err := cfg.Backpressure.Resolve()
	if err != nil {
		return nil, err
	}
	bpOpts := append([]resilience.BackpressureOption{
		resilience.WithBackpressureLogger(c.log),
		resilience.WithStateObserver(func(state resilience.BackpressureState) {
			metrics.SetBackpressureState(state.PermitsMax, state.ConsecutiveSignals)
		}),
	}, options.backpressure...)
	c.backpressure = resilience.NewBackpressureManager(bpConfig, bpOpts...)

	if cfg.HTTP.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.HTTP.RateLimit), cfg.HTTP.RateBurst)
	}

	c.log.Info("orchestra client created",
		"rest_address", baseURL.String(),
		"auth_strategy", cfg.Auth.Strategy,
		"backpressure_profile", cfg.Backpressure.Profile,
	)
	return c, nil
}

func (c *Client) buildAuthenticator(cfg *config.Config, options clientOptions) (auth.Authenticator, error) {
	switch strings.ToLower(cfg.Auth.Strategy) {
	case config.AuthStrategyBasic:
		basic, err := auth.NewBasicAuth(cfg.Auth.Basic.Username, cfg.Auth.Basic.Password)
		if err != nil {
			return nil, err
		}
		return basic, nil
	case config.AuthStrategyOAuth:
		tokenOpts := append([]auth.TokenManagerOption{auth.WithTokenLogger(c.log)}, options.tokenOpts...)
		tokens, err := auth.NewTokenManager(cfg.Auth.OAuth.TokenManagerConfig(), tokenOpts...)
		if err != nil {
			return nil, err
		}
		c.tokens = tokens
		return &auth.BearerAuth{Tokens: tokens}, nil
	default:
		return auth.NoAuth{}, nil
	}
}

// TenantID returns the default tenant applied to requests that omit one.
func (c *Client) TenantID() string {
	return c.tenantID
}

// WorkerDefaults returns the configured defaults for job workers.
func (c *Client) WorkerDefaults() config.WorkerConfig {
	return c.workerDefaults
}

// Logger returns the client's logger.
func (c *Client) Logger() logger.Logger {
	return c.log
}

// BackpressureState returns a snapshot of the backpressure manager.
func (c *Client) BackpressureState() resilience.BackpressureState {
	return c.backpressure.GetState()
}

// TokenManager returns the OAuth token manager, or nil for other strategies.
func (c *Client) TokenManager() *auth.TokenManager {
	return c.tokens
}

// HealthCheck probes the engine topology endpoint.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.GetTopology(ctx)
	return err
}

// Track registers a resource that is closed together with the client.
// Job workers register themselves here.
func (c *Client) Track(closer io.Closer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closers = append(c.closers, closer)
}

// Close stops every tracked worker concurrently, then rejects further calls.
// Workers may still report job outcomes while they drain.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	closers := c.closers
	c.closers = nil
	c.mu.Unlock()

	var g errgroup.Group
	for _, closer := range closers {
		g.Go(closer.Close)
	}
	err := g.Wait()

	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.log.Info("orchestra client closed", "closed_resources", len(closers))
	return err
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
