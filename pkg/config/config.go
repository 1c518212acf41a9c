package config

import (
	"time"

	"github.com/nimburion/orchestra/pkg/auth"
	"github.com/nimburion/orchestra/pkg/resilience"
)

// Auth strategy constants
const (
	// AuthStrategyNone sends no Authorization header
	AuthStrategyNone = "none"
	// AuthStrategyBasic sends HTTP basic credentials
	AuthStrategyBasic = "basic"
	// AuthStrategyOAuth sends a client-credentials bearer token
	AuthStrategyOAuth = "oauth"
)

// DefaultTenantID is the tenant used when none is configured.
const DefaultTenantID = "<default>"

// Config is the root configuration of a client instance.
type Config struct {
	Client        ClientConfig        `mapstructure:"client"`
	Auth          AuthConfig          `mapstructure:"auth"`
	HTTP          HTTPConfig          `mapstructure:"http"`
	Backpressure  BackpressureConfig  `mapstructure:"backpressure"`
	Worker        WorkerConfig        `mapstructure:"worker"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// ClientConfig identifies the engine and the client's default behavior.
type ClientConfig struct {
	RestAddress    string        `mapstructure:"rest_address"`
	TenantID       string        `mapstructure:"tenant_id"`
	ThrowOnError   bool          `mapstructure:"throw_on_error"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// AuthConfig selects and configures the auth strategy.
type AuthConfig struct {
	Strategy string          `mapstructure:"strategy"`
	Basic    BasicAuthConfig `mapstructure:"basic"`
	OAuth    OAuthConfig     `mapstructure:"oauth"`
}

// BasicAuthConfig holds basic auth credentials.
type BasicAuthConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password" secret:"true"`
}

// OAuthConfig holds client-credentials settings for the token endpoint.
type OAuthConfig struct {
	URL              string        `mapstructure:"url"`
	ClientID         string        `mapstructure:"client_id"`
	ClientSecret     string        `mapstructure:"client_secret" secret:"true"`
	Audience         string        `mapstructure:"audience"`
	Scope            string        `mapstructure:"scope"`
	Timeout          time.Duration `mapstructure:"timeout"`
	RetryMaxAttempts int           `mapstructure:"retry_max_attempts"`
	RetryBaseDelay   time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay    time.Duration `mapstructure:"retry_max_delay"`
}

// HTTPConfig holds the retry budget and optional client-side rate cap.
type HTTPConfig struct {
	RetryMaxAttempts int           `mapstructure:"retry_max_attempts"`
	RetryBaseDelay   time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay    time.Duration `mapstructure:"retry_max_delay"`
	// RateLimit caps requests per second; 0 disables the cap.
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`
}

// BackpressureConfig selects a profile; non-zero fields override it.
type BackpressureConfig struct {
	Profile         string        `mapstructure:"profile"`
	InitialMax      int           `mapstructure:"initial_max"`
	SoftFactor      float64       `mapstructure:"soft_factor"`
	SevereFactor    float64       `mapstructure:"severe_factor"`
	RecoveryStep    int           `mapstructure:"recovery_step"`
	DecayQuiet      time.Duration `mapstructure:"decay_quiet"`
	Floor           int           `mapstructure:"floor"`
	SevereThreshold int           `mapstructure:"severe_threshold"`
}

// WorkerConfig holds defaults applied to job workers that leave fields unset.
type WorkerConfig struct {
	Name              string        `mapstructure:"name"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxConcurrentJobs int           `mapstructure:"max_concurrent_jobs"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	PollTimeout       time.Duration `mapstructure:"poll_timeout"`
}

// ObservabilityConfig configures logging and tracing.
type ObservabilityConfig struct {
	ServiceName       string  `mapstructure:"service_name"`
	LogLevel          string  `mapstructure:"log_level"`
	LogFormat         string  `mapstructure:"log_format"`
	TracingEnabled    bool    `mapstructure:"tracing_enabled"`
	TracingEndpoint   string  `mapstructure:"tracing_endpoint"`
	TracingSampleRate float64 `mapstructure:"tracing_sample_rate"`
	TracingInsecure   bool    `mapstructure:"tracing_insecure"`
}

// DefaultConfig returns a configuration pointing at a local engine without auth.
func DefaultConfig() *Config {
	return &Config{
		Client: ClientConfig{
			RestAddress:    "http://localhost:8080/v2",
			TenantID:       DefaultTenantID,
			ThrowOnError:   true,
			RequestTimeout: 30 * time.Second,
		},
		Auth: AuthConfig{
			Strategy: AuthStrategyNone,
			OAuth: OAuthConfig{
				Timeout:          5 * time.Second,
				RetryMaxAttempts: 3,
				RetryBaseDelay:   time.Second,
				RetryMaxDelay:    10 * time.Second,
			},
		},
		HTTP: HTTPConfig{
			RetryMaxAttempts: resilience.DefaultRetryMaxAttempts,
			RetryBaseDelay:   resilience.DefaultRetryBaseDelay,
			RetryMaxDelay:    resilience.DefaultRetryMaxDelay,
		},
		Backpressure: BackpressureConfig{
			Profile: ProfileBalanced,
		},
		Worker: WorkerConfig{
			Name:              "orchestra-worker",
			Timeout:           5 * time.Minute,
			MaxConcurrentJobs: 10,
			PollInterval:      500 * time.Millisecond,
		},
		Observability: ObservabilityConfig{
			ServiceName:       "orchestra",
			LogLevel:          "info",
			LogFormat:         "json",
			TracingSampleRate: 1,
		},
	}
}

// RetryConfig converts the HTTP retry settings.
func (c HTTPConfig) RetryConfig() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts: c.RetryMaxAttempts,
		BaseDelay:   c.RetryBaseDelay,
		MaxDelay:    c.RetryMaxDelay,
	}
}

// TokenManagerConfig converts the OAuth settings.
func (c OAuthConfig) TokenManagerConfig() auth.OAuthConfig {
	return auth.OAuthConfig{
		TokenURL:     c.URL,
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Audience:     c.Audience,
		Scope:        c.Scope,
		Timeout:      c.Timeout,
		Retry: resilience.RetryConfig{
			MaxAttempts: c.RetryMaxAttempts,
			BaseDelay:   c.RetryBaseDelay,
			MaxDelay:    c.RetryMaxDelay,
		},
	}
}
