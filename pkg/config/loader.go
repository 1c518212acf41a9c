package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// DefaultEnvPrefix prefixes every environment variable and flat-map key.
const DefaultEnvPrefix = "ORCHESTRA"

// Loader defines the interface for loading configuration
type Loader interface {
	Load() (*Config, error)
	Validate(*Config) error
}

// setting maps one configuration key to its environment suffix and CLI flag.
type setting struct {
	key  string
	env  string
	flag string
}

var settings = []setting{
	{key: "client.rest_address", env: "REST_ADDRESS", flag: "rest-address"},
	{key: "client.tenant_id", env: "TENANT_ID", flag: "tenant-id"},
	{key: "client.throw_on_error", env: "THROW_ON_ERROR"},
	{key: "client.request_timeout", env: "REQUEST_TIMEOUT"},
	{key: "client.user_agent", env: "USER_AGENT"},

	{key: "auth.strategy", env: "AUTH_STRATEGY", flag: "auth-strategy"},
	{key: "auth.basic.username", env: "AUTH_BASIC_USERNAME"},
	{key: "auth.basic.password", env: "AUTH_BASIC_PASSWORD"},
	{key: "auth.oauth.url", env: "OAUTH_URL"},
	{key: "auth.oauth.client_id", env: "OAUTH_CLIENT_ID"},
	{key: "auth.oauth.client_secret", env: "OAUTH_CLIENT_SECRET"},
	{key: "auth.oauth.audience", env: "OAUTH_AUDIENCE"},
	{key: "auth.oauth.scope", env: "OAUTH_SCOPE"},
	{key: "auth.oauth.timeout", env: "OAUTH_TIMEOUT"},
	{key: "auth.oauth.retry_max_attempts", env: "OAUTH_RETRY_MAX_ATTEMPTS"},
	{key: "auth.oauth.retry_base_delay", env: "OAUTH_RETRY_BASE_DELAY"},
	{key: "auth.oauth.retry_max_delay", env: "OAUTH_RETRY_MAX_DELAY"},

	{key: "http.retry_max_attempts", env: "HTTP_RETRY_MAX_ATTEMPTS"},
	{key: "http.retry_base_delay", env: "HTTP_RETRY_BASE_DELAY"},
	{key: "http.retry_max_delay", env: "HTTP_RETRY_MAX_DELAY"},
	{key: "http.rate_limit", env: "HTTP_RATE_LIMIT"},
	{key: "http.rate_burst", env: "HTTP_RATE_BURST"},

	{key: "backpressure.profile", env: "BACKPRESSURE_PROFILE", flag: "backpressure-profile"},
	{key: "backpressure.initial_max", env: "BACKPRESSURE_INITIAL_MAX"},
	{key: "backpressure.soft_factor", env: "BACKPRESSURE_SOFT_FACTOR"},
	{key: "backpressure.severe_factor", env: "BACKPRESSURE_SEVERE_FACTOR"},
	{key: "backpressure.recovery_step", env: "BACKPRESSURE_RECOVERY_STEP"},
	{key: "backpressure.decay_quiet", env: "BACKPRESSURE_DECAY_QUIET"},
	{key: "backpressure.floor", env: "BACKPRESSURE_FLOOR"},
	{key: "backpressure.severe_threshold", env: "BACKPRESSURE_SEVERE_THRESHOLD"},

	{key: "worker.name", env: "WORKER_NAME", flag: "worker-name"},
	{key: "worker.timeout", env: "WORKER_TIMEOUT"},
	{key: "worker.max_concurrent_jobs", env: "WORKER_MAX_CONCURRENT_JOBS", flag: "max-concurrent-jobs"},
	{key: "worker.poll_interval", env: "WORKER_POLL_INTERVAL"},
	{key: "worker.poll_timeout", env: "WORKER_POLL_TIMEOUT"},

	{key: "observability.service_name", env: "SERVICE_NAME"},
	{key: "observability.log_level", env: "LOG_LEVEL", flag: "log-level"},
	{key: "observability.log_format", env: "LOG_FORMAT"},
	{key: "observability.tracing_enabled", env: "TRACING_ENABLED"},
	{key: "observability.tracing_endpoint", env: "TRACING_ENDPOINT"},
	{key: "observability.tracing_sample_rate", env: "TRACING_SAMPLE_RATE"},
	{key: "observability.tracing_insecure", env: "TRACING_INSECURE"},
}

// ViperLoader implements Loader using Viper for configuration management
type ViperLoader struct {
	configFile string
	envPrefix  string
	flags      *pflag.FlagSet
}

// NewViperLoader creates a new ViperLoader.
// configFile is optional; envPrefix defaults to DefaultEnvPrefix.
func NewViperLoader(configFile, envPrefix string) *ViperLoader {
	if strings.TrimSpace(envPrefix) == "" {
		envPrefix = DefaultEnvPrefix
	}
	return &ViperLoader{
		configFile: configFile,
		envPrefix:  envPrefix,
	}
}

// WithFlags binds CLI flags; a flag that was set overrides env and file.
func (l *ViperLoader) WithFlags(flags *pflag.FlagSet) *ViperLoader {
	l.flags = flags
	return l
}

// Load loads configuration with precedence: flags > ENV > file > defaults
func (l *ViperLoader) Load() (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", l.configFile, err)
		}
	}

	for _, s := range settings {
		if err := v.BindEnv(s.key, l.prefixed(s.env)); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", s.key, err)
		}
	}
	if err := l.bindFlags(v); err != nil {
		return nil, err
	}

	return decodeAndValidate(v, l)
}

// Validate validates cfg and aggregates every problem into one error.
func (l *ViperLoader) Validate(cfg *Config) error {
	return cfg.Validate()
}

func (l *ViperLoader) bindFlags(v *viper.Viper) error {
	if l.flags == nil {
		return nil
	}
	for _, s := range settings {
		if s.flag == "" {
			continue
		}
		flag := l.flags.Lookup(s.flag)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(s.key, flag); err != nil {
			return fmt.Errorf("bind flag %s: %w", s.flag, err)
		}
	}
	return nil
}

func (l *ViperLoader) prefixed(suffix string) string {
	return l.envPrefix + "_" + suffix
}

// RegisterFlags adds the CLI flags understood by WithFlags.
func RegisterFlags(flags *pflag.FlagSet) {
	defaults := DefaultConfig()
	flags.String("rest-address", defaults.Client.RestAddress, "engine REST API address")
	flags.String("tenant-id", defaults.Client.TenantID, "default tenant id")
	flags.String("auth-strategy", defaults.Auth.Strategy, "auth strategy: none, basic or oauth")
	flags.String("backpressure-profile", defaults.Backpressure.Profile, "backpressure profile")
	flags.String("worker-name", defaults.Worker.Name, "worker name reported on activation")
	flags.Int("max-concurrent-jobs", defaults.Worker.MaxConcurrentJobs, "maximum jobs handled concurrently")
	flags.String("log-level", defaults.Observability.LogLevel, "log level")
}

// LoadFromMap builds a configuration from a flat string-keyed map such as
// {"ORCHESTRA_REST_ADDRESS": "https://...", "ORCHESTRA_AUTH_STRATEGY": "oauth"}.
// Keys with the prefix that do not name a setting are reported as errors;
// keys without the prefix are ignored so a full environment can be passed in.
func LoadFromMap(values map[string]string, envPrefix string) (*Config, error) {
	if strings.TrimSpace(envPrefix) == "" {
		envPrefix = DefaultEnvPrefix
	}
	v := viper.New()
	setDefaults(v, DefaultConfig())

	byEnv := make(map[string]string, len(settings))
	for _, s := range settings {
		byEnv[envPrefix+"_"+s.env] = s.key
	}

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var errs []error
	for _, raw := range keys {
		key := strings.ToUpper(strings.TrimSpace(raw))
		if !strings.HasPrefix(key, envPrefix+"_") {
			continue
		}
		target, ok := byEnv[key]
		if !ok {
			errs = append(errs, fmt.Errorf("unknown setting %s", raw))
			continue
		}
		v.Set(target, strings.TrimSpace(values[raw]))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("config validation failed: %w", errors.Join(errs...))
	}

	return decodeAndValidate(v, nil)
}

func decodeAndValidate(v *viper.Viper, loader Loader) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	validate := cfg.Validate
	if loader != nil {
		validate = func() error { return loader.Validate(&cfg) }
	}
	if err := validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("client.rest_address", cfg.Client.RestAddress)
	v.SetDefault("client.tenant_id", cfg.Client.TenantID)
	v.SetDefault("client.throw_on_error", cfg.Client.ThrowOnError)
	v.SetDefault("client.request_timeout", cfg.Client.RequestTimeout)
	v.SetDefault("client.user_agent", cfg.Client.UserAgent)

	v.SetDefault("auth.strategy", cfg.Auth.Strategy)
	v.SetDefault("auth.basic.username", cfg.Auth.Basic.Username)
	v.SetDefault("auth.basic.password", cfg.Auth.Basic.Password)
	v.SetDefault("auth.oauth.url", cfg.Auth.OAuth.URL)
	v.SetDefault("auth.oauth.client_id", cfg.Auth.OAuth.ClientID)
	v.SetDefault("auth.oauth.client_secret", cfg.Auth.OAuth.ClientSecret)
	v.SetDefault("auth.oauth.audience", cfg.Auth.OAuth.Audience)
	v.SetDefault("auth.oauth.scope", cfg.Auth.OAuth.Scope)
	v.SetDefault("auth.oauth.timeout", cfg.Auth.OAuth.Timeout)
	v.SetDefault("auth.oauth.retry_max_attempts", cfg.Auth.OAuth.RetryMaxAttempts)
	v.SetDefault("auth.oauth.retry_base_delay", cfg.Auth.OAuth.RetryBaseDelay)
	v.SetDefault("auth.oauth.retry_max_delay", cfg.Auth.OAuth.RetryMaxDelay)

	v.SetDefault("http.retry_max_attempts", cfg.HTTP.RetryMaxAttempts)
	v.SetDefault("http.retry_base_delay", cfg.HTTP.RetryBaseDelay)
	v.SetDefault("http.retry_max_delay", cfg.HTTP.RetryMaxDelay)
	v.SetDefault("http.rate_limit", cfg.HTTP.RateLimit)
	v.SetDefault("http.rate_burst", cfg.HTTP.RateBurst)

	v.SetDefault("backpressure.profile", cfg.Backpressure.Profile)
	v.SetDefault("backpressure.initial_max", cfg.Backpressure.InitialMax)
	v.SetDefault("backpressure.soft_factor", cfg.Backpressure.SoftFactor)
	v.SetDefault("backpressure.severe_factor", cfg.Backpressure.SevereFactor)
	v.SetDefault("backpressure.recovery_step", cfg.Backpressure.RecoveryStep)
	v.SetDefault("backpressure.decay_quiet", cfg.Backpressure.DecayQuiet)
	v.SetDefault("backpressure.floor", cfg.Backpressure.Floor)
	v.SetDefault("backpressure.severe_threshold", cfg.Backpressure.SevereThreshold)

	v.SetDefault("worker.name", cfg.Worker.Name)
	v.SetDefault("worker.timeout", cfg.Worker.Timeout)
	v.SetDefault("worker.max_concurrent_jobs", cfg.Worker.MaxConcurrentJobs)
	v.SetDefault("worker.poll_interval", cfg.Worker.PollInterval)
	v.SetDefault("worker.poll_timeout", cfg.Worker.PollTimeout)

	v.SetDefault("observability.service_name", cfg.Observability.ServiceName)
	v.SetDefault("observability.log_level", cfg.Observability.LogLevel)
	v.SetDefault("observability.log_format", cfg.Observability.LogFormat)
	v.SetDefault("observability.tracing_enabled", cfg.Observability.TracingEnabled)
	v.SetDefault("observability.tracing_endpoint", cfg.Observability.TracingEndpoint)
	v.SetDefault("observability.tracing_sample_rate", cfg.Observability.TracingSampleRate)
	v.SetDefault("observability.tracing_insecure", cfg.Observability.TracingInsecure)
}
