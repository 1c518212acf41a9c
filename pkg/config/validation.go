package config

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/nimburion/orchestra/pkg/observability/logger"
)

const redactedValue = "***"

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	errs = append(errs, validateURL("client.rest_address", c.Client.RestAddress, true)...)
	if c.Client.RequestTimeout < 0 {
		errs = append(errs, errors.New("client.request_timeout must be >= 0"))
	}

	switch strings.ToLower(c.Auth.Strategy) {
	case "", AuthStrategyNone:
	case AuthStrategyBasic:
		if c.Auth.Basic.Username == "" {
			errs = append(errs, errors.New("auth.basic.username is required when auth.strategy is basic"))
		}
		if c.Auth.Basic.Password == "" {
			errs = append(errs, errors.New("auth.basic.password is required when auth.strategy is basic"))
		}
	case AuthStrategyOAuth:
		errs = append(errs, validateURL("auth.oauth.url", c.Auth.OAuth.URL, true)...)
		if c.Auth.OAuth.ClientID == "" {
			errs = append(errs, errors.New("auth.oauth.client_id is required when auth.strategy is oauth"))
		}
		if c.Auth.OAuth.ClientSecret == "" {
			errs = append(errs, errors.New("auth.oauth.client_secret is required when auth.strategy is oauth"))
		}
		if c.Auth.OAuth.Timeout <= 0 {
			errs = append(errs, errors.New("auth.oauth.timeout must be > 0"))
		}
		errs = append(errs, validateRetry("auth.oauth", c.Auth.OAuth.RetryMaxAttempts, c.Auth.OAuth.RetryBaseDelay, c.Auth.OAuth.RetryMaxDelay)...)
	default:
		errs = append(errs, fmt.Errorf("auth.strategy must be one of: %s, %s, %s", AuthStrategyNone, AuthStrategyBasic, AuthStrategyOAuth))
	}

	errs = append(errs, validateRetry("http", c.HTTP.RetryMaxAttempts, c.HTTP.RetryBaseDelay, c.HTTP.RetryMaxDelay)...)
	if c.HTTP.RateLimit < 0 {
		errs = append(errs, errors.New("http.rate_limit must be >= 0"))
	}
	if c.HTTP.RateLimit > 0 && c.HTTP.RateBurst < 1 {
		errs = append(errs, errors.New("http.rate_burst must be >= 1 when http.rate_limit is set"))
	}

	errs = append(errs, c.Backpressure.validate()...)

	if c.Worker.Timeout < 0 {
		errs = append(errs, errors.New("worker.timeout must be >= 0"))
	}
	if c.Worker.MaxConcurrentJobs < 1 {
		errs = append(errs, errors.New("worker.max_concurrent_jobs must be >= 1"))
	}
	if c.Worker.PollInterval <= 0 {
		errs = append(errs, errors.New("worker.poll_interval must be > 0"))
	}
	if c.Worker.PollTimeout < 0 {
		errs = append(errs, errors.New("worker.poll_timeout must be >= 0"))
	}

	if _, err := logger.ParseLogLevel(c.Observability.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("observability.log_level: %w", err))
	}
	if _, err := logger.ParseLogFormat(c.Observability.LogFormat); err != nil {
		errs = append(errs, fmt.Errorf("observability.log_format: %w", err))
	}
	if c.Observability.TracingEnabled && strings.TrimSpace(c.Observability.TracingEndpoint) == "" {
		errs = append(errs, errors.New("observability.tracing_endpoint is required when tracing is enabled"))
	}
	if c.Observability.TracingSampleRate < 0 || c.Observability.TracingSampleRate > 1 {
		errs = append(errs, errors.New("observability.tracing_sample_rate must be within [0,1]"))
	}

	return errors.Join(errs...)
}

func (c BackpressureConfig) validate() []error {
	resolved, err := c.Resolve()
	if err != nil {
		return []error{fmt.Errorf("backpressure.profile: %w", err)}
	}
	if !resolved.Enabled {
		return nil
	}
	var errs []error
	if resolved.SoftFactor <= 0 || resolved.SoftFactor >= 1 {
		errs = append(errs, errors.New("backpressure.soft_factor must be within (0,1)"))
	}
	if resolved.SevereFactor <= 0 || resolved.SevereFactor >= 1 {
		errs = append(errs, errors.New("backpressure.severe_factor must be within (0,1)"))
	}
	if resolved.Floor < 1 {
		errs = append(errs, errors.New("backpressure.floor must be >= 1"))
	}
	if resolved.InitialMax < resolved.Floor {
		errs = append(errs, errors.New("backpressure.initial_max must be >= backpressure.floor"))
	}
	if resolved.SevereThreshold < 1 {
		errs = append(errs, errors.New("backpressure.severe_threshold must be >= 1"))
	}
	return errs
}

func validateRetry(prefix string, attempts int, base, max time.Duration) []error {
	var errs []error
	if attempts < 1 {
		errs = append(errs, fmt.Errorf("%s.retry_max_attempts must be >= 1", prefix))
	}
	if base < 0 {
		errs = append(errs, fmt.Errorf("%s.retry_base_delay must be >= 0", prefix))
	}
	if max < base {
		errs = append(errs, fmt.Errorf("%s.retry_max_delay must be >= %s.retry_base_delay", prefix, prefix))
	}
	return errs
}

func validateURL(key, raw string, required bool) []error {
	if strings.TrimSpace(raw) == "" {
		if required {
			return []error{fmt.Errorf("%s is required", key)}
		}
		return nil
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return []error{fmt.Errorf("%s is not a valid URL: %w", key, err)}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return []error{fmt.Errorf("%s must use http or https", key)}
	}
	if parsed.Host == "" {
		return []error{fmt.Errorf("%s must include a host", key)}
	}
	return nil
}

// String returns the configuration with secret fields masked.
func (c *Config) String() string {
	return formatStruct(reflect.ValueOf(c).Elem(), "")
}

// Redacted returns the configuration as nested maps keyed by setting name,
// with secret fields masked. Suitable for YAML or JSON rendering.
func (c *Config) Redacted() map[string]any {
	return structToMap(reflect.ValueOf(c).Elem())
}

func formatStruct(v reflect.Value, prefix string) string {
	var sb strings.Builder
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := t.Field(i)
		value := v.Field(i)
		if !value.CanInterface() {
			continue
		}

		name := fieldName(field)
		if value.Kind() == reflect.Struct {
			sb.WriteString(fmt.Sprintf("%s%s:\n", prefix, name))
			sb.WriteString(formatStruct(value, prefix+"  "))
			continue
		}
		sb.WriteString(fmt.Sprintf("%s%s: %v\n", prefix, name, displayValue(field, value)))
	}

	return sb.String()
}

func structToMap(v reflect.Value) map[string]any {
	out := make(map[string]any, v.NumField())
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := t.Field(i)
		value := v.Field(i)
		if !value.CanInterface() {
			continue
		}
		if value.Kind() == reflect.Struct {
			out[fieldName(field)] = structToMap(value)
			continue
		}
		display := displayValue(field, value)
		if s, ok := display.(fmt.Stringer); ok {
			display = s.String()
		}
		out[fieldName(field)] = display
	}
	return out
}

func fieldName(field reflect.StructField) string {
	if tag := field.Tag.Get("mapstructure"); tag != "" && tag != "-" {
		return tag
	}
	return field.Name
}

func displayValue(field reflect.StructField, value reflect.Value) any {
	if field.Tag.Get("secret") == "true" && !value.IsZero() {
		return redactedValue
	}
	return value.Interface()
}
