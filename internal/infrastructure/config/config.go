// Package config loads the service configuration from YAML files and
// TALENTBOARD_* environment variables.
package config

import (
	"time"

	"github.com/Aidin1998/talentboard/internal/infrastructure/audit"
	"github.com/Aidin1998/talentboard/internal/infrastructure/middleware"
	"github.com/Aidin1998/talentboard/internal/infrastructure/ratelimit"
)

// Environments
const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
	EnvTest        = "test"
)

// Config is the root configuration object
type Config struct {
	Environment string            `mapstructure:"environment" yaml:"environment" validate:"required,oneof=production development test"`
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
	Security    SecurityConfig    `mapstructure:"security" yaml:"security"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit" yaml:"rate_limit"`
	Kafka       audit.KafkaConfig `mapstructure:"kafka" yaml:"kafka"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry" yaml:"telemetry"`
	CORS        CORSConfig        `mapstructure:"cors" yaml:"cors"`
}

// IsProduction reports whether the production environment is active.
func (c *Config) IsProduction() bool { return c.Environment == EnvProduction }

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" validate:"gt=0"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gt=0"`
	MaxHeaderBytes  int           `mapstructure:"max_header_bytes" yaml:"max_header_bytes"`
	// TrustedProxies may set the client IP through X-Forwarded-For. Empty
	// means the peer address is always the client IP.
	TrustedProxies []string `mapstructure:"trusted_proxies" yaml:"trusted_proxies" validate:"dive,ip|cidr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=json console"`
}

// SecurityConfig selects the inspection stages and their limits. A
// non-empty Stages list replaces the profile entirely.
type SecurityConfig struct {
	Profile              string            `mapstructure:"profile" yaml:"profile" validate:"required,oneof=minimal enhanced"`
	Stages               []string          `mapstructure:"stages" yaml:"stages"`
	Limits               middleware.Limits `mapstructure:"limits" yaml:"limits"`
	AllowedRedirectHosts []string          `mapstructure:"allowed_redirect_hosts" yaml:"allowed_redirect_hosts"`
	// PatternsFile holds extra patterns added to the built-in set.
	PatternsFile string `mapstructure:"patterns_file" yaml:"patterns_file"`
}

// RateLimitConfig configures both governors and their shared store
type RateLimitConfig struct {
	Store      string                `mapstructure:"store" yaml:"store" validate:"required,oneof=memory redis badger"`
	MemorySize int                   `mapstructure:"memory_size" yaml:"memory_size" validate:"min=0"`
	BadgerDir  string                `mapstructure:"badger_dir" yaml:"badger_dir"`
	Redis      ratelimit.RedisConfig `mapstructure:"redis" yaml:"redis"`
	General    ratelimit.Config      `mapstructure:"general" yaml:"general"`
	Auth       AuthRateLimitConfig   `mapstructure:"auth" yaml:"auth"`
}

// AuthRateLimitConfig is the stricter governor for authentication routes
type AuthRateLimitConfig struct {
	ratelimit.Config `mapstructure:",squash" yaml:",inline"`
	RoutePrefixes    []string `mapstructure:"route_prefixes" yaml:"route_prefixes" validate:"required,min=1"`
}

// TelemetryConfig enables the stdout OpenTelemetry exporters
type TelemetryConfig struct {
	ServiceName    string        `mapstructure:"service_name" yaml:"service_name" validate:"required"`
	Tracing        bool          `mapstructure:"tracing" yaml:"tracing"`
	Metrics        bool          `mapstructure:"metrics" yaml:"metrics"`
	MetricInterval time.Duration `mapstructure:"metric_interval" yaml:"metric_interval"`
}

// CORSConfig configures cross-origin access
type CORSConfig struct {
	AllowedOrigins []string      `mapstructure:"allowed_origins" yaml:"allowed_origins" validate:"required,min=1"`
	AllowedMethods []string      `mapstructure:"allowed_methods" yaml:"allowed_methods"`
	AllowedHeaders []string      `mapstructure:"allowed_headers" yaml:"allowed_headers"`
	MaxAge         time.Duration `mapstructure:"max_age" yaml:"max_age"`
}

// StageNames returns the configured stage list, or the profile's when none
// is configured.
func (s SecurityConfig) StageNames() ([]string, error) {
	if len(s.Stages) > 0 {
		return append([]string(nil), s.Stages...), nil
	}
	return middleware.ProfileStages(s.Profile)
}
