// Config loader with environment overrides and validation
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/Aidin1998/talentboard/internal/infrastructure/middleware"
	"github.com/Aidin1998/talentboard/internal/infrastructure/ratelimit"
)

// EnvPrefix prefixes every environment variable read by the loader.
const EnvPrefix = "TALENTBOARD"

// rateLimitMaxKey is read from TALENTBOARD_RATE_LIMIT_MAX.
const rateLimitMaxKey = "rate_limit.max"

// DefaultConfigPaths are tried, in order, when Load gets no paths.
var DefaultConfigPaths = []string{
	"./config.yaml",
	"./configs/config.yaml",
	"/etc/talentboard/config.yaml",
}

// Load reads the configuration from the given YAML files (missing files are
// skipped) and the environment, applies environment-specific defaults and
// validates the result.
func Load(logger *zap.Logger, configPaths ...string) (*Config, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("config")

	v := viper.New()
	setupViper(v)

	if err := loadConfigFiles(v, logger, configPaths...); err != nil {
		return nil, fmt.Errorf("failed to load config files: %w", err)
	}

	env := strings.ToLower(v.GetString("environment"))
	setDefaults(v, env)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Environment = env

	if err := applyRateLimitOverride(v, &cfg, logger); err != nil {
		return nil, err
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Environment),
		zap.String("profile", cfg.Security.Profile),
		zap.Int("stages", len(cfg.Security.Stages)),
		zap.String("rate_limit_store", cfg.RateLimit.Store))
	return &cfg, nil
}

// setupViper configures viper settings
func setupViper(v *viper.Viper) {
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("environment", EnvDevelopment)
	_ = v.BindEnv(rateLimitMaxKey)
}

// loadConfigFiles merges every existing file in order
func loadConfigFiles(v *viper.Viper, logger *zap.Logger, configPaths ...string) error {
	explicit := len(configPaths) > 0
	if !explicit {
		configPaths = DefaultConfigPaths
	}

	var loaded []string
	for _, path := range configPaths {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			if explicit {
				return fmt.Errorf("config file %s not found", path)
			}
			logger.Debug("Config file not found, skipping", zap.String("path", path))
			continue
		}

		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return fmt.Errorf("failed to load config file %s: %w", path, err)
		}
		loaded = append(loaded, path)
	}

	if len(loaded) == 0 {
		logger.Info("No configuration files found, using defaults and environment variables")
	} else {
		logger.Info("Loaded configuration files", zap.Strings("files", loaded))
	}
	return nil
}

// setDefaults registers every key so AutomaticEnv can override it. The test
// environment gets a general budget high enough for automated suites.
func setDefaults(v *viper.Viper, env string) {
	limits := middleware.DefaultLimits()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.max_header_bytes", 1<<20)
	v.SetDefault("server.trusted_proxies", []string{})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	if env == EnvDevelopment {
		v.SetDefault("logging.level", "debug")
		v.SetDefault("logging.format", "console")
	}

	v.SetDefault("security.profile", middleware.ProfileEnhanced)
	v.SetDefault("security.stages", []string{})
	v.SetDefault("security.allowed_redirect_hosts", []string{})
	v.SetDefault("security.patterns_file", "")
	v.SetDefault("security.limits.max_content_length", limits.MaxContentLength)
	v.SetDefault("security.limits.max_depth", limits.MaxDepth)
	v.SetDefault("security.limits.max_fields", limits.MaxFields)
	v.SetDefault("security.limits.max_headers", limits.MaxHeaders)
	v.SetDefault("security.limits.max_header_length", limits.MaxHeaderLength)
	v.SetDefault("security.limits.max_cookie_length", limits.MaxCookieLength)

	generalLimit := 100
	if env == EnvTest {
		generalLimit = 10000
	}
	v.SetDefault("rate_limit.store", ratelimit.StoreMemory)
	v.SetDefault("rate_limit.memory_size", ratelimit.DefaultMemoryStoreSize)
	v.SetDefault("rate_limit.badger_dir", "")
	v.SetDefault("rate_limit.redis.addr", "localhost:6379")
	v.SetDefault("rate_limit.redis.password", "")
	v.SetDefault("rate_limit.redis.db", 0)
	v.SetDefault("rate_limit.general.name", "general")
	v.SetDefault("rate_limit.general.limit", generalLimit)
	v.SetDefault("rate_limit.general.window", 15*time.Minute)
	v.SetDefault("rate_limit.general.skip_successful", false)
	v.SetDefault("rate_limit.auth.name", "auth")
	v.SetDefault("rate_limit.auth.limit", 5)
	v.SetDefault("rate_limit.auth.window", 15*time.Minute)
	v.SetDefault("rate_limit.auth.skip_successful", true)
	v.SetDefault("rate_limit.auth.route_prefixes", middleware.DefaultAuthRoutePrefixes)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "security.rejections")
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.batch_timeout", 50*time.Millisecond)
	v.SetDefault("kafka.write_timeout", time.Second)
	v.SetDefault("kafka.compression", "snappy")
	v.SetDefault("kafka.max_events_per_second", 200.0)

	v.SetDefault("telemetry.service_name", "talentboard")
	v.SetDefault("telemetry.tracing", false)
	v.SetDefault("telemetry.metrics", false)
	v.SetDefault("telemetry.metric_interval", time.Minute)

	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"})
	v.SetDefault("cors.max_age", 12*time.Hour)
}

// applyRateLimitOverride lets TALENTBOARD_RATE_LIMIT_MAX replace the general
// budget outside production.
func applyRateLimitOverride(v *viper.Viper, cfg *Config, logger *zap.Logger) error {
	raw := strings.TrimSpace(v.GetString(rateLimitMaxKey))
	if raw == "" {
		return nil
	}
	if cfg.IsProduction() {
		logger.Warn("Ignoring rate limit override in production", zap.String("value", raw))
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fmt.Errorf("invalid %s_RATE_LIMIT_MAX %q: must be a positive integer", EnvPrefix, raw)
	}
	cfg.RateLimit.General.Limit = n
	return nil
}

var validate = validator.New()

// Validate checks struct tags and the rules that span several fields.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return validateCustomRules(cfg)
}

// validateCustomRules performs additional custom validation
func validateCustomRules(cfg *Config) error {
	known := make(map[string]struct{})
	for _, name := range middleware.KnownStages() {
		known[name] = struct{}{}
	}
	for _, name := range cfg.Security.Stages {
		if _, ok := known[strings.ToLower(strings.TrimSpace(name))]; !ok {
			return fmt.Errorf("security.stages: unknown stage %q", name)
		}
	}

	if cfg.RateLimit.General.Name == cfg.RateLimit.Auth.Name {
		return fmt.Errorf("rate_limit: general and auth governors need distinct names")
	}
	if cfg.RateLimit.Store == ratelimit.StoreRedis && cfg.RateLimit.Redis.Addr == "" {
		return fmt.Errorf("rate_limit: redis store selected but no address configured")
	}
	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) == 0 {
		return fmt.Errorf("Kafka is enabled but no brokers are configured")
	}

	if cfg.IsProduction() {
		for _, origin := range cfg.CORS.AllowedOrigins {
			if origin == "*" {
				return fmt.Errorf("production environment should not allow all CORS origins")
			}
		}
	}
	return nil
}
