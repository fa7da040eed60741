// Package config loads sidecar and CLI settings from environment variables and .env files.
// It uses viper with defaults suitable for local development.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/TimurManjosov/flagship-go/internal/cache"
	"github.com/TimurManjosov/flagship-go/internal/logging"
	"github.com/TimurManjosov/flagship-go/internal/override"
	"github.com/TimurManjosov/flagship-go/internal/store"
)

// Config holds all settings loaded from environment variables or a .env file.
// Priority: environment variables > .env file > defaults.
type Config struct {
	SDKKey             string        // SDK key identifying the configuration document
	BaseURL            string        // Custom CDN base URL; empty uses the data governance default
	DataGovernance     string        // "global" or "eu"
	PollingMode        string        // "auto", "lazy" or "manual"
	PollInterval       time.Duration // Poll interval (auto) or cache TTL (lazy)
	CacheType          string        // Persistent cache backend: memory, redis or postgres
	RedisURL           string        // Redis connection URL when CacheType is redis
	DatabaseDSN        string        // PostgreSQL connection string when CacheType is postgres
	HTTPAddr           string        // Sidecar bind address
	MetricsAddr        string        // Metrics server bind address
	LogLevel           string        // zerolog level name
	LogFormat          string        // "json" or "console"
	RateLimitPerIP     int           // Sidecar requests per minute per client IP
	OverridesFile      string        // Optional local override file (YAML or JSON)
	OverridesBehaviour string        // local_only, local_over_remote or remote_over_local
	WebhookURLs        []string      // Endpoints notified when the configuration changes
	WebhookSecret      string        // HMAC signing secret for webhook deliveries
	WebhookMaxRetries  int           // Retries per webhook delivery
}

// Load reads configuration from environment variables and .env (if present).
// It does not validate; call Validate at startup.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env") // optional
	_ = v.ReadInConfig()
	v.AutomaticEnv()

	setConfigDefaults(v)

	return &Config{
		SDKKey:             v.GetString("FLAGSHIP_SDK_KEY"),
		BaseURL:            v.GetString("FLAGSHIP_BASE_URL"),
		DataGovernance:     v.GetString("FLAGSHIP_DATA_GOVERNANCE"),
		PollingMode:        v.GetString("FLAGSHIP_POLLING_MODE"),
		PollInterval:       v.GetDuration("FLAGSHIP_POLL_INTERVAL"),
		CacheType:          v.GetString("FLAGSHIP_CACHE_TYPE"),
		RedisURL:           v.GetString("FLAGSHIP_REDIS_URL"),
		DatabaseDSN:        v.GetString("FLAGSHIP_DB_DSN"),
		HTTPAddr:           v.GetString("FLAGSHIP_HTTP_ADDR"),
		MetricsAddr:        v.GetString("FLAGSHIP_METRICS_ADDR"),
		LogLevel:           v.GetString("FLAGSHIP_LOG_LEVEL"),
		LogFormat:          v.GetString("FLAGSHIP_LOG_FORMAT"),
		RateLimitPerIP:     v.GetInt("FLAGSHIP_RATE_LIMIT_PER_IP"),
		OverridesFile:      v.GetString("FLAGSHIP_OVERRIDES_FILE"),
		OverridesBehaviour: v.GetString("FLAGSHIP_OVERRIDES_BEHAVIOUR"),
		WebhookURLs:        splitList(v.GetString("FLAGSHIP_WEBHOOK_URLS")),
		WebhookSecret:      v.GetString("FLAGSHIP_WEBHOOK_SECRET"),
		WebhookMaxRetries:  v.GetInt("FLAGSHIP_WEBHOOK_MAX_RETRIES"),
	}, nil
}

func setConfigDefaults(v *viper.Viper) {
	v.SetDefault("FLAGSHIP_DATA_GOVERNANCE", "global")
	v.SetDefault("FLAGSHIP_POLLING_MODE", "auto")
	v.SetDefault("FLAGSHIP_POLL_INTERVAL", "60s")
	v.SetDefault("FLAGSHIP_CACHE_TYPE", store.TypeMemory)
	v.SetDefault("FLAGSHIP_REDIS_URL", "redis://localhost:6379/0")
	v.SetDefault("FLAGSHIP_HTTP_ADDR", ":8080")
	v.SetDefault("FLAGSHIP_METRICS_ADDR", ":9090")
	v.SetDefault("FLAGSHIP_LOG_LEVEL", "info")
	v.SetDefault("FLAGSHIP_LOG_FORMAT", logging.FormatJSON)
	v.SetDefault("FLAGSHIP_RATE_LIMIT_PER_IP", 600)
	v.SetDefault("FLAGSHIP_OVERRIDES_BEHAVIOUR", "local_over_remote")
	v.SetDefault("FLAGSHIP_WEBHOOK_MAX_RETRIES", 3)
}

// splitList splits a comma separated value, dropping empty items.
func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// CacheDSN returns the connection string of the configured cache backend.
func (c *Config) CacheDSN() string {
	switch c.CacheType {
	case store.TypeRedis:
		return c.RedisURL
	case store.TypePostgres:
		return c.DatabaseDSN
	}
	return ""
}

// ValidationError describes a configuration value that failed validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation failed [%s]: %s", e.Field, e.Message)
}

// Validate checks the configuration and returns the first failure as a
// ValidationError. Call it at startup to fail fast.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.SDKKey) == "" {
		return ValidationError{Field: "FLAGSHIP_SDK_KEY", Message: "SDK key cannot be empty"}
	}

	if c.BaseURL != "" {
		u, err := url.Parse(c.BaseURL)
		if err != nil || !u.IsAbs() || u.Host == "" {
			return ValidationError{Field: "FLAGSHIP_BASE_URL", Message: fmt.Sprintf("must be an absolute URL, got '%s'", c.BaseURL)}
		}
	}

	switch strings.ToLower(c.DataGovernance) {
	case "global", "eu":
	default:
		return ValidationError{Field: "FLAGSHIP_DATA_GOVERNANCE", Message: fmt.Sprintf("must be 'global' or 'eu', got '%s'", c.DataGovernance)}
	}

	if _, err := cache.ParsePollingMode(c.PollingMode); err != nil {
		return ValidationError{Field: "FLAGSHIP_POLLING_MODE", Message: fmt.Sprintf("must be 'auto', 'lazy' or 'manual', got '%s'", c.PollingMode)}
	}

	if c.PollInterval <= 0 {
		return ValidationError{Field: "FLAGSHIP_POLL_INTERVAL", Message: "poll interval must be positive"}
	}

	switch c.CacheType {
	case store.TypeMemory:
	case store.TypeRedis:
		if c.RedisURL == "" {
			return ValidationError{Field: "FLAGSHIP_REDIS_URL", Message: "Redis URL is required when FLAGSHIP_CACHE_TYPE=redis"}
		}
	case store.TypePostgres:
		if c.DatabaseDSN == "" {
			return ValidationError{Field: "FLAGSHIP_DB_DSN", Message: "database DSN is required when FLAGSHIP_CACHE_TYPE=postgres"}
		}
	default:
		return ValidationError{Field: "FLAGSHIP_CACHE_TYPE", Message: fmt.Sprintf("must be 'memory', 'redis' or 'postgres', got '%s'", c.CacheType)}
	}

	if c.HTTPAddr == "" {
		return ValidationError{Field: "FLAGSHIP_HTTP_ADDR", Message: "HTTP server address cannot be empty"}
	}
	if c.MetricsAddr == "" {
		return ValidationError{Field: "FLAGSHIP_METRICS_ADDR", Message: "metrics server address cannot be empty"}
	}

	if _, err := logging.New(logging.Options{Level: c.LogLevel, Format: c.LogFormat}); err != nil {
		return ValidationError{Field: "FLAGSHIP_LOG_LEVEL", Message: err.Error()}
	}

	if c.RateLimitPerIP <= 0 {
		return ValidationError{Field: "FLAGSHIP_RATE_LIMIT_PER_IP", Message: "rate limit must be positive"}
	}

	if c.OverridesFile != "" {
		if _, err := override.ParseBehaviour(c.OverridesBehaviour); err != nil {
			return ValidationError{Field: "FLAGSHIP_OVERRIDES_BEHAVIOUR", Message: err.Error()}
		}
	}

	for _, raw := range c.WebhookURLs {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return ValidationError{Field: "FLAGSHIP_WEBHOOK_URLS", Message: fmt.Sprintf("must be http(s) URLs, got '%s'", raw)}
		}
	}
	if c.WebhookMaxRetries < 0 {
		return ValidationError{Field: "FLAGSHIP_WEBHOOK_MAX_RETRIES", Message: "retries cannot be negative"}
	}

	return nil
}
