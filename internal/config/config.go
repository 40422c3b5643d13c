// Package config provides configuration helpers that define runtime defaults,
// validation, and environment loading for the realtime service.
package config

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Keys double as environment variable names once upper-cased by viper.
const (
	KeyPort            = "server_port"
	KeyAllowedOrigins  = "allowed_origins"
	KeyMaxMessageSize  = "max_message_size"
	KeyRateBurst       = "rate_limit_burst"
	KeyRateRefill      = "rate_limit_refill_interval"
	KeySendBufferSize  = "send_buffer_size"
	KeyPongWait        = "pong_wait"
	KeyPingPeriod      = "ping_period"
	KeyWriteWait       = "write_wait"
	KeyJWTSecret       = "jwt_secret"
	KeyInternalAPIKey  = "internal_api_key"
	KeySpinDelay       = "spin_delay"
	KeyShutdownTimeout = "shutdown_timeout"
	KeyDatabaseDriver  = "database_driver"
	KeyDatabaseURL     = "database_url"
	KeyPushWebhookURL  = "push_webhook_url"
	KeyPushQueueSize   = "push_queue_size"
	KeyPushTimeout     = "push_timeout"
	KeyPushRetries     = "push_retries"
	KeyLogLevel        = "log_level"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `validate:"min=1"`
	RefillInterval time.Duration `validate:"gt=0"`
}

// DatabaseConfig points at the application database used for partner and
// journal lookups. An empty URL disables it.
type DatabaseConfig struct {
	Driver string `validate:"required_with=URL"`
	URL    string
}

// PushConfig configures the offline push collaborator. An empty WebhookURL
// makes pushes log-only.
type PushConfig struct {
	WebhookURL string `validate:"omitempty,url"`
	QueueSize  int    `validate:"min=1"`
	Timeout    time.Duration
	Retries    int `validate:"min=0"`
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port            string `validate:"required"`
	AllowedOrigins  []string
	AllowAllOrigins bool
	MaxMessageSize  int64 `validate:"min=64"`
	SendBufferSize  int   `validate:"min=1"`
	RateLimit       RateLimitConfig

	PongWait   time.Duration `validate:"gt=0"`
	PingPeriod time.Duration `validate:"gt=0,ltfield=PongWait"`
	WriteWait  time.Duration `validate:"gt=0"`

	JWTSecret      string `validate:"required"`
	InternalAPIKey string

	SpinDelay       time.Duration `validate:"min=0"`
	ShutdownTimeout time.Duration `validate:"gt=0"`

	Database DatabaseConfig
	Push     PushConfig

	LogLevel string `validate:"oneof=debug info warn error"`
}

// Default returns a Config populated with default values for all settings.
// The JWT secret has no default and must be supplied.
func Default() Config {
	return Config{
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: 4096,
		SendBufferSize: 256,
		RateLimit: RateLimitConfig{
			Burst:          10,
			RefillInterval: time.Second,
		},
		PongWait:        60 * time.Second,
		PingPeriod:      54 * time.Second,
		WriteWait:       10 * time.Second,
		SpinDelay:       3 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		Database: DatabaseConfig{
			Driver: "postgres",
		},
		Push: PushConfig{
			QueueSize: 1024,
			Timeout:   5 * time.Second,
			Retries:   2,
		},
		LogLevel: "info",
	}
}

// Sanitize replaces missing or nonsensical values with defaults and
// normalizes origins.
func Sanitize(cfg Config) Config {
	def := Default()

	if cfg.Port == "" {
		cfg.Port = def.Port
	}
	if !strings.Contains(cfg.Port, ":") {
		cfg.Port = ":" + cfg.Port
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = def.SendBufferSize
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = def.RateLimit.Burst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = def.PongWait
	}
	if cfg.PingPeriod <= 0 || cfg.PingPeriod >= cfg.PongWait {
		cfg.PingPeriod = cfg.PongWait * 9 / 10
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = def.WriteWait
	}
	if cfg.SpinDelay < 0 {
		cfg.SpinDelay = def.SpinDelay
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = def.Database.Driver
	}
	if cfg.Push.QueueSize <= 0 {
		cfg.Push.QueueSize = def.Push.QueueSize
	}
	if cfg.Push.Timeout <= 0 {
		cfg.Push.Timeout = def.Push.Timeout
	}
	if cfg.Push.Retries < 0 {
		cfg.Push.Retries = 0
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}

	origins, allowAll := NormalizeOrigins(cfg.AllowedOrigins)
	cfg.AllowedOrigins = origins
	cfg.AllowAllOrigins = cfg.AllowAllOrigins || allowAll
	return cfg
}

// Validate checks the struct constraints of cfg.
func Validate(cfg Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	return nil
}

// Load reads the configuration from v (config file, environment and bound
// flags), applies defaults and validates the result.
func Load(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	v.AutomaticEnv()

	cfg := Config{
		Port:           v.GetString(KeyPort),
		AllowedOrigins: stringList(v, KeyAllowedOrigins),
		MaxMessageSize: v.GetInt64(KeyMaxMessageSize),
		SendBufferSize: v.GetInt(KeySendBufferSize),
		RateLimit: RateLimitConfig{
			Burst:          v.GetInt(KeyRateBurst),
			RefillInterval: duration(v, KeyRateRefill),
		},
		PongWait:        duration(v, KeyPongWait),
		PingPeriod:      duration(v, KeyPingPeriod),
		WriteWait:       duration(v, KeyWriteWait),
		JWTSecret:       v.GetString(KeyJWTSecret),
		InternalAPIKey:  v.GetString(KeyInternalAPIKey),
		SpinDelay:       duration(v, KeySpinDelay),
		ShutdownTimeout: duration(v, KeyShutdownTimeout),
		Database: DatabaseConfig{
			Driver: v.GetString(KeyDatabaseDriver),
			URL:    v.GetString(KeyDatabaseURL),
		},
		Push: PushConfig{
			WebhookURL: v.GetString(KeyPushWebhookURL),
			QueueSize:  v.GetInt(KeyPushQueueSize),
			Timeout:    duration(v, KeyPushTimeout),
			Retries:    v.GetInt(KeyPushRetries),
		},
		LogLevel: v.GetString(KeyLogLevel),
	}

	cfg = Sanitize(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	def := Default()
	v.SetDefault(KeyPort, def.Port)
	v.SetDefault(KeyAllowedOrigins, strings.Join(def.AllowedOrigins, ","))
	v.SetDefault(KeyMaxMessageSize, def.MaxMessageSize)
	v.SetDefault(KeySendBufferSize, def.SendBufferSize)
	v.SetDefault(KeyRateBurst, def.RateLimit.Burst)
	v.SetDefault(KeyRateRefill, def.RateLimit.RefillInterval.String())
	v.SetDefault(KeyPongWait, def.PongWait.String())
	v.SetDefault(KeyPingPeriod, def.PingPeriod.String())
	v.SetDefault(KeyWriteWait, def.WriteWait.String())
	v.SetDefault(KeySpinDelay, def.SpinDelay.String())
	v.SetDefault(KeyShutdownTimeout, def.ShutdownTimeout.String())
	v.SetDefault(KeyDatabaseDriver, def.Database.Driver)
	v.SetDefault(KeyPushQueueSize, def.Push.QueueSize)
	v.SetDefault(KeyPushTimeout, def.Push.Timeout.String())
	v.SetDefault(KeyPushRetries, def.Push.Retries)
	v.SetDefault(KeyLogLevel, def.LogLevel)
}

// stringList accepts both YAML lists and comma separated environment values.
func stringList(v *viper.Viper, key string) []string {
	if raw, ok := v.Get(key).(string); ok {
		return parseOrigins(raw)
	}
	return v.GetStringSlice(key)
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// duration parses bare integers as seconds and anything else as a Go
// duration. Unparseable values yield zero so Sanitize falls back to the default.
func duration(v *viper.Viper, key string) time.Duration {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		return time.Duration(seconds) * time.Second
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0
	}
	return d
}

// NormalizeOrigins lower-cases scheme and host of every origin, drops invalid
// entries and reports whether the wildcard "*" was present.
func NormalizeOrigins(origins []string) ([]string, bool) {
	if len(origins) == 0 {
		return nil, false
	}

	normalized := make([]string, 0, len(origins))
	allowAll := false

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}

		if trimmed == "*" {
			allowAll = true
			continue
		}

		normalizedOrigin, ok := NormalizeOrigin(trimmed)
		if !ok {
			continue
		}

		normalized = append(normalized, normalizedOrigin)
	}

	return normalized, allowAll
}

// NormalizeOrigin returns "scheme://host" in lower case.
func NormalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}

	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}

	normalized := strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host)
	return normalized, true
}
