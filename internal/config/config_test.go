package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoadDefaults verifies that a bare environment yields the defaults once a
// JWT secret is provided.
func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "dev-secret")

	cfg, err := Load(viper.New())
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, ":8080", cfg.Port)
	assert.Equal(t, []string{"http://localhost:8080"}, cfg.AllowedOrigins)
	assert.Equal(t, def.MaxMessageSize, cfg.MaxMessageSize)
	assert.Equal(t, def.RateLimit, cfg.RateLimit)
	assert.Equal(t, def.PongWait, cfg.PongWait)
	assert.Equal(t, def.PingPeriod, cfg.PingPeriod)
	assert.Equal(t, def.SpinDelay, cfg.SpinDelay)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := Load(viper.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWTSecret")
}

// TestLoadFromEnv verifies environment variables override every default.
func TestLoadFromEnv(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("ALLOWED_ORIGINS", "https://App.Example.com, *, not-an-origin")
	t.Setenv("MAX_MESSAGE_SIZE", "8192")
	t.Setenv("RATE_LIMIT_BURST", "20")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "2")
	t.Setenv("SPIN_DELAY", "1500ms")
	t.Setenv("PUSH_WEBHOOK_URL", "https://push.example.com/hook")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := Load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Port)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.AllowedOrigins)
	assert.True(t, cfg.AllowAllOrigins)
	assert.EqualValues(t, 8192, cfg.MaxMessageSize)
	assert.Equal(t, 20, cfg.RateLimit.Burst)
	assert.Equal(t, 2*time.Second, cfg.RateLimit.RefillInterval)
	assert.Equal(t, 1500*time.Millisecond, cfg.SpinDelay)
	assert.Equal(t, "https://push.example.com/hook", cfg.Push.WebhookURL)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadFromFile(t *testing.T) {
	t.Setenv("JWT_SECRET", "from-env")

	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(`
server_port: ":7000"
allowed_origins:
  - https://a.example.com
  - https://b.example.com
send_buffer_size: 16
`)))

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Port)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, 16, cfg.SendBufferSize)
	assert.Equal(t, "from-env", cfg.JWTSecret)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "unknown log level", key: "LOG_LEVEL", val: "verbose"},
		{name: "bad webhook url", key: "PUSH_WEBHOOK_URL", val: "::nope"},
		{name: "tiny message size", key: "MAX_MESSAGE_SIZE", val: "8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", "s")
			t.Setenv(tt.key, tt.val)

			_, err := Load(viper.New())
			assert.Error(t, err)
		})
	}
}

func TestSanitize(t *testing.T) {
	cfg := Sanitize(Config{
		PongWait:   10 * time.Second,
		PingPeriod: 20 * time.Second,
		RateLimit:  RateLimitConfig{Burst: -1},
	})

	assert.Equal(t, ":8080", cfg.Port)
	assert.Equal(t, 9*time.Second, cfg.PingPeriod, "ping period must stay below pong wait")
	assert.Equal(t, 10, cfg.RateLimit.Burst)
	assert.Equal(t, time.Second, cfg.RateLimit.RefillInterval)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.AllowedOrigins)
}

func TestNormalizeOrigins(t *testing.T) {
	origins, allowAll := NormalizeOrigins([]string{"", " HTTP://LocalHost:8080 ", "ftp//broken", "*"})
	assert.Equal(t, []string{"http://localhost:8080"}, origins)
	assert.True(t, allowAll)

	origins, allowAll = NormalizeOrigins(nil)
	assert.Nil(t, origins)
	assert.False(t, allowAll)
}
