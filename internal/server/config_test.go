package server

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, ":5050", cfg.ChatAddr)
	assert.Equal(t, ":8080", cfg.Port)
	assert.Equal(t, "chat.db", cfg.DBPath)
	assert.Equal(t, []string{"http://localhost:8080"}, cfg.AllowedOrigins)
	assert.Equal(t, int64(2048), cfg.MaxMessageSize)
	assert.Equal(t, 256, cfg.SendBuffer)
	assert.Equal(t, 10*time.Minute, cfg.IdleTimeout)
	assert.Equal(t, 10*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, RateLimitConfig{Burst: 5, RefillInterval: time.Second}, cfg.RateLimit)
	assert.Equal(t, zerolog.InfoLevel, cfg.LogLevel)
}

func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv("CHAT_ADDR", "127.0.0.1:7000")
	t.Setenv("SERVER_PORT", ":9000")
	t.Setenv("DB_PATH", " /tmp/chat.sqlite ")
	t.Setenv("ALLOWED_ORIGINS", "http://a.example, https://b.example")
	t.Setenv("MAX_MESSAGE_SIZE", "4096")
	t.Setenv("SEND_BUFFER", "32")
	t.Setenv("IDLE_TIMEOUT", "30")
	t.Setenv("WRITE_TIMEOUT", "3")
	t.Setenv("SHUTDOWN_TIMEOUT", "7")
	t.Setenv("RATE_LIMIT_BURST", "9")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "2")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg := NewConfigFromEnv()

	assert.Equal(t, "127.0.0.1:7000", cfg.ChatAddr)
	assert.Equal(t, ":9000", cfg.Port)
	assert.Equal(t, "/tmp/chat.sqlite", cfg.DBPath)
	assert.Equal(t, []string{"http://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, int64(4096), cfg.MaxMessageSize)
	assert.Equal(t, 32, cfg.SendBuffer)
	assert.Equal(t, 30*time.Second, cfg.IdleTimeout)
	assert.Equal(t, 3*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 7*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, RateLimitConfig{Burst: 9, RefillInterval: 2 * time.Second}, cfg.RateLimit)
	assert.Equal(t, zerolog.DebugLevel, cfg.LogLevel)
}

func TestNewConfigFromEnvEmptyDBPathSelectsMemory(t *testing.T) {
	t.Setenv("DB_PATH", "")

	assert.Equal(t, "", NewConfigFromEnv().DBPath)
}

func TestNewConfigFromEnvInvalidValuesFallBack(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
		check func(t *testing.T, cfg *Config)
	}{
		{"negative message size", "MAX_MESSAGE_SIZE", "-1", func(t *testing.T, cfg *Config) {
			assert.Equal(t, int64(2048), cfg.MaxMessageSize)
		}},
		{"non-numeric buffer", "SEND_BUFFER", "lots", func(t *testing.T, cfg *Config) {
			assert.Equal(t, 256, cfg.SendBuffer)
		}},
		{"zero idle timeout", "IDLE_TIMEOUT", "0", func(t *testing.T, cfg *Config) {
			assert.Equal(t, 10*time.Minute, cfg.IdleTimeout)
		}},
		{"duration syntax", "WRITE_TIMEOUT", "5s", func(t *testing.T, cfg *Config) {
			assert.Equal(t, 10*time.Second, cfg.WriteTimeout)
		}},
		{"zero burst", "RATE_LIMIT_BURST", "0", func(t *testing.T, cfg *Config) {
			assert.Equal(t, 5, cfg.RateLimit.Burst)
		}},
		{"unknown log level", "LOG_LEVEL", "chatty", func(t *testing.T, cfg *Config) {
			assert.Equal(t, zerolog.InfoLevel, cfg.LogLevel)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			tt.check(t, NewConfigFromEnv())
		})
	}
}

func TestConfigSanitize(t *testing.T) {
	origins := []string{"http://x.example"}
	in := Config{
		ChatAddr:       "127.0.0.1:1",
		AllowedOrigins: origins,
		SendBuffer:     -3,
		RateLimit:      RateLimitConfig{Burst: 2},
	}

	out := in.Sanitize()

	assert.Equal(t, "127.0.0.1:1", out.ChatAddr)
	assert.Equal(t, ":8080", out.Port)
	assert.Equal(t, 256, out.SendBuffer)
	assert.Equal(t, 2, out.RateLimit.Burst)
	assert.Equal(t, time.Second, out.RateLimit.RefillInterval)
	assert.Equal(t, -3, in.SendBuffer, "receiver is untouched")

	out.AllowedOrigins[0] = "changed"
	assert.Equal(t, "http://x.example", origins[0], "origins are copied")
}

func TestRateLimiter(t *testing.T) {
	rl := newRateLimiter(2, time.Hour)
	assert.True(t, rl.allow())
	assert.True(t, rl.allow())
	assert.False(t, rl.allow())

	var disabled *rateLimiter
	assert.True(t, disabled.allow())
}
