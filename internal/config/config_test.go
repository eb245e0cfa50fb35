package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "NATS_URL", "RATE_LIMIT_REQUESTS", "RATE_LIMIT_IP_REQUESTS", "TRACING_ENABLED", "CORS_ALLOWED_ORIGINS", "SEED_FILE"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Empty(t, cfg.NATSURL)
	assert.Equal(t, 120, cfg.RateLimitRequests)
	assert.Equal(t, 600, cfg.IPRateLimitRequests)
	assert.False(t, cfg.TracingEnabled)
	assert.Nil(t, cfg.AllowedOrigins)
	assert.Equal(t, "config/directory.example.yaml", cfg.SeedFile)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("NATS_URL", "nats://nats:4222")
	t.Setenv("RATE_LIMIT_WINDOW", "30s")
	t.Setenv("RATE_LIMIT_REQUESTS", "not-a-number")
	t.Setenv("TRACING_ENABLED", "true")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.example.com, ,https://admin.example.com")

	cfg := Load()
	assert.Equal(t, "9090", cfg.ServerPort)
	assert.Equal(t, "nats://nats:4222", cfg.NATSURL)
	assert.Equal(t, 30*time.Second, cfg.RateLimitWindow)
	assert.Equal(t, 120, cfg.RateLimitRequests, "bad values fall back to the default")
	assert.True(t, cfg.TracingEnabled)
	assert.Equal(t, []string{"https://app.example.com", "https://admin.example.com"}, cfg.AllowedOrigins)
}

func TestLoadClient(t *testing.T) {
	t.Setenv("MESSAGING_API_URL", "http://api:8080")
	t.Setenv("MESSAGING_TOKEN", "tok")

	cfg := LoadClient()
	assert.Equal(t, "http://api:8080", cfg.APIURL)
	assert.Equal(t, "tok", cfg.Token)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
}
