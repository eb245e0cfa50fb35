// Package config provides environment configuration for the API server and
// the inbox client.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the API server.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	AllowedOrigins     []string

	// Directory seed
	SeedFile string

	// NATS settings; an empty URL runs without an event stream.
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// JWT settings
	JWTSecret     string
	JWTExpiration time.Duration

	// Rate limiting; the IP budget applies before authentication.
	RateLimitRequests   int
	IPRateLimitRequests int
	RateLimitWindow     time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 15*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 30*time.Second),
		AllowedOrigins:     getListEnv("CORS_ALLOWED_ORIGINS"),

		SeedFile: getEnv("SEED_FILE", "config/directory.example.yaml"),

		// NATS
		NATSURL:      getEnv("NATS_URL", ""),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// JWT
		JWTSecret:     getEnv("JWT_SECRET", "development-secret-change-in-production"),
		JWTExpiration: getDurationEnv("JWT_EXPIRATION", 12*time.Hour),

		// Rate limiting
		RateLimitRequests:   getIntEnv("RATE_LIMIT_REQUESTS", 120),
		IPRateLimitRequests: getIntEnv("RATE_LIMIT_IP_REQUESTS", 600),
		RateLimitWindow:     getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

// ClientConfig holds configuration for the inbox client.
type ClientConfig struct {
	APIURL   string
	Token    string
	Timeout  time.Duration
	LogLevel string
	LogFile  string
}

// LoadClient reads inbox configuration from environment variables.
func LoadClient() *ClientConfig {
	return &ClientConfig{
		APIURL:   getEnv("MESSAGING_API_URL", "http://localhost:8080"),
		Token:    getEnv("MESSAGING_TOKEN", ""),
		Timeout:  getDurationEnv("MESSAGING_TIMEOUT", 10*time.Second),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("INBOX_LOG_FILE", "inbox.log"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getListEnv(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
