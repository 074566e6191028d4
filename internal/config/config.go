package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	GinMode   string
	LogLevel  string
	LogFormat string

	// Claude proxy.
	ProxyHost         string
	ProxyPort         string
	AnthropicBaseURL  string
	AnthropicVersion  string
	ProxyTimeout      time.Duration
	ProxyRatePerMin   int
	MaxProxyBodyBytes int64

	// CRM static server.
	ServerHost  string
	ServerPort  string
	StaticDir   string
	OpenBrowser bool

	// AllowedOrigins controls CORS on both servers.
	// Empty slice means all origins are permitted (dev default).
	AllowedOrigins []string

	// DatabaseURL enables the schools API when set.
	DatabaseURL string
	MaxDBConns  int32
	// RedisURL enables the shared geocode cache and the background geocoder.
	RedisURL string

	GeocoderURL       string
	GeocoderUserAgent string
	GeocoderMinDelay  time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
// It loads .env file if present but does not fail if missing.
func Load() *Config {
	_ = godotenv.Load() // .env is optional

	return &Config{
		GinMode:   getEnv("GIN_MODE", "debug"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "pretty"),

		ProxyHost:         getEnv("PROXY_HOST", "localhost"),
		ProxyPort:         getEnv("PROXY_PORT", "8080"),
		AnthropicBaseURL:  strings.TrimRight(getEnv("ANTHROPIC_BASE_URL", "https://api.anthropic.com"), "/"),
		AnthropicVersion:  getEnv("ANTHROPIC_VERSION", "2023-06-01"),
		ProxyTimeout:      time.Duration(getEnvInt("PROXY_TIMEOUT_SECONDS", 120)) * time.Second,
		ProxyRatePerMin:   getEnvInt("PROXY_RATE_LIMIT_PER_MINUTE", 60),
		MaxProxyBodyBytes: int64(getEnvPositiveInt("PROXY_MAX_BODY_MB", 10)) * 1024 * 1024,

		ServerHost:  getEnv("SERVER_HOST", ""),
		ServerPort:  getEnv("SERVER_PORT", "8000"),
		StaticDir:   getEnv("STATIC_DIR", "./docs"),
		OpenBrowser: getEnvBool("OPEN_BROWSER", false),

		AllowedOrigins: parseOrigins(getEnv("ALLOWED_ORIGINS", "")),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		MaxDBConns:  int32(getEnvInt("MAX_DB_CONNS", 8)),
		RedisURL:    getEnv("REDIS_URL", ""),

		GeocoderURL:       strings.TrimRight(getEnv("GEOCODER_URL", "https://nominatim.openstreetmap.org"), "/"),
		GeocoderUserAgent: getEnv("GEOCODER_USER_AGENT", "ns_schools_mapper"),
		GeocoderMinDelay:  time.Duration(getEnvInt("GEOCODER_MIN_DELAY_MS", 1500)) * time.Millisecond,
	}
}

// ProxyAddr is the listen address of the Claude proxy.
func (c *Config) ProxyAddr() string {
	return c.ProxyHost + ":" + c.ProxyPort
}

// ServerAddr is the listen address of the CRM server.
func (c *Config) ServerAddr() string {
	return c.ServerHost + ":" + c.ServerPort
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// getEnvPositiveInt is getEnvInt for settings where zero or less is not usable.
func getEnvPositiveInt(key string, fallback int) int {
	if n := getEnvInt(key, fallback); n > 0 {
		return n
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// parseOrigins splits a comma-separated origins string into a trimmed slice.
// Returns nil (allow-all) if the input is empty.
func parseOrigins(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
