package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"PROXY_PORT", "SERVER_PORT", "ANTHROPIC_BASE_URL", "DATABASE_URL", "OPEN_BROWSER", "GEOCODER_MIN_DELAY_MS"} {
		t.Setenv(k, "")
	}

	cfg := Load()

	assert.Equal(t, "localhost:8080", cfg.ProxyAddr())
	assert.Equal(t, ":8000", cfg.ServerAddr())
	assert.Equal(t, "https://api.anthropic.com", cfg.AnthropicBaseURL)
	assert.Equal(t, "2023-06-01", cfg.AnthropicVersion)
	assert.Empty(t, cfg.DatabaseURL)
	assert.False(t, cfg.OpenBrowser)
	assert.Equal(t, 1500*time.Millisecond, cfg.GeocoderMinDelay)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PROXY_PORT", "9090")
	t.Setenv("ANTHROPIC_BASE_URL", "http://upstream.local/")
	t.Setenv("OPEN_BROWSER", "true")
	t.Setenv("MAX_DB_CONNS", "not-a-number")

	cfg := Load()

	assert.Equal(t, "localhost:9090", cfg.ProxyAddr())
	assert.Equal(t, "http://upstream.local", cfg.AnthropicBaseURL)
	assert.True(t, cfg.OpenBrowser)
	assert.Equal(t, int32(8), cfg.MaxDBConns)
}

func TestLoadProxyBodyLimit(t *testing.T) {
	tests := []struct {
		name string
		env  string
		want int64
	}{
		{"unset", "", 10 << 20},
		{"explicit", "2", 2 << 20},
		{"zero falls back", "0", 10 << 20},
		{"negative falls back", "-5", 10 << 20},
		{"garbage falls back", "lots", 10 << 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("PROXY_MAX_BODY_MB", tt.env)
			assert.Equal(t, tt.want, Load().MaxProxyBodyBytes)
		})
	}
}

func TestParseOrigins(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"empty allows all", "", nil},
		{"single", "http://localhost:8000", []string{"http://localhost:8000"}},
		{"trims and drops blanks", " http://localhost:8000 , ,http://127.0.0.1:8000", []string{"http://localhost:8000", "http://127.0.0.1:8000"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseOrigins(tt.raw))
		})
	}
}

func TestGeocodeKey(t *testing.T) {
	assert.Equal(t, "geocode:1 main st, halifax", CacheKey.GeocodeKey("  1 Main St, HALIFAX "))
}
