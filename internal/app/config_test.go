package app

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, 30*time.Second, cfg.AppRequestTimeout)
	require.Equal(t, 120, cfg.RateLimitPerMinute)
	require.Equal(t, 72*time.Hour, cfg.IdempotencyRetention)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "30")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://pos.example.com,https://admin.example.com")
	t.Setenv("STOCK_CACHE_TTL", "90s")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.True(t, cfg.IsProduction())
	require.Equal(t, 30, cfg.RateLimitPerMinute)
	require.Equal(t, []string{"https://pos.example.com", "https://admin.example.com"}, cfg.CORSAllowedOrigins)
	require.Equal(t, 90*time.Second, cfg.StockCacheTTL)

	level, err := cfg.SlogLevel()
	require.NoError(t, err)
	require.Equal(t, slog.LevelDebug, level)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	cases := map[string]struct {
		key, value string
	}{
		"empty dsn":          {"PG_DSN", " "},
		"zero rate limit":    {"RATE_LIMIT_PER_MINUTE", "0"},
		"negative timeout":   {"APP_REQUEST_TIMEOUT", "-1s"},
		"unknown log format": {"LOG_FORMAT", "xml"},
		"unknown log level":  {"LOG_LEVEL", "loud"},
		"zero retention":     {"IDEMPOTENCY_RETENTION", "0s"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			_, err := LoadConfig()
			require.Error(t, err)
		})
	}
}

func TestNewLoggerFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&Config{LogFormat: "json", LogLevel: "warn"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", slog.String("product", "tea"))
	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), `"msg":"shown"`)
	require.Contains(t, buf.String(), `"product":"tea"`)
}
