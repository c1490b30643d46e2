package config_test

import (
	"testing"
	"time"

	"github.com/jrsteele09/hotel-ops-gateway/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAllowedOrigins(t *testing.T) {
	origins := config.ParseAllowedOrigins(" https://ops.example.com/ ,http://localhost:3000,, ")

	require.Len(t, origins, 2)
	assert.True(t, origins.IsAllowedOrigin("https://ops.example.com"))
	assert.True(t, origins.IsAllowedOrigin("HTTP://LOCALHOST:3000"))
	assert.False(t, origins.IsAllowedOrigin("https://evil.example"))
	assert.False(t, origins.IsAllowedOrigin(""))
	assert.Equal(t, "http://localhost:3000, https://ops.example.com", origins.String())
}

func TestNew_FromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "prod")
	t.Setenv("IDENTITY_SERVICE_URL", "https://id.example.com/")
	t.Setenv("ALLOWED_ORIGINS", "https://ops.example.com")
	t.Setenv("ACCESS_TOKEN_TTL", "5m")
	t.Setenv("REFRESH_TOKEN_TTL", "not-a-duration")
	t.Setenv("ENABLE_RATE_LIMITING", "true")
	t.Setenv("LOGIN_MAX_ATTEMPTS", "3")

	cfg := config.New()

	assert.Equal(t, ":9090", cfg.GetPort())
	assert.Equal(t, config.EnvProd, cfg.GetEnv())
	assert.Equal(t, "https://id.example.com", cfg.GetIdentityServiceURL())
	assert.Equal(t, "https://id.example.com", cfg.GetBackendAPIURL())
	assert.True(t, cfg.GetAllowedOrigins().IsAllowedOrigin("https://ops.example.com"))
	assert.False(t, cfg.GetAllowedOrigins().IsAllowedOrigin("http://localhost:3000"))
	assert.Equal(t, 5*time.Minute, cfg.GetAccessTokenMaxAge())
	assert.Equal(t, 7*24*time.Hour, cfg.GetRefreshTokenMaxAge())
	assert.True(t, cfg.GetEnableRateLimiting())
	assert.Equal(t, 3, cfg.GetLoginMaxAttempts())
}

func TestDefaults(t *testing.T) {
	cfg := config.Defaults()

	assert.Equal(t, config.EnvDev, cfg.GetEnv())
	assert.False(t, cfg.GetEnableRateLimiting())
	assert.Equal(t, config.RateLimitBackendMemory, cfg.GetRateLimitBackend())
	assert.Less(t, cfg.GetAccessTokenMaxAge(), cfg.GetRefreshTokenMaxAge())
}
