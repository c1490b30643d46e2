package config

import (
	"strings"
	"time"
)

const (
	enableRateLimitingVar = "ENABLE_RATE_LIMITING"
	rateLimitBackendVar   = "RATE_LIMIT_BACKEND"
	loginMaxAttemptsVar   = "LOGIN_MAX_ATTEMPTS"
	loginAttemptWindowVar = "LOGIN_ATTEMPT_WINDOW"

	RateLimitBackendMemory = "memory"
	RateLimitBackendRedis  = "redis"
)

type SecurityConfig interface {
	GetEnableRateLimiting() bool
	GetRateLimitBackend() string
	GetLoginMaxAttempts() int
	GetLoginAttemptWindow() time.Duration
}

type Security struct {
	EnableRateLimiting bool
	RateLimitBackend   string
	LoginMaxAttempts   int
	LoginAttemptWindow time.Duration
}

var _ SecurityConfig = Security{}

func defaultSecurity() Security {
	return Security{
		EnableRateLimiting: false,
		RateLimitBackend:   RateLimitBackendMemory,
		LoginMaxAttempts:   5,
		LoginAttemptWindow: 15 * time.Minute,
	}
}

func loadSecurity() Security {
	d := defaultSecurity()
	return Security{
		EnableRateLimiting: GetEnvBool(enableRateLimitingVar, d.EnableRateLimiting),
		RateLimitBackend:   strings.ToLower(GetEnv(rateLimitBackendVar, d.RateLimitBackend)),
		LoginMaxAttempts:   GetEnvInt(loginMaxAttemptsVar, d.LoginMaxAttempts),
		LoginAttemptWindow: GetEnvDuration(loginAttemptWindowVar, d.LoginAttemptWindow),
	}
}

func (s Security) GetEnableRateLimiting() bool          { return s.EnableRateLimiting }
func (s Security) GetRateLimitBackend() string          { return s.RateLimitBackend }
func (s Security) GetLoginMaxAttempts() int             { return s.LoginMaxAttempts }
func (s Security) GetLoginAttemptWindow() time.Duration { return s.LoginAttemptWindow }
