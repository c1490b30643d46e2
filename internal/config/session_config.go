package config

import "time"

const (
	accessTokenTTLVar  = "ACCESS_TOKEN_TTL"
	refreshTokenTTLVar = "REFRESH_TOKEN_TTL"
	upstreamTimeoutVar = "UPSTREAM_TIMEOUT"
)

// SessionConfig holds the cookie lifetimes. They must mirror the identity
// service's own token lifetimes.
type SessionConfig interface {
	GetAccessTokenMaxAge() time.Duration
	GetRefreshTokenMaxAge() time.Duration
	GetUpstreamTimeout() time.Duration
}

type Session struct {
	AccessTokenMaxAge  time.Duration
	RefreshTokenMaxAge time.Duration
	UpstreamTimeout    time.Duration
}

var _ SessionConfig = Session{}

func defaultSession() Session {
	return Session{
		AccessTokenMaxAge:  15 * time.Minute,
		RefreshTokenMaxAge: 7 * 24 * time.Hour, // 7 days
		UpstreamTimeout:    10 * time.Second,
	}
}

func loadSession() Session {
	d := defaultSession()
	return Session{
		AccessTokenMaxAge:  GetEnvDuration(accessTokenTTLVar, d.AccessTokenMaxAge),
		RefreshTokenMaxAge: GetEnvDuration(refreshTokenTTLVar, d.RefreshTokenMaxAge),
		UpstreamTimeout:    GetEnvDuration(upstreamTimeoutVar, d.UpstreamTimeout),
	}
}

func (s Session) GetAccessTokenMaxAge() time.Duration  { return s.AccessTokenMaxAge }
func (s Session) GetRefreshTokenMaxAge() time.Duration { return s.RefreshTokenMaxAge }
func (s Session) GetUpstreamTimeout() time.Duration    { return s.UpstreamTimeout }
