// Package throttle limits repeated login attempts per key within a fixed window.
package throttle

import (
	"context"
	"strings"
)

// Limiter counts attempts for a key. Allow records an attempt and reports
// whether it is within the limit; Reset forgets the key.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Reset(ctx context.Context, key string) error
}

// LoginKey combines the username and client address so one noisy client
// cannot lock an account for everyone.
func LoginKey(username, clientIP string) string {
	return strings.ToLower(strings.TrimSpace(username)) + "|" + clientIP
}

// Nop never limits.
type Nop struct{}

func (Nop) Allow(context.Context, string) (bool, error) { return true, nil }
func (Nop) Reset(context.Context, string) error         { return nil }
