// Package token decodes the expiry of signed session tokens without verifying
// their signature. Verification is the identity service's job; this package
// only answers "is this token still usable for routing decisions".
package token

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// DefaultSkew keeps a token that is about to expire from being judged valid
// at guard time and then expiring before the page load completes.
const DefaultSkew = 30 * time.Second

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// ErrMalformed is returned for anything that is not a three segment token
// with a JSON object payload carrying an exp claim.
var ErrMalformed = errors.New("malformed token")

var parser = jwtlib.NewParser()

// DecodeExpiry returns the exp claim of token. Only the payload segment is
// decoded; the header and signature are never looked at.
func DecodeExpiry(token string) (time.Time, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("%w: token contains %d segments", ErrMalformed, len(parts))
	}
	payload, err := parser.DecodeSegment(parts[1])
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	claims := jwtlib.MapClaims{}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if exp == nil {
		return time.Time{}, fmt.Errorf("%w: missing exp claim", ErrMalformed)
	}
	return exp.Time, nil
}

// IsExpired reports whether token fails to decode or expires within skew of now.
func IsExpired(token string, skew time.Duration) bool {
	return IsExpiredAt(token, skew, NowTimeFunc())
}

// IsExpiredAt is IsExpired against an explicit clock.
func IsExpiredAt(token string, skew time.Duration, now time.Time) bool {
	exp, err := DecodeExpiry(token)
	if err != nil {
		return true
	}
	return exp.Before(now.Add(skew))
}
