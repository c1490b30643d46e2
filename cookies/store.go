// Package cookies owns the protected cookie jar that carries session tokens.
// Every cookie written here is HttpOnly, so tokens are never readable by page
// script.
package cookies

import (
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	AccessTokenName  = "access_token"
	RefreshTokenName = "refresh_token"
)

// Session is the pair of tokens found on a request. Either may be empty.
type Session struct {
	AccessToken  string
	RefreshToken string
}

func (s Session) HasAccess() bool  { return s.AccessToken != "" }
func (s Session) HasRefresh() bool { return s.RefreshToken != "" }

// Attributes controls cookie lifetimes and the Secure flag. Lifetimes must
// match the identity service's token lifetimes.
type Attributes struct {
	AccessMaxAge  time.Duration
	RefreshMaxAge time.Duration
	// AlwaysSecure forces the Secure flag even when the request arrived over
	// plain HTTP (e.g. production behind a proxy that strips X-Forwarded-Proto).
	AlwaysSecure bool
}

type Store struct {
	attrs Attributes
}

func NewStore(attrs Attributes) *Store {
	return &Store{attrs: attrs}
}

// Read returns the session tokens present on r.
func (s *Store) Read(r *http.Request) Session {
	return Session{
		AccessToken:  value(r, AccessTokenName),
		RefreshToken: value(r, RefreshTokenName),
	}
}

// Write stores tok's access token and, when present, its refresh token.
// An absent refresh token leaves any existing refresh cookie untouched.
func (s *Store) Write(w http.ResponseWriter, r *http.Request, tok *oauth2.Token) {
	if tok == nil {
		return
	}
	if tok.AccessToken != "" {
		http.SetCookie(w, s.cookie(r, AccessTokenName, tok.AccessToken, maxAgeSeconds(s.attrs.AccessMaxAge)))
	}
	if tok.RefreshToken != "" {
		http.SetCookie(w, s.cookie(r, RefreshTokenName, tok.RefreshToken, maxAgeSeconds(s.attrs.RefreshMaxAge)))
	}
}

// WriteSession stores a new session whole. A refresh cookie left over from an
// earlier session is expired when tok carries no refresh token.
func (s *Store) WriteSession(w http.ResponseWriter, r *http.Request, tok *oauth2.Token) {
	if tok == nil {
		return
	}
	s.Write(w, r, tok)
	if tok.RefreshToken == "" {
		http.SetCookie(w, s.cookie(r, RefreshTokenName, "", -1))
	}
}

// Clear expires both session cookies.
func (s *Store) Clear(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, s.cookie(r, AccessTokenName, "", -1))
	http.SetCookie(w, s.cookie(r, RefreshTokenName, "", -1))
}

func (s *Store) cookie(r *http.Request, name, val string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    val,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.attrs.AlwaysSecure || IsSecureRequest(r),
		SameSite: http.SameSiteLaxMode,
	}
}

// IsSecureRequest reports whether r reached us over TLS, directly or via a proxy.
func IsSecureRequest(r *http.Request) bool {
	if r == nil {
		return false
	}
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

func value(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

func maxAgeSeconds(d time.Duration) int {
	secs := int(d / time.Second)
	if secs <= 0 {
		// MaxAge 0 would make a session cookie; keep at least one second so
		// misconfiguration shows up as an immediately expiring session.
		return 1
	}
	return secs
}
