package server

import (
	"context"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/jrsteele09/hotel-ops-gateway/cookies"
	apperrors "github.com/jrsteele09/hotel-ops-gateway/internal/errors"
	"github.com/jrsteele09/hotel-ops-gateway/token"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

type accessTokenKey struct{}

// newBackendProxy forwards /api/... to the domain backend with the access
// token as a bearer header. Browser cookies never leave the gateway.
func (s *Server) newBackendProxy(target *url.URL) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Header.Del("Cookie")
			pr.Out.Header.Del("Authorization")
			if access, ok := pr.In.Context().Value(accessTokenKey{}).(string); ok {
				(&oauth2.Token{AccessToken: access, TokenType: "Bearer"}).SetAuthHeader(pr.Out)
			}
		},
		ModifyResponse: func(resp *http.Response) error {
			// The backend cannot set gateway cookies.
			resp.Header.Del("Set-Cookie")
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			writeError(w, r, apperrors.Wrap(apperrors.UpstreamUnavailable, err, "Backend API is unavailable"))
		},
	}
}

// APIProxyHandler answers 401 locally when the access cookie is missing or
// about to expire, so the client refreshes before the backend is called.
func (s *Server) APIProxyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session := s.cookies.Read(r)
		if !session.HasAccess() || token.IsExpired(session.AccessToken, token.DefaultSkew) {
			writeError(w, r, apperrors.New(apperrors.Unauthenticated, "Access token missing or expired"))
			return
		}

		zerolog.Ctx(r.Context()).Debug().Str("path", r.URL.Path).Msg("proxying to backend")
		ctx := contextWithAccessToken(r, session)
		s.backend.ServeHTTP(w, r.WithContext(ctx))
	}
}

func contextWithAccessToken(r *http.Request, session cookies.Session) context.Context {
	return context.WithValue(r.Context(), accessTokenKey{}, session.AccessToken)
}
