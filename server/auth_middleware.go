package server

import (
	"net/http"

	"github.com/jrsteele09/hotel-ops-gateway/guard"
	"github.com/jrsteele09/hotel-ops-gateway/token"
	"github.com/rs/zerolog"
)

// RouteGuard redirects page requests based on the session cookies alone.
// It never calls the identity service; signatures are not checked here.
func (s *Server) RouteGuard() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			session := s.cookies.Read(r)
			decision := guard.Decide(r.URL.Path, session.AccessToken, session.RefreshToken, token.NowTimeFunc())

			if decision.Action == guard.Pass {
				next(w, r)
				return
			}

			zerolog.Ctx(r.Context()).Debug().
				Str("path", r.URL.Path).
				Str("class", decision.Class.String()).
				Str("action", decision.Action.String()).
				Msg("route guard redirect")
			redirect(w, r, decision.Location)
		}
	}
}
