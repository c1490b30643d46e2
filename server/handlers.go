package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/elnormous/contenttype"
	"github.com/jrsteele09/hotel-ops-gateway/identity"
	apperrors "github.com/jrsteele09/hotel-ops-gateway/internal/errors"
	"github.com/jrsteele09/hotel-ops-gateway/throttle"
	"github.com/rs/zerolog"
)

var jsonMediaType = contenttype.NewMediaType("application/json")

type loginResponse struct {
	Success bool               `json:"success"`
	User    *identity.Identity `json:"user"`
}

type successResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// LoginHandler exchanges credentials with the identity service and stores the
// resulting tokens in HttpOnly cookies. Tokens never appear in the body.
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.checkOrigin(r); err != nil {
			writeError(w, r, err)
			return
		}

		var req identity.LoginRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		if strings.TrimSpace(req.Username) == "" || req.Password == "" {
			writeError(w, r, apperrors.New(apperrors.MalformedRequest, "Username and password are required"))
			return
		}

		key := throttle.LoginKey(req.Username, clientIP(r))
		if !s.allowLogin(r.Context(), key) {
			writeError(w, r, apperrors.New(apperrors.TooManyAttempts, "Too many login attempts, try again later"))
			return
		}

		ctx, cancel := s.upstreamContext(r.Context())
		defer cancel()
		result, err := s.identity.Login(ctx, req.Username, req.Password)
		if err != nil {
			writeError(w, r, err)
			return
		}

		if err := s.limiter.Reset(r.Context(), key); err != nil {
			zerolog.Ctx(r.Context()).Warn().Err(err).Msg("failed to reset login throttle")
		}
		s.cookies.WriteSession(w, r, result.Token)
		zerolog.Ctx(r.Context()).Info().Str("user_id", result.User.ID).Msg("login succeeded")
		writeJSON(w, http.StatusOK, loginResponse{Success: true, User: result.User})
	}
}

// allowLogin fails open when the throttle backend errors.
func (s *Server) allowLogin(ctx context.Context, key string) bool {
	allowed, err := s.limiter.Allow(ctx, key)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("login throttle unavailable, allowing attempt")
		return true
	}
	return allowed
}

// RefreshHandler rotates the session using the refresh cookie. Every failure
// clears both cookies.
func (s *Server) RefreshHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session := s.cookies.Read(r)
		if !session.HasRefresh() {
			s.cookies.Clear(w, r)
			writeError(w, r, apperrors.New(apperrors.RefreshFailed, "No refresh token"))
			return
		}

		ctx, cancel := s.upstreamContext(r.Context())
		defer cancel()
		tok, err := s.identity.Refresh(ctx, session.RefreshToken)
		if err != nil {
			s.cookies.Clear(w, r)
			if apperrors.KindOf(err) == apperrors.RefreshFailed {
				err = apperrors.WithStatus(apperrors.RefreshFailed, http.StatusUnauthorized, apperrors.MessageOf(err))
			}
			writeError(w, r, err)
			return
		}

		// Without rotation the existing refresh cookie stays as it is.
		s.cookies.Write(w, r, tok)
		writeJSON(w, http.StatusOK, successResponse{Success: true})
	}
}

// LogoutHandler always clears the session cookies and answers 200. The
// identity service is notified best-effort.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.checkOrigin(r); err != nil {
			writeError(w, r, err)
			return
		}

		session := s.cookies.Read(r)
		s.cookies.Clear(w, r)

		if session.HasAccess() {
			ctx, cancel := s.upstreamContext(r.Context())
			defer cancel()
			if err := s.identity.Logout(ctx, session.AccessToken); err != nil {
				zerolog.Ctx(r.Context()).Warn().Err(err).Msg("identity service logout failed")
			}
		}
		writeJSON(w, http.StatusOK, successResponse{Success: true, Message: "Logged out"})
	}
}

// MeHandler returns the identity behind the access cookie.
func (s *Server) MeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session := s.cookies.Read(r)
		if !session.HasAccess() {
			writeError(w, r, apperrors.New(apperrors.Unauthenticated, "Not authenticated"))
			return
		}

		ctx, cancel := s.upstreamContext(r.Context())
		defer cancel()
		user, err := s.identity.Me(ctx, session.AccessToken)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, identity.MeResponse{User: user})
	}
}

// RegisterHandler forwards staff registration with the caller's access
// token; the identity service decides whether the caller may register users.
func (s *Server) RegisterHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session := s.cookies.Read(r)
		if !session.HasAccess() {
			writeError(w, r, apperrors.New(apperrors.Unauthenticated, "Not authenticated"))
			return
		}

		var req identity.RegisterRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		if missing := req.Missing(); len(missing) > 0 {
			writeError(w, r, apperrors.New(apperrors.MalformedRequest, "Missing required fields: "+strings.Join(missing, ", ")))
			return
		}

		ctx, cancel := s.upstreamContext(r.Context())
		defer cancel()
		resp, err := s.identity.Register(ctx, session.AccessToken, req)
		if err != nil {
			writeError(w, r, err)
			return
		}

		contentType := resp.ContentType
		if contentType == "" {
			contentType = contentTypeJSON
		}
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(resp.Status)
		_, _ = w.Write(resp.Body)
	}
}

func (s *Server) upstreamContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.config.GetUpstreamTimeout())
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(r *http.Request, v any) error {
	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		return apperrors.New(apperrors.MalformedRequest, "Content-Type must be application/json")
	}

	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if apperrors.As(err, &maxErr) {
			return apperrors.Wrap(apperrors.MalformedRequest, err, "Request body too large")
		}
		return apperrors.Wrap(apperrors.MalformedRequest, apperrors.Wrapf(err, "decode body"), "Request body must be valid JSON")
	}
	return nil
}
