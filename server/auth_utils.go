package server

import (
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"strings"

	apperrors "github.com/jrsteele09/hotel-ops-gateway/internal/errors"
	"github.com/rs/zerolog"
)

const (
	contentTypeHTML = "text/html; charset=utf-8"
	contentTypeJSON = "application/json; charset=utf-8"

	maxJSONBody = 64 << 10
)

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err as {success:false, error:<kind>, message}. Only the
// typed error's message reaches the browser; wrapped causes are logged.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.StatusOf(err)
	kind := apperrors.KindOf(err)

	event := zerolog.Ctx(r.Context()).Warn()
	if status >= http.StatusInternalServerError {
		event = zerolog.Ctx(r.Context()).Error()
	}
	event.Err(err).Str("kind", kind.String()).Int("status", status).Msg("gateway request failed")

	writeJSON(w, status, errorBody{
		Success: false,
		Error:   kind.String(),
		Message: apperrors.MessageOf(err),
	})
}

// requestOrigin is the Origin header, falling back to the origin of the
// Referer for clients that omit Origin on same-origin POSTs.
func requestOrigin(r *http.Request) string {
	if origin := r.Header.Get("Origin"); origin != "" {
		return origin
	}
	referer := r.Header.Get("Referer")
	if referer == "" {
		return ""
	}
	u, err := url.Parse(referer)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// checkOrigin rejects state-changing requests from origins outside the allow-list.
func (s *Server) checkOrigin(r *http.Request) error {
	origin := requestOrigin(r)
	if origin == "" {
		return apperrors.New(apperrors.OriginRejected, "Origin header is required")
	}
	if !s.config.GetAllowedOrigins().IsAllowedOrigin(origin) {
		return apperrors.New(apperrors.OriginRejected, "Origin not allowed")
	}
	return nil
}

// clientIP prefers the first X-Forwarded-For hop set by the fronting proxy.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// redirect is htmx-aware: htmx requests get an HX-Redirect instruction.
func redirect(w http.ResponseWriter, r *http.Request, location string) {
	if isHTMXRequest(r) {
		w.Header().Set("HX-Redirect", location)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, location, http.StatusTemporaryRedirect)
}

// isHTMXRequest checks if the request was initiated by HTMX
func isHTMXRequest(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}
