// Package identitytest runs an in-process fake of the identity service for
// tests. Users are stored with bcrypt hashes, tokens are HS256 JWTs, and every
// endpoint counts its calls so tests can assert that no upstream call was made.
package identitytest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/hotel-ops-gateway/identity"
	"golang.org/x/crypto/bcrypt"
)

const (
	PathLogin    = "/auth/login"
	PathRefresh  = "/auth/refresh"
	PathLogout   = "/auth/logout"
	PathMe       = "/auth/me"
	PathRegister = "/auth/register"
	PathAPI      = "/api/"

	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

type user struct {
	identity.Identity
	passwordHash []byte
}

type cannedResponse struct {
	status int
	body   string
}

// Server is the fake identity service. It also serves a tiny domain API under
// /api/ that accepts any valid access token, standing in for the dashboard backend.
type Server struct {
	srv    *httptest.Server
	secret []byte

	mu              sync.Mutex
	users           map[string]*user // username -> user
	refreshTokens   map[string]string
	accessGen       int
	calls           map[string]int
	canned          map[string]cannedResponse
	rotateRefresh   bool
	omitRefresh     bool
	accessTTL       time.Duration
	refreshTTL      time.Duration
	refreshGate     chan struct{}
	refreshArrivals chan struct{}
}

type Option func(*Server)

// WithoutRotation makes refresh return only a new access token.
func WithoutRotation() Option {
	return func(s *Server) { s.rotateRefresh = false }
}

// WithoutRefreshTokens makes login return only an access token.
func WithoutRefreshTokens() Option {
	return func(s *Server) { s.omitRefresh = true }
}

func WithTokenTTLs(access, refresh time.Duration) Option {
	return func(s *Server) {
		s.accessTTL = access
		s.refreshTTL = refresh
	}
}

func New(t testing.TB, opts ...Option) *Server {
	t.Helper()

	s := &Server{
		secret:        []byte(uuid.NewString()),
		users:         make(map[string]*user),
		refreshTokens: make(map[string]string),
		calls:         make(map[string]int),
		canned:        make(map[string]cannedResponse),
		rotateRefresh: true,
		accessTTL:     15 * time.Minute,
		refreshTTL:    7 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+PathLogin, s.track(PathLogin, s.handleLogin))
	mux.HandleFunc("POST "+PathRefresh, s.track(PathRefresh, s.handleRefresh))
	mux.HandleFunc("POST "+PathLogout, s.track(PathLogout, s.handleLogout))
	mux.HandleFunc("GET "+PathMe, s.track(PathMe, s.handleMe))
	mux.HandleFunc("POST "+PathRegister, s.track(PathRegister, s.handleRegister))
	mux.HandleFunc(PathAPI, s.track(PathAPI, s.handleAPI))

	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

func (s *Server) URL() string { return s.srv.URL }

// Close stops the server; later calls fail at the transport level.
func (s *Server) Close() { s.srv.Close() }

// AddUser registers a user and returns its identity.
func (s *Server) AddUser(t testing.TB, username, password string, role identity.RoleType) identity.Identity {
	t.Helper()
	u, err := s.addUser(identity.RegisterRequest{
		Username: username,
		Password: password,
		Email:    username + "@example-hotel.com",
		Role:     role,
	})
	if err != nil {
		t.Fatalf("identitytest: add user %q: %v", username, err)
	}
	return u.Identity
}

// Calls returns how many requests reached path.
func (s *Server) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

// ExpireAccessTokens invalidates every access token issued so far.
func (s *Server) ExpireAccessTokens() {
	s.mu.Lock()
	s.accessGen++
	s.mu.Unlock()
}

// RevokeRefreshTokens invalidates every refresh token issued so far.
func (s *Server) RevokeRefreshTokens() {
	s.mu.Lock()
	s.refreshTokens = make(map[string]string)
	s.mu.Unlock()
}

// RespondWith makes path answer with a fixed status and body until cleared
// with an empty status.
func (s *Server) RespondWith(path string, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == 0 {
		delete(s.canned, path)
		return
	}
	s.canned[path] = cannedResponse{status: status, body: body}
}

// HoldRefresh blocks refresh requests until the returned release func is
// called. Each blocked request is signalled on arrivals.
func (s *Server) HoldRefresh() (arrivals <-chan struct{}, release func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	gate := make(chan struct{})
	arr := make(chan struct{}, 64)
	s.refreshGate = gate
	s.refreshArrivals = arr
	var once sync.Once
	return arr, func() { once.Do(func() { close(gate) }) }
}

// IssueAccessToken mints an access token for the user with an explicit lifetime.
func (s *Server) IssueAccessToken(t testing.TB, userID string, ttl time.Duration) string {
	t.Helper()
	s.mu.Lock()
	gen := s.accessGen
	s.mu.Unlock()
	tok, err := s.sign(userID, tokenTypeAccess, gen, ttl)
	if err != nil {
		t.Fatalf("identitytest: issue access token: %v", err)
	}
	return tok
}

// IssueRefreshToken mints and activates a refresh token for the user.
func (s *Server) IssueRefreshToken(t testing.TB, userID string, ttl time.Duration) string {
	t.Helper()
	tok, err := s.newRefreshToken(userID, ttl)
	if err != nil {
		t.Fatalf("identitytest: issue refresh token: %v", err)
	}
	return tok
}

func (s *Server) track(path string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[path]++
		canned, hasCanned := s.canned[path]
		s.mu.Unlock()

		if hasCanned {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(canned.status)
			_, _ = w.Write([]byte(canned.body))
			return
		}
		next(w, r)
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req identity.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	s.mu.Lock()
	u, ok := s.users[req.Username]
	s.mu.Unlock()
	if !ok || bcrypt.CompareHashAndPassword(u.passwordHash, []byte(req.Password)) != nil {
		writeError(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}

	resp, err := s.issuePair(u.ID, !s.omitRefresh)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp.User = &u.Identity
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	gate, arrivals := s.refreshGate, s.refreshArrivals
	s.mu.Unlock()
	if gate != nil {
		arrivals <- struct{}{}
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}

	claims, err := s.verify(bearer(r), tokenTypeRefresh)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "refresh token is invalid or expired")
		return
	}

	s.mu.Lock()
	owner, active := s.refreshTokens[claims.ID]
	if active && s.rotateRefresh {
		delete(s.refreshTokens, claims.ID)
	}
	s.mu.Unlock()
	if !active || owner != claims.Subject {
		writeError(w, http.StatusUnauthorized, "refresh token has been revoked")
		return
	}

	resp, err := s.issuePair(claims.Subject, s.rotateRefresh)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims, err := s.verify(bearer(r), tokenTypeAccess)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "access token is invalid or expired")
		return
	}

	s.mu.Lock()
	for id, owner := range s.refreshTokens {
		if owner == claims.Subject {
			delete(s.refreshTokens, id)
		}
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	u, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, identity.MeResponse{User: &u.Identity})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	if !caller.IsAdmin() {
		writeError(w, http.StatusForbidden, "only administrators can register users")
		return
	}

	var req identity.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Missing()) > 0 {
		writeError(w, http.StatusBadRequest, "username, password, email and role are required")
		return
	}
	u, err := s.addUser(req)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, identity.MeResponse{User: &u.Identity})
}

func (s *Server) handleAPI(w http.ResponseWriter, r *http.Request) {
	u, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"path":   r.URL.Path,
		"query":  r.URL.RawQuery,
		"method": r.Method,
		"userId": u.ID,
		"cookie": r.Header.Get("Cookie"),
	})
}

func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (*user, bool) {
	claims, err := s.verify(bearer(r), tokenTypeAccess)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "access token is invalid or expired")
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ID == claims.Subject {
			return u, true
		}
	}
	writeError(w, http.StatusUnauthorized, "unknown user")
	return nil, false
}

func (s *Server) addUser(req identity.RegisterRequest) (*user, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.MinCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[req.Username]; exists {
		return nil, errors.New("username already exists")
	}
	u := &user{
		Identity: identity.Identity{
			ID:       uuid.NewString(),
			Username: req.Username,
			Role:     req.Role,
			Email:    req.Email,
		},
		passwordHash: hash,
	}
	s.users[req.Username] = u
	return u, nil
}

type claims struct {
	Type string `json:"typ"`
	Gen  int    `json:"gen"`
	jwtlib.RegisteredClaims
}

func (s *Server) issuePair(userID string, withRefresh bool) (identity.TokenResponse, error) {
	s.mu.Lock()
	gen := s.accessGen
	s.mu.Unlock()

	access, err := s.sign(userID, tokenTypeAccess, gen, s.accessTTL)
	if err != nil {
		return identity.TokenResponse{}, err
	}
	resp := identity.TokenResponse{AccessToken: access}
	if withRefresh {
		if resp.RefreshToken, err = s.newRefreshToken(userID, s.refreshTTL); err != nil {
			return identity.TokenResponse{}, err
		}
	}
	return resp, nil
}

func (s *Server) newRefreshToken(userID string, ttl time.Duration) (string, error) {
	id := uuid.NewString()
	tok, err := s.signWithID(id, userID, tokenTypeRefresh, 0, ttl)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.refreshTokens[id] = userID
	s.mu.Unlock()
	return tok, nil
}

func (s *Server) sign(userID, typ string, gen int, ttl time.Duration) (string, error) {
	return s.signWithID(uuid.NewString(), userID, typ, gen, ttl)
}

func (s *Server) signWithID(id, userID, typ string, gen int, ttl time.Duration) (string, error) {
	now := NowTimeFunc()
	c := claims{
		Type: typ,
		Gen:  gen,
		RegisteredClaims: jwtlib.RegisteredClaims{
			ID:        id,
			Subject:   userID,
			Issuer:    "identitytest",
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", typ, err)
	}
	return signed, nil
}

func (s *Server) verify(raw, typ string) (*claims, error) {
	if raw == "" {
		return nil, errors.New("missing bearer token")
	}
	c := &claims{}
	_, err := jwtlib.ParseWithClaims(raw, c, func(*jwtlib.Token) (any, error) {
		return s.secret, nil
	}, jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}), jwtlib.WithTimeFunc(NowTimeFunc))
	if err != nil {
		return nil, err
	}
	if c.Type != typ {
		return nil, fmt.Errorf("expected %s token, got %s", typ, c.Type)
	}
	if typ == tokenTypeAccess {
		s.mu.Lock()
		current := s.accessGen
		s.mu.Unlock()
		if c.Gen < current {
			return nil, errors.New("access token expired")
		}
	}
	return c, nil
}

func bearer(r *http.Request) string {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, identity.ErrorResponse{Message: msg})
}
