package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/jrsteele09/hotel-ops-gateway/cookies"
	"github.com/jrsteele09/hotel-ops-gateway/identity"
	"github.com/jrsteele09/hotel-ops-gateway/internal/config"
	"github.com/jrsteele09/hotel-ops-gateway/throttle"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// IdentityService is the part of the identity service the gateways call.
// *identity.Client satisfies it.
type IdentityService interface {
	Login(ctx context.Context, username, password string) (*identity.LoginResult, error)
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
	Logout(ctx context.Context, accessToken string) error
	Me(ctx context.Context, accessToken string) (*identity.Identity, error)
	Register(ctx context.Context, accessToken string, req identity.RegisterRequest) (*identity.Passthrough, error)
}

var _ IdentityService = (*identity.Client)(nil)

type Server struct {
	env      string
	mux      *http.ServeMux
	routes   []string
	config   config.Config
	identity IdentityService
	cookies  *cookies.Store
	limiter  throttle.Limiter
	backend  *httputil.ReverseProxy
	pages    *pages
}

// New wires the gateways, the route guard and the API proxy. A nil limiter
// disables login throttling.
func New(cfg config.Config, identitySvc IdentityService, limiter throttle.Limiter) (*Server, error) {
	if identitySvc == nil {
		return nil, fmt.Errorf("[Server New] identity service is required")
	}
	if limiter == nil || !cfg.GetEnableRateLimiting() {
		limiter = throttle.Nop{}
	}

	backendURL, err := url.Parse(cfg.GetBackendAPIURL())
	if err != nil || backendURL.Scheme == "" || backendURL.Host == "" {
		return nil, fmt.Errorf("[Server New] invalid backend API url %q", cfg.GetBackendAPIURL())
	}

	p, err := newPages(cfg.GetAppName(), cfg.GetStaticFolder())
	if err != nil {
		return nil, fmt.Errorf("[Server New] failed to load pages: %w", err)
	}

	s := &Server{
		env:      cfg.GetEnv(),
		mux:      http.NewServeMux(),
		config:   cfg,
		identity: identitySvc,
		limiter:  limiter,
		pages:    p,
		cookies: cookies.NewStore(cookies.Attributes{
			AccessMaxAge:  cfg.GetAccessTokenMaxAge(),
			RefreshMaxAge: cfg.GetRefreshTokenMaxAge(),
			AlwaysSecure:  cfg.GetEnv() == config.EnvProd,
		}),
	}
	s.backend = s.newBackendProxy(backendURL)

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != config.EnvDev {
		return
	}
	for _, route := range s.routes {
		method, path, found := strings.Cut(route, " ")
		if !found {
			method, path = "", route
		}
		log.Debug().Str("method", method).Str("path", path).Msg("route registered")
	}
}
