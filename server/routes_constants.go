package server

import "github.com/jrsteele09/hotel-ops-gateway/guard"

// Route path constants
const (
	// Pages
	RouteRoot      = guard.PathRoot
	RouteLogin     = guard.PathLogin
	RouteDashboard = guard.PathDashboard

	// Gateways
	RouteAuth         = "/auth/"
	RouteAuthLogin    = "/auth/login"
	RouteAuthLogout   = "/auth/logout"
	RouteAuthMe       = "/auth/me"
	RouteAuthRefresh  = "/auth/refresh"
	RouteAuthRegister = "/auth/register"

	// Domain API, proxied to the backend
	RouteAPI = "/api/"

	// Static assets (patterns)
	RouteStatic = "/static/"
	RouteHealth = "/healthz"
)
