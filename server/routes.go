package server

import (
	"net/http"
)

func (s *Server) initRoutes() {
	// Gateways
	s.RegisterRouteHandler("POST "+RouteAuthLogin, ChainMiddleware(s.LoginHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteAuthLogout, ChainMiddleware(s.LogoutHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteAuthRefresh, ChainMiddleware(s.RefreshHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteAuthMe, ChainMiddleware(s.MeHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteAuthRegister, ChainMiddleware(s.RegisterHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("OPTIONS "+RouteAuth, ChainMiddleware(s.PreflightHandler(), s.APIMiddleware()...))

	// Domain API
	s.RegisterRouteHandler(RouteAPI, ChainMiddleware(s.APIProxyHandler(), s.ProxyMiddleware()...))

	// Pages, behind the route guard
	s.RegisterRouteHandler("GET "+RouteRoot+"{$}", ChainMiddleware(s.pages.handler("index.html"), s.HTMLMiddleWare(s.RouteGuard())...))
	s.RegisterRouteHandler("GET "+RouteLogin, ChainMiddleware(s.pages.handler("login.html"), s.HTMLMiddleWare(s.RouteGuard())...))
	s.RegisterRouteHandler("GET "+RouteDashboard, ChainMiddleware(s.pages.handler("dashboard.html"), s.HTMLMiddleWare(s.RouteGuard())...))
	s.RegisterRouteHandler("GET "+RouteDashboard+"/", ChainMiddleware(s.pages.handler("dashboard.html"), s.HTMLMiddleWare(s.RouteGuard())...))
	// Every other path still goes through the guard so an auth page without a
	// page of its own redirects signed in users like /login does.
	s.RegisterRouteHandler(RouteRoot, ChainMiddleware(http.NotFound, s.HTMLMiddleWare(s.RouteGuard())...))

	// Static assets
	s.RegisterRouteHandler("GET "+RouteStatic, ChainMiddleware(s.pages.assets(), s.HTMLMiddleWare(s.CacheMiddleware)...))
	s.RegisterRouteFunc("GET "+RouteHealth, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
}
