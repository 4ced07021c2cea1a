package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) initRoutes() {
	// LOGIN
	s.RegisterRouteHandler("POST "+RouteAuthLogin, ChainMiddleware(s.LoginHandler(), s.APIMiddleware(s.IssueProfile)...))
	s.RegisterRouteHandler("GET "+RouteAuthLogin, ChainMiddleware(s.BeginLoginHandler(), s.HTMLMiddleWare(s.IssueProfile)...))
	s.RegisterRouteHandler("GET "+RouteAuthCallback, ChainMiddleware(s.CallbackHandler(), s.HTMLMiddleWare()...))
	s.RegisterRouteHandler("POST "+RouteAuthLogout, ChainMiddleware(s.LogoutHandler(), s.APIMiddleware()...))

	// SESSION
	s.RegisterRouteHandler("GET "+RouteAuthSession, ChainMiddleware(s.SessionHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteAuthRefresh, ChainMiddleware(s.RefreshHandler(), s.APIMiddleware()...))

	if s.deps.Registrar != nil {
		s.RegisterRouteHandler("POST "+RouteAuthRegister, ChainMiddleware(s.RegisterHandler(), s.APIMiddleware(s.IssueProfile)...))
	}

	// Banking API proxy
	for _, gate := range apiRoleGates {
		s.RegisterRouteHandler(gate.pattern, ChainMiddleware(s.ProxyHandler(), s.APIMiddleware(s.RequireSession(), s.RequireRole(gate.roles...))...))
	}
	s.RegisterRouteHandler(RouteAPI, ChainMiddleware(s.ProxyHandler(), s.APIMiddleware(s.RequireSession())...))

	// CORS preflight; the API catch-all answers its own
	s.RegisterRouteHandler("OPTIONS /auth/", ChainMiddleware(func(w http.ResponseWriter, r *http.Request) {}, s.CorsMiddleware))

	s.RegisterRouteHandler("GET "+RouteMetrics, promhttp.Handler())
	s.RegisterRouteFunc("GET "+RouteHealth, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}
