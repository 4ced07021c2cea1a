package server

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jrsteele09/go-auth-session/auth"
	"github.com/jrsteele09/go-auth-session/internal/config"
	"github.com/jrsteele09/go-auth-session/registration"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/rs/zerolog/log"
)

// Registrar creates provider accounts for self sign up
type Registrar interface {
	Register(ctx context.Context, req registration.Request) (string, error)
}

// DurableTierFunc opens the durable tier of one browser profile
type DurableTierFunc func(profileID string) (sessions.Tier, error)

// Deps are the collaborators the gateway is built from
type Deps struct {
	Provider      auth.Provider
	ProviderHosts []string
	DurableTier   DurableTierFunc
	Registrar     Registrar // nil disables POST /auth/register
	Watcher       *auth.Watcher
	APITransport  http.RoundTripper // base transport towards the banking API, http.DefaultTransport when nil
}

// Server is the session gateway: it keeps one session manager per browser
// profile and fronts the banking API with the profile's bearer token.
type Server struct {
	env      string
	mux      *http.ServeMux
	routes   []string
	config   config.Config
	deps     Deps
	apiURL   *url.URL
	profiles *profiles
}

// New builds the gateway. Profile watches run until ctx is done; idle
// profiles are swept until Close.
func New(ctx context.Context, cfg config.Config, deps Deps) (*Server, error) {
	if deps.Provider == nil {
		return nil, fmt.Errorf("[Server New] provider is required")
	}
	if deps.DurableTier == nil {
		return nil, fmt.Errorf("[Server New] durable tier factory is required")
	}
	apiURL, err := url.Parse(cfg.GetAPIBaseURL())
	if err != nil || apiURL.Host == "" {
		return nil, fmt.Errorf("[Server New] invalid API base URL %q", cfg.GetAPIBaseURL())
	}

	s := &Server{
		env:    cfg.GetEnv(),
		mux:    http.NewServeMux(),
		config: cfg,
		deps:   deps,
		apiURL: apiURL,
	}
	s.profiles = newProfiles(ctx, s)
	if err := s.profiles.startSweeper(); err != nil {
		return nil, err
	}

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Close releases every profile's manager
func (s *Server) Close() {
	s.profiles.closeAll()
}

// OpenProfiles is the number of browser profiles holding a session manager
func (s *Server) OpenProfiles() int {
	return s.profiles.count()
}

// EvictIdleProfiles closes the profiles left unused for the configured idle
// timeout as of now and returns how many were closed. It also runs on a schedule.
func (s *Server) EvictIdleProfiles(now time.Time) int {
	return s.profiles.evictIdle(now)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) strategy() auth.Strategy {
	if s.config.GetLoginStrategy() == config.RedirectStrategy {
		return auth.RedirectStrategy
	}
	return auth.DirectStrategy
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			logRoute(parts[0], parts[1])
		} else {
			logRoute("", parts[0])
		}
	}
}

func logRoute(method, path string) {
	var displayMethod string
	paddedMethod := fmt.Sprintf(" %-7s", method)
	if color, ok := methodColors[method]; ok {
		displayMethod = color + paddedMethod + ResetColor
	} else {
		displayMethod = Gray + paddedMethod + ResetColor
	}
	log.Info().Msgf("[%-19s] %s", displayMethod, path)
}

// Helper function to determine the scheme (http/https)
func getScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if scheme := r.Header.Get("X-Forwarded-Proto"); scheme != "" {
		return scheme
	}
	return "http"
}
