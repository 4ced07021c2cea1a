package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/sessions"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// ContextKeyProfile stores the request's browser profile
	ContextKeyProfile ContextKey = "profile"
	// ContextKeySession stores the session RequireSession found
	ContextKeySession ContextKey = "session"
)

func profileFrom(ctx context.Context) *profile {
	pr, _ := ctx.Value(ContextKeyProfile).(*profile)
	return pr
}

// SessionFrom returns the session RequireSession put on the request context
func SessionFrom(ctx context.Context) *sessions.Session {
	s, _ := ctx.Value(ContextKeySession).(*sessions.Session)
	return s
}

// WithProfile puts the browser profile named by the request's cookie on the
// request context. Requests without a known profile carry none and are
// answered as anonymous.
func (s *Server) WithProfile(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pr, err := s.profileFor(r)
		if err != nil {
			s.writeError(w, r, fmt.Errorf("[Server WithProfile] %w", err))
			return
		}
		if pr == nil {
			next(w, r)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), ContextKeyProfile, pr)))
	}
}

// IssueProfile opens a profile, issuing the cookie when the request has none.
// Only the routes that start a login or registration use it.
func (s *Server) IssueProfile(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if profileFrom(r.Context()) != nil {
			next(w, r)
			return
		}
		pr, err := s.issueProfile(w, r)
		if err != nil {
			s.writeError(w, r, fmt.Errorf("[Server IssueProfile] %w", err))
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), ContextKeyProfile, pr)))
	}
}

// RequireSession lets the request through only with a live session, refreshing
// it first when it is about to expire. Page navigations without one are
// redirected to the login entry point; API calls get a session_expired error.
func (s *Server) RequireSession() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			var session *sessions.Session
			if pr := profileFrom(r.Context()); pr != nil {
				var err error
				session, err = pr.manager.Current(r.Context())
				if err != nil && !errors.Is(err, errors.ErrSessionExpired) {
					s.writeError(w, r, err)
					return
				}
			}
			if session == nil {
				if wantsHTML(r) {
					http.Redirect(w, r, s.loginURL(returnTo(r)), http.StatusSeeOther)
					return
				}
				s.writeError(w, r, fmt.Errorf("[Server RequireSession] %s: %w", r.URL.Path, errors.ErrSessionExpired))
				return
			}
			next(w, r.WithContext(context.WithValue(r.Context(), ContextKeySession, session)))
		}
	}
}

// RequireRole admits sessions holding at least one of roles. It runs after RequireSession.
func (s *Server) RequireRole(roles ...string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			pr := profileFrom(r.Context())
			if !pr.gate.HasAnyRole(r.Context(), roles...) {
				s.writeError(w, r, fmt.Errorf("[Server RequireRole] %s %s needs one of %v: %w", r.Method, r.URL.Path, roles, errors.ErrInsufficientRole))
				return
			}
			next(w, r)
		}
	}
}
