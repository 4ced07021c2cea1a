package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/jrsteele09/go-auth-session/auth"
	"github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/registration"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/rs/zerolog/log"
)

type loginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	RememberMe *bool  `json:"remember_me"`
	Next       string `json:"next"`
}

type registerRequest struct {
	PhoneNumber string `json:"phone_number"`
	Password    string `json:"password"`
	FirstName   string `json:"first_name"`
	Email       string `json:"email"`
	RememberMe  *bool  `json:"remember_me"`
}

// sessionView is what the UI learns about the session; tokens never leave the gateway
type sessionView struct {
	Authenticated bool       `json:"authenticated"`
	State         string     `json:"state"`
	Strategy      string     `json:"strategy"`
	Subject       string     `json:"subject,omitempty"`
	DisplayName   string     `json:"display_name,omitempty"`
	Email         string     `json:"email,omitempty"`
	Roles         []string   `json:"roles,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	RememberMe    bool       `json:"remember_me,omitempty"`
}

type redirectView struct {
	RedirectURL string `json:"redirect_url"`
}

type registerView struct {
	UserID   string       `json:"user_id"`
	Session  *sessionView `json:"session,omitempty"`
	LoginURL string       `json:"login_url,omitempty"`
}

func (s *Server) view(pr *profile, session *sessions.Session) sessionView {
	v := sessionView{
		State:    auth.Anonymous.String(),
		Strategy: string(s.strategy()),
	}
	if pr != nil {
		v.State = pr.manager.State().String()
	}
	if session == nil {
		return v
	}
	v.Authenticated = true
	v.Subject = session.Subject
	v.DisplayName = session.DisplayName
	v.Email = session.Email
	v.Roles = session.Roles
	v.ExpiresAt = session.ExpiresAt
	v.RememberMe = session.Tier == sessions.DurableTier
	return v
}

func (s *Server) rememberMe(flag *bool) bool {
	if flag == nil {
		return s.config.GetRememberMeDefault()
	}
	return *flag
}

// LoginHandler logs in with credentials under the direct strategy. Under the
// redirect strategy it answers with the provider URL the UI has to navigate to.
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pr := profileFrom(r.Context())

		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad_request", Message: "invalid JSON body"})
			return
		}
		rememberMe := s.rememberMe(req.RememberMe)

		if pr.manager.Strategy() == auth.RedirectStrategy {
			redirect, err := pr.manager.BeginLogin(r.Context(), rememberMe, safeNext(req.Next))
			if err != nil {
				s.writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, redirectView{RedirectURL: redirect.URL})
			return
		}

		if req.Username == "" || req.Password == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad_request", Message: "username and password are required"})
			return
		}
		session, err := pr.manager.Login(r.Context(), req.Username, req.Password, rememberMe)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.setProfileCookie(w, r, pr.id, rememberMe)
		writeJSON(w, http.StatusOK, s.view(pr, session))
	}
}

// BeginLoginHandler sends the browser to the provider's login page
func (s *Server) BeginLoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pr := profileFrom(r.Context())
		q := r.URL.Query()

		rememberMe := s.config.GetRememberMeDefault()
		if raw := q.Get("remember_me"); raw != "" {
			if b, err := strconv.ParseBool(raw); err == nil {
				rememberMe = b
			}
		}

		redirect, err := pr.manager.BeginLogin(r.Context(), rememberMe, safeNext(q.Get("next")))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		http.Redirect(w, r, redirect.URL, http.StatusFound)
	}
}

// CallbackHandler completes the redirect login and resumes at the saved destination
func (s *Server) CallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pr := profileFrom(r.Context())
		q := r.URL.Query()

		if providerErr := q.Get("error"); providerErr != "" {
			s.writeError(w, r, fmt.Errorf("[Server callback] provider answered %s (%s): %w", providerErr, q.Get("error_description"), errors.ErrInvalidCredentials))
			return
		}

		if pr == nil {
			// The login was not started from this browser
			s.writeError(w, r, fmt.Errorf("[Server callback] no profile for state: %w", errors.ErrInvalidState))
			return
		}
		session, next, err := pr.manager.CompleteLogin(r.Context(), q.Get("state"), q.Get("code"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.setProfileCookie(w, r, pr.id, session.Tier == sessions.DurableTier)

		if next = safeNext(next); next == "" {
			next = "/"
		}
		http.Redirect(w, r, next, http.StatusSeeOther)
	}
}

// LogoutHandler ends the profile's session. It succeeds even when the provider cannot be told.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pr := profileFrom(r.Context())
		if pr == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if err := pr.manager.Logout(r.Context()); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// SessionHandler reports the current session, refreshing it when it is about to expire
func (s *Server) SessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pr := profileFrom(r.Context())
		if pr == nil {
			writeJSON(w, http.StatusOK, s.view(nil, nil))
			return
		}
		session, err := pr.manager.Current(r.Context())
		if err != nil && !errors.Is(err, errors.ErrSessionExpired) {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, s.view(pr, session))
	}
}

// RefreshHandler forces a refresh of the access token
func (s *Server) RefreshHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pr := profileFrom(r.Context())
		if pr == nil {
			s.writeError(w, r, fmt.Errorf("[Server refresh] no session: %w", errors.ErrSessionExpired))
			return
		}
		session, err := pr.manager.Refresh(r.Context())
		if err != nil && session == nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, s.view(pr, session))
	}
}

// RegisterHandler creates the provider account and, under the direct strategy, logs the new user in
func (s *Server) RegisterHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pr := profileFrom(r.Context())

		var req registerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad_request", Message: "invalid JSON body"})
			return
		}

		userID, err := s.deps.Registrar.Register(r.Context(), registration.Request{
			PhoneNumber: req.PhoneNumber,
			Password:    req.Password,
			FirstName:   req.FirstName,
			Email:       req.Email,
		})
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		resp := registerView{UserID: userID}
		if pr.manager.Strategy() != auth.DirectStrategy {
			resp.LoginURL = s.loginURL("")
			writeJSON(w, http.StatusCreated, resp)
			return
		}

		rememberMe := s.rememberMe(req.RememberMe)
		session, err := pr.manager.Login(r.Context(), req.PhoneNumber, req.Password, rememberMe)
		if err != nil {
			log.Warn().Err(err).Str("user_id", userID).Msg("registered but automatic login failed")
			resp.LoginURL = s.loginURL("")
			writeJSON(w, http.StatusCreated, resp)
			return
		}
		s.setProfileCookie(w, r, pr.id, rememberMe)
		view := s.view(pr, session)
		resp.Session = &view
		writeJSON(w, http.StatusCreated, resp)
	}
}

// ProxyHandler forwards the call to the banking API with the profile's bearer token
func (s *Server) ProxyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		profileFrom(r.Context()).proxy.ServeHTTP(w, r)
	}
}
