package server

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/jrsteele09/go-auth-session/auth"
	"github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/registration"
	"github.com/rs/zerolog/log"
)

// errorResponse is the body of every failed gateway call. Error is a stable
// code the UI switches on; it never has to inspect raw status codes.
type errorResponse struct {
	Error    string `json:"error"`
	Message  string `json:"message,omitempty"`
	Retry    bool   `json:"retry,omitempty"`
	LoginURL string `json:"login_url,omitempty"`
	Step     string `json:"step,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn().Err(err).Msg("failed to write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := s.classify(r, err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("request failed")
	} else {
		log.Debug().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("request rejected")
	}
	writeJSON(w, status, body)
}

func (s *Server) classify(r *http.Request, err error) (int, errorResponse) {
	var body errorResponse
	var stepErr *registration.StepError
	if errors.As(err, &stepErr) {
		body.Step = string(stepErr.Step)
	}

	switch {
	case errors.Is(err, errors.ErrWeakPassword):
		body.Error, body.Message = "weak_password", err.Error()
		return http.StatusBadRequest, body
	case errors.Is(err, errors.ErrUserExists):
		body.Error = "user_exists"
		return http.StatusConflict, body
	case stepErr != nil && stepErr.Step == registration.StepAdminToken && errors.Is(err, errors.ErrInvalidCredentials):
		// The gateway's own provisioning client was refused, not the user
		body.Error = "registration_failed"
		return http.StatusBadGateway, body
	case errors.Is(err, errors.ErrInvalidCredentials):
		body.Error = "invalid_credentials"
		return http.StatusUnauthorized, body
	case errors.Is(err, errors.ErrProviderUnreachable):
		body.Error, body.Retry = "provider_unreachable", true
		return http.StatusServiceUnavailable, body
	case errors.Is(err, errors.ErrSessionExpired):
		body.Error, body.LoginURL = "session_expired", s.loginURL(returnTo(r))
		return http.StatusUnauthorized, body
	case errors.Is(err, errors.ErrInsufficientRole):
		body.Error = "insufficient_role"
		return http.StatusForbidden, body
	case errors.Is(err, errors.ErrInvalidState):
		body.Error = "invalid_state"
		return http.StatusBadRequest, body
	case errors.Is(err, errors.ErrUnsupported):
		body.Error = "unsupported"
		return http.StatusBadRequest, body
	case errors.Is(err, errors.ErrMalformedToken):
		body.Error = "malformed_token"
		return http.StatusBadGateway, body
	case stepErr != nil:
		body.Error = "registration_failed"
		return http.StatusBadGateway, body
	}
	body.Error = "internal_error"
	return http.StatusInternalServerError, body
}

// proxyError answers for a proxied call that failed or came back 401/403
func (s *Server) proxyError(w http.ResponseWriter, r *http.Request, err error) {
	if status, body := s.classify(r, err); status != http.StatusInternalServerError {
		writeJSON(w, status, body)
		return
	}
	log.Error().Err(err).Str("path", r.URL.Path).Msg("banking API unreachable")
	writeJSON(w, http.StatusBadGateway, errorResponse{Error: "bad_gateway", Retry: true})
}

// loginURL is the login entry point, carrying next when it is a safe local path
func (s *Server) loginURL(next string) string {
	target := RouteLoginPage
	if s.strategy() == auth.RedirectStrategy {
		target = RouteAuthLogin
	}
	next = safeNext(next)
	if next == "" {
		return target
	}
	return target + "?next=" + url.QueryEscape(next)
}

// returnTo is the destination to resume after login; only page navigations have one
func returnTo(r *http.Request) string {
	if r.Method != http.MethodGet || strings.HasPrefix(r.URL.Path, "/auth/") {
		return ""
	}
	return r.URL.RequestURI()
}

// safeNext accepts only local absolute paths so login cannot be turned into an open redirect
func safeNext(next string) string {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return ""
	}
	return next
}

func wantsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}
