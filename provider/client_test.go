package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	server      *httptest.Server
	status      int
	body        map[string]any
	lastForm    url.Values
	lastAuth    string
	tokenCalls  atomic.Int32
	logoutCalls atomic.Int32
}

func newStubProvider(t *testing.T) *stubProvider {
	stub := &stubProvider{
		status: http.StatusOK,
		body: map[string]any{
			"access_token":  "a1",
			"refresh_token": "r1",
			"id_token":      "i1",
			"token_type":    "Bearer",
			"expires_in":    3600,
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		stub.tokenCalls.Add(1)
		require.NoError(t, r.ParseForm())
		stub.lastForm = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(stub.status)
		_ = json.NewEncoder(w).Encode(stub.body)
	})
	mux.HandleFunc("/logout", func(w http.ResponseWriter, r *http.Request) {
		stub.logoutCalls.Add(1)
		require.NoError(t, r.ParseForm())
		stub.lastForm = r.PostForm
		stub.lastAuth = r.Header.Get("Authorization")
		w.WriteHeader(stub.status)
		if stub.status >= http.StatusBadRequest {
			_ = json.NewEncoder(w).Encode(stub.body)
		}
	})
	stub.server = httptest.NewServer(mux)
	t.Cleanup(stub.server.Close)
	return stub
}

func (s *stubProvider) client() *Client {
	return New(Options{
		ClientID:  "klb-frontend",
		AuthURL:   s.server.URL + "/auth",
		TokenURL:  s.server.URL + "/token",
		LogoutURL: s.server.URL + "/logout",
		Scopes:    []string{"openid"},
	})
}

func TestPasswordGrant(t *testing.T) {
	stub := newStubProvider(t)

	tokens, err := stub.client().PasswordGrant(context.Background(), "0901234567", "admin123")
	require.NoError(t, err)
	require.Equal(t, "a1", tokens.AccessToken)
	require.Equal(t, "r1", tokens.RefreshToken)
	require.Equal(t, "i1", tokens.IDToken)
	require.False(t, tokens.Expiry.IsZero())

	require.Equal(t, "password", stub.lastForm.Get("grant_type"))
	require.Equal(t, "klb-frontend", stub.lastForm.Get("client_id"))
	require.Equal(t, "0901234567", stub.lastForm.Get("username"))
	require.Equal(t, "admin123", stub.lastForm.Get("password"))
}

func TestPasswordGrantClassification(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        map[string]any
		rejected    bool
		unreachable bool
	}{
		{
			name:     "invalid grant",
			status:   http.StatusBadRequest,
			body:     map[string]any{"error": "invalid_grant", "error_description": "Invalid user credentials"},
			rejected: true,
		},
		{
			name:     "unauthorized client",
			status:   http.StatusUnauthorized,
			body:     map[string]any{"error": "unauthorized_client"},
			rejected: true,
		},
		{
			name:        "server error",
			status:      http.StatusBadGateway,
			body:        map[string]any{"error": "bad_gateway"},
			unreachable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := newStubProvider(t)
			stub.status = tt.status
			stub.body = tt.body

			_, err := stub.client().PasswordGrant(context.Background(), "0901234567", "wrong")
			require.Error(t, err)
			require.Equal(t, tt.rejected, errors.Is(err, errors.ErrInvalidCredentials))
			require.Equal(t, tt.unreachable, errors.Is(err, errors.ErrProviderUnreachable))

			var perr *Error
			require.True(t, errors.As(err, &perr))
			require.Equal(t, tt.status, perr.Status)
			require.Equal(t, "password_grant", perr.Op)
		})
	}
}

func TestPasswordGrantConnectionRefused(t *testing.T) {
	stub := newStubProvider(t)
	c := stub.client()
	stub.server.Close()

	_, err := c.PasswordGrant(context.Background(), "0901234567", "admin123")
	require.ErrorIs(t, err, errors.ErrProviderUnreachable)
	require.NotErrorIs(t, err, errors.ErrInvalidCredentials)
}

func TestRefresh(t *testing.T) {
	stub := newStubProvider(t)
	stub.body["access_token"] = "a2"
	delete(stub.body, "refresh_token")

	tokens, err := stub.client().Refresh(context.Background(), "r1")
	require.NoError(t, err)
	require.Equal(t, "a2", tokens.AccessToken)
	require.Equal(t, "r1", tokens.RefreshToken, "x/oauth2 keeps the old refresh token when none is returned")
	require.Equal(t, "refresh_token", stub.lastForm.Get("grant_type"))
	require.Equal(t, "r1", stub.lastForm.Get("refresh_token"))
}

func TestAuthCodeURLAndExchange(t *testing.T) {
	stub := newStubProvider(t)
	c := stub.client()

	raw := c.AuthCodeURL("state-1", "verifier-that-is-long-enough-0123456789abcdef")
	u, err := url.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "state-1", u.Query().Get("state"))
	require.Equal(t, "S256", u.Query().Get("code_challenge_method"))
	require.NotEmpty(t, u.Query().Get("code_challenge"))

	tokens, err := c.Exchange(context.Background(), "code-1", "verifier-that-is-long-enough-0123456789abcdef")
	require.NoError(t, err)
	require.Equal(t, "a1", tokens.AccessToken)
	require.Equal(t, "authorization_code", stub.lastForm.Get("grant_type"))
	require.Equal(t, "code-1", stub.lastForm.Get("code"))
	require.Equal(t, "verifier-that-is-long-enough-0123456789abcdef", stub.lastForm.Get("code_verifier"))
}

func TestLogout(t *testing.T) {
	stub := newStubProvider(t)
	stub.status = http.StatusNoContent

	require.NoError(t, stub.client().Logout(context.Background(), "a1", "r1"))
	require.Equal(t, int32(1), stub.logoutCalls.Load())
	require.Equal(t, "Bearer a1", stub.lastAuth)
	require.Equal(t, "klb-frontend", stub.lastForm.Get("client_id"))
	require.Equal(t, "r1", stub.lastForm.Get("refresh_token"))
}

func TestLogoutFailure(t *testing.T) {
	stub := newStubProvider(t)
	stub.status = http.StatusInternalServerError

	err := stub.client().Logout(context.Background(), "a1", "r1")
	require.ErrorIs(t, err, errors.ErrProviderUnreachable)
}

func TestLogoutRejectedCarriesOAuthError(t *testing.T) {
	stub := newStubProvider(t)
	stub.status = http.StatusBadRequest
	stub.body = map[string]any{"error": "invalid_grant", "error_description": "Session not active"}

	err := stub.client().Logout(context.Background(), "a1", "r1")

	require.ErrorIs(t, err, errors.ErrInvalidCredentials)
	var providerErr *Error
	require.True(t, errors.As(err, &providerErr))
	require.Equal(t, "logout", providerErr.Op)
	require.Equal(t, http.StatusBadRequest, providerErr.Status)
	require.Equal(t, "invalid_grant", providerErr.Code)
	require.Equal(t, "Session not active", providerErr.Description)
}

func TestHosts(t *testing.T) {
	c := New(Options{
		AuthURL:   "http://localhost:8090/realms/Kienlongbank/protocol/openid-connect/auth",
		TokenURL:  "http://localhost:8090/realms/Kienlongbank/protocol/openid-connect/token",
		LogoutURL: "http://sso.example.com/logout",
	})
	require.Equal(t, []string{"localhost:8090", "sso.example.com"}, c.Hosts())
}
