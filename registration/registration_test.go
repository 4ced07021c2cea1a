package registration_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/provider"
	"github.com/jrsteele09/go-auth-session/registration"
	"github.com/stretchr/testify/require"
)

const testUserID = "5c1b5f3e-8a0e-4a43-9d3c-0d2d8f6a1b7e"

// stubKeycloak answers the three admin calls; each status can be overridden
type stubKeycloak struct {
	server         *httptest.Server
	tokenStatus    int
	createStatus   int
	passwordStatus int

	lock     sync.Mutex
	created  map[string]any
	password map[string]any
	bearers  []string
	calls    []string
}

func newStubKeycloak(t *testing.T) *stubKeycloak {
	stub := &stubKeycloak{
		tokenStatus:    http.StatusOK,
		createStatus:   http.StatusCreated,
		passwordStatus: http.StatusNoContent,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /realms/master/protocol/openid-connect/token", func(w http.ResponseWriter, r *http.Request) {
		stub.record("admin_token", "")
		require.NoError(t, r.ParseForm())
		require.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		require.Equal(t, "klb-provisioner", r.PostForm.Get("client_id"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(stub.tokenStatus)
		if stub.tokenStatus == http.StatusOK {
			_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "admin-token", "token_type": "Bearer", "expires_in": 60})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "unauthorized_client"})
	})
	mux.HandleFunc("POST /admin/realms/Kienlongbank/users", func(w http.ResponseWriter, r *http.Request) {
		stub.record("create_user", r.Header.Get("Authorization"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		stub.lock.Lock()
		stub.created = body
		stub.lock.Unlock()
		if stub.createStatus == http.StatusCreated {
			w.Header().Set("Location", stub.server.URL+"/admin/realms/Kienlongbank/users/"+testUserID)
			w.WriteHeader(http.StatusCreated)
			return
		}
		w.WriteHeader(stub.createStatus)
		_ = json.NewEncoder(w).Encode(map[string]any{"errorMessage": "User exists with same username"})
	})
	mux.HandleFunc("PUT /admin/realms/Kienlongbank/users/{id}/reset-password", func(w http.ResponseWriter, r *http.Request) {
		stub.record("set_password", r.Header.Get("Authorization"))
		require.Equal(t, testUserID, r.PathValue("id"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		stub.lock.Lock()
		stub.password = body
		stub.lock.Unlock()
		w.WriteHeader(stub.passwordStatus)
	})
	stub.server = httptest.NewServer(mux)
	t.Cleanup(stub.server.Close)
	return stub
}

func (s *stubKeycloak) record(call, bearer string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.calls = append(s.calls, call)
	if bearer != "" {
		s.bearers = append(s.bearers, bearer)
	}
}

func (s *stubKeycloak) registrar() *registration.Registrar {
	return registration.New(registration.Options{
		ProviderURL:  s.server.URL,
		Realm:        "Kienlongbank",
		AdminRealm:   "master",
		ClientID:     "klb-provisioner",
		ClientSecret: "provisioner-secret",
	})
}

func validRequest() registration.Request {
	return registration.Request{PhoneNumber: "0901234567", Password: "Secret123", FirstName: "An"}
}

func TestRegister(t *testing.T) {
	stub := newStubKeycloak(t)

	userID, err := stub.registrar().Register(context.Background(), validRequest())

	require.NoError(t, err)
	require.Equal(t, testUserID, userID)
	require.Equal(t, []string{"admin_token", "create_user", "set_password"}, stub.calls)
	require.Equal(t, []string{"Bearer admin-token", "Bearer admin-token"}, stub.bearers)

	require.Equal(t, "0901234567", stub.created["username"])
	require.Equal(t, "An", stub.created["firstName"])
	require.Equal(t, "0901234567@klb-demo.com", stub.created["email"])
	require.Equal(t, true, stub.created["enabled"])

	require.Equal(t, "password", stub.password["type"])
	require.Equal(t, "Secret123", stub.password["value"])
	require.Equal(t, false, stub.password["temporary"])
}

func TestRegisterWeakPasswordMakesNoCalls(t *testing.T) {
	stub := newStubKeycloak(t)
	req := validRequest()
	req.Password = "admin123"

	_, err := stub.registrar().Register(context.Background(), req)

	require.ErrorIs(t, err, errors.ErrWeakPassword)
	var stepErr *registration.StepError
	require.True(t, errors.As(err, &stepErr))
	require.Equal(t, registration.StepValidate, stepErr.Step)
	require.Empty(t, stub.calls)
}

func TestRegisterFailingStep(t *testing.T) {
	tests := []struct {
		name       string
		configure  func(*stubKeycloak)
		step       registration.Step
		status     int
		userID     string
		userExists bool
	}{
		{
			name:      "admin token rejected",
			configure: func(s *stubKeycloak) { s.tokenStatus = http.StatusUnauthorized },
			step:      registration.StepAdminToken,
			status:    http.StatusUnauthorized,
		},
		{
			name:       "user exists",
			configure:  func(s *stubKeycloak) { s.createStatus = http.StatusConflict },
			step:       registration.StepCreateUser,
			status:     http.StatusConflict,
			userExists: true,
		},
		{
			name:      "create rejected",
			configure: func(s *stubKeycloak) { s.createStatus = http.StatusBadRequest },
			step:      registration.StepCreateUser,
			status:    http.StatusBadRequest,
		},
		{
			name:      "password rejected",
			configure: func(s *stubKeycloak) { s.passwordStatus = http.StatusBadRequest },
			step:      registration.StepSetPassword,
			status:    http.StatusBadRequest,
			userID:    testUserID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := newStubKeycloak(t)
			tt.configure(stub)

			_, err := stub.registrar().Register(context.Background(), validRequest())

			var stepErr *registration.StepError
			require.True(t, errors.As(err, &stepErr))
			require.Equal(t, tt.step, stepErr.Step)
			require.Equal(t, tt.status, stepErr.Status)
			require.Equal(t, tt.userID, stepErr.UserID)
			require.Equal(t, tt.userExists, errors.Is(err, errors.ErrUserExists))
		})
	}
}

func TestRegisterProviderDown(t *testing.T) {
	stub := newStubKeycloak(t)
	r := stub.registrar()
	stub.server.Close()

	_, err := r.Register(context.Background(), validRequest())

	var stepErr *registration.StepError
	require.True(t, errors.As(err, &stepErr))
	require.Equal(t, registration.StepAdminToken, stepErr.Step)
	require.ErrorIs(t, err, errors.ErrProviderUnreachable)
	require.NotErrorIs(t, err, errors.ErrInvalidCredentials)
}

func TestRegisterAdminGrantRefused(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusUnauthorized} {
		stub := newStubKeycloak(t)
		stub.tokenStatus = status

		_, err := stub.registrar().Register(context.Background(), validRequest())

		require.ErrorIs(t, err, errors.ErrInvalidCredentials)
		require.NotErrorIs(t, err, errors.ErrProviderUnreachable)
		var providerErr *provider.Error
		require.True(t, errors.As(err, &providerErr))
		require.Equal(t, "admin_token", providerErr.Op)
		require.Equal(t, "unauthorized_client", providerErr.Code)
		require.Equal(t, []string{"admin_token"}, stub.calls)
	}
}

func TestRegisterAdminServerErrorIsUnreachable(t *testing.T) {
	stub := newStubKeycloak(t)
	stub.tokenStatus = http.StatusBadGateway

	_, err := stub.registrar().Register(context.Background(), validRequest())

	require.ErrorIs(t, err, errors.ErrProviderUnreachable)
	var stepErr *registration.StepError
	require.True(t, errors.As(err, &stepErr))
	require.Equal(t, http.StatusBadGateway, stepErr.Status)
}

func TestValidatePasswordStrength(t *testing.T) {
	tests := []struct {
		password string
		valid    bool
	}{
		{"Secret123", true},
		{"short1A", false},
		{"alllowercase1", false},
		{"ALLUPPERCASE1", false},
		{"NoNumbersHere", false},
	}
	for _, tt := range tests {
		t.Run(tt.password, func(t *testing.T) {
			err := registration.ValidatePasswordStrength(tt.password)
			if tt.valid {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, errors.ErrWeakPassword)
		})
	}
}
