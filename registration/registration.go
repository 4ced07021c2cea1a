// Package registration provisions self-service accounts through the identity
// provider's admin API. It runs in the backend only; the administrative
// client credentials never reach the session manager.
package registration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/internal/metrics"
	"github.com/jrsteele09/go-auth-session/provider"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Step names the admin call a registration failed at
type Step string

const (
	StepValidate    Step = "validate"
	StepAdminToken  Step = "admin_token"
	StepCreateUser  Step = "create_user"
	StepSetPassword Step = "set_password"
	stepDone        Step = "done"
)

// StepError reports which admin call failed. UserID is set when the account
// was created but its password could not be set.
type StepError struct {
	Step   Step
	Status int // HTTP status, 0 when no response was received
	UserID string
	Err    error
}

func (e *StepError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("registration failed at %s: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("registration failed at %s: status %d: %v", e.Step, e.Status, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Request is what the sign up form submits
type Request struct {
	PhoneNumber string `json:"phoneNumber"`
	Password    string `json:"password"`
	FirstName   string `json:"firstName,omitempty"`
	Email       string `json:"email,omitempty"`
}

// Options configures the registrar
type Options struct {
	ProviderURL  string // e.g. http://localhost:8090
	Realm        string // Realm the user is created in
	AdminRealm   string // Realm the provisioning client lives in
	ClientID     string
	ClientSecret string
	EmailDomain  string // Used for a default email when none is given
	HTTPClient   *http.Client
}

// Registrar creates users: admin token, create user, set password
type Registrar struct {
	admin       *clientcredentials.Config
	providerURL string
	realm       string
	emailDomain string
	httpClient  *http.Client
}

func New(o Options) *Registrar {
	httpClient := o.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	providerURL := strings.TrimSuffix(o.ProviderURL, "/")
	emailDomain := o.EmailDomain
	if emailDomain == "" {
		emailDomain = "klb-demo.com"
	}
	return &Registrar{
		admin: &clientcredentials.Config{
			ClientID:     o.ClientID,
			ClientSecret: o.ClientSecret,
			TokenURL:     fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", providerURL, o.AdminRealm),
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		providerURL: providerURL,
		realm:       o.Realm,
		emailDomain: emailDomain,
		httpClient:  httpClient,
	}
}

// Register creates the account and returns its id. The caller logs the user in afterwards.
func (r *Registrar) Register(ctx context.Context, req Request) (string, error) {
	userID, err := r.register(ctx, req)
	if err != nil {
		step := StepValidate
		var stepErr *StepError
		if errors.As(err, &stepErr) {
			step = stepErr.Step
		}
		metrics.RegistrationsTotal.WithLabelValues(string(step)).Inc()
		return "", err
	}
	metrics.RegistrationsTotal.WithLabelValues(string(stepDone)).Inc()
	log.Info().Str("user_id", userID).Msg("Registrar: user registered")
	return userID, nil
}

func (r *Registrar) register(ctx context.Context, req Request) (string, error) {
	if req.PhoneNumber == "" {
		return "", &StepError{Step: StepValidate, Err: fmt.Errorf("phone number is required")}
	}
	if err := ValidatePasswordStrength(req.Password); err != nil {
		return "", &StepError{Step: StepValidate, Err: err}
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)
	adminToken, err := r.admin.Token(ctx)
	if err != nil {
		return "", adminTokenError(err)
	}

	// The admin client attaches the bearer to both admin calls
	admin := oauth2.NewClient(ctx, oauth2.StaticTokenSource(adminToken))
	admin.Timeout = r.httpClient.Timeout

	userID, err := r.createUser(ctx, admin, req)
	if err != nil {
		return "", err
	}

	if err := r.setPassword(ctx, admin, userID, req.Password); err != nil {
		return "", err
	}
	return userID, nil
}

// adminTokenError classifies a failed client credentials grant the way the
// session manager's provider calls are: a refused grant is a credentials
// problem, anything else leaves the provider unreachable.
func adminTokenError(err error) *StepError {
	providerErr := &provider.Error{Op: "admin_token", Err: err}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		providerErr.Status = re.Response.StatusCode
		providerErr.Code = re.ErrorCode
		providerErr.Description = re.ErrorDescription
	}
	return &StepError{Step: StepAdminToken, Status: providerErr.Status, Err: providerErr}
}

type userRepresentation struct {
	Username      string              `json:"username"`
	FirstName     string              `json:"firstName"`
	LastName      string              `json:"lastName"`
	Email         string              `json:"email"`
	EmailVerified bool                `json:"emailVerified"`
	Enabled       bool                `json:"enabled"`
	Attributes    map[string][]string `json:"attributes,omitempty"`
}

type credentialRepresentation struct {
	Type      string `json:"type"`
	Value     string `json:"value"`
	Temporary bool   `json:"temporary"`
}

func (r *Registrar) createUser(ctx context.Context, admin *http.Client, req Request) (string, error) {
	firstName := req.FirstName
	if firstName == "" {
		firstName = req.PhoneNumber
	}
	email := req.Email
	if email == "" {
		email = req.PhoneNumber + "@" + r.emailDomain
	}

	resp, err := adminCall(ctx, admin, http.MethodPost, r.usersURL(), userRepresentation{
		Username:      req.PhoneNumber,
		FirstName:     firstName,
		Email:         email,
		EmailVerified: true,
		Enabled:       true,
		Attributes:    map[string][]string{"phoneNumber": {req.PhoneNumber}},
	})
	if err != nil {
		return "", &StepError{Step: StepCreateUser, Err: fmt.Errorf("%w: %v", errors.ErrProviderUnreachable, err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict:
		return "", &StepError{Step: StepCreateUser, Status: resp.StatusCode, Err: errors.ErrUserExists}
	case resp.StatusCode != http.StatusCreated:
		return "", &StepError{Step: StepCreateUser, Status: resp.StatusCode, Err: fmt.Errorf("%s", adminErrorMessage(resp.Body))}
	}

	location, err := url.Parse(resp.Header.Get("Location"))
	if err != nil || location.Path == "" {
		return "", &StepError{Step: StepCreateUser, Status: resp.StatusCode, Err: fmt.Errorf("missing Location header for created user")}
	}
	return path.Base(location.Path), nil
}

func (r *Registrar) setPassword(ctx context.Context, admin *http.Client, userID, password string) error {
	resp, err := adminCall(ctx, admin, http.MethodPut, r.usersURL()+"/"+url.PathEscape(userID)+"/reset-password", credentialRepresentation{
		Type:  "password",
		Value: password,
	})
	if err != nil {
		return &StepError{Step: StepSetPassword, UserID: userID, Err: fmt.Errorf("%w: %v", errors.ErrProviderUnreachable, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return &StepError{Step: StepSetPassword, Status: resp.StatusCode, UserID: userID, Err: fmt.Errorf("%s", adminErrorMessage(resp.Body))}
	}
	return nil
}

func (r *Registrar) usersURL() string {
	return fmt.Sprintf("%s/admin/realms/%s/users", r.providerURL, url.PathEscape(r.realm))
}

func adminCall(ctx context.Context, admin *http.Client, method, target string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return admin.Do(req)
}

// adminErrorMessage reads Keycloak's {"errorMessage": ...} body
func adminErrorMessage(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, 4<<10))
	var msg struct {
		ErrorMessage string `json:"errorMessage"`
		Error        string `json:"error"`
	}
	if json.Unmarshal(data, &msg) == nil {
		if msg.ErrorMessage != "" {
			return msg.ErrorMessage
		}
		if msg.Error != "" {
			return msg.Error
		}
	}
	if len(data) == 0 {
		return "no response body"
	}
	return strings.TrimSpace(string(data))
}
