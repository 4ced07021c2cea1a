// Package provider talks to the OpenID Connect identity provider's token,
// authorization and logout endpoints on behalf of the session manager.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/internal/metrics"
	"golang.org/x/oauth2"
)

// Options configures a provider client
type Options struct {
	ClientID     string
	ClientSecret string // Empty for public clients
	AuthURL      string
	TokenURL     string
	LogoutURL    string
	RedirectURL  string // Redirect login callback, unused by the direct grant
	Scopes       []string
	HTTPClient   *http.Client
}

// Client is the single entry point to the identity provider
type Client struct {
	oauth      *oauth2.Config
	logoutURL  string
	httpClient *http.Client
	verifier   *oidc.IDTokenVerifier
}

// New creates a client from explicit endpoints
func New(o Options) *Client {
	httpClient := o.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		oauth: &oauth2.Config{
			ClientID:     o.ClientID,
			ClientSecret: o.ClientSecret,
			RedirectURL:  o.RedirectURL,
			Scopes:       o.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   o.AuthURL,
				TokenURL:  o.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		logoutURL:  o.LogoutURL,
		httpClient: httpClient,
	}
}

// Discover builds a client from the issuer's discovery document and verifies
// ID tokens returned by the redirect login against the issuer's keys
func Discover(ctx context.Context, issuer string, o Options) (*Client, error) {
	httpClient := o.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	p, err := oidc.NewProvider(oidc.ClientContext(ctx, httpClient), issuer)
	if err != nil {
		return nil, &Error{Op: "discovery", Err: err}
	}

	var claims struct {
		EndSessionURL string `json:"end_session_endpoint"`
	}
	if err := p.Claims(&claims); err != nil {
		return nil, fmt.Errorf("[provider Discover] decode discovery document: %w", err)
	}

	endpoint := p.Endpoint()
	o.AuthURL = endpoint.AuthURL
	o.TokenURL = endpoint.TokenURL
	if o.LogoutURL == "" {
		o.LogoutURL = claims.EndSessionURL
	}
	o.HTTPClient = httpClient

	c := New(o)
	c.verifier = p.Verifier(&oidc.Config{ClientID: o.ClientID})
	return c, nil
}

// Hosts lists the hosts of the provider's endpoints; bearer tokens for the banking API must never be sent there
func (c *Client) Hosts() []string {
	seen := map[string]struct{}{}
	var hosts []string
	for _, raw := range []string{c.oauth.Endpoint.AuthURL, c.oauth.Endpoint.TokenURL, c.logoutURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			continue
		}
		if _, ok := seen[u.Host]; !ok {
			seen[u.Host] = struct{}{}
			hosts = append(hosts, u.Host)
		}
	}
	return hosts
}

// PasswordGrant performs the direct grant (resource owner password credentials)
func (c *Client) PasswordGrant(ctx context.Context, username, password string) (*Tokens, error) {
	tok, err := c.oauth.PasswordCredentialsToken(c.clientContext(ctx), username, password)
	if err != nil {
		return nil, c.observe("password_grant", classify("password_grant", err))
	}
	c.observe("password_grant", nil)
	return tokensFrom(tok), nil
}

// Refresh exchanges a refresh token. The previous refresh token is kept when the provider does not rotate it.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	tok, err := c.oauth.TokenSource(c.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, c.observe("refresh", classify("refresh", err))
	}
	c.observe("refresh", nil)
	return tokensFrom(tok), nil
}

// AuthCodeURL is where the user is sent for the redirect login. The verifier
// must be kept by the caller and handed back to Exchange (PKCE S256).
func (c *Client) AuthCodeURL(state, verifier string) string {
	return c.oauth.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

// Exchange trades the authorization code returned to the redirect URI for tokens
func (c *Client) Exchange(ctx context.Context, code, verifier string) (*Tokens, error) {
	ctx = c.clientContext(ctx)
	tok, err := c.oauth.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, c.observe("code_exchange", classify("code_exchange", err))
	}

	tokens := tokensFrom(tok)
	if c.verifier != nil && tokens.IDToken != "" {
		if _, err := c.verifier.Verify(ctx, tokens.IDToken); err != nil {
			return nil, c.observe("code_exchange", &Error{Op: "code_exchange", Status: http.StatusUnauthorized, Code: "invalid_id_token", Err: err})
		}
	}
	c.observe("code_exchange", nil)
	return tokens, nil
}

// Logout ends the provider side session for the given tokens
func (c *Client) Logout(ctx context.Context, accessToken, refreshToken string) error {
	if c.logoutURL == "" {
		return nil
	}

	form := url.Values{"client_id": {c.oauth.ClientID}}
	if refreshToken != "" {
		form.Set("refresh_token", refreshToken)
	}
	if c.oauth.ClientSecret != "" {
		form.Set("client_secret", c.oauth.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.logoutURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("[provider Logout] build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.observe("logout", &Error{Op: "logout", Err: err})
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return c.observe("logout", ResponseError("logout", resp))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	c.observe("logout", nil)
	return nil
}

func (c *Client) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func (c *Client) observe(op string, err error) error {
	outcome := "ok"
	switch {
	case errors.Is(err, errors.ErrInvalidCredentials):
		outcome = "rejected"
	case err != nil:
		outcome = "unreachable"
	}
	metrics.ProviderRequestsTotal.WithLabelValues(op, outcome).Inc()
	return err
}

func classify(op string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		return &Error{
			Op:          op,
			Status:      re.Response.StatusCode,
			Code:        re.ErrorCode,
			Description: re.ErrorDescription,
			Err:         err,
		}
	}
	return &Error{Op: op, Err: err}
}

// ResponseError builds the Error for a non-success response, reading the
// OAuth2 error body when the provider sent one
func ResponseError(op string, resp *http.Response) *Error {
	e := &Error{Op: op, Status: resp.StatusCode}
	var body ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err == nil {
		e.Code = body.Error
		e.Description = body.ErrorDescription
	}
	return e
}

func tokensFrom(tok *oauth2.Token) *Tokens {
	idToken, _ := tok.Extra("id_token").(string)
	return &Tokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		IDToken:      idToken,
		Expiry:       tok.Expiry,
	}
}
