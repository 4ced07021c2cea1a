// Package httpclient binds outgoing HTTP calls to the stored session: it
// attaches the bearer token and reports 401 responses to the session manager.
package httpclient

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jrsteele09/go-auth-session/auth"
	"github.com/jrsteele09/go-auth-session/internal/metrics"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/rs/zerolog/log"
)

var (
	_ http.RoundTripper = (*Transport)(nil)
	_ auth.BearerSink   = (*Transport)(nil)
	_ SessionSource     = (*auth.Manager)(nil)
)

// SessionSource hands out the live session, refreshing or dropping it once it
// has expired, and is told about a 401 for the access token that was sent.
type SessionSource interface {
	Current(ctx context.Context) (*sessions.Session, error)
	Invalidate(ctx context.Context, accessToken string) (bool, error)
}

// Transport attaches the stored session's bearer token to every request except
// those to the identity provider, and reports 401 responses. A 403 leaves the
// session alone.
type Transport struct {
	base          http.RoundTripper
	store         auth.SessionReader
	providerHosts map[string]struct{}

	lock   sync.RWMutex
	bearer string // derived from the session, re-synchronised on every request
	source SessionSource
	now    func() time.Time
}

// TransportOption configures a Transport
type TransportOption func(*Transport)

// WithBase sets the round tripper requests are sent with (http.DefaultTransport otherwise)
func WithBase(base http.RoundTripper) TransportOption {
	return func(t *Transport) {
		t.base = base
	}
}

// WithProviderHosts lists hosts that never receive the bearer token
func WithProviderHosts(hosts ...string) TransportOption {
	return func(t *Transport) {
		for _, h := range hosts {
			if h != "" {
				t.providerHosts[strings.ToLower(h)] = struct{}{}
			}
		}
	}
}

func NewTransport(store auth.SessionReader, options ...TransportOption) *Transport {
	t := &Transport{
		base:          http.DefaultTransport,
		store:         store,
		providerHosts: make(map[string]struct{}),
		now:           time.Now,
	}
	for _, opt := range options {
		opt(t)
	}
	return t
}

// SetSource wires the manager in once both exist
func (t *Transport) SetSource(src SessionSource) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.source = src
}

func (t *Transport) sessionSource() SessionSource {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return t.source
}

func (t *Transport) SetBearer(accessToken string) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.bearer = accessToken
}

func (t *Transport) ClearBearer() {
	t.SetBearer("")
}

// Bearer is the token the next request would carry, as last synchronised
func (t *Transport) Bearer() string {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return t.bearer
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.isProviderHost(req.URL.Host) {
		return t.base.RoundTrip(req)
	}

	accessToken := t.sync(req.Context())
	out := req
	if accessToken != "" && req.Header.Get("Authorization") == "" {
		out = req.Clone(req.Context())
		out.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := t.base.RoundTrip(out)
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		t.unauthorized(req.Context(), accessToken)
	case http.StatusForbidden:
		metrics.ForbiddenResponsesTotal.Inc()
	}
	return resp, nil
}

// sync asks the manager for the live session so the bearer never outlives it.
// An expired session is refreshed first or, failing that, not sent at all.
func (t *Transport) sync(ctx context.Context) string {
	var (
		session *sessions.Session
		err     error
	)
	if src := t.sessionSource(); src != nil {
		session, err = src.Current(ctx)
	} else {
		session, err = t.store.Load(ctx)
		if session != nil && session.IsExpired(t.now()) {
			session = nil
		}
	}

	accessToken := ""
	if err != nil {
		log.Warn().Err(err).Msg("Transport: no usable session, sending request without bearer")
	} else if session != nil {
		accessToken = session.AccessToken
	}
	t.SetBearer(accessToken)
	return accessToken
}

func (t *Transport) unauthorized(ctx context.Context, accessToken string) {
	src := t.sessionSource()
	if accessToken == "" || src == nil {
		metrics.RecordUnauthorized(false)
		return
	}
	invalidated, err := src.Invalidate(context.WithoutCancel(ctx), accessToken)
	if err != nil {
		log.Error().Err(err).Msg("Transport: failed to invalidate session after 401")
	}
	metrics.RecordUnauthorized(invalidated)
}

func (t *Transport) isProviderHost(hostport string) bool {
	if len(t.providerHosts) == 0 {
		return false
	}
	hostport = strings.ToLower(hostport)
	if _, ok := t.providerHosts[hostport]; ok {
		return true
	}
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		_, ok := t.providerHosts[host]
		return ok
	}
	return false
}
