package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/internal/metrics"
	"github.com/jrsteele09/go-auth-session/internal/utils"
	"github.com/jrsteele09/go-auth-session/provider"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/jrsteele09/go-auth-session/token"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const (
	defaultRefreshSkew = 30 * time.Second
	pendingLoginTTL    = 15 * time.Minute
	refreshKey         = "refresh"
)

// Strategy selects how Login obtains tokens. It is configuration, never a caller decision.
type Strategy string

const (
	// DirectStrategy posts the user's credentials to the token endpoint (password grant)
	DirectStrategy Strategy = "direct"
	// RedirectStrategy sends the user to the provider and exchanges the returned code (authorization code + PKCE)
	RedirectStrategy Strategy = "redirect"
)

// Provider is the identity provider as the manager sees it
type Provider interface {
	PasswordGrant(ctx context.Context, username, password string) (*provider.Tokens, error)
	Refresh(ctx context.Context, refreshToken string) (*provider.Tokens, error)
	AuthCodeURL(state, verifier string) string
	Exchange(ctx context.Context, code, verifier string) (*provider.Tokens, error)
	Logout(ctx context.Context, accessToken, refreshToken string) error
}

// CredentialStore is where the manager keeps the session. It is the only writer.
type CredentialStore interface {
	SessionReader
	Save(ctx context.Context, session *sessions.Session, rememberMe bool) error
	Clear(ctx context.Context) error
	OnChange(fn sessions.ChangeFunc) func()
}

// BearerSink receives the outgoing bearer token whenever the session changes
type BearerSink interface {
	SetBearer(accessToken string)
	ClearBearer()
}

// Redirect is where BeginLogin sends the user
type Redirect struct {
	URL   string
	State string
}

type pendingLogin struct {
	verifier   string
	rememberMe bool
	next       string
	created    time.Time
}

// Manager owns the session lifecycle: login, refresh, logout and expiry.
// Login, refresh, logout and invalidation are serialized against each other;
// concurrent refreshes share a single token endpoint call.
type Manager struct {
	store       CredentialStore
	provider    Provider
	strategy    Strategy
	binding     BearerSink
	refreshSkew time.Duration
	nowTime     func() time.Time

	transition   sync.Mutex // held for the whole of a transition, network calls included
	refreshGroup singleflight.Group

	stateLock sync.RWMutex
	state     State

	subsLock sync.RWMutex
	subs     map[uint64]func(Event)
	nextSub  uint64

	pendingLock sync.Mutex
	pending     map[string]pendingLogin

	unsubscribe func()
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowTime = nowFunc
	}
}

// WithBinding registers the HTTP client binding that carries the bearer token
func WithBinding(binding BearerSink) ManagerOption {
	return func(m *Manager) {
		m.binding = binding
	}
}

// WithRefreshSkew refreshes a session this long before its access token expires
func WithRefreshSkew(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.refreshSkew = d
	}
}

// NewManager creates the session manager over store, logging in with strategy against p.
// The initial state reflects whatever session the store already holds.
func NewManager(store CredentialStore, p Provider, strategy Strategy, options ...ManagerOption) (*Manager, error) {
	if store == nil {
		return nil, pkgerrors.New("[NewManager] store is required")
	}
	if p == nil {
		return nil, pkgerrors.New("[NewManager] provider is required")
	}
	if strategy != DirectStrategy && strategy != RedirectStrategy {
		return nil, fmt.Errorf("[NewManager] unknown login strategy %q", strategy)
	}

	m := &Manager{
		store:       store,
		provider:    p,
		strategy:    strategy,
		binding:     nopBinding{},
		refreshSkew: defaultRefreshSkew,
		nowTime:     time.Now,
		subs:        make(map[uint64]func(Event)),
		pending:     make(map[string]pendingLogin),
	}
	for _, opt := range options {
		opt(m)
	}

	session, err := store.Load(context.Background())
	if err != nil {
		log.Warn().Err(err).Msg("Manager: ignoring unreadable stored session at start")
	}
	m.sync(session)
	m.unsubscribe = store.OnChange(m.externalChange)
	return m, nil
}

// Close detaches the manager from the store's change notifications
func (m *Manager) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
}

// Strategy reports the configured login strategy
func (m *Manager) Strategy() Strategy {
	return m.strategy
}

// State returns the current lifecycle state
func (m *Manager) State() State {
	m.stateLock.RLock()
	defer m.stateLock.RUnlock()
	return m.state
}

// Subscribe registers fn for every settled transition. Handlers run synchronously
// inside the transition and must not call Login, Refresh, Logout or Invalidate.
func (m *Manager) Subscribe(fn func(Event)) func() {
	m.subsLock.Lock()
	defer m.subsLock.Unlock()

	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn

	return func() {
		m.subsLock.Lock()
		defer m.subsLock.Unlock()
		delete(m.subs, id)
	}
}

// Login authenticates with the direct grant and persists the session in the
// durable tier when rememberMe is set. The returned session's bearer token is
// already in the HTTP binding.
func (m *Manager) Login(ctx context.Context, identifier, secret string, rememberMe bool) (*sessions.Session, error) {
	if m.strategy != DirectStrategy {
		return nil, fmt.Errorf("[Manager Login] %s strategy logs in through BeginLogin: %w", m.strategy, errors.ErrUnsupported)
	}

	m.transition.Lock()
	defer m.transition.Unlock()

	m.setState(Authenticating, "login")
	tokens, err := m.provider.PasswordGrant(ctx, identifier, secret)
	if err != nil {
		return nil, m.loginFailed(ctx, pkgerrors.Wrap(err, "[Manager Login] password grant"))
	}
	return m.completeLogin(ctx, tokens, identifier, rememberMe)
}

// BeginLogin starts the redirect login. The user is sent to the returned URL and
// comes back to the callback with the state and an authorization code for
// CompleteLogin. next is the destination to resume after login.
func (m *Manager) BeginLogin(_ context.Context, rememberMe bool, next string) (*Redirect, error) {
	if m.strategy != RedirectStrategy {
		return nil, fmt.Errorf("[Manager BeginLogin] %s strategy logs in through Login: %w", m.strategy, errors.ErrUnsupported)
	}

	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()

	m.pendingLock.Lock()
	defer m.pendingLock.Unlock()

	now := m.nowTime()
	for k, p := range m.pending {
		if now.Sub(p.created) > pendingLoginTTL {
			delete(m.pending, k)
		}
	}
	m.pending[state] = pendingLogin{verifier: verifier, rememberMe: rememberMe, next: next, created: now}

	return &Redirect{URL: m.provider.AuthCodeURL(state, verifier), State: state}, nil
}

// CompleteLogin finishes a redirect login and returns the session together with
// the destination passed to BeginLogin
func (m *Manager) CompleteLogin(ctx context.Context, state, code string) (*sessions.Session, string, error) {
	if m.strategy != RedirectStrategy {
		return nil, "", fmt.Errorf("[Manager CompleteLogin] %s strategy: %w", m.strategy, errors.ErrUnsupported)
	}

	m.pendingLock.Lock()
	pending, ok := m.pending[state]
	delete(m.pending, state)
	m.pendingLock.Unlock()

	if !ok || m.nowTime().Sub(pending.created) > pendingLoginTTL {
		return nil, "", fmt.Errorf("[Manager CompleteLogin] unknown or stale state: %w", errors.ErrInvalidState)
	}

	m.transition.Lock()
	defer m.transition.Unlock()

	m.setState(Authenticating, "login")
	tokens, err := m.provider.Exchange(ctx, code, pending.verifier)
	if err != nil {
		return nil, "", m.loginFailed(ctx, pkgerrors.Wrap(err, "[Manager CompleteLogin] code exchange"))
	}
	session, err := m.completeLogin(ctx, tokens, "", pending.rememberMe)
	if err != nil {
		return nil, "", err
	}
	return session, pending.next, nil
}

// Refresh exchanges the stored refresh token for a new access token. Concurrent
// callers share one token endpoint call. The call itself is not cancelled with
// ctx; a caller that stops waiting leaves the refresh to complete on its own.
//
// A rejected refresh ends the session and returns an error wrapping
// errors.ErrSessionExpired. When the provider cannot be reached and the
// access token has not expired yet, the session is kept and returned together
// with the error.
func (m *Manager) Refresh(ctx context.Context) (*sessions.Session, error) {
	ch := m.refreshGroup.DoChan(refreshKey, func() (any, error) {
		m.transition.Lock()
		defer m.transition.Unlock()
		return m.refreshLocked(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		session, _ := res.Val.(*sessions.Session)
		return session.Clone(), res.Err
	}
}

// Logout clears the local session, then tells the provider. The local clear is
// authoritative; a provider failure is only logged.
func (m *Manager) Logout(ctx context.Context) error {
	m.transition.Lock()

	session, err := m.store.Load(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Manager: clearing unreadable session on logout")
	}
	if err := m.store.Clear(ctx); err != nil {
		m.transition.Unlock()
		return pkgerrors.Wrap(err, "[Manager Logout] clear store")
	}
	m.binding.ClearBearer()
	m.setState(Anonymous, "logout")
	if session != nil {
		m.emit(EventLogout, nil, nil)
	}
	m.transition.Unlock()

	if session == nil {
		return nil
	}
	if err := m.provider.Logout(ctx, session.AccessToken, session.RefreshToken); err != nil {
		log.Warn().Err(err).Str("subject", session.Subject).Msg("Manager: provider logout failed, local session already cleared")
	}
	return nil
}

// Invalidate handles a 401 for accessToken. Only the first signal for the
// stored token clears the session; later signals, and signals for a token that
// was already replaced by a refresh, report false and change nothing.
func (m *Manager) Invalidate(ctx context.Context, accessToken string) (bool, error) {
	m.transition.Lock()
	defer m.transition.Unlock()

	session, err := m.store.Load(ctx)
	if err == nil && (session == nil || session.AccessToken != accessToken) {
		return false, nil
	}
	if err := m.store.Clear(ctx); err != nil {
		return false, pkgerrors.Wrap(err, "[Manager Invalidate] clear store")
	}
	m.binding.ClearBearer()
	m.setState(Anonymous, "invalidated")
	m.emit(EventInvalidated, nil, errors.ErrSessionExpired)
	return true, nil
}

// Current reads the session from the store, enforcing expiry: a session at or
// near expiry is refreshed when it has a refresh token and ends otherwise. It
// returns nil when nobody is logged in.
func (m *Manager) Current(ctx context.Context) (*sessions.Session, error) {
	session, err := m.store.Load(ctx)
	if err != nil {
		return nil, m.discardCorrupt(ctx, err)
	}
	if session == nil {
		m.sync(nil)
		return nil, nil
	}

	now := m.nowTime()
	if !session.ExpiresWithin(now, m.refreshSkew) {
		return session, nil
	}

	if session.RefreshToken != "" {
		refreshed, err := m.Refresh(ctx)
		if err == nil || refreshed != nil {
			if err != nil {
				log.Warn().Err(err).Msg("Manager: refresh failed, keeping unexpired session")
			}
			return refreshed, nil
		}
		return nil, err
	}

	if !session.IsExpired(now) {
		return session, nil
	}

	m.transition.Lock()
	defer m.transition.Unlock()

	// Another caller may have ended or replaced the session while we waited
	stored, err := m.store.Load(ctx)
	if err != nil || stored == nil || stored.AccessToken != session.AccessToken {
		return nil, nil
	}
	return nil, m.expireLocked(ctx, "expired", nil)
}

// checkExpiry is the watcher tick: a no-op while another transition is running.
// proceed is consulted before starting a refresh so a stopped watcher never starts one.
func (m *Manager) checkExpiry(ctx context.Context, proceed func() bool) {
	if !m.transition.TryLock() {
		return
	}

	session, err := m.store.Load(ctx)
	if err != nil || session == nil || !session.ExpiresWithin(m.nowTime(), m.refreshSkew) {
		m.transition.Unlock()
		return
	}
	if session.RefreshToken == "" {
		if session.IsExpired(m.nowTime()) {
			_ = m.expireLocked(ctx, "expired", nil)
		}
		m.transition.Unlock()
		return
	}
	m.transition.Unlock()

	if !proceed() {
		return
	}
	if _, err := m.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("Manager: scheduled refresh failed")
	}
}

func (m *Manager) refreshLocked(ctx context.Context) (*sessions.Session, error) {
	current, err := m.store.Load(ctx)
	if err != nil {
		return nil, m.expireLocked(ctx, "corrupt", err)
	}
	if current == nil {
		m.sync(nil)
		return nil, &ExpiredError{Reason: "no_session"}
	}
	if current.RefreshToken == "" {
		return nil, m.expireLocked(ctx, "no_refresh_token", errors.ErrNoRefreshToken)
	}

	m.setState(Refreshing, "refresh")
	started := m.nowTime()
	tokens, err := m.provider.Refresh(ctx, current.RefreshToken)
	metrics.RecordRefresh(time.Since(started))
	if err != nil {
		if errors.Is(err, errors.ErrProviderUnreachable) && !current.IsExpired(m.nowTime()) {
			m.setState(Authenticated, "refresh_deferred")
			return current, pkgerrors.Wrap(err, "[Manager Refresh] provider unreachable")
		}
		return nil, m.expireLocked(ctx, "refresh_failed", err)
	}

	next, err := m.sessionFromTokens(tokens, current.Subject)
	if err != nil {
		return nil, m.expireLocked(ctx, "refresh_failed", err)
	}
	if next.RefreshToken == "" {
		next.RefreshToken = current.RefreshToken
	}
	if next.IDToken == "" {
		next.IDToken = current.IDToken
	}
	if len(next.Roles) == 0 {
		next.Roles = current.Roles
	}

	if err := m.store.Save(ctx, next, current.Tier == sessions.DurableTier); err != nil {
		return nil, m.expireLocked(ctx, "refresh_failed", err)
	}
	m.authenticated(next, EventRefresh, "refresh")
	return next, nil
}

func (m *Manager) completeLogin(ctx context.Context, tokens *provider.Tokens, identifier string, rememberMe bool) (*sessions.Session, error) {
	session, err := m.sessionFromTokens(tokens, identifier)
	if err != nil {
		return nil, m.loginFailed(ctx, pkgerrors.Wrap(err, "[Manager Login] decode access token"))
	}
	if err := m.store.Save(ctx, session, rememberMe); err != nil {
		return nil, m.loginFailed(ctx, pkgerrors.Wrap(err, "[Manager Login] save session"))
	}
	if rememberMe {
		session.Tier = sessions.DurableTier
	} else {
		session.Tier = sessions.TabTier
	}
	m.authenticated(session, EventLogin, "login")
	log.Info().Str("subject", session.Subject).Strs("roles", session.Roles).Str("tier", string(session.Tier)).Msg("Manager: logged in")
	return session.Clone(), nil
}

// sessionFromTokens is where both login strategies and refresh converge
func (m *Manager) sessionFromTokens(tokens *provider.Tokens, fallbackSubject string) (*sessions.Session, error) {
	claims, err := token.Decode(tokens.AccessToken)
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		claims.Subject = fallbackSubject
	}
	if claims.ExpiresAt == nil && !tokens.Expiry.IsZero() {
		claims.ExpiresAt = utils.Ptr(tokens.Expiry)
	}
	return sessions.New(tokens.AccessToken, tokens.RefreshToken, tokens.IDToken, claims)
}

// loginFailed settles the state after a failed login. A session stored before
// the attempt is left in place.
func (m *Manager) loginFailed(ctx context.Context, err error) error {
	session, loadErr := m.store.Load(ctx)
	if loadErr != nil {
		session = nil
	}
	m.sync(session)
	m.emit(EventLoginFailed, nil, err)
	return err
}

// expireLocked ends the session: Expired, store cleared, then Anonymous. One event is emitted.
func (m *Manager) expireLocked(ctx context.Context, reason string, cause error) error {
	m.setState(Expired, reason)
	if err := m.store.Clear(ctx); err != nil {
		log.Error().Err(err).Msg("Manager: failed to clear expired session")
	}
	m.binding.ClearBearer()
	m.setState(Anonymous, reason)

	expired := &ExpiredError{Reason: reason, Err: cause}
	m.emit(EventExpired, nil, expired)
	log.Info().Str("reason", reason).Msg("Manager: session ended")
	return expired
}

// discardCorrupt treats an unreadable stored record as no session
func (m *Manager) discardCorrupt(ctx context.Context, cause error) error {
	m.transition.Lock()
	defer m.transition.Unlock()

	if _, err := m.store.Load(ctx); err == nil {
		return nil
	}
	log.Warn().Err(cause).Msg("Manager: discarding corrupt session")
	return m.expireLocked(ctx, "corrupt", cause)
}

func (m *Manager) authenticated(session *sessions.Session, eventType EventType, trigger string) {
	m.binding.SetBearer(session.AccessToken)
	m.setState(Authenticated, trigger)
	m.emit(eventType, session, nil)
}

// externalChange follows session changes made by other contexts sharing the
// store. Changes announced by our own transitions arrive while the transition
// lock is held and are skipped.
func (m *Manager) externalChange(session *sessions.Session) {
	if !m.transition.TryLock() {
		return
	}
	defer m.transition.Unlock()

	before := m.State()
	m.sync(session)
	if session != nil {
		m.binding.SetBearer(session.AccessToken)
	} else {
		m.binding.ClearBearer()
	}
	if before != m.State() || session != nil {
		m.emit(EventExternal, session, nil)
	}
}

// sync aligns the state with a stored session without emitting anything
func (m *Manager) sync(session *sessions.Session) {
	if session == nil {
		if m.State() != Anonymous {
			m.setState(Anonymous, "sync")
		}
		return
	}
	if m.State() != Authenticated {
		m.setState(Authenticated, "sync")
	}
}

func (m *Manager) setState(state State, trigger string) {
	m.stateLock.Lock()
	m.state = state
	m.stateLock.Unlock()
	metrics.RecordTransition(state.String(), trigger)
}

func (m *Manager) emit(eventType EventType, session *sessions.Session, err error) {
	ev := Event{
		ID:      uuid.New(),
		Type:    eventType,
		State:   m.State(),
		Session: session.Clone(),
		Err:     err,
		At:      m.nowTime(),
	}

	m.subsLock.RLock()
	subs := make([]func(Event), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.subsLock.RUnlock()

	for _, fn := range subs {
		fn(ev)
	}
}

type nopBinding struct{}

func (nopBinding) SetBearer(string) {}
func (nopBinding) ClearBearer()     {}
