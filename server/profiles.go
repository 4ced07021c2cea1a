package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httputil"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-session/auth"
	"github.com/jrsteele09/go-auth-session/httpclient"
	"github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/internal/metrics"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/jrsteele09/go-auth-session/sessions/memtier"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

const (
	profileCookie       = "klb_profile"
	profileCookieMaxAge = 30 * 24 * time.Hour
)

// profile is everything the gateway keeps for one browser profile
type profile struct {
	id        string
	store     *sessions.Store
	manager   *auth.Manager
	gate      *auth.Gate
	transport *httpclient.Transport
	proxy     *httputil.ReverseProxy
	cancel    context.CancelFunc
	lastUsed  time.Time // guarded by profiles.lock
}

// profiles holds the open profiles. A profile is opened by a login or
// registration, or for a returning cookie whose durable tier still holds a
// record, and closed again once idle.
type profiles struct {
	ctx         context.Context
	server      *Server
	idleTimeout time.Duration
	sweeper     *cron.Cron

	lock sync.Mutex
	byID map[string]*profile
}

func newProfiles(ctx context.Context, s *Server) *profiles {
	return &profiles{
		ctx:         ctx,
		server:      s,
		idleTimeout: s.config.GetProfileIdleTimeout(),
		sweeper:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		byID:        make(map[string]*profile),
	}
}

// startSweeper evicts idle profiles every quarter of the idle timeout
func (p *profiles) startSweeper() error {
	if p.idleTimeout <= 0 {
		return nil
	}
	every := max(p.idleTimeout/4, time.Second)
	if _, err := p.sweeper.AddFunc(fmt.Sprintf("@every %s", every), func() { p.evictIdle(time.Now()) }); err != nil {
		return fmt.Errorf("[profiles startSweeper] schedule: %w", err)
	}
	p.sweeper.Start()
	return nil
}

// get returns the open profile for id. A profile that is not open is opened
// only when its durable tier holds a record; otherwise nil is returned.
func (p *profiles) get(ctx context.Context, id string) (*profile, error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	if pr, ok := p.byID[id]; ok {
		pr.lastUsed = time.Now()
		return pr, nil
	}

	durable, err := p.server.deps.DurableTier(id)
	if err != nil {
		return nil, fmt.Errorf("[profiles get] durable tier for %s: %w", id, err)
	}
	values, err := durable.Read(ctx)
	if err != nil {
		// Opened anyway so the manager can discard the unreadable record
		log.Warn().Err(err).Str("profile", id).Msg("unreadable durable record")
	} else if len(values) == 0 {
		return nil, nil
	}
	return p.add(id, durable)
}

// create opens the profile for id unless it is already open
func (p *profiles) create(id string) (*profile, error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	if pr, ok := p.byID[id]; ok {
		pr.lastUsed = time.Now()
		return pr, nil
	}
	durable, err := p.server.deps.DurableTier(id)
	if err != nil {
		return nil, fmt.Errorf("[profiles create] durable tier for %s: %w", id, err)
	}
	return p.add(id, durable)
}

func (p *profiles) add(id string, durable sessions.Tier) (*profile, error) {
	pr, err := p.open(id, durable)
	if err != nil {
		return nil, err
	}
	pr.lastUsed = time.Now()
	p.byID[id] = pr
	metrics.ActiveProfiles.Inc()
	return pr, nil
}

func (p *profiles) open(id string, durable sessions.Tier) (*profile, error) {
	s := p.server
	store := sessions.NewStore(durable, memtier.New())

	ctx, cancel := context.WithCancel(p.ctx)
	if err := store.Watch(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("[profiles open] watch %s: %w", id, err)
	}

	transportOptions := []httpclient.TransportOption{httpclient.WithProviderHosts(s.deps.ProviderHosts...)}
	if s.deps.APITransport != nil {
		transportOptions = append(transportOptions, httpclient.WithBase(s.deps.APITransport))
	}
	transport := httpclient.NewTransport(store, transportOptions...)

	manager, err := auth.NewManager(store, s.deps.Provider, s.strategy(),
		auth.WithBinding(transport),
		auth.WithRefreshSkew(s.config.GetRefreshSkew()),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("[profiles open] manager for %s: %w", id, err)
	}
	transport.SetSource(manager)
	manager.Subscribe(func(ev auth.Event) {
		log.Debug().Str("profile", id).Str("event", string(ev.Type)).Str("state", ev.State.String()).Msg("session event")
	})
	if s.deps.Watcher != nil {
		s.deps.Watcher.Add(manager)
	}

	pr := &profile{
		id:        id,
		store:     store,
		manager:   manager,
		gate:      auth.NewGate(store),
		transport: transport,
		cancel:    cancel,
	}
	pr.proxy = s.newProxy(pr)
	return pr, nil
}

// evictIdle closes profiles unused since now-idleTimeout. A profile whose
// only copy of a live session is its in-memory tab tier is kept until that
// session expires; anything else can be reopened from the durable tier.
func (p *profiles) evictIdle(now time.Time) int {
	p.lock.Lock()
	defer p.lock.Unlock()

	evicted := 0
	for id, pr := range p.byID {
		if now.Sub(pr.lastUsed) < p.idleTimeout {
			continue
		}
		session, err := pr.store.Load(p.ctx)
		if err == nil && session != nil && session.Tier == sessions.TabTier && !session.IsExpired(now) {
			continue
		}
		p.closeLocked(id, pr)
		evicted++
	}
	if evicted > 0 {
		metrics.ProfilesEvictedTotal.Add(float64(evicted))
		log.Debug().Int("evicted", evicted).Int("open", len(p.byID)).Msg("idle profiles closed")
	}
	return evicted
}

func (p *profiles) count() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return len(p.byID)
}

func (p *profiles) closeAll() {
	p.sweeper.Stop()

	p.lock.Lock()
	defer p.lock.Unlock()
	for id, pr := range p.byID {
		p.closeLocked(id, pr)
	}
}

func (p *profiles) closeLocked(id string, pr *profile) {
	if p.server.deps.Watcher != nil {
		p.server.deps.Watcher.Remove(pr.manager)
	}
	pr.manager.Close()
	pr.cancel()
	delete(p.byID, id)
	metrics.ActiveProfiles.Dec()
}

// cookieProfileID is the profile named by the request's cookie, or "" when absent or invalid
func cookieProfileID(r *http.Request) string {
	c, err := r.Cookie(profileCookie)
	if err != nil {
		return ""
	}
	u, err := uuid.Parse(c.Value)
	if err != nil {
		return ""
	}
	return u.String()
}

// profileFor resolves the request's profile from its cookie. It returns nil
// when the request names no profile the gateway knows about.
func (s *Server) profileFor(r *http.Request) (*profile, error) {
	id := cookieProfileID(r)
	if id == "" {
		return nil, nil
	}
	return s.profiles.get(r.Context(), id)
}

// issueProfile opens a profile for a login, reusing the cookie's id when it has one
func (s *Server) issueProfile(w http.ResponseWriter, r *http.Request) (*profile, error) {
	id := cookieProfileID(r)
	if id == "" {
		id = uuid.NewString()
		s.setProfileCookie(w, r, id, false)
	}
	return s.profiles.create(id)
}

// setProfileCookie makes the profile outlive the browser session only when the user asked to be remembered
func (s *Server) setProfileCookie(w http.ResponseWriter, r *http.Request, id string, persistent bool) {
	c := &http.Cookie{
		Name:     profileCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   getScheme(r) == "https",
		SameSite: http.SameSiteLaxMode,
	}
	if persistent {
		c.MaxAge = int(profileCookieMaxAge.Seconds())
	}
	http.SetCookie(w, c)
}

func (s *Server) newProxy(pr *profile) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(req *httputil.ProxyRequest) {
			req.SetURL(s.apiURL)
			req.SetXForwarded()
			// The profile's bearer is the only credential the API sees
			req.Out.Header.Del("Authorization")
			req.Out.Header.Del("Cookie")
		},
		Transport: pr.transport,
		ModifyResponse: func(resp *http.Response) error {
			switch resp.StatusCode {
			case http.StatusUnauthorized:
				return fmt.Errorf("[Server proxy] %s %s: %w", resp.Request.Method, resp.Request.URL.Path, errors.ErrSessionExpired)
			case http.StatusForbidden:
				return &httpclient.InsufficientRoleError{Method: resp.Request.Method, Path: resp.Request.URL.Path}
			}
			return nil
		},
		ErrorHandler: s.proxyError,
	}
}
