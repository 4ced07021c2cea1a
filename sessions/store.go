package sessions

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ChangeFunc receives the session after a change, or nil when the session was cleared
type ChangeFunc func(*Session)

// Store is the credential store: the single source of truth for the active session.
// It writes a session into exactly one tier, chosen per save by the caller's
// remember-me flag, and never splits a session across tiers.
type Store struct {
	durable      Tier
	tab          Tier
	pollInterval time.Duration

	writeLock sync.Mutex // serializes Save/Clear so the two-tier sequence is not interleaved

	subsLock sync.RWMutex
	subs     map[uint64]ChangeFunc
	nextSub  uint64

	seenLock sync.Mutex
	seen     string // fingerprint of the last session announced to subscribers
}

// StoreOption configures a Store
type StoreOption func(*Store)

// WithPollInterval re-reads the tiers at the given interval while watching, in
// addition to any change events the tiers deliver themselves
func WithPollInterval(d time.Duration) StoreOption {
	return func(s *Store) {
		s.pollInterval = d
	}
}

// NewStore creates a store over a durable and a tab-scoped tier
func NewStore(durable, tab Tier, options ...StoreOption) *Store {
	s := &Store{
		durable: durable,
		tab:     tab,
		subs:    make(map[uint64]ChangeFunc),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Save persists the session in the durable tier when rememberMe is set and in
// the tab tier otherwise. The other tier is cleared first so the session never
// lives in both.
func (s *Store) Save(ctx context.Context, session *Session, rememberMe bool) error {
	if err := session.Validate(); err != nil {
		return fmt.Errorf("[Store Save] %w", err)
	}

	target, other := s.tab, s.durable
	if rememberMe {
		target, other = s.durable, s.tab
	}

	values, err := session.record()
	if err != nil {
		return err
	}

	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	if err := other.Clear(ctx); err != nil {
		return fmt.Errorf("[Store Save] clear %s tier: %w", other.Name(), err)
	}
	if err := target.Write(ctx, values); err != nil {
		return fmt.Errorf("[Store Save] write %s tier: %w", target.Name(), err)
	}

	saved := session.Clone()
	saved.Tier = target.Name()
	s.announce(saved)
	return nil
}

// Load returns the stored session, or nil when no session is stored.
// The durable tier wins when both somehow hold a record.
func (s *Store) Load(ctx context.Context) (*Session, error) {
	for _, tier := range []Tier{s.durable, s.tab} {
		values, err := tier.Read(ctx)
		if err != nil {
			return nil, fmt.Errorf("[Store Load] read %s tier: %w", tier.Name(), err)
		}
		session, err := fromRecord(tier.Name(), values)
		if err != nil {
			return nil, err
		}
		if session != nil {
			return session, nil
		}
	}
	return nil, nil
}

// Clear removes the session from both tiers. Clearing an empty store is a no-op.
func (s *Store) Clear(ctx context.Context) error {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	var firstErr error
	for _, tier := range []Tier{s.durable, s.tab} {
		if err := tier.Clear(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("[Store Clear] clear %s tier: %w", tier.Name(), err)
		}
	}
	if firstErr != nil {
		return firstErr
	}
	s.announce(nil)
	return nil
}

// OnChange registers fn for every session change, including changes made by
// other contexts sharing a tier once Watch is running. The returned func unsubscribes.
func (s *Store) OnChange(fn ChangeFunc) func() {
	s.subsLock.Lock()
	defer s.subsLock.Unlock()

	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn

	return func() {
		s.subsLock.Lock()
		defer s.subsLock.Unlock()
		delete(s.subs, id)
	}
}

// Watch starts observing both tiers for changes made by other contexts.
// It returns once the watches are running; they stop when ctx is done.
func (s *Store) Watch(ctx context.Context) error {
	for _, tier := range []Tier{s.durable, s.tab} {
		if err := tier.Watch(ctx, func() { s.resync(ctx) }); err != nil {
			return fmt.Errorf("[Store Watch] watch %s tier: %w", tier.Name(), err)
		}
	}

	if s.pollInterval > 0 {
		go func() {
			ticker := time.NewTicker(s.pollInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					s.resync(ctx)
				}
			}
		}()
	}
	return nil
}

// resync re-reads the tiers and announces the session if it differs from the last one announced
func (s *Store) resync(ctx context.Context) {
	session, err := s.Load(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Store: failed to resync session after external change")
		return
	}
	s.announce(session)
}

func (s *Store) announce(session *Session) {
	fp := fingerprint(session)

	s.seenLock.Lock()
	if fp == s.seen {
		s.seenLock.Unlock()
		return
	}
	s.seen = fp
	s.seenLock.Unlock()

	s.subsLock.RLock()
	subs := make([]ChangeFunc, 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.subsLock.RUnlock()

	for _, fn := range subs {
		fn(session.Clone())
	}
}

func fingerprint(session *Session) string {
	if session == nil {
		return ""
	}
	return string(session.Tier) + "|" + session.AccessToken + "|" + session.RefreshToken
}
