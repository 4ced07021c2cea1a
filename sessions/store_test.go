package sessions_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/jrsteele09/go-auth-session/sessions/memtier"
	"github.com/jrsteele09/go-auth-session/token"
	"github.com/jrsteele09/go-auth-session/token/tokentest"
	"github.com/stretchr/testify/require"
)

type storeFixture struct {
	durable *memtier.Tier
	tab     *memtier.Tier
	store   *sessions.Store
}

func setupStore(t *testing.T) *storeFixture {
	t.Helper()
	durable := memtier.NewNamed(sessions.DurableTier)
	tab := memtier.New()
	return &storeFixture{
		durable: durable,
		tab:     tab,
		store:   sessions.NewStore(durable, tab),
	}
}

func newSession(t *testing.T, subject string, exp time.Time, roles ...string) *sessions.Session {
	t.Helper()
	raw := tokentest.Mint(t, tokentest.Keycloak(subject, exp, roles...))
	claims, err := token.Decode(raw)
	require.NoError(t, err)
	s, err := sessions.New(raw, "r1", "", claims)
	require.NoError(t, err)
	return s
}

func TestSaveRememberMeUsesDurableTierOnly(t *testing.T) {
	f := setupStore(t)
	ctx := context.Background()
	s := newSession(t, "0901234567", time.Now().Add(time.Hour), "ADMIN")

	require.NoError(t, f.store.Save(ctx, s, true))
	require.Equal(t, 3, f.durable.Len())
	require.Equal(t, 0, f.tab.Len())

	loaded, err := f.store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, sessions.DurableTier, loaded.Tier)
	require.Equal(t, s.AccessToken, loaded.AccessToken)
	require.Equal(t, "r1", loaded.RefreshToken)
	require.Equal(t, "0901234567", loaded.Subject)
	require.Equal(t, []string{"ADMIN"}, loaded.Roles)
	require.Equal(t, s.ExpiresAt.Unix(), loaded.ExpiresAt.Unix())
	require.Equal(t, "Nguyen Van A", loaded.DisplayName)
}

func TestSaveWithoutRememberMeMovesSessionToTabTier(t *testing.T) {
	f := setupStore(t)
	ctx := context.Background()

	require.NoError(t, f.store.Save(ctx, newSession(t, "0901234567", time.Now().Add(time.Hour)), true))
	require.NoError(t, f.store.Save(ctx, newSession(t, "0907654321", time.Now().Add(time.Hour)), false))

	require.Equal(t, 0, f.durable.Len())
	require.Equal(t, 3, f.tab.Len())

	loaded, err := f.store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, sessions.TabTier, loaded.Tier)
	require.Equal(t, "0907654321", loaded.Subject)
}

func TestSaveRejectsPartialSession(t *testing.T) {
	f := setupStore(t)
	err := f.store.Save(context.Background(), &sessions.Session{AccessToken: "abc"}, true)
	require.ErrorIs(t, err, errors.ErrPartialSession)
	require.Equal(t, 0, f.durable.Len())
}

func TestSaveOmitsAbsentRefreshToken(t *testing.T) {
	f := setupStore(t)
	ctx := context.Background()
	s := newSession(t, "0901234567", time.Now().Add(time.Hour))
	s.RefreshToken = ""

	require.NoError(t, f.store.Save(ctx, s, true))
	values, err := f.durable.Read(ctx)
	require.NoError(t, err)
	require.NotContains(t, values, sessions.KeyRefreshToken)
}

func TestClearRemovesEveryKeyAndIsIdempotent(t *testing.T) {
	f := setupStore(t)
	ctx := context.Background()
	require.NoError(t, f.store.Save(ctx, newSession(t, "0901234567", time.Now().Add(time.Hour)), true))

	require.NoError(t, f.store.Clear(ctx))
	require.NoError(t, f.store.Clear(ctx))
	require.Equal(t, 0, f.durable.Len())
	require.Equal(t, 0, f.tab.Len())

	loaded, err := f.store.Load(ctx)
	require.NoError(t, err)
	require.Nil(t, loaded)
}

func TestLoadSurfacesCorruptRecord(t *testing.T) {
	f := setupStore(t)
	ctx := context.Background()
	require.NoError(t, f.durable.Write(ctx, map[string]string{
		sessions.KeyAccessToken: "abc",
		sessions.KeyUserInfo:    "{broken",
	}))

	_, err := f.store.Load(ctx)
	require.ErrorIs(t, err, errors.ErrCorruptSession)

	var corrupt *sessions.CorruptSessionError
	require.ErrorAs(t, err, &corrupt)
	require.Equal(t, sessions.DurableTier, corrupt.Tier)
}

func TestLoadRejectsTokenWithoutUserInfo(t *testing.T) {
	f := setupStore(t)
	ctx := context.Background()
	require.NoError(t, f.tab.Write(ctx, map[string]string{
		sessions.KeyAccessToken: "abc",
		sessions.KeyUserInfo:    `{"roles":["USER"]}`,
	}))

	_, err := f.store.Load(ctx)
	require.ErrorIs(t, err, errors.ErrPartialSession)
}

func TestOnChangeNotifiesSaveAndClearOnce(t *testing.T) {
	f := setupStore(t)
	ctx := context.Background()

	var lock sync.Mutex
	var seen []*sessions.Session
	unsubscribe := f.store.OnChange(func(s *sessions.Session) {
		lock.Lock()
		defer lock.Unlock()
		seen = append(seen, s)
	})

	s := newSession(t, "0901234567", time.Now().Add(time.Hour))
	require.NoError(t, f.store.Save(ctx, s, true))
	require.NoError(t, f.store.Clear(ctx))
	require.NoError(t, f.store.Clear(ctx))

	unsubscribe()
	require.NoError(t, f.store.Save(ctx, s, true))

	lock.Lock()
	defer lock.Unlock()
	require.Len(t, seen, 2)
	require.Equal(t, "0901234567", seen[0].Subject)
	require.Nil(t, seen[1])
}

// sharedTier is one record reachable from two stores, standing in for two tabs on one durable tier
type sharedTier struct {
	*memtier.Tier
	lock    sync.Mutex
	notifys []func()
}

func (s *sharedTier) Write(ctx context.Context, values map[string]string) error {
	if err := s.Tier.Write(ctx, values); err != nil {
		return err
	}
	s.fire()
	return nil
}

func (s *sharedTier) Clear(ctx context.Context) error {
	if err := s.Tier.Clear(ctx); err != nil {
		return err
	}
	s.fire()
	return nil
}

func (s *sharedTier) Watch(_ context.Context, notify func()) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.notifys = append(s.notifys, notify)
	return nil
}

func (s *sharedTier) fire() {
	s.lock.Lock()
	fns := append([]func(){}, s.notifys...)
	s.lock.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func TestWatchPropagatesChangesFromOtherContexts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shared := &sharedTier{Tier: memtier.NewNamed(sessions.DurableTier)}
	first := sessions.NewStore(shared, memtier.New())
	second := sessions.NewStore(shared, memtier.New())
	require.NoError(t, second.Watch(ctx))

	changes := make(chan *sessions.Session, 4)
	second.OnChange(func(s *sessions.Session) { changes <- s })

	require.NoError(t, first.Save(ctx, newSession(t, "0901234567", time.Now().Add(time.Hour)), true))
	select {
	case s := <-changes:
		require.NotNil(t, s)
		require.Equal(t, "0901234567", s.Subject)
	case <-time.After(time.Second):
		t.Fatal("second context did not observe the login")
	}

	require.NoError(t, first.Clear(ctx))
	select {
	case s := <-changes:
		require.Nil(t, s)
	case <-time.After(time.Second):
		t.Fatal("second context did not observe the logout")
	}
}

func TestWatchPollsTiersWithoutEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	durable := memtier.NewNamed(sessions.DurableTier)
	writer := sessions.NewStore(durable, memtier.New())
	observer := sessions.NewStore(durable, memtier.New(), sessions.WithPollInterval(10*time.Millisecond))
	require.NoError(t, observer.Watch(ctx))

	changes := make(chan *sessions.Session, 4)
	observer.OnChange(func(s *sessions.Session) { changes <- s })

	require.NoError(t, writer.Save(ctx, newSession(t, "0901234567", time.Now().Add(time.Hour)), true))
	require.Eventually(t, func() bool {
		select {
		case s := <-changes:
			return s != nil && s.Subject == "0901234567"
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestSessionExpiryHelpers(t *testing.T) {
	now := time.Now()
	s := newSession(t, "0901234567", now.Add(time.Minute))

	require.False(t, s.IsExpired(now))
	require.True(t, s.IsExpired(s.ExpiresAt.Add(time.Second)))
	require.True(t, s.ExpiresWithin(now, 2*time.Minute))
	require.False(t, s.ExpiresWithin(now, 10*time.Second))

	clone := s.Clone()
	clone.Roles = append(clone.Roles, "EXTRA")
	require.NotEqual(t, s.Roles, clone.Roles)
}
