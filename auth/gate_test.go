package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-session/auth"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/jrsteele09/go-auth-session/sessions/memtier"
	"github.com/jrsteele09/go-auth-session/token"
	"github.com/jrsteele09/go-auth-session/token/tokentest"
	"github.com/stretchr/testify/require"
)

func TestMatchesRole(t *testing.T) {
	tests := []struct {
		name string
		held []string
		role string
		want bool
	}{
		{name: "exact", held: []string{"ADMIN"}, role: "ADMIN", want: true},
		{name: "prefixed form held", held: []string{"ROLE_ADMIN"}, role: "ADMIN", want: true},
		{name: "asking for the prefixed form", held: []string{"ROLE_ADMIN"}, role: "ROLE_ADMIN", want: true},
		{name: "prefixed request does not strip", held: []string{"ADMIN"}, role: "ROLE_ADMIN", want: false},
		{name: "case differs", held: []string{"ADMIN"}, role: "admin", want: false},
		{name: "case differs prefixed", held: []string{"ROLE_ADMIN"}, role: "admin", want: false},
		{name: "lower case prefix", held: []string{"role_ADMIN"}, role: "ADMIN", want: false},
		{name: "empty role", held: []string{"ADMIN"}, role: "", want: false},
		{name: "no roles", held: nil, role: "USER", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, auth.MatchesRole(tt.held, tt.role))
		})
	}
}

func gateWithSession(t *testing.T, now time.Time, exp time.Time, roles ...string) (*auth.Gate, *sessions.Store) {
	t.Helper()
	store := sessions.NewStore(memtier.NewNamed(sessions.DurableTier), memtier.New())
	claims, err := token.Decode(tokentest.Mint(t, tokentest.Keycloak(testPhone, exp, roles...)))
	require.NoError(t, err)
	s, err := sessions.New("a1", "", "", claims)
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), s, false))
	return auth.NewGate(store, auth.WithGateNowTime(func() time.Time { return now })), store
}

func TestGateAnonymous(t *testing.T) {
	ctx := context.Background()
	g := auth.NewGate(sessions.NewStore(memtier.NewNamed(sessions.DurableTier), memtier.New()))

	require.False(t, g.IsAuthenticated(ctx))
	require.False(t, g.HasRole(ctx, "USER"))
	require.False(t, g.HasAnyRole(ctx, "USER", "ADMIN"))
}

func TestGateHasAnyRole(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	g, _ := gateWithSession(t, now, now.Add(time.Hour), "ROLE_TELLER")

	require.True(t, g.IsAuthenticated(ctx))
	require.True(t, g.HasAnyRole(ctx, "ADMIN", "TELLER"))
	require.False(t, g.HasAnyRole(ctx, "ADMIN", "teller"))
	require.False(t, g.HasAnyRole(ctx))
}

func TestGateExpiredSessionWithoutMutation(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	g, store := gateWithSession(t, now, now.Add(-time.Minute), "ADMIN")

	require.False(t, g.IsAuthenticated(ctx))
	require.False(t, g.HasRole(ctx, "ADMIN"))

	s, err := store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, s, "the gate must not clear the store")
}
