package auth

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/jrsteele09/go-auth-session/sessions"
)

// RolePrefix is the prefix one of the token issuers puts on every role name.
// A role check for "ADMIN" also accepts "ROLE_ADMIN".
const RolePrefix = "ROLE_"

// SessionReader peeks at the stored session without changing it
type SessionReader interface {
	Load(ctx context.Context) (*sessions.Session, error)
}

// Gate answers authorization questions over the stored session. Every method
// is a pure read: no network calls, no store mutation, safe to call per request.
//
// Role matching is case-sensitive: HasRole("ADMIN") matches a session holding
// "ADMIN" or "ROLE_ADMIN", and HasRole("admin") matches neither.
type Gate struct {
	store   SessionReader
	nowTime func() time.Time
}

// GateOption configures a Gate
type GateOption func(*Gate)

// WithGateNowTime sets the now time function (primarily for testing)
func WithGateNowTime(nowFunc func() time.Time) GateOption {
	return func(g *Gate) {
		g.nowTime = nowFunc
	}
}

func NewGate(store SessionReader, options ...GateOption) *Gate {
	g := &Gate{store: store, nowTime: time.Now}
	for _, opt := range options {
		opt(g)
	}
	return g
}

// IsAuthenticated is true iff the store holds a session that has not expired
func (g *Gate) IsAuthenticated(ctx context.Context) bool {
	return g.session(ctx) != nil
}

// HasRole is false when not authenticated, otherwise true iff the session holds role or its prefixed form
func (g *Gate) HasRole(ctx context.Context, role string) bool {
	s := g.session(ctx)
	return s != nil && MatchesRole(s.Roles, role)
}

// HasAnyRole is true when HasRole holds for at least one of roles
func (g *Gate) HasAnyRole(ctx context.Context, roles ...string) bool {
	s := g.session(ctx)
	if s == nil {
		return false
	}
	for _, role := range roles {
		if MatchesRole(s.Roles, role) {
			return true
		}
	}
	return false
}

// MatchesRole applies the role matching rule to a role set
func MatchesRole(held []string, role string) bool {
	if role == "" {
		return false
	}
	if slices.Contains(held, role) {
		return true
	}
	return !strings.HasPrefix(role, RolePrefix) && slices.Contains(held, RolePrefix+role)
}

func (g *Gate) session(ctx context.Context) *sessions.Session {
	s, err := g.store.Load(ctx)
	if err != nil || s == nil || s.IsExpired(g.nowTime()) {
		return nil
	}
	return s
}
