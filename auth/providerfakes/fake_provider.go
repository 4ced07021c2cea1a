package fakeprovider

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/jrsteele09/go-auth-session/auth"
	"github.com/jrsteele09/go-auth-session/provider"
	"github.com/pkg/errors"
)

var _ auth.Provider = (*FakeProvider)(nil)

type account struct {
	password string
	tokens   *provider.Tokens
}

// FakeProvider is an in-memory identity provider with canned token responses
type FakeProvider struct {
	lock        sync.Mutex
	accounts    map[string]account
	refreshes   map[string]*provider.Tokens
	codes       map[string]*provider.Tokens
	unreachable bool
	hold        chan struct{}

	passwordGrants atomic.Int32
	refreshCalls   atomic.Int32
	exchanges      atomic.Int32
	logouts        atomic.Int32
}

func NewFakeProvider() *FakeProvider {
	return &FakeProvider{
		accounts:  make(map[string]account),
		refreshes: make(map[string]*provider.Tokens),
		codes:     make(map[string]*provider.Tokens),
	}
}

// AddAccount answers a password grant for username/password with tokens
func (p *FakeProvider) AddAccount(username, password string, tokens *provider.Tokens) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.accounts[username] = account{password: password, tokens: tokens}
}

// AddRefresh answers a refresh with refreshToken with tokens
func (p *FakeProvider) AddRefresh(refreshToken string, tokens *provider.Tokens) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.refreshes[refreshToken] = tokens
}

// AddCode answers a code exchange for code with tokens
func (p *FakeProvider) AddCode(code string, tokens *provider.Tokens) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.codes[code] = tokens
}

// SetUnreachable makes every call fail as a transport error
func (p *FakeProvider) SetUnreachable(unreachable bool) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.unreachable = unreachable
}

// HoldRefresh blocks refresh calls until the returned release func is called
func (p *FakeProvider) HoldRefresh() func() {
	p.lock.Lock()
	defer p.lock.Unlock()
	hold := make(chan struct{})
	p.hold = hold
	var once sync.Once
	return func() { once.Do(func() { close(hold) }) }
}

func (p *FakeProvider) PasswordGrants() int { return int(p.passwordGrants.Load()) }
func (p *FakeProvider) RefreshCalls() int   { return int(p.refreshCalls.Load()) }
func (p *FakeProvider) Exchanges() int      { return int(p.exchanges.Load()) }
func (p *FakeProvider) Logouts() int        { return int(p.logouts.Load()) }

func (p *FakeProvider) PasswordGrant(_ context.Context, username, password string) (*provider.Tokens, error) {
	p.passwordGrants.Add(1)
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.unreachable {
		return nil, &provider.Error{Op: "password_grant", Err: errors.New("connection refused")}
	}
	a, ok := p.accounts[username]
	if !ok || a.password != password {
		return nil, &provider.Error{Op: "password_grant", Status: 401, Code: "invalid_grant", Description: "Invalid user credentials"}
	}
	return copyTokens(a.tokens), nil
}

func (p *FakeProvider) Refresh(ctx context.Context, refreshToken string) (*provider.Tokens, error) {
	p.refreshCalls.Add(1)

	p.lock.Lock()
	hold := p.hold
	p.lock.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, &provider.Error{Op: "refresh", Err: ctx.Err()}
		}
	}

	p.lock.Lock()
	defer p.lock.Unlock()
	if p.unreachable {
		return nil, &provider.Error{Op: "refresh", Err: errors.New("connection refused")}
	}
	tokens, ok := p.refreshes[refreshToken]
	if !ok {
		return nil, &provider.Error{Op: "refresh", Status: 400, Code: "invalid_grant", Description: "Token is not active"}
	}
	return copyTokens(tokens), nil
}

func (p *FakeProvider) AuthCodeURL(state, verifier string) string {
	return fmt.Sprintf("https://sso.test/auth?state=%s&verifier=%s", url.QueryEscape(state), url.QueryEscape(verifier))
}

func (p *FakeProvider) Exchange(_ context.Context, code, _ string) (*provider.Tokens, error) {
	p.exchanges.Add(1)
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.unreachable {
		return nil, &provider.Error{Op: "code_exchange", Err: errors.New("connection refused")}
	}
	tokens, ok := p.codes[code]
	if !ok {
		return nil, &provider.Error{Op: "code_exchange", Status: 400, Code: "invalid_grant", Description: "Code not valid"}
	}
	delete(p.codes, code)
	return copyTokens(tokens), nil
}

func (p *FakeProvider) Logout(_ context.Context, _, _ string) error {
	p.logouts.Add(1)
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.unreachable {
		return &provider.Error{Op: "logout", Err: errors.New("connection refused")}
	}
	return nil
}

func copyTokens(t *provider.Tokens) *provider.Tokens {
	c := *t
	return &c
}
