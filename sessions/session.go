package sessions

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/internal/utils"
	"github.com/jrsteele09/go-auth-session/token"
)

// TierName identifies a persistence tier
type TierName string

const (
	// DurableTier survives restarts and is shared by every context of the same profile ("remember me")
	DurableTier TierName = "durable"
	// TabTier lives only as long as the current context (browser tab, process)
	TabTier TierName = "tab"
)

// The fixed key set a session is persisted under. A tier holds all of them or none.
const (
	KeyAccessToken  = "klb_access_token"
	KeyRefreshToken = "klb_refresh_token"
	KeyUserInfo     = "klb_user_info"
)

// Keys lists every key a session may occupy in a tier
var Keys = []string{KeyAccessToken, KeyRefreshToken, KeyUserInfo}

// Session is the authenticated state of one profile.
// A Session value is always fully populated; an absent session is a nil *Session.
type Session struct {
	AccessToken  string     // Bearer token, opaque outside the token codec
	RefreshToken string     // Empty when the flow issued none
	IDToken      string     // OIDC ID token, redirect flow only (logout hint)
	Subject      string     // Stable user identifier (phone number / username)
	Roles        []string   // Case-sensitive role set, sorted
	IssuedAt     time.Time  // Access token iat
	ExpiresAt    *time.Time // Access token exp, nil when the token never expires
	DisplayName  string     // Greeting only, never used for authorization
	Email        string     // Greeting only, never used for authorization
	Tier         TierName   // Tier the session was loaded from or saved to
}

// userInfo is the JSON record stored under KeyUserInfo
type userInfo struct {
	Username  string     `json:"username"`
	Roles     []string   `json:"roles"`
	IssuedAt  time.Time  `json:"issued_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Name      string     `json:"name,omitempty"`
	Email     string     `json:"email,omitempty"`
	IDToken   string     `json:"id_token,omitempty"`
}

// New builds a session from freshly issued tokens and the decoded access token claims
func New(accessToken, refreshToken, idToken string, claims *token.Claims) (*Session, error) {
	if claims == nil {
		return nil, fmt.Errorf("[sessions New] no claims: %w", errors.ErrPartialSession)
	}
	s := &Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		IDToken:      idToken,
		Subject:      claims.Subject,
		Roles:        utils.SortedSet(claims.Roles),
		IssuedAt:     claims.IssuedAt,
		ExpiresAt:    claims.ExpiresAt,
		DisplayName:  claims.DisplayName,
		Email:        claims.Email,
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate rejects partially populated sessions
func (s *Session) Validate() error {
	switch {
	case s == nil:
		return fmt.Errorf("nil session: %w", errors.ErrPartialSession)
	case s.AccessToken == "":
		return fmt.Errorf("missing access token: %w", errors.ErrPartialSession)
	case s.Subject == "":
		return fmt.Errorf("missing subject: %w", errors.ErrPartialSession)
	}
	return nil
}

// IsExpired is true when the session has an expiry and now is at or after it
func (s *Session) IsExpired(now time.Time) bool {
	return s.ExpiresAt != nil && !now.Before(*s.ExpiresAt)
}

// ExpiresWithin is true when the session expires at or before now+d
func (s *Session) ExpiresWithin(now time.Time, d time.Duration) bool {
	return s.ExpiresAt != nil && !now.Add(d).Before(*s.ExpiresAt)
}

// Clone returns a deep copy
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Roles = append([]string(nil), s.Roles...)
	if s.ExpiresAt != nil {
		c.ExpiresAt = utils.Ptr(*s.ExpiresAt)
	}
	return &c
}

func (s *Session) record() (map[string]string, error) {
	info, err := json.Marshal(userInfo{
		Username:  s.Subject,
		Roles:     utils.SortedSet(s.Roles),
		IssuedAt:  s.IssuedAt,
		ExpiresAt: s.ExpiresAt,
		Name:      s.DisplayName,
		Email:     s.Email,
		IDToken:   s.IDToken,
	})
	if err != nil {
		return nil, fmt.Errorf("[Session record] marshal user info: %w", err)
	}
	values := map[string]string{
		KeyAccessToken: s.AccessToken,
		KeyUserInfo:    string(info),
	}
	if s.RefreshToken != "" {
		values[KeyRefreshToken] = s.RefreshToken
	}
	return values, nil
}

// CorruptSessionError reports a persisted record that cannot be turned back into a session
type CorruptSessionError struct {
	Tier TierName
	Err  error
}

func (e *CorruptSessionError) Error() string {
	return fmt.Sprintf("corrupt session in %s tier: %v", e.Tier, e.Err)
}

func (e *CorruptSessionError) Unwrap() []error {
	return []error{errors.ErrCorruptSession, e.Err}
}

func fromRecord(tier TierName, values map[string]string) (*Session, error) {
	if len(values) == 0 {
		return nil, nil
	}
	var info userInfo
	if err := json.Unmarshal([]byte(values[KeyUserInfo]), &info); err != nil {
		return nil, &CorruptSessionError{Tier: tier, Err: err}
	}
	s := &Session{
		AccessToken:  values[KeyAccessToken],
		RefreshToken: values[KeyRefreshToken],
		IDToken:      info.IDToken,
		Subject:      info.Username,
		Roles:        utils.SortedSet(info.Roles),
		IssuedAt:     info.IssuedAt,
		ExpiresAt:    info.ExpiresAt,
		DisplayName:  info.Name,
		Email:        info.Email,
		Tier:         tier,
	}
	if err := s.Validate(); err != nil {
		return nil, &CorruptSessionError{Tier: tier, Err: err}
	}
	return s, nil
}
