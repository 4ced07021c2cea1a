package auth

import (
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-session/sessions"
)

// State is the session manager's lifecycle state
type State int

const (
	Anonymous State = iota
	Authenticating
	Authenticated
	Refreshing
	Expired
)

func (s State) String() string {
	switch s {
	case Anonymous:
		return "anonymous"
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	case Refreshing:
		return "refreshing"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// EventType names what caused an Event
type EventType string

const (
	EventLogin       EventType = "login"
	EventLoginFailed EventType = "login_failed"
	EventRefresh     EventType = "refresh"
	EventLogout      EventType = "logout"
	EventExpired     EventType = "expired"     // forced logout after expiry or a failed refresh
	EventInvalidated EventType = "invalidated" // the API answered 401
	EventExternal    EventType = "external"    // another context changed the shared store
)

// Event is published to subscribers after every settled transition
type Event struct {
	ID      uuid.UUID
	Type    EventType
	State   State
	Session *sessions.Session // nil unless State is Authenticated
	Err     error
	At      time.Time
}
