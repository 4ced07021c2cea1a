// Package memtier is the tab-scoped session tier: the record lives in process
// memory and disappears with it.
package memtier

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-auth-session/sessions"
)

var _ sessions.Tier = (*Tier)(nil)

type Tier struct {
	name   sessions.TierName
	values map[string]string
	lock   sync.RWMutex
}

// New creates an empty tab-scoped tier
func New() *Tier {
	return NewNamed(sessions.TabTier)
}

// NewNamed creates an in-memory tier reporting the given name; tests use it as a durable stand-in
func NewNamed(name sessions.TierName) *Tier {
	return &Tier{
		name:   name,
		values: make(map[string]string),
	}
}

func (t *Tier) Name() sessions.TierName {
	return t.name
}

func (t *Tier) Read(_ context.Context) (map[string]string, error) {
	t.lock.RLock()
	defer t.lock.RUnlock()

	out := make(map[string]string, len(t.values))
	for k, v := range t.values {
		out[k] = v
	}
	return out, nil
}

func (t *Tier) Write(_ context.Context, values map[string]string) error {
	next := make(map[string]string, len(values))
	for _, k := range sessions.Keys {
		if v, ok := values[k]; ok && v != "" {
			next[k] = v
		}
	}

	t.lock.Lock()
	defer t.lock.Unlock()
	t.values = next
	return nil
}

func (t *Tier) Clear(_ context.Context) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.values = make(map[string]string)
	return nil
}

// Watch is a no-op: only this process can reach the record
func (t *Tier) Watch(_ context.Context, _ func()) error {
	return nil
}

// Len reports how many keys are stored
func (t *Tier) Len() int {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return len(t.values)
}
