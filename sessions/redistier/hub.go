package redistier

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Hub serves the change notices of every profile under one prefix from a
// single PSUBSCRIBE connection. Tiers opened through it register a listener
// for their channel instead of holding a subscription of their own.
type Hub struct {
	client redis.UniversalClient
	prefix string

	lock      sync.Mutex
	sub       *redis.PubSub
	listeners map[string]map[int]func()
	nextID    int
}

// NewHub creates a hub for profiles stored under prefix. An empty prefix uses "klb:session:".
func NewHub(client redis.UniversalClient, prefix string) *Hub {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Hub{
		client:    client,
		prefix:    prefix,
		listeners: make(map[string]map[int]func()),
	}
}

// Tier opens the record of profile
func (h *Hub) Tier(profile string) *Tier {
	t := New(h.client, h.prefix, profile)
	t.hub = h
	return t
}

// Pattern is the channel pattern the hub subscribes to
func (h *Hub) Pattern() string {
	return h.prefix + "changed:*"
}

// Watching is the number of profiles with at least one listener
func (h *Hub) Watching() int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return len(h.listeners)
}

func (h *Hub) Close() error {
	h.lock.Lock()
	defer h.lock.Unlock()
	if h.sub == nil {
		return nil
	}
	err := h.sub.Close()
	h.sub = nil
	return err
}

// subscribe registers notify for channel until ctx is done, subscribing on first use
func (h *Hub) subscribe(ctx context.Context, channel string, notify func()) error {
	h.lock.Lock()
	defer h.lock.Unlock()

	if h.sub == nil {
		sub := h.client.PSubscribe(context.WithoutCancel(ctx), h.Pattern())
		if _, err := sub.Receive(ctx); err != nil {
			sub.Close()
			return fmt.Errorf("[redistier Hub.subscribe] psubscribe %s: %w", h.Pattern(), err)
		}
		h.sub = sub
		go h.run(sub)
	}

	id := h.nextID
	h.nextID++
	if h.listeners[channel] == nil {
		h.listeners[channel] = make(map[int]func())
	}
	h.listeners[channel][id] = notify

	context.AfterFunc(ctx, func() {
		h.lock.Lock()
		defer h.lock.Unlock()
		delete(h.listeners[channel], id)
		if len(h.listeners[channel]) == 0 {
			delete(h.listeners, channel)
		}
	})
	return nil
}

func (h *Hub) run(sub *redis.PubSub) {
	for msg := range sub.Channel() {
		log.Debug().Str("channel", msg.Channel).Str("op", msg.Payload).Msg("redistier: session changed")
		for _, notify := range h.listenersFor(msg.Channel) {
			notify()
		}
	}
	log.Debug().Str("pattern", h.Pattern()).Msg("redistier: hub subscription closed")
}

func (h *Hub) listenersFor(channel string) []func() {
	if !strings.HasPrefix(channel, h.prefix) {
		return nil
	}
	h.lock.Lock()
	defer h.lock.Unlock()
	out := make([]func(), 0, len(h.listeners[channel]))
	for _, fn := range h.listeners[channel] {
		out = append(out, fn)
	}
	return out
}
