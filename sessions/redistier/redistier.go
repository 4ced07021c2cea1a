// Package redistier is a durable session tier shared by every process that
// points at the same Redis and profile. The record is one hash; writes and
// clears run in MULTI/EXEC and publish a change notice on a per-profile channel.
package redistier

import (
	"context"
	"fmt"

	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const defaultPrefix = "klb:session:"

var _ sessions.Tier = (*Tier)(nil)

type Tier struct {
	client  redis.UniversalClient
	prefix  string
	profile string
	hub     *Hub // shared subscription when opened through a Hub
}

// New creates a tier storing the record of profile under prefix. An empty prefix uses "klb:session:".
func New(client redis.UniversalClient, prefix, profile string) *Tier {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Tier{client: client, prefix: prefix, profile: profile}
}

func (t *Tier) Name() sessions.TierName {
	return sessions.DurableTier
}

// Key is the hash holding the record
func (t *Tier) Key() string {
	return t.prefix + t.profile
}

// Channel carries change notices for the record
func (t *Tier) Channel() string {
	return t.prefix + "changed:" + t.profile
}

func (t *Tier) Read(ctx context.Context) (map[string]string, error) {
	values, err := t.client.HGetAll(ctx, t.Key()).Result()
	if err != nil {
		return nil, fmt.Errorf("[redistier Read] %w", err)
	}
	return values, nil
}

func (t *Tier) Write(ctx context.Context, values map[string]string) error {
	fields := make([]any, 0, 2*len(sessions.Keys))
	for _, k := range sessions.Keys {
		if v, ok := values[k]; ok && v != "" {
			fields = append(fields, k, v)
		}
	}

	_, err := t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, t.Key())
		if len(fields) > 0 {
			pipe.HSet(ctx, t.Key(), fields...)
		}
		pipe.Publish(ctx, t.Channel(), "write")
		return nil
	})
	if err != nil {
		return fmt.Errorf("[redistier Write] %w", err)
	}
	return nil
}

func (t *Tier) Clear(ctx context.Context) error {
	_, err := t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, t.Key())
		pipe.Publish(ctx, t.Channel(), "clear")
		return nil
	})
	if err != nil {
		return fmt.Errorf("[redistier Clear] %w", err)
	}
	return nil
}

// Watch subscribes to the profile's change channel
func (t *Tier) Watch(ctx context.Context, notify func()) error {
	if t.hub != nil {
		return t.hub.subscribe(ctx, t.Channel(), notify)
	}

	sub := t.client.Subscribe(ctx, t.Channel())
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return fmt.Errorf("[redistier Watch] subscribe %s: %w", t.Channel(), err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					log.Warn().Str("channel", t.Channel()).Msg("redistier: subscription closed")
					return
				}
				log.Debug().Str("channel", msg.Channel).Str("op", msg.Payload).Msg("redistier: session changed")
				notify()
			}
		}
	}()
	return nil
}
