package relay

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/tandem/internal/ir"
)

// DefaultChannel is the Redis pub/sub channel shared by relay instances.
const DefaultChannel = "tandem:envelopes"

// RedisBus publishes envelopes on a Redis pub/sub channel.
type RedisBus struct {
	client  *redis.Client
	channel string
}

// NewRedisBus connects to the Redis server at addr and verifies it answers.
// An empty channel selects DefaultChannel.
func NewRedisBus(ctx context.Context, addr, channel string) (*RedisBus, error) {
	if channel == "" {
		channel = DefaultChannel
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("could not connect to redis at %s: %w", addr, err)
	}
	slog.Info("connected to redis", "addr", addr, "channel", channel)
	return &RedisBus{client: client, channel: channel}, nil
}

// Publish sends env to every subscribed instance, including this one.
func (b *RedisBus) Publish(ctx context.Context, env ir.Envelope) error {
	data, err := ir.Encode(env)
	if err != nil {
		return fmt.Errorf("publish %s: %w", env.ID, err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", env.ID, err)
	}
	return nil
}

// Subscribe streams envelopes from the channel until ctx ends. Malformed
// payloads are logged and skipped.
func (b *RedisBus) Subscribe(ctx context.Context) (<-chan ir.Envelope, error) {
	sub := b.client.Subscribe(ctx, b.channel)
	// Wait for the subscription confirmation so no publish is missed
	// between Subscribe returning and the first receive.
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	out := make(chan ir.Envelope, DefaultSubscriberBuffer)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				env, err := ir.DecodeEnvelope([]byte(msg.Payload))
				if err != nil {
					slog.Warn("dropping malformed bus message", "channel", msg.Channel, "error", err)
					continue
				}
				select {
				case out <- env:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close closes the Redis client.
func (b *RedisBus) Close() error {
	return b.client.Close()
}
