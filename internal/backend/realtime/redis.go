package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisBroker publishes through Redis pub/sub so that every instance subscribed to a
// channel receives the event. Like Redis pub/sub itself, it delivers at most once.
type RedisBroker struct {
	client    redis.UniversalClient
	buffer    int
	ownClient bool
}

// NewRedisBroker connects to addr. The broker owns the client and closes it on Close.
func NewRedisBroker(ctx context.Context, addr, password string, db, buffer int) (*RedisBroker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", addr, err)
	}
	return &RedisBroker{client: client, buffer: buffer, ownClient: true}, nil
}

// NewRedisBrokerWithClient wraps an existing client; Close leaves it open.
func NewRedisBrokerWithClient(client redis.UniversalClient, buffer int) *RedisBroker {
	return &RedisBroker{client: client, buffer: buffer}
}

func (b *RedisBroker) Publish(ctx context.Context, channel string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", event.Name, err)
	}
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to channel %s: %w", channel, err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, channel string) (*Subscription, error) {
	pubsub := b.client.Subscribe(ctx, channel)
	// Wait for the subscription confirmation so that events published after
	// Subscribe returns are not missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to channel %s: %w", channel, err)
	}

	sub := newSubscription(channel, b.buffer)
	messages := pubsub.Channel()

	go func() {
		defer close(sub.events)
		defer func() {
			if err := pubsub.Close(); err != nil {
				slog.Debug("failed to close redis subscription", "channel", channel, "error", err)
			}
		}()
		for {
			select {
			case <-ctx.Done():
				sub.Close()
				return
			case <-sub.done:
				return
			case msg, ok := <-messages:
				if !ok {
					sub.Close()
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					slog.Warn("dropping malformed realtime message", "channel", channel, "error", err)
					continue
				}
				select {
				case sub.events <- event:
				default:
					slog.Debug("dropping event for slow subscriber", "channel", channel, "event", event.Name)
				}
			}
		}
	}()

	return sub, nil
}

func (b *RedisBroker) Close() error {
	if b.ownClient {
		return b.client.Close()
	}
	return nil
}
