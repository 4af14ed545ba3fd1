package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var ErrBrokerClosed = errors.New("broker closed")

// LocalBroker is a process-local Broker. Subscribers on other instances never see
// its events; it is the fallback when no Redis is configured.
type LocalBroker struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
	closed bool
}

func NewLocalBroker(buffer int) *LocalBroker {
	return &LocalBroker{
		subs:   make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
	}
}

func (b *LocalBroker) Publish(_ context.Context, channel string, event Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBrokerClosed
	}
	for sub := range b.subs[channel] {
		select {
		case sub.events <- event:
		default:
			slog.Debug("dropping event for slow subscriber", "channel", channel, "event", event.Name)
		}
	}
	return nil
}

func (b *LocalBroker) Subscribe(ctx context.Context, channel string) (*Subscription, error) {
	sub := newSubscription(channel, b.buffer)
	sub.onClose = func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if set, ok := b.subs[channel]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(b.subs, channel)
			}
		}
		close(sub.events)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBrokerClosed
	}
	set, ok := b.subs[channel]
	if !ok {
		set = make(map[*Subscription]struct{})
		b.subs[channel] = set
	}
	set[sub] = struct{}{}
	b.mu.Unlock()

	sub.closeOnCancel(ctx)
	return sub, nil
}

// SubscriberCount returns the number of open subscriptions on channel.
func (b *LocalBroker) SubscriberCount(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[channel])
}

// Close ends every open subscription.
func (b *LocalBroker) Close() error {
	b.mu.Lock()
	b.closed = true
	var open []*Subscription
	for _, set := range b.subs {
		for sub := range set {
			open = append(open, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range open {
		sub.Close()
	}
	return nil
}
