package realtime

import (
	"context"
	"sync"
)

// DefaultBufferSize bounds the events queued per subscriber before new events are dropped.
const DefaultBufferSize = 64

// Broker fans events out to every current subscriber of a channel. Delivery is best
// effort: there is no persistence, no acknowledgement and no replay.
type Broker interface {
	Publish(ctx context.Context, channel string, event Event) error
	Subscribe(ctx context.Context, channel string) (*Subscription, error)
	Close() error
}

// Subscription receives the events of one channel until Close is called or the
// context passed to Subscribe is cancelled. The events channel is closed afterwards.
type Subscription struct {
	channel string
	events  chan Event
	done    chan struct{}
	once    sync.Once
	onClose func()
}

func newSubscription(channel string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}
	return &Subscription{
		channel: channel,
		events:  make(chan Event, buffer),
		done:    make(chan struct{}),
	}
}

func (s *Subscription) Channel() string {
	return s.channel
}

func (s *Subscription) Events() <-chan Event {
	return s.events
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		if s.onClose != nil {
			s.onClose()
		}
	})
}

// closeOnCancel closes the subscription when ctx ends, unless it was closed first.
func (s *Subscription) closeOnCancel(ctx context.Context) {
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()
}
