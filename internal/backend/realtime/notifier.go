package realtime

import (
	"context"
	"log/slog"
	"time"
)

const publishTimeout = 3 * time.Second

// Notifier publishes fire-and-forget events. Failures are logged and swallowed so
// they never fail the request that triggered them; clients fall back to polling.
// A nil Notifier or one without a broker does nothing.
type Notifier struct {
	broker Broker
}

func NewNotifier(broker Broker) *Notifier {
	return &Notifier{broker: broker}
}

func (n *Notifier) Enabled() bool {
	return n != nil && n.broker != nil
}

func (n *Notifier) Notify(ctx context.Context, channel, name string, payload any) {
	if !n.Enabled() {
		return
	}
	event, err := NewEvent(name, payload)
	if err != nil {
		slog.Warn("realtime notify skipped", "channel", channel, "event", name, "error", err)
		return
	}

	// The publish outlives a cancelled request but not a stuck broker.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := n.broker.Publish(ctx, channel, event); err != nil {
		slog.Warn("realtime notify failed", "channel", channel, "event", name, "error", err)
		return
	}
	slog.Debug("realtime event published", "channel", channel, "event", name)
}
