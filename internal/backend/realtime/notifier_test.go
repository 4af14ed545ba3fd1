package realtime

import (
	"context"
	"errors"
	"testing"
)

type failingBroker struct {
	calls int
}

func (f *failingBroker) Publish(context.Context, string, Event) error {
	f.calls++
	return errors.New("broker unavailable")
}

func (f *failingBroker) Subscribe(context.Context, string) (*Subscription, error) {
	return nil, errors.New("broker unavailable")
}

func (f *failingBroker) Close() error { return nil }

func TestNotifier_DeliversThroughBroker(t *testing.T) {
	b := NewLocalBroker(4)
	defer func() { _ = b.Close() }()

	sub, err := b.Subscribe(context.Background(), "ch")
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}

	NewNotifier(b).Notify(context.Background(), "ch", "job-updated", map[string]int{"n": 1})

	got := receive(t, sub)
	if got.Name != "job-updated" || string(got.Data) != `{"n":1}` || got.Timestamp == 0 {
		t.Fatalf("unexpected event: %+v", got)
	}
}

func TestNotifier_SwallowsFailures(t *testing.T) {
	fb := &failingBroker{}
	n := NewNotifier(fb)
	// Must not panic or block.
	n.Notify(context.Background(), "ch", "x", nil)
	if fb.calls != 1 {
		t.Fatalf("expected 1 publish attempt, got %d", fb.calls)
	}

	// Unmarshalable payloads never reach the broker.
	n.Notify(context.Background(), "ch", "x", make(chan int))
	if fb.calls != 1 {
		t.Fatalf("expected no publish for bad payload, got %d calls", fb.calls)
	}
}

func TestNotifier_Disabled(t *testing.T) {
	var nilNotifier *Notifier
	if nilNotifier.Enabled() {
		t.Fatalf("nil notifier must be disabled")
	}
	nilNotifier.Notify(context.Background(), "ch", "x", nil)

	if NewNotifier(nil).Enabled() {
		t.Fatalf("notifier without broker must be disabled")
	}
}

func TestNotifier_CancelledRequestStillPublishes(t *testing.T) {
	b := NewLocalBroker(4)
	defer func() { _ = b.Close() }()
	sub, err := b.Subscribe(context.Background(), "ch")
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	NewNotifier(b).Notify(ctx, "ch", "late", nil)

	if got := receive(t, sub); got.Name != "late" {
		t.Fatalf("unexpected event: %+v", got)
	}
}
