package changetracker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jo-hoe/contentdesk/internal/backend/realtime"
	"github.com/redis/go-redis/v9"
	"go.uber.org/goleak"
)

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func waitChange(t *testing.T, c *Client) Change {
	t.Helper()
	select {
	case change, ok := <-c.Changes():
		if !ok {
			t.Fatalf("client %s closed unexpectedly", c.ID)
		}
		return change
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for change on client %s", c.ID)
	}
	return Change{}
}

func TestTracker_ChangedSince(t *testing.T) {
	tracker := NewTracker(nil, nil)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	tracker.now = fixedClock(base)
	tracker.MarkChanged(context.Background(), "u1", "p1", KindCreated)
	tracker.now = fixedClock(base.Add(time.Minute))
	tracker.MarkChanged(context.Background(), "u1", "p2", KindUpdated)

	tests := []struct {
		name    string
		user    string
		since   time.Time
		changed bool
		posts   []string
	}{
		{"before everything", "u1", base.Add(-time.Second), true, []string{"p1", "p2"}},
		{"between changes", "u1", base, true, []string{"p2"}},
		{"at latest change", "u1", base.Add(time.Minute), false, nil},
		{"after latest change", "u1", base.Add(time.Hour), false, nil},
		{"unknown user", "u2", time.Time{}, false, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tracker.ChangedSince(tt.user, tt.since)
			if got.Changed != tt.changed {
				t.Fatalf("Changed = %v, want %v", got.Changed, tt.changed)
			}
			if len(got.PostIDs) != len(tt.posts) {
				t.Fatalf("PostIDs = %v, want %v", got.PostIDs, tt.posts)
			}
			for i := range tt.posts {
				if got.PostIDs[i] != tt.posts[i] {
					t.Fatalf("PostIDs = %v, want %v", got.PostIDs, tt.posts)
				}
			}
		})
	}

	if got := tracker.ChangedSince("u1", time.Time{}).LastChanged; !got.Equal(base.Add(time.Minute)) {
		t.Errorf("LastChanged = %v, want %v", got, base.Add(time.Minute))
	}

	tracker.Clear("u1")
	if got := tracker.ChangedSince("u1", time.Time{}); got.Changed {
		t.Errorf("expected no changes after Clear, got %+v", got)
	}
}

func TestTracker_EvictOlderThan(t *testing.T) {
	tracker := NewTracker(nil, nil)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	tracker.now = fixedClock(base)
	tracker.MarkChanged(context.Background(), "u1", "old", KindUpdated)
	tracker.MarkChanged(context.Background(), "u2", "old", KindUpdated)
	tracker.now = fixedClock(base.Add(40 * time.Minute))
	tracker.MarkChanged(context.Background(), "u1", "new", KindUpdated)

	tracker.Sweep(DefaultTTL)

	if n := tracker.TrackedUsers(); n != 1 {
		t.Fatalf("TrackedUsers = %d, want 1", n)
	}
	got := tracker.ChangedSince("u1", time.Time{})
	if len(got.PostIDs) != 1 || got.PostIDs[0] != "new" {
		t.Fatalf("PostIDs after sweep = %v, want [new]", got.PostIDs)
	}
}

func TestTracker_LocalStreams(t *testing.T) {
	defer goleak.VerifyNone(t)

	tracker := NewTracker(NewRegistry(4), nil)
	defer tracker.Close()

	client := tracker.Connect("u1")
	tracker.MarkChanged(context.Background(), "u1", "p1", KindPublished)

	got := waitChange(t, client)
	if got.PostID != "p1" || got.Kind != KindPublished || got.UserID != "u1" {
		t.Fatalf("unexpected change %+v", got)
	}

	tracker.Disconnect(client)
	if n := tracker.Registry().Count("u1"); n != 0 {
		t.Fatalf("Count after disconnect = %d, want 0", n)
	}
}

func TestTracker_RelaysAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	newInstance := func() *Tracker {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		return NewTracker(NewRegistry(4), realtime.NewRedisBrokerWithClient(client, 8))
	}
	writer := newInstance()
	reader := newInstance()
	defer writer.Close()
	defer reader.Close()

	client := reader.Connect("u1")
	defer reader.Disconnect(client)

	writer.MarkChanged(context.Background(), "u1", "p9", KindUpdated)

	got := waitChange(t, client)
	if got.PostID != "p9" {
		t.Fatalf("unexpected change %+v", got)
	}
	if set := reader.ChangedSince("u1", time.Time{}); !set.Changed {
		t.Fatalf("relayed change was not recorded on the reader instance")
	}
}

func TestTracker_FallsBackWhenRelayFails(t *testing.T) {
	broker := realtime.NewLocalBroker(4)
	tracker := NewTracker(NewRegistry(4), broker)
	defer tracker.Close()

	client := tracker.Connect("u1")
	_ = broker.Close()

	tracker.MarkChanged(context.Background(), "u1", "p1", KindDeleted)
	if got := waitChange(t, client); got.Kind != KindDeleted {
		t.Fatalf("unexpected change %+v", got)
	}
}

func TestTracker_PollWithLastChangedIsQuiet(t *testing.T) {
	tracker := NewTracker(nil, nil)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	tracker.now = fixedClock(base.Add(500 * time.Microsecond))

	change := tracker.MarkChanged(context.Background(), "u1", "p1", KindUpdated)
	if !change.At.Equal(change.At.Truncate(time.Millisecond)) {
		t.Fatalf("change time %v is finer than milliseconds", change.At)
	}

	first := tracker.ChangedSince("u1", time.Time{})
	if !first.Changed {
		t.Fatalf("expected the change to be reported")
	}
	// Clients echo lastChanged back as unix milliseconds.
	since := time.UnixMilli(first.LastChanged.UnixMilli())
	if next := tracker.ChangedSince("u1", since); next.Changed {
		t.Fatalf("polling with lastChanged still reports %v", next.PostIDs)
	}
}

type refusingBroker struct {
	*realtime.LocalBroker
	published atomic.Int32
}

func (b *refusingBroker) Subscribe(context.Context, string) (*realtime.Subscription, error) {
	return nil, errors.New("subscribe refused")
}

func (b *refusingBroker) Publish(context.Context, string, realtime.Event) error {
	b.published.Add(1)
	return nil
}

func TestTracker_DeliversLocallyWithoutRelay(t *testing.T) {
	broker := &refusingBroker{LocalBroker: realtime.NewLocalBroker(4)}
	tracker := NewTracker(NewRegistry(4), broker)
	defer tracker.Close()

	client := tracker.Connect("u1")
	defer tracker.Disconnect(client)

	tracker.MarkChanged(context.Background(), "u1", "p1", KindCreated)
	if got := waitChange(t, client); got.PostID != "p1" {
		t.Fatalf("unexpected change %+v", got)
	}
	if n := broker.published.Load(); n != 1 {
		t.Fatalf("expected the change to still be published once, got %d", n)
	}
}

type gatedBroker struct {
	*realtime.LocalBroker
	gated string
	gate  chan struct{}
}

func (b *gatedBroker) Subscribe(ctx context.Context, channel string) (*realtime.Subscription, error) {
	if channel == b.gated {
		<-b.gate
	}
	return b.LocalBroker.Subscribe(ctx, channel)
}

func TestTracker_SlowSubscribeDoesNotBlockOthers(t *testing.T) {
	broker := &gatedBroker{
		LocalBroker: realtime.NewLocalBroker(4),
		gated:       realtime.PostChangesChannel("slow"),
		gate:        make(chan struct{}),
	}
	tracker := NewTracker(NewRegistry(4), broker)
	defer tracker.Close()

	var wg sync.WaitGroup
	slowClients := make([]*Client, 2)
	for i := range slowClients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			slowClients[i] = tracker.Connect("slow")
		}()
	}

	connected := make(chan *Client, 1)
	go func() { connected <- tracker.Connect("fast") }()
	var fast *Client
	select {
	case fast = <-connected:
	case <-time.After(2 * time.Second):
		close(broker.gate)
		t.Fatalf("connect of another user waited on a pending subscribe")
	}
	defer tracker.Disconnect(fast)

	close(broker.gate)
	wg.Wait()

	tracker.relayMu.Lock()
	refs := tracker.relays["slow"].refs
	tracker.relayMu.Unlock()
	if refs != 2 {
		t.Fatalf("expected one shared relay with 2 refs, got %d", refs)
	}

	tracker.MarkChanged(context.Background(), "slow", "p1", KindUpdated)
	for _, c := range slowClients {
		if got := waitChange(t, c); got.PostID != "p1" {
			t.Fatalf("unexpected change %+v", got)
		}
		select {
		case extra := <-c.Changes():
			t.Fatalf("change delivered twice: %+v", extra)
		case <-time.After(50 * time.Millisecond):
		}
	}

	for _, c := range slowClients {
		tracker.Disconnect(c)
	}
	tracker.relayMu.Lock()
	_, still := tracker.relays["slow"]
	tracker.relayMu.Unlock()
	if still {
		t.Fatalf("relay kept after its last client disconnected")
	}
}
