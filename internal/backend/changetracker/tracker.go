package changetracker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jo-hoe/contentdesk/internal/backend/realtime"
)

const (
	KindCreated   = "created"
	KindUpdated   = "updated"
	KindDeleted   = "deleted"
	KindPublished = "published"

	// EventName is the name of relayed and streamed change events.
	EventName = "post-change"

	DefaultTTL           = 30 * time.Minute
	DefaultSweepInterval = 5 * time.Minute
)

// Change records that a post of a user changed.
type Change struct {
	UserID string    `json:"userId"`
	PostID string    `json:"postId"`
	Kind   string    `json:"kind"`
	At     time.Time `json:"at"`
}

// ChangeSet answers a poll for changes after a point in time.
type ChangeSet struct {
	Changed     bool      `json:"changed"`
	PostIDs     []string  `json:"postIds"`
	LastChanged time.Time `json:"lastChanged,omitzero"`
}

type userChanges struct {
	lastChanged time.Time
	posts       map[string]time.Time
}

// Tracker remembers recent post changes per user and pushes them to open change
// streams. With a broker, changes are relayed through the user's posts channel so
// streams connected to other instances receive them too.
type Tracker struct {
	mu    sync.Mutex
	users map[string]*userChanges

	registry *Registry
	broker   realtime.Broker

	relayMu sync.Mutex
	relays  map[string]*relay

	now func() time.Time
}

type relay struct {
	refs   int
	cancel context.CancelFunc
}

// NewTracker creates a tracker. broker may be nil, in which case changes only
// reach streams of this process.
func NewTracker(registry *Registry, broker realtime.Broker) *Tracker {
	if registry == nil {
		registry = NewRegistry(0)
	}
	return &Tracker{
		users:    make(map[string]*userChanges),
		registry: registry,
		broker:   broker,
		relays:   make(map[string]*relay),
		now:      time.Now,
	}
}

func (t *Tracker) Registry() *Registry {
	return t.registry
}

// MarkChanged records the change and delivers it to the user's change streams.
// Times are kept in milliseconds, the precision clients poll with.
func (t *Tracker) MarkChanged(ctx context.Context, userID, postID, kind string) Change {
	change := Change{UserID: userID, PostID: postID, Kind: kind, At: t.now().UTC().Truncate(time.Millisecond)}
	t.record(change)

	// Without a relay the broker cannot echo the change back to local streams.
	if t.broker == nil || !t.relayActive(userID) {
		t.registry.Broadcast(userID, change)
		if t.broker == nil {
			return change
		}
		if err := t.publish(ctx, change); err != nil {
			slog.Warn("post change relay failed", "user", userID, "post", postID, "error", err)
		}
		return change
	}
	if err := t.publish(ctx, change); err != nil {
		slog.Warn("post change relay failed, delivering locally", "user", userID, "post", postID, "error", err)
		t.registry.Broadcast(userID, change)
	}
	return change
}

func (t *Tracker) publish(ctx context.Context, change Change) error {
	event, err := realtime.NewEvent(EventName, change)
	if err != nil {
		return err
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	return t.broker.Publish(pubCtx, realtime.PostChangesChannel(change.UserID), event)
}

func (t *Tracker) relayActive(userID string) bool {
	t.relayMu.Lock()
	defer t.relayMu.Unlock()
	_, ok := t.relays[userID]
	return ok
}

func (t *Tracker) record(change Change) {
	t.mu.Lock()
	defer t.mu.Unlock()
	uc, ok := t.users[change.UserID]
	if !ok {
		uc = &userChanges{posts: make(map[string]time.Time)}
		t.users[change.UserID] = uc
	}
	if change.At.After(uc.posts[change.PostID]) {
		uc.posts[change.PostID] = change.At
	}
	if change.At.After(uc.lastChanged) {
		uc.lastChanged = change.At
	}
}

// ChangedSince lists the posts of userID changed strictly after since.
func (t *Tracker) ChangedSince(userID string, since time.Time) ChangeSet {
	t.mu.Lock()
	defer t.mu.Unlock()

	set := ChangeSet{PostIDs: []string{}}
	uc, ok := t.users[userID]
	if !ok {
		return set
	}
	set.LastChanged = uc.lastChanged
	for postID, at := range uc.posts {
		if at.After(since) {
			set.PostIDs = append(set.PostIDs, postID)
		}
	}
	sort.Strings(set.PostIDs)
	set.Changed = len(set.PostIDs) > 0
	return set
}

func (t *Tracker) Clear(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.users, userID)
}

// EvictOlderThan forgets changes made at or before cutoff and returns how many
// post entries were dropped.
func (t *Tracker) EvictOlderThan(cutoff time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	evicted := 0
	for userID, uc := range t.users {
		for postID, at := range uc.posts {
			if !at.After(cutoff) {
				delete(uc.posts, postID)
				evicted++
			}
		}
		if len(uc.posts) == 0 {
			delete(t.users, userID)
		}
	}
	return evicted
}

// Sweep evicts everything older than ttl.
func (t *Tracker) Sweep(ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if n := t.EvictOlderThan(t.now().Add(-ttl)); n > 0 {
		slog.Info("evicted stale post changes", "count", n)
	}
}

func (t *Tracker) TrackedUsers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.users)
}

// Connect opens a change stream for userID. The caller must pass the client to
// Disconnect when done.
func (t *Tracker) Connect(userID string) *Client {
	client := t.registry.Register(userID)
	if t.broker != nil {
		client.relay = t.acquireRelay(userID)
	}
	return client
}

func (t *Tracker) Disconnect(client *Client) {
	t.registry.Unregister(client)
	if client.relay != nil {
		t.releaseRelay(client.UserID, client.relay)
	}
}

// acquireRelay returns a referenced relay for userID, subscribing to the broker
// when none is running. It returns nil when the broker refuses the subscription;
// changes then reach this instance's streams directly.
func (t *Tracker) acquireRelay(userID string) *relay {
	if r := t.reuseRelay(userID); r != nil {
		return r
	}

	// Subscribe without holding relayMu so one slow round trip does not stall
	// connects of other users.
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := t.broker.Subscribe(ctx, realtime.PostChangesChannel(userID))
	if err != nil {
		cancel()
		slog.Warn("post change relay unavailable, delivering changes locally", "user", userID, "error", err)
		return nil
	}

	t.relayMu.Lock()
	defer t.relayMu.Unlock()
	if r, ok := t.relays[userID]; ok {
		// A concurrent connect won the race.
		r.refs++
		cancel()
		sub.Close()
		return r
	}
	r := &relay{refs: 1, cancel: cancel}
	t.relays[userID] = r
	go t.forward(userID, r, sub)
	return r
}

func (t *Tracker) reuseRelay(userID string) *relay {
	t.relayMu.Lock()
	defer t.relayMu.Unlock()
	r, ok := t.relays[userID]
	if !ok {
		return nil
	}
	r.refs++
	return r
}

func (t *Tracker) releaseRelay(userID string, r *relay) {
	t.relayMu.Lock()
	defer t.relayMu.Unlock()
	r.refs--
	if r.refs > 0 {
		return
	}
	r.cancel()
	if t.relays[userID] == r {
		delete(t.relays, userID)
	}
}

func (t *Tracker) forward(userID string, r *relay, sub *realtime.Subscription) {
	defer func() {
		// A dead subscription no longer echoes changes, so stop routing through it.
		t.relayMu.Lock()
		if t.relays[userID] == r {
			delete(t.relays, userID)
		}
		t.relayMu.Unlock()
	}()
	for event := range sub.Events() {
		if event.Name != EventName {
			continue
		}
		var change Change
		if err := json.Unmarshal(event.Data, &change); err != nil {
			slog.Warn("dropping malformed post change", "user", userID, "error", err)
			continue
		}
		t.record(change)
		t.registry.Broadcast(userID, change)
	}
}

// Close ends every open stream and relay.
func (t *Tracker) Close() {
	t.registry.Close()
	t.relayMu.Lock()
	defer t.relayMu.Unlock()
	for userID, r := range t.relays {
		r.cancel()
		delete(t.relays, userID)
	}
}
