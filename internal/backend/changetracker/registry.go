package changetracker

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const defaultClientBuffer = 16

// Client is one open change stream of a user.
type Client struct {
	ID     string
	UserID string

	changes chan Change
	once    sync.Once
	// relay is the broker relay this client holds a reference on, if any.
	relay *relay
}

// Changes is closed once the client is unregistered.
func (c *Client) Changes() <-chan Change {
	return c.changes
}

// Registry keeps the open change streams per user.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
	buffer  int
}

func NewRegistry(buffer int) *Registry {
	if buffer <= 0 {
		buffer = defaultClientBuffer
	}
	return &Registry{
		clients: make(map[string]map[*Client]struct{}),
		buffer:  buffer,
	}
}

func (r *Registry) Register(userID string) *Client {
	client := &Client{
		ID:      uuid.NewString(),
		UserID:  userID,
		changes: make(chan Change, r.buffer),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.clients[userID]
	if !ok {
		set = make(map[*Client]struct{})
		r.clients[userID] = set
	}
	set[client] = struct{}{}
	slog.Debug("change stream registered", "user", userID, "client", client.ID, "open", len(set))
	return client
}

// Unregister removes the client and closes its channel. Repeated calls are no-ops.
func (r *Registry) Unregister(client *Client) {
	client.once.Do(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if set, ok := r.clients[client.UserID]; ok {
			delete(set, client)
			if len(set) == 0 {
				delete(r.clients, client.UserID)
			}
		}
		close(client.changes)
		slog.Debug("change stream unregistered", "user", client.UserID, "client", client.ID)
	})
}

// Broadcast hands change to every client of userID without blocking. Clients whose
// buffer is full miss the change. It returns the number of clients reached.
func (r *Registry) Broadcast(userID string, change Change) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	delivered := 0
	for client := range r.clients[userID] {
		select {
		case client.changes <- change:
			delivered++
		default:
			slog.Debug("dropping post change for slow client", "user", userID, "client", client.ID)
		}
	}
	return delivered
}

func (r *Registry) Count(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients[userID])
}

// Close unregisters every client.
func (r *Registry) Close() {
	r.mu.RLock()
	var open []*Client
	for _, set := range r.clients {
		for client := range set {
			open = append(open, client)
		}
	}
	r.mu.RUnlock()

	for _, client := range open {
		r.Unregister(client)
	}
}
