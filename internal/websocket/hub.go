package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/socialnet/backend/internal/logger"
)

// ErrHubStopped is returned by Broadcast once Run has returned.
var ErrHubStopped = errors.New("websocket hub stopped")

// ConnectionCounter observes client connects and disconnects.
type ConnectionCounter interface {
	IncWSConnections()
	DecWSConnections()
}

// Hub maintains the set of active clients and routes job messages to the
// connections of the user who submitted the job.
type Hub struct {
	// Registered clients by user ID
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message
	done       chan struct{}

	counter ConnectionCounter
	log     *logger.Logger

	mu sync.RWMutex
}

func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Default().WithComponent("websocket")
	}
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Message),
		done:       make(chan struct{}),
		log:        log,
	}
}

// SetCounter registers a connection observer. Call before Run.
func (h *Hub) SetCounter(c ConnectionCounter) {
	h.counter = c
}

// Run serves registrations and broadcasts until ctx is cancelled, then
// closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.userID] == nil {
				h.clients[client.userID] = make(map[*Client]bool)
			}
			h.clients[client.userID][client] = true
			h.mu.Unlock()
			if h.counter != nil {
				h.counter.IncWSConnections()
			}

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()

		case message := <-h.broadcast:
			data, err := json.Marshal(message)
			if err != nil {
				h.log.Error(ctx, "failed to marshal websocket message", err, logger.Fields{"job_id": message.JobID})
				continue
			}

			h.mu.Lock()
			for client := range h.clients[message.UserID] {
				select {
				case client.send <- data:
				default:
					// slow consumer
					h.remove(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// remove must be called with h.mu held.
func (h *Hub) remove(client *Client) {
	clients, ok := h.clients[client.userID]
	if !ok || !clients[client] {
		return
	}
	delete(clients, client)
	close(client.send)
	if len(clients) == 0 {
		delete(h.clients, client.userID)
	}
	if h.counter != nil {
		h.counter.DecWSConnections()
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, clients := range h.clients {
		for client := range clients {
			h.remove(client)
		}
	}
}

// Broadcast queues msg for the connections of msg.UserID.
func (h *Hub) Broadcast(ctx context.Context, msg *Message) error {
	select {
	case h.broadcast <- msg:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) add(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// ClientCount returns the number of connected clients for a user.
func (h *Hub) ClientCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// TotalClients returns the total number of connected clients.
func (h *Hub) TotalClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	count := 0
	for _, clients := range h.clients {
		count += len(clients)
	}
	return count
}
