package ws

import (
	"sync"
)

// Hub manages in-process subscribers for websocket-capable clients. It is
// independent of net/http and gorilla/websocket; callers register a buffered
// channel to receive broadcast messages.
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]chan Message
	register   chan registration
	unregister chan string
	broadcast  chan Message
	shutdown   chan struct{}
	closeOnce  sync.Once
}

type registration struct {
	id string
	ch chan Message
}

// NewHub creates and starts a new Hub.
func NewHub() *Hub {
	h := &Hub{
		clients:    make(map[string]chan Message),
		register:   make(chan registration),
		unregister: make(chan string),
		broadcast:  make(chan Message, 256),
		shutdown:   make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case reg := <-h.register:
			h.mu.Lock()
			h.clients[reg.id] = reg.ch
			h.mu.Unlock()
		case id := <-h.unregister:
			h.mu.Lock()
			if ch, ok := h.clients[id]; ok {
				close(ch)
				delete(h.clients, id)
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.RLock()
			for _, ch := range h.clients {
				select {
				case ch <- msg:
				default:
					// Client buffer full; drop rather than block the hub.
				}
			}
			h.mu.RUnlock()
		case <-h.shutdown:
			h.mu.Lock()
			for id, ch := range h.clients {
				close(ch)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Register registers a client channel under id. The channel should be
// buffered (recommended size 16).
func (h *Hub) Register(id string, ch chan Message) {
	h.register <- registration{id: id, ch: ch}
}

// Unregister removes the client with the given id and closes its channel.
func (h *Hub) Unregister(id string) {
	h.unregister <- id
}

// Broadcast sends a message to all registered clients, non-blocking
// per client.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	case <-h.shutdown:
	}
}

// ClientCount reports the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop shuts down the hub and closes all client channels.
func (h *Hub) Stop() {
	h.closeOnce.Do(func() { close(h.shutdown) })
}
