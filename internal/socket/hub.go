package socket

import (
	"sync"
)

// hub tracks open connections and conversation rooms they joined
type hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	rooms   map[string]map[*client]struct{}
}

func newHub() *hub {
	return &hub{
		clients: make(map[*client]struct{}),
		rooms:   make(map[string]map[*client]struct{}),
	}
}

func (h *hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[c] = struct{}{}
}

// remove client from the hub and every room it joined. Empty rooms are dropped
func (h *hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.clients, c)
	for id, room := range h.rooms {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, id)
		}
	}
}

func (h *hub) join(conversationID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[conversationID]
	if !ok {
		room = make(map[*client]struct{})
		h.rooms[conversationID] = room
	}
	room[c] = struct{}{}
}

func (h *hub) members(conversationID string) []*client {
	h.mu.Lock()
	defer h.mu.Unlock()

	list := make([]*client, 0, len(h.rooms[conversationID]))
	for c := range h.rooms[conversationID] {
		list = append(list, c)
	}
	return list
}

func (h *hub) all() []*client {
	h.mu.Lock()
	defer h.mu.Unlock()

	list := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		list = append(list, c)
	}
	return list
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.clients)
}
