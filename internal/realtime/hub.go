package realtime

import (
	"sort"
	"sync"

	"campusflow/internal/logging"
	"campusflow/internal/metrics"
)

// Frame is a server-to-client event.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Hub maintains room membership for connected clients.
type Hub struct {
	registry *Registry
	mu       sync.RWMutex
	clients  map[string]*Client
	rooms    map[string]map[*Client]struct{}
}

// NewHub creates a hub that records connections in registry.
func NewHub(registry *Registry) *Hub {
	return &Hub{
		registry: registry,
		clients:  make(map[string]*Client),
		rooms:    make(map[string]map[*Client]struct{}),
	}
}

// Registry returns the connection registry the hub maintains.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Attach registers the client and joins its identity rooms.
func (h *Hub) Attach(c *Client) {
	h.registry.Register(c.id, c.UserID, c.Role)

	h.mu.Lock()
	h.clients[c.id] = c
	h.joinLocked(c, GlobalRoom)
	h.joinLocked(c, UserRoom(c.UserID))
	h.joinLocked(c, RoleRoom(c.Role))
	if c.CollegeID != "" {
		h.joinLocked(c, CollegeRoom(c.CollegeID))
		h.joinLocked(c, CollegeRoleRoom(c.CollegeID, c.Role))
	}
	n := len(h.clients)
	h.mu.Unlock()

	metrics.Connections.Inc()
	logging.Info().Str("socket_id", c.id).Str("user_id", c.UserID).Str("role", c.Role).Int("total_clients", n).Msg("websocket client connected")
}

// Detach leaves every room, unregisters the socket and closes the client's queue.
func (h *Hub) Detach(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.id)
	for room := range c.rooms {
		h.leaveLocked(c, room)
	}
	n := len(h.clients)
	h.mu.Unlock()

	h.registry.Unregister(c.id)
	c.close()
	metrics.Connections.Dec()
	logging.Info().Str("socket_id", c.id).Str("user_id", c.UserID).Int("total_clients", n).Msg("websocket client disconnected")
}

// Join adds the client to room.
func (h *Hub) Join(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	h.joinLocked(c, room)
}

// Leave removes the client from room.
func (h *Hub) Leave(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, room)
}

func (h *Hub) joinLocked(c *Client, room string) {
	members := h.rooms[room]
	if members == nil {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
}

func (h *Hub) leaveLocked(c *Client, room string) {
	delete(c.rooms, room)
	members := h.rooms[room]
	if members == nil {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// Emit queues the event for every member of room and returns how many clients accepted it.
// A client whose queue is full is skipped.
func (h *Hub) Emit(room, event string, payload any) int {
	h.mu.RLock()
	members := make([]*Client, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		members = append(members, c)
	}
	h.mu.RUnlock()

	sort.Slice(members, func(i, j int) bool { return members[i].seq < members[j].seq })

	frame := Frame{Event: event, Data: payload}
	delivered := 0
	for _, c := range members {
		if c.enqueue(frame) {
			delivered++
			continue
		}
		logging.Warn().Str("socket_id", c.id).Str("room", room).Str("event", event).Msg("client send queue full, dropping event")
	}
	return delivered
}

// Members returns the number of clients in room.
func (h *Hub) Members(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// RoomsOf lists the rooms the client currently belongs to, sorted.
func (h *Hub) RoomsOf(c *Client) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return keys(c.rooms)
}

// Close detaches every client.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.Detach(c)
	}
	logging.Info().Int("clients_closed", len(clients)).Msg("websocket hub stopped")
}
