package gateway

import "sync"

// Hub tracks the connections held by this instance and their room membership.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*Conn
	rooms map[string]map[string]*Conn
}

func NewHub() *Hub {
	return &Hub{
		conns: make(map[string]*Conn),
		rooms: make(map[string]map[string]*Conn),
	}
}

func (h *Hub) add(c *Conn) {
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
}

// remove drops c from the hub and every room it joined.
func (h *Hub) remove(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.conns, c.id)
	for room, members := range h.rooms {
		delete(members, c.id)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// Join adds c to room. Joining twice is harmless.
func (h *Hub) Join(c *Conn, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*Conn)
		h.rooms[room] = members
	}
	members[c.id] = c
}

// Leave removes c from room.
func (h *Hub) Leave(c *Conn, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if members, ok := h.rooms[room]; ok {
		delete(members, c.id)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// deliver queues frame for every local member of room and returns how many
// accepted it.
func (h *Hub) deliver(room string, frame []byte) int {
	h.mu.RLock()
	members := make([]*Conn, 0, len(h.rooms[room]))
	for _, c := range h.rooms[room] {
		members = append(members, c)
	}
	h.mu.RUnlock()

	n := 0
	for _, c := range members {
		if c.enqueue(frame) {
			n++
		}
	}
	return n
}

// RoomSize returns the number of local members of room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// ConnCount returns the number of open local connections.
func (h *Hub) ConnCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// closeAll closes every connection; used on shutdown.
func (h *Hub) closeAll() {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.close()
	}
}
