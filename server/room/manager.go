package room

import (
	"sync"
)

type directFrame struct {
	client *Client
	frame  []byte
}

// Room fans every broadcast frame out to all registered clients, the sender
// included.
type Room struct {
	ID         string
	Register   chan *Client
	Unregister chan *Client
	Broadcast  chan []byte

	direct  chan directFrame
	clients map[*Client]bool
	mu      sync.RWMutex
	quit    chan struct{}
	done    chan struct{}
}

func NewRoom(id string) *Room {
	return &Room{
		ID:         id,
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Broadcast:  make(chan []byte, 64),
		direct:     make(chan directFrame, 64),
		clients:    make(map[*Client]bool),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (r *Room) Run() {
	defer close(r.done)
	for {
		select {
		case c := <-r.Register:
			r.mu.Lock()
			r.clients[c] = true
			r.mu.Unlock()
		case c := <-r.Unregister:
			r.mu.Lock()
			if _, ok := r.clients[c]; ok {
				delete(r.clients, c)
				close(c.send)
			}
			r.mu.Unlock()
		case frame := <-r.Broadcast:
			r.mu.Lock()
			for c := range r.clients {
				select {
				case c.send <- frame:
				default:
					// Slow consumer; drop it rather than stall the room.
					delete(r.clients, c)
					close(c.send)
				}
			}
			r.mu.Unlock()
		case d := <-r.direct:
			r.mu.Lock()
			if r.clients[d.client] {
				select {
				case d.client.send <- d.frame:
				default:
				}
			}
			r.mu.Unlock()
		case <-r.quit:
			r.mu.Lock()
			for c := range r.clients {
				delete(r.clients, c)
				close(c.send)
			}
			r.mu.Unlock()
			return
		}
	}
}

// Len returns the number of connected clients.
func (r *Room) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// join registers c unless the room has shut down.
func (r *Room) join(c *Client) bool {
	select {
	case r.Register <- c:
		return true
	case <-r.done:
		return false
	}
}

func (r *Room) leave(c *Client) {
	select {
	case r.Unregister <- c:
	case <-r.done:
	}
}

// Publish queues frame for every client in the room.
func (r *Room) Publish(frame []byte) {
	select {
	case r.Broadcast <- frame:
	case <-r.done:
	}
}

func (r *Room) reply(c *Client, frame []byte) {
	select {
	case r.direct <- directFrame{client: c, frame: frame}:
	case <-r.done:
	}
}

// Manager manages multiple rooms
type Manager struct {
	Rooms  map[string]*Room
	mu     sync.RWMutex
	closed bool
}

func NewManager() *Manager {
	return &Manager{
		Rooms: make(map[string]*Room),
	}
}

func (m *Manager) GetRoom(roomId string) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()

	if room, ok := m.Rooms[roomId]; ok {
		return room
	}

	room := NewRoom(roomId)
	if m.closed {
		close(room.done)
		return room
	}
	m.Rooms[roomId] = room
	go room.Run()
	return room
}

// Shutdown stops every room and disconnects their clients.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for _, room := range m.Rooms {
		close(room.quit)
		<-room.done
	}
}
