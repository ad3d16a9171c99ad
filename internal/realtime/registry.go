package realtime

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

var ErrRegistryClosed = errors.New("connection registry closed")

const defaultBufferSize = 32

// Conn is one live client connection. Its rooms are fixed when it is
// registered; switching clubs means disconnecting and connecting again.
type Conn struct {
	ID       string
	Identity string

	rooms     []string
	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

// Events delivers the connection's events. It is never closed; select on
// Done as well.
func (c *Conn) Events() <-chan Event {
	return c.events
}

// Done is closed when the connection is removed from the registry.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) Rooms() []string {
	return append([]string(nil), c.rooms...)
}

func (c *Conn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Registry owns room membership for every connection on this server. Create
// one at startup and Close it on shutdown.
type Registry struct {
	mu         sync.RWMutex
	rooms      map[string]map[*Conn]struct{}
	conns      map[*Conn]struct{}
	bufferSize int
	closed     bool
}

func NewRegistry(bufferSize int) *Registry {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Registry{
		rooms:      make(map[string]map[*Conn]struct{}),
		conns:      make(map[*Conn]struct{}),
		bufferSize: bufferSize,
	}
}

// Connect registers a connection in rooms.
func (r *Registry) Connect(identity string, rooms []string) (*Conn, error) {
	conn := &Conn{
		ID:       uuid.NewString(),
		Identity: identity,
		rooms:    dedupeRooms(rooms),
		events:   make(chan Event, r.bufferSize),
		done:     make(chan struct{}),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}
	r.conns[conn] = struct{}{}
	for _, room := range conn.rooms {
		members := r.rooms[room]
		if members == nil {
			members = make(map[*Conn]struct{})
			r.rooms[room] = members
		}
		members[conn] = struct{}{}
	}
	return conn, nil
}

// Disconnect removes conn from every room. Safe to call more than once.
func (r *Registry) Disconnect(conn *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(conn)
}

func (r *Registry) removeLocked(conn *Conn) {
	if _, ok := r.conns[conn]; !ok {
		return
	}
	delete(r.conns, conn)
	for _, room := range conn.rooms {
		if members := r.rooms[room]; members != nil {
			delete(members, conn)
			if len(members) == 0 {
				delete(r.rooms, room)
			}
		}
	}
	conn.close()
}

// Publish delivers e once to every connection in any of rooms and returns
// how many connections received it. A connection whose buffer is full
// misses the event rather than blocking the publisher.
func (r *Registry) Publish(e Event, rooms ...string) (delivered, dropped int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[*Conn]struct{})
	for _, room := range rooms {
		for conn := range r.rooms[room] {
			if _, ok := seen[conn]; ok {
				continue
			}
			seen[conn] = struct{}{}
			select {
			case conn.events <- e:
				delivered++
			default:
				dropped++
			}
		}
	}
	return delivered, dropped
}

func (r *Registry) RoomSize(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Close disconnects every connection and rejects new ones.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for conn := range r.conns {
		r.removeLocked(conn)
	}
}

func dedupeRooms(rooms []string) []string {
	seen := make(map[string]struct{}, len(rooms))
	out := make([]string, 0, len(rooms))
	for _, room := range rooms {
		if room == "" {
			continue
		}
		if _, ok := seen[room]; ok {
			continue
		}
		seen[room] = struct{}{}
		out = append(out, room)
	}
	return out
}
