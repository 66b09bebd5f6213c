package ws

import (
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/opsdash/slack-relay/internal/metrics"
)

// Connection represents a single WebSocket client session with its room
// memberships and a write mutex for serializing outbound frames. Room
// membership lives only on the Connection: it is discarded with the session
// and a reconnecting client must rejoin explicitly.
type Connection struct {
	ID         string     // session ID (UUID)
	Conn       net.Conn   // underlying TCP connection
	Fd         int        // file descriptor for epoll lookups
	CreatedAt  time.Time  // when the connection was established
	writeMu    sync.Mutex // serializes writes to this connection
	processing int32      // atomic flag: 0 = idle, 1 = being read by handleConn

	// lastPing holds the unix-nano time of the last activity proving the
	// client alive. Written by read workers, read by the heartbeat goroutine,
	// hence atomic.
	lastPing int64

	roomsMu sync.Mutex
	rooms   map[string]struct{} // joined room ids (channel ids)
}

// TouchPing records client activity now. Called on every successful frame
// read and on explicit pings.
func (c *Connection) TouchPing() {
	atomic.StoreInt64(&c.lastPing, time.Now().UnixNano())
}

// LastPing returns the time of the most recent recorded client activity.
func (c *Connection) LastPing() time.Time {
	return time.Unix(0, atomic.LoadInt64(&c.lastPing))
}

// WriteMessage sends a WebSocket text frame to this connection. The write
// mutex ensures that concurrent goroutines do not interleave frame bytes.
func (c *Connection) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// Close closes the underlying network connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// JoinRoom adds the connection to a room. Idempotent: joining a room twice
// is the same as joining it once. The room id is client-declared and not
// validated against upstream channels.
func (c *Connection) JoinRoom(room string) {
	c.roomsMu.Lock()
	if c.rooms == nil {
		c.rooms = make(map[string]struct{})
	}
	c.rooms[room] = struct{}{}
	c.roomsMu.Unlock()
}

// InRoom reports whether the connection has joined the given room.
func (c *Connection) InRoom(room string) bool {
	c.roomsMu.Lock()
	_, ok := c.rooms[room]
	c.roomsMu.Unlock()
	return ok
}

// Rooms returns a snapshot of the connection's room memberships.
func (c *Connection) Rooms() []string {
	c.roomsMu.Lock()
	out := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		out = append(out, room)
	}
	c.roomsMu.Unlock()
	return out
}

// Registry is a thread-safe session registry that maps session IDs and file
// descriptors to their respective Connection objects. It supports O(1)
// lookups by both session ID and fd, and fans broadcasts out over a
// snapshot of the current sessions.
type Registry struct {
	mu   sync.RWMutex
	byID map[string]*Connection // session_id -> Connection
	byFd map[int]*Connection    // fd -> Connection
}

// NewRegistry creates an empty Registry ready for use.
func NewRegistry() *Registry {
	return &Registry{
		byID: make(map[string]*Connection),
		byFd: make(map[int]*Connection),
	}
}

// Add registers a new connection in both the ID and fd lookup maps.
func (r *Registry) Add(conn *Connection) {
	r.mu.Lock()
	r.byID[conn.ID] = conn
	r.byFd[conn.Fd] = conn
	r.mu.Unlock()
}

// Remove removes a connection by session ID, closes the underlying network
// connection, and removes it from both lookup maps. All room membership for
// the session is discarded with it. Returns true if the connection was
// found and removed, false if it was already gone.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	conn, ok := r.byID[id]
	if ok {
		delete(r.byID, id)
		delete(r.byFd, conn.Fd)
	}
	r.mu.Unlock()

	if ok {
		conn.Close()
	}
	return ok
}

// RemoveByFd removes a connection by file descriptor, closes the underlying
// network connection, and removes it from both lookup maps. It returns the
// removed connection, or nil if no connection was registered for that fd.
func (r *Registry) RemoveByFd(fd int) *Connection {
	r.mu.Lock()
	conn, ok := r.byFd[fd]
	if ok {
		delete(r.byFd, fd)
		delete(r.byID, conn.ID)
	}
	r.mu.Unlock()

	if ok {
		conn.Close()
		return conn
	}
	return nil
}

// Get returns the connection for the given session ID, or nil if not found.
func (r *Registry) Get(id string) *Connection {
	r.mu.RLock()
	conn := r.byID[id]
	r.mu.RUnlock()
	return conn
}

// GetByFd returns the connection for the given file descriptor, or nil if
// not found.
func (r *Registry) GetByFd(fd int) *Connection {
	r.mu.RLock()
	conn := r.byFd[fd]
	r.mu.RUnlock()
	return conn
}

// GetByConn returns the connection for the given net.Conn by extracting
// its file descriptor. Returns nil if not found.
func (r *Registry) GetByConn(c net.Conn) *Connection {
	fd := socketFD(c)
	return r.GetByFd(fd)
}

// Count returns the current number of active connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	n := len(r.byID)
	r.mu.RUnlock()
	return n
}

// JoinRoom adds the session with the given ID to a room. It is a no-op if
// the session is not registered (e.g. it disconnected between the command
// arriving and being processed).
func (r *Registry) JoinRoom(id, room string) {
	if conn := r.Get(id); conn != nil {
		conn.JoinRoom(room)
	}
}

// Broadcast sends a message to every registered session. The session list
// is snapshotted under the read lock and iterated outside it, so broadcast
// is safe to call concurrently with Add/Remove; a session added mid-
// broadcast may or may not receive this message. Per-session write errors
// are logged and skipped — one dead client never blocks delivery to the
// rest. Returns the number of successful deliveries.
func (r *Registry) Broadcast(data []byte) int {
	return r.deliver(r.All(), data)
}

// BroadcastRoom sends a message to every session that has joined the given
// room. Same snapshot and error semantics as Broadcast.
func (r *Registry) BroadcastRoom(room string, data []byte) int {
	all := r.All()
	members := make([]*Connection, 0, len(all))
	for _, conn := range all {
		if conn.InRoom(room) {
			members = append(members, conn)
		}
	}
	return r.deliver(members, data)
}

// All returns a snapshot of all current connections. The returned slice is
// safe to iterate without holding the lock.
func (r *Registry) All() []*Connection {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.byID))
	for _, conn := range r.byID {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()
	return conns
}

// deliver writes data to each connection in turn. Delivery is best-effort
// and at-most-once: a write error (closed socket, full buffer) is counted,
// logged, and skipped.
func (r *Registry) deliver(conns []*Connection, data []byte) int {
	delivered := 0
	for _, conn := range conns {
		if err := conn.WriteMessage(data); err != nil {
			metrics.DeliveryFailuresTotal.Inc()
			log.Printf("ws: delivery failed session=%s: %v", conn.ID, err)
			continue
		}
		delivered++
	}
	return delivered
}
