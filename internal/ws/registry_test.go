package ws

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"
)

// stubConn is an in-memory net.Conn that records written frames and fails
// writes after Close, mimicking a closed socket.
type stubConn struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (c *stubConn) Read(b []byte) (int, error) { return 0, errors.New("stub: no reads") }

func (c *stubConn) Write(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, errors.New("stub: write on closed connection")
	}
	return c.buf.Write(b)
}

func (c *stubConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *stubConn) written() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.buf.Bytes()...)
}

func (c *stubConn) LocalAddr() net.Addr                { return &net.TCPAddr{} }
func (c *stubConn) RemoteAddr() net.Addr               { return &net.TCPAddr{} }
func (c *stubConn) SetDeadline(t time.Time) error      { return nil }
func (c *stubConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *stubConn) SetWriteDeadline(t time.Time) error { return nil }

// newTestConn registers a stub-backed connection with a unique fake fd.
func newTestConn(reg *Registry, id string, fd int) (*Connection, *stubConn) {
	stub := &stubConn{}
	c := &Connection{
		ID:        id,
		Conn:      stub,
		Fd:        fd,
		CreatedAt: time.Now(),
	}
	c.TouchPing()
	reg.Add(c)
	return c, stub
}

// ---------------------------------------------------------------------------
// Test: joining a room twice is the same as joining it once
// ---------------------------------------------------------------------------

func TestJoinRoom_Idempotent(t *testing.T) {
	reg := NewRegistry()
	c, _ := newTestConn(reg, "s1", 101)

	reg.JoinRoom("s1", "C100")
	reg.JoinRoom("s1", "C100")

	rooms := c.Rooms()
	if len(rooms) != 1 || rooms[0] != "C100" {
		t.Fatalf("expected single membership [C100], got %v", rooms)
	}
	if !c.InRoom("C100") {
		t.Error("expected InRoom to report membership")
	}
	if c.InRoom("C999") {
		t.Error("unexpected membership in unjoined room")
	}
}

// JoinRoom on a session that already disconnected is a no-op.
func TestJoinRoom_UnknownSession(t *testing.T) {
	reg := NewRegistry()
	reg.JoinRoom("ghost", "C100") // must not panic
	if reg.Count() != 0 {
		t.Fatalf("expected empty registry, got %d", reg.Count())
	}
}

// ---------------------------------------------------------------------------
// Test: broadcast reaches every session regardless of room membership
// ---------------------------------------------------------------------------

func TestBroadcast_AllSessions(t *testing.T) {
	reg := NewRegistry()
	_, stub1 := newTestConn(reg, "s1", 101)
	_, stub2 := newTestConn(reg, "s2", 102)

	// Neither session has joined any room.
	payload := []byte(`{"type":"channel_created"}`)
	delivered := reg.Broadcast(payload)
	if delivered != 2 {
		t.Fatalf("expected 2 deliveries, got %d", delivered)
	}

	for i, stub := range []*stubConn{stub1, stub2} {
		if !bytes.Contains(stub.written(), payload) {
			t.Errorf("session %d did not receive the broadcast", i+1)
		}
	}
}

// ---------------------------------------------------------------------------
// Test: room-scoped broadcast only reaches members
// ---------------------------------------------------------------------------

func TestBroadcastRoom_MembersOnly(t *testing.T) {
	reg := NewRegistry()
	_, member := newTestConn(reg, "s1", 101)
	_, outsider := newTestConn(reg, "s2", 102)

	reg.JoinRoom("s1", "C100")

	payload := []byte(`{"type":"message"}`)
	delivered := reg.BroadcastRoom("C100", payload)
	if delivered != 1 {
		t.Fatalf("expected 1 delivery, got %d", delivered)
	}
	if !bytes.Contains(member.written(), payload) {
		t.Error("room member did not receive the broadcast")
	}
	if len(outsider.written()) != 0 {
		t.Error("non-member received a room-scoped broadcast")
	}
}

// ---------------------------------------------------------------------------
// Test: removed sessions are never delivered to
// ---------------------------------------------------------------------------

func TestBroadcast_AfterRemove(t *testing.T) {
	reg := NewRegistry()
	_, stayStub := newTestConn(reg, "stay", 101)
	_, goneStub := newTestConn(reg, "gone", 102)

	if !reg.Remove("gone") {
		t.Fatal("expected Remove to report the session was present")
	}
	if reg.Remove("gone") {
		t.Fatal("second Remove should report the session was already gone")
	}

	payload := []byte(`{"type":"message"}`)
	delivered := reg.Broadcast(payload)
	if delivered != 1 {
		t.Fatalf("expected 1 delivery after removal, got %d", delivered)
	}
	if !bytes.Contains(stayStub.written(), payload) {
		t.Error("remaining session did not receive the broadcast")
	}
	if len(goneStub.written()) != 0 {
		t.Error("removed session received a broadcast")
	}
}

// A session whose socket died mid-fanout must not abort delivery to the rest.
func TestBroadcast_DeadSocketSkipped(t *testing.T) {
	reg := NewRegistry()
	_, healthy := newTestConn(reg, "s1", 101)
	dead, _ := newTestConn(reg, "s2", 102)

	// Simulate a socket that died without the registry noticing yet.
	dead.Conn.Close()

	payload := []byte(`{"type":"message"}`)
	delivered := reg.Broadcast(payload)
	if delivered != 1 {
		t.Fatalf("expected 1 successful delivery, got %d", delivered)
	}
	if !bytes.Contains(healthy.written(), payload) {
		t.Error("healthy session did not receive the broadcast")
	}
}

// ---------------------------------------------------------------------------
// Test: broadcast is safe against concurrent register/unregister
// ---------------------------------------------------------------------------

func TestBroadcast_ConcurrentMutation(t *testing.T) {
	reg := NewRegistry()
	for i := 0; i < 32; i++ {
		newTestConn(reg, fmt.Sprintf("s%d", i), 100+i)
	}

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			reg.Broadcast([]byte(`{"type":"message"}`))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			newTestConn(reg, fmt.Sprintf("new%d", i), 1000+i)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 32; i++ {
			reg.Remove(fmt.Sprintf("s%d", i))
		}
	}()

	wg.Wait()
}

// ---------------------------------------------------------------------------
// Test: activity timestamp is safe to touch and read concurrently
// ---------------------------------------------------------------------------

func TestConnection_PingTimestampConcurrent(t *testing.T) {
	reg := NewRegistry()
	c, _ := newTestConn(reg, "s1", 101)

	before := c.LastPing()
	if before.IsZero() {
		t.Fatal("expected a non-zero timestamp after registration")
	}

	// Read workers touch the timestamp while the heartbeat path reads it.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			c.TouchPing()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			if c.LastPing().Before(before) {
				t.Error("timestamp went backwards")
				return
			}
		}
	}()
	wg.Wait()

	if c.LastPing().Before(before) {
		t.Fatal("TouchPing should never move the timestamp backwards")
	}
}

// ---------------------------------------------------------------------------
// Test: fd lookups stay consistent with ID lookups
// ---------------------------------------------------------------------------

func TestRegistry_FdLookup(t *testing.T) {
	reg := NewRegistry()
	c, _ := newTestConn(reg, "s1", 101)

	if got := reg.GetByFd(101); got != c {
		t.Fatal("GetByFd should return the registered connection")
	}

	removed := reg.RemoveByFd(101)
	if removed != c {
		t.Fatal("RemoveByFd should return the removed connection")
	}
	if reg.Get("s1") != nil {
		t.Error("ID lookup should miss after RemoveByFd")
	}
	if reg.Count() != 0 {
		t.Errorf("expected empty registry, got %d", reg.Count())
	}
}
