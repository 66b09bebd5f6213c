package gateway

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

// fakeSession is a scriptable stand-in for the socketmode client.
type fakeSession struct {
	events chan socketmode.Event

	mu   sync.Mutex
	acks []socketmode.Request
}

func newFakeSession() *fakeSession {
	return &fakeSession{events: make(chan socketmode.Event, 16)}
}

func (f *fakeSession) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeSession) Events() <-chan socketmode.Event { return f.events }

func (f *fakeSession) Ack(req socketmode.Request) {
	f.mu.Lock()
	f.acks = append(f.acks, req)
	f.mu.Unlock()
}

func (f *fakeSession) ackCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.acks)
}

// waitFor polls cond until it returns true or the deadline expires.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func testConfig() Config {
	return Config{AppToken: "xapp-test", BotToken: "xoxb-test"}
}

func messageEnvelope(channel, text string) socketmode.Event {
	return socketmode.Event{
		Type: socketmode.EventTypeEventsAPI,
		Data: slackevents.EventsAPIEvent{
			Type: slackevents.CallbackEvent,
			InnerEvent: slackevents.EventsAPIInnerEvent{
				Type: "message",
				Data: &slackevents.MessageEvent{
					Type:        "message",
					Channel:     channel,
					ChannelType: "channel",
					Text:        text,
				},
			},
		},
		Request: &socketmode.Request{EnvelopeID: "env-1"},
	}
}

// ---------------------------------------------------------------------------
// Test: Start without credentials degrades instead of crashing
// ---------------------------------------------------------------------------

func TestStart_MissingCredential(t *testing.T) {
	m := NewManager(Config{}, nil)

	state, err := m.Start(context.Background())
	if !errors.Is(err, ErrNoCredential) {
		t.Fatalf("expected ErrNoCredential, got %v", err)
	}
	if state != StateDisconnected {
		t.Fatalf("expected disconnected state, got %s", state)
	}

	// Bot token alone is not enough either.
	m = NewManager(Config{BotToken: "xoxb-test"}, nil)
	if _, err := m.Start(context.Background()); !errors.Is(err, ErrNoCredential) {
		t.Fatalf("expected ErrNoCredential, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Test: concurrent Start calls create exactly one session
// ---------------------------------------------------------------------------

func TestStart_SingleSession(t *testing.T) {
	var dials int32
	fake := newFakeSession()

	m := NewManager(testConfig(), nil)
	m.dial = func(Config) (session, error) {
		atomic.AddInt32(&dials, 1)
		return fake, nil
	}
	defer m.Stop()

	const callers = 8
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Start(context.Background()); err != nil {
				t.Errorf("Start: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := atomic.LoadInt32(&dials); n != 1 {
		t.Fatalf("expected exactly 1 dial, got %d", n)
	}
}

// ---------------------------------------------------------------------------
// Test: Start after the session exists returns the current state
// ---------------------------------------------------------------------------

func TestStart_Idempotent(t *testing.T) {
	fake := newFakeSession()
	m := NewManager(testConfig(), nil)
	m.dial = func(Config) (session, error) { return fake, nil }
	defer m.Stop()

	if _, err := m.Start(context.Background()); err != nil {
		t.Fatalf("first Start: %v", err)
	}

	fake.events <- socketmode.Event{Type: socketmode.EventTypeConnected}
	waitFor(t, func() bool { return m.State() == StateConnected })

	state, err := m.Start(context.Background())
	if err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if state != StateConnected {
		t.Fatalf("expected connected state from second Start, got %s", state)
	}
}

// ---------------------------------------------------------------------------
// Test: acknowledgement fires even when forwarding fails
// ---------------------------------------------------------------------------

func TestAck_IndependentOfForwardFailure(t *testing.T) {
	fake := newFakeSession()
	var forwarded int32

	m := NewManager(testConfig(), func(Event) error {
		atomic.AddInt32(&forwarded, 1)
		return errors.New("downstream broken")
	})
	m.dial = func(Config) (session, error) { return fake, nil }
	defer m.Stop()

	if _, err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	fake.events <- messageEnvelope("C1", "hi")
	waitFor(t, func() bool { return atomic.LoadInt32(&forwarded) == 1 })

	if fake.ackCount() != 1 {
		t.Fatalf("expected 1 ack despite handler failure, got %d", fake.ackCount())
	}
}

// ---------------------------------------------------------------------------
// Test: lifecycle state transitions
// ---------------------------------------------------------------------------

func TestStateTransitions(t *testing.T) {
	fake := newFakeSession()
	m := NewManager(testConfig(), nil)
	m.dial = func(Config) (session, error) { return fake, nil }
	defer m.Stop()

	state, err := m.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if state != StateConnecting {
		t.Fatalf("expected connecting after Start, got %s", state)
	}

	fake.events <- socketmode.Event{Type: socketmode.EventTypeConnected}
	waitFor(t, func() bool { return m.State() == StateConnected })

	// A transient drop: socketmode emits connection_error, then reconnects.
	fake.events <- socketmode.Event{Type: socketmode.EventTypeConnectionError}
	waitFor(t, func() bool { return m.State() == StateReconnecting })

	fake.events <- socketmode.Event{Type: socketmode.EventTypeConnected}
	waitFor(t, func() bool { return m.State() == StateConnected })

	m.Stop()
	if m.State() != StateDisconnected {
		t.Fatalf("expected disconnected after Stop, got %s", m.State())
	}
}

// ---------------------------------------------------------------------------
// Test: envelopes outside the events vocabulary are acked and dropped
// ---------------------------------------------------------------------------

func TestSlashCommandAckedAndDropped(t *testing.T) {
	fake := newFakeSession()
	var forwarded int32

	m := NewManager(testConfig(), func(Event) error {
		atomic.AddInt32(&forwarded, 1)
		return nil
	})
	m.dial = func(Config) (session, error) { return fake, nil }
	defer m.Stop()

	if _, err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	fake.events <- socketmode.Event{
		Type:    socketmode.EventTypeSlashCommand,
		Request: &socketmode.Request{EnvelopeID: "env-cmd"},
	}
	waitFor(t, func() bool { return fake.ackCount() == 1 })

	if n := atomic.LoadInt32(&forwarded); n != 0 {
		t.Fatalf("slash command should not be forwarded, got %d calls", n)
	}
}
