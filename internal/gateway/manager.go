// Package gateway owns the single outbound Socket Mode connection to Slack.
// It handles connect, acknowledgement, and lifecycle state, and forwards
// every decoded events-API event to a registered handler. Reconnection is
// delegated to the socketmode client's own retry loop; the Manager only
// tracks the resulting state and keeps transient errors away from the rest
// of the process.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

// ErrNoCredential is returned by Start when the app or bot token is missing.
// Callers are expected to treat it as a degraded-mode condition, not a fault:
// the HTTP/socket server runs fine without gateway events.
var ErrNoCredential = errors.New("gateway: no credential configured")

// State is the connection lifecycle state of the gateway session.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// Config holds the Socket Mode credentials.
type Config struct {
	AppToken string // xapp- app-level token for the Socket Mode connection
	BotToken string // xoxb- bot token for the Web API client
	Debug    bool
}

// Handler receives each decoded gateway event. Errors are logged by the
// Manager and never affect acknowledgement or subsequent events.
type Handler func(Event) error

// session abstracts the socketmode client so the run loop can be driven by
// a fake in tests.
type session interface {
	Run(ctx context.Context) error
	Events() <-chan socketmode.Event
	Ack(req socketmode.Request)
}

type slackSession struct {
	client *socketmode.Client
}

func (s *slackSession) Run(ctx context.Context) error { return s.client.RunContext(ctx) }

func (s *slackSession) Events() <-chan socketmode.Event { return s.client.Events }

func (s *slackSession) Ack(req socketmode.Request) { s.client.Ack(req) }

func dialSlack(cfg Config) (session, error) {
	api := slack.New(cfg.BotToken,
		slack.OptionAppLevelToken(cfg.AppToken),
		slack.OptionDebug(cfg.Debug),
	)
	client := socketmode.New(api, socketmode.OptionDebug(cfg.Debug))
	return &slackSession{client: client}, nil
}

// Manager owns at most one gateway session process-wide. It is constructed
// once at startup and passed by reference to whatever needs connection
// state; Start is idempotent so racing callers cannot duplicate the
// connection.
type Manager struct {
	cfg     Config
	handler Handler
	dial    func(Config) (session, error) // swapped in tests

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
}

// NewManager creates a Manager that forwards decoded events to handler.
func NewManager(cfg Config, handler Handler) *Manager {
	return &Manager{
		cfg:     cfg,
		handler: handler,
		dial:    dialSlack,
	}
}

// Start opens the gateway session and begins consuming events. It is
// idempotent: if a session already exists (any non-disconnected state), the
// current state is returned and no second connection is made. Returns
// ErrNoCredential when tokens are missing.
func (m *Manager) Start(ctx context.Context) (State, error) {
	if m.cfg.AppToken == "" || m.cfg.BotToken == "" {
		return StateDisconnected, ErrNoCredential
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateDisconnected {
		return m.state, nil
	}

	sess, err := m.dial(m.cfg)
	if err != nil {
		return StateDisconnected, fmt.Errorf("gateway: dial: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.state = StateConnecting

	go m.consume(runCtx, sess)
	go func() {
		// The socketmode run loop reconnects on its own; it only returns on
		// context cancellation or a terminal failure.
		if err := sess.Run(runCtx); err != nil && runCtx.Err() == nil {
			log.Printf("gateway: socket run loop ended: %v", err)
		}
		m.setState(StateDisconnected)
	}()

	log.Printf("gateway: starting socket mode session")
	return StateConnecting, nil
}

// Stop tears the session down. Best-effort: in-flight unacknowledged events
// are lost.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.state = StateDisconnected
	log.Printf("gateway: stopped")
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// consume drains the session's event channel until the context is cancelled
// or the channel closes.
func (m *Manager) consume(ctx context.Context, sess session) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sess.Events():
			if !ok {
				return
			}
			m.handleSocketEvent(sess, evt)
		}
	}
}

func (m *Manager) handleSocketEvent(sess session, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		if m.State() == StateConnected {
			log.Printf("gateway: connection lost, reconnecting")
			m.setState(StateReconnecting)
		} else {
			m.setState(StateConnecting)
		}

	case socketmode.EventTypeConnectionError:
		// Transient; the socketmode client retries with its own backoff.
		log.Printf("gateway: connection error (will retry): %v", evt.Data)
		m.setState(StateReconnecting)

	case socketmode.EventTypeConnected, socketmode.EventTypeHello:
		m.setState(StateConnected)
		log.Printf("gateway: connected")

	case socketmode.EventTypeInvalidAuth:
		log.Printf("gateway: credentials rejected, realtime events unavailable")

	case socketmode.EventTypeIncomingError:
		log.Printf("gateway: incoming error: %v", evt.Data)

	case socketmode.EventTypeEventsAPI:
		m.handleEventsAPI(sess, evt)

	case socketmode.EventTypeSlashCommand, socketmode.EventTypeInteractive:
		// Not part of the relay's vocabulary; ack so Slack stops retrying.
		if evt.Request != nil {
			m.ack(sess, *evt.Request)
		}
		log.Printf("gateway: ignoring %s envelope", evt.Type)
	}
}

// handleEventsAPI acknowledges the envelope first, then decodes and forwards
// the inner event. Ack and forwarding outcomes are independent: an ack
// problem never blocks forwarding and a handler error never blocks the ack.
func (m *Manager) handleEventsAPI(sess session, evt socketmode.Event) {
	if evt.Request != nil {
		m.ack(sess, *evt.Request)
	} else {
		log.Printf("gateway: events envelope without ack request")
	}

	apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
	if !ok {
		log.Printf("gateway: unexpected events payload %T", evt.Data)
		return
	}
	if apiEvent.Type != slackevents.CallbackEvent {
		log.Printf("gateway: ignoring events envelope type=%q", apiEvent.Type)
		return
	}

	ev, err := FromCallback(apiEvent.InnerEvent)
	if err != nil {
		log.Printf("gateway: decode %q event: %v", apiEvent.InnerEvent.Type, err)
		return
	}

	if m.handler == nil {
		return
	}
	if err := m.handler(ev); err != nil {
		log.Printf("gateway: forward %s event: %v", ev.Category, err)
	}
}

// ack sends the acknowledgement for one envelope. Failures are swallowed:
// the socketmode client queues the ack onto its write loop, and a dead
// socket surfaces as a connection error handled by the reconnect path.
func (m *Manager) ack(sess session, req socketmode.Request) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("gateway: ack %s: %v", req.EnvelopeID, r)
		}
	}()
	sess.Ack(req)
}
