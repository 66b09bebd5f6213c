// Package messaging provides the NATS bridge used when the relay runs as
// more than one instance: every instance publishes normalized broadcasts to
// a shared subject and delivers to its local sessions from its own
// subscription. It handles connection lifecycle and subject-based
// subscriptions.
package messaging

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// SubjectEvents carries marshalled broadcast messages between relay
// instances. A single subject keeps per-publisher ordering intact.
const SubjectEvents = "relay.events"

// Client wraps the NATS connection with helper methods for pub/sub.
type Client struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "relay",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewClient connects to NATS with the given config and returns a ready client.
// It returns an error if the initial connection fails.
func NewClient(config Config) (*Client, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &Client{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *Client) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// PublishEvent publishes a marshalled broadcast to the events subject.
func (c *Client) PublishEvent(data []byte) error {
	return c.Publish(SubjectEvents, data)
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *Client) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()

	return nil
}

// SubscribeEvents subscribes to the events subject and passes each raw
// broadcast payload to the handler.
func (c *Client) SubscribeEvents(handler func(data []byte)) error {
	return c.Subscribe(SubjectEvents, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", subject, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}
