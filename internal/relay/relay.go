package relay

import (
	"fmt"

	"github.com/opsdash/slack-relay/internal/gateway"
	"github.com/opsdash/slack-relay/internal/metrics"
)

// Publisher delivers a normalized broadcast to client sessions, either
// directly (LocalPublisher) or through the cross-instance bridge
// (BridgePublisher).
type Publisher interface {
	Publish(msg BroadcastMessage) error
}

// Relay ties the normalizer to a publisher. Its Handle method is the
// gateway.Handler registered with the connection manager.
type Relay struct {
	pub Publisher
}

// New creates a Relay publishing through pub.
func New(pub Publisher) *Relay {
	return &Relay{pub: pub}
}

// Handle processes a single gateway event. A nil return does not mean the
// event was forwarded — dropped events are a normal outcome. Errors are
// per-event: the caller logs them and the stream continues.
func (r *Relay) Handle(ev gateway.Event) error {
	metrics.GatewayEventsTotal.WithLabelValues(string(ev.Category)).Inc()

	msg, ok := Normalize(ev)
	if !ok {
		metrics.EventsDroppedTotal.Inc()
		return nil
	}

	metrics.BroadcastsTotal.WithLabelValues(msg.Event).Inc()
	if err := r.pub.Publish(msg); err != nil {
		return fmt.Errorf("relay: publish %s: %w", msg.Event, err)
	}
	return nil
}
