package relay

import (
	"encoding/json"
	"fmt"

	"github.com/opsdash/slack-relay/internal/protocol"
)

// Broadcaster is the session fan-out surface the local publisher writes to.
// ws.Registry satisfies it.
type Broadcaster interface {
	Broadcast(data []byte) int
	BroadcastRoom(room string, data []byte) int
}

// LocalPublisher encodes broadcasts into the client protocol and delivers
// them to the in-process session registry. Used when the relay runs as a
// single instance.
type LocalPublisher struct {
	reg Broadcaster
}

// NewLocalPublisher creates a publisher delivering to reg.
func NewLocalPublisher(reg Broadcaster) *LocalPublisher {
	return &LocalPublisher{reg: reg}
}

// Publish encodes and fans out one broadcast. Per-session delivery failures
// are handled inside the registry and never surface here.
func (p *LocalPublisher) Publish(msg BroadcastMessage) error {
	data, err := protocol.NewEventMessage(msg.Event, msg.Payload)
	if err != nil {
		return err
	}
	if msg.Room == "" {
		p.reg.Broadcast(data)
	} else {
		p.reg.BroadcastRoom(msg.Room, data)
	}
	return nil
}

// EventBus is the publish side of the cross-instance bridge. The NATS
// client in internal/messaging satisfies it.
type EventBus interface {
	PublishEvent(data []byte) error
}

// BridgePublisher marshals broadcasts onto the bridge subject. Delivery to
// local sessions then happens through every instance's own subscription,
// publisher included, so events are delivered exactly one way.
type BridgePublisher struct {
	bus EventBus
}

// NewBridgePublisher creates a publisher writing to bus.
func NewBridgePublisher(bus EventBus) *BridgePublisher {
	return &BridgePublisher{bus: bus}
}

// Publish marshals and publishes one broadcast to the bridge.
func (p *BridgePublisher) Publish(msg BroadcastMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("relay: marshal broadcast: %w", err)
	}
	return p.bus.PublishEvent(data)
}

// DecodeBroadcast parses a bridge payload back into a BroadcastMessage.
func DecodeBroadcast(data []byte) (BroadcastMessage, error) {
	var msg BroadcastMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return BroadcastMessage{}, fmt.Errorf("relay: decode broadcast: %w", err)
	}
	return msg, nil
}
