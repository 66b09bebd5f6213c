// Package relay normalizes inbound gateway events into broadcast messages
// and hands them to a publisher for fan-out. The mapping is a single
// data-driven dispatch table so the message-family variants cannot drift
// apart.
package relay

import (
	"encoding/json"
	"log"

	"github.com/opsdash/slack-relay/internal/gateway"
)

// Outbound event names. These are the exact strings clients subscribe to.
const (
	EventMessage             = "message"
	EventReactionAdded       = "reaction_added"
	EventReactionRemoved     = "reaction_removed"
	EventChannelCreated      = "channel_created"
	EventMemberJoinedChannel = "member_joined_channel"
	EventChannelRename       = "channel_rename"
)

// BroadcastMessage is the outbound normalized form of a gateway event.
// An empty Room means all sessions. It also serves as the wire format on
// the cross-instance bridge.
type BroadcastMessage struct {
	Event   string          `json:"event"`
	Room    string          `json:"room,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// rule decides whether a category forwards and under which outbound name.
type rule struct {
	event string

	// needsMessageBody requires the inner type tag to be "message" and a
	// channel id to be present. This filters non-message subtypes (system
	// and service messages) that lack a routable channel.
	needsMessageBody bool

	// needsChannel requires an associated channel reference.
	needsChannel bool
}

// dispatch is the category table. Message events are forwarded globally on
// purpose: the gateway event cannot be matched to a locally-tracked room
// before the client has resolved channel metadata, so clients filter by
// channel id from the payload. Do not room-scope these without a product
// decision to do so.
var dispatch = map[gateway.Category]rule{
	gateway.CategoryMessage:         {event: EventMessage, needsMessageBody: true},
	gateway.CategoryMessageChannels: {event: EventMessage, needsMessageBody: true},
	gateway.CategoryMessageGroups:   {event: EventMessage, needsMessageBody: true},
	gateway.CategoryMessageIM:       {event: EventMessage, needsMessageBody: true},
	gateway.CategoryMessageMPIM:     {event: EventMessage, needsMessageBody: true},
	gateway.CategoryReactionAdded:   {event: EventReactionAdded, needsChannel: true},
	gateway.CategoryReactionRemoved: {event: EventReactionRemoved, needsChannel: true},
	gateway.CategoryChannelCreated:  {event: EventChannelCreated},
	gateway.CategoryMemberJoined:    {event: EventMemberJoinedChannel},
	gateway.CategoryChannelRename:   {event: EventChannelRename},
}

// Normalize classifies one gateway event and returns the broadcast it
// produces, if any. Events outside the table are still forwarded when they
// are message-shaped; everything else is dropped after logging.
func Normalize(ev gateway.Event) (BroadcastMessage, bool) {
	r, ok := dispatch[ev.Category]
	if !ok {
		if ev.Type == "message" && ev.Channel != "" {
			return BroadcastMessage{Event: EventMessage, Payload: ev.Payload}, true
		}
		log.Printf("relay: dropping unrecognized event type=%q", ev.Type)
		return BroadcastMessage{}, false
	}

	if r.needsMessageBody && (ev.Type != "message" || ev.Channel == "") {
		return BroadcastMessage{}, false
	}
	if r.needsChannel && ev.Channel == "" {
		return BroadcastMessage{}, false
	}

	return BroadcastMessage{Event: r.event, Payload: ev.Payload}, true
}
