package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/slack-go/slack/slackevents"
)

// Category classifies an inbound gateway event. The vocabulary is fixed:
// the five message-family variants, the reaction and channel-lifecycle
// events the relay subscribes to, and a catch-all for everything else.
type Category string

const (
	CategoryMessage         Category = "message"
	CategoryMessageChannels Category = "message.channels"
	CategoryMessageGroups   Category = "message.groups"
	CategoryMessageIM       Category = "message.im"
	CategoryMessageMPIM     Category = "message.mpim"
	CategoryReactionAdded   Category = "reaction_added"
	CategoryReactionRemoved Category = "reaction_removed"
	CategoryChannelCreated  Category = "channel_created"
	CategoryMemberJoined    Category = "member_joined_channel"
	CategoryChannelRename   Category = "channel_rename"
	CategoryUnknown         Category = "unknown"
)

// Event is the neutral form of one inbound gateway event, decoded from the
// Slack events-API envelope. Acknowledgement is handled by the Manager
// before the event reaches any consumer, so Event carries no ack handle.
type Event struct {
	Category Category
	Type     string          // inner event type tag, e.g. "message"
	Channel  string          // associated channel id, empty if none
	Payload  json.RawMessage // passthrough of the inner event body
}

// FromCallback converts a decoded events-API inner event into an Event.
// The channel id is extracted per category; inner types outside the
// subscribed vocabulary are tagged CategoryUnknown with a best-effort
// type/channel sniff from the marshalled body.
func FromCallback(inner slackevents.EventsAPIInnerEvent) (Event, error) {
	payload, err := json.Marshal(inner.Data)
	if err != nil {
		return Event{}, fmt.Errorf("gateway: marshal %q inner event: %w", inner.Type, err)
	}

	switch ev := inner.Data.(type) {
	case *slackevents.MessageEvent:
		return Event{
			Category: messageCategory(ev.ChannelType),
			Type:     ev.Type,
			Channel:  ev.Channel,
			Payload:  payload,
		}, nil
	case *slackevents.ReactionAddedEvent:
		return Event{
			Category: CategoryReactionAdded,
			Type:     ev.Type,
			Channel:  ev.Item.Channel,
			Payload:  payload,
		}, nil
	case *slackevents.ReactionRemovedEvent:
		return Event{
			Category: CategoryReactionRemoved,
			Type:     ev.Type,
			Channel:  ev.Item.Channel,
			Payload:  payload,
		}, nil
	case *slackevents.ChannelCreatedEvent:
		return Event{
			Category: CategoryChannelCreated,
			Type:     ev.Type,
			Channel:  ev.Channel.ID,
			Payload:  payload,
		}, nil
	case *slackevents.MemberJoinedChannelEvent:
		return Event{
			Category: CategoryMemberJoined,
			Type:     ev.Type,
			Channel:  ev.Channel,
			Payload:  payload,
		}, nil
	case *slackevents.ChannelRenameEvent:
		return Event{
			Category: CategoryChannelRename,
			Type:     ev.Type,
			Channel:  ev.Channel.ID,
			Payload:  payload,
		}, nil
	default:
		return sniffUnknown(inner.Type, payload), nil
	}
}

// messageCategory maps the channel_type field of a message event onto the
// message-family variant it arrived under. All variants share identical
// forwarding rules; the category is kept for logging and metrics.
func messageCategory(channelType string) Category {
	switch channelType {
	case "channel":
		return CategoryMessageChannels
	case "group":
		return CategoryMessageGroups
	case "im":
		return CategoryMessageIM
	case "mpim":
		return CategoryMessageMPIM
	default:
		return CategoryMessage
	}
}

// sniffUnknown builds a CategoryUnknown event, pulling the type tag and
// channel id out of the raw body if they exist. Message-shaped unknowns can
// still be forwarded downstream; everything else gets dropped there.
func sniffUnknown(innerType string, payload json.RawMessage) Event {
	var probe struct {
		Type    string `json:"type"`
		Channel string `json:"channel"`
	}
	_ = json.Unmarshal(payload, &probe)

	typ := probe.Type
	if typ == "" {
		typ = innerType
	}

	return Event{
		Category: CategoryUnknown,
		Type:     typ,
		Channel:  probe.Channel,
		Payload:  payload,
	}
}
