package gateway

import (
	"strings"
	"testing"

	"github.com/slack-go/slack/slackevents"
)

// ---------------------------------------------------------------------------
// Test: channel extraction per category
// ---------------------------------------------------------------------------

func TestFromCallback_ChannelExtraction(t *testing.T) {
	tests := []struct {
		name     string
		inner    slackevents.EventsAPIInnerEvent
		category Category
		typ      string
		channel  string
	}{
		{
			name: "public channel message",
			inner: slackevents.EventsAPIInnerEvent{
				Type: "message",
				Data: &slackevents.MessageEvent{Type: "message", Channel: "C100", ChannelType: "channel", Text: "hi"},
			},
			category: CategoryMessageChannels,
			typ:      "message",
			channel:  "C100",
		},
		{
			name: "direct message",
			inner: slackevents.EventsAPIInnerEvent{
				Type: "message",
				Data: &slackevents.MessageEvent{Type: "message", Channel: "D200", ChannelType: "im", Text: "psst"},
			},
			category: CategoryMessageIM,
			typ:      "message",
			channel:  "D200",
		},
		{
			name: "multi-party direct message",
			inner: slackevents.EventsAPIInnerEvent{
				Type: "message",
				Data: &slackevents.MessageEvent{Type: "message", Channel: "G300", ChannelType: "mpim"},
			},
			category: CategoryMessageMPIM,
			typ:      "message",
			channel:  "G300",
		},
		{
			name: "reaction added carries item channel",
			inner: slackevents.EventsAPIInnerEvent{
				Type: "reaction_added",
				Data: &slackevents.ReactionAddedEvent{
					Type:     "reaction_added",
					Reaction: "thumbsup",
					Item:     slackevents.Item{Type: "message", Channel: "C100"},
				},
			},
			category: CategoryReactionAdded,
			typ:      "reaction_added",
			channel:  "C100",
		},
		{
			name: "reaction removed carries item channel",
			inner: slackevents.EventsAPIInnerEvent{
				Type: "reaction_removed",
				Data: &slackevents.ReactionRemovedEvent{
					Type:     "reaction_removed",
					Reaction: "eyes",
					Item:     slackevents.Item{Type: "message", Channel: "C101"},
				},
			},
			category: CategoryReactionRemoved,
			typ:      "reaction_removed",
			channel:  "C101",
		},
		{
			name: "channel created",
			inner: slackevents.EventsAPIInnerEvent{
				Type: "channel_created",
				Data: &slackevents.ChannelCreatedEvent{
					Type:    "channel_created",
					Channel: slackevents.ChannelCreatedInfo{ID: "C900", Name: "new-room"},
				},
			},
			category: CategoryChannelCreated,
			typ:      "channel_created",
			channel:  "C900",
		},
		{
			name: "member joined channel",
			inner: slackevents.EventsAPIInnerEvent{
				Type: "member_joined_channel",
				Data: &slackevents.MemberJoinedChannelEvent{Type: "member_joined_channel", User: "U1", Channel: "C900"},
			},
			category: CategoryMemberJoined,
			typ:      "member_joined_channel",
			channel:  "C900",
		},
		{
			name: "channel rename",
			inner: slackevents.EventsAPIInnerEvent{
				Type: "channel_rename",
				Data: &slackevents.ChannelRenameEvent{
					Type:    "channel_rename",
					Channel: slackevents.ChannelRenameInfo{ID: "C900", Name: "renamed"},
				},
			},
			category: CategoryChannelRename,
			typ:      "channel_rename",
			channel:  "C900",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := FromCallback(tt.inner)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ev.Category != tt.category {
				t.Errorf("category: expected %s, got %s", tt.category, ev.Category)
			}
			if ev.Type != tt.typ {
				t.Errorf("type: expected %q, got %q", tt.typ, ev.Type)
			}
			if ev.Channel != tt.channel {
				t.Errorf("channel: expected %q, got %q", tt.channel, ev.Channel)
			}
			if len(ev.Payload) == 0 {
				t.Error("payload should be the passthrough event body")
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Test: payload passthrough keeps the original fields
// ---------------------------------------------------------------------------

func TestFromCallback_PayloadPassthrough(t *testing.T) {
	ev, err := FromCallback(slackevents.EventsAPIInnerEvent{
		Type: "message",
		Data: &slackevents.MessageEvent{Type: "message", Channel: "C1", Text: "hello there"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	body := string(ev.Payload)
	if !strings.Contains(body, `"C1"`) {
		t.Errorf("payload should contain the channel id, got %s", body)
	}
	if !strings.Contains(body, "hello there") {
		t.Errorf("payload should contain the message text, got %s", body)
	}
}

// ---------------------------------------------------------------------------
// Test: unrecognized inner types sniff the type tag and channel
// ---------------------------------------------------------------------------

func TestFromCallback_UnknownSniffing(t *testing.T) {
	// A message-shaped event arriving under an unregistered inner type.
	ev, err := FromCallback(slackevents.EventsAPIInnerEvent{
		Type: "some_new_event",
		Data: map[string]interface{}{"type": "message", "channel": "C5", "text": "hi"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Category != CategoryUnknown {
		t.Fatalf("expected unknown category, got %s", ev.Category)
	}
	if ev.Type != "message" || ev.Channel != "C5" {
		t.Errorf("expected sniffed type=message channel=C5, got type=%q channel=%q", ev.Type, ev.Channel)
	}

	// No body fields to sniff: fall back to the envelope's inner type.
	ev, err = FromCallback(slackevents.EventsAPIInnerEvent{
		Type: "team_joined",
		Data: map[string]interface{}{"user": "U1"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Type != "team_joined" || ev.Channel != "" {
		t.Errorf("expected type=team_joined channel empty, got type=%q channel=%q", ev.Type, ev.Channel)
	}
}
