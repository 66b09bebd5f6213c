package relay

import (
	"encoding/json"
	"testing"

	"github.com/opsdash/slack-relay/internal/gateway"
)

// ---------------------------------------------------------------------------
// Test: each non-message category produces exactly one broadcast with the
// matching outbound name
// ---------------------------------------------------------------------------

func TestNormalize_CategoryCoverage(t *testing.T) {
	tests := []struct {
		name  string
		ev    gateway.Event
		event string
	}{
		{
			name:  "reaction added",
			ev:    gateway.Event{Category: gateway.CategoryReactionAdded, Type: "reaction_added", Channel: "C1"},
			event: EventReactionAdded,
		},
		{
			name:  "reaction removed",
			ev:    gateway.Event{Category: gateway.CategoryReactionRemoved, Type: "reaction_removed", Channel: "C1"},
			event: EventReactionRemoved,
		},
		{
			name:  "channel created",
			ev:    gateway.Event{Category: gateway.CategoryChannelCreated, Type: "channel_created", Channel: "C9"},
			event: EventChannelCreated,
		},
		{
			name:  "member joined channel",
			ev:    gateway.Event{Category: gateway.CategoryMemberJoined, Type: "member_joined_channel", Channel: "C9"},
			event: EventMemberJoinedChannel,
		},
		{
			name:  "channel rename",
			ev:    gateway.Event{Category: gateway.CategoryChannelRename, Type: "channel_rename", Channel: "C9"},
			event: EventChannelRename,
		},
		{
			name:  "catch-all with message body",
			ev:    gateway.Event{Category: gateway.CategoryUnknown, Type: "message", Channel: "C5"},
			event: EventMessage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, ok := Normalize(tt.ev)
			if !ok {
				t.Fatalf("expected a broadcast for %s", tt.ev.Category)
			}
			if msg.Event != tt.event {
				t.Errorf("expected event %q, got %q", tt.event, msg.Event)
			}
			if msg.Room != "" {
				t.Errorf("expected global scope, got room %q", msg.Room)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Test: every message-family variant forwards under the same rule
// ---------------------------------------------------------------------------

func TestNormalize_MessageFamily(t *testing.T) {
	payload := json.RawMessage(`{"type":"message","channel":"C1","text":"hi"}`)
	for _, cat := range []gateway.Category{
		gateway.CategoryMessage,
		gateway.CategoryMessageChannels,
		gateway.CategoryMessageGroups,
		gateway.CategoryMessageIM,
		gateway.CategoryMessageMPIM,
	} {
		msg, ok := Normalize(gateway.Event{Category: cat, Type: "message", Channel: "C1", Payload: payload})
		if !ok {
			t.Errorf("%s: expected a broadcast", cat)
			continue
		}
		if msg.Event != EventMessage {
			t.Errorf("%s: expected event %q, got %q", cat, EventMessage, msg.Event)
		}
	}
}

// ---------------------------------------------------------------------------
// Test: message-family events failing the guard are never forwarded
// ---------------------------------------------------------------------------

func TestNormalize_MessageFiltering(t *testing.T) {
	tests := []struct {
		name string
		ev   gateway.Event
	}{
		{
			name: "missing channel",
			ev:   gateway.Event{Category: gateway.CategoryMessage, Type: "message", Channel: ""},
		},
		{
			name: "non-message inner type",
			ev:   gateway.Event{Category: gateway.CategoryMessageChannels, Type: "channel_join", Channel: "C1"},
		},
		{
			name: "reaction without channel reference",
			ev:   gateway.Event{Category: gateway.CategoryReactionAdded, Type: "reaction_added", Channel: ""},
		},
		{
			name: "unknown and not message-shaped",
			ev:   gateway.Event{Category: gateway.CategoryUnknown, Type: "team_joined", Channel: ""},
		},
		{
			name: "unknown message type without channel",
			ev:   gateway.Event{Category: gateway.CategoryUnknown, Type: "message", Channel: ""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if msg, ok := Normalize(tt.ev); ok {
				t.Errorf("expected drop, got broadcast %q", msg.Event)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Test: the payload passes through the normalizer untouched
// ---------------------------------------------------------------------------

func TestNormalize_PayloadPassthrough(t *testing.T) {
	payload := json.RawMessage(`{"type":"message","channel":"C1","text":"hello","ts":"1700000000.000100"}`)
	msg, ok := Normalize(gateway.Event{
		Category: gateway.CategoryMessageChannels,
		Type:     "message",
		Channel:  "C1",
		Payload:  payload,
	})
	if !ok {
		t.Fatal("expected a broadcast")
	}
	if string(msg.Payload) != string(payload) {
		t.Errorf("payload modified: %s", msg.Payload)
	}
}
