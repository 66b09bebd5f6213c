// Package protocol defines the WebSocket message types exchanged between the
// relay and browser clients. All messages are JSON with a "type"
// discriminator; gateway events are forwarded with their original body
// untouched under the "payload" key.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeJoinChannel = "join-channel"
	TypePing        = "ping"
)

// Server -> Client message types. The six event names mirror the gateway
// vocabulary; the rest are session plumbing.
const (
	TypeMessage             = "message"
	TypeReactionAdded       = "reaction_added"
	TypeReactionRemoved     = "reaction_removed"
	TypeChannelCreated      = "channel_created"
	TypeMemberJoinedChannel = "member_joined_channel"
	TypeChannelRename       = "channel_rename"

	TypeSessionCreated = "session_created"
	TypeError          = "error"
	TypePong           = "pong"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the full raw bytes and extracts only the "type"
// field so the rest of the payload can be decoded later into the concrete
// struct for that type.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// JoinChannelMsg subscribes the sending session to a room. The channel id is
// client-declared and not validated against upstream channels.
type JoinChannelMsg struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// SessionCreatedMsg is sent when a new session is established.
type SessionCreatedMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// ErrorMsg communicates an error condition to the client.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// eventMsg is the outbound envelope for a forwarded gateway event. The
// payload is the original event body, re-emitted verbatim.
type eventMsg struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeJoinChannel:
		var m JoinChannelMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}

// NewEventMessage wraps a forwarded gateway event body in the outbound
// envelope. The payload bytes pass through unmodified.
func NewEventMessage(event string, payload json.RawMessage) ([]byte, error) {
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	out, err := json.Marshal(eventMsg{Type: event, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal %q event: %w", event, err)
	}
	return out, nil
}
