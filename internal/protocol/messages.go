// Package protocol defines the WebSocket message types and structures used for
// communication between the chat client and server. All messages are serialized
// as JSON and follow a consistent envelope format with a type discriminator.
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
	TypeJoin        = "join"
	TypeSendMessage = "sendMessage"
	TypePing        = "ping"
)

// Server -> Client message types.
const (
	TypeChatHistory  = "chatHistory"
	TypeOnlineUsers  = "onlineUsers"
	TypeUserJoined   = "userJoined"
	TypeUserLeft     = "userLeft"
	TypeMessage      = "message"
	TypeAnnouncement = "announcement"
	TypeError        = "error"
	TypePong         = "pong"
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

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	// Capture the full raw message for deferred parsing.
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	// Extract only the type field.
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
// Shared payload structs
// ---------------------------------------------------------------------------

// UserInfo carries the public identity fields a client supplies at join time
// and that the server echoes in presence events. FirstName and LastName are
// optional and omitted from the wire when empty.
type UserInfo struct {
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
}

// ChatMessage is a persisted chat message enriched with its author's display
// identity, as delivered to clients. IDs are stringified and the timestamp is
// ISO-8601, matching what the web client expects.
type ChatMessage struct {
	ID              string `json:"id"`
	UserID          string `json:"userId"`
	Username        string `json:"username"`
	FirstName       string `json:"firstName,omitempty"`
	LastName        string `json:"lastName,omitempty"`
	ProfileImageURL string `json:"profileImageUrl,omitempty"`
	Message         string `json:"message"`
	Timestamp       string `json:"timestamp"`
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// JoinMsg is sent by the client to associate its connection with a user
// identity and enter the chat room.
type JoinMsg struct {
	Type string   `json:"type"`
	User UserInfo `json:"user"`
}

// SendMessageMsg is sent by the client to post a chat message to the room.
type SendMessageMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// ChatHistoryMsg delivers the recent chat history to a freshly joined client,
// oldest message first.
type ChatHistoryMsg struct {
	Type     string        `json:"type"`
	Messages []ChatMessage `json:"messages"`
}

// OnlineUsersMsg delivers the current presence snapshot to a freshly joined
// client.
type OnlineUsersMsg struct {
	Type  string     `json:"type"`
	Users []UserInfo `json:"users"`
}

// UserJoinedMsg is broadcast to the room when a user joins.
type UserJoinedMsg struct {
	Type string   `json:"type"`
	User UserInfo `json:"user"`
}

// UserLeftMsg is broadcast to the room when a user disconnects.
type UserLeftMsg struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

// MessageMsg is broadcast to the room when a chat message has been persisted.
type MessageMsg struct {
	Type    string      `json:"type"`
	Message ChatMessage `json:"message"`
}

// AnnouncementMsg is broadcast to the room when an operator-issued
// announcement arrives over the messaging backbone.
type AnnouncementMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ErrorMsg is sent by the server to the offending connection only, to
// communicate a protocol violation or a failed request.
type ErrorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
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
	case TypeJoin:
		var m JoinMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSendMessage:
		var m SendMessageMsg
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
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the *Msg structs above; this function marshals it to JSON,
// injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	// Marshal the payload struct to a generic map so we can ensure the "type"
	// field is present and correct.
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
