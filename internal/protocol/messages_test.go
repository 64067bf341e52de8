package protocol

import (
	"encoding/json"
	"testing"
)

func TestParseClientMessageJoin(t *testing.T) {
	data := []byte(`{"type":"join","user":{"userId":"42","username":"alice","firstName":"Alice"}}`)

	msgType, msg, err := ParseClientMessage(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeJoin {
		t.Fatalf("expected type %q, got %q", TypeJoin, msgType)
	}

	join, ok := msg.(JoinMsg)
	if !ok {
		t.Fatalf("expected JoinMsg, got %T", msg)
	}
	if join.User.UserID != "42" || join.User.Username != "alice" || join.User.FirstName != "Alice" {
		t.Errorf("unexpected user payload: %+v", join.User)
	}
}

func TestParseClientMessageSendMessage(t *testing.T) {
	data := []byte(`{"type":"sendMessage","message":"hello there"}`)

	msgType, msg, err := ParseClientMessage(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeSendMessage {
		t.Fatalf("expected type %q, got %q", TypeSendMessage, msgType)
	}

	send, ok := msg.(SendMessageMsg)
	if !ok {
		t.Fatalf("expected SendMessageMsg, got %T", msg)
	}
	if send.Message != "hello there" {
		t.Errorf("expected message %q, got %q", "hello there", send.Message)
	}
}

func TestParseClientMessagePing(t *testing.T) {
	msgType, msg, err := ParseClientMessage([]byte(`{"type":"ping"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypePing {
		t.Fatalf("expected type %q, got %q", TypePing, msgType)
	}
	if _, ok := msg.(PingMsg); !ok {
		t.Fatalf("expected PingMsg, got %T", msg)
	}
}

func TestParseClientMessageUnknownType(t *testing.T) {
	msgType, _, err := ParseClientMessage([]byte(`{"type":"selfDestruct"}`))
	if err == nil {
		t.Fatal("expected error for unknown type")
	}
	// The type is still reported so callers can answer with an error event.
	if msgType != "selfDestruct" {
		t.Errorf("expected reported type %q, got %q", "selfDestruct", msgType)
	}
}

func TestParseClientMessageMalformed(t *testing.T) {
	cases := map[string][]byte{
		"invalid json": []byte(`{"type":`),
		"missing type": []byte(`{"message":"hi"}`),
		"empty type":   []byte(`{"type":""}`),
		"not an object": []byte(`"join"`),
	}

	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			msgType, _, err := ParseClientMessage(data)
			if err == nil {
				t.Fatal("expected error")
			}
			if msgType != "" {
				t.Errorf("expected empty type, got %q", msgType)
			}
		})
	}
}

func TestEnvelopeKeepsRawPayload(t *testing.T) {
	data := []byte(`{"type":"sendMessage","message":"raw"}`)

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.Type != TypeSendMessage {
		t.Errorf("expected type %q, got %q", TypeSendMessage, env.Type)
	}
	if string(env.Raw) != string(data) {
		t.Errorf("expected raw payload preserved, got %s", env.Raw)
	}
}

func TestNewServerMessageInjectsType(t *testing.T) {
	data, err := NewServerMessage(TypeUserLeft, UserLeftMsg{UserID: "7"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if m["type"] != TypeUserLeft {
		t.Errorf("expected type %q, got %v", TypeUserLeft, m["type"])
	}
	if m["userId"] != "7" {
		t.Errorf("expected userId %q, got %v", "7", m["userId"])
	}
}

func TestNewServerMessageOverridesPayloadType(t *testing.T) {
	// A payload carrying a stale type field must not leak through.
	data, err := NewServerMessage(TypePong, PongMsg{Type: "something-else"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if m["type"] != TypePong {
		t.Errorf("expected type %q, got %v", TypePong, m["type"])
	}
}

func TestChatMessageOmitsEmptyOptionalFields(t *testing.T) {
	data, err := json.Marshal(ChatMessage{
		ID:        "1",
		UserID:    "2",
		Username:  "alice",
		Message:   "hi",
		Timestamp: "2025-01-02T03:04:05.000Z",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	for _, field := range []string{"firstName", "lastName", "profileImageUrl"} {
		if _, present := m[field]; present {
			t.Errorf("expected %s to be omitted when empty", field)
		}
	}
}
