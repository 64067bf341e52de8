package ws

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/gobwas/ws/wsutil"

	"github.com/letsgo/platform/internal/protocol"
)

// newPipeConnection returns a Connection backed by one end of an in-memory
// pipe and the client end for reading the frames the server writes.
func newPipeConnection(id string) (*Connection, net.Conn) {
	server, client := net.Pipe()
	conn := &Connection{
		ID:        id,
		Conn:      server,
		CreatedAt: time.Now(),
		LastPing:  time.Now(),
	}
	return conn, client
}

// dispatchAndRead dispatches payload and returns the single frame written in
// response, decoded as a JSON object.
func dispatchAndRead(t *testing.T, d *MessageDispatcher, conn *Connection, client net.Conn, payload string) map[string]interface{} {
	t.Helper()

	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		data, err := wsutil.ReadServerText(client)
		ch <- result{data, err}
	}()

	d.Dispatch(conn, []byte(payload))

	select {
	case r := <-ch:
		if r.err != nil {
			t.Fatalf("failed to read response frame: %v", r.err)
		}
		var m map[string]interface{}
		if err := json.Unmarshal(r.data, &m); err != nil {
			t.Fatalf("response is not valid JSON: %v", err)
		}
		return m
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for response frame")
		return nil
	}
}

func TestDispatchRoutesToHandler(t *testing.T) {
	d := NewMessageDispatcher()
	conn, client := newPipeConnection("conn-1")
	defer conn.Close()
	defer client.Close()

	var got interface{}
	d.Register(protocol.TypeJoin, func(c *Connection, msg interface{}) {
		if c.ID != "conn-1" {
			t.Errorf("expected conn-1, got %s", c.ID)
		}
		got = msg
	})

	d.Dispatch(conn, []byte(`{"type":"join","user":{"userId":"1","username":"alice"}}`))

	join, ok := got.(protocol.JoinMsg)
	if !ok {
		t.Fatalf("expected JoinMsg, got %T", got)
	}
	if join.User.UserID != "1" || join.User.Username != "alice" {
		t.Errorf("unexpected payload: %+v", join.User)
	}
}

func TestDispatchPingAnswersWithPong(t *testing.T) {
	d := NewMessageDispatcher()
	conn, client := newPipeConnection("conn-1")
	defer conn.Close()
	defer client.Close()

	conn.LastPing = time.Time{}

	m := dispatchAndRead(t, d, conn, client, `{"type":"ping"}`)
	if m["type"] != protocol.TypePong {
		t.Errorf("expected pong, got %v", m["type"])
	}
	if conn.LastPing.IsZero() {
		t.Error("expected LastPing to be refreshed")
	}
}

func TestDispatchUnsupportedType(t *testing.T) {
	d := NewMessageDispatcher()
	conn, client := newPipeConnection("conn-1")
	defer conn.Close()
	defer client.Close()

	m := dispatchAndRead(t, d, conn, client, `{"type":"teleport"}`)
	if m["type"] != protocol.TypeError {
		t.Errorf("expected error event, got %v", m["type"])
	}
	if m["message"] != "unsupported message type" {
		t.Errorf("unexpected error message: %v", m["message"])
	}
}

func TestDispatchUnregisteredType(t *testing.T) {
	d := NewMessageDispatcher()
	conn, client := newPipeConnection("conn-1")
	defer conn.Close()
	defer client.Close()

	// A valid client type with no registered handler gets the same error.
	m := dispatchAndRead(t, d, conn, client, `{"type":"sendMessage","message":"hi"}`)
	if m["type"] != protocol.TypeError {
		t.Errorf("expected error event, got %v", m["type"])
	}
}

func TestDispatchMalformedFrameIsDropped(t *testing.T) {
	d := NewMessageDispatcher()
	conn, client := newPipeConnection("conn-1")
	defer conn.Close()
	defer client.Close()

	for _, payload := range []string{`{"type":`, `{"message":"hi"}`, `42`} {
		done := make(chan struct{})
		go func() {
			d.Dispatch(conn, []byte(payload))
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("dispatch blocked writing a response for %q", payload)
		}
	}

	// Nothing was written for any of the dropped frames.
	client.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	if _, err := wsutil.ReadServerText(client); err == nil {
		t.Error("expected no response frames for dropped input")
	}
}
