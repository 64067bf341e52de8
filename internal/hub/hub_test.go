package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/letsgo/platform/internal/chat"
	"github.com/letsgo/platform/internal/protocol"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

// fakeStore is an in-memory message store. IDs are assigned monotonically and
// enrichment derives the author fields from the user ID.
type fakeStore struct {
	mu        sync.Mutex
	messages  []*chat.Message
	nextID    int64
	lastLimit int
	appendErr error
	recentErr error
	enrichErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{nextID: 1}
}

func (f *fakeStore) Recent(ctx context.Context, limit int) ([]*chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLimit = limit
	if f.recentErr != nil {
		return nil, f.recentErr
	}
	out := make([]*chat.Message, len(f.messages))
	copy(out, f.messages)
	return out, nil
}

func (f *fakeStore) Append(ctx context.Context, userID int64, body string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return 0, f.appendErr
	}
	id := f.nextID
	f.nextID++
	f.messages = append(f.messages, &chat.Message{
		ID:        id,
		UserID:    userID,
		Username:  fmt.Sprintf("user%d", userID),
		Body:      body,
		CreatedAt: time.Now(),
	})
	return id, nil
}

func (f *fakeStore) GetWithAuthor(ctx context.Context, id int64) (*chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enrichErr != nil {
		return nil, f.enrichErr
	}
	for _, m := range f.messages {
		if m.ID == id {
			return m, nil
		}
	}
	return nil, chat.ErrNotFound
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

// fakeSender records every frame pushed to each connection. Connections in
// the fail set reject writes, emulating a non-writable transport.
type fakeSender struct {
	mu     sync.Mutex
	frames map[string][][]byte
	fail   map[string]bool
}

func newFakeSender() *fakeSender {
	return &fakeSender{
		frames: make(map[string][][]byte),
		fail:   make(map[string]bool),
	}
}

func (f *fakeSender) SendMessage(connID string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[connID] {
		return errors.New("connection not writable")
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	f.frames[connID] = append(f.frames[connID], buf)
	return nil
}

// types returns the type discriminators of all frames sent to connID, in
// delivery order.
func (f *fakeSender) types(t *testing.T, connID string) []string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, 0, len(f.frames[connID]))
	for _, data := range f.frames[connID] {
		var env struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("frame is not valid JSON: %v", err)
		}
		out = append(out, env.Type)
	}
	return out
}

// framesOf returns the decoded frames of the given type sent to connID.
func (f *fakeSender) framesOf(t *testing.T, connID, msgType string) []map[string]interface{} {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]map[string]interface{}, 0)
	for _, data := range f.frames[connID] {
		var m map[string]interface{}
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("frame is not valid JSON: %v", err)
		}
		if m["type"] == msgType {
			out = append(out, m)
		}
	}
	return out
}

func countType(t *testing.T, s *fakeSender, connID, msgType string) int {
	t.Helper()
	return len(s.framesOf(t, connID, msgType))
}

func newTestHub() (*Hub, *fakeStore, *fakeSender) {
	store := newFakeStore()
	sender := newFakeSender()
	return New(store, sender, nil), store, sender
}

func join(h *Hub, connID, userID, username string) {
	h.HandleJoin(context.Background(), connID, protocol.UserInfo{
		UserID:   userID,
		Username: username,
	})
}

// ---------------------------------------------------------------------------
// Join
// ---------------------------------------------------------------------------

func TestJoinDeliveryOrder(t *testing.T) {
	h, store, sender := newTestHub()

	// Seed two historical messages.
	if _, err := store.Append(context.Background(), 7, "first"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := store.Append(context.Background(), 7, "second"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	join(h, "conn-1", "1", "alice")

	types := sender.types(t, "conn-1")
	want := []string{protocol.TypeChatHistory, protocol.TypeOnlineUsers, protocol.TypeUserJoined}
	if len(types) != len(want) {
		t.Fatalf("expected %d frames, got %d (%v)", len(want), len(types), types)
	}
	for i, w := range want {
		if types[i] != w {
			t.Errorf("frame %d: expected %q, got %q", i, w, types[i])
		}
	}

	// History is oldest-first.
	hist := sender.framesOf(t, "conn-1", protocol.TypeChatHistory)[0]
	msgs := hist["messages"].([]interface{})
	if len(msgs) != 2 {
		t.Fatalf("expected 2 history messages, got %d", len(msgs))
	}
	if body := msgs[0].(map[string]interface{})["message"]; body != "first" {
		t.Errorf("expected oldest message first, got %v", body)
	}

	if store.lastLimit != chat.HistoryLimit {
		t.Errorf("expected history limit %d, got %d", chat.HistoryLimit, store.lastLimit)
	}
}

func TestJoinWithoutUserID(t *testing.T) {
	h, _, sender := newTestHub()

	h.HandleJoin(context.Background(), "conn-1", protocol.UserInfo{Username: "ghost"})

	if n := countType(t, sender, "conn-1", protocol.TypeError); n != 1 {
		t.Fatalf("expected 1 error frame, got %d", n)
	}
	if n := h.OnlineCount(); n != 0 {
		t.Fatalf("expected empty presence set, got %d", n)
	}
}

func TestJoinBroadcastsToRoom(t *testing.T) {
	h, _, sender := newTestHub()

	join(h, "conn-1", "1", "alice")
	join(h, "conn-2", "2", "bob")

	// Both alice and bob see bob's join; the echo to the joiner is kept.
	if n := countType(t, sender, "conn-1", protocol.TypeUserJoined); n != 2 {
		t.Errorf("alice: expected 2 userJoined frames, got %d", n)
	}
	if n := countType(t, sender, "conn-2", protocol.TypeUserJoined); n != 1 {
		t.Errorf("bob: expected 1 userJoined frame, got %d", n)
	}
}

func TestJoinSurvivesHistoryFailure(t *testing.T) {
	h, store, sender := newTestHub()
	store.recentErr = errors.New("db down")

	join(h, "conn-1", "1", "alice")

	if n := h.OnlineCount(); n != 1 {
		t.Fatalf("expected join to register despite history failure, got online=%d", n)
	}
	if n := countType(t, sender, "conn-1", protocol.TypeChatHistory); n != 0 {
		t.Errorf("expected no chatHistory frame, got %d", n)
	}
	if n := countType(t, sender, "conn-1", protocol.TypeOnlineUsers); n != 1 {
		t.Errorf("expected onlineUsers frame, got %d", n)
	}
}

// ---------------------------------------------------------------------------
// Presence
// ---------------------------------------------------------------------------

func TestPresenceUniqueness(t *testing.T) {
	h, _, sender := newTestHub()

	join(h, "conn-1", "1", "alice")
	join(h, "conn-2", "1", "alice")

	if n := h.OnlineCount(); n != 1 {
		t.Fatalf("expected 1 presence entry after rejoin, got %d", n)
	}

	// A third party's snapshot contains alice exactly once.
	join(h, "conn-3", "2", "bob")
	snap := sender.framesOf(t, "conn-3", protocol.TypeOnlineUsers)[0]
	users := snap["users"].([]interface{})
	if len(users) != 2 {
		t.Fatalf("expected 2 users in snapshot, got %d", len(users))
	}
}

func TestStaleConnectionDisconnectKeepsPresence(t *testing.T) {
	h, _, sender := newTestHub()

	join(h, "conn-1", "1", "alice")
	join(h, "conn-2", "1", "alice") // replaces conn-1's entry
	join(h, "conn-3", "2", "bob")

	before := countType(t, sender, "conn-3", protocol.TypeUserLeft)

	// The stale connection closing must not evict the fresh entry.
	h.HandleDisconnect("conn-1")

	if n := h.OnlineCount(); n != 2 {
		t.Fatalf("expected presence to survive stale disconnect, got %d", n)
	}
	if n := countType(t, sender, "conn-3", protocol.TypeUserLeft); n != before {
		t.Errorf("expected no userLeft broadcast, got %d new", n-before)
	}

	h.HandleDisconnect("conn-2")
	if n := h.OnlineCount(); n != 1 {
		t.Fatalf("expected alice gone after real disconnect, got %d", n)
	}
	if n := countType(t, sender, "conn-3", protocol.TypeUserLeft); n != before+1 {
		t.Errorf("expected exactly one userLeft broadcast, got %d", n-before)
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	h, _, sender := newTestHub()

	join(h, "conn-1", "1", "alice")
	h.HandleDisconnect("never-joined")
	h.HandleDisconnect("conn-1")
	h.HandleDisconnect("conn-1") // already gone

	if n := h.OnlineCount(); n != 0 {
		t.Fatalf("expected empty presence set, got %d", n)
	}
	// No frames at all for the unknown connection.
	if n := len(sender.types(t, "never-joined")); n != 0 {
		t.Errorf("expected no frames for unknown connection, got %d", n)
	}
}

// ---------------------------------------------------------------------------
// sendMessage
// ---------------------------------------------------------------------------

func TestSendMessageRequiresJoin(t *testing.T) {
	h, store, sender := newTestHub()

	h.HandleSendMessage(context.Background(), "conn-1", "hello")

	errs := sender.framesOf(t, "conn-1", protocol.TypeError)
	if len(errs) != 1 {
		t.Fatalf("expected 1 error frame, got %d", len(errs))
	}
	if msg := errs[0]["message"]; msg != "Not authenticated" {
		t.Errorf("expected %q, got %v", "Not authenticated", msg)
	}
	if store.count() != 0 {
		t.Errorf("expected no persisted message, got %d", store.count())
	}
}

func TestSendMessageValidation(t *testing.T) {
	h, store, sender := newTestHub()
	join(h, "conn-1", "1", "alice")
	join(h, "conn-2", "2", "bob")

	for _, text := range []string{"", "   ", "\t\n"} {
		h.HandleSendMessage(context.Background(), "conn-1", text)
	}

	if n := countType(t, sender, "conn-1", protocol.TypeError); n != 3 {
		t.Errorf("expected 3 error frames, got %d", n)
	}
	if store.count() != 0 {
		t.Errorf("expected no persisted messages, got %d", store.count())
	}
	if n := countType(t, sender, "conn-2", protocol.TypeMessage); n != 0 {
		t.Errorf("expected no broadcast, got %d message frames", n)
	}
}

func TestBroadcastCompleteness(t *testing.T) {
	h, _, sender := newTestHub()
	join(h, "conn-1", "1", "alice")
	join(h, "conn-2", "2", "bob")
	join(h, "conn-3", "3", "carol")

	h.HandleSendMessage(context.Background(), "conn-2", "hello everyone")

	for _, connID := range []string{"conn-1", "conn-2", "conn-3"} {
		msgs := sender.framesOf(t, connID, protocol.TypeMessage)
		if len(msgs) != 1 {
			t.Fatalf("%s: expected exactly 1 message frame, got %d", connID, len(msgs))
		}
		body := msgs[0]["message"].(map[string]interface{})
		if body["message"] != "hello everyone" {
			t.Errorf("%s: unexpected body %v", connID, body["message"])
		}
		if body["userId"] != "2" {
			t.Errorf("%s: expected author userId \"2\", got %v", connID, body["userId"])
		}
	}
}

func TestBroadcastSkipsUnwritableRecipient(t *testing.T) {
	h, _, sender := newTestHub()
	join(h, "conn-1", "1", "alice")
	join(h, "conn-2", "2", "bob")
	sender.mu.Lock()
	sender.fail["conn-2"] = true
	sender.mu.Unlock()

	h.HandleSendMessage(context.Background(), "conn-1", "still here")

	if n := countType(t, sender, "conn-1", protocol.TypeMessage); n != 1 {
		t.Errorf("expected delivery to writable recipient, got %d frames", n)
	}
	// The sender gets no error about the dead recipient.
	if n := countType(t, sender, "conn-1", protocol.TypeError); n != 0 {
		t.Errorf("expected no error frame for sender, got %d", n)
	}
}

func TestSendMessagePersistenceFailure(t *testing.T) {
	h, store, sender := newTestHub()
	join(h, "conn-1", "1", "alice")
	join(h, "conn-2", "2", "bob")
	store.appendErr = errors.New("db down")

	h.HandleSendMessage(context.Background(), "conn-1", "lost")

	if n := countType(t, sender, "conn-1", protocol.TypeError); n != 1 {
		t.Errorf("expected error frame for sender, got %d", n)
	}
	if n := countType(t, sender, "conn-2", protocol.TypeMessage); n != 0 {
		t.Errorf("expected no partial broadcast, got %d", n)
	}
	// Presence is untouched by the failure.
	if n := h.OnlineCount(); n != 2 {
		t.Errorf("expected presence unchanged, got %d", n)
	}
}

func TestSendMessageEnrichFailure(t *testing.T) {
	h, store, sender := newTestHub()
	join(h, "conn-1", "1", "alice")
	store.enrichErr = errors.New("db down")

	h.HandleSendMessage(context.Background(), "conn-1", "half persisted")

	if n := countType(t, sender, "conn-1", protocol.TypeError); n != 1 {
		t.Errorf("expected error frame, got %d", n)
	}
	if n := countType(t, sender, "conn-1", protocol.TypeMessage); n != 0 {
		t.Errorf("expected no broadcast without enrichment, got %d", n)
	}
}

func TestMessageTotalOrder(t *testing.T) {
	h, _, sender := newTestHub()
	join(h, "conn-1", "1", "alice")
	join(h, "conn-2", "2", "bob")

	h.HandleSendMessage(context.Background(), "conn-1", "A")
	h.HandleSendMessage(context.Background(), "conn-2", "B")

	for _, connID := range []string{"conn-1", "conn-2"} {
		msgs := sender.framesOf(t, connID, protocol.TypeMessage)
		if len(msgs) != 2 {
			t.Fatalf("%s: expected 2 message frames, got %d", connID, len(msgs))
		}
		first := msgs[0]["message"].(map[string]interface{})["message"]
		second := msgs[1]["message"].(map[string]interface{})["message"]
		if first != "A" || second != "B" {
			t.Errorf("%s: expected order [A B], got [%v %v]", connID, first, second)
		}
	}
}

func TestConcurrentSendersAllDelivered(t *testing.T) {
	h, store, sender := newTestHub()

	const n = 8
	for i := 0; i < n; i++ {
		join(h, fmt.Sprintf("conn-%d", i), fmt.Sprintf("%d", i+1), fmt.Sprintf("u%d", i+1))
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h.HandleSendMessage(context.Background(), fmt.Sprintf("conn-%d", i), fmt.Sprintf("msg-%d", i))
		}(i)
	}
	wg.Wait()

	if store.count() != n {
		t.Fatalf("expected %d persisted messages, got %d", n, store.count())
	}

	// Every client observes every message exactly once and in the same order.
	reference := sender.framesOf(t, "conn-0", protocol.TypeMessage)
	if len(reference) != n {
		t.Fatalf("conn-0: expected %d message frames, got %d", n, len(reference))
	}
	for i := 1; i < n; i++ {
		connID := fmt.Sprintf("conn-%d", i)
		got := sender.framesOf(t, connID, protocol.TypeMessage)
		if len(got) != n {
			t.Fatalf("%s: expected %d message frames, got %d", connID, n, len(got))
		}
		for j := range got {
			refBody := reference[j]["message"].(map[string]interface{})["message"]
			gotBody := got[j]["message"].(map[string]interface{})["message"]
			if refBody != gotBody {
				t.Fatalf("%s: frame %d disagrees with conn-0: %v vs %v", connID, j, gotBody, refBody)
			}
		}
	}
}

// ---------------------------------------------------------------------------
// End-to-end scenario
// ---------------------------------------------------------------------------

func TestRoomScenario(t *testing.T) {
	h, _, sender := newTestHub()

	// X joins.
	join(h, "conn-x", "1", "alice")
	types := sender.types(t, "conn-x")
	if types[0] != protocol.TypeChatHistory || types[1] != protocol.TypeOnlineUsers {
		t.Fatalf("unexpected join delivery for X: %v", types)
	}
	snap := sender.framesOf(t, "conn-x", protocol.TypeOnlineUsers)[0]
	users := snap["users"].([]interface{})
	if len(users) != 1 || users[0].(map[string]interface{})["username"] != "alice" {
		t.Fatalf("unexpected snapshot for X: %v", users)
	}

	// Y joins; both see the userJoined for bob.
	join(h, "conn-y", "2", "bob")
	joinedX := sender.framesOf(t, "conn-x", protocol.TypeUserJoined)
	last := joinedX[len(joinedX)-1]["user"].(map[string]interface{})
	if last["userId"] != "2" || last["username"] != "bob" {
		t.Fatalf("X did not observe bob's join: %v", last)
	}
	if n := countType(t, sender, "conn-y", protocol.TypeUserJoined); n != 1 {
		t.Fatalf("Y: expected its own join echo, got %d frames", n)
	}

	// Y speaks; both receive the enriched message.
	h.HandleSendMessage(context.Background(), "conn-y", "hello")
	for _, connID := range []string{"conn-x", "conn-y"} {
		msgs := sender.framesOf(t, connID, protocol.TypeMessage)
		if len(msgs) != 1 {
			t.Fatalf("%s: expected 1 message frame, got %d", connID, len(msgs))
		}
		body := msgs[0]["message"].(map[string]interface{})
		if body["userId"] != "2" || body["message"] != "hello" {
			t.Fatalf("%s: unexpected message payload: %v", connID, body)
		}
		if _, ok := body["timestamp"].(string); !ok {
			t.Errorf("%s: expected string timestamp, got %T", connID, body["timestamp"])
		}
	}

	// X disconnects; Y observes the departure.
	h.HandleDisconnect("conn-x")
	left := sender.framesOf(t, "conn-y", protocol.TypeUserLeft)
	if len(left) != 1 || left[0]["userId"] != "1" {
		t.Fatalf("Y did not observe X leaving: %v", left)
	}
}

// ---------------------------------------------------------------------------
// Announcements
// ---------------------------------------------------------------------------

func TestAnnounceReachesRoom(t *testing.T) {
	h, _, sender := newTestHub()
	join(h, "conn-1", "1", "alice")
	join(h, "conn-2", "2", "bob")

	h.Announce("maintenance at noon")

	for _, connID := range []string{"conn-1", "conn-2"} {
		frames := sender.framesOf(t, connID, protocol.TypeAnnouncement)
		if len(frames) != 1 {
			t.Fatalf("%s: expected 1 announcement, got %d", connID, len(frames))
		}
		if frames[0]["message"] != "maintenance at noon" {
			t.Errorf("%s: unexpected announcement body: %v", connID, frames[0]["message"])
		}
	}
}
