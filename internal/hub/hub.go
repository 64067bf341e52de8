// Package hub implements the chat room's presence and broadcast core. It
// tracks which authenticated identities are currently connected, relays chat
// messages to all of them in real time, and bridges persisted history to
// newly joined clients.
//
// Each connection moves through a small state machine: it starts unjoined,
// becomes joined once a join request associates it with a user identity, and
// is cleaned up on disconnect. Only joined connections may send messages.
package hub

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/letsgo/platform/internal/chat"
	"github.com/letsgo/platform/internal/messaging"
	"github.com/letsgo/platform/internal/metrics"
	"github.com/letsgo/platform/internal/protocol"
)

// Store is the persistence collaborator the hub requires. The hub never
// touches user records itself; enrichment with author identity is the
// store's job.
type Store interface {
	// Recent returns up to limit enriched messages, oldest-first.
	Recent(ctx context.Context, limit int) ([]*chat.Message, error)
	// Append persists a new message and returns its assigned ID.
	Append(ctx context.Context, userID int64, body string) (int64, error)
	// GetWithAuthor returns a single message enriched with author identity.
	GetWithAuthor(ctx context.Context, id int64) (*chat.Message, error)
}

// Sender pushes serialized events to a connection by ID. It is satisfied by
// the ws transport; delivery is best-effort and failures are the transport's
// concern, not the hub's.
type Sender interface {
	SendMessage(connID string, data []byte) error
}

// member is a connected identity: the volatile view layered over a persisted
// user for the duration of one joined connection.
type member struct {
	connID string
	info   protocol.UserInfo
}

// Hub maintains the live presence set and fans chat events out to it. All
// presence mutation is confined to the hub's own request-handling path and
// guarded by a single mutex.
type Hub struct {
	store  Store
	sender Sender
	events *messaging.Client // optional event backbone; nil-safe

	historyLimit int

	// mu guards the presence tables and every broadcast iteration, so an
	// add/remove during a broadcast cannot corrupt iteration or be lost.
	mu     sync.Mutex
	byConn map[string]*member // joined connections, keyed by connection ID
	byUser map[string]*member // presence set: at most one entry per userId

	// sendMu serializes persist+broadcast for sendMessage so that all
	// clients observe message events in store write order.
	sendMu sync.Mutex
}

// New creates a Hub using the given message store and transport sender. The
// events client may be nil; the hub then runs without the event backbone.
func New(store Store, sender Sender, events *messaging.Client) *Hub {
	return &Hub{
		store:        store,
		sender:       sender,
		events:       events,
		historyLimit: chat.HistoryLimit,
		byConn:       make(map[string]*member),
		byUser:       make(map[string]*member),
	}
}

// HandleJoin registers a connection under the supplied user identity. The
// joining connection receives the chat history and the presence snapshot, in
// that order, before any broadcast triggered by this join can reach it; then
// a userJoined event is broadcast to the whole room. A later join for the
// same userId replaces the earlier presence entry rather than duplicating it.
func (h *Hub) HandleJoin(ctx context.Context, connID string, u protocol.UserInfo) {
	if u.UserID == "" {
		h.sendError(connID, "join requires a userId")
		return
	}

	// Fetch history before touching presence. The store call is the only
	// suspension point; other connections' events proceed meanwhile.
	history, err := h.store.Recent(ctx, h.historyLimit)
	if err != nil {
		log.Printf("hub: failed to load chat history for conn=%s: %v", connID, err)
		history = nil
	}

	joined, err := protocol.NewServerMessage(protocol.TypeUserJoined, protocol.UserJoinedMsg{User: u})
	if err != nil {
		log.Printf("hub: failed to build userJoined event: %v", err)
		return
	}

	h.mu.Lock()
	m := &member{connID: connID, info: u}
	h.byConn[connID] = m
	h.byUser[u.UserID] = m

	// History first, snapshot second. Both go to the joiner only, on its
	// serialized send path, so it sees them before any subsequent broadcast.
	if history != nil {
		h.sendTo(connID, protocol.TypeChatHistory, protocol.ChatHistoryMsg{
			Messages: wireMessages(history),
		})
	}
	h.sendTo(connID, protocol.TypeOnlineUsers, protocol.OnlineUsersMsg{
		Users: h.snapshotLocked(),
	})

	// The joiner receives its own join echo as well; redundant with the
	// snapshot it just got, but kept because clients observe it.
	h.broadcastLocked(joined)
	online := len(h.byUser)
	h.mu.Unlock()

	metrics.OnlineUsers.Set(float64(online))
	log.Printf("hub: user joined userId=%s username=%s conn=%s (online=%d)",
		u.UserID, u.Username, connID, online)

	h.publish((*messaging.Client).PublishPresenceJoined, u)
}

// HandleSendMessage validates, persists, and broadcasts a chat message from
// the given connection. Messages from connections that have not joined are
// rejected with an error event. Persist and broadcast are serialized so that
// every client observes message events in the order the store accepted them.
func (h *Hub) HandleSendMessage(ctx context.Context, connID string, text string) {
	h.mu.Lock()
	m, joined := h.byConn[connID]
	h.mu.Unlock()
	if !joined {
		h.sendError(connID, "Not authenticated")
		return
	}

	if err := chat.ValidateMessage(text); err != nil {
		metrics.ChatMessagesTotal.WithLabelValues("rejected").Inc()
		h.sendError(connID, err.Error())
		return
	}

	authorID, err := strconv.ParseInt(m.info.UserID, 10, 64)
	if err != nil {
		metrics.ChatMessagesTotal.WithLabelValues("rejected").Inc()
		h.sendError(connID, "Failed to send message")
		return
	}

	h.sendMu.Lock()
	defer h.sendMu.Unlock()

	id, err := h.store.Append(ctx, authorID, text)
	if err != nil {
		log.Printf("hub: failed to persist message from userId=%s: %v", m.info.UserID, err)
		metrics.ChatMessagesTotal.WithLabelValues("failed").Inc()
		h.sendError(connID, "Failed to send message")
		return
	}

	enriched, err := h.store.GetWithAuthor(ctx, id)
	if err != nil {
		log.Printf("hub: failed to enrich message id=%d: %v", id, err)
		metrics.ChatMessagesTotal.WithLabelValues("failed").Inc()
		h.sendError(connID, "Failed to send message")
		return
	}

	wire := wireMessage(enriched)
	data, err := protocol.NewServerMessage(protocol.TypeMessage, protocol.MessageMsg{Message: wire})
	if err != nil {
		log.Printf("hub: failed to build message event id=%d: %v", id, err)
		return
	}

	h.mu.Lock()
	h.broadcastLocked(data)
	h.mu.Unlock()

	metrics.ChatMessagesTotal.WithLabelValues("sent").Inc()
	h.publish((*messaging.Client).PublishChatMessage, wire)
}

// HandleDisconnect removes the connection's identity from the presence set
// and broadcasts a userLeft event. Disconnecting a connection that never
// joined, or whose presence entry was already replaced by a newer join, is a
// no-op with no broadcast.
func (h *Hub) HandleDisconnect(connID string) {
	h.mu.Lock()
	m, ok := h.byConn[connID]
	if ok {
		delete(h.byConn, connID)
	}

	// Only the connection that owns the presence entry releases it. A stale
	// connection closing after a rejoin must not evict the fresh entry.
	left := ok && h.byUser[m.info.UserID] == m
	if left {
		delete(h.byUser, m.info.UserID)

		data, err := protocol.NewServerMessage(protocol.TypeUserLeft, protocol.UserLeftMsg{
			UserID: m.info.UserID,
		})
		if err != nil {
			log.Printf("hub: failed to build userLeft event: %v", err)
		} else {
			h.broadcastLocked(data)
		}
	}
	online := len(h.byUser)
	h.mu.Unlock()

	if !left {
		return
	}

	metrics.OnlineUsers.Set(float64(online))
	log.Printf("hub: user left userId=%s conn=%s (online=%d)", m.info.UserID, connID, online)

	h.publish((*messaging.Client).PublishPresenceLeft, protocol.UserLeftMsg{UserID: m.info.UserID})
}

// Announce broadcasts an operator announcement to every connected client.
func (h *Hub) Announce(text string) {
	data, err := protocol.NewServerMessage(protocol.TypeAnnouncement, protocol.AnnouncementMsg{
		Message: text,
	})
	if err != nil {
		log.Printf("hub: failed to build announcement: %v", err)
		return
	}

	h.mu.Lock()
	h.broadcastLocked(data)
	h.mu.Unlock()
}

// OnlineCount returns the number of identities currently present.
func (h *Hub) OnlineCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.byUser)
}

// broadcastLocked pushes data to every identity in the presence set.
// Best-effort, at most once per recipient: a recipient whose transport is not
// writable is skipped silently and does not abort delivery to others. Callers
// must hold h.mu.
func (h *Hub) broadcastLocked(data []byte) {
	start := time.Now()
	for _, m := range h.byUser {
		if err := h.sender.SendMessage(m.connID, data); err != nil {
			// Dead or slow recipient; the transport reaps it separately.
			continue
		}
	}
	metrics.BroadcastLatency.Observe(time.Since(start).Seconds())
}

// snapshotLocked returns the current presence set as wire identities.
// Callers must hold h.mu.
func (h *Hub) snapshotLocked() []protocol.UserInfo {
	users := make([]protocol.UserInfo, 0, len(h.byUser))
	for _, m := range h.byUser {
		users = append(users, m.info)
	}
	return users
}

// sendTo builds a server message and pushes it to a single connection.
func (h *Hub) sendTo(connID string, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("hub: failed to build %s event: %v", msgType, err)
		return
	}
	if err := h.sender.SendMessage(connID, data); err != nil {
		log.Printf("hub: failed to send %s to conn=%s: %v", msgType, connID, err)
	}
}

// sendError delivers an error event to the offending connection only. The
// connection stays open; the hub never forcibly closes connections.
func (h *Hub) sendError(connID string, message string) {
	h.sendTo(connID, protocol.TypeError, protocol.ErrorMsg{Message: message})
}

// publish marshals payload and sends it through the event backbone using fn.
// Failures are logged and otherwise ignored; the backbone is best-effort.
func (h *Hub) publish(fn func(*messaging.Client, []byte) error, payload interface{}) {
	if h.events == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("hub: failed to marshal event payload: %v", err)
		return
	}
	if err := fn(h.events, data); err != nil {
		log.Printf("hub: failed to publish event: %v", err)
	}
}

// wireMessage converts a stored message to its wire representation:
// stringified IDs and an ISO-8601 UTC timestamp.
func wireMessage(m *chat.Message) protocol.ChatMessage {
	return protocol.ChatMessage{
		ID:              strconv.FormatInt(m.ID, 10),
		UserID:          strconv.FormatInt(m.UserID, 10),
		Username:        m.Username,
		FirstName:       m.FirstName,
		LastName:        m.LastName,
		ProfileImageURL: m.ProfileImageURL,
		Message:         m.Body,
		Timestamp:       m.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
}

func wireMessages(msgs []*chat.Message) []protocol.ChatMessage {
	out := make([]protocol.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, wireMessage(m))
	}
	return out
}
