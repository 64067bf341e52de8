package api

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gobwasws "github.com/gobwas/ws"

	"github.com/letsgo/platform/internal/ws"
)

// TestRouterUpgradesWebSocket mounts the WebSocket upgrade handler on the
// instrumented router exactly as the server entry point does, and performs a
// real handshake against it. The instrumentation middleware wraps the response
// writer, so this covers the hijack pass-through end to end.
func TestRouterUpgradesWebSocket(t *testing.T) {
	s := NewServer(nil, nil, nil, nil, nil, nil, nil, nil)
	router := s.Router()

	wsServer := ws.NewServer(ws.DefaultServerConfig(), nil)
	if err := wsServer.Start(); err != nil {
		t.Fatalf("failed to start transport: %v", err)
	}
	defer wsServer.Shutdown()

	router.HandleFunc("/ws", wsServer.HandleUpgrade)

	srv := httptest.NewServer(router)
	defer srv.Close()

	url := "ws://" + strings.TrimPrefix(srv.URL, "http://") + "/ws"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Dial performs the full 101 Switching Protocols handshake; any other
	// status fails here.
	conn, _, _, err := gobwasws.Dial(ctx, url)
	if err != nil {
		t.Fatalf("websocket handshake through router failed: %v", err)
	}
	defer conn.Close()

	// The handler registers the connection after writing the handshake
	// response, so poll briefly.
	deadline := time.Now().Add(2 * time.Second)
	for wsServer.Connections().Count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := wsServer.Connections().Count(); n != 1 {
		t.Fatalf("expected 1 registered connection, got %d", n)
	}
}
