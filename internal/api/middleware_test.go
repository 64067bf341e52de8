package api

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"standard", "Bearer abc123", "abc123"},
		{"lowercase scheme", "bearer abc123", "abc123"},
		{"missing header", "", ""},
		{"wrong scheme", "Basic abc123", ""},
		{"scheme only", "Bearer ", ""},
		{"no space", "Bearerabc123", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/chat/messages", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			if got := bearerToken(r); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestRequestUserID(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if id := requestUserID(r); id != 0 {
		t.Errorf("expected 0 for unauthenticated request, got %d", id)
	}

	r = r.WithContext(context.WithValue(r.Context(), userIDKey, int64(42)))
	if id := requestUserID(r); id != 42 {
		t.Errorf("expected 42, got %d", id)
	}
}

func TestStatusRecorder(t *testing.T) {
	rec := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: rec, status: http.StatusOK}

	sr.WriteHeader(http.StatusNotFound)
	if sr.status != http.StatusNotFound {
		t.Errorf("expected recorded status 404, got %d", sr.status)
	}
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected propagated status 404, got %d", rec.Code)
	}
}

// hijackRecorder is a hijack-capable response writer for exercising the
// pass-through the WebSocket upgrade relies on.
type hijackRecorder struct {
	*httptest.ResponseRecorder
	hijacked bool
}

func (h *hijackRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h.hijacked = true
	server, _ := net.Pipe()
	return server, bufio.NewReadWriter(bufio.NewReader(server), bufio.NewWriter(server)), nil
}

func TestStatusRecorderHijack(t *testing.T) {
	inner := &hijackRecorder{ResponseRecorder: httptest.NewRecorder()}
	sr := &statusRecorder{ResponseWriter: inner, status: http.StatusOK}

	// The recorder must satisfy http.Hijacker or upgrade handlers behind the
	// instrumentation middleware cannot take over the connection.
	var _ http.Hijacker = sr

	conn, rw, err := sr.Hijack()
	if err != nil {
		t.Fatalf("unexpected hijack error: %v", err)
	}
	defer conn.Close()
	if rw == nil {
		t.Error("expected a buffered read-writer")
	}
	if !inner.hijacked {
		t.Error("expected hijack to delegate to the underlying writer")
	}

	// A plain recorder cannot hijack; the error must surface, not panic.
	plain := &statusRecorder{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}
	if _, _, err := plain.Hijack(); err == nil {
		t.Error("expected error when the underlying writer cannot hijack")
	}
}
