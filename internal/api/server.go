// Package api implements the platform's REST surface: the member directory,
// the discussion forum, and the current-user endpoint. Chat is not served
// here; it lives on the WebSocket transport.
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/letsgo/platform/internal/forum"
	"github.com/letsgo/platform/internal/messaging"
	"github.com/letsgo/platform/internal/metrics"
	"github.com/letsgo/platform/internal/profile"
	"github.com/letsgo/platform/internal/ratelimit"
	"github.com/letsgo/platform/internal/session"
	"github.com/letsgo/platform/internal/user"
)

// Server bundles the stores and collaborators the REST handlers need.
type Server struct {
	users     *user.Store
	profiles  *profile.Store
	forums    *forum.Store
	sessions  *session.Store
	limiter   *ratelimit.Limiter
	events    *messaging.Client // optional; nil-safe
	startedAt time.Time

	// health data sources, injected so the handler has no transport import
	connectionCount func() int
	onlineCount     func() int
}

// NewServer creates the REST server. The connectionCount and onlineCount
// callbacks feed the health endpoint; either may be nil.
func NewServer(
	users *user.Store,
	profiles *profile.Store,
	forums *forum.Store,
	sessions *session.Store,
	limiter *ratelimit.Limiter,
	events *messaging.Client,
	connectionCount, onlineCount func() int,
) *Server {
	return &Server{
		users:           users,
		profiles:        profiles,
		forums:          forums,
		sessions:        sessions,
		limiter:         limiter,
		events:          events,
		startedAt:       time.Now(),
		connectionCount: connectionCount,
		onlineCount:     onlineCount,
	}
}

// Router builds the gorilla/mux router with all API routes mounted.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.instrument)

	r.HandleFunc("/api/user", s.requireAuth(s.handleGetUser)).Methods(http.MethodGet)

	r.HandleFunc("/api/profiles", s.requireAuth(s.rateLimited(s.handleUpsertProfile))).Methods(http.MethodPost)
	r.HandleFunc("/api/profiles", s.handleListProfiles).Methods(http.MethodGet)

	r.HandleFunc("/api/forum/categories", s.handleListCategories).Methods(http.MethodGet)
	r.HandleFunc("/api/forum/posts", s.handleListPosts).Methods(http.MethodGet)
	r.HandleFunc("/api/forum/posts", s.requireAuth(s.rateLimited(s.handleCreatePost))).Methods(http.MethodPost)
	r.HandleFunc("/api/forum/posts/{id:[0-9]+}", s.handleGetPost).Methods(http.MethodGet)
	r.HandleFunc("/api/forum/posts/{id:[0-9]+}/replies", s.handleListReplies).Methods(http.MethodGet)
	r.HandleFunc("/api/forum/posts/{id:[0-9]+}/replies", s.requireAuth(s.rateLimited(s.handleCreateReply))).Methods(http.MethodPost)
	r.HandleFunc("/api/forum/posts/{id:[0-9]+}/like", s.requireAuth(s.handleLikePost)).Methods(http.MethodPost)
	r.HandleFunc("/api/forum/replies/{id:[0-9]+}/like", s.requireAuth(s.handleLikeReply)).Methods(http.MethodPost)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	return r
}

// handleHealth responds with the server's health status as JSON, including
// connection and presence counts and uptime. Load balancers poll it.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Online      int    `json:"online"`
		Uptime      string `json:"uptime"`
	}{
		Status: "ok",
		Uptime: time.Since(s.startedAt).Round(time.Second).String(),
	}
	if s.connectionCount != nil {
		resp.Connections = s.connectionCount()
	}
	if s.onlineCount != nil {
		resp.Online = s.onlineCount()
	}

	respondJSON(w, http.StatusOK, resp)
}

// respondJSON writes a JSON response body with the given status code.
func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: failed to encode response: %v", err)
	}
}

// respondError writes a JSON error body: {"message": "..."}.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"message": message})
}
