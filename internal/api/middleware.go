package api

import (
	"bufio"
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/letsgo/platform/internal/metrics"
	"github.com/letsgo/platform/internal/ratelimit"
	"github.com/letsgo/platform/internal/session"
)

type contextKey string

// userIDKey carries the authenticated user's ID through the request context.
const userIDKey contextKey = "userID"

// requireAuth resolves the bearer token against the session store and rejects
// the request with 401 when it does not map to a live session. On success the
// user ID is placed in the request context and the session TTL is refreshed.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			respondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		userID, err := s.sessions.Get(r.Context(), token)
		if errors.Is(err, session.ErrNotFound) {
			respondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		if err != nil {
			log.Printf("api: session lookup failed: %v", err)
			respondError(w, http.StatusInternalServerError, "Failed to authenticate")
			return
		}

		if err := s.sessions.Touch(r.Context(), token); err != nil {
			log.Printf("api: session touch failed: %v", err)
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next(w, r.WithContext(ctx))
	}
}

// rateLimited throttles write endpoints per authenticated user. It must wrap
// a handler already behind requireAuth. The limiter fails open on Redis
// errors, so an outage never blocks writes.
func (s *Server) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil {
			id := strconv.FormatInt(requestUserID(r), 10)
			allowed, _ := s.limiter.Allow(r.Context(), id, ratelimit.RuleForumWrite)
			if !allowed {
				respondError(w, http.StatusTooManyRequests, "Too many requests")
				return
			}
		}
		next(w, r)
	}
}

// instrument counts requests per route template and status class.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		metrics.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	})
}

// requestUserID returns the authenticated user ID from the request context,
// or zero when the request is unauthenticated.
func requestUserID(r *http.Request) int64 {
	id, _ := r.Context().Value(userIDKey).(int64)
	return id
}

// bearerToken extracts the token from an "Authorization: Bearer ..." header.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return h[len(prefix):]
	}
	return ""
}

// statusRecorder captures the response status for instrumentation.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack delegates to the underlying writer so that the WebSocket upgrade
// handler keeps working behind the instrumentation middleware.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("api: underlying writer does not support hijacking")
	}
	return hj.Hijack()
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
