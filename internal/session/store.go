// Package session manages authenticated API sessions backed by Redis. A
// session maps an opaque bearer token to a user ID with a sliding TTL.
// Credential verification and session issuance flows live outside this
// service; the store only resolves and maintains already-issued sessions.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// SessionPrefix is the Redis key prefix for all session hashes.
	SessionPrefix = "session:"

	// SessionTTL is the time-to-live for session keys in Redis. Touch
	// refreshes it, so active sessions slide forward.
	SessionTTL = 24 * time.Hour
)

// ErrNotFound is returned when a token does not resolve to a live session.
var ErrNotFound = errors.New("session: not found")

// Store manages session state in Redis.
type Store struct {
	client *redis.Client
}

// NewStore creates a new session store connected to Redis.
func NewStore(redisAddr string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	// Verify connection.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("session: redis connection failed: %w", err)
	}

	return &Store{client: client}, nil
}

// Client returns the underlying Redis client so other stores (rate limiter)
// can share the connection pool.
func (s *Store) Client() *redis.Client {
	return s.client
}

// Create issues a new session for the given user and returns the token.
func (s *Store) Create(ctx context.Context, userID int64) (string, error) {
	token := uuid.New().String()
	key := SessionPrefix + token
	now := time.Now().Unix()

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"user_id":     userID,
		"created_at":  now,
		"last_active": now,
	})
	pipe.Expire(ctx, key, SessionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("session: create: %w", err)
	}
	return token, nil
}

// Get resolves a token to the owning user ID, or ErrNotFound.
func (s *Store) Get(ctx context.Context, token string) (int64, error) {
	key := SessionPrefix + token
	userID, err := s.client.HGet(ctx, key, "user_id").Int64()
	if errors.Is(err, redis.Nil) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("session: get: %w", err)
	}
	return userID, nil
}

// Touch refreshes the session TTL and last-active timestamp.
func (s *Store) Touch(ctx context.Context, token string) error {
	key := SessionPrefix + token
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "last_active", time.Now().Unix())
	pipe.Expire(ctx, key, SessionTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Delete removes a session immediately.
func (s *Store) Delete(ctx context.Context, token string) error {
	return s.client.Del(ctx, SessionPrefix+token).Err()
}
