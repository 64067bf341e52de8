// Package chat provides PostgreSQL-backed storage for the chat room's message
// history. Messages are read back enriched with their author's display
// identity; the hub treats author IDs as opaque foreign keys and never
// touches user rows itself.
package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// HistoryLimit is the maximum number of messages delivered to a freshly
// joined client.
const HistoryLimit = 100

// ErrNotFound is returned when a message ID does not exist.
var ErrNotFound = errors.New("chat: message not found")

// Message is a persisted chat message joined with its author's identity.
type Message struct {
	ID              int64
	UserID          int64
	Username        string
	FirstName       string
	LastName        string
	ProfileImageURL string
	Body            string
	CreatedAt       time.Time
}

// Store manages chat messages in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a new chat store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const messageColumns = `m.id, m.user_id, u.username,
	COALESCE(u.first_name, ''), COALESCE(u.last_name, ''), COALESCE(u.profile_image_url, ''),
	m.message, m.created_at`

// Recent returns the most recent messages up to limit, ordered oldest-first,
// each enriched with its author's identity.
func (s *Store) Recent(ctx context.Context, limit int) ([]*Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM chat_messages m
		JOIN users u ON u.id = m.user_id
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT $1`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("chat: recent: %w", err)
	}
	defer rows.Close()

	messages := make([]*Message, 0)
	for rows.Next() {
		var m Message
		err := rows.Scan(&m.ID, &m.UserID, &m.Username,
			&m.FirstName, &m.LastName, &m.ProfileImageURL,
			&m.Body, &m.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("chat: scan: %w", err)
		}
		messages = append(messages, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chat: rows: %w", err)
	}

	// The query fetches newest-first to apply the limit; flip to oldest-first
	// for delivery.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// Append persists a new chat message and returns its store-assigned ID.
func (s *Store) Append(ctx context.Context, userID int64, body string) (int64, error) {
	const query = `
		INSERT INTO chat_messages (user_id, message)
		VALUES ($1, $2)
		RETURNING id`

	var id int64
	if err := s.db.QueryRowContext(ctx, query, userID, body).Scan(&id); err != nil {
		return 0, fmt.Errorf("chat: insert: %w", err)
	}
	return id, nil
}

// GetWithAuthor returns a single message enriched with its author's identity,
// or ErrNotFound.
func (s *Store) GetWithAuthor(ctx context.Context, id int64) (*Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM chat_messages m
		JOIN users u ON u.id = m.user_id
		WHERE m.id = $1`

	var m Message
	err := s.db.QueryRowContext(ctx, query, id).Scan(&m.ID, &m.UserID, &m.Username,
		&m.FirstName, &m.LastName, &m.ProfileImageURL, &m.Body, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("chat: get: %w", err)
	}
	return &m, nil
}
