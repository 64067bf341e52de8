// Package user provides PostgreSQL-backed storage for platform user accounts.
// The chat hub and the HTTP API treat user IDs as opaque foreign keys; this
// package is the single place that reads and writes the users table.
package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when no user matches the lookup key.
var ErrNotFound = errors.New("user: not found")

// User is a registered member of the platform. Password holds the stored
// credential hash and is never serialized to JSON.
type User struct {
	ID              int64     `json:"id"`
	Username        string    `json:"username"`
	Email           string    `json:"email"`
	Password        string    `json:"-"`
	FirstName       string    `json:"firstName,omitempty"`
	LastName        string    `json:"lastName,omitempty"`
	ProfileImageURL string    `json:"profileImageUrl,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Store manages user accounts in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a new user store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const userColumns = `id, username, email, password,
	COALESCE(first_name, ''), COALESCE(last_name, ''), COALESCE(profile_image_url, ''),
	created_at, updated_at`

func scanUser(row *sql.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.Password,
		&u.FirstName, &u.LastName, &u.ProfileImageURL,
		&u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user: scan: %w", err)
	}
	return &u, nil
}

// GetByID returns the user with the given ID, or ErrNotFound.
func (s *Store) GetByID(ctx context.Context, id int64) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(s.db.QueryRowContext(ctx, query, id))
}

// GetByUsername returns the user with the given username, or ErrNotFound.
func (s *Store) GetByUsername(ctx context.Context, username string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1`
	return scanUser(s.db.QueryRowContext(ctx, query, username))
}

// GetByEmail returns the user with the given email address, or ErrNotFound.
func (s *Store) GetByEmail(ctx context.Context, email string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(s.db.QueryRowContext(ctx, query, email))
}

// Create inserts a new user account and returns it with the store-assigned
// ID and timestamps filled in.
func (s *Store) Create(ctx context.Context, u *User) (*User, error) {
	const query = `
		INSERT INTO users (username, email, password, first_name, last_name, profile_image_url)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''))
		RETURNING id, created_at, updated_at`

	out := *u
	err := s.db.QueryRowContext(ctx, query,
		u.Username, u.Email, u.Password, u.FirstName, u.LastName, u.ProfileImageURL,
	).Scan(&out.ID, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("user: insert: %w", err)
	}
	return &out, nil
}
