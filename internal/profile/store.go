// Package profile provides PostgreSQL-backed storage for extended member
// profiles, the public directory entries layered over user accounts. It backs
// the member directory listing and its case-insensitive substring search.
package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/letsgo/platform/internal/user"
)

// ErrNotFound is returned when a user has no profile.
var ErrNotFound = errors.New("profile: not found")

// Profile is a member's extended directory profile.
type Profile struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"userId"`
	Title      string    `json:"title,omitempty"`
	Bio        string    `json:"bio,omitempty"`
	Company    string    `json:"company,omitempty"`
	Industry   string    `json:"industry,omitempty"`
	Stage      string    `json:"stage,omitempty"`
	Location   string    `json:"location,omitempty"`
	Website    string    `json:"website,omitempty"`
	LinkedIn   string    `json:"linkedin,omitempty"`
	Twitter    string    `json:"twitter,omitempty"`
	LookingFor string    `json:"lookingFor,omitempty"`
	Skills     []string  `json:"skills,omitempty"`
	IsActive   bool      `json:"isActive"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`

	// User is the profile owner, populated on directory reads.
	User *user.User `json:"user,omitempty"`
}

// Input holds the client-supplied profile fields for create and update.
type Input struct {
	Title      string   `json:"title"`
	Bio        string   `json:"bio"`
	Company    string   `json:"company"`
	Industry   string   `json:"industry"`
	Stage      string   `json:"stage"`
	Location   string   `json:"location"`
	Website    string   `json:"website"`
	LinkedIn   string   `json:"linkedin"`
	Twitter    string   `json:"twitter"`
	LookingFor string   `json:"lookingFor"`
	Skills     []string `json:"skills"`
}

// Store manages member profiles in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a new profile store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const profileColumns = `p.id, p.user_id,
	COALESCE(p.title, ''), COALESCE(p.bio, ''), COALESCE(p.company, ''),
	COALESCE(p.industry, ''), COALESCE(p.stage, ''), COALESCE(p.location, ''),
	COALESCE(p.website, ''), COALESCE(p.linkedin, ''), COALESCE(p.twitter, ''),
	COALESCE(p.looking_for, ''), COALESCE(p.skills, '{}'), p.is_active,
	p.created_at, p.updated_at`

const ownerColumns = `u.id, u.username, u.email,
	COALESCE(u.first_name, ''), COALESCE(u.last_name, ''), COALESCE(u.profile_image_url, '')`

// Get returns the profile for the given user, or ErrNotFound.
func (s *Store) Get(ctx context.Context, userID int64) (*Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM member_profiles p WHERE p.user_id = $1`

	var p Profile
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&p.ID, &p.UserID, &p.Title, &p.Bio, &p.Company, &p.Industry, &p.Stage,
		&p.Location, &p.Website, &p.LinkedIn, &p.Twitter, &p.LookingFor,
		pq.Array(&p.Skills), &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("profile: get: %w", err)
	}
	return &p, nil
}

// Upsert creates the user's profile or updates it in place when one already
// exists, returning the stored row.
func (s *Store) Upsert(ctx context.Context, userID int64, in *Input) (*Profile, error) {
	const query = `
		INSERT INTO member_profiles
			(user_id, title, bio, company, industry, stage, location,
			 website, linkedin, twitter, looking_for, skills)
		VALUES ($1, NULLIF($2,''), NULLIF($3,''), NULLIF($4,''), NULLIF($5,''),
			NULLIF($6,''), NULLIF($7,''), NULLIF($8,''), NULLIF($9,''),
			NULLIF($10,''), NULLIF($11,''), $12)
		ON CONFLICT (user_id) DO UPDATE SET
			title = EXCLUDED.title, bio = EXCLUDED.bio, company = EXCLUDED.company,
			industry = EXCLUDED.industry, stage = EXCLUDED.stage,
			location = EXCLUDED.location, website = EXCLUDED.website,
			linkedin = EXCLUDED.linkedin, twitter = EXCLUDED.twitter,
			looking_for = EXCLUDED.looking_for, skills = EXCLUDED.skills,
			updated_at = now()`

	_, err := s.db.ExecContext(ctx, query, userID,
		in.Title, in.Bio, in.Company, in.Industry, in.Stage, in.Location,
		in.Website, in.LinkedIn, in.Twitter, in.LookingFor, pq.Array(in.Skills))
	if err != nil {
		return nil, fmt.Errorf("profile: upsert: %w", err)
	}

	return s.Get(ctx, userID)
}

// ListActive returns all active profiles with their owners, newest first.
func (s *Store) ListActive(ctx context.Context) ([]*Profile, error) {
	query := `
		SELECT ` + profileColumns + `, ` + ownerColumns + `
		FROM member_profiles p
		JOIN users u ON u.id = p.user_id
		WHERE p.is_active = TRUE
		ORDER BY p.created_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("profile: list: %w", err)
	}
	defer rows.Close()

	return collectProfiles(rows)
}

// Search returns active profiles whose title, bio, company, industry, or
// owner's first/last name contains the query, case-insensitively. Results are
// newest first; there is no relevance ranking.
func (s *Store) Search(ctx context.Context, q string) ([]*Profile, error) {
	query := `
		SELECT ` + profileColumns + `, ` + ownerColumns + `
		FROM member_profiles p
		JOIN users u ON u.id = p.user_id
		WHERE p.is_active = TRUE AND (
			p.title ILIKE $1 OR p.bio ILIKE $1 OR p.company ILIKE $1 OR
			p.industry ILIKE $1 OR u.first_name ILIKE $1 OR u.last_name ILIKE $1
		)
		ORDER BY p.created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, "%"+q+"%")
	if err != nil {
		return nil, fmt.Errorf("profile: search: %w", err)
	}
	defer rows.Close()

	return collectProfiles(rows)
}

func collectProfiles(rows *sql.Rows) ([]*Profile, error) {
	profiles := make([]*Profile, 0)
	for rows.Next() {
		var p Profile
		var u user.User
		err := rows.Scan(
			&p.ID, &p.UserID, &p.Title, &p.Bio, &p.Company, &p.Industry, &p.Stage,
			&p.Location, &p.Website, &p.LinkedIn, &p.Twitter, &p.LookingFor,
			pq.Array(&p.Skills), &p.IsActive, &p.CreatedAt, &p.UpdatedAt,
			&u.ID, &u.Username, &u.Email, &u.FirstName, &u.LastName, &u.ProfileImageURL)
		if err != nil {
			return nil, fmt.Errorf("profile: scan: %w", err)
		}
		p.User = &u
		profiles = append(profiles, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("profile: rows: %w", err)
	}
	return profiles, nil
}
