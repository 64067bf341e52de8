// Package forum provides PostgreSQL-backed storage for the discussion forum:
// categories, posts, replies, and their like counters.
package forum

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/letsgo/platform/internal/user"
)

// ErrNotFound is returned when a post does not exist.
var ErrNotFound = errors.New("forum: not found")

// Category groups forum posts by topic.
type Category struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Icon        string    `json:"icon,omitempty"`
	Color       string    `json:"color,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Post is a forum thread starter.
type Post struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"userId"`
	CategoryID int64     `json:"categoryId,omitempty"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	Likes      int       `json:"likes"`
	ReplyCount int       `json:"replyCount"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`

	User     *user.User `json:"user,omitempty"`
	Category *Category  `json:"category,omitempty"`
}

// Reply is a response within a forum thread.
type Reply struct {
	ID        int64     `json:"id"`
	PostID    int64     `json:"postId"`
	UserID    int64     `json:"userId"`
	Content   string    `json:"content"`
	Likes     int       `json:"likes"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	User *user.User `json:"user,omitempty"`
}

// Store manages forum content in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a new forum store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// ListCategories returns all categories ordered by name.
func (s *Store) ListCategories(ctx context.Context) ([]*Category, error) {
	const query = `
		SELECT id, name, COALESCE(description, ''), COALESCE(icon, ''), COALESCE(color, ''), created_at
		FROM forum_categories ORDER BY name ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("forum: list categories: %w", err)
	}
	defer rows.Close()

	categories := make([]*Category, 0)
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.Icon, &c.Color, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("forum: scan category: %w", err)
		}
		categories = append(categories, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("forum: rows: %w", err)
	}
	return categories, nil
}

// CreateCategory inserts a new category and returns it with the assigned ID.
func (s *Store) CreateCategory(ctx context.Context, c *Category) (*Category, error) {
	const query = `
		INSERT INTO forum_categories (name, description, icon, color)
		VALUES ($1, NULLIF($2,''), NULLIF($3,''), NULLIF($4,''))
		RETURNING id, created_at`

	out := *c
	err := s.db.QueryRowContext(ctx, query, c.Name, c.Description, c.Icon, c.Color).
		Scan(&out.ID, &out.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("forum: insert category: %w", err)
	}
	return &out, nil
}

// SeedDefaultCategories inserts the platform's default category set when the
// categories table is empty. It is safe to call on every startup.
func (s *Store) SeedDefaultCategories(ctx context.Context) error {
	existing, err := s.ListCategories(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	defaults := []*Category{
		{Name: "💡 Ideas & Feedback", Description: "Share your startup ideas and get feedback from the community", Icon: "💡", Color: "#3B82F6"},
		{Name: "🚀 Startup Stories", Description: "Share your entrepreneurial journey and milestones", Icon: "🚀", Color: "#10B981"},
		{Name: "💰 Fundraising", Description: "Discuss fundraising strategies, investor relations, and funding rounds", Icon: "💰", Color: "#F59E0B"},
		{Name: "🤝 Co-founder Search", Description: "Find your next co-founder or team member", Icon: "🤝", Color: "#8B5CF6"},
		{Name: "⚙️ Tech & Product", Description: "Technical discussions, product development, and best practices", Icon: "⚙️", Color: "#6B7280"},
	}
	for _, c := range defaults {
		if _, err := s.CreateCategory(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

const postColumns = `p.id, p.user_id, COALESCE(p.category_id, 0), p.title, p.content,
	p.likes, p.reply_count, p.created_at, p.updated_at,
	u.id, u.username, u.email, COALESCE(u.first_name, ''), COALESCE(u.last_name, ''),
	COALESCE(u.profile_image_url, ''),
	COALESCE(c.id, 0), COALESCE(c.name, ''), COALESCE(c.description, ''),
	COALESCE(c.icon, ''), COALESCE(c.color, '')`

func scanPost(scan func(dest ...interface{}) error) (*Post, error) {
	var (
		p Post
		u user.User
		c Category
	)
	err := scan(
		&p.ID, &p.UserID, &p.CategoryID, &p.Title, &p.Content,
		&p.Likes, &p.ReplyCount, &p.CreatedAt, &p.UpdatedAt,
		&u.ID, &u.Username, &u.Email, &u.FirstName, &u.LastName, &u.ProfileImageURL,
		&c.ID, &c.Name, &c.Description, &c.Icon, &c.Color)
	if err != nil {
		return nil, err
	}
	p.User = &u
	if c.ID != 0 {
		p.Category = &c
	}
	return &p, nil
}

// ListPosts returns posts with author and category, newest first. A non-zero
// categoryID restricts the result to that category.
func (s *Store) ListPosts(ctx context.Context, categoryID int64) ([]*Post, error) {
	query := `
		SELECT ` + postColumns + `
		FROM forum_posts p
		JOIN users u ON u.id = p.user_id
		LEFT JOIN forum_categories c ON c.id = p.category_id`

	var (
		rows *sql.Rows
		err  error
	)
	if categoryID != 0 {
		query += ` WHERE p.category_id = $1 ORDER BY p.created_at DESC`
		rows, err = s.db.QueryContext(ctx, query, categoryID)
	} else {
		query += ` ORDER BY p.created_at DESC`
		rows, err = s.db.QueryContext(ctx, query)
	}
	if err != nil {
		return nil, fmt.Errorf("forum: list posts: %w", err)
	}
	defer rows.Close()

	posts := make([]*Post, 0)
	for rows.Next() {
		p, err := scanPost(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("forum: scan post: %w", err)
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("forum: rows: %w", err)
	}
	return posts, nil
}

// CreatePost inserts a new post and returns it with the assigned ID.
func (s *Store) CreatePost(ctx context.Context, p *Post) (*Post, error) {
	const query = `
		INSERT INTO forum_posts (user_id, category_id, title, content)
		VALUES ($1, NULLIF($2, 0), $3, $4)
		RETURNING id, likes, reply_count, created_at, updated_at`

	out := *p
	err := s.db.QueryRowContext(ctx, query, p.UserID, p.CategoryID, p.Title, p.Content).
		Scan(&out.ID, &out.Likes, &out.ReplyCount, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("forum: insert post: %w", err)
	}
	return &out, nil
}

// GetPost returns a single post with author and category, or ErrNotFound.
func (s *Store) GetPost(ctx context.Context, id int64) (*Post, error) {
	query := `
		SELECT ` + postColumns + `
		FROM forum_posts p
		JOIN users u ON u.id = p.user_id
		LEFT JOIN forum_categories c ON c.id = p.category_id
		WHERE p.id = $1`

	p, err := scanPost(s.db.QueryRowContext(ctx, query, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("forum: get post: %w", err)
	}
	return p, nil
}

// ListReplies returns a post's replies with their authors, oldest first.
func (s *Store) ListReplies(ctx context.Context, postID int64) ([]*Reply, error) {
	const query = `
		SELECT r.id, r.post_id, r.user_id, r.content, r.likes, r.created_at, r.updated_at,
			u.id, u.username, u.email, COALESCE(u.first_name, ''), COALESCE(u.last_name, ''),
			COALESCE(u.profile_image_url, '')
		FROM forum_replies r
		JOIN users u ON u.id = r.user_id
		WHERE r.post_id = $1
		ORDER BY r.created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, postID)
	if err != nil {
		return nil, fmt.Errorf("forum: list replies: %w", err)
	}
	defer rows.Close()

	replies := make([]*Reply, 0)
	for rows.Next() {
		var (
			r Reply
			u user.User
		)
		err := rows.Scan(&r.ID, &r.PostID, &r.UserID, &r.Content, &r.Likes,
			&r.CreatedAt, &r.UpdatedAt,
			&u.ID, &u.Username, &u.Email, &u.FirstName, &u.LastName, &u.ProfileImageURL)
		if err != nil {
			return nil, fmt.Errorf("forum: scan reply: %w", err)
		}
		r.User = &u
		replies = append(replies, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("forum: rows: %w", err)
	}
	return replies, nil
}

// CreateReply inserts a reply and increments the parent post's reply counter
// in the same transaction.
func (s *Store) CreateReply(ctx context.Context, r *Reply) (*Reply, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("forum: begin: %w", err)
	}
	defer tx.Rollback()

	const insert = `
		INSERT INTO forum_replies (post_id, user_id, content)
		VALUES ($1, $2, $3)
		RETURNING id, likes, created_at, updated_at`

	out := *r
	err = tx.QueryRowContext(ctx, insert, r.PostID, r.UserID, r.Content).
		Scan(&out.ID, &out.Likes, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("forum: insert reply: %w", err)
	}

	const bump = `UPDATE forum_posts SET reply_count = reply_count + 1 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, bump, r.PostID); err != nil {
		return nil, fmt.Errorf("forum: bump reply count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("forum: commit: %w", err)
	}
	return &out, nil
}

// LikePost increments the like counter on a post.
func (s *Store) LikePost(ctx context.Context, postID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE forum_posts SET likes = likes + 1 WHERE id = $1`, postID)
	if err != nil {
		return fmt.Errorf("forum: like post: %w", err)
	}
	return affectedOrNotFound(res)
}

// LikeReply increments the like counter on a reply.
func (s *Store) LikeReply(ctx context.Context, replyID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE forum_replies SET likes = likes + 1 WHERE id = $1`, replyID)
	if err != nil {
		return fmt.Errorf("forum: like reply: %w", err)
	}
	return affectedOrNotFound(res)
}

func affectedOrNotFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("forum: rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
