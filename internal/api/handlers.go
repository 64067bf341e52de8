package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/letsgo/platform/internal/forum"
	"github.com/letsgo/platform/internal/profile"
	"github.com/letsgo/platform/internal/user"
)

// handleGetUser returns the authenticated user's account together with their
// member profile, when one exists.
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)

	u, err := s.users.GetByID(r.Context(), userID)
	if errors.Is(err, user.ErrNotFound) {
		respondError(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		log.Printf("api: fetch user %d: %v", userID, err)
		respondError(w, http.StatusInternalServerError, "Failed to fetch user")
		return
	}

	p, err := s.profiles.Get(r.Context(), userID)
	if err != nil && !errors.Is(err, profile.ErrNotFound) {
		log.Printf("api: fetch profile %d: %v", userID, err)
		respondError(w, http.StatusInternalServerError, "Failed to fetch user")
		return
	}

	respondJSON(w, http.StatusOK, struct {
		*user.User
		Profile *profile.Profile `json:"profile,omitempty"`
	}{User: u, Profile: p})
}

// handleUpsertProfile creates or updates the authenticated user's member
// profile and returns the stored row.
func (s *Server) handleUpsertProfile(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)

	var in profile.Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid profile data")
		return
	}

	p, err := s.profiles.Upsert(r.Context(), userID, &in)
	if err != nil {
		log.Printf("api: upsert profile %d: %v", userID, err)
		respondError(w, http.StatusInternalServerError, "Failed to save profile")
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// handleListProfiles returns the member directory, optionally filtered by a
// case-insensitive substring search.
func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	var (
		profiles []*profile.Profile
		err      error
	)
	if q := strings.TrimSpace(r.URL.Query().Get("search")); q != "" {
		profiles, err = s.profiles.Search(r.Context(), q)
	} else {
		profiles, err = s.profiles.ListActive(r.Context())
	}
	if err != nil {
		log.Printf("api: list profiles: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to fetch profiles")
		return
	}
	respondJSON(w, http.StatusOK, profiles)
}

// handleListCategories returns all forum categories.
func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.forums.ListCategories(r.Context())
	if err != nil {
		log.Printf("api: list categories: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to fetch categories")
		return
	}
	respondJSON(w, http.StatusOK, categories)
}

// handleListPosts returns forum posts, optionally restricted to a category.
func (s *Server) handleListPosts(w http.ResponseWriter, r *http.Request) {
	var categoryID int64
	if v := r.URL.Query().Get("categoryId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid categoryId")
			return
		}
		categoryID = id
	}

	posts, err := s.forums.ListPosts(r.Context(), categoryID)
	if err != nil {
		log.Printf("api: list posts: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to fetch posts")
		return
	}
	respondJSON(w, http.StatusOK, posts)
}

// handleCreatePost creates a forum post authored by the authenticated user
// and publishes a creation event on the backbone.
func (s *Server) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)

	var in struct {
		CategoryID int64  `json:"categoryId"`
		Title      string `json:"title"`
		Content    string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid post data")
		return
	}
	if strings.TrimSpace(in.Title) == "" || strings.TrimSpace(in.Content) == "" {
		respondError(w, http.StatusBadRequest, "Invalid post data")
		return
	}

	post, err := s.forums.CreatePost(r.Context(), &forum.Post{
		UserID:     userID,
		CategoryID: in.CategoryID,
		Title:      in.Title,
		Content:    in.Content,
	})
	if err != nil {
		log.Printf("api: create post by %d: %v", userID, err)
		respondError(w, http.StatusInternalServerError, "Failed to create post")
		return
	}

	if s.events != nil {
		if data, err := json.Marshal(post); err == nil {
			if err := s.events.PublishForumPost(data); err != nil {
				log.Printf("api: publish forum post event: %v", err)
			}
		}
	}

	respondJSON(w, http.StatusOK, post)
}

// handleGetPost returns a single post with its author and category.
func (s *Server) handleGetPost(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)

	post, err := s.forums.GetPost(r.Context(), id)
	if errors.Is(err, forum.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Post not found")
		return
	}
	if err != nil {
		log.Printf("api: get post %d: %v", id, err)
		respondError(w, http.StatusInternalServerError, "Failed to fetch post")
		return
	}
	respondJSON(w, http.StatusOK, post)
}

// handleListReplies returns a post's replies, oldest first.
func (s *Server) handleListReplies(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)

	replies, err := s.forums.ListReplies(r.Context(), id)
	if err != nil {
		log.Printf("api: list replies for %d: %v", id, err)
		respondError(w, http.StatusInternalServerError, "Failed to fetch replies")
		return
	}
	respondJSON(w, http.StatusOK, replies)
}

// handleCreateReply adds a reply to a post, bumping its reply counter.
func (s *Server) handleCreateReply(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	postID := pathID(r)

	var in struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid reply data")
		return
	}
	if strings.TrimSpace(in.Content) == "" {
		respondError(w, http.StatusBadRequest, "Invalid reply data")
		return
	}

	reply, err := s.forums.CreateReply(r.Context(), &forum.Reply{
		PostID:  postID,
		UserID:  userID,
		Content: in.Content,
	})
	if err != nil {
		log.Printf("api: create reply by %d on %d: %v", userID, postID, err)
		respondError(w, http.StatusInternalServerError, "Failed to create reply")
		return
	}
	respondJSON(w, http.StatusOK, reply)
}

// handleLikePost increments a post's like counter.
func (s *Server) handleLikePost(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)

	err := s.forums.LikePost(r.Context(), id)
	if errors.Is(err, forum.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Post not found")
		return
	}
	if err != nil {
		log.Printf("api: like post %d: %v", id, err)
		respondError(w, http.StatusInternalServerError, "Failed to like post")
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleLikeReply increments a reply's like counter.
func (s *Server) handleLikeReply(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)

	err := s.forums.LikeReply(r.Context(), id)
	if errors.Is(err, forum.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Reply not found")
		return
	}
	if err != nil {
		log.Printf("api: like reply %d: %v", id, err)
		respondError(w, http.StatusInternalServerError, "Failed to like reply")
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// pathID parses the {id} path variable. Routes constrain it to digits, so a
// parse failure cannot normally happen.
func pathID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id
}
