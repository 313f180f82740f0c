package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sna-ai/sna/internal/auth"
	"github.com/sna-ai/sna/internal/models"
	"github.com/sna-ai/sna/internal/scraper"
)

// FollowStore manages the platform-wide follow list.
type FollowStore interface {
	UpsertScraperFollow(ctx context.Context, username, reason, addedBy string) (*models.ScraperFollow, error)
	GetScraperFollow(ctx context.Context, username string) (*models.ScraperFollow, error)
	ListScraperFollows(ctx context.Context, activeOnly bool) ([]models.ScraperFollow, error)
	DeactivateScraperFollow(ctx context.Context, username string) (bool, error)
}

type FollowsHandler struct {
	follows FollowStore
	logger  *slog.Logger
}

func NewFollowsHandler(follows FollowStore, logger *slog.Logger) *FollowsHandler {
	return &FollowsHandler{follows: follows, logger: logger}
}

type followListResponse struct {
	Follows []models.ScraperFollow `json:"follows"`
	Count   int                    `json:"count"`
}

// List handles GET /api/admin/scraping/follows?active_only=.
func (h *FollowsHandler) List(w http.ResponseWriter, r *http.Request) {
	activeOnly, err := queryBool(r, "active_only", false)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	follows, err := h.follows.ListScraperFollows(r.Context(), activeOnly)
	if err != nil {
		h.logger.Error("failed to list scraper follows", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if follows == nil {
		follows = []models.ScraperFollow{}
	}
	writeJSON(w, http.StatusOK, followListResponse{Follows: follows, Count: len(follows)})
}

type followCreateRequest struct {
	Username string `json:"username"`
	Reason   string `json:"reason,omitempty"`
}

// Add handles POST /api/admin/scraping/follows. Re-adding a deactivated
// username reactivates it.
func (h *FollowsHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req followCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	username := strings.TrimPrefix(strings.TrimSpace(req.Username), "@")
	if !scraper.ValidUsername(username) {
		writeError(w, http.StatusUnprocessableEntity, "username must be a valid handle")
		return
	}

	follow, err := h.follows.UpsertScraperFollow(r.Context(), username, req.Reason, actor(r))
	if err != nil {
		h.logger.Error("failed to add scraper follow", "username", username, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.logger.Info("scraper follow added", "username", username, "added_by", follow.AddedBy)
	writeJSON(w, http.StatusOK, follow)
}

type followUpdateRequest struct {
	Reason   *string `json:"reason,omitempty"`
	IsActive *bool   `json:"is_active,omitempty"`
}

// Update handles PUT /api/admin/scraping/follows/{username}.
func (h *FollowsHandler) Update(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimPrefix(r.URL.Path, "/api/admin/scraping/follows/")

	var req followUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	existing, err := h.follows.GetScraperFollow(r.Context(), username)
	if err != nil {
		h.logger.Error("failed to get scraper follow", "username", username, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "Follow not found")
		return
	}

	reason := existing.Reason
	if req.Reason != nil {
		reason = *req.Reason
	}

	deactivate := req.IsActive != nil && !*req.IsActive
	if !deactivate || reason != existing.Reason {
		// Upsert reactivates and rewrites the reason in one statement.
		if _, err := h.follows.UpsertScraperFollow(r.Context(), username, reason, actor(r)); err != nil {
			h.logger.Error("failed to update scraper follow", "username", username, "error", err)
			writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
	}
	if deactivate {
		if _, err := h.follows.DeactivateScraperFollow(r.Context(), username); err != nil {
			h.logger.Error("failed to deactivate scraper follow", "username", username, "error", err)
			writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
	}

	updated, err := h.follows.GetScraperFollow(r.Context(), username)
	if err != nil || updated == nil {
		h.logger.Error("failed to reload scraper follow", "username", username, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.logger.Info("scraper follow updated", "username", username, "is_active", updated.IsActive)
	writeJSON(w, http.StatusOK, updated)
}

// Remove handles DELETE /api/admin/scraping/follows/{username}. Removal is
// a soft deactivate; tweet history stays.
func (h *FollowsHandler) Remove(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimPrefix(r.URL.Path, "/api/admin/scraping/follows/")

	deactivated, err := h.follows.DeactivateScraperFollow(r.Context(), username)
	if err != nil {
		h.logger.Error("failed to deactivate scraper follow", "username", username, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if !deactivated {
		writeError(w, http.StatusNotFound, "Follow not found")
		return
	}

	h.logger.Info("scraper follow removed", "username", username)
	w.WriteHeader(http.StatusNoContent)
}

// actor names the authenticated principal for audit columns.
func actor(r *http.Request) string {
	if identity, ok := auth.GetIdentity(r.Context()); ok {
		return identity.Email
	}
	return ""
}
