package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/sna-ai/sna/internal/auth"
	"github.com/sna-ai/sna/internal/database"
	"github.com/sna-ai/sna/internal/models"
	"github.com/sna-ai/sna/internal/scraper"
)

// UserAccountStore is the account and credential surface for self-service
// endpoints. *database.UserRepository satisfies it.
type UserAccountStore interface {
	GetUserByID(ctx context.Context, id int) (*models.User, error)
	UpdatePassword(ctx context.Context, id int, passwordHash string) error
	CreateAPIKey(ctx context.Context, k *models.APIKey) error
	ListAPIKeys(ctx context.Context, userID int) ([]models.APIKey, error)
	DeleteAPIKey(ctx context.Context, userID, keyID int) (bool, error)
}

// UserFollowStore manages per-user follow subscriptions.
// *database.FollowRepository satisfies it.
type UserFollowStore interface {
	CreateUserFollow(ctx context.Context, f *models.UserFollow) error
	GetUserFollow(ctx context.Context, userID int, username string) (*models.UserFollow, error)
	ListUserFollows(ctx context.Context, userID int) ([]models.UserFollow, error)
	UpdateUserFollowPriority(ctx context.Context, userID int, username string, priority int) (bool, error)
	DeleteUserFollow(ctx context.Context, userID int, username string) (bool, error)
	GetScraperFollow(ctx context.Context, username string) (*models.ScraperFollow, error)
}

// FilterRuleStore manages per-user feed filter rules.
// *database.FilterRepository satisfies it.
type FilterRuleStore interface {
	Create(ctx context.Context, rule *models.FilterRule) error
	ListByUser(ctx context.Context, userID int) ([]models.FilterRule, error)
	CountByUser(ctx context.Context, userID int) (int, error)
	Delete(ctx context.Context, userID, ruleID int) (bool, error)
}

// UsersHandler serves the /api/users/me endpoints.
type UsersHandler struct {
	users   UserAccountStore
	follows UserFollowStore
	filters FilterRuleStore
	logger  *slog.Logger
}

// NewUsersHandler creates a new self-service user handler.
func NewUsersHandler(users UserAccountStore, follows UserFollowStore, filters FilterRuleStore, logger *slog.Logger) *UsersHandler {
	return &UsersHandler{users: users, follows: follows, filters: filters, logger: logger}
}

// requireIdentity pulls the authenticated identity from the request context,
// writing a 401 when the middleware did not attach one.
func requireIdentity(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	ident, ok := auth.GetIdentity(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
	}
	return ident, ok
}

// Me handles GET /api/users/me.
func (h *UsersHandler) Me(w http.ResponseWriter, r *http.Request) {
	ident, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	user, err := h.users.GetUserByID(r.Context(), ident.UserID)
	if err != nil {
		h.logger.Error("failed to load user", "user_id", ident.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type passwordChangeRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// ChangePassword handles PUT /api/users/me/password.
func (h *UsersHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	ident, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req passwordChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := ValidatePassword(req.NewPassword); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	user, err := h.users.GetUserByID(r.Context(), ident.UserID)
	if err != nil {
		h.logger.Error("failed to load user", "user_id", ident.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	if !auth.CheckPassword(req.CurrentPassword, user.PasswordHash) {
		writeError(w, http.StatusBadRequest, "Current password is incorrect")
		return
	}

	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		h.logger.Error("failed to hash password", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if err := h.users.UpdatePassword(r.Context(), ident.UserID, hash); err != nil {
		h.logger.Error("failed to update password", "user_id", ident.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.logger.Info("password changed", "user_id", ident.UserID)
	w.WriteHeader(http.StatusNoContent)
}

// ListAPIKeys handles GET /api/users/me/api-keys.
func (h *UsersHandler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	ident, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	keys, err := h.users.ListAPIKeys(r.Context(), ident.UserID)
	if err != nil {
		h.logger.Error("failed to list api keys", "user_id", ident.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if keys == nil {
		keys = []models.APIKey{}
	}
	writeJSON(w, http.StatusOK, apiKeyListResponse{APIKeys: keys, Count: len(keys)})
}

type apiKeyCreateRequest struct {
	Name string `json:"name"`
}

// CreateAPIKey handles POST /api/users/me/api-keys. The plaintext key is
// returned once and never stored.
func (h *UsersHandler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	ident, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req apiKeyCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, http.StatusUnprocessableEntity, "name is required")
		return
	}

	plaintext, keyHash, keyPrefix, err := auth.NewAPIKeyToken()
	if err != nil {
		h.logger.Error("failed to generate api key", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	key := &models.APIKey{
		UserID:    ident.UserID,
		Name:      name,
		KeyPrefix: keyPrefix,
		KeyHash:   keyHash,
	}
	if err := h.users.CreateAPIKey(r.Context(), key); err != nil {
		h.logger.Error("failed to create api key", "user_id", ident.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.logger.Info("api key created", "user_id", ident.UserID, "key_id", key.ID, "name", name)
	writeJSON(w, http.StatusOK, apiKeyCreatedResponse{APIKey: *key, Key: plaintext})
}

// DeleteAPIKey handles DELETE /api/users/me/api-keys/{id}.
func (h *UsersHandler) DeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	ident, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	keyID, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/api/users/me/api-keys/"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "key id must be an integer")
		return
	}

	deleted, err := h.users.DeleteAPIKey(r.Context(), ident.UserID, keyID)
	if err != nil {
		h.logger.Error("failed to delete api key", "user_id", ident.UserID, "key_id", keyID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "API key not found")
		return
	}

	h.logger.Info("api key deleted", "user_id", ident.UserID, "key_id", keyID)
	w.WriteHeader(http.StatusNoContent)
}

// ListFollows handles GET /api/users/me/follows.
func (h *UsersHandler) ListFollows(w http.ResponseWriter, r *http.Request) {
	ident, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	follows, err := h.follows.ListUserFollows(r.Context(), ident.UserID)
	if err != nil {
		h.logger.Error("failed to list user follows", "user_id", ident.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if follows == nil {
		follows = []models.UserFollow{}
	}
	writeJSON(w, http.StatusOK, userFollowListResponse{Follows: follows, Count: len(follows)})
}

type userFollowCreateRequest struct {
	Username string `json:"username"`
	Priority int    `json:"priority"`
}

// AddFollow handles POST /api/users/me/follows. The username must already be
// on the platform scrape list.
func (h *UsersHandler) AddFollow(w http.ResponseWriter, r *http.Request) {
	ident, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req userFollowCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	username := strings.TrimPrefix(strings.TrimSpace(req.Username), "@")
	if !scraper.ValidUsername(username) {
		writeError(w, http.StatusUnprocessableEntity, "username must be a valid handle")
		return
	}
	if req.Priority == 0 {
		req.Priority = models.DefaultFollowPriority
	}
	if err := ValidateFollowPriority(req.Priority); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	tracked, err := h.follows.GetScraperFollow(r.Context(), username)
	if err != nil {
		h.logger.Error("failed to check scrape list", "username", username, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if tracked == nil || !tracked.IsActive {
		writeError(w, http.StatusUnprocessableEntity,
			fmt.Sprintf("@%s is not on the platform follow list", username))
		return
	}

	follow := &models.UserFollow{
		UserID:   ident.UserID,
		Username: username,
		Priority: req.Priority,
	}
	if err := h.follows.CreateUserFollow(r.Context(), follow); err != nil {
		if database.IsUniqueViolation(err) {
			writeError(w, http.StatusConflict, "Already following this account")
			return
		}
		if database.IsForeignKeyViolation(err) {
			writeError(w, http.StatusNotFound, "User account not found")
			return
		}
		h.logger.Error("failed to create user follow", "user_id", ident.UserID, "username", username, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.logger.Info("user follow added", "user_id", ident.UserID, "username", username, "priority", follow.Priority)
	writeJSON(w, http.StatusOK, follow)
}

type userFollowUpdateRequest struct {
	Priority int `json:"priority"`
}

// UpdateFollow handles PUT /api/users/me/follows/{username}.
func (h *UsersHandler) UpdateFollow(w http.ResponseWriter, r *http.Request) {
	ident, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	username := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, "/api/users/me/follows/"), "@")

	var req userFollowUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := ValidateFollowPriority(req.Priority); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	updated, err := h.follows.UpdateUserFollowPriority(r.Context(), ident.UserID, username, req.Priority)
	if err != nil {
		h.logger.Error("failed to update user follow", "user_id", ident.UserID, "username", username, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if !updated {
		writeError(w, http.StatusNotFound, "Follow not found")
		return
	}

	follow, err := h.follows.GetUserFollow(r.Context(), ident.UserID, username)
	if err != nil || follow == nil {
		h.logger.Error("failed to reload user follow", "user_id", ident.UserID, "username", username, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.logger.Info("user follow updated", "user_id", ident.UserID, "username", username, "priority", follow.Priority)
	writeJSON(w, http.StatusOK, follow)
}

// RemoveFollow handles DELETE /api/users/me/follows/{username}.
func (h *UsersHandler) RemoveFollow(w http.ResponseWriter, r *http.Request) {
	ident, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	username := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, "/api/users/me/follows/"), "@")

	deleted, err := h.follows.DeleteUserFollow(r.Context(), ident.UserID, username)
	if err != nil {
		h.logger.Error("failed to delete user follow", "user_id", ident.UserID, "username", username, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "Follow not found")
		return
	}

	h.logger.Info("user follow removed", "user_id", ident.UserID, "username", username)
	w.WriteHeader(http.StatusNoContent)
}

// ListFilters handles GET /api/users/me/filters.
func (h *UsersHandler) ListFilters(w http.ResponseWriter, r *http.Request) {
	ident, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	rules, err := h.filters.ListByUser(r.Context(), ident.UserID)
	if err != nil {
		h.logger.Error("failed to list filter rules", "user_id", ident.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if rules == nil {
		rules = []models.FilterRule{}
	}
	writeJSON(w, http.StatusOK, filterListResponse{Filters: rules, Count: len(rules)})
}

type filterCreateRequest struct {
	FilterType string `json:"filter_type"`
	Value      string `json:"value"`
}

// AddFilter handles POST /api/users/me/filters.
func (h *UsersHandler) AddFilter(w http.ResponseWriter, r *http.Request) {
	ident, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req filterCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := ValidateFilterRule(models.FilterType(req.FilterType), req.Value); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	count, err := h.filters.CountByUser(r.Context(), ident.UserID)
	if err != nil {
		h.logger.Error("failed to count filter rules", "user_id", ident.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if count >= models.MaxFilterRulesPerUser {
		writeError(w, http.StatusUnprocessableEntity,
			fmt.Sprintf("filter rule limit of %d reached", models.MaxFilterRulesPerUser))
		return
	}

	rule := &models.FilterRule{
		UserID:     ident.UserID,
		FilterType: models.FilterType(req.FilterType),
		Value:      strings.TrimSpace(req.Value),
	}
	if err := h.filters.Create(r.Context(), rule); err != nil {
		if database.IsUniqueViolation(err) {
			writeError(w, http.StatusConflict, "Filter rule already exists")
			return
		}
		if database.IsForeignKeyViolation(err) {
			writeError(w, http.StatusNotFound, "User account not found")
			return
		}
		h.logger.Error("failed to create filter rule", "user_id", ident.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.logger.Info("filter rule created", "user_id", ident.UserID, "rule_id", rule.ID, "filter_type", rule.FilterType)
	writeJSON(w, http.StatusOK, rule)
}

// DeleteFilter handles DELETE /api/users/me/filters/{id}.
func (h *UsersHandler) DeleteFilter(w http.ResponseWriter, r *http.Request) {
	ident, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	ruleID, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/api/users/me/filters/"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "filter id must be an integer")
		return
	}

	deleted, err := h.filters.Delete(r.Context(), ident.UserID, ruleID)
	if err != nil {
		h.logger.Error("failed to delete filter rule", "user_id", ident.UserID, "rule_id", ruleID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "Filter rule not found")
		return
	}

	h.logger.Info("filter rule deleted", "user_id", ident.UserID, "rule_id", ruleID)
	w.WriteHeader(http.StatusNoContent)
}

type apiKeyListResponse struct {
	APIKeys []models.APIKey `json:"api_keys"`
	Count   int             `json:"count"`
}

type apiKeyCreatedResponse struct {
	models.APIKey
	Key string `json:"key"`
}

type userFollowListResponse struct {
	Follows []models.UserFollow `json:"follows"`
	Count   int                 `json:"count"`
}

type filterListResponse struct {
	Filters []models.FilterRule `json:"filters"`
	Count   int                 `json:"count"`
}
