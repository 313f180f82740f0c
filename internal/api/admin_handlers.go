package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/sna-ai/sna/internal/auth"
	"github.com/sna-ai/sna/internal/database"
	"github.com/sna-ai/sna/internal/models"
)

// AdminUserStore is the account management surface for admin endpoints.
// *database.UserRepository satisfies it.
type AdminUserStore interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUserByID(ctx context.Context, id int) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	SetUserActive(ctx context.Context, id int, active bool) (bool, error)
	UpdatePassword(ctx context.Context, id int, passwordHash string) error
}

// AdminHandler handles admin-only account management.
type AdminHandler struct {
	users  AdminUserStore
	logger *slog.Logger
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(users AdminUserStore, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		users:  users,
		logger: logger,
	}
}

type userCreateRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	IsAdmin  bool   `json:"is_admin"`
}

// CreateUser handles POST /api/admin/users.
func (h *AdminHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req userCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if err := ValidateEmail(email); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := ValidatePassword(req.Password); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.logger.Error("failed to hash password", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	user := &models.User{
		Email:        email,
		PasswordHash: hash,
		IsAdmin:      req.IsAdmin,
		IsActive:     true,
	}
	if err := h.users.CreateUser(r.Context(), user); err != nil {
		if database.IsUniqueViolation(err) {
			writeError(w, http.StatusConflict, "Email already registered")
			return
		}
		h.logger.Error("failed to create user", "email", email, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.logger.Info("user created", "user_id", user.ID, "email", email, "is_admin", user.IsAdmin, "created_by", actor(r))
	writeJSON(w, http.StatusOK, user)
}

// ListUsers handles GET /api/admin/users.
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.ListUsers(r.Context())
	if err != nil {
		h.logger.Error("failed to list users", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if users == nil {
		users = []models.User{}
	}
	writeJSON(w, http.StatusOK, userListResponse{Users: users, Count: len(users)})
}

type passwordResetRequest struct {
	NewPassword string `json:"new_password"`
}

// ResetPassword handles POST /api/admin/users/{id}/reset-password.
func (h *AdminHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	id, err := adminUserID(r.URL.Path, "/reset-password")
	if err != nil {
		writeError(w, http.StatusBadRequest, "user id must be an integer")
		return
	}

	var req passwordResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := ValidatePassword(req.NewPassword); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	user, err := h.users.GetUserByID(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to load user", "user_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}

	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		h.logger.Error("failed to hash password", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if err := h.users.UpdatePassword(r.Context(), id, hash); err != nil {
		h.logger.Error("failed to reset password", "user_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.logger.Info("password reset", "user_id", id, "reset_by", actor(r))
	w.WriteHeader(http.StatusNoContent)
}

type userActiveRequest struct {
	IsActive bool `json:"is_active"`
}

// SetActive handles PUT /api/admin/users/{id}/active. Deactivated accounts
// fail login and API key authentication immediately.
func (h *AdminHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	id, err := adminUserID(r.URL.Path, "/active")
	if err != nil {
		writeError(w, http.StatusBadRequest, "user id must be an integer")
		return
	}

	var req userActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	updated, err := h.users.SetUserActive(r.Context(), id, req.IsActive)
	if err != nil {
		h.logger.Error("failed to update user", "user_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if !updated {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}

	user, err := h.users.GetUserByID(r.Context(), id)
	if err != nil || user == nil {
		h.logger.Error("failed to reload user", "user_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.logger.Info("user active flag changed", "user_id", id, "is_active", user.IsActive, "updated_by", actor(r))
	writeJSON(w, http.StatusOK, user)
}

// adminUserID extracts the numeric id from /api/admin/users/{id}<suffix>.
func adminUserID(path, suffix string) (int, error) {
	raw := strings.TrimSuffix(strings.TrimPrefix(path, "/api/admin/users/"), suffix)
	return strconv.Atoi(raw)
}

type userListResponse struct {
	Users []models.User `json:"users"`
	Count int           `json:"count"`
}
