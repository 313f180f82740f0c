package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sna-ai/sna/internal/models"
	"github.com/sna-ai/sna/internal/taskregistry"
)

// ScrapeRunner executes one scrape, optionally with a fixed per-user fetch
// size. *scraper.Coordinator satisfies it.
type ScrapeRunner interface {
	ScrapeUsersWithLimit(ctx context.Context, usernames []string, limit int, trigger models.ScrapeTrigger, progress func(done, total int)) (*models.ScrapeResult, error)
}

// TaskStore is the slice of the task registry the HTTP layer uses.
type TaskStore interface {
	Create(taskType string) models.Task
	UpdateStatus(taskID string, status models.TaskStatus, result any, errMsg string) error
	UpdateProgress(taskID string, current, total int) error
	Get(taskID string) (models.Task, error)
	List(taskType string, status models.TaskStatus) []models.Task
	Delete(taskID string) error
}

// RunHistory lists persisted scrape runs.
type RunHistory interface {
	ListRecent(ctx context.Context, limit int) ([]models.ScrapeRun, error)
}

type ScrapeHandler struct {
	runner ScrapeRunner
	tasks  TaskStore
	runs   RunHistory
	logger *slog.Logger
}

func NewScrapeHandler(runner ScrapeRunner, tasks TaskStore, runs RunHistory, logger *slog.Logger) *ScrapeHandler {
	return &ScrapeHandler{
		runner: runner,
		tasks:  tasks,
		runs:   runs,
		logger: logger,
	}
}

type scrapeRequest struct {
	Usernames string `json:"usernames"`
	Limit     *int   `json:"limit,omitempty"`
}

type taskAccepted struct {
	TaskID string            `json:"task_id"`
	Status models.TaskStatus `json:"status"`
}

// Enqueue handles POST /api/admin/scrape. The scrape runs in the
// background; the response carries the task id to poll.
func (h *ScrapeHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	usernames, err := parseUsernames(req.Usernames)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	limit := 0
	if req.Limit != nil {
		if err := ValidateScrapeLimit(*req.Limit); err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		limit = *req.Limit
	}

	task := h.tasks.Create(models.TaskTypeScrape)
	go h.execute(task.TaskID, usernames, limit)

	h.logger.Info("scrape task enqueued",
		"task_id", task.TaskID,
		"users", len(usernames),
		"limit_override", limit)

	writeJSON(w, http.StatusAccepted, taskAccepted{TaskID: task.TaskID, Status: task.Status})
}

// execute drives one background scrape. The request context is gone by the
// time this runs; the coordinator applies its own run deadline.
func (h *ScrapeHandler) execute(taskID string, usernames []string, limit int) {
	ctx := context.Background()
	if err := h.tasks.UpdateStatus(taskID, models.TaskStatusRunning, nil, ""); err != nil {
		h.logger.Error("failed to mark scrape task running", "task_id", taskID, "error", err)
		return
	}

	result, err := h.runner.ScrapeUsersWithLimit(ctx, usernames, limit, models.ScrapeTriggerManual, func(done, total int) {
		h.tasks.UpdateProgress(taskID, done, total)
	})
	if err != nil {
		if uerr := h.tasks.UpdateStatus(taskID, models.TaskStatusFailed, result, err.Error()); uerr != nil {
			h.logger.Error("failed to mark scrape task failed", "task_id", taskID, "error", uerr)
		}
		return
	}
	if uerr := h.tasks.UpdateStatus(taskID, models.TaskStatusCompleted, result, ""); uerr != nil {
		h.logger.Error("failed to mark scrape task completed", "task_id", taskID, "error", uerr)
	}
}

type taskListResponse struct {
	Tasks []models.Task `json:"tasks"`
	Count int           `json:"count"`
}

// List handles GET /api/admin/scrape with an optional ?status= filter.
// Dedup and summarization tasks share the registry and are listed too.
func (h *ScrapeHandler) List(w http.ResponseWriter, r *http.Request) {
	var status models.TaskStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		status = models.TaskStatus(raw)
		if !models.ValidTaskStatus(status) {
			writeError(w, http.StatusUnprocessableEntity, "status must be pending, running, completed or failed")
			return
		}
	}

	tasks := h.tasks.List(r.URL.Query().Get("task_type"), status)
	if tasks == nil {
		tasks = []models.Task{}
	}
	writeJSON(w, http.StatusOK, taskListResponse{Tasks: tasks, Count: len(tasks)})
}

// Get handles GET /api/admin/scrape/{task_id}.
func (h *ScrapeHandler) Get(w http.ResponseWriter, r *http.Request) {
	taskID := strings.TrimPrefix(r.URL.Path, "/api/admin/scrape/")

	task, err := h.tasks.Get(taskID)
	if err != nil {
		if errors.Is(err, taskregistry.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Task not found")
			return
		}
		h.logger.Error("failed to get scrape task", "task_id", taskID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// Delete handles DELETE /api/admin/scrape/{task_id}. Running tasks cannot
// be removed.
func (h *ScrapeHandler) Delete(w http.ResponseWriter, r *http.Request) {
	taskID := strings.TrimPrefix(r.URL.Path, "/api/admin/scrape/")

	switch err := h.tasks.Delete(taskID); {
	case errors.Is(err, taskregistry.ErrNotFound):
		writeError(w, http.StatusNotFound, "Task not found")
	case errors.Is(err, taskregistry.ErrConflict):
		writeError(w, http.StatusConflict, "Cannot delete a running task")
	case err != nil:
		h.logger.Error("failed to delete scrape task", "task_id", taskID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

type runListResponse struct {
	Runs  []models.ScrapeRun `json:"runs"`
	Count int                `json:"count"`
}

// ListRuns handles GET /api/admin/scrape/runs.
func (h *ScrapeHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if limit < 1 || limit > 100 {
		writeError(w, http.StatusUnprocessableEntity, "limit must be between 1 and 100")
		return
	}

	runs, err := h.runs.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list scrape runs", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if runs == nil {
		runs = []models.ScrapeRun{}
	}
	writeJSON(w, http.StatusOK, runListResponse{Runs: runs, Count: len(runs)})
}
