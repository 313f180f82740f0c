package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sna-ai/sna/internal/dedup"
	"github.com/sna-ai/sna/internal/models"
)

// Deduplicator runs the grouping engine. *dedup.Engine satisfies it.
type Deduplicator interface {
	Deduplicate(ctx context.Context, opts dedup.Options) (*models.DedupStats, error)
}

// GroupStore is the dedup group surface for inspection and undo.
type GroupStore interface {
	GetGroup(ctx context.Context, groupID string) (*models.DedupGroup, error)
	DeleteGroup(ctx context.Context, groupID string) (bool, error)
}

type DedupHandler struct {
	engine Deduplicator
	groups GroupStore
	tasks  TaskStore
	logger *slog.Logger
}

func NewDedupHandler(engine Deduplicator, groups GroupStore, tasks TaskStore, logger *slog.Logger) *DedupHandler {
	return &DedupHandler{
		engine: engine,
		groups: groups,
		tasks:  tasks,
		logger: logger,
	}
}

type dedupBatchConfig struct {
	SimilarityThreshold float64 `json:"similarity_threshold,omitempty"`
	ForceRefresh        bool    `json:"force_refresh,omitempty"`
}

type dedupBatchRequest struct {
	// TweetIDs restricts the run; empty means the whole corpus.
	TweetIDs []string          `json:"tweet_ids"`
	Config   *dedupBatchConfig `json:"config,omitempty"`
}

// EnqueueBatch handles POST /api/deduplicate/batch.
func (h *DedupHandler) EnqueueBatch(w http.ResponseWriter, r *http.Request) {
	var req dedupBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	opts := dedup.Options{TweetIDs: req.TweetIDs}
	if req.Config != nil {
		if t := req.Config.SimilarityThreshold; t != 0 && (t <= 0 || t > 1) {
			writeError(w, http.StatusUnprocessableEntity, "similarity_threshold must be between 0 and 1")
			return
		}
		opts.SimilarityThreshold = req.Config.SimilarityThreshold
		opts.ForceRefresh = req.Config.ForceRefresh
	}

	task := h.tasks.Create(models.TaskTypeDeduplication)
	go h.execute(task.TaskID, opts)

	h.logger.Info("deduplication task enqueued",
		"task_id", task.TaskID,
		"tweets", len(req.TweetIDs),
		"force_refresh", opts.ForceRefresh)

	writeJSON(w, http.StatusAccepted, taskAccepted{TaskID: task.TaskID, Status: task.Status})
}

func (h *DedupHandler) execute(taskID string, opts dedup.Options) {
	ctx := context.Background()
	if err := h.tasks.UpdateStatus(taskID, models.TaskStatusRunning, nil, ""); err != nil {
		h.logger.Error("failed to mark dedup task running", "task_id", taskID, "error", err)
		return
	}

	stats, err := h.engine.Deduplicate(ctx, opts)
	if err != nil {
		if uerr := h.tasks.UpdateStatus(taskID, models.TaskStatusFailed, stats, err.Error()); uerr != nil {
			h.logger.Error("failed to mark dedup task failed", "task_id", taskID, "error", uerr)
		}
		return
	}
	if uerr := h.tasks.UpdateStatus(taskID, models.TaskStatusCompleted, stats, ""); uerr != nil {
		h.logger.Error("failed to mark dedup task completed", "task_id", taskID, "error", uerr)
	}
}

// GetGroup handles GET /api/deduplicate/groups/{group_id}.
func (h *DedupHandler) GetGroup(w http.ResponseWriter, r *http.Request) {
	groupID := strings.TrimPrefix(r.URL.Path, "/api/deduplicate/groups/")

	group, err := h.groups.GetGroup(r.Context(), groupID)
	if err != nil {
		h.logger.Error("failed to get dedup group", "group_id", groupID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if group == nil {
		writeError(w, http.StatusNotFound, "Dedup group not found")
		return
	}
	writeJSON(w, http.StatusOK, group)
}

// DeleteGroup handles DELETE /api/deduplicate/groups/{group_id}. Member
// back-references are cleared in the same transaction.
func (h *DedupHandler) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	groupID := strings.TrimPrefix(r.URL.Path, "/api/deduplicate/groups/")

	deleted, err := h.groups.DeleteGroup(r.Context(), groupID)
	if err != nil {
		h.logger.Error("failed to delete dedup group", "group_id", groupID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "Dedup group not found")
		return
	}

	h.logger.Info("dedup group deleted", "group_id", groupID)
	w.WriteHeader(http.StatusNoContent)
}
