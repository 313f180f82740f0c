package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sna-ai/sna/internal/models"
)

// Summariser generates summaries for batches and single tweets.
// *summarizer.Summarizer satisfies it.
type Summariser interface {
	Summarise(ctx context.Context, tweetIDs []string, forceRefresh bool, progress func(done, total int)) (*models.SummaryBatchResult, error)
	Regenerate(ctx context.Context, tweetID string, progress func(done, total int)) (*models.SummaryBatchResult, error)
}

// SummaryStatsStore reads stored summaries and their aggregates.
type SummaryStatsStore interface {
	GetByTweetID(ctx context.Context, tweetID string) (*models.Summary, error)
	Stats(ctx context.Context, start, end time.Time) (*models.SummaryStats, error)
}

type SummaryHandler struct {
	summarizer Summariser
	store      SummaryStatsStore
	tasks      TaskStore
	logger     *slog.Logger
}

func NewSummaryHandler(summarizer Summariser, store SummaryStatsStore, tasks TaskStore, logger *slog.Logger) *SummaryHandler {
	return &SummaryHandler{
		summarizer: summarizer,
		store:      store,
		tasks:      tasks,
		logger:     logger,
	}
}

type summaryBatchRequest struct {
	TweetIDs     []string `json:"tweet_ids"`
	ForceRefresh bool     `json:"force_refresh,omitempty"`
}

// EnqueueBatch handles POST /api/summaries/batch. An empty tweet_ids list
// is accepted and completes as a zero-work task.
func (h *SummaryHandler) EnqueueBatch(w http.ResponseWriter, r *http.Request) {
	var req summaryBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	task := h.tasks.Create(models.TaskTypeSummarization)
	go h.execute(task.TaskID, req.TweetIDs, req.ForceRefresh)

	h.logger.Info("summarization task enqueued",
		"task_id", task.TaskID,
		"tweets", len(req.TweetIDs),
		"force_refresh", req.ForceRefresh)

	writeJSON(w, http.StatusAccepted, taskAccepted{TaskID: task.TaskID, Status: task.Status})
}

func (h *SummaryHandler) execute(taskID string, tweetIDs []string, forceRefresh bool) {
	ctx := context.Background()
	if err := h.tasks.UpdateStatus(taskID, models.TaskStatusRunning, nil, ""); err != nil {
		h.logger.Error("failed to mark summary task running", "task_id", taskID, "error", err)
		return
	}

	result, err := h.summarizer.Summarise(ctx, tweetIDs, forceRefresh, func(done, total int) {
		h.tasks.UpdateProgress(taskID, done, total)
	})
	if err != nil {
		if uerr := h.tasks.UpdateStatus(taskID, models.TaskStatusFailed, result, err.Error()); uerr != nil {
			h.logger.Error("failed to mark summary task failed", "task_id", taskID, "error", uerr)
		}
		return
	}
	if uerr := h.tasks.UpdateStatus(taskID, models.TaskStatusCompleted, result, ""); uerr != nil {
		h.logger.Error("failed to mark summary task completed", "task_id", taskID, "error", uerr)
	}
}

// GetByTweet handles GET /api/summaries/tweets/{tweet_id}.
func (h *SummaryHandler) GetByTweet(w http.ResponseWriter, r *http.Request) {
	tweetID := strings.TrimPrefix(r.URL.Path, "/api/summaries/tweets/")

	summary, err := h.store.GetByTweetID(r.Context(), tweetID)
	if err != nil {
		h.logger.Error("failed to get summary", "tweet_id", tweetID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if summary == nil {
		writeError(w, http.StatusNotFound, "Summary not found")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// Regenerate handles POST /api/summaries/tweets/{tweet_id}/regenerate. It
// runs synchronously: one tweet, forced refresh, fresh record back.
func (h *SummaryHandler) Regenerate(w http.ResponseWriter, r *http.Request) {
	tweetID := strings.TrimPrefix(r.URL.Path, "/api/summaries/tweets/")
	tweetID = strings.TrimSuffix(tweetID, "/regenerate")

	result, err := h.summarizer.Regenerate(r.Context(), tweetID, nil)
	if err != nil {
		h.logger.Error("failed to regenerate summary", "tweet_id", tweetID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to regenerate summary")
		return
	}
	if result.TotalTweets == 0 {
		writeError(w, http.StatusNotFound, "Tweet not found")
		return
	}
	if msg, ok := result.Errors[tweetID]; ok {
		h.logger.Error("summary regeneration failed", "tweet_id", tweetID, "error", msg)
		writeError(w, http.StatusBadGateway, "Summary generation failed")
		return
	}

	summary, err := h.store.GetByTweetID(r.Context(), tweetID)
	if err != nil || summary == nil {
		h.logger.Error("failed to load regenerated summary", "tweet_id", tweetID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.logger.Info("summary regenerated", "tweet_id", tweetID, "provider", summary.ModelProvider)
	writeJSON(w, http.StatusOK, summary)
}

// Stats handles GET /api/summaries/stats?start_date=&end_date=. Bounds
// accept YYYY-MM-DD or RFC3339; a date-only end bound covers the whole day.
func (h *SummaryHandler) Stats(w http.ResponseWriter, r *http.Request) {
	var start, end time.Time
	if raw := r.URL.Query().Get("start_date"); raw != "" {
		t, _, err := parseDateBound(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "start_date must be YYYY-MM-DD or RFC3339")
			return
		}
		start = t
	}
	if raw := r.URL.Query().Get("end_date"); raw != "" {
		t, dateOnly, err := parseDateBound(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "end_date must be YYYY-MM-DD or RFC3339")
			return
		}
		if dateOnly {
			t = t.AddDate(0, 0, 1).Add(-time.Microsecond)
		}
		end = t
	}
	if !start.IsZero() && !end.IsZero() && start.After(end) {
		writeError(w, http.StatusUnprocessableEntity, "start_date must not be after end_date")
		return
	}

	stats, err := h.store.Stats(r.Context(), start, end)
	if err != nil {
		h.logger.Error("failed to aggregate summary stats", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func parseDateBound(raw string) (t time.Time, dateOnly bool, err error) {
	if t, err = time.Parse("2006-01-02", raw); err == nil {
		return t, true, nil
	}
	t, err = time.Parse(time.RFC3339, raw)
	return t, false, err
}
