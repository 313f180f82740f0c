package api

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sna-ai/sna/internal/auth"
	"github.com/sna-ai/sna/internal/database"
	"github.com/sna-ai/sna/internal/models"
	"github.com/sna-ai/sna/internal/scheduler"
)

// TweetReader is the tweet query surface for list, detail and feed views.
type TweetReader interface {
	GetByID(ctx context.Context, tweetID string) (*models.Tweet, error)
	List(ctx context.Context, authorUsername string, limit, offset int) ([]models.TweetWithFlags, int, error)
	Feed(ctx context.Context, since, until time.Time, limit int) ([]models.Tweet, error)
}

// SummaryReader loads stored summaries for embedding into responses.
type SummaryReader interface {
	GetByTweetID(ctx context.Context, tweetID string) (*models.Summary, error)
	GetByTweetIDs(ctx context.Context, tweetIDs []string) ([]models.Summary, error)
}

// GroupReader loads dedup groups for embedding into detail views.
type GroupReader interface {
	GetGroup(ctx context.Context, groupID string) (*models.DedupGroup, error)
}

// FilterSource loads a user's feed filter rules.
type FilterSource interface {
	ListByUser(ctx context.Context, userID int) ([]models.FilterRule, error)
}

// SchedulerProbe reports the scheduler's lifecycle state.
type SchedulerProbe interface {
	State() scheduler.State
}

// Handler serves the core read surface: tweets, the feed and health.
type Handler struct {
	tweets    TweetReader
	summaries SummaryReader
	groups    GroupReader
	filters   FilterSource
	sched     SchedulerProbe
	logger    *slog.Logger
	checkDB   func(ctx context.Context) error
}

func NewHandler(tweets TweetReader, summaries SummaryReader, groups GroupReader, filters FilterSource, db *sql.DB, sched SchedulerProbe, logger *slog.Logger) *Handler {
	return &Handler{
		tweets:    tweets,
		summaries: summaries,
		groups:    groups,
		filters:   filters,
		sched:     sched,
		logger:    logger,
		checkDB: func(ctx context.Context) error {
			return database.HealthCheck(ctx, db)
		},
	}
}

// Pagination bounds for the tweet list.
const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type tweetListResponse struct {
	Tweets   []models.TweetWithFlags `json:"tweets"`
	Total    int                     `json:"total"`
	Page     int                     `json:"page"`
	PageSize int                     `json:"page_size"`
}

// ListTweets handles GET /api/tweets?page=&page_size=&author=.
func (h *Handler) ListTweets(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 1)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pageSize, err := queryInt(r, "page_size", defaultPageSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if page < 1 {
		writeError(w, http.StatusUnprocessableEntity, "page must be at least 1")
		return
	}
	if pageSize < 1 || pageSize > maxPageSize {
		writeError(w, http.StatusUnprocessableEntity, "page_size must be between 1 and 100")
		return
	}

	author := strings.TrimPrefix(r.URL.Query().Get("author"), "@")
	offset := (page - 1) * pageSize

	tweets, total, err := h.tweets.List(r.Context(), author, pageSize, offset)
	if err != nil {
		h.logger.Error("failed to list tweets", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if tweets == nil {
		tweets = []models.TweetWithFlags{}
	}

	writeJSON(w, http.StatusOK, tweetListResponse{
		Tweets:   tweets,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	})
}

// GetTweet handles GET /api/tweets/{tweet_id}, embedding the summary and
// dedup group when present.
func (h *Handler) GetTweet(w http.ResponseWriter, r *http.Request) {
	tweetID := strings.TrimPrefix(r.URL.Path, "/api/tweets/")

	tweet, err := h.tweets.GetByID(r.Context(), tweetID)
	if err != nil {
		h.logger.Error("failed to get tweet", "tweet_id", tweetID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if tweet == nil {
		writeError(w, http.StatusNotFound, "Tweet not found")
		return
	}

	detail := models.TweetDetail{Tweet: *tweet}

	summary, err := h.summaries.GetByTweetID(r.Context(), tweetID)
	if err != nil {
		h.logger.Error("failed to load summary for tweet", "tweet_id", tweetID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	detail.Summary = summary

	if tweet.DedupGroupID != "" {
		group, err := h.groups.GetGroup(r.Context(), tweet.DedupGroupID)
		if err != nil {
			h.logger.Error("failed to load dedup group for tweet", "tweet_id", tweetID, "error", err)
			writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		detail.DedupGroup = group
	}

	writeJSON(w, http.StatusOK, detail)
}

// Feed bounds.
const (
	defaultFeedLimit = 50
	maxFeedLimit     = 200
)

type feedResponse struct {
	Items []models.FeedItem `json:"items"`
	Count int               `json:"count"`
}

// GetFeed handles GET /api/feed. Items are ordered by db_created_at
// ascending so a client can resume from the last item it saw.
func (h *Handler) GetFeed(w http.ResponseWriter, r *http.Request) {
	var since, until time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be an RFC3339 timestamp")
			return
		}
		since = t
	}
	if raw := r.URL.Query().Get("until"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "until must be an RFC3339 timestamp")
			return
		}
		until = t
	}

	limit, err := queryInt(r, "limit", defaultFeedLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if limit < 1 || limit > maxFeedLimit {
		writeError(w, http.StatusUnprocessableEntity, "limit must be between 1 and 200")
		return
	}

	includeSummary, err := queryBool(r, "include_summary", true)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	applyFilters, err := queryBool(r, "apply_filters", false)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tweets, err := h.tweets.Feed(r.Context(), since, until, limit)
	if err != nil {
		h.logger.Error("failed to load feed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if applyFilters {
		tweets, err = h.filterForIdentity(r, tweets)
		if err != nil {
			h.logger.Error("failed to apply feed filters", "error", err)
			writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
	}

	items := make([]models.FeedItem, 0, len(tweets))
	for _, t := range tweets {
		items = append(items, models.FeedItem{Tweet: t})
	}

	if includeSummary && len(items) > 0 {
		ids := make([]string, 0, len(items))
		byID := make(map[string]int, len(items))
		for i, item := range items {
			ids = append(ids, item.TweetID)
			byID[item.TweetID] = i
		}
		summaries, err := h.summaries.GetByTweetIDs(r.Context(), ids)
		if err != nil {
			h.logger.Error("failed to load feed summaries", "error", err)
			writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		for i := range summaries {
			if idx, ok := byID[summaries[i].TweetID]; ok {
				items[idx].Summary = &summaries[i]
			}
		}
	}

	writeJSON(w, http.StatusOK, feedResponse{Items: items, Count: len(items)})
}

// filterForIdentity applies the requesting user's filter rules.
func (h *Handler) filterForIdentity(r *http.Request, tweets []models.Tweet) ([]models.Tweet, error) {
	identity, ok := auth.GetIdentity(r.Context())
	if !ok {
		return tweets, nil
	}

	rules, err := h.filters.ListByUser(r.Context(), identity.UserID)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return tweets, nil
	}

	kept := tweets[:0]
	for i := range tweets {
		if models.PassesFilters(&tweets[i], rules) {
			kept = append(kept, tweets[i])
		}
	}
	return kept, nil
}

type healthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
}

// Health handles GET /health. Always 200; degradation is reported in the
// body so load balancers keep routing while operators investigate.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := healthResponse{
		Status: "ok",
		Components: map[string]string{
			"database":  "ok",
			"scheduler": string(h.sched.State()),
		},
	}
	if err := h.checkDB(ctx); err != nil {
		h.logger.Error("database health check failed", "error", err)
		resp.Status = "degraded"
		resp.Components["database"] = "error"
	}

	writeJSON(w, http.StatusOK, resp)
}
