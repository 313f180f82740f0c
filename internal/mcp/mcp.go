// Package mcp exposes the monitored tweet stream as Model Context Protocol
// tools. The gateway is read-only: agents query tweets, the feed, summaries
// and the follow roster, but mutation stays behind the REST API.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sna-ai/sna/internal/models"
)

// ErrUnknownTool marks a tools/call for a name the gateway does not serve.
var ErrUnknownTool = errors.New("unknown tool")

// ErrInvalidArguments marks malformed or out-of-range tool arguments; the
// wrapped message tells the agent what to fix.
var ErrInvalidArguments = errors.New("invalid arguments")

// TweetReader is the tweet query surface the gateway needs.
// *database.TweetRepository satisfies it.
type TweetReader interface {
	GetByID(ctx context.Context, tweetID string) (*models.Tweet, error)
	List(ctx context.Context, authorUsername string, limit, offset int) ([]models.TweetWithFlags, int, error)
	Feed(ctx context.Context, since, until time.Time, limit int) ([]models.Tweet, error)
}

// SummaryReader loads stored summaries. *database.SummaryRepository
// satisfies it.
type SummaryReader interface {
	GetByTweetID(ctx context.Context, tweetID string) (*models.Summary, error)
	GetByTweetIDs(ctx context.Context, tweetIDs []string) ([]models.Summary, error)
}

// GroupReader loads dedup groups for tweet detail responses.
// *database.DedupRepository satisfies it.
type GroupReader interface {
	GetGroup(ctx context.Context, groupID string) (*models.DedupGroup, error)
}

// FollowReader lists the scrape roster. *database.FollowRepository
// satisfies it.
type FollowReader interface {
	ListScraperFollows(ctx context.Context, activeOnly bool) ([]models.ScraperFollow, error)
}

// Handler dispatches MCP tool calls onto the read repositories.
type Handler struct {
	tweets    TweetReader
	summaries SummaryReader
	groups    GroupReader
	follows   FollowReader
	logger    *slog.Logger
}

func NewHandler(tweets TweetReader, summaries SummaryReader, groups GroupReader, follows FollowReader, logger *slog.Logger) *Handler {
	return &Handler{
		tweets:    tweets,
		summaries: summaries,
		groups:    groups,
		follows:   follows,
		logger:    logger,
	}
}

// Tool is one entry in the tools/list response.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// Tools returns the definitions of every tool the gateway serves.
func (h *Handler) Tools() []Tool {
	return []Tool{
		{
			Name:        "search_tweets",
			Description: "List monitored tweets, newest first, optionally filtered by author username, with pagination.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"author": map[string]any{
						"type":        "string",
						"description": "Filter to one author's handle, with or without the leading @",
					},
					"page": map[string]any{
						"type":        "integer",
						"minimum":     1,
						"default":     1,
						"description": "Page number (1-indexed)",
					},
					"page_size": map[string]any{
						"type":        "integer",
						"minimum":     1,
						"maximum":     100,
						"default":     20,
						"description": "Results per page (max 100)",
					},
				},
			},
		},
		{
			Name:        "get_feed",
			Description: "Incremental feed of stored tweets ordered by storage time, each with its summary when one exists. Use the since cursor to resume from the last item seen.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"since": map[string]any{
						"type":        "string",
						"format":      "date-time",
						"description": "Only tweets stored strictly after this RFC3339 timestamp",
					},
					"until": map[string]any{
						"type":        "string",
						"format":      "date-time",
						"description": "Only tweets stored at or before this RFC3339 timestamp",
					},
					"limit": map[string]any{
						"type":        "integer",
						"minimum":     1,
						"maximum":     200,
						"default":     50,
						"description": "Maximum items returned (max 200)",
					},
					"include_summary": map[string]any{
						"type":        "boolean",
						"default":     true,
						"description": "Attach stored summaries to each item",
					},
				},
			},
		},
		{
			Name:        "get_tweet",
			Description: "Fetch one tweet by its id, with its summary and duplicate group when present.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"tweet_id": map[string]any{
						"type":        "string",
						"description": "The tweet's platform id",
					},
				},
				"required": []string{"tweet_id"},
			},
		},
		{
			Name:        "get_summary",
			Description: "Fetch the stored summary for one tweet.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"tweet_id": map[string]any{
						"type":        "string",
						"description": "The tweet's platform id",
					},
				},
				"required": []string{"tweet_id"},
			},
		},
		{
			Name:        "list_follows",
			Description: "List the accounts the platform currently monitors.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
	}
}

// Call executes one tool and returns its JSON-marshallable result.
func (h *Handler) Call(ctx context.Context, name string, args json.RawMessage) (any, error) {
	switch name {
	case "search_tweets":
		return h.searchTweets(ctx, args)
	case "get_feed":
		return h.getFeed(ctx, args)
	case "get_tweet":
		return h.getTweet(ctx, args)
	case "get_summary":
		return h.getSummary(ctx, args)
	case "list_follows":
		return h.listFollows(ctx)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
}

// decodeArgs unmarshals args into dst. Absent or null arguments leave dst
// at its zero value.
func decodeArgs(args json.RawMessage, dst any) error {
	if len(args) == 0 || string(args) == "null" {
		return nil
	}
	if err := json.Unmarshal(args, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
	defaultLimit    = 50
	maxLimit        = 200
)

type searchTweetsArgs struct {
	Author   string `json:"author"`
	Page     int    `json:"page"`
	PageSize int    `json:"page_size"`
}

type searchTweetsResult struct {
	Tweets   []models.TweetWithFlags `json:"tweets"`
	Total    int                     `json:"total"`
	Page     int                     `json:"page"`
	PageSize int                     `json:"page_size"`
}

func (h *Handler) searchTweets(ctx context.Context, args json.RawMessage) (any, error) {
	var a searchTweetsArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if a.Page == 0 {
		a.Page = 1
	}
	if a.PageSize == 0 {
		a.PageSize = defaultPageSize
	}
	if a.Page < 1 {
		return nil, fmt.Errorf("%w: page must be at least 1", ErrInvalidArguments)
	}
	if a.PageSize < 1 || a.PageSize > maxPageSize {
		return nil, fmt.Errorf("%w: page_size must be between 1 and %d", ErrInvalidArguments, maxPageSize)
	}

	author := trimHandle(a.Author)
	offset := (a.Page - 1) * a.PageSize
	tweets, total, err := h.tweets.List(ctx, author, a.PageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list tweets: %w", err)
	}
	if tweets == nil {
		tweets = []models.TweetWithFlags{}
	}
	return searchTweetsResult{Tweets: tweets, Total: total, Page: a.Page, PageSize: a.PageSize}, nil
}

type getFeedArgs struct {
	Since          string `json:"since"`
	Until          string `json:"until"`
	Limit          int    `json:"limit"`
	IncludeSummary *bool  `json:"include_summary"`
}

type getFeedResult struct {
	Items []models.FeedItem `json:"items"`
	Count int               `json:"count"`
}

func (h *Handler) getFeed(ctx context.Context, args json.RawMessage) (any, error) {
	var a getFeedArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}

	var since, until time.Time
	if a.Since != "" {
		t, err := time.Parse(time.RFC3339, a.Since)
		if err != nil {
			return nil, fmt.Errorf("%w: since must be an RFC3339 timestamp", ErrInvalidArguments)
		}
		since = t
	}
	if a.Until != "" {
		t, err := time.Parse(time.RFC3339, a.Until)
		if err != nil {
			return nil, fmt.Errorf("%w: until must be an RFC3339 timestamp", ErrInvalidArguments)
		}
		until = t
	}
	if a.Limit == 0 {
		a.Limit = defaultLimit
	}
	if a.Limit < 1 || a.Limit > maxLimit {
		return nil, fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidArguments, maxLimit)
	}
	includeSummary := a.IncludeSummary == nil || *a.IncludeSummary

	tweets, err := h.tweets.Feed(ctx, since, until, a.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load feed: %w", err)
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
		summaries, err := h.summaries.GetByTweetIDs(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("failed to load summaries: %w", err)
		}
		for i := range summaries {
			if idx, ok := byID[summaries[i].TweetID]; ok {
				items[idx].Summary = &summaries[i]
			}
		}
	}

	return getFeedResult{Items: items, Count: len(items)}, nil
}

type tweetIDArgs struct {
	TweetID string `json:"tweet_id"`
}

func (h *Handler) getTweet(ctx context.Context, args json.RawMessage) (any, error) {
	var a tweetIDArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if a.TweetID == "" {
		return nil, fmt.Errorf("%w: tweet_id is required", ErrInvalidArguments)
	}

	tweet, err := h.tweets.GetByID(ctx, a.TweetID)
	if err != nil {
		return nil, fmt.Errorf("failed to get tweet: %w", err)
	}
	if tweet == nil {
		return nil, fmt.Errorf("tweet %s not found", a.TweetID)
	}

	detail := models.TweetDetail{Tweet: *tweet}
	summary, err := h.summaries.GetByTweetID(ctx, a.TweetID)
	if err != nil {
		return nil, fmt.Errorf("failed to load summary: %w", err)
	}
	detail.Summary = summary

	if tweet.DedupGroupID != "" {
		group, err := h.groups.GetGroup(ctx, tweet.DedupGroupID)
		if err != nil {
			return nil, fmt.Errorf("failed to load dedup group: %w", err)
		}
		detail.DedupGroup = group
	}
	return detail, nil
}

func (h *Handler) getSummary(ctx context.Context, args json.RawMessage) (any, error) {
	var a tweetIDArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if a.TweetID == "" {
		return nil, fmt.Errorf("%w: tweet_id is required", ErrInvalidArguments)
	}

	summary, err := h.summaries.GetByTweetID(ctx, a.TweetID)
	if err != nil {
		return nil, fmt.Errorf("failed to load summary: %w", err)
	}
	if summary == nil {
		return nil, fmt.Errorf("tweet %s has no summary", a.TweetID)
	}
	return summary, nil
}

type listFollowsResult struct {
	Follows []models.ScraperFollow `json:"follows"`
	Count   int                    `json:"count"`
}

func (h *Handler) listFollows(ctx context.Context) (any, error) {
	follows, err := h.follows.ListScraperFollows(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list follows: %w", err)
	}
	if follows == nil {
		follows = []models.ScraperFollow{}
	}
	return listFollowsResult{Follows: follows, Count: len(follows)}, nil
}

func trimHandle(s string) string {
	if len(s) > 0 && s[0] == '@' {
		return s[1:]
	}
	return s
}
