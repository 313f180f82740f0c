package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/sna-ai/sna/internal/models"
)

// MaxFetchLimit is the upstream provider's hard cap per request.
const MaxFetchLimit = 1000

// ErrAuthFailed marks an upstream 401. The coordinator aborts the whole run
// when it sees this; retrying other users with the same key is pointless.
var ErrAuthFailed = errors.New("upstream authentication failed")

var usernameRe = regexp.MustCompile(`^[A-Za-z0-9_]{1,15}$`)

// ValidUsername reports whether s is a well-formed handle.
func ValidUsername(s string) bool {
	return usernameRe.MatchString(s)
}

// APIError carries a non-retriable upstream HTTP failure.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Body)
}

// ClientConfig holds scraper client settings.
type ClientConfig struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	RequestsPerSecond float64
	Retry             RetryPolicy
}

// Client is a stateless adapter over the upstream tweet provider's HTTP
// JSON API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	limiter    *rate.Limiter
	retry      RetryPolicy
	logger     *slog.Logger
}

// NewClient creates a scraper client. Requests are throttled process-wide
// by a token bucket so concurrent per-user fetches share one budget.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		retry:      cfg.Retry,
		logger:     logger,
	}
}

// FetchUserTweets returns up to limit recent tweets for username, normalised
// to the canonical shape. Retries follow the client's policy; a 401 surfaces
// as ErrAuthFailed without retry.
func (c *Client) FetchUserTweets(ctx context.Context, username string, limit int) ([]models.Tweet, error) {
	if !ValidUsername(username) {
		return nil, fmt.Errorf("invalid username %q", username)
	}
	if limit < 1 || limit > MaxFetchLimit {
		return nil, fmt.Errorf("limit must be between 1 and %d, got %d", MaxFetchLimit, limit)
	}
	if c.apiKey == "" {
		return nil, fmt.Errorf("twitter api key is not configured")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	var raw []upstreamTweet
	err := Retry(ctx, c.retry, func() error {
		var fetchErr error
		raw, fetchErr = c.fetchOnce(ctx, username, limit)
		return fetchErr
	})
	if err != nil {
		return nil, err
	}

	tweets := make([]models.Tweet, 0, len(raw))
	for i := range raw {
		tweets = append(tweets, c.normalizeTweet(&raw[i], username))
	}
	return tweets, nil
}

func (c *Client) fetchOnce(ctx context.Context, username string, limit int) ([]upstreamTweet, error) {
	endpoint := fmt.Sprintf("%s/user/last_tweets?userName=%s&limit=%d",
		c.baseURL, url.QueryEscape(username), limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, NewRetryableError(fmt.Errorf("upstream request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, NewRetryableError(fmt.Errorf("failed to read upstream response: %w", err))
	}

	switch resp.StatusCode {
	case http.StatusOK:
		// fall through to decode
	case http.StatusUnauthorized:
		return nil, fmt.Errorf("fetching tweets for %s: %w", username, ErrAuthFailed)
	case http.StatusTooManyRequests:
		err := fmt.Errorf("upstream rate limited (429)")
		if delay := parseRetryAfter(resp.Header.Get("Retry-After")); delay > 0 {
			return nil, NewRetryableErrorWithDelay(err, delay)
		}
		return nil, NewRetryableError(err)
	case http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return nil, NewRetryableError(fmt.Errorf("upstream unavailable (%d)", resp.StatusCode))
	default:
		return nil, &APIError{StatusCode: resp.StatusCode, Body: truncateRunes(string(body), 200)}
	}

	var envelope upstreamResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode upstream response: %w", err)
	}
	if envelope.Status != "" && envelope.Status != "success" {
		return nil, fmt.Errorf("upstream error: %s", envelope.Msg)
	}
	return envelope.Data.Tweets, nil
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

// Upstream wire shapes. Field names follow the provider's mixed camel/snake
// JSON as-is.

type upstreamResponse struct {
	Status string       `json:"status"`
	Msg    string       `json:"msg"`
	Data   upstreamData `json:"data"`
}

type upstreamData struct {
	Tweets []upstreamTweet `json:"tweets"`
}

type upstreamTweet struct {
	ID               string            `json:"id"`
	Text             string            `json:"text"`
	FullText         string            `json:"full_text"`
	NoteTweet        *upstreamNote     `json:"note_tweet"`
	CreatedAt        string            `json:"createdAt"`
	Author           upstreamAuthor    `json:"author"`
	IsReply          bool              `json:"isReply"`
	InReplyToID      string            `json:"inReplyToId"`
	QuotedTweet      *upstreamTweet    `json:"quoted_tweet"`
	RetweetedTweet   *upstreamTweet    `json:"retweeted_tweet"`
	ExtendedEntities *upstreamEntities `json:"extendedEntities"`
}

type upstreamNote struct {
	Text string `json:"text"`
}

type upstreamAuthor struct {
	UserName string `json:"userName"`
	Name     string `json:"name"`
}

type upstreamEntities struct {
	Media []upstreamMedia `json:"media"`
}

type upstreamMedia struct {
	MediaKey      string        `json:"media_key"`
	Type          string        `json:"type"`
	MediaURLHTTPS string        `json:"media_url_https"`
	URL           string        `json:"url"`
	Sizes         upstreamSizes `json:"sizes"`
}

type upstreamSizes struct {
	Large upstreamSize `json:"large"`
}

type upstreamSize struct {
	W int `json:"w"`
	H int `json:"h"`
}

// normalizeTweet maps one upstream object to the canonical shape. Invalid
// results are filtered later by validateTweet.
func (c *Client) normalizeTweet(raw *upstreamTweet, requestedUsername string) models.Tweet {
	t := models.Tweet{
		TweetID:           raw.ID,
		Text:              cleanText(bestTweetText(raw)),
		AuthorUsername:    raw.Author.UserName,
		AuthorDisplayName: raw.Author.Name,
		Media:             mapMedia(raw.ExtendedEntities),
	}
	if t.AuthorUsername == "" {
		t.AuthorUsername = requestedUsername
	}
	t.CreatedAt = parseTweetTime(raw.CreatedAt)

	switch {
	case raw.RetweetedTweet != nil:
		c.applyReference(&t, raw.RetweetedTweet, models.ReferenceTypeRetweeted)
	case raw.QuotedTweet != nil:
		c.applyReference(&t, raw.QuotedTweet, models.ReferenceTypeQuoted)
	case raw.IsReply && raw.InReplyToID != "":
		t.ReferencedTweetID = raw.InReplyToID
		t.ReferenceType = models.ReferenceTypeRepliedTo
	}
	return t
}

func (c *Client) applyReference(t *models.Tweet, ref *upstreamTweet, refType models.ReferenceType) {
	t.ReferencedTweetID = ref.ID
	t.ReferenceType = refType
	t.ReferencedTweetAuthorUsername = ref.Author.UserName
	t.ReferencedTweetMedia = mapMedia(ref.ExtendedEntities)

	text := bestTweetText(ref)
	if utf8.RuneCountInString(text) <= 300 && hasEllipsisSuffix(text) {
		c.logger.Warn("referenced tweet text may be truncated",
			"tweet_id", t.TweetID,
			"referenced_tweet_id", ref.ID,
			"length", utf8.RuneCountInString(text))
	}
	t.ReferencedTweetText = cleanText(text)
}

// bestTweetText picks the longest of the upstream's text variants. Long
// tweets arrive complete only in note_tweet; older shapes use full_text.
func bestTweetText(raw *upstreamTweet) string {
	best := raw.Text
	if len(raw.FullText) > len(best) {
		best = raw.FullText
	}
	if raw.NoteTweet != nil && len(raw.NoteTweet.Text) > len(best) {
		best = raw.NoteTweet.Text
	}
	return best
}

func hasEllipsisSuffix(s string) bool {
	trimmed := strings.TrimSpace(s)
	return strings.HasSuffix(trimmed, "\u2026") || strings.HasSuffix(trimmed, "...")
}

func mapMedia(entities *upstreamEntities) []models.MediaItem {
	if entities == nil || len(entities.Media) == 0 {
		return nil
	}
	items := make([]models.MediaItem, 0, len(entities.Media))
	for _, m := range entities.Media {
		u := m.MediaURLHTTPS
		if u == "" {
			u = m.URL
		}
		items = append(items, models.MediaItem{
			Key:    m.MediaKey,
			Type:   m.Type,
			URL:    u,
			Width:  m.Sizes.Large.W,
			Height: m.Sizes.Large.H,
		})
	}
	return items
}

// parseTweetTime accepts the provider's classic timestamp format with an
// RFC 3339 fallback. Unparseable values yield a zero time, which fails
// validation downstream.
func parseTweetTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RubyDate, raw); err == nil {
		return t.UTC()
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC()
	}
	return time.Time{}
}

// cleanText collapses all whitespace runs (including CRLF) to single spaces,
// trims, and truncates to the storage cap.
func cleanText(s string) string {
	cleaned := strings.Join(strings.Fields(s), " ")
	return truncateRunes(cleaned, models.MaxTweetTextLength)
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}

// validateTweet checks the fields every stored tweet must carry.
func validateTweet(t *models.Tweet) error {
	if t.TweetID == "" {
		return fmt.Errorf("missing tweet id")
	}
	if t.Text == "" {
		return fmt.Errorf("empty text after cleaning")
	}
	if t.AuthorUsername == "" {
		return fmt.Errorf("missing author username")
	}
	if t.CreatedAt.IsZero() {
		return fmt.Errorf("missing or unparseable created_at")
	}
	return nil
}
