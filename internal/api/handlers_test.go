package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sna-ai/sna/internal/auth"
	"github.com/sna-ai/sna/internal/models"
	"github.com/sna-ai/sna/internal/scheduler"
)

type fakeTweetReader struct {
	tweets map[string]*models.Tweet
	listed []models.TweetWithFlags
	total  int
	feed   []models.Tweet
	err    error

	listAuthor string
	listLimit  int
	listOffset int
	feedSince  time.Time
	feedUntil  time.Time
	feedLimit  int
}

func (f *fakeTweetReader) GetByID(ctx context.Context, tweetID string) (*models.Tweet, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.tweets[tweetID], nil
}

func (f *fakeTweetReader) List(ctx context.Context, authorUsername string, limit, offset int) ([]models.TweetWithFlags, int, error) {
	f.listAuthor = authorUsername
	f.listLimit = limit
	f.listOffset = offset
	if f.err != nil {
		return nil, 0, f.err
	}
	return f.listed, f.total, nil
}

func (f *fakeTweetReader) Feed(ctx context.Context, since, until time.Time, limit int) ([]models.Tweet, error) {
	f.feedSince = since
	f.feedUntil = until
	f.feedLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	return f.feed, nil
}

type fakeSummaryReader struct {
	summaries map[string]*models.Summary
	calls     int
	err       error
}

func (f *fakeSummaryReader) GetByTweetID(ctx context.Context, tweetID string) (*models.Summary, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.summaries[tweetID], nil
}

func (f *fakeSummaryReader) GetByTweetIDs(ctx context.Context, tweetIDs []string) ([]models.Summary, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Summary
	for _, id := range tweetIDs {
		if s, ok := f.summaries[id]; ok {
			out = append(out, *s)
		}
	}
	return out, nil
}

type fakeGroupReader struct {
	groups map[string]*models.DedupGroup
	calls  int
	err    error
}

func (f *fakeGroupReader) GetGroup(ctx context.Context, groupID string) (*models.DedupGroup, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.groups[groupID], nil
}

type fakeFilterSource struct {
	rules map[int][]models.FilterRule
	err   error
}

func (f *fakeFilterSource) ListByUser(ctx context.Context, userID int) ([]models.FilterRule, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.rules[userID], nil
}

type fakeSchedProbe struct {
	state scheduler.State
}

func (f *fakeSchedProbe) State() scheduler.State { return f.state }

type handlerFixture struct {
	h         *Handler
	tweets    *fakeTweetReader
	summaries *fakeSummaryReader
	groups    *fakeGroupReader
	filters   *fakeFilterSource
	dbErr     error
}

func newHandlerFixture() *handlerFixture {
	f := &handlerFixture{
		tweets:    &fakeTweetReader{tweets: map[string]*models.Tweet{}},
		summaries: &fakeSummaryReader{summaries: map[string]*models.Summary{}},
		groups:    &fakeGroupReader{groups: map[string]*models.DedupGroup{}},
		filters:   &fakeFilterSource{rules: map[int][]models.FilterRule{}},
	}
	f.h = &Handler{
		tweets:    f.tweets,
		summaries: f.summaries,
		groups:    f.groups,
		filters:   f.filters,
		sched:     &fakeSchedProbe{state: scheduler.StateIdle},
		logger:    testLogger(),
		checkDB:   func(ctx context.Context) error { return f.dbErr },
	}
	return f
}

func TestListTweets(t *testing.T) {
	f := newHandlerFixture()
	f.tweets.listed = []models.TweetWithFlags{
		{Tweet: models.Tweet{TweetID: "100", AuthorUsername: "nasa"}, HasSummary: true},
		{Tweet: models.Tweet{TweetID: "99", AuthorUsername: "nasa"}},
	}
	f.tweets.total = 41

	req := httptest.NewRequest(http.MethodGet, "/api/tweets?page=3&page_size=10&author=@nasa", nil)
	rec := httptest.NewRecorder()
	f.h.ListTweets(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	var resp tweetListResponse
	decodeInto(t, rec, &resp)
	if resp.Total != 41 || resp.Page != 3 || resp.PageSize != 10 {
		t.Errorf("envelope = total %d page %d size %d, want 41/3/10", resp.Total, resp.Page, resp.PageSize)
	}
	if len(resp.Tweets) != 2 || !resp.Tweets[0].HasSummary {
		t.Errorf("tweets = %+v, want the flagged rows", resp.Tweets)
	}
	if f.tweets.listAuthor != "nasa" {
		t.Errorf("author = %q, want the @ stripped", f.tweets.listAuthor)
	}
	if f.tweets.listLimit != 10 || f.tweets.listOffset != 20 {
		t.Errorf("limit/offset = %d/%d, want 10/20", f.tweets.listLimit, f.tweets.listOffset)
	}
}

func TestListTweetsDefaults(t *testing.T) {
	f := newHandlerFixture()
	req := httptest.NewRequest(http.MethodGet, "/api/tweets", nil)
	rec := httptest.NewRecorder()
	f.h.ListTweets(rec, req)

	if f.tweets.listLimit != 20 || f.tweets.listOffset != 0 {
		t.Errorf("limit/offset = %d/%d, want the 20/0 defaults", f.tweets.listLimit, f.tweets.listOffset)
	}
	if !strings.Contains(rec.Body.String(), `"tweets":[]`) {
		t.Errorf("body = %s, want an empty array not null", rec.Body.String())
	}
}

func TestListTweetsValidation(t *testing.T) {
	tests := []struct {
		name       string
		url        string
		wantStatus int
		wantDetail string
	}{
		{"page not a number", "/api/tweets?page=abc", http.StatusBadRequest, "page must be an integer"},
		{"page zero", "/api/tweets?page=0", http.StatusUnprocessableEntity, "page must be at least 1"},
		{"page size zero", "/api/tweets?page_size=0", http.StatusUnprocessableEntity, "page_size must be between 1 and 100"},
		{"page size too large", "/api/tweets?page_size=101", http.StatusUnprocessableEntity, "page_size must be between 1 and 100"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newHandlerFixture()
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			rec := httptest.NewRecorder()
			f.h.ListTweets(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if detail := decodeDetail(t, rec); detail != tt.wantDetail {
				t.Errorf("detail = %q, want %q", detail, tt.wantDetail)
			}
		})
	}
}

func TestGetTweet(t *testing.T) {
	f := newHandlerFixture()
	f.tweets.tweets["100"] = &models.Tweet{TweetID: "100", Text: "launch update", DedupGroupID: "g1"}
	f.summaries.summaries["100"] = &models.Summary{TweetID: "100", SummaryText: "Launch happened."}
	f.groups.groups["g1"] = &models.DedupGroup{GroupID: "g1", RepresentativeTweetID: "100"}

	req := httptest.NewRequest(http.MethodGet, "/api/tweets/100", nil)
	rec := httptest.NewRecorder()
	f.h.GetTweet(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	var detail models.TweetDetail
	decodeInto(t, rec, &detail)
	if detail.TweetID != "100" {
		t.Errorf("tweet id = %s", detail.TweetID)
	}
	if detail.Summary == nil || detail.Summary.SummaryText != "Launch happened." {
		t.Errorf("summary = %+v, want embedded", detail.Summary)
	}
	if detail.DedupGroup == nil || detail.DedupGroup.GroupID != "g1" {
		t.Errorf("group = %+v, want embedded", detail.DedupGroup)
	}
}

func TestGetTweetWithoutGroup(t *testing.T) {
	f := newHandlerFixture()
	f.tweets.tweets["100"] = &models.Tweet{TweetID: "100"}

	req := httptest.NewRequest(http.MethodGet, "/api/tweets/100", nil)
	rec := httptest.NewRecorder()
	f.h.GetTweet(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if f.groups.calls != 0 {
		t.Error("group store must not be queried for an ungrouped tweet")
	}
	if strings.Contains(rec.Body.String(), `"dedup_group":{`) {
		t.Errorf("body = %s, want no embedded group", rec.Body.String())
	}
}

func TestGetTweetNotFound(t *testing.T) {
	f := newHandlerFixture()
	req := httptest.NewRequest(http.MethodGet, "/api/tweets/404404", nil)
	rec := httptest.NewRecorder()
	f.h.GetTweet(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if detail := decodeDetail(t, rec); detail != "Tweet not found" {
		t.Errorf("detail = %q", detail)
	}
}

func TestGetTweetStoreError(t *testing.T) {
	f := newHandlerFixture()
	f.tweets.err = errors.New("connection refused")

	req := httptest.NewRequest(http.MethodGet, "/api/tweets/100", nil)
	rec := httptest.NewRecorder()
	f.h.GetTweet(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if detail := decodeDetail(t, rec); detail != "Internal server error" {
		t.Errorf("detail = %q, internals must not leak", detail)
	}
}

func TestGetFeed(t *testing.T) {
	f := newHandlerFixture()
	f.tweets.feed = []models.Tweet{
		{TweetID: "1", Text: "first"},
		{TweetID: "2", Text: "second"},
	}
	f.summaries.summaries["2"] = &models.Summary{TweetID: "2", SummaryText: "Second summarised."}

	req := httptest.NewRequest(http.MethodGet, "/api/feed?since=2026-08-20T00:00:00Z", nil)
	rec := httptest.NewRecorder()
	f.h.GetFeed(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	var resp feedResponse
	decodeInto(t, rec, &resp)
	if resp.Count != 2 || len(resp.Items) != 2 {
		t.Fatalf("count = %d, want 2", resp.Count)
	}
	if resp.Items[0].Summary != nil {
		t.Error("item 1 has no summary stored, none expected")
	}
	if resp.Items[1].Summary == nil || resp.Items[1].Summary.SummaryText != "Second summarised." {
		t.Errorf("item 2 summary = %+v, want attached", resp.Items[1].Summary)
	}

	want := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	if !f.tweets.feedSince.Equal(want) {
		t.Errorf("since = %v, want %v", f.tweets.feedSince, want)
	}
	if !f.tweets.feedUntil.IsZero() {
		t.Errorf("until = %v, want zero when absent", f.tweets.feedUntil)
	}
	if f.tweets.feedLimit != 50 {
		t.Errorf("limit = %d, want the default 50", f.tweets.feedLimit)
	}
}

func TestGetFeedWithoutSummaries(t *testing.T) {
	f := newHandlerFixture()
	f.tweets.feed = []models.Tweet{{TweetID: "1"}}
	f.summaries.err = errors.New("must not be called")

	req := httptest.NewRequest(http.MethodGet, "/api/feed?include_summary=false", nil)
	rec := httptest.NewRecorder()
	f.h.GetFeed(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	if f.summaries.calls != 0 {
		t.Error("summary store queried despite include_summary=false")
	}
}

func TestGetFeedValidation(t *testing.T) {
	tests := []struct {
		name       string
		url        string
		wantStatus int
		wantDetail string
	}{
		{"bad since", "/api/feed?since=yesterday", http.StatusBadRequest, "since must be an RFC3339 timestamp"},
		{"bad until", "/api/feed?until=2026-08-99T00:00:00Z", http.StatusBadRequest, "until must be an RFC3339 timestamp"},
		{"limit not a number", "/api/feed?limit=all", http.StatusBadRequest, "limit must be an integer"},
		{"limit zero", "/api/feed?limit=0", http.StatusUnprocessableEntity, "limit must be between 1 and 200"},
		{"limit too large", "/api/feed?limit=201", http.StatusUnprocessableEntity, "limit must be between 1 and 200"},
		{"bad include_summary", "/api/feed?include_summary=banana", http.StatusBadRequest, "include_summary must be a boolean"},
		{"bad apply_filters", "/api/feed?apply_filters=banana", http.StatusBadRequest, "apply_filters must be a boolean"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newHandlerFixture()
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			rec := httptest.NewRecorder()
			f.h.GetFeed(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if detail := decodeDetail(t, rec); detail != tt.wantDetail {
				t.Errorf("detail = %q, want %q", detail, tt.wantDetail)
			}
		})
	}
}

func TestGetFeedAppliesFilters(t *testing.T) {
	f := newHandlerFixture()
	f.tweets.feed = []models.Tweet{
		{TweetID: "1", Text: "Starship launch scrubbed"},
		{TweetID: "2", Text: "unrelated chatter"},
	}
	f.filters.rules[7] = []models.FilterRule{
		{UserID: 7, FilterType: models.FilterTypeKeyword, Value: "launch"},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/feed?apply_filters=true&include_summary=false", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{UserID: 7, Email: "ops@example.com"}))
	rec := httptest.NewRecorder()
	f.h.GetFeed(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	var resp feedResponse
	decodeInto(t, rec, &resp)
	if resp.Count != 1 || resp.Items[0].TweetID != "1" {
		t.Errorf("filtered feed = %+v, want only the launch tweet", resp.Items)
	}
}

func TestGetFeedEmptyIsNotNull(t *testing.T) {
	f := newHandlerFixture()
	req := httptest.NewRequest(http.MethodGet, "/api/feed", nil)
	rec := httptest.NewRecorder()
	f.h.GetFeed(rec, req)

	if !strings.Contains(rec.Body.String(), `"items":[]`) {
		t.Errorf("body = %s, want an empty array not null", rec.Body.String())
	}
}

func TestHealth(t *testing.T) {
	f := newHandlerFixture()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	f.h.Health(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp healthResponse
	decodeInto(t, rec, &resp)
	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
	if resp.Components["database"] != "ok" || resp.Components["scheduler"] != "idle" {
		t.Errorf("components = %v", resp.Components)
	}
}

func TestHealthDegraded(t *testing.T) {
	f := newHandlerFixture()
	f.dbErr = errors.New("dial tcp: connection refused")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	f.h.Health(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, degraded must still be 200", rec.Code)
	}
	var resp healthResponse
	decodeInto(t, rec, &resp)
	if resp.Status != "degraded" || resp.Components["database"] != "error" {
		t.Errorf("resp = %+v, want degraded database", resp)
	}
}
