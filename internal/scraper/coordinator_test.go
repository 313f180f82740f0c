package scraper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sna-ai/sna/internal/models"
)

type fakeFetcher struct {
	mu     sync.Mutex
	tweets map[string][]models.Tweet
	errs   map[string]error
	limits map[string]int
	delay  time.Duration
}

func (f *fakeFetcher) FetchUserTweets(ctx context.Context, username string, limit int) ([]models.Tweet, error) {
	f.mu.Lock()
	if f.limits == nil {
		f.limits = make(map[string]int)
	}
	f.limits[username] = limit
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if err := f.errs[username]; err != nil {
		return nil, err
	}
	return f.tweets[username], nil
}

func (f *fakeFetcher) limitFor(username string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.limits[username]
}

type fakeTweetStore struct {
	mu      sync.Mutex
	known   map[string]bool
	batches [][]models.Tweet
	err     error
}

func (s *fakeTweetStore) StoreBatch(ctx context.Context, tweets []models.Tweet) ([]string, int, error) {
	if s.err != nil {
		return nil, 0, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.known == nil {
		s.known = make(map[string]bool)
	}
	s.batches = append(s.batches, tweets)

	var newIDs []string
	skipped := 0
	for _, t := range tweets {
		if s.known[t.TweetID] {
			skipped++
			continue
		}
		s.known[t.TweetID] = true
		newIDs = append(newIDs, t.TweetID)
	}
	return newIDs, skipped, nil
}

type fakeStatsStore struct {
	mu    sync.Mutex
	stats map[string]*models.FetchStats
}

func (s *fakeStatsStore) Get(ctx context.Context, username string) (*models.FetchStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.stats[username]; ok {
		copied := *st
		return &copied, nil
	}
	return nil, nil
}

func (s *fakeStatsStore) Upsert(ctx context.Context, st *models.FetchStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stats == nil {
		s.stats = make(map[string]*models.FetchStats)
	}
	copied := *st
	s.stats[st.Username] = &copied
	return nil
}

type fakeRunStore struct {
	mu   sync.Mutex
	runs []models.ScrapeRun
}

func (s *fakeRunStore) Record(ctx context.Context, run *models.ScrapeRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, *run)
	return nil
}

type fakePostProcessor struct {
	mu     sync.Mutex
	called int
	ids    []string
}

func (p *fakePostProcessor) ProcessNewTweets(tweetIDs []string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.called++
	p.ids = append([]string(nil), tweetIDs...)
	return "task-123"
}

func tweetAt(id, username string, at time.Time) models.Tweet {
	return models.Tweet{
		TweetID:        id,
		Text:           "tweet " + id,
		AuthorUsername: username,
		CreatedAt:      at,
	}
}

func newTestCoordinator(fetcher *fakeFetcher, tweets *fakeTweetStore, stats *fakeStatsStore, runs RunStore) *Coordinator {
	return NewCoordinator(fetcher, tweets, stats, runs, CoordinatorConfig{
		MaxConcurrentScrapes: 2,
		RunTimeout:           5 * time.Second,
	}, testLogger())
}

func TestScrapeUsers_Success(t *testing.T) {
	base := time.Date(2025, 8, 19, 12, 0, 0, 0, time.UTC)
	fetcher := &fakeFetcher{
		tweets: map[string][]models.Tweet{
			"alice": {tweetAt("a1", "alice", base), tweetAt("a2", "alice", base.Add(time.Minute))},
			"bob":   {tweetAt("b1", "bob", base), tweetAt("b2", "bob", base.Add(time.Minute))},
		},
	}
	tweets := &fakeTweetStore{known: map[string]bool{"b1": true}}
	stats := &fakeStatsStore{}
	runs := &fakeRunStore{}
	post := &fakePostProcessor{}

	c := newTestCoordinator(fetcher, tweets, stats, runs)
	c.SetPostProcessor(post)

	result, err := c.ScrapeUsers(context.Background(), []string{"alice", "bob"}, models.ScrapeTriggerManual, nil)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}

	if result.TotalUsers != 2 || result.SuccessfulUsers != 2 || result.FailedUsers != 0 {
		t.Errorf("unexpected user counts: %+v", result)
	}
	if result.TotalTweets != 4 || result.NewTweets != 3 || result.SkippedTweets != 1 {
		t.Errorf("unexpected tweet counts: total=%d new=%d skipped=%d",
			result.TotalTweets, result.NewTweets, result.SkippedTweets)
	}
	if result.SummaryTaskID != "task-123" {
		t.Errorf("expected post-processing task id, got %q", result.SummaryTaskID)
	}
	if len(post.ids) != 3 {
		t.Errorf("expected 3 new ids handed to post processor, got %v", post.ids)
	}

	st, _ := stats.Get(context.Background(), "alice")
	if st == nil || st.TotalFetches != 1 || st.LastFetchedCount != 2 || st.LastNewCount != 2 {
		t.Errorf("unexpected alice stats: %+v", st)
	}

	if len(runs.runs) != 1 {
		t.Fatalf("expected 1 recorded run, got %d", len(runs.runs))
	}
	run := runs.runs[0]
	if run.Trigger != models.ScrapeTriggerManual || run.NewTweets != 3 || run.Error != "" {
		t.Errorf("unexpected run row: %+v", run)
	}
	if run.RunID == "" || run.FinishedAt.Before(run.StartedAt) {
		t.Errorf("run row timestamps wrong: %+v", run)
	}
}

func TestScrapeUsers_StoresOldestFirst(t *testing.T) {
	base := time.Date(2025, 8, 19, 12, 0, 0, 0, time.UTC)
	// Upstream returns newest first.
	fetcher := &fakeFetcher{
		tweets: map[string][]models.Tweet{
			"alice": {
				tweetAt("a3", "alice", base.Add(2*time.Minute)),
				tweetAt("a2", "alice", base.Add(time.Minute)),
				tweetAt("a1", "alice", base),
			},
		},
	}
	tweets := &fakeTweetStore{}

	c := newTestCoordinator(fetcher, tweets, &fakeStatsStore{}, nil)
	if _, err := c.ScrapeUsers(context.Background(), []string{"alice"}, models.ScrapeTriggerManual, nil); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}

	if len(tweets.batches) != 1 {
		t.Fatalf("expected 1 batch, got %d", len(tweets.batches))
	}
	batch := tweets.batches[0]
	for i, want := range []string{"a1", "a2", "a3"} {
		if batch[i].TweetID != want {
			t.Fatalf("batch[%d] = %s, want %s", i, batch[i].TweetID, want)
		}
	}
}

func TestScrapeUsers_PartialFailure(t *testing.T) {
	base := time.Date(2025, 8, 19, 12, 0, 0, 0, time.UTC)
	fetcher := &fakeFetcher{
		tweets: map[string][]models.Tweet{
			"alice": {tweetAt("a1", "alice", base)},
		},
		errs: map[string]error{
			"bob": errors.New("upstream returned status 500"),
		},
	}
	post := &fakePostProcessor{}

	c := newTestCoordinator(fetcher, &fakeTweetStore{}, &fakeStatsStore{}, nil)
	c.SetPostProcessor(post)

	result, err := c.ScrapeUsers(context.Background(), []string{"alice", "bob"}, models.ScrapeTriggerManual, nil)
	if err != nil {
		t.Fatalf("per-user failure must not fail the run: %v", err)
	}

	if result.SuccessfulUsers != 1 || result.FailedUsers != 1 {
		t.Errorf("unexpected counts: %+v", result)
	}
	if msg, ok := result.Errors["bob"]; !ok || msg == "" {
		t.Errorf("expected error entry for bob, got %v", result.Errors)
	}
	if post.called != 1 || len(post.ids) != 1 {
		t.Errorf("post processor should still run for alice's tweet, got %v", post.ids)
	}
}

func TestScrapeUsers_AuthFailureAborts(t *testing.T) {
	fetcher := &fakeFetcher{
		errs: map[string]error{
			"alice": fmt.Errorf("fetching tweets for alice: %w", ErrAuthFailed),
		},
	}
	runs := &fakeRunStore{}
	post := &fakePostProcessor{}

	c := newTestCoordinator(fetcher, &fakeTweetStore{}, &fakeStatsStore{}, runs)
	c.SetPostProcessor(post)

	result, err := c.ScrapeUsers(context.Background(), []string{"alice"}, models.ScrapeTriggerScheduled, nil)
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
	if result == nil || result.FailedUsers != 1 {
		t.Fatalf("expected partial result with failure, got %+v", result)
	}
	if post.called != 0 {
		t.Error("post processor must not run after an aborted run")
	}
	if len(runs.runs) != 1 || runs.runs[0].Error == "" {
		t.Errorf("expected run row with error, got %+v", runs.runs)
	}
}

func TestScrapeUsers_DeduplicatesInput(t *testing.T) {
	base := time.Date(2025, 8, 19, 12, 0, 0, 0, time.UTC)
	fetcher := &fakeFetcher{
		tweets: map[string][]models.Tweet{
			"alice": {tweetAt("a1", "alice", base)},
		},
	}

	c := newTestCoordinator(fetcher, &fakeTweetStore{}, &fakeStatsStore{}, nil)
	result, err := c.ScrapeUsers(context.Background(), []string{"alice", "alice", "alice"}, models.ScrapeTriggerManual, nil)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if result.TotalUsers != 1 {
		t.Errorf("expected duplicates collapsed to 1 user, got %d", result.TotalUsers)
	}
}

func TestScrapeUsers_EmptyInput(t *testing.T) {
	c := newTestCoordinator(&fakeFetcher{}, &fakeTweetStore{}, &fakeStatsStore{}, nil)
	if _, err := c.ScrapeUsers(context.Background(), nil, models.ScrapeTriggerManual, nil); err == nil {
		t.Fatal("expected error for empty username list")
	}
}

func TestScrapeUsers_LimitFromStats(t *testing.T) {
	base := time.Date(2025, 8, 19, 12, 0, 0, 0, time.UTC)
	fetcher := &fakeFetcher{
		tweets: map[string][]models.Tweet{
			"quiet": {},
			"fresh": {tweetAt("f1", "fresh", base)},
		},
	}
	stats := &fakeStatsStore{
		stats: map[string]*models.FetchStats{
			"quiet": {Username: "quiet", ConsecutiveEmptyFetches: 3},
		},
	}

	c := newTestCoordinator(fetcher, &fakeTweetStore{}, stats, nil)
	if _, err := c.ScrapeUsers(context.Background(), []string{"quiet", "fresh"}, models.ScrapeTriggerManual, nil); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}

	if got := fetcher.limitFor("quiet"); got != 10 {
		t.Errorf("expected minimum limit 10 for quiet account, got %d", got)
	}
	if got := fetcher.limitFor("fresh"); got != 100 {
		t.Errorf("expected default limit 100 for fresh account, got %d", got)
	}
}

func TestScrapeUsers_StoreFailure(t *testing.T) {
	base := time.Date(2025, 8, 19, 12, 0, 0, 0, time.UTC)
	fetcher := &fakeFetcher{
		tweets: map[string][]models.Tweet{
			"alice": {tweetAt("a1", "alice", base)},
		},
	}
	tweets := &fakeTweetStore{err: errors.New("connection refused")}

	c := newTestCoordinator(fetcher, tweets, &fakeStatsStore{}, nil)
	result, err := c.ScrapeUsers(context.Background(), []string{"alice"}, models.ScrapeTriggerManual, nil)
	if err != nil {
		t.Fatalf("store failure is per-user, not fatal: %v", err)
	}
	if result.FailedUsers != 1 || result.Errors["alice"] == "" {
		t.Errorf("expected alice marked failed, got %+v", result)
	}
}

func TestScrapeUsers_Timeout(t *testing.T) {
	fetcher := &fakeFetcher{delay: 200 * time.Millisecond}
	c := NewCoordinator(fetcher, &fakeTweetStore{}, &fakeStatsStore{}, nil, CoordinatorConfig{
		MaxConcurrentScrapes: 1,
		RunTimeout:           20 * time.Millisecond,
	}, testLogger())

	result, err := c.ScrapeUsers(context.Background(), []string{"alice"}, models.ScrapeTriggerManual, nil)
	if err != nil {
		t.Fatalf("timeout is reported on the result, not as an error: %v", err)
	}
	if !result.TimedOut {
		t.Error("expected TimedOut=true")
	}
	if result.FailedUsers != 1 {
		t.Errorf("expected the slow user to fail, got %+v", result)
	}
}

func TestScrapeUsers_Progress(t *testing.T) {
	base := time.Date(2025, 8, 19, 12, 0, 0, 0, time.UTC)
	fetcher := &fakeFetcher{
		tweets: map[string][]models.Tweet{
			"alice": {tweetAt("a1", "alice", base)},
			"bob":   {tweetAt("b1", "bob", base)},
		},
	}

	var calls [][2]int
	progress := func(done, total int) {
		calls = append(calls, [2]int{done, total})
	}

	c := newTestCoordinator(fetcher, &fakeTweetStore{}, &fakeStatsStore{}, nil)
	if _, err := c.ScrapeUsers(context.Background(), []string{"alice", "bob"}, models.ScrapeTriggerManual, progress); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}

	if len(calls) != 2 {
		t.Fatalf("expected 2 progress calls, got %d", len(calls))
	}
	if calls[len(calls)-1] != [2]int{2, 2} {
		t.Errorf("expected final progress (2,2), got %v", calls[len(calls)-1])
	}
}
