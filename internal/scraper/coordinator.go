package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sna-ai/sna/internal/metrics"
	"github.com/sna-ai/sna/internal/models"
)

// TweetFetcher defines the upstream client surface the coordinator needs.
type TweetFetcher interface {
	FetchUserTweets(ctx context.Context, username string, limit int) ([]models.Tweet, error)
}

// TweetStore defines tweet persistence needed by the coordinator.
type TweetStore interface {
	StoreBatch(ctx context.Context, tweets []models.Tweet) ([]string, int, error)
}

// StatsStore defines fetch statistics persistence.
type StatsStore interface {
	Get(ctx context.Context, username string) (*models.FetchStats, error)
	Upsert(ctx context.Context, s *models.FetchStats) error
}

// RunStore records run history rows.
type RunStore interface {
	Record(ctx context.Context, run *models.ScrapeRun) error
}

// PostProcessor launches follow-up work for newly stored tweets and returns
// a tracking task id, or "" when nothing was enqueued. Implementations must
// not block.
type PostProcessor interface {
	ProcessNewTweets(tweetIDs []string) string
}

// CoordinatorConfig holds fan-out behaviour for scrape runs.
type CoordinatorConfig struct {
	MaxConcurrentScrapes int
	RunTimeout           time.Duration
	Limits               LimitConfig
}

// Coordinator orchestrates a scrape run: per-user limit calculation, fetch,
// validation, storage, stats update, and the optional post-processing hook.
type Coordinator struct {
	fetcher TweetFetcher
	tweets  TweetStore
	stats   StatsStore
	runs    RunStore
	post    PostProcessor
	metrics *metrics.Collector
	cfg     CoordinatorConfig
	logger  *slog.Logger
	now     func() time.Time
}

// NewCoordinator creates a coordinator. runs may be nil to skip history.
func NewCoordinator(fetcher TweetFetcher, tweets TweetStore, stats StatsStore, runs RunStore, cfg CoordinatorConfig, logger *slog.Logger) *Coordinator {
	if cfg.MaxConcurrentScrapes <= 0 {
		cfg.MaxConcurrentScrapes = 3
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 600 * time.Second
	}
	if cfg.Limits.DefaultLimit == 0 {
		cfg.Limits = DefaultLimitConfig()
	}
	return &Coordinator{
		fetcher: fetcher,
		tweets:  tweets,
		stats:   stats,
		runs:    runs,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// SetPostProcessor wires the hook that runs dedup and summarisation over
// newly stored tweets. Set once at startup, before any run.
func (c *Coordinator) SetPostProcessor(p PostProcessor) {
	c.post = p
}

// SetMetrics wires the Prometheus collector. Set once at startup, before
// any run; a nil collector disables instrumentation.
func (c *Coordinator) SetMetrics(m *metrics.Collector) {
	c.metrics = m
}

type userResult struct {
	username string
	fetched  int
	newIDs   []string
	skipped  int
	err      error
}

// ScrapeUsers runs one scrape over the given usernames. Duplicate names are
// collapsed. A per-user failure is recorded and the run continues; an
// upstream 401 aborts the run and is returned as an error alongside the
// partial result. progress, when non-nil, is called after each user with
// (completed, total).
func (c *Coordinator) ScrapeUsers(ctx context.Context, usernames []string, trigger models.ScrapeTrigger, progress func(done, total int)) (*models.ScrapeResult, error) {
	return c.run(ctx, usernames, trigger, 0, progress)
}

// ScrapeUsersWithLimit is ScrapeUsers with a fixed per-user fetch size that
// bypasses the adaptive limit calculator. Fetch stats still update.
func (c *Coordinator) ScrapeUsersWithLimit(ctx context.Context, usernames []string, limit int, trigger models.ScrapeTrigger, progress func(done, total int)) (*models.ScrapeResult, error) {
	return c.run(ctx, usernames, trigger, limit, progress)
}

func (c *Coordinator) run(ctx context.Context, usernames []string, trigger models.ScrapeTrigger, limitOverride int, progress func(done, total int)) (*models.ScrapeResult, error) {
	usernames = dedupeUsernames(usernames)
	if len(usernames) == 0 {
		return nil, fmt.Errorf("no usernames to scrape")
	}

	started := c.now()
	runCtx, cancel := context.WithTimeout(ctx, c.cfg.RunTimeout)
	defer cancel()

	c.logger.Info("scrape run started",
		"trigger", string(trigger),
		"users", len(usernames),
		"max_concurrent", c.cfg.MaxConcurrentScrapes)

	var (
		wg         sync.WaitGroup
		authFailed atomic.Bool
		results    = make(chan userResult, len(usernames))
		sem        = make(chan struct{}, c.cfg.MaxConcurrentScrapes)
	)

	for _, username := range usernames {
		wg.Add(1)
		go func(username string) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-runCtx.Done():
				results <- userResult{username: username, err: runCtx.Err()}
				return
			}
			if authFailed.Load() {
				results <- userResult{username: username, err: ErrAuthFailed}
				return
			}

			res := c.scrapeUser(runCtx, username, limitOverride)
			if errors.Is(res.err, ErrAuthFailed) {
				authFailed.Store(true)
				cancel()
			}
			results <- res
		}(username)
	}

	wg.Wait()
	close(results)

	result := &models.ScrapeResult{
		TotalUsers: len(usernames),
		Errors:     make(map[string]string),
	}
	var allNewIDs []string
	done := 0
	for res := range results {
		done++
		if progress != nil {
			progress(done, len(usernames))
		}
		if res.err != nil {
			result.FailedUsers++
			result.Errors[res.username] = res.err.Error()
			continue
		}
		result.SuccessfulUsers++
		result.TotalTweets += res.fetched
		result.NewTweets += len(res.newIDs)
		result.SkippedTweets += res.skipped
		allNewIDs = append(allNewIDs, res.newIDs...)
	}
	if len(result.Errors) == 0 {
		result.Errors = nil
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		result.TimedOut = true
	}
	result.ElapsedMS = c.now().Sub(started).Milliseconds()

	var fatal error
	if authFailed.Load() {
		fatal = fmt.Errorf("scrape run aborted: %w", ErrAuthFailed)
	}

	c.recordRun(ctx, trigger, started, result, fatal)
	c.metrics.ObserveScrapeRun(trigger, result, fatal)

	if fatal != nil {
		c.logger.Error("scrape run aborted", "error", fatal, "elapsed_ms", result.ElapsedMS)
		return result, fatal
	}

	if c.post != nil && len(allNewIDs) > 0 {
		result.SummaryTaskID = c.post.ProcessNewTweets(allNewIDs)
	}

	c.logger.Info("scrape run finished",
		"trigger", string(trigger),
		"successful_users", result.SuccessfulUsers,
		"failed_users", result.FailedUsers,
		"new_tweets", result.NewTweets,
		"skipped_tweets", result.SkippedTweets,
		"timed_out", result.TimedOut,
		"elapsed_ms", result.ElapsedMS)
	return result, nil
}

func (c *Coordinator) scrapeUser(ctx context.Context, username string, limitOverride int) userResult {
	res := userResult{username: username}

	prior, err := c.stats.Get(ctx, username)
	if err != nil {
		res.err = fmt.Errorf("failed to load fetch stats: %w", err)
		return res
	}

	limit := limitOverride
	if limit <= 0 {
		limit = NextLimit(prior, c.cfg.Limits)
	}
	tweets, err := c.fetcher.FetchUserTweets(ctx, username, limit)
	if err != nil {
		res.err = err
		return res
	}
	res.fetched = len(tweets)

	valid := tweets[:0]
	for i := range tweets {
		if err := validateTweet(&tweets[i]); err != nil {
			c.logger.Warn("dropping invalid tweet",
				"username", username,
				"tweet_id", tweets[i].TweetID,
				"error", err)
			continue
		}
		valid = append(valid, tweets[i])
	}

	// Oldest first, so an interrupted transaction keeps a contiguous
	// chronological prefix.
	sort.Slice(valid, func(i, j int) bool {
		if valid[i].CreatedAt.Equal(valid[j].CreatedAt) {
			return valid[i].TweetID < valid[j].TweetID
		}
		return valid[i].CreatedAt.Before(valid[j].CreatedAt)
	})

	newIDs, skipped, err := c.tweets.StoreBatch(ctx, valid)
	if err != nil {
		res.err = fmt.Errorf("failed to store tweets: %w", err)
		return res
	}
	res.newIDs = newIDs
	res.skipped = skipped

	updated := UpdateStats(prior, username, res.fetched, len(newIDs), c.now(), c.cfg.Limits.Alpha)
	if err := c.stats.Upsert(ctx, &updated); err != nil {
		res.err = fmt.Errorf("failed to update fetch stats: %w", err)
		return res
	}

	c.logger.Debug("user scraped",
		"username", username,
		"limit", limit,
		"fetched", res.fetched,
		"new", len(newIDs),
		"skipped", skipped)
	return res
}

// recordRun writes the history row. Failures are logged, not propagated;
// history must never fail a run that already happened.
func (c *Coordinator) recordRun(ctx context.Context, trigger models.ScrapeTrigger, started time.Time, result *models.ScrapeResult, fatal error) {
	if c.runs == nil {
		return
	}

	run := &models.ScrapeRun{
		RunID:           uuid.New().String(),
		Trigger:         trigger,
		StartedAt:       started,
		FinishedAt:      c.now(),
		TotalUsers:      result.TotalUsers,
		SuccessfulUsers: result.SuccessfulUsers,
		FailedUsers:     result.FailedUsers,
		TotalTweets:     result.TotalTweets,
		NewTweets:       result.NewTweets,
		SkippedTweets:   result.SkippedTweets,
	}
	if fatal != nil {
		run.Error = fatal.Error()
	}

	// The run context may already be cancelled; history still gets written.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := c.runs.Record(recordCtx, run); err != nil {
		c.logger.Error("failed to record scrape run", "error", err)
	}
}

func dedupeUsernames(usernames []string) []string {
	seen := make(map[string]struct{}, len(usernames))
	var out []string
	for _, u := range usernames {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
