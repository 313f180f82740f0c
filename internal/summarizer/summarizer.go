package summarizer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/sna-ai/sna/internal/metrics"
	"github.com/sna-ai/sna/internal/models"
)

// TweetStore loads the tweets a batch operates on.
type TweetStore interface {
	GetByIDs(ctx context.Context, ids []string) ([]models.Tweet, error)
	GetByID(ctx context.Context, id string) (*models.Tweet, error)
}

// GroupStore resolves dedup group membership for the group partition.
type GroupStore interface {
	GetGroup(ctx context.Context, groupID string) (*models.DedupGroup, error)
}

// SummaryStore persists summary records and answers content-hash lookups.
type SummaryStore interface {
	Upsert(ctx context.Context, s *models.Summary) error
	GetByContentHash(ctx context.Context, hash string) (*models.Summary, error)
}

// Generator produces one LLM response per request. *Router satisfies it.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

const defaultMaxConcurrent = 5

// Summarizer turns batches of tweets into bilingual summary records,
// spending LLM tokens only on texts the cache has not seen.
type Summarizer struct {
	tweets        TweetStore
	groups        GroupStore
	store         SummaryStore
	router        Generator
	cache         *Cache
	metrics       *metrics.Collector
	maxConcurrent int
	logger        *slog.Logger
	now           func() time.Time
}

func NewSummarizer(tweets TweetStore, groups GroupStore, store SummaryStore, router Generator, cache *Cache, maxConcurrent int, logger *slog.Logger) *Summarizer {
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	if cache == nil {
		cache = NewCache()
	}
	return &Summarizer{
		tweets:        tweets,
		groups:        groups,
		store:         store,
		router:        router,
		cache:         cache,
		maxConcurrent: maxConcurrent,
		logger:        logger,
		now:           time.Now,
	}
}

// SetMetrics wires the Prometheus collector. Set once at startup; a nil
// collector disables instrumentation.
func (s *Summarizer) SetMetrics(m *metrics.Collector) {
	s.metrics = m
}

// unit is one piece of summarisation work: a single tweet whose text is
// summarised and against whose id the record is written. For a dedup group
// that is the representative; members share the record through the cache
// key. members is how many batch tweets the unit stands for; cache hits
// and misses are credited per member so the counters add up to the batch
// size.
type unit struct {
	target  models.Tweet
	key     string
	members int
}

// Summarise processes a batch of tweet ids. An empty batch is zero work,
// not an error. Per-tweet failures land in the result's error map; only
// load failures abort the batch. The progress callback, when non-nil, is
// invoked after each unit of work resolves.
func (s *Summarizer) Summarise(ctx context.Context, tweetIDs []string, forceRefresh bool, progress func(done, total int)) (*models.SummaryBatchResult, error) {
	start := s.now()

	tweets, err := s.tweets.GetByIDs(ctx, tweetIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load tweets: %w", err)
	}

	result := &models.SummaryBatchResult{
		TotalTweets:   len(tweets),
		ProvidersUsed: make(map[string]int),
		Errors:        make(map[string]string),
	}
	if len(tweets) == 0 {
		result.ProvidersUsed = nil
		result.Errors = nil
		result.ProcessingTimeMS = s.now().Sub(start).Milliseconds()
		return result, nil
	}

	units := s.partition(ctx, tweets, result)
	total := len(units)
	done := 0
	step := func() {
		done++
		if progress != nil {
			progress(done, total)
		}
	}

	// Cache phase: resolve what we can without spending tokens.
	pending := units[:0]
	for _, u := range units {
		if forceRefresh {
			result.CacheMisses += u.members
			pending = append(pending, u)
			continue
		}
		hit, err := s.serveFromCache(ctx, u)
		if err != nil {
			result.Errors[u.target.TweetID] = err.Error()
			step()
			continue
		}
		if hit {
			result.CacheHits += u.members
			step()
			continue
		}
		result.CacheMisses += u.members
		pending = append(pending, u)
	}

	s.generateAll(ctx, pending, result, step)

	if len(result.Errors) == 0 {
		result.Errors = nil
	}
	if len(result.ProvidersUsed) == 0 {
		result.ProvidersUsed = nil
	}
	result.ProcessingTimeMS = s.now().Sub(start).Milliseconds()
	s.metrics.ObserveSummaryBatch(result)

	s.logger.Info("summary batch complete",
		"total_tweets", result.TotalTweets,
		"groups", result.TotalGroups,
		"independent", result.IndependentTweets,
		"cache_hits", result.CacheHits,
		"cache_misses", result.CacheMisses,
		"tokens", result.TotalTokens,
		"cost_usd", result.TotalCostUSD,
		"errors", len(result.Errors),
		"duration", s.now().Sub(start))
	return result, nil
}

// partition splits the batch into group representatives and standalone
// tweets, resolving each group once. A group whose lookup fails degrades
// to standalone units rather than dropping its members.
func (s *Summarizer) partition(ctx context.Context, tweets []models.Tweet, result *models.SummaryBatchResult) []unit {
	byID := make(map[string]models.Tweet, len(tweets))
	for _, t := range tweets {
		byID[t.TweetID] = t
	}

	grouped := make(map[string][]models.Tweet)
	var standalone []models.Tweet
	for _, t := range tweets {
		if t.DedupGroupID != "" {
			grouped[t.DedupGroupID] = append(grouped[t.DedupGroupID], t)
			continue
		}
		standalone = append(standalone, t)
	}

	groupIDs := make([]string, 0, len(grouped))
	for id := range grouped {
		groupIDs = append(groupIDs, id)
	}
	sort.Strings(groupIDs)

	units := make([]unit, 0, len(groupIDs)+len(standalone))
	for _, groupID := range groupIDs {
		members := grouped[groupID]
		group, err := s.groups.GetGroup(ctx, groupID)
		if err != nil {
			s.logger.Warn("dedup group lookup failed, treating members as standalone",
				"group_id", groupID, "members", len(members), "error", err)
			for _, t := range members {
				units = append(units, unit{target: t, key: StandaloneContentHash(t.TweetID), members: 1})
				result.IndependentTweets++
			}
			continue
		}
		result.TotalGroups++

		rep, ok := byID[group.RepresentativeTweetID]
		if !ok {
			fetched, err := s.tweets.GetByID(ctx, group.RepresentativeTweetID)
			if err != nil {
				result.Errors[group.RepresentativeTweetID] = fmt.Sprintf("failed to load group representative: %v", err)
				continue
			}
			rep = *fetched
		}
		units = append(units, unit{
			target:  rep,
			key:     GroupContentHash(group.DedupType, group.RepresentativeTweetID),
			members: len(members),
		})
	}

	for _, t := range standalone {
		units = append(units, unit{target: t, key: StandaloneContentHash(t.TweetID), members: 1})
		result.IndependentTweets++
	}
	return units
}

// serveFromCache resolves a unit from the in-process cache or, failing
// that, from a previously persisted record with the same content hash.
// An in-process hit writes a fresh record marked cached with zero token
// spend; a database hit only warms the cache, the record already exists.
func (s *Summarizer) serveFromCache(ctx context.Context, u unit) (bool, error) {
	if cached, ok := s.cache.Get(u.key); ok {
		rec := s.cachedRecord(cached, u)
		if err := s.store.Upsert(ctx, rec); err != nil {
			return false, fmt.Errorf("failed to persist cached summary: %v", err)
		}
		return true, nil
	}

	existing, err := s.store.GetByContentHash(ctx, u.key)
	if err != nil {
		return false, fmt.Errorf("content hash lookup failed: %v", err)
	}
	if existing != nil {
		s.cache.Set(u.key, *existing)
		return true, nil
	}
	return false, nil
}

// cachedRecord clones a cache entry for a new serve: same texts and model
// provenance, zero new tokens and cost.
func (s *Summarizer) cachedRecord(cached models.Summary, u unit) *models.Summary {
	now := s.now().UTC()
	return &models.Summary{
		SummaryID:          uuid.New().String(),
		TweetID:            u.target.TweetID,
		SummaryText:        cached.SummaryText,
		TranslationText:    cached.TranslationText,
		ModelProvider:      cached.ModelProvider,
		ModelName:          cached.ModelName,
		Cached:             true,
		IsGeneratedSummary: cached.IsGeneratedSummary,
		ContentHash:        u.key,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

type summaryJob struct {
	index int
	u     unit
}

type summaryJobResult struct {
	index           int
	tweetID         string
	summaryResp     *Response
	translationResp *Response
	err             error
}

// generateAll runs the pending units through a bounded worker pool and
// folds the outcomes into the batch result.
func (s *Summarizer) generateAll(ctx context.Context, pending []unit, result *models.SummaryBatchResult, step func()) {
	if len(pending) == 0 {
		return
	}

	workers := min(s.maxConcurrent, len(pending))
	jobs := make(chan summaryJob, len(pending))
	results := make(chan summaryJobResult, len(pending))

	for w := 0; w < workers; w++ {
		go func() {
			for job := range jobs {
				results <- s.runJob(ctx, job)
			}
		}()
	}
	for i, u := range pending {
		jobs <- summaryJob{index: i, u: u}
	}
	close(jobs)

	for range pending {
		res := <-results
		if res.err != nil {
			s.logger.Warn("summary unit failed", "tweet_id", res.tweetID, "error", res.err)
			result.Errors[res.tweetID] = res.err.Error()
			step()
			continue
		}
		for _, resp := range []*Response{res.summaryResp, res.translationResp} {
			if resp == nil {
				continue
			}
			result.TotalTokens += resp.TotalTokens
			result.TotalCostUSD += resp.CostUSD
			result.ProvidersUsed[resp.Provider]++
		}
		step()
	}
}

// runJob wraps generateOne so a panicking unit fails that unit instead of
// starving the result collector.
func (s *Summarizer) runJob(ctx context.Context, job summaryJob) (res summaryJobResult) {
	res = summaryJobResult{index: job.index, tweetID: job.u.target.TweetID}
	defer func() {
		if r := recover(); r != nil {
			res.err = fmt.Errorf("summary worker panic: %v", r)
		}
	}()
	res.summaryResp, res.translationResp, res.err = s.generateOne(ctx, job.u)
	return res
}

// generateOne produces and persists the record for a single unit: a
// pass-through for short texts, otherwise one summary call and one
// translation call combined into one record. Either call failing fails
// the unit; nothing partial is written.
func (s *Summarizer) generateOne(ctx context.Context, u unit) (*Response, *Response, error) {
	text := u.target.Text
	length := utf8.RuneCountInString(text)
	now := s.now().UTC()

	if length < minGenerateLength {
		rec := &models.Summary{
			SummaryID:          uuid.New().String(),
			TweetID:            u.target.TweetID,
			SummaryText:        text,
			IsGeneratedSummary: false,
			ContentHash:        u.key,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := s.store.Upsert(ctx, rec); err != nil {
			return nil, nil, fmt.Errorf("failed to persist summary: %w", err)
		}
		s.cache.Set(u.key, *rec)
		return nil, nil, nil
	}

	lo, hi := summaryLengthBand(length)
	summaryResp, err := s.router.Generate(ctx, Request{
		System:      summarySystemPrompt,
		Prompt:      buildSummaryPrompt(text, lo, hi),
		MaxTokens:   summaryMaxTokens,
		Temperature: defaultTemperature,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("summary generation failed: %w", err)
	}
	translationResp, err := s.router.Generate(ctx, Request{
		System:      translationSystemPrompt,
		Prompt:      buildTranslationPrompt(text),
		MaxTokens:   translationMaxTokens,
		Temperature: defaultTemperature,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("translation generation failed: %w", err)
	}

	rec := &models.Summary{
		SummaryID:          uuid.New().String(),
		TweetID:            u.target.TweetID,
		SummaryText:        truncateRunes(summaryResp.Content, models.MaxSummaryLength),
		TranslationText:    translationResp.Content,
		ModelProvider:      summaryResp.Provider,
		ModelName:          summaryResp.Model,
		PromptTokens:       summaryResp.PromptTokens + translationResp.PromptTokens,
		CompletionTokens:   summaryResp.CompletionTokens + translationResp.CompletionTokens,
		TotalTokens:        summaryResp.TotalTokens + translationResp.TotalTokens,
		CostUSD:            summaryResp.CostUSD + translationResp.CostUSD,
		IsGeneratedSummary: true,
		ContentHash:        u.key,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.store.Upsert(ctx, rec); err != nil {
		return nil, nil, fmt.Errorf("failed to persist summary: %w", err)
	}
	s.cache.Set(u.key, *rec)
	return summaryResp, translationResp, nil
}

// Regenerate drops any cached entry for the tweet and re-runs it as a
// single-item batch with force refresh.
func (s *Summarizer) Regenerate(ctx context.Context, tweetID string, progress func(done, total int)) (*models.SummaryBatchResult, error) {
	return s.Summarise(ctx, []string{tweetID}, true, progress)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
