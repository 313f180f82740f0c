package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sna-ai/sna/internal/metrics"
	"github.com/sna-ai/sna/internal/models"
)

// DefaultSimilarityThreshold is the minimum cosine similarity for the
// similar-content pass.
const DefaultSimilarityThreshold = 0.85

// TweetStore defines tweet reads needed by the engine.
type TweetStore interface {
	GetByIDs(ctx context.Context, ids []string) ([]models.Tweet, error)
	ListAll(ctx context.Context) ([]models.Tweet, error)
}

// GroupStore defines dedup group persistence.
type GroupStore interface {
	CreateGroups(ctx context.Context, groups []models.DedupGroup) error
	DeleteGroupsForTweets(ctx context.Context, tweetIDs []string) (int, error)
}

// Options controls one Deduplicate invocation.
type Options struct {
	// TweetIDs restricts the run to the given tweets; empty means all.
	TweetIDs []string
	// ForceRefresh deletes every group touching the selected tweets before
	// regrouping.
	ForceRefresh bool
	// SimilarityThreshold overrides DefaultSimilarityThreshold when > 0.
	SimilarityThreshold float64
}

// Engine finds duplicate and near-duplicate tweets in two passes: exact
// fingerprint collisions first, then TF-IDF cosine clustering over the
// rest.
type Engine struct {
	tweets  TweetStore
	groups  GroupStore
	metrics *metrics.Collector
	logger  *slog.Logger
	now     func() time.Time
}

func NewEngine(tweets TweetStore, groups GroupStore, logger *slog.Logger) *Engine {
	return &Engine{
		tweets: tweets,
		groups: groups,
		logger: logger,
		now:    time.Now,
	}
}

// SetMetrics wires the Prometheus collector. Set once at startup; a nil
// collector disables instrumentation.
func (e *Engine) SetMetrics(m *metrics.Collector) {
	e.metrics = m
}

// Deduplicate groups the selected tweets and persists all resulting groups
// in a single transaction. Tweets already assigned to a group are skipped
// unless ForceRefresh is set. A similarity-pass failure downgrades to a
// warning; exact-pass groups are still committed.
func (e *Engine) Deduplicate(ctx context.Context, opts Options) (*models.DedupStats, error) {
	started := e.now()

	threshold := opts.SimilarityThreshold
	if threshold == 0 {
		threshold = DefaultSimilarityThreshold
	}
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("similarity threshold must be in (0, 1], got %g", threshold)
	}

	var (
		tweets []models.Tweet
		err    error
	)
	if len(opts.TweetIDs) > 0 {
		tweets, err = e.tweets.GetByIDs(ctx, opts.TweetIDs)
	} else {
		tweets, err = e.tweets.ListAll(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load tweets: %w", err)
	}

	stats := &models.DedupStats{TotalTweets: len(tweets)}
	if len(tweets) == 0 {
		stats.ProcessingTimeMS = e.now().Sub(started).Milliseconds()
		return stats, nil
	}

	if opts.ForceRefresh {
		ids := make([]string, len(tweets))
		for i := range tweets {
			ids[i] = tweets[i].TweetID
		}
		deleted, err := e.groups.DeleteGroupsForTweets(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("failed to clear existing groups: %w", err)
		}
		if deleted > 0 {
			e.logger.Info("cleared existing dedup groups", "deleted", deleted)
		}
		for i := range tweets {
			tweets[i].DedupGroupID = ""
		}
	}

	var eligible []*models.Tweet
	for i := range tweets {
		if tweets[i].DedupGroupID != "" {
			stats.AlreadyGrouped++
			continue
		}
		eligible = append(eligible, &tweets[i])
	}

	exactGroups, remaining := exactPass(eligible)

	similarGroups, simErr := similarityPass(remaining, threshold)
	if simErr != nil {
		e.logger.Warn("similarity pass failed, committing exact groups only", "error", simErr)
		stats.Warning = fmt.Sprintf("similarity pass failed: %v", simErr)
		similarGroups = nil
	}

	all := append(exactGroups, similarGroups...)
	if len(all) > 0 {
		if err := e.groups.CreateGroups(ctx, all); err != nil {
			return nil, fmt.Errorf("failed to persist dedup groups: %w", err)
		}
	}

	stats.ExactGroups = len(exactGroups)
	stats.SimilarGroups = len(similarGroups)
	stats.GroupsCreated = len(all)
	for i := range all {
		stats.GroupedTweets += len(all[i].TweetIDs)
	}
	stats.Groups = all
	stats.ProcessingTimeMS = e.now().Sub(started).Milliseconds()
	e.metrics.ObserveDedup(stats)

	e.logger.Info("deduplication finished",
		"total_tweets", stats.TotalTweets,
		"exact_groups", stats.ExactGroups,
		"similar_groups", stats.SimilarGroups,
		"grouped_tweets", stats.GroupedTweets,
		"already_grouped", stats.AlreadyGrouped,
		"elapsed_ms", stats.ProcessingTimeMS)
	return stats, nil
}

// exactFingerprint keys a tweet for the exact pass. Retweets fingerprint to
// the original's identity, so retweets of one tweet (and the original
// itself, when captured) collide.
func exactFingerprint(t *models.Tweet) string {
	if t.ReferenceType == models.ReferenceTypeRetweeted && t.ReferencedTweetID != "" {
		author := t.ReferencedTweetAuthorUsername
		text := normalizeWhitespace(t.ReferencedTweetText)
		if author == "" && text == "" {
			return "ref\x00" + t.ReferencedTweetID
		}
		return "user\x00" + author + "\x00" + text
	}
	return "user\x00" + t.AuthorUsername + "\x00" + normalizeWhitespace(t.Text)
}

// normalizeWhitespace squeezes whitespace runs without touching case.
func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func exactPass(eligible []*models.Tweet) ([]models.DedupGroup, []*models.Tweet) {
	buckets := make(map[string][]*models.Tweet)
	for _, t := range eligible {
		key := exactFingerprint(t)
		buckets[key] = append(buckets[key], t)
	}

	var groups []models.DedupGroup
	matched := make(map[string]bool)
	for _, members := range buckets {
		if len(members) < 2 {
			continue
		}
		groups = append(groups, newGroup(members, models.DedupTypeExactDuplicate, nil))
		for _, t := range members {
			matched[t.TweetID] = true
		}
	}
	sortGroups(groups)

	var remaining []*models.Tweet
	for _, t := range eligible {
		if !matched[t.TweetID] {
			remaining = append(remaining, t)
		}
	}
	return groups, remaining
}

// similarityPass clusters the remaining tweets by TF-IDF cosine similarity
// with single linkage. Any internal failure is returned as an error so the
// caller can degrade to exact-only results.
func similarityPass(remaining []*models.Tweet, threshold float64) (groups []models.DedupGroup, err error) {
	defer func() {
		if r := recover(); r != nil {
			groups = nil
			err = fmt.Errorf("vectoriser panic: %v", r)
		}
	}()

	var (
		candidates []*models.Tweet
		texts      []string
	)
	for _, t := range remaining {
		text := preprocessText(t.Text)
		if text == "" {
			continue
		}
		candidates = append(candidates, t)
		texts = append(texts, text)
	}
	if len(candidates) < 2 {
		return nil, nil
	}

	vecs := vectorize(texts)

	n := len(candidates)
	sims := make([][]float64, n)
	uf := newUnionFind(n)
	for i := 0; i < n; i++ {
		sims[i] = make([]float64, n)
		for j := 0; j < i; j++ {
			s := dot(vecs[i], vecs[j])
			sims[i][j] = s
			sims[j][i] = s
			if s >= threshold {
				uf.union(i, j)
			}
		}
	}

	clusters := make(map[int][]int)
	for i := 0; i < n; i++ {
		root := uf.find(i)
		clusters[root] = append(clusters[root], i)
	}

	for _, idxs := range clusters {
		if len(idxs) < 2 {
			continue
		}
		members := make([]*models.Tweet, len(idxs))
		minScore := 1.0
		for a := range idxs {
			members[a] = candidates[idxs[a]]
			for b := 0; b < a; b++ {
				if s := sims[idxs[a]][idxs[b]]; s < minScore {
					minScore = s
				}
			}
		}
		score := minScore
		groups = append(groups, newGroup(members, models.DedupTypeSimilarContent, &score))
	}
	sortGroups(groups)
	return groups, nil
}

// newGroup builds a group with the representative chosen by earliest
// created_at, ties broken by smallest tweet_id.
func newGroup(members []*models.Tweet, dedupType models.DedupType, score *float64) models.DedupGroup {
	rep := members[0]
	for _, t := range members[1:] {
		if t.CreatedAt.Before(rep.CreatedAt) ||
			(t.CreatedAt.Equal(rep.CreatedAt) && t.TweetID < rep.TweetID) {
			rep = t
		}
	}

	ids := make([]string, len(members))
	for i, t := range members {
		ids[i] = t.TweetID
	}
	sort.Strings(ids)

	return models.DedupGroup{
		GroupID:               uuid.New().String(),
		RepresentativeTweetID: rep.TweetID,
		DedupType:             dedupType,
		SimilarityScore:       score,
		TweetIDs:              ids,
	}
}

// sortGroups orders groups deterministically; map iteration order must not
// leak into results.
func sortGroups(groups []models.DedupGroup) {
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].RepresentativeTweetID < groups[j].RepresentativeTweetID
	})
}
