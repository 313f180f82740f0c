package models

import "time"

// DedupType categorizes how a group's members were matched.
type DedupType string

const (
	// DedupTypeExactDuplicate groups identical texts from the same author
	// and retweets of the same original.
	DedupTypeExactDuplicate DedupType = "exact_duplicate"
	// DedupTypeSimilarContent groups near-duplicates whose TF-IDF cosine
	// similarity meets the configured threshold.
	DedupTypeSimilarContent DedupType = "similar_content"
)

// DedupGroup is a set of two or more tweets deemed duplicates or similar,
// with a designated representative (earliest created_at, ties broken by
// smallest tweet_id).
type DedupGroup struct {
	GroupID               string    `json:"group_id"`
	RepresentativeTweetID string    `json:"representative_tweet_id"`
	DedupType             DedupType `json:"dedup_type"`
	// SimilarityScore is the minimum pairwise cosine similarity within the
	// cluster; nil for exact duplicates.
	SimilarityScore *float64  `json:"similarity_score,omitempty"`
	TweetIDs        []string  `json:"tweet_ids"`
	CreatedAt       time.Time `json:"created_at"`
}

// Size returns the member count.
func (g *DedupGroup) Size() int {
	return len(g.TweetIDs)
}

// Contains reports whether tweetID is a member of the group.
func (g *DedupGroup) Contains(tweetID string) bool {
	for _, id := range g.TweetIDs {
		if id == tweetID {
			return true
		}
	}
	return false
}

// DedupStats aggregates the outcome of one Deduplicate invocation.
type DedupStats struct {
	TotalTweets      int          `json:"total_tweets"`
	GroupsCreated    int          `json:"groups_created"`
	ExactGroups      int          `json:"exact_groups"`
	SimilarGroups    int          `json:"similar_groups"`
	GroupedTweets    int          `json:"grouped_tweets"`
	AlreadyGrouped   int          `json:"already_grouped"`
	Groups           []DedupGroup `json:"groups,omitempty"`
	Warning          string       `json:"warning,omitempty"`
	ProcessingTimeMS int64        `json:"processing_time_ms"`
}
