package models

import (
	"strings"
	"time"
)

// MaxTweetTextLength bounds stored tweet text. Longer upstream payloads are
// truncated during normalisation, never rejected.
const MaxTweetTextLength = 25000

// Tweet is a single post fetched from the upstream platform. Rows are
// immutable once written except for the dedup group back-reference.
type Tweet struct {
	TweetID           string        `json:"tweet_id"`
	Text              string        `json:"text"`
	CreatedAt         time.Time     `json:"created_at"`
	AuthorUsername    string        `json:"author_username"`
	AuthorDisplayName string        `json:"author_display_name,omitempty"`

	// Reference to another tweet (retweet, quote, reply). The referenced
	// tweet may not be stored locally, so the text/media/author copies below
	// allow display without a join.
	ReferencedTweetID             string        `json:"referenced_tweet_id,omitempty"`
	ReferenceType                 ReferenceType `json:"reference_type,omitempty"`
	ReferencedTweetText           string        `json:"referenced_tweet_text,omitempty"`
	ReferencedTweetMedia          []MediaItem   `json:"referenced_tweet_media,omitempty"`
	ReferencedTweetAuthorUsername string        `json:"referenced_tweet_author_username,omitempty"`

	Media []MediaItem `json:"media,omitempty"`

	DedupGroupID string    `json:"dedup_group_id,omitempty"`
	DBCreatedAt  time.Time `json:"db_created_at"`
}

// ReferenceType classifies how a tweet relates to its referenced tweet.
type ReferenceType string

const (
	ReferenceTypeRetweeted ReferenceType = "retweeted"
	ReferenceTypeQuoted    ReferenceType = "quoted"
	ReferenceTypeRepliedTo ReferenceType = "replied_to"
)

// MediaItem is one attachment on a tweet. Order within a tweet is significant
// and preserved through storage.
type MediaItem struct {
	Key    string `json:"key,omitempty"`
	Type   string `json:"type"`
	URL    string `json:"url"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// TweetWithFlags decorates a tweet with presence indicators for list views.
type TweetWithFlags struct {
	Tweet
	HasSummary       bool `json:"has_summary"`
	HasDeduplication bool `json:"has_deduplication"`
}

// TweetDetail embeds the summary and dedup group for detail views.
type TweetDetail struct {
	Tweet
	Summary    *Summary    `json:"summary,omitempty"`
	DedupGroup *DedupGroup `json:"dedup_group,omitempty"`
}

// FeedItem is one element of the incremental feed.
type FeedItem struct {
	Tweet
	Summary *Summary `json:"summary,omitempty"`
}

// IsRetweet reports whether the tweet is a plain retweet of another tweet.
func (t *Tweet) IsRetweet() bool {
	return t.ReferenceType == ReferenceTypeRetweeted && t.ReferencedTweetID != ""
}

// HasReference reports whether the tweet points at another tweet.
func (t *Tweet) HasReference() bool {
	return t.ReferencedTweetID != "" && t.ReferenceType != ""
}

// ContentClass buckets a tweet for content_type filter rules.
func (t *Tweet) ContentClass() string {
	switch t.ReferenceType {
	case ReferenceTypeRetweeted:
		return "retweet"
	case ReferenceTypeQuoted:
		return "quote"
	case ReferenceTypeRepliedTo:
		return "reply"
	default:
		return "original"
	}
}

// ContainsHashtag reports whether the tweet text carries the given hashtag
// (with or without the leading '#', case-insensitive).
func (t *Tweet) ContainsHashtag(tag string) bool {
	tag = strings.ToLower(strings.TrimPrefix(tag, "#"))
	if tag == "" {
		return false
	}
	lower := strings.ToLower(t.Text)
	idx := 0
	for {
		i := strings.Index(lower[idx:], "#"+tag)
		if i < 0 {
			return false
		}
		end := idx + i + 1 + len(tag)
		// Must end at a word boundary so #ai does not match #aircraft.
		if end >= len(lower) || !isTagChar(lower[end]) {
			return true
		}
		idx = end
	}
}

func isTagChar(c byte) bool {
	return c == '_' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z')
}
