package models

import "time"

// MaxSummaryLength caps generated summary text.
const MaxSummaryLength = 500

// Summary is the per-tweet bilingual summary produced by an LLM, or a
// pass-through of texts below the generation threshold.
type Summary struct {
	SummaryID        string  `json:"summary_id"`
	TweetID          string  `json:"tweet_id"`
	SummaryText      string  `json:"summary_text"`
	TranslationText  string  `json:"translation_text,omitempty"`
	ModelProvider    string  `json:"model_provider,omitempty"`
	ModelName        string  `json:"model_name,omitempty"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	CostUSD          float64 `json:"cost_usd"`
	// Cached marks a record served from the process cache rather than a
	// fresh LLM call.
	Cached bool `json:"cached"`
	// IsGeneratedSummary is false when the tweet was too short and the
	// original text was reused verbatim.
	IsGeneratedSummary bool      `json:"is_generated_summary"`
	ContentHash        string    `json:"content_hash"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// SummaryBatchResult aggregates one Summarise invocation.
type SummaryBatchResult struct {
	TotalTweets       int               `json:"total_tweets"`
	TotalGroups       int               `json:"total_groups"`
	IndependentTweets int               `json:"independent_tweets"`
	CacheHits         int               `json:"cache_hits"`
	CacheMisses       int               `json:"cache_misses"`
	TotalTokens       int               `json:"total_tokens"`
	TotalCostUSD      float64           `json:"total_cost_usd"`
	ProvidersUsed     map[string]int    `json:"providers_used,omitempty"`
	Errors            map[string]string `json:"errors,omitempty"`
	ProcessingTimeMS  int64             `json:"processing_time_ms"`
}

// ProviderUsage is per-provider aggregate usage within a date range.
type ProviderUsage struct {
	Provider     string  `json:"provider"`
	Summaries    int     `json:"summaries"`
	TotalTokens  int     `json:"total_tokens"`
	TotalCostUSD float64 `json:"total_cost_usd"`
}

// SummaryStats is the payload of the summary statistics endpoint.
type SummaryStats struct {
	StartDate          *time.Time      `json:"start_date,omitempty"`
	EndDate            *time.Time      `json:"end_date,omitempty"`
	TotalSummaries     int             `json:"total_summaries"`
	CachedSummaries    int             `json:"cached_summaries"`
	GeneratedSummaries int             `json:"generated_summaries"`
	TotalTokens        int             `json:"total_tokens"`
	TotalCostUSD       float64         `json:"total_cost_usd"`
	ByProvider         []ProviderUsage `json:"by_provider,omitempty"`
}
