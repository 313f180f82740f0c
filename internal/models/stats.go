package models

import "time"

// FetchStats holds per-username running counters used to adapt the next
// fetch limit. One row per username, rewritten after every successful fetch.
type FetchStats struct {
	Username         string    `json:"username"`
	LastFetchAt      time.Time `json:"last_fetch_at"`
	LastFetchedCount int       `json:"last_fetched_count"`
	LastNewCount     int       `json:"last_new_count"`
	TotalFetches     int       `json:"total_fetches"`
	// AvgNewRate is an exponential moving average of new/fetched, in [0,1].
	AvgNewRate              float64 `json:"avg_new_rate"`
	ConsecutiveEmptyFetches int     `json:"consecutive_empty_fetches"`
}
