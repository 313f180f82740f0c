package models

import "time"

// Scrape interval bounds in seconds (5 minutes to 7 days).
const (
	MinScrapeIntervalSeconds = 300
	MaxScrapeIntervalSeconds = 604800
)

// MaxNextRunWindow bounds how far in the future a one-shot run may be set.
const MaxNextRunWindow = 30 * 24 * time.Hour

// ScheduleConfig is the singleton scraper schedule row (id = 1).
type ScheduleConfig struct {
	ID              int        `json:"id"`
	IsEnabled       bool       `json:"is_enabled"`
	IntervalSeconds int        `json:"interval_seconds"`
	// NextRunTime, when set, arms a one-shot run; after it fires the
	// scheduler reverts to the regular interval.
	NextRunTime *time.Time `json:"next_run_time,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
	UpdatedBy   string     `json:"updated_by,omitempty"`
}

// Interval returns the configured interval as a duration.
func (c *ScheduleConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// ValidIntervalSeconds reports whether secs is inside the allowed range.
func ValidIntervalSeconds(secs int) bool {
	return secs >= MinScrapeIntervalSeconds && secs <= MaxScrapeIntervalSeconds
}
