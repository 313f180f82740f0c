package models

import "time"

// ScrapeTrigger records what started a coordinator run.
type ScrapeTrigger string

const (
	ScrapeTriggerManual    ScrapeTrigger = "manual"
	ScrapeTriggerScheduled ScrapeTrigger = "scheduled"
)

// ScrapeResult aggregates one coordinator invocation across all users.
type ScrapeResult struct {
	TotalUsers      int               `json:"total_users"`
	SuccessfulUsers int               `json:"successful_users"`
	FailedUsers     int               `json:"failed_users"`
	TotalTweets     int               `json:"total_tweets"`
	NewTweets       int               `json:"new_tweets"`
	SkippedTweets   int               `json:"skipped_tweets"`
	// Errors maps username to the failure that excluded it from the run.
	Errors   map[string]string `json:"errors,omitempty"`
	TimedOut bool              `json:"timed_out,omitempty"`
	// SummaryTaskID is set when the auto-summarisation hook enqueued
	// follow-up work for the new tweets.
	SummaryTaskID string `json:"summary_task_id,omitempty"`
	ElapsedMS     int64  `json:"elapsed_ms"`
}

// ScrapeRun is the persisted history row for one coordinator invocation.
type ScrapeRun struct {
	RunID           string        `json:"run_id"`
	Trigger         ScrapeTrigger `json:"trigger"`
	StartedAt       time.Time     `json:"started_at"`
	FinishedAt      time.Time     `json:"finished_at"`
	TotalUsers      int           `json:"total_users"`
	SuccessfulUsers int           `json:"successful_users"`
	FailedUsers     int           `json:"failed_users"`
	TotalTweets     int           `json:"total_tweets"`
	NewTweets       int           `json:"new_tweets"`
	SkippedTweets   int           `json:"skipped_tweets"`
	Error           string        `json:"error,omitempty"`
}
