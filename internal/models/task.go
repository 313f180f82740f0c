package models

import "time"

// TaskStatus is the lifecycle state of a background task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// IsTerminal reports whether the status admits no further transitions.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// ValidTaskStatus reports whether s is a known status value.
func ValidTaskStatus(s TaskStatus) bool {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusCompleted, TaskStatusFailed:
		return true
	}
	return false
}

// Task type names used by the HTTP layer and the coordinator hook.
const (
	TaskTypeScrape        = "scrape"
	TaskTypeDeduplication = "deduplication"
	TaskTypeSummarization = "summarization"
	TaskTypeAutoPipeline  = "auto_pipeline"
)

// TaskProgress is a point-in-time completion measure for a running task.
type TaskProgress struct {
	Current    int     `json:"current"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
}

// Task is a background job record held in the process-wide registry. It
// does not survive restart.
type Task struct {
	TaskID      string       `json:"task_id"`
	TaskType    string       `json:"task_type"`
	Status      TaskStatus   `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	Progress    TaskProgress `json:"progress"`
	Result      any          `json:"result,omitempty"`
	Error       string       `json:"error,omitempty"`
}
