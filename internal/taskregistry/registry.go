package taskregistry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sna-ai/sna/internal/models"
)

// Sentinel errors returned by registry operations.
var (
	ErrNotFound = errors.New("task not found")
	ErrConflict = errors.New("task is running")
)

const (
	// terminalTTL is how long completed and failed tasks stay queryable.
	terminalTTL = 24 * time.Hour

	defaultSweepInterval = time.Hour
)

// statusRank orders statuses so transitions can only move forward. Both
// terminal states share a rank, which also blocks completed -> failed.
var statusRank = map[models.TaskStatus]int{
	models.TaskStatusPending:   0,
	models.TaskStatusRunning:   1,
	models.TaskStatusCompleted: 2,
	models.TaskStatusFailed:    2,
}

// Registry is the process-wide table of background tasks. All mutations are
// serialised by one mutex; no I/O happens while it is held.
type Registry struct {
	mu      sync.Mutex
	tasks   map[string]*models.Task
	running map[string]string

	sweepInterval time.Duration
	stopCh        chan struct{}
	stopOnce      sync.Once

	now func() time.Time
}

// New creates an empty registry. Call Start to enable the TTL sweep.
func New() *Registry {
	return &Registry{
		tasks:         make(map[string]*models.Task),
		running:       make(map[string]string),
		sweepInterval: defaultSweepInterval,
		stopCh:        make(chan struct{}),
		now:           time.Now,
	}
}

// Create registers a new pending task and returns a snapshot of it.
func (r *Registry) Create(taskType string) models.Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := &models.Task{
		TaskID:    uuid.New().String(),
		TaskType:  taskType,
		Status:    models.TaskStatusPending,
		CreatedAt: r.now(),
	}
	r.tasks[t.TaskID] = t
	return *t
}

// UpdateStatus moves a task forward through its lifecycle. Terminal states
// cannot be overwritten and transitions cannot go backwards. result and
// errMsg are recorded as given; errMsg is expected only with failed.
func (r *Registry) UpdateStatus(taskID string, status models.TaskStatus, result any, errMsg string) error {
	if !models.ValidTaskStatus(status) {
		return fmt.Errorf("unknown task status %q", status)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	if statusRank[status] <= statusRank[t.Status] {
		return fmt.Errorf("task %s: cannot transition %s -> %s", taskID, t.Status, status)
	}

	if t.Status == models.TaskStatusRunning && r.running[t.TaskType] == taskID {
		delete(r.running, t.TaskType)
	}

	now := r.now()
	t.Status = status
	switch {
	case status == models.TaskStatusRunning:
		t.StartedAt = &now
		r.running[t.TaskType] = taskID
	case status.IsTerminal():
		t.CompletedAt = &now
		if result != nil {
			t.Result = result
		}
		t.Error = errMsg
	}
	return nil
}

// UpdateProgress records completion counters for a non-terminal task.
func (r *Registry) UpdateProgress(taskID string, current, total int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	if t.Status.IsTerminal() {
		return fmt.Errorf("task %s: progress after terminal state", taskID)
	}

	t.Progress.Current = current
	t.Progress.Total = total
	if total > 0 {
		t.Progress.Percentage = float64(current) / float64(total) * 100
	} else {
		t.Progress.Percentage = 0
	}
	return nil
}

// Get returns a snapshot of one task.
func (r *Registry) Get(taskID string) (models.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[taskID]
	if !ok {
		return models.Task{}, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	return *t, nil
}

// List returns snapshots of tasks matching the filters, newest first.
// Empty filter values match everything.
func (r *Registry) List(taskType string, status models.TaskStatus) []models.Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []models.Task
	for _, t := range r.tasks {
		if taskType != "" && t.TaskType != taskType {
			continue
		}
		if status != "" && t.Status != status {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].TaskID > out[j].TaskID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// IsRunning reports whether any task of the given type is currently running.
func (r *Registry) IsRunning(taskType string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.running[taskType]
	return ok
}

// Delete removes a task record. Running tasks cannot be deleted.
func (r *Registry) Delete(taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	if t.Status == models.TaskStatusRunning {
		return fmt.Errorf("task %s: %w", taskID, ErrConflict)
	}
	delete(r.tasks, taskID)
	return nil
}

// Sweep removes terminal tasks older than the TTL and returns how many
// records were dropped.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-terminalTTL)
	removed := 0
	for id, t := range r.tasks {
		if t.Status.IsTerminal() && t.CompletedAt != nil && t.CompletedAt.Before(cutoff) {
			delete(r.tasks, id)
			removed++
		}
	}
	return removed
}

// Start launches the background TTL sweep.
func (r *Registry) Start() {
	go r.sweepLoop()
}

// Stop terminates the background sweep. Safe to call more than once.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

func (r *Registry) sweepLoop() {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Sweep()
		case <-r.stopCh:
			return
		}
	}
}
