package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sna-ai/sna/internal/models"
)

// ErrInvalidSchedule marks a rejected schedule mutation; the wrapped
// message carries the reason.
var ErrInvalidSchedule = errors.New("invalid schedule")

// ErrNotConfigured is returned by mutations that require an existing
// schedule config. Enable is exempt: it creates the config.
var ErrNotConfigured = errors.New("scheduler is not configured")

// State is the scraper job's position in its lifecycle.
type State string

const (
	// StateUnconfigured means no schedule config row exists yet.
	StateUnconfigured State = "unconfigured"
	StateIdle         State = "idle"
	StateRunning      State = "running"
	StatePaused       State = "paused"
)

// ScrapeRunner executes one scrape over a set of usernames.
// *scraper.Coordinator satisfies it.
type ScrapeRunner interface {
	ScrapeUsers(ctx context.Context, usernames []string, trigger models.ScrapeTrigger, progress func(done, total int)) (*models.ScrapeResult, error)
}

// FollowSource lists the usernames a scheduled run covers.
type FollowSource interface {
	ActiveUsernames(ctx context.Context) ([]string, error)
}

// ConfigStore persists the singleton schedule row.
type ConfigStore interface {
	Get(ctx context.Context) (*models.ScheduleConfig, error)
	Upsert(ctx context.Context, cfg *models.ScheduleConfig) error
	ClearNextRunTime(ctx context.Context) error
}

const (
	defaultCheckInterval   = 15 * time.Second
	defaultIntervalSeconds = 3600

	// nextRunTolerance lets admins arm a one-shot "now" without racing the
	// clock.
	nextRunTolerance = 30 * time.Second
)

// ScraperScheduler drives the single scraper job: at most one run at a
// time, interval ticks, optional one-shot runs, and persistence of its
// configuration so state survives restart. It never cancels a run that has
// already started.
type ScraperScheduler struct {
	runner  ScrapeRunner
	follows FollowSource
	store   ConfigStore
	logger  *slog.Logger

	defaultInterval int

	mu         sync.Mutex
	cfg        *models.ScheduleConfig
	nextRunAt  time.Time
	running    bool
	lastRunAt  time.Time
	lastRunErr string

	checkInterval time.Duration
	wakeChan      chan struct{}
	stopChan      chan struct{}
	stopOnce      sync.Once
	now           func() time.Time
}

// NewScraperScheduler creates a stopped scheduler. defaultIntervalSecs is
// used when Enable is called before any interval has been configured.
func NewScraperScheduler(runner ScrapeRunner, follows FollowSource, store ConfigStore, defaultIntervalSecs int, logger *slog.Logger) *ScraperScheduler {
	if defaultIntervalSecs <= 0 {
		defaultIntervalSecs = defaultIntervalSeconds
	}
	return &ScraperScheduler{
		runner:          runner,
		follows:         follows,
		store:           store,
		logger:          logger,
		defaultInterval: defaultIntervalSecs,
		checkInterval:   defaultCheckInterval,
		wakeChan:        make(chan struct{}, 1),
		stopChan:        make(chan struct{}),
		now:             time.Now,
	}
}

// Start restores persisted state and runs the check loop until Stop or
// context cancellation.
func (s *ScraperScheduler) Start(ctx context.Context) {
	s.restore(ctx)
	s.logger.Info("starting scraper scheduler",
		"check_interval", s.checkInterval,
		"state", s.State())

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.checkDue(ctx)
		case <-s.wakeChan:
			s.checkDue(ctx)
		case <-s.stopChan:
			s.logger.Info("scraper scheduler stopped")
			return
		case <-ctx.Done():
			s.logger.Info("scraper scheduler stopping, context cancelled")
			return
		}
	}
}

// Stop terminates the check loop. Safe to call more than once. A scrape
// already in flight is left to finish.
func (s *ScraperScheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

func (s *ScraperScheduler) restore(ctx context.Context) {
	cfg, err := s.store.Get(ctx)
	if err != nil {
		s.logger.Error("failed to load schedule config, starting unconfigured", "error", err)
		return
	}
	if cfg == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	if !cfg.IsEnabled {
		return
	}
	if cfg.NextRunTime != nil {
		// A one-shot armed before restart still fires; if its time passed
		// during downtime it fires on the first check.
		s.nextRunAt = *cfg.NextRunTime
		return
	}
	s.nextRunAt = s.now().Add(cfg.Interval())
}

func (s *ScraperScheduler) checkDue(ctx context.Context) {
	s.mu.Lock()
	if s.cfg == nil || !s.cfg.IsEnabled || s.nextRunAt.IsZero() || s.now().Before(s.nextRunAt) {
		s.mu.Unlock()
		return
	}

	oneShot := s.cfg.NextRunTime != nil
	if oneShot {
		s.cfg.NextRunTime = nil
	}

	if s.running {
		// max one instance: the due tick is dropped, not queued.
		s.nextRunAt = s.now().Add(s.cfg.Interval())
		s.mu.Unlock()
		s.logger.Warn("scrape run still in progress, skipping tick", "one_shot", oneShot)
		if oneShot {
			s.clearOneShot(ctx)
		}
		return
	}

	s.running = true
	s.nextRunAt = time.Time{}
	s.mu.Unlock()

	if oneShot {
		s.logger.Info("one-shot scrape run firing")
		s.clearOneShot(ctx)
	}
	go s.executeRun(ctx)
}

func (s *ScraperScheduler) clearOneShot(ctx context.Context) {
	if err := s.store.ClearNextRunTime(ctx); err != nil {
		s.logger.Warn("failed to clear one-shot run time", "error", err)
	}
}

func (s *ScraperScheduler) executeRun(ctx context.Context) {
	var runErr error
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in scheduled scrape", "panic", r)
			runErr = fmt.Errorf("panic: %v", r)
		}
		s.finishRun(runErr)
	}()

	usernames, err := s.follows.ActiveUsernames(ctx)
	if err != nil {
		runErr = fmt.Errorf("failed to load active follows: %w", err)
		s.logger.Error("failed to load active follows", "error", err)
		return
	}
	if len(usernames) == 0 {
		s.logger.Warn("no active follows, nothing to scrape")
		return
	}

	s.logger.Info("scheduled scrape starting", "users", len(usernames))
	result, err := s.runner.ScrapeUsers(ctx, usernames, models.ScrapeTriggerScheduled, nil)
	if err != nil {
		runErr = err
		s.logger.Error("scheduled scrape failed", "error", err)
		return
	}
	s.logger.Info("scheduled scrape complete",
		"total_users", result.TotalUsers,
		"successful_users", result.SuccessfulUsers,
		"failed_users", result.FailedUsers,
		"new_tweets", result.NewTweets,
		"summary_task_id", result.SummaryTaskID,
		"elapsed_ms", result.ElapsedMS)
}

func (s *ScraperScheduler) finishRun(runErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running = false
	s.lastRunAt = s.now()
	if runErr != nil {
		s.lastRunErr = runErr.Error()
	} else {
		s.lastRunErr = ""
	}

	if s.cfg == nil || !s.cfg.IsEnabled {
		s.nextRunAt = time.Time{}
		return
	}
	if s.cfg.NextRunTime != nil {
		// Armed while this run was in flight.
		s.nextRunAt = *s.cfg.NextRunTime
		return
	}
	s.nextRunAt = s.now().Add(s.cfg.Interval())
}

// UpdateInterval validates and persists a new tick interval. An idle
// scheduler is rescheduled immediately; a running scrape is not touched and
// picks up the new interval when it finishes.
func (s *ScraperScheduler) UpdateInterval(ctx context.Context, seconds int, updatedBy string) (models.ScheduleConfig, error) {
	if !models.ValidIntervalSeconds(seconds) {
		return models.ScheduleConfig{}, fmt.Errorf("%w: interval must be between %d and %d seconds, got %d",
			ErrInvalidSchedule, models.MinScrapeIntervalSeconds, models.MaxScrapeIntervalSeconds, seconds)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := s.snapshotLocked()
	cfg.IntervalSeconds = seconds
	cfg.UpdatedBy = updatedBy
	if err := s.store.Upsert(ctx, &cfg); err != nil {
		return models.ScheduleConfig{}, err
	}
	s.cfg = &cfg
	if cfg.IsEnabled && !s.running && cfg.NextRunTime == nil {
		s.nextRunAt = s.now().Add(cfg.Interval())
	}
	s.wake()
	return cfg, nil
}

// SetNextRunTime arms a one-shot run. After it fires the scheduler reverts
// to the regular interval.
func (s *ScraperScheduler) SetNextRunTime(ctx context.Context, ts time.Time, updatedBy string) (models.ScheduleConfig, error) {
	now := s.now()
	if ts.Before(now.Add(-nextRunTolerance)) {
		return models.ScheduleConfig{}, fmt.Errorf("%w: next run time must be in the future", ErrInvalidSchedule)
	}
	if ts.After(now.Add(models.MaxNextRunWindow)) {
		return models.ScheduleConfig{}, fmt.Errorf("%w: next run time must be within 30 days", ErrInvalidSchedule)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg == nil {
		return models.ScheduleConfig{}, ErrNotConfigured
	}
	cfg := *s.cfg
	cfg.NextRunTime = &ts
	cfg.UpdatedBy = updatedBy
	if err := s.store.Upsert(ctx, &cfg); err != nil {
		return models.ScheduleConfig{}, err
	}
	s.cfg = &cfg
	if cfg.IsEnabled {
		// Armed even while a run is in flight: a one-shot falling due
		// before that run finishes is skipped, not queued.
		s.nextRunAt = ts
	}
	s.wake()
	return cfg, nil
}

// Enable turns the scheduler on, creating the config row with the default
// interval when none exists.
func (s *ScraperScheduler) Enable(ctx context.Context, updatedBy string) (models.ScheduleConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := s.snapshotLocked()
	cfg.IsEnabled = true
	cfg.UpdatedBy = updatedBy
	if err := s.store.Upsert(ctx, &cfg); err != nil {
		return models.ScheduleConfig{}, err
	}
	s.cfg = &cfg
	if !s.running {
		if cfg.NextRunTime != nil {
			s.nextRunAt = *cfg.NextRunTime
		} else {
			s.nextRunAt = s.now().Add(cfg.Interval())
		}
	}
	s.wake()
	return cfg, nil
}

// Disable turns future runs off. A scrape already in flight finishes
// normally.
func (s *ScraperScheduler) Disable(ctx context.Context, updatedBy string) (models.ScheduleConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg == nil {
		return models.ScheduleConfig{}, ErrNotConfigured
	}
	cfg := *s.cfg
	cfg.IsEnabled = false
	cfg.UpdatedBy = updatedBy
	if err := s.store.Upsert(ctx, &cfg); err != nil {
		return models.ScheduleConfig{}, err
	}
	s.cfg = &cfg
	s.nextRunAt = time.Time{}
	return cfg, nil
}

// snapshotLocked returns a copy of the current config, or a fresh default
// one when the scheduler has never been configured. Caller holds mu.
func (s *ScraperScheduler) snapshotLocked() models.ScheduleConfig {
	if s.cfg != nil {
		return *s.cfg
	}
	return models.ScheduleConfig{ID: 1, IntervalSeconds: s.defaultInterval}
}

func (s *ScraperScheduler) wake() {
	select {
	case s.wakeChan <- struct{}{}:
	default:
	}
}

// State reports the job's current lifecycle position.
func (s *ScraperScheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *ScraperScheduler) stateLocked() State {
	switch {
	case s.cfg == nil:
		return StateUnconfigured
	case s.running:
		return StateRunning
	case !s.cfg.IsEnabled:
		return StatePaused
	default:
		return StateIdle
	}
}

// Status is the schedule snapshot served by the admin API.
type Status struct {
	State           State      `json:"state"`
	IsEnabled       bool       `json:"is_enabled"`
	IntervalSeconds int        `json:"interval_seconds,omitempty"`
	NextRunAt       *time.Time `json:"next_run_at,omitempty"`
	OneShotAt       *time.Time `json:"one_shot_at,omitempty"`
	LastRunAt       *time.Time `json:"last_run_at,omitempty"`
	LastRunError    string     `json:"last_run_error,omitempty"`
}

// Status returns a point-in-time snapshot of the scheduler.
func (s *ScraperScheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{State: s.stateLocked(), LastRunError: s.lastRunErr}
	if s.cfg != nil {
		st.IsEnabled = s.cfg.IsEnabled
		st.IntervalSeconds = s.cfg.IntervalSeconds
		if s.cfg.NextRunTime != nil {
			t := *s.cfg.NextRunTime
			st.OneShotAt = &t
		}
	}
	if !s.nextRunAt.IsZero() {
		t := s.nextRunAt
		st.NextRunAt = &t
	}
	if !s.lastRunAt.IsZero() {
		t := s.lastRunAt
		st.LastRunAt = &t
	}
	return st
}
