package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sna-ai/sna/internal/models"
)

// ScheduleRepository handles the singleton scraper schedule row.
type ScheduleRepository struct {
	db *sql.DB
}

// NewScheduleRepository creates a new schedule repository.
func NewScheduleRepository(db *sql.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

// Get returns the schedule config, or nil when the scheduler has never been
// configured.
func (r *ScheduleRepository) Get(ctx context.Context) (*models.ScheduleConfig, error) {
	query := `
		SELECT id, is_enabled, interval_seconds, next_run_time, updated_at, updated_by
		FROM scraper_schedule_config
		WHERE id = 1`

	var (
		cfg     models.ScheduleConfig
		nextRun sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query).Scan(
		&cfg.ID, &cfg.IsEnabled, &cfg.IntervalSeconds, &nextRun, &cfg.UpdatedAt, &cfg.UpdatedBy,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule config: %w", err)
	}
	if nextRun.Valid {
		t := nextRun.Time
		cfg.NextRunTime = &t
	}
	return &cfg, nil
}

// Upsert writes the singleton row, creating it on first configuration.
func (r *ScheduleRepository) Upsert(ctx context.Context, cfg *models.ScheduleConfig) error {
	query := `
		INSERT INTO scraper_schedule_config (id, is_enabled, interval_seconds, next_run_time, updated_by, updated_at)
		VALUES (1, $1, $2, $3, $4, NOW())
		ON CONFLICT (id) DO UPDATE SET
			is_enabled = EXCLUDED.is_enabled,
			interval_seconds = EXCLUDED.interval_seconds,
			next_run_time = EXCLUDED.next_run_time,
			updated_by = EXCLUDED.updated_by,
			updated_at = NOW()
		RETURNING updated_at`

	var nextRun sql.NullTime
	if cfg.NextRunTime != nil {
		nextRun = sql.NullTime{Time: *cfg.NextRunTime, Valid: true}
	}
	err := r.db.QueryRowContext(ctx, query,
		cfg.IsEnabled, cfg.IntervalSeconds, nextRun, cfg.UpdatedBy,
	).Scan(&cfg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert schedule config: %w", err)
	}
	cfg.ID = 1
	return nil
}

// ClearNextRunTime removes an armed one-shot run after it has fired.
func (r *ScheduleRepository) ClearNextRunTime(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE scraper_schedule_config SET next_run_time = NULL, updated_at = NOW() WHERE id = 1`)
	if err != nil {
		return fmt.Errorf("failed to clear next run time: %w", err)
	}
	return nil
}
