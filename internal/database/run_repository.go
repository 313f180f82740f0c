package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sna-ai/sna/internal/models"
)

// RunRepository persists scrape run history rows.
type RunRepository struct {
	db *sql.DB
}

// NewRunRepository creates a new run repository.
func NewRunRepository(db *sql.DB) *RunRepository {
	return &RunRepository{db: db}
}

// Record stores one finished coordinator run.
func (r *RunRepository) Record(ctx context.Context, run *models.ScrapeRun) error {
	query := `
		INSERT INTO scrape_runs (
			run_id, triggered_by, started_at, finished_at,
			total_users, successful_users, failed_users,
			total_tweets, new_tweets, skipped_tweets, error
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.db.ExecContext(ctx, query,
		run.RunID, string(run.Trigger), run.StartedAt, run.FinishedAt,
		run.TotalUsers, run.SuccessfulUsers, run.FailedUsers,
		run.TotalTweets, run.NewTweets, run.SkippedTweets, run.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to record scrape run: %w", err)
	}
	return nil
}

// ListRecent returns the most recent runs, newest first.
func (r *RunRepository) ListRecent(ctx context.Context, limit int) ([]models.ScrapeRun, error) {
	query := `
		SELECT run_id, triggered_by, started_at, finished_at,
		       total_users, successful_users, failed_users,
		       total_tweets, new_tweets, skipped_tweets, error
		FROM scrape_runs
		ORDER BY started_at DESC
		LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list scrape runs: %w", err)
	}
	defer rows.Close()

	var runs []models.ScrapeRun
	for rows.Next() {
		var run models.ScrapeRun
		if err := rows.Scan(
			&run.RunID, &run.Trigger, &run.StartedAt, &run.FinishedAt,
			&run.TotalUsers, &run.SuccessfulUsers, &run.FailedUsers,
			&run.TotalTweets, &run.NewTweets, &run.SkippedTweets, &run.Error,
		); err != nil {
			return nil, fmt.Errorf("failed to scan scrape run row: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
