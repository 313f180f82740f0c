package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sna-ai/sna/internal/models"
)

// StatsRepository handles per-username fetch statistics.
type StatsRepository struct {
	db *sql.DB
}

// NewStatsRepository creates a new stats repository.
func NewStatsRepository(db *sql.DB) *StatsRepository {
	return &StatsRepository{db: db}
}

// Get returns the fetch stats for a username, or nil when the account has
// never been fetched.
func (r *StatsRepository) Get(ctx context.Context, username string) (*models.FetchStats, error) {
	query := `
		SELECT username, last_fetch_at, last_fetched_count, last_new_count,
		       total_fetches, avg_new_rate, consecutive_empty_fetches
		FROM scraper_fetch_stats
		WHERE username = $1`

	var s models.FetchStats
	err := r.db.QueryRowContext(ctx, query, username).Scan(
		&s.Username, &s.LastFetchAt, &s.LastFetchedCount, &s.LastNewCount,
		&s.TotalFetches, &s.AvgNewRate, &s.ConsecutiveEmptyFetches,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fetch stats for %s: %w", username, err)
	}
	return &s, nil
}

// GetAll returns fetch stats for every username ever fetched.
func (r *StatsRepository) GetAll(ctx context.Context) ([]models.FetchStats, error) {
	query := `
		SELECT username, last_fetch_at, last_fetched_count, last_new_count,
		       total_fetches, avg_new_rate, consecutive_empty_fetches
		FROM scraper_fetch_stats
		ORDER BY username ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list fetch stats: %w", err)
	}
	defer rows.Close()

	var all []models.FetchStats
	for rows.Next() {
		var s models.FetchStats
		if err := rows.Scan(
			&s.Username, &s.LastFetchAt, &s.LastFetchedCount, &s.LastNewCount,
			&s.TotalFetches, &s.AvgNewRate, &s.ConsecutiveEmptyFetches,
		); err != nil {
			return nil, fmt.Errorf("failed to scan fetch stats row: %w", err)
		}
		all = append(all, s)
	}
	return all, rows.Err()
}

// Upsert rewrites the stats row for a username after a fetch.
func (r *StatsRepository) Upsert(ctx context.Context, s *models.FetchStats) error {
	query := `
		INSERT INTO scraper_fetch_stats (
			username, last_fetch_at, last_fetched_count, last_new_count,
			total_fetches, avg_new_rate, consecutive_empty_fetches
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (username) DO UPDATE SET
			last_fetch_at = EXCLUDED.last_fetch_at,
			last_fetched_count = EXCLUDED.last_fetched_count,
			last_new_count = EXCLUDED.last_new_count,
			total_fetches = EXCLUDED.total_fetches,
			avg_new_rate = EXCLUDED.avg_new_rate,
			consecutive_empty_fetches = EXCLUDED.consecutive_empty_fetches`

	_, err := r.db.ExecContext(ctx, query,
		s.Username, s.LastFetchAt, s.LastFetchedCount, s.LastNewCount,
		s.TotalFetches, s.AvgNewRate, s.ConsecutiveEmptyFetches,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert fetch stats for %s: %w", s.Username, err)
	}
	return nil
}
