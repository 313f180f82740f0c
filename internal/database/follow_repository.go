package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sna-ai/sna/internal/models"
)

// FollowRepository handles the platform-wide scraper follow list and the
// per-user follow subscriptions.
type FollowRepository struct {
	db *sql.DB
}

// NewFollowRepository creates a new follow repository.
func NewFollowRepository(db *sql.DB) *FollowRepository {
	return &FollowRepository{db: db}
}

// UpsertScraperFollow adds a username to the scrape list, reactivating and
// updating it when a soft-deleted row already exists.
func (r *FollowRepository) UpsertScraperFollow(ctx context.Context, username, reason, addedBy string) (*models.ScraperFollow, error) {
	query := `
		INSERT INTO scraper_follows (username, reason, added_by)
		VALUES ($1, $2, $3)
		ON CONFLICT (username) DO UPDATE SET
			reason = EXCLUDED.reason,
			added_by = EXCLUDED.added_by,
			is_active = TRUE
		RETURNING id, username, reason, added_by, added_at, is_active`

	var f models.ScraperFollow
	err := r.db.QueryRowContext(ctx, query, username, reason, addedBy).Scan(
		&f.ID, &f.Username, &f.Reason, &f.AddedBy, &f.AddedAt, &f.IsActive,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert scraper follow %s: %w", username, err)
	}
	return &f, nil
}

// GetScraperFollow returns one scrape list entry, or nil when absent.
func (r *FollowRepository) GetScraperFollow(ctx context.Context, username string) (*models.ScraperFollow, error) {
	query := `
		SELECT id, username, reason, added_by, added_at, is_active
		FROM scraper_follows
		WHERE username = $1`

	var f models.ScraperFollow
	err := r.db.QueryRowContext(ctx, query, username).Scan(
		&f.ID, &f.Username, &f.Reason, &f.AddedBy, &f.AddedAt, &f.IsActive,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scraper follow %s: %w", username, err)
	}
	return &f, nil
}

// ListScraperFollows returns the scrape list, optionally only active rows.
func (r *FollowRepository) ListScraperFollows(ctx context.Context, activeOnly bool) ([]models.ScraperFollow, error) {
	query := `
		SELECT id, username, reason, added_by, added_at, is_active
		FROM scraper_follows
		WHERE ($1 = FALSE OR is_active)
		ORDER BY username ASC`

	rows, err := r.db.QueryContext(ctx, query, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to list scraper follows: %w", err)
	}
	defer rows.Close()

	var follows []models.ScraperFollow
	for rows.Next() {
		var f models.ScraperFollow
		if err := rows.Scan(&f.ID, &f.Username, &f.Reason, &f.AddedBy, &f.AddedAt, &f.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan scraper follow row: %w", err)
		}
		follows = append(follows, f)
	}
	return follows, rows.Err()
}

// ActiveUsernames returns the usernames scheduled runs should scrape.
func (r *FollowRepository) ActiveUsernames(ctx context.Context) ([]string, error) {
	query := `SELECT username FROM scraper_follows WHERE is_active ORDER BY username ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list active usernames: %w", err)
	}
	defer rows.Close()

	var usernames []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("failed to scan username row: %w", err)
		}
		usernames = append(usernames, u)
	}
	return usernames, rows.Err()
}

// DeactivateScraperFollow soft-deletes a scrape list entry so its history
// and fetch stats survive. Returns false when no active row matched.
func (r *FollowRepository) DeactivateScraperFollow(ctx context.Context, username string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE scraper_follows SET is_active = FALSE WHERE username = $1 AND is_active`, username)
	if err != nil {
		return false, fmt.Errorf("failed to deactivate scraper follow %s: %w", username, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read update result: %w", err)
	}
	return affected > 0, nil
}

// CreateUserFollow subscribes a user to a username. The caller is expected
// to have checked the username against the active scrape list.
func (r *FollowRepository) CreateUserFollow(ctx context.Context, f *models.UserFollow) error {
	query := `
		INSERT INTO twitter_follows (user_id, username, priority)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`

	err := r.db.QueryRowContext(ctx, query, f.UserID, f.Username, f.Priority).Scan(&f.ID, &f.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user follow %s: %w", f.Username, err)
	}
	return nil
}

// ListUserFollows returns a user's subscriptions, highest priority first.
func (r *FollowRepository) ListUserFollows(ctx context.Context, userID int) ([]models.UserFollow, error) {
	query := `
		SELECT id, user_id, username, priority, created_at
		FROM twitter_follows
		WHERE user_id = $1
		ORDER BY priority DESC, username ASC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user follows: %w", err)
	}
	defer rows.Close()

	var follows []models.UserFollow
	for rows.Next() {
		var f models.UserFollow
		if err := rows.Scan(&f.ID, &f.UserID, &f.Username, &f.Priority, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user follow row: %w", err)
		}
		follows = append(follows, f)
	}
	return follows, rows.Err()
}

// GetUserFollow returns one subscription, or nil when absent.
func (r *FollowRepository) GetUserFollow(ctx context.Context, userID int, username string) (*models.UserFollow, error) {
	query := `
		SELECT id, user_id, username, priority, created_at
		FROM twitter_follows
		WHERE user_id = $1 AND username = $2`

	var f models.UserFollow
	err := r.db.QueryRowContext(ctx, query, userID, username).Scan(
		&f.ID, &f.UserID, &f.Username, &f.Priority, &f.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user follow %s: %w", username, err)
	}
	return &f, nil
}

// UpdateUserFollowPriority changes the priority of one subscription.
// Returns false when the user does not follow that username.
func (r *FollowRepository) UpdateUserFollowPriority(ctx context.Context, userID int, username string, priority int) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE twitter_follows SET priority = $1 WHERE user_id = $2 AND username = $3`,
		priority, userID, username)
	if err != nil {
		return false, fmt.Errorf("failed to update user follow %s: %w", username, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read update result: %w", err)
	}
	return affected > 0, nil
}

// DeleteUserFollow removes one subscription. Returns false when absent.
func (r *FollowRepository) DeleteUserFollow(ctx context.Context, userID int, username string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM twitter_follows WHERE user_id = $1 AND username = $2`, userID, username)
	if err != nil {
		return false, fmt.Errorf("failed to delete user follow %s: %w", username, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read delete result: %w", err)
	}
	return affected > 0, nil
}
