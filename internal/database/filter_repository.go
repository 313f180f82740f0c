package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sna-ai/sna/internal/models"
)

// FilterRepository handles per-user feed filter rules.
type FilterRepository struct {
	db *sql.DB
}

// NewFilterRepository creates a new filter repository.
func NewFilterRepository(db *sql.DB) *FilterRepository {
	return &FilterRepository{db: db}
}

// Create stores a rule. Duplicate (user, type, value) rows surface as a
// unique violation for the caller to map.
func (r *FilterRepository) Create(ctx context.Context, rule *models.FilterRule) error {
	query := `
		INSERT INTO filter_rules (user_id, filter_type, value)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`

	err := r.db.QueryRowContext(ctx, query, rule.UserID, string(rule.FilterType), rule.Value).
		Scan(&rule.ID, &rule.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create filter rule: %w", err)
	}
	return nil
}

// ListByUser returns all of a user's rules, oldest first.
func (r *FilterRepository) ListByUser(ctx context.Context, userID int) ([]models.FilterRule, error) {
	query := `
		SELECT id, user_id, filter_type, value, created_at
		FROM filter_rules
		WHERE user_id = $1
		ORDER BY created_at ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list filter rules: %w", err)
	}
	defer rows.Close()

	var rules []models.FilterRule
	for rows.Next() {
		var rule models.FilterRule
		if err := rows.Scan(&rule.ID, &rule.UserID, &rule.FilterType, &rule.Value, &rule.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan filter rule row: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// CountByUser returns how many rules the user currently has.
func (r *FilterRepository) CountByUser(ctx context.Context, userID int) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM filter_rules WHERE user_id = $1`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count filter rules: %w", err)
	}
	return count, nil
}

// Delete removes one rule owned by the user. Returns false when absent.
func (r *FilterRepository) Delete(ctx context.Context, userID, ruleID int) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM filter_rules WHERE id = $1 AND user_id = $2`, ruleID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to delete filter rule %d: %w", ruleID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read delete result: %w", err)
	}
	return affected > 0, nil
}
