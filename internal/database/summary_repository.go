package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/sna-ai/sna/internal/models"
)

// SummaryRepository handles database operations for summaries.
type SummaryRepository struct {
	db *sql.DB
}

// NewSummaryRepository creates a new summary repository.
func NewSummaryRepository(db *sql.DB) *SummaryRepository {
	return &SummaryRepository{db: db}
}

// Upsert stores a summary keyed on tweet_id, replacing any previous record
// for the same tweet. Regeneration overwrites in place.
func (r *SummaryRepository) Upsert(ctx context.Context, s *models.Summary) error {
	query := `
		INSERT INTO summaries (
			summary_id, tweet_id, summary_text, translation_text,
			model_provider, model_name, prompt_tokens, completion_tokens,
			total_tokens, cost_usd, cached, is_generated_summary, content_hash
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (tweet_id) DO UPDATE SET
			summary_text = EXCLUDED.summary_text,
			translation_text = EXCLUDED.translation_text,
			model_provider = EXCLUDED.model_provider,
			model_name = EXCLUDED.model_name,
			prompt_tokens = EXCLUDED.prompt_tokens,
			completion_tokens = EXCLUDED.completion_tokens,
			total_tokens = EXCLUDED.total_tokens,
			cost_usd = EXCLUDED.cost_usd,
			cached = EXCLUDED.cached,
			is_generated_summary = EXCLUDED.is_generated_summary,
			content_hash = EXCLUDED.content_hash,
			updated_at = NOW()
		RETURNING created_at, updated_at`

	err := r.db.QueryRowContext(ctx, query,
		s.SummaryID,
		s.TweetID,
		s.SummaryText,
		nullString(s.TranslationText),
		s.ModelProvider,
		s.ModelName,
		s.PromptTokens,
		s.CompletionTokens,
		s.TotalTokens,
		s.CostUSD,
		s.Cached,
		s.IsGeneratedSummary,
		s.ContentHash,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to store summary for tweet %s: %w", s.TweetID, err)
	}
	return nil
}

// GetByTweetID returns the summary for a tweet, or nil when none exists.
func (r *SummaryRepository) GetByTweetID(ctx context.Context, tweetID string) (*models.Summary, error) {
	query := summarySelect + ` WHERE tweet_id = $1`

	var s models.Summary
	err := scanSummary(r.db.QueryRowContext(ctx, query, tweetID), &s)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get summary for tweet %s: %w", tweetID, err)
	}
	return &s, nil
}

// GetByTweetIDs returns the summaries stored for the given tweets. Tweets
// without a summary are simply absent from the result.
func (r *SummaryRepository) GetByTweetIDs(ctx context.Context, tweetIDs []string) ([]models.Summary, error) {
	if len(tweetIDs) == 0 {
		return nil, nil
	}

	query := summarySelect + ` WHERE tweet_id = ANY($1)`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(tweetIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to query summaries: %w", err)
	}
	defer rows.Close()

	var summaries []models.Summary
	for rows.Next() {
		var s models.Summary
		if err := scanSummary(rows, &s); err != nil {
			return nil, fmt.Errorf("failed to scan summary row: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// GetByContentHash returns the most recent summary with the given content
// hash, or nil. Used to warm the in-process cache after a restart.
func (r *SummaryRepository) GetByContentHash(ctx context.Context, contentHash string) (*models.Summary, error) {
	query := summarySelect + ` WHERE content_hash = $1 ORDER BY updated_at DESC LIMIT 1`

	var s models.Summary
	err := scanSummary(r.db.QueryRowContext(ctx, query, contentHash), &s)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get summary by content hash: %w", err)
	}
	return &s, nil
}

// Stats aggregates summary counts, token usage and cost within an optional
// created_at range, with a per-provider breakdown. Zero times disable the
// corresponding bound.
func (r *SummaryRepository) Stats(ctx context.Context, start, end time.Time) (*models.SummaryStats, error) {
	stats := &models.SummaryStats{}
	if !start.IsZero() {
		stats.StartDate = &start
	}
	if !end.IsZero() {
		stats.EndDate = &end
	}

	totalsQuery := `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE cached),
		       COUNT(*) FILTER (WHERE is_generated_summary),
		       COALESCE(SUM(total_tokens), 0),
		       COALESCE(SUM(cost_usd), 0)
		FROM summaries
		WHERE ($1::timestamptz IS NULL OR created_at >= $1)
		  AND ($2::timestamptz IS NULL OR created_at <= $2)`

	err := r.db.QueryRowContext(ctx, totalsQuery, nullTime(start), nullTime(end)).Scan(
		&stats.TotalSummaries,
		&stats.CachedSummaries,
		&stats.GeneratedSummaries,
		&stats.TotalTokens,
		&stats.TotalCostUSD,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate summary stats: %w", err)
	}

	providerQuery := `
		SELECT model_provider, COUNT(*), COALESCE(SUM(total_tokens), 0), COALESCE(SUM(cost_usd), 0)
		FROM summaries
		WHERE model_provider <> ''
		  AND ($1::timestamptz IS NULL OR created_at >= $1)
		  AND ($2::timestamptz IS NULL OR created_at <= $2)
		GROUP BY model_provider
		ORDER BY model_provider`

	rows, err := r.db.QueryContext(ctx, providerQuery, nullTime(start), nullTime(end))
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate provider stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var u models.ProviderUsage
		if err := rows.Scan(&u.Provider, &u.Summaries, &u.TotalTokens, &u.TotalCostUSD); err != nil {
			return nil, fmt.Errorf("failed to scan provider stats row: %w", err)
		}
		stats.ByProvider = append(stats.ByProvider, u)
	}
	return stats, rows.Err()
}

const summarySelect = `
	SELECT summary_id, tweet_id, summary_text, translation_text,
	       model_provider, model_name, prompt_tokens, completion_tokens,
	       total_tokens, cost_usd, cached, is_generated_summary, content_hash,
	       created_at, updated_at
	FROM summaries`

func scanSummary(scanner rowScanner, s *models.Summary) error {
	var translation sql.NullString
	if err := scanner.Scan(
		&s.SummaryID, &s.TweetID, &s.SummaryText, &translation,
		&s.ModelProvider, &s.ModelName, &s.PromptTokens, &s.CompletionTokens,
		&s.TotalTokens, &s.CostUSD, &s.Cached, &s.IsGeneratedSummary, &s.ContentHash,
		&s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		return err
	}
	s.TranslationText = translation.String
	return nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
