package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/sna-ai/sna/internal/models"
)

// DedupRepository handles database operations for dedup groups.
type DedupRepository struct {
	db *sql.DB
}

// NewDedupRepository creates a new dedup repository.
func NewDedupRepository(db *sql.DB) *DedupRepository {
	return &DedupRepository{db: db}
}

// CreateGroups persists all groups of one dedup invocation in a single
// transaction, setting each member tweet's dedup_group_id back-reference.
// Either every group is committed or none is.
func (r *DedupRepository) CreateGroups(ctx context.Context, groups []models.DedupGroup) error {
	if len(groups) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	insertGroup, err := tx.PrepareContext(ctx, `
		INSERT INTO dedup_groups (group_id, representative_tweet_id, dedup_type, similarity_score, tweet_ids)
		VALUES ($1, $2, $3, $4, $5)`)
	if err != nil {
		return fmt.Errorf("failed to prepare group insert: %w", err)
	}
	defer insertGroup.Close()

	setBackRef, err := tx.PrepareContext(ctx, `
		UPDATE tweets SET dedup_group_id = $1 WHERE tweet_id = ANY($2)`)
	if err != nil {
		return fmt.Errorf("failed to prepare back-reference update: %w", err)
	}
	defer setBackRef.Close()

	for i := range groups {
		g := &groups[i]
		var score sql.NullFloat64
		if g.SimilarityScore != nil {
			score = sql.NullFloat64{Float64: *g.SimilarityScore, Valid: true}
		}
		if _, err := insertGroup.ExecContext(ctx,
			g.GroupID, g.RepresentativeTweetID, string(g.DedupType), score, pq.Array(g.TweetIDs),
		); err != nil {
			return fmt.Errorf("failed to insert dedup group %s: %w", g.GroupID, err)
		}
		if _, err := setBackRef.ExecContext(ctx, g.GroupID, pq.Array(g.TweetIDs)); err != nil {
			return fmt.Errorf("failed to set back-references for group %s: %w", g.GroupID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit dedup groups: %w", err)
	}
	return nil
}

// GetGroup returns a dedup group by id, or nil when it does not exist.
func (r *DedupRepository) GetGroup(ctx context.Context, groupID string) (*models.DedupGroup, error) {
	query := `
		SELECT group_id, representative_tweet_id, dedup_type, similarity_score, tweet_ids, created_at
		FROM dedup_groups
		WHERE group_id = $1`

	var (
		g     models.DedupGroup
		score sql.NullFloat64
		ids   pq.StringArray
	)
	err := r.db.QueryRowContext(ctx, query, groupID).Scan(
		&g.GroupID, &g.RepresentativeTweetID, &g.DedupType, &score, &ids, &g.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dedup group %s: %w", groupID, err)
	}
	if score.Valid {
		g.SimilarityScore = &score.Float64
	}
	g.TweetIDs = []string(ids)
	return &g, nil
}

// DeleteGroup removes a group. Member tweets' back-references are cleared by
// the foreign key's ON DELETE SET NULL. Returns false when no such group.
func (r *DedupRepository) DeleteGroup(ctx context.Context, groupID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM dedup_groups WHERE group_id = $1`, groupID)
	if err != nil {
		return false, fmt.Errorf("failed to delete dedup group %s: %w", groupID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read delete result: %w", err)
	}
	return affected > 0, nil
}

// DeleteGroupsForTweets removes every group containing any of the given
// tweets, clearing member back-references. Used by force_refresh before a
// batch is regrouped. Returns the number of groups deleted.
func (r *DedupRepository) DeleteGroupsForTweets(ctx context.Context, tweetIDs []string) (int, error) {
	if len(tweetIDs) == 0 {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM dedup_groups WHERE tweet_ids && $1`, pq.Array(tweetIDs))
	if err != nil {
		return 0, fmt.Errorf("failed to delete dedup groups for tweets: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read delete result: %w", err)
	}
	return int(affected), nil
}
