package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/sna-ai/sna/internal/models"
)

// TweetRepository handles database operations for stored tweets.
type TweetRepository struct {
	db *sql.DB
}

// NewTweetRepository creates a new tweet repository.
func NewTweetRepository(db *sql.DB) *TweetRepository {
	return &TweetRepository{db: db}
}

// StoreBatch inserts tweets in a single transaction, preserving slice order.
// Tweets whose id is already stored are left untouched. It returns the ids of
// the newly inserted tweets and the number of skipped duplicates.
func (r *TweetRepository) StoreBatch(ctx context.Context, tweets []models.Tweet) ([]string, int, error) {
	if len(tweets) == 0 {
		return nil, 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tweets (
			tweet_id, text, created_at, author_username, author_display_name,
			referenced_tweet_id, reference_type, referenced_tweet_text,
			referenced_tweet_media, referenced_tweet_author_username, media
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (tweet_id) DO NOTHING`)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to prepare tweet insert: %w", err)
	}
	defer stmt.Close()

	var (
		newIDs  []string
		skipped int
	)
	for i := range tweets {
		t := &tweets[i]
		mediaRaw, err := marshalMediaItems(t.Media)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to encode media for tweet %s: %w", t.TweetID, err)
		}
		refMediaRaw, err := marshalMediaItems(t.ReferencedTweetMedia)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to encode referenced media for tweet %s: %w", t.TweetID, err)
		}

		res, err := stmt.ExecContext(ctx,
			t.TweetID,
			t.Text,
			t.CreatedAt,
			t.AuthorUsername,
			t.AuthorDisplayName,
			nullString(t.ReferencedTweetID),
			nullString(string(t.ReferenceType)),
			t.ReferencedTweetText,
			refMediaRaw,
			t.ReferencedTweetAuthorUsername,
			mediaRaw,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to insert tweet %s: %w", t.TweetID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, 0, fmt.Errorf("failed to read insert result for tweet %s: %w", t.TweetID, err)
		}
		if affected == 0 {
			skipped++
			continue
		}
		newIDs = append(newIDs, t.TweetID)
	}

	if err := tx.Commit(); err != nil {
		return nil, 0, fmt.Errorf("failed to commit tweet batch: %w", err)
	}
	return newIDs, skipped, nil
}

// GetByID returns a single tweet, or nil when it does not exist.
func (r *TweetRepository) GetByID(ctx context.Context, tweetID string) (*models.Tweet, error) {
	query := `
		SELECT tweet_id, text, created_at, author_username, author_display_name,
		       referenced_tweet_id, reference_type, referenced_tweet_text,
		       referenced_tweet_media, referenced_tweet_author_username,
		       media, dedup_group_id, db_created_at
		FROM tweets
		WHERE tweet_id = $1`

	var t models.Tweet
	err := scanTweet(r.db.QueryRowContext(ctx, query, tweetID), &t)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tweet %s: %w", tweetID, err)
	}
	return &t, nil
}

// GetByIDs returns the stored tweets among ids. Missing ids are ignored.
func (r *TweetRepository) GetByIDs(ctx context.Context, ids []string) ([]models.Tweet, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `
		SELECT tweet_id, text, created_at, author_username, author_display_name,
		       referenced_tweet_id, reference_type, referenced_tweet_text,
		       referenced_tweet_media, referenced_tweet_author_username,
		       media, dedup_group_id, db_created_at
		FROM tweets
		WHERE tweet_id = ANY($1)
		ORDER BY created_at ASC, tweet_id ASC`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to query tweets by ids: %w", err)
	}
	defer rows.Close()

	return collectTweets(rows)
}

// ListAll returns every stored tweet ordered oldest first. The monitoring
// window keeps the store small enough to hold in memory for deduplication.
func (r *TweetRepository) ListAll(ctx context.Context) ([]models.Tweet, error) {
	query := `
		SELECT tweet_id, text, created_at, author_username, author_display_name,
		       referenced_tweet_id, reference_type, referenced_tweet_text,
		       referenced_tweet_media, referenced_tweet_author_username,
		       media, dedup_group_id, db_created_at
		FROM tweets
		ORDER BY created_at ASC, tweet_id ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query tweets: %w", err)
	}
	defer rows.Close()

	return collectTweets(rows)
}

// List returns a page of tweets ordered newest first, each carrying summary
// and dedup presence flags, plus the total count for the author filter.
func (r *TweetRepository) List(ctx context.Context, authorUsername string, limit, offset int) ([]models.TweetWithFlags, int, error) {
	var total int
	countQuery := `SELECT COUNT(*) FROM tweets WHERE ($1 = '' OR author_username = $1)`
	if err := r.db.QueryRowContext(ctx, countQuery, authorUsername).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count tweets: %w", err)
	}

	query := `
		SELECT t.tweet_id, t.text, t.created_at, t.author_username, t.author_display_name,
		       t.referenced_tweet_id, t.reference_type, t.referenced_tweet_text,
		       t.referenced_tweet_media, t.referenced_tweet_author_username,
		       t.media, t.dedup_group_id, t.db_created_at,
		       s.tweet_id IS NOT NULL AS has_summary
		FROM tweets t
		LEFT JOIN summaries s ON s.tweet_id = t.tweet_id
		WHERE ($1 = '' OR t.author_username = $1)
		ORDER BY t.created_at DESC, t.tweet_id DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.QueryContext(ctx, query, authorUsername, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list tweets: %w", err)
	}
	defer rows.Close()

	var items []models.TweetWithFlags
	for rows.Next() {
		var item models.TweetWithFlags
		if err := scanTweetWithFlags(rows, &item); err != nil {
			return nil, 0, fmt.Errorf("failed to scan tweet row: %w", err)
		}
		items = append(items, item)
	}
	return items, total, rows.Err()
}

// Feed returns tweets in insertion order. A zero since/until disables that
// bound; since is exclusive and until inclusive so a client can poll with
// the db_created_at of the last item it saw.
func (r *TweetRepository) Feed(ctx context.Context, since, until time.Time, limit int) ([]models.Tweet, error) {
	query := `
		SELECT tweet_id, text, created_at, author_username, author_display_name,
		       referenced_tweet_id, reference_type, referenced_tweet_text,
		       referenced_tweet_media, referenced_tweet_author_username,
		       media, dedup_group_id, db_created_at
		FROM tweets`

	var (
		conds []string
		args  []any
	)
	if !since.IsZero() {
		args = append(args, since)
		conds = append(conds, fmt.Sprintf("db_created_at > $%d", len(args)))
	}
	if !until.IsZero() {
		args = append(args, until)
		conds = append(conds, fmt.Sprintf("db_created_at <= $%d", len(args)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY db_created_at ASC, tweet_id ASC LIMIT $%d", len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query feed: %w", err)
	}
	defer rows.Close()

	return collectTweets(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTweet(scanner rowScanner, t *models.Tweet) error {
	var (
		refID, refType, groupID sql.NullString
		mediaRaw, refMediaRaw   []byte
	)
	if err := scanner.Scan(
		&t.TweetID, &t.Text, &t.CreatedAt, &t.AuthorUsername, &t.AuthorDisplayName,
		&refID, &refType, &t.ReferencedTweetText, &refMediaRaw,
		&t.ReferencedTweetAuthorUsername, &mediaRaw, &groupID, &t.DBCreatedAt,
	); err != nil {
		return err
	}
	t.ReferencedTweetID = refID.String
	t.ReferenceType = models.ReferenceType(refType.String)
	t.DedupGroupID = groupID.String

	var err error
	if t.Media, err = unmarshalMediaItems(mediaRaw); err != nil {
		return fmt.Errorf("failed to decode media: %w", err)
	}
	if t.ReferencedTweetMedia, err = unmarshalMediaItems(refMediaRaw); err != nil {
		return fmt.Errorf("failed to decode referenced media: %w", err)
	}
	return nil
}

func scanTweetWithFlags(scanner rowScanner, item *models.TweetWithFlags) error {
	var (
		refID, refType, groupID sql.NullString
		mediaRaw, refMediaRaw   []byte
	)
	if err := scanner.Scan(
		&item.TweetID, &item.Text, &item.CreatedAt, &item.AuthorUsername, &item.AuthorDisplayName,
		&refID, &refType, &item.ReferencedTweetText, &refMediaRaw,
		&item.ReferencedTweetAuthorUsername, &mediaRaw, &groupID, &item.DBCreatedAt,
		&item.HasSummary,
	); err != nil {
		return err
	}
	item.ReferencedTweetID = refID.String
	item.ReferenceType = models.ReferenceType(refType.String)
	item.DedupGroupID = groupID.String
	item.HasDeduplication = groupID.Valid

	var err error
	if item.Media, err = unmarshalMediaItems(mediaRaw); err != nil {
		return fmt.Errorf("failed to decode media: %w", err)
	}
	if item.ReferencedTweetMedia, err = unmarshalMediaItems(refMediaRaw); err != nil {
		return fmt.Errorf("failed to decode referenced media: %w", err)
	}
	return nil
}

func collectTweets(rows *sql.Rows) ([]models.Tweet, error) {
	var tweets []models.Tweet
	for rows.Next() {
		var t models.Tweet
		if err := scanTweet(rows, &t); err != nil {
			return nil, fmt.Errorf("failed to scan tweet row: %w", err)
		}
		tweets = append(tweets, t)
	}
	return tweets, rows.Err()
}

func marshalMediaItems(items []models.MediaItem) ([]byte, error) {
	if len(items) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(items)
}

func unmarshalMediaItems(raw []byte) ([]models.MediaItem, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var items []models.MediaItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return items, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
