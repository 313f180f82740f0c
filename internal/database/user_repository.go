package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sna-ai/sna/internal/models"
)

// UserRepository handles user accounts and their API keys.
type UserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new user repository.
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

// CreateUser stores a new account. Duplicate emails surface as a unique
// violation for the caller to map.
func (r *UserRepository) CreateUser(ctx context.Context, u *models.User) error {
	query := `
		INSERT INTO users (email, password_hash, is_admin, is_active)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRowContext(ctx, query, u.Email, u.PasswordHash, u.IsAdmin, u.IsActive).
		Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUserByID returns a user, or nil when absent.
func (r *UserRepository) GetUserByID(ctx context.Context, id int) (*models.User, error) {
	query := userSelect + ` WHERE id = $1`

	var u models.User
	err := scanUser(r.db.QueryRowContext(ctx, query, id), &u)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user %d: %w", id, err)
	}
	return &u, nil
}

// GetUserByEmail returns a user, or nil when absent.
func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := userSelect + ` WHERE email = $1`

	var u models.User
	err := scanUser(r.db.QueryRowContext(ctx, query, email), &u)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return &u, nil
}

// ListUsers returns all accounts ordered by id.
func (r *UserRepository) ListUsers(ctx context.Context) ([]models.User, error) {
	query := userSelect + ` ORDER BY id ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		if err := scanUser(rows, &u); err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// SetUserActive toggles an account. Returns false when absent.
func (r *UserRepository) SetUserActive(ctx context.Context, id int, active bool) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET is_active = $1, updated_at = NOW() WHERE id = $2`, active, id)
	if err != nil {
		return false, fmt.Errorf("failed to update user %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read update result: %w", err)
	}
	return affected > 0, nil
}

// UpdatePassword replaces a user's password hash.
func (r *UserRepository) UpdatePassword(ctx context.Context, id int, passwordHash string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET password_hash = $1, updated_at = NOW() WHERE id = $2`, passwordHash, id)
	if err != nil {
		return fmt.Errorf("failed to update password for user %d: %w", id, err)
	}
	return nil
}

// CreateAPIKey stores a new key record. The plaintext never reaches here;
// callers pass the hash and display prefix.
func (r *UserRepository) CreateAPIKey(ctx context.Context, k *models.APIKey) error {
	query := `
		INSERT INTO api_keys (user_id, name, key_prefix, key_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	err := r.db.QueryRowContext(ctx, query, k.UserID, k.Name, k.KeyPrefix, k.KeyHash).
		Scan(&k.ID, &k.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create api key: %w", err)
	}
	return nil
}

// ListAPIKeys returns a user's keys, newest first.
func (r *UserRepository) ListAPIKeys(ctx context.Context, userID int) ([]models.APIKey, error) {
	query := `
		SELECT id, user_id, name, key_prefix, key_hash, created_at, last_used_at
		FROM api_keys
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer rows.Close()

	var keys []models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := scanAPIKey(rows, &k); err != nil {
			return nil, fmt.Errorf("failed to scan api key row: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// GetAPIKeyByHash resolves a presented token hash, or nil when unknown.
func (r *UserRepository) GetAPIKeyByHash(ctx context.Context, keyHash string) (*models.APIKey, error) {
	query := `
		SELECT id, user_id, name, key_prefix, key_hash, created_at, last_used_at
		FROM api_keys
		WHERE key_hash = $1`

	var k models.APIKey
	err := scanAPIKey(r.db.QueryRowContext(ctx, query, keyHash), &k)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get api key by hash: %w", err)
	}
	return &k, nil
}

// TouchAPIKey records a successful use of the key.
func (r *UserRepository) TouchAPIKey(ctx context.Context, id int) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to touch api key %d: %w", id, err)
	}
	return nil
}

// DeleteAPIKey removes one key owned by the user. Returns false when absent.
func (r *UserRepository) DeleteAPIKey(ctx context.Context, userID, keyID int) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM api_keys WHERE id = $1 AND user_id = $2`, keyID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to delete api key %d: %w", keyID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read delete result: %w", err)
	}
	return affected > 0, nil
}

const userSelect = `
	SELECT id, email, password_hash, is_admin, is_active, created_at, updated_at
	FROM users`

func scanUser(scanner rowScanner, u *models.User) error {
	return scanner.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.IsAdmin, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
}

func scanAPIKey(scanner rowScanner, k *models.APIKey) error {
	var lastUsed sql.NullTime
	if err := scanner.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyPrefix, &k.KeyHash, &k.CreatedAt, &lastUsed); err != nil {
		return err
	}
	if lastUsed.Valid {
		t := lastUsed.Time
		k.LastUsedAt = &t
	}
	return nil
}
