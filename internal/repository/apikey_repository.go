package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pixelvault/pixelvault/internal/models"
)

type ApiKeyRepository struct {
	db *sql.DB
}

func NewApiKeyRepository(db *sql.DB) *ApiKeyRepository {
	return &ApiKeyRepository{db: db}
}

func (r *ApiKeyRepository) Create(ctx context.Context, key *models.ApiKey) (*models.ApiKey, error) {
	const query = `
INSERT INTO api_keys (user_id, name, api_key, is_active)
VALUES (?, ?, ?, 1)`
	res, err := r.db.ExecContext(ctx, query, key.UserID, key.Name, key.Key)
	if err != nil {
		return nil, fmt.Errorf("insert api key: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("api key last insert id: %w", err)
	}
	key.ID = id
	key.IsActive = true
	return key, nil
}

func (r *ApiKeyRepository) FindActiveByKey(ctx context.Context, secret string) (*models.ApiKey, error) {
	const query = `
SELECT id, user_id, name, api_key, usage_count, is_active, last_used, created_at
FROM api_keys WHERE api_key = ? AND is_active = 1`
	row := r.db.QueryRowContext(ctx, query, secret)
	key, err := scanApiKey(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan api key: %w", err)
	}
	return key, nil
}

func (r *ApiKeyRepository) ListByUser(ctx context.Context, userID int64) ([]models.ApiKey, error) {
	const query = `
SELECT id, user_id, name, api_key, usage_count, is_active, last_used, created_at
FROM api_keys WHERE user_id = ?
ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []models.ApiKey
	for rows.Next() {
		key, err := scanApiKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan api key list: %w", err)
		}
		keys = append(keys, *key)
	}
	return keys, rows.Err()
}

// TouchUsage bumps the usage counter and last-used timestamp. Best effort;
// callers ignore failures so an audit column never blocks a request.
func (r *ApiKeyRepository) TouchUsage(ctx context.Context, id int64) error {
	const query = `UPDATE api_keys SET usage_count = usage_count + 1, last_used = NOW() WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("touch api key usage: %w", err)
	}
	return nil
}

func (r *ApiKeyRepository) Deactivate(ctx context.Context, userID, id int64) (bool, error) {
	const query = `UPDATE api_keys SET is_active = 0 WHERE id = ? AND user_id = ?`
	res, err := r.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return false, fmt.Errorf("deactivate api key: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deactivate rows affected: %w", err)
	}
	return affected > 0, nil
}

func scanApiKey(row rowScanner) (*models.ApiKey, error) {
	var (
		k        models.ApiKey
		active   int
		lastUsed sql.NullTime
	)
	if err := row.Scan(&k.ID, &k.UserID, &k.Name, &k.Key, &k.UsageCount, &active, &lastUsed, &k.CreatedAt); err != nil {
		return nil, err
	}
	k.IsActive = active != 0
	if lastUsed.Valid {
		k.LastUsed = &lastUsed.Time
	}
	return &k, nil
}
