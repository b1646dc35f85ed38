package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"chatgate/internal/platform/database"
	"chatgate/internal/platform/models"
)

type APIKeyRepository struct {
	db *database.DB
}

func NewAPIKeyRepository(db *database.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

const apiKeyColumns = `id, key_hash, key_prefix, name, scopes, created_by, expires_at, revoked_at, last_used_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAPIKey(row rowScanner) (*models.APIKey, error) {
	var k models.APIKey
	var scopesStr string
	var createdBy, expiresAt, revokedAt, lastUsedAt sql.NullInt64

	err := row.Scan(&k.ID, &k.KeyHash, &k.KeyPrefix, &k.Name, &scopesStr, &createdBy, &expiresAt, &revokedAt, &lastUsedAt, &k.CreatedAt, &k.UpdatedAt)
	if err != nil {
		return nil, err
	}

	k.CreatedBy = nullInt(createdBy)
	k.ExpiresAt = nullInt(expiresAt)
	k.RevokedAt = nullInt(revokedAt)
	k.LastUsedAt = nullInt(lastUsedAt)
	k.Scopes = models.ParseScopes(scopesStr)

	return &k, nil
}

func nullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func (r *APIKeyRepository) Create(ctx context.Context, key *models.APIKey) error {
	now := time.Now().Unix()
	key.CreatedAt = now
	key.UpdatedAt = now
	key.Scopes = models.NormalizeScopes(key.Scopes)
	key.KeyHash = key.Hash()
	if key.KeyPrefix == "" {
		key.KeyPrefix = models.SecretPrefix(key.Secret)
	}

	scopesJSON, err := json.Marshal(key.Scopes)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO api_keys (key_hash, key_prefix, name, scopes, created_by, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`
	return r.db.QueryRowContext(ctx, query, key.KeyHash, key.KeyPrefix, key.Name, string(scopesJSON), key.CreatedBy, key.ExpiresAt, key.CreatedAt, key.UpdatedAt).Scan(&key.ID)
}

// GetBySecret returns nil, nil when no key carries the secret.
func (r *APIKeyRepository) GetBySecret(ctx context.Context, secret string) (*models.APIKey, error) {
	return r.GetByHash(ctx, models.HashSecret(secret))
}

func (r *APIKeyRepository) GetByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash = ?`, hash)
	k, err := scanAPIKey(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return k, err
}

func (r *APIKeyRepository) GetByID(ctx context.Context, id int64) (*models.APIKey, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE id = ?`, id)
	k, err := scanAPIKey(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return k, err
}

func (r *APIKeyRepository) List(ctx context.Context) ([]*models.APIKey, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := []*models.APIKey{}
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Update persists name, scopes and expiry. Revocation has its own method.
func (r *APIKeyRepository) Update(ctx context.Context, key *models.APIKey) error {
	key.UpdatedAt = time.Now().Unix()
	key.Scopes = models.NormalizeScopes(key.Scopes)

	scopesJSON, err := json.Marshal(key.Scopes)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE api_keys SET name = ?, scopes = ?, expires_at = ?, updated_at = ?
		WHERE id = ?
	`, key.Name, string(scopesJSON), key.ExpiresAt, key.UpdatedAt, key.ID)
	return err
}

// Revoke stamps revoked_at once. Returns false if the key does not exist or
// was already revoked.
func (r *APIKeyRepository) Revoke(ctx context.Context, id int64) (bool, error) {
	now := time.Now().Unix()
	res, err := r.db.ExecContext(ctx, `UPDATE api_keys SET revoked_at = ?, updated_at = ? WHERE id = ? AND revoked_at IS NULL`, now, now, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *APIKeyRepository) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *APIKeyRepository) UpdateLastUsed(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = ? WHERE id = ?`, at.Unix(), id)
	return err
}
