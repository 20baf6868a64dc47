package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/context8/context8-docker/internal/db/models"
)

// APIKeyRepository handles root and sub API key rows.
type APIKeyRepository struct {
	db *sqlx.DB
}

// NewAPIKeyRepository creates an APIKeyRepository.
func NewAPIKeyRepository(db *sqlx.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

const apiKeyColumns = `id, user_id, name, key_hash, revoked, daily_limit, monthly_limit, created_at`

const subAPIKeyColumns = `id, parent_api_key_id, user_id, name, key_hash, revoked, can_read, can_write, daily_limit, monthly_limit, created_at`

// Create inserts a root key row.
func (r *APIKeyRepository) Create(ctx context.Context, key *models.APIKey) error {
	key.CreatedAt = time.Now().UTC()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO api_keys (id, user_id, name, key_hash, revoked, daily_limit, monthly_limit, created_at)
		 VALUES ($1, $2, $3, $4, FALSE, $5, $6, $7)`,
		key.ID, key.UserID, key.Name, key.KeyHash, key.DailyLimit, key.MonthlyLimit, key.CreatedAt)
	return err
}

// CreateSub inserts a sub key row.
func (r *APIKeyRepository) CreateSub(ctx context.Context, key *models.SubAPIKey) error {
	key.CreatedAt = time.Now().UTC()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sub_api_keys (id, parent_api_key_id, user_id, name, key_hash, revoked, can_read, can_write, daily_limit, monthly_limit, created_at)
		 VALUES ($1, $2, $3, $4, $5, FALSE, $6, $7, $8, $9, $10)`,
		key.ID, key.ParentAPIKeyID, key.UserID, key.Name, key.KeyHash,
		key.CanRead, key.CanWrite, key.DailyLimit, key.MonthlyLimit, key.CreatedAt)
	return err
}

// GetByHash returns the non-revoked root key with the given secret hash, or
// (nil, nil) when none matches.
func (r *APIKeyRepository) GetByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	var key models.APIKey
	err := r.db.GetContext(ctx, &key,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash = $1 AND NOT revoked`, hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// GetSubByHash returns the non-revoked sub key with the given secret hash. Sub
// keys whose parent has been revoked are treated as absent.
func (r *APIKeyRepository) GetSubByHash(ctx context.Context, hash string) (*models.SubAPIKey, error) {
	var key models.SubAPIKey
	err := r.db.GetContext(ctx, &key,
		`SELECT s.id, s.parent_api_key_id, s.user_id, s.name, s.key_hash, s.revoked,
		        s.can_read, s.can_write, s.daily_limit, s.monthly_limit, s.created_at
		 FROM sub_api_keys s
		 JOIN api_keys p ON p.id = s.parent_api_key_id
		 WHERE s.key_hash = $1 AND NOT s.revoked AND NOT p.revoked`, hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// GetByIDForUser returns the root key only when it belongs to userID, or
// (nil, nil) otherwise.
func (r *APIKeyRepository) GetByIDForUser(ctx context.Context, id, userID string) (*models.APIKey, error) {
	var key models.APIKey
	err := r.db.GetContext(ctx, &key,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE id = $1 AND user_id = $2`, id, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// GetSubByIDForUser returns the sub key only when it belongs to userID, or
// (nil, nil) otherwise.
func (r *APIKeyRepository) GetSubByIDForUser(ctx context.Context, id, userID string) (*models.SubAPIKey, error) {
	var key models.SubAPIKey
	err := r.db.GetContext(ctx, &key,
		`SELECT `+subAPIKeyColumns+` FROM sub_api_keys WHERE id = $1 AND user_id = $2`, id, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// ListActiveByUser returns the user's non-revoked root keys, oldest first.
func (r *APIKeyRepository) ListActiveByUser(ctx context.Context, userID string) ([]models.APIKey, error) {
	keys := []models.APIKey{}
	err := r.db.SelectContext(ctx, &keys,
		`SELECT `+apiKeyColumns+` FROM api_keys
		 WHERE user_id = $1 AND NOT revoked
		 ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// ListByUser returns all of the user's root keys including revoked ones.
func (r *APIKeyRepository) ListByUser(ctx context.Context, userID string) ([]models.APIKey, error) {
	keys := []models.APIKey{}
	err := r.db.SelectContext(ctx, &keys,
		`SELECT `+apiKeyColumns+` FROM api_keys
		 WHERE user_id = $1
		 ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// ListActiveSubsByParents returns the non-revoked sub keys whose parent is in
// parentIDs.
func (r *APIKeyRepository) ListActiveSubsByParents(ctx context.Context, parentIDs []string) ([]models.SubAPIKey, error) {
	if len(parentIDs) == 0 {
		return []models.SubAPIKey{}, nil
	}
	keys := []models.SubAPIKey{}
	err := r.db.SelectContext(ctx, &keys,
		`SELECT `+subAPIKeyColumns+` FROM sub_api_keys
		 WHERE parent_api_key_id = ANY($1) AND NOT revoked
		 ORDER BY created_at ASC`, pq.Array(parentIDs))
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// ListSubsByParent returns all sub keys of one parent including revoked ones.
func (r *APIKeyRepository) ListSubsByParent(ctx context.Context, parentID string) ([]models.SubAPIKey, error) {
	keys := []models.SubAPIKey{}
	err := r.db.SelectContext(ctx, &keys,
		`SELECT `+subAPIKeyColumns+` FROM sub_api_keys
		 WHERE parent_api_key_id = $1
		 ORDER BY created_at ASC`, parentID)
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// UpdateLimits replaces both quota limits on a root key. Nil clears a limit.
func (r *APIKeyRepository) UpdateLimits(ctx context.Context, id string, daily, monthly *int) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE api_keys SET daily_limit = $2, monthly_limit = $3 WHERE id = $1`,
		id, daily, monthly)
	return err
}

// UpdateSubLimits replaces both quota limits on a sub key.
func (r *APIKeyRepository) UpdateSubLimits(ctx context.Context, id string, daily, monthly *int) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sub_api_keys SET daily_limit = $2, monthly_limit = $3 WHERE id = $1`,
		id, daily, monthly)
	return err
}

// UpdateSubPermissions replaces the permission flags on a sub key.
func (r *APIKeyRepository) UpdateSubPermissions(ctx context.Context, id string, canRead, canWrite bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sub_api_keys SET can_read = $2, can_write = $3 WHERE id = $1`,
		id, canRead, canWrite)
	return err
}

// RevokeTx marks a root key revoked inside tx, as part of the revocation
// cascade transaction.
func (r *APIKeyRepository) RevokeTx(ctx context.Context, tx *sqlx.Tx, id string) error {
	_, err := tx.ExecContext(ctx, `UPDATE api_keys SET revoked = TRUE WHERE id = $1`, id)
	return err
}

// RevokeSubsTx marks all sub keys of a parent revoked inside tx.
func (r *APIKeyRepository) RevokeSubsTx(ctx context.Context, tx *sqlx.Tx, parentID string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE sub_api_keys SET revoked = TRUE WHERE parent_api_key_id = $1`, parentID)
	return err
}

// RevokeSubTx marks a single sub key revoked inside tx, alongside the delete
// of the solutions it wrote.
func (r *APIKeyRepository) RevokeSubTx(ctx context.Context, tx *sqlx.Tx, id string) error {
	_, err := tx.ExecContext(ctx, `UPDATE sub_api_keys SET revoked = TRUE WHERE id = $1`, id)
	return err
}
