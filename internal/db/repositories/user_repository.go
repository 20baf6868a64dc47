// Package repositories implements the query layer over the ledger. Each
// repository owns one table, takes the shared *sqlx.DB by constructor
// injection, and returns (nil, nil) for absent rows so callers decide which
// absences are errors.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/context8/context8-docker/internal/db/models"
)

// UserRepository handles user rows.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// GetByID returns the user or (nil, nil) when absent.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user,
		`SELECT id, email, password_hash, is_admin, created_at FROM users WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByEmail returns the user matching email or (nil, nil) when absent.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user,
		`SELECT id, email, password_hash, is_admin, created_at FROM users WHERE email = $1`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Create inserts a user row.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	user.CreatedAt = time.Now().UTC()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, is_admin, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		user.ID, user.Email, user.PasswordHash, user.IsAdmin, user.CreatedAt)
	return err
}

// Ensure creates the user row on first successful authentication if it does
// not exist yet, then returns it.
func (r *UserRepository) Ensure(ctx context.Context, id string) (*models.User, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, is_admin, created_at)
		 VALUES ($1, '', '', FALSE, NOW())
		 ON CONFLICT (id) DO NOTHING`, id)
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

// AdminExists reports whether any admin user has been bootstrapped.
func (r *UserRepository) AdminExists(ctx context.Context) (bool, error) {
	var count int
	if err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM users WHERE is_admin`); err != nil {
		return false, err
	}
	return count > 0, nil
}

// SetPasswordHash replaces the stored password hash.
func (r *UserRepository) SetPasswordHash(ctx context.Context, id, hash string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET password_hash = $2 WHERE id = $1`, id, hash)
	return err
}
