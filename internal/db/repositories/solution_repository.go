package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/context8/context8-docker/internal/access"
	"github.com/context8/context8-docker/internal/db/models"
)

// SolutionRepository handles solution rows in the ledger. Access-controlled
// reads take an access.Filter so the visibility predicate is applied in SQL,
// never in Go.
type SolutionRepository struct {
	db *sqlx.DB
}

// NewSolutionRepository creates a SolutionRepository.
func NewSolutionRepository(db *sqlx.DB) *SolutionRepository {
	return &SolutionRepository{db: db}
}

const solutionColumns = `id, user_id, api_key_id, title, error_message, error_type, context,
	root_cause, solution, code_changes, tags, conversation_language, programming_language,
	vibecoding_software, project_path, environment, visibility, upvotes, downvotes,
	embedding, embedding_status, embedding_error, embedding_updated_at, created_at`

// InsertTx inserts a solution row inside tx. The quota check and the insert
// share one transaction so the advisory lock covers both.
func (r *SolutionRepository) InsertTx(ctx context.Context, tx *sqlx.Tx, s *models.Solution) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO solutions (id, user_id, api_key_id, title, error_message, error_type, context,
		   root_cause, solution, code_changes, tags, conversation_language, programming_language,
		   vibecoding_software, project_path, environment, visibility, upvotes, downvotes,
		   embedding, embedding_status, embedding_error, embedding_updated_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
		   0, 0, $18, $19, $20, $21, $22)`,
		s.ID, s.UserID, s.APIKeyID, s.Title, s.ErrorMessage, s.ErrorType, s.Context,
		s.RootCause, s.Solution, s.CodeChanges, s.Tags, s.ConversationLanguage,
		s.ProgrammingLanguage, s.VibecodingSoftware, s.ProjectPath, s.Environment,
		s.Visibility, s.Embedding, s.EmbeddingStatus, s.EmbeddingError,
		s.EmbeddingUpdatedAt, s.CreatedAt)
	return err
}

// GetByID returns the solution regardless of visibility, or (nil, nil) when
// absent. Callers that act for a credential should use GetAccessible.
func (r *SolutionRepository) GetByID(ctx context.Context, id string) (*models.Solution, error) {
	var s models.Solution
	err := r.db.GetContext(ctx, &s,
		`SELECT `+solutionColumns+` FROM solutions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetAccessible returns the solution only when the filter admits it.
// Inaccessible and absent are indistinguishable: both return (nil, nil).
func (r *SolutionRepository) GetAccessible(ctx context.Context, id string, filter access.Filter) (*models.Solution, error) {
	clause, args := filter.SQL(2)
	q := `SELECT ` + solutionColumns + ` FROM solutions WHERE id = $1 AND ` + clause
	var s models.Solution
	err := r.db.GetContext(ctx, &s, q, append([]any{id}, args...)...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// List returns accessible solutions newest first.
func (r *SolutionRepository) List(ctx context.Context, filter access.Filter, limit, offset int) ([]models.Solution, error) {
	clause, args := filter.SQL(1)
	q := fmt.Sprintf(`SELECT `+solutionColumns+` FROM solutions WHERE %s
		ORDER BY created_at DESC LIMIT %d OFFSET %d`, clause, limit, offset)
	out := []models.Solution{}
	if err := r.db.SelectContext(ctx, &out, q, args...); err != nil {
		return nil, err
	}
	return out, nil
}

// CountAccessible returns how many solutions the filter admits.
func (r *SolutionRepository) CountAccessible(ctx context.Context, filter access.Filter) (int, error) {
	clause, args := filter.SQL(1)
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM solutions WHERE `+clause, args...)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// CountByKeySinceTx counts solutions written under apiKeyID at or after since,
// inside tx. Used by the quota check, which holds the advisory lock for the
// key while this runs.
func (r *SolutionRepository) CountByKeySinceTx(ctx context.Context, tx *sqlx.Tx, apiKeyID string, since time.Time) (int, error) {
	var count int
	err := tx.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM solutions WHERE api_key_id = $1 AND created_at >= $2`,
		apiKeyID, since)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// ListByAPIKey returns every solution written under one credential, oldest
// first. Feeds the revocation cascade.
func (r *SolutionRepository) ListByAPIKey(ctx context.Context, apiKeyID string) ([]models.Solution, error) {
	out := []models.Solution{}
	err := r.db.SelectContext(ctx, &out,
		`SELECT `+solutionColumns+` FROM solutions
		 WHERE api_key_id = $1 ORDER BY created_at ASC`, apiKeyID)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteWithVotes removes the solution and its votes in one transaction.
// Returns false when the row was already gone.
func (r *SolutionRepository) DeleteWithVotes(ctx context.Context, id string) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM solution_votes WHERE solution_id = $1`, id); err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM solutions WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteManyWithVotesTx removes a batch of solutions and their votes inside
// tx. The revocation cascade batches all of a key's rows into the same
// transaction that flips the revoked flag.
func (r *SolutionRepository) DeleteManyWithVotesTx(ctx context.Context, tx *sqlx.Tx, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM solution_votes WHERE solution_id = ANY($1)`, pq.Array(ids)); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `DELETE FROM solutions WHERE id = ANY($1)`, pq.Array(ids))
	return err
}

// UpdateVisibility sets the visibility on the ledger row.
func (r *SolutionRepository) UpdateVisibility(ctx context.Context, id, visibility string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE solutions SET visibility = $2 WHERE id = $1`, id, visibility)
	return err
}

// SetEmbeddingResult stores a computed vector and marks the embedding done.
func (r *SolutionRepository) SetEmbeddingResult(ctx context.Context, id string, vector []float32) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE solutions
		 SET embedding = $2, embedding_status = $3, embedding_error = NULL, embedding_updated_at = NOW()
		 WHERE id = $1`,
		id, pq.Float32Array(vector), models.EmbeddingDone)
	return err
}

// SetEmbeddingStatus records a transition of the embedding lifecycle without
// touching the vector itself.
func (r *SolutionRepository) SetEmbeddingStatus(ctx context.Context, id, status string, embedErr *string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE solutions
		 SET embedding_status = $2, embedding_error = $3, embedding_updated_at = NOW()
		 WHERE id = $1`,
		id, status, embedErr)
	return err
}

// EmbeddingRow is the slice of a solution the vector search needs.
type EmbeddingRow struct {
	ID        string          `db:"id"`
	Embedding pq.Float32Array `db:"embedding"`
}

// ListEmbeddings returns (id, embedding) pairs for accessible solutions that
// have a stored vector.
func (r *SolutionRepository) ListEmbeddings(ctx context.Context, filter access.Filter) ([]EmbeddingRow, error) {
	clause, args := filter.SQL(1)
	out := []EmbeddingRow{}
	err := r.db.SelectContext(ctx, &out,
		`SELECT id, embedding FROM solutions
		 WHERE embedding IS NOT NULL AND `+clause, args...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListBatch pages through all solutions by creation order, for full reindex.
func (r *SolutionRepository) ListBatch(ctx context.Context, limit, offset int) ([]models.Solution, error) {
	out := []models.Solution{}
	err := r.db.SelectContext(ctx, &out,
		fmt.Sprintf(`SELECT `+solutionColumns+` FROM solutions
		 ORDER BY created_at ASC, id ASC LIMIT %d OFFSET %d`, limit, offset))
	if err != nil {
		return nil, err
	}
	return out, nil
}

// BeginTx starts a ledger transaction for multi-repository flows.
func (r *SolutionRepository) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	return r.db.BeginTxx(ctx, nil)
}
