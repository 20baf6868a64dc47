package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/context8/context8-docker/internal/db/models"
)

// VoteRepository handles per-user votes and the derived aggregates on the
// solution row. All mutations run inside a caller-owned transaction so the
// vote write and the aggregate recompute land together.
type VoteRepository struct {
	db *sqlx.DB
}

// NewVoteRepository creates a VoteRepository.
func NewVoteRepository(db *sqlx.DB) *VoteRepository {
	return &VoteRepository{db: db}
}

// Get returns the user's vote on a solution, or (nil, nil) when they have not
// voted.
func (r *VoteRepository) Get(ctx context.Context, solutionID, userID string) (*models.SolutionVote, error) {
	var v models.SolutionVote
	err := r.db.GetContext(ctx, &v,
		`SELECT id, solution_id, user_id, value, created_at, updated_at
		 FROM solution_votes WHERE solution_id = $1 AND user_id = $2`,
		solutionID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// UpsertTx records or replaces the user's vote in one statement. Concurrent
// first votes land on the unique index over (solution_id, user_id) and
// converge through the conflict clause instead of aborting the transaction.
func (r *VoteRepository) UpsertTx(ctx context.Context, tx *sqlx.Tx, solutionID, userID string, value int) error {
	now := time.Now().UTC()
	_, err := tx.ExecContext(ctx,
		`INSERT INTO solution_votes (id, solution_id, user_id, value, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)
		 ON CONFLICT (solution_id, user_id)
		 DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		uuid.NewString(), solutionID, userID, value, now)
	return err
}

// DeleteTx removes the user's vote. Returns false when there was none.
func (r *VoteRepository) DeleteTx(ctx context.Context, tx *sqlx.Tx, solutionID, userID string) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`DELETE FROM solution_votes WHERE solution_id = $1 AND user_id = $2`,
		solutionID, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RecomputeAggregatesTx recounts the vote table for one solution and writes
// the aggregates back onto its row. The counts are always derived, never
// incremented, so a lost update cannot drift them.
func (r *VoteRepository) RecomputeAggregatesTx(ctx context.Context, tx *sqlx.Tx, solutionID string) (up, down int, err error) {
	row := tx.QueryRowxContext(ctx,
		`SELECT COUNT(*) FILTER (WHERE value = 1),
		        COUNT(*) FILTER (WHERE value = -1)
		 FROM solution_votes WHERE solution_id = $1`, solutionID)
	if err = row.Scan(&up, &down); err != nil {
		return 0, 0, err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE solutions SET upvotes = $2, downvotes = $3 WHERE id = $1`,
		solutionID, up, down)
	if err != nil {
		return 0, 0, err
	}
	return up, down, nil
}

// BeginTx starts a vote transaction.
func (r *VoteRepository) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	return r.db.BeginTxx(ctx, nil)
}
