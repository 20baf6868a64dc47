package services

import (
	"context"
	"log/slog"

	"github.com/context8/context8-docker/internal/apperr"
	"github.com/context8/context8-docker/internal/auth"
	"github.com/context8/context8-docker/internal/db/models"
	"github.com/context8/context8-docker/internal/db/repositories"
	"github.com/context8/context8-docker/internal/queue"
)

// VoteState is the outcome of a vote mutation.
type VoteState struct {
	Upvotes   int `json:"upvotes"`
	Downvotes int `json:"downvotes"`
	UserVote  int `json:"user_vote"` // +1, -1, or 0
}

// VoteService mutates votes in the ledger (authoritative) and refreshes the
// index copy of the aggregates as a best-effort follow-up.
type VoteService struct {
	solutions *repositories.SolutionRepository
	votes     *repositories.VoteRepository
	index     indexStore
	syncQueue jobEnqueuer
}

// NewVoteService creates a VoteService.
func NewVoteService(solutions *repositories.SolutionRepository, votes *repositories.VoteRepository, index indexStore, syncQueue jobEnqueuer) *VoteService {
	return &VoteService{solutions: solutions, votes: votes, index: index, syncQueue: syncQueue}
}

// checkAccess verifies the caller can see the solution at all; voting on an
// invisible solution reports NotFound, leaking nothing.
func (s *VoteService) checkAccess(ctx context.Context, rc *auth.ReadContext, id string) (*models.Solution, error) {
	filter, err := readFilter(rc, "")
	if err != nil {
		return nil, err
	}
	if filter.Empty() {
		return nil, apperr.New(apperr.NotFound, "solution not found")
	}
	sol, err := s.solutions.GetAccessible(ctx, id, filter)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "load solution")
	}
	if sol == nil {
		return nil, apperr.New(apperr.NotFound, "solution not found")
	}
	return sol, nil
}

// refreshIndexCounts pushes the recomputed aggregates into the index. A
// failure is logged and handed to the reconciliation queue; vote counts are
// allowed to be eventually consistent.
func (s *VoteService) refreshIndexCounts(ctx context.Context, id string, up, down int) {
	err := s.index.UpdateFields(id, map[string]any{"upvotes": up, "downvotes": down})
	if err == nil {
		return
	}
	slog.Warn("vote count index refresh failed, queueing sync", "solution_id", id, "error", err)
	if qErr := s.syncQueue.Enqueue(ctx, queue.Job{SolutionID: id}); qErr != nil {
		slog.Error("queue index sync", "solution_id", id, "error", qErr)
	}
}

// UserVote returns the caller's current vote on a solution, 0 when they have
// not voted or carry no identity.
func (s *VoteService) UserVote(ctx context.Context, userID, id string) (int, error) {
	if userID == "" {
		return 0, nil
	}
	v, err := s.votes.Get(ctx, id, userID)
	if err != nil {
		return 0, apperr.Wrap(apperr.Internal, err, "load vote")
	}
	if v == nil {
		return 0, nil
	}
	return v.Value, nil
}

// Set records the user's vote, replacing any previous one. Setting the same
// value twice is a no-op.
func (s *VoteService) Set(ctx context.Context, rc *auth.ReadContext, id string, value int) (*VoteState, error) {
	if value != 1 && value != -1 {
		return nil, apperr.New(apperr.Invalid, "vote value must be 1 or -1")
	}
	if rc.UserID == "" {
		return nil, apperr.New(apperr.Unauthenticated, "voting requires an identity")
	}
	sol, err := s.checkAccess(ctx, rc, id)
	if err != nil {
		return nil, err
	}
	if sol.UserID == rc.UserID {
		return nil, apperr.New(apperr.Invalid, "cannot vote on your own solution")
	}

	existing, err := s.votes.Get(ctx, id, rc.UserID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "load vote")
	}
	if existing != nil && existing.Value == value {
		sol, err := s.solutions.GetByID(ctx, id)
		if err != nil || sol == nil {
			return nil, apperr.Wrap(apperr.Internal, err, "load solution")
		}
		return &VoteState{Upvotes: sol.Upvotes, Downvotes: sol.Downvotes, UserVote: value}, nil
	}

	tx, err := s.votes.BeginTx(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "begin vote transaction")
	}
	defer tx.Rollback()

	// One upsert covers both the first vote and a flip, and makes the
	// concurrent first-vote race converge without aborting the transaction
	// the aggregate recompute still has to run in.
	if err := s.votes.UpsertTx(ctx, tx, id, rc.UserID, value); err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "write vote")
	}

	up, down, err := s.votes.RecomputeAggregatesTx(ctx, tx, id)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "recompute vote aggregates")
	}
	if err := tx.Commit(); err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "commit vote")
	}

	s.refreshIndexCounts(ctx, id, up, down)
	return &VoteState{Upvotes: up, Downvotes: down, UserVote: value}, nil
}

// Clear removes the user's vote; clearing a non-existent vote is a no-op.
func (s *VoteService) Clear(ctx context.Context, rc *auth.ReadContext, id string) (*VoteState, error) {
	if rc.UserID == "" {
		return nil, apperr.New(apperr.Unauthenticated, "voting requires an identity")
	}
	if _, err := s.checkAccess(ctx, rc, id); err != nil {
		return nil, err
	}

	tx, err := s.votes.BeginTx(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "begin vote transaction")
	}
	defer tx.Rollback()

	removed, err := s.votes.DeleteTx(ctx, tx, id, rc.UserID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "clear vote")
	}
	up, down, err := s.votes.RecomputeAggregatesTx(ctx, tx, id)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "recompute vote aggregates")
	}
	if err := tx.Commit(); err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "commit vote")
	}

	if removed {
		s.refreshIndexCounts(ctx, id, up, down)
	}
	return &VoteState{Upvotes: up, Downvotes: down, UserVote: 0}, nil
}
