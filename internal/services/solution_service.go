// Package services holds the orchestration layer: every operation that spans
// the ledger, the search index, the embedding provider, or the job queues is
// coordinated here, including the compensation logic that keeps the two
// stores consistent.
package services

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/context8/context8-docker/internal/access"
	"github.com/context8/context8-docker/internal/apperr"
	"github.com/context8/context8-docker/internal/auth"
	"github.com/context8/context8-docker/internal/db/models"
	"github.com/context8/context8-docker/internal/db/repositories"
	"github.com/context8/context8-docker/internal/embeddings"
	"github.com/context8/context8-docker/internal/quota"
	"github.com/context8/context8-docker/internal/queue"
	"github.com/context8/context8-docker/internal/searchindex"
	"github.com/context8/context8-docker/internal/telemetry"
)

// indexStore is the search-index surface the services need. *searchindex.Index
// satisfies it; tests substitute failure-injecting fakes.
type indexStore interface {
	Upsert(doc *searchindex.Document) error
	UpdateFields(id string, fields map[string]any) error
	Delete(id string) error
	Get(id string, filter query.Query) (*searchindex.Document, error)
	Search(text string, filter query.Query, limit, offset int) ([]searchindex.Hit, int, error)
	Count(filter query.Query) (int, error)
}

// jobEnqueuer is the queue surface for best-effort background follow-ups.
type jobEnqueuer interface {
	Enqueue(ctx context.Context, job queue.Job) error
}

// CreateSolutionInput carries the writable fields of a new solution.
type CreateSolutionInput struct {
	Title                string         `json:"title"`
	ErrorMessage         string         `json:"error_message"`
	ErrorType            string         `json:"error_type"`
	Context              string         `json:"context"`
	RootCause            string         `json:"root_cause"`
	Solution             string         `json:"solution"`
	CodeChanges          *string        `json:"code_changes"`
	Tags                 []string       `json:"tags"`
	ConversationLanguage *string        `json:"conversation_language"`
	ProgrammingLanguage  *string        `json:"programming_language"`
	VibecodingSoftware   *string        `json:"vibecoding_software"`
	ProjectPath          *string        `json:"project_path"`
	Environment          models.JSONMap `json:"environment"`
	Visibility           string         `json:"visibility"`
}

// SolutionService owns the dual-store lifecycle of solutions.
type SolutionService struct {
	solutions  *repositories.SolutionRepository
	votes      *repositories.VoteRepository
	index      indexStore
	embedder   *embeddings.Service
	limiter    *quota.Limiter
	embedQueue jobEnqueuer
	syncQueue  jobEnqueuer
}

// NewSolutionService creates a SolutionService.
func NewSolutionService(
	solutions *repositories.SolutionRepository,
	votes *repositories.VoteRepository,
	index indexStore,
	embedder *embeddings.Service,
	limiter *quota.Limiter,
	embedQueue, syncQueue jobEnqueuer,
) *SolutionService {
	return &SolutionService{
		solutions:  solutions,
		votes:      votes,
		index:      index,
		embedder:   embedder,
		limiter:    limiter,
		embedQueue: embedQueue,
		syncQueue:  syncQueue,
	}
}

// readFilter renders a read context plus optional explicit visibility into
// the shared access predicate.
func readFilter(rc *auth.ReadContext, explicit string) (access.Filter, error) {
	vis, err := models.NormalizeVisibility(explicit)
	if err != nil {
		return access.Filter{}, apperr.New(apperr.Invalid, "visibility must be private or team")
	}
	return access.New(rc.APIKeyIDs, rc.AllowTeam, rc.AllowAdmin, vis), nil
}

// ownFilter is the predicate for mutations: ownership (or admin), never team
// visibility — seeing a team solution does not grant the right to change it.
func ownFilter(wc *auth.WriteContext) access.Filter {
	return access.New(wc.APIKeyIDs, false, wc.AllowAdmin, "")
}

func validateCreate(in *CreateSolutionInput) error {
	missing := []string{}
	for _, f := range []struct{ name, v string }{
		{"title", in.Title},
		{"error_message", in.ErrorMessage},
		{"error_type", in.ErrorType},
		{"context", in.Context},
		{"root_cause", in.RootCause},
		{"solution", in.Solution},
	} {
		if strings.TrimSpace(f.v) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return apperr.New(apperr.Invalid, "missing required fields: %s", strings.Join(missing, ", "))
	}
	if _, err := models.NormalizeVisibility(in.Visibility); err != nil {
		return apperr.New(apperr.Invalid, "visibility must be private or team")
	}
	return nil
}

// Create writes the ledger row (quota-checked, inside one transaction), then
// embeds inline without ever blocking on the provider, then publishes the
// index document. An index failure rolls the ledger row back best-effort:
// an unindexed ledger row is invisible, but it must not linger.
func (s *SolutionService) Create(ctx context.Context, wc *auth.WriteContext, in *CreateSolutionInput) (*models.Solution, error) {
	if err := validateCreate(in); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	vis, err := models.NormalizeVisibility(in.Visibility)
	if err != nil {
		return nil, apperr.New(apperr.Invalid, "visibility must be private or team")
	}
	if vis == "" {
		vis = models.VisibilityPrivate
	}
	sol := &models.Solution{
		ID:                   uuid.NewString(),
		UserID:               wc.UserID,
		APIKeyID:             wc.WriteKeyID,
		Title:                strings.TrimSpace(in.Title),
		ErrorMessage:         in.ErrorMessage,
		ErrorType:            in.ErrorType,
		Context:              in.Context,
		RootCause:            in.RootCause,
		Solution:             in.Solution,
		CodeChanges:          in.CodeChanges,
		Tags:                 models.StringList(in.Tags),
		ConversationLanguage: in.ConversationLanguage,
		ProgrammingLanguage:  in.ProgrammingLanguage,
		VibecodingSoftware:   in.VibecodingSoftware,
		ProjectPath:          in.ProjectPath,
		Environment:          in.Environment,
		Visibility:           vis,
		EmbeddingStatus:      models.EmbeddingPending,
		CreatedAt:            now,
	}
	if sol.Tags == nil {
		sol.Tags = models.StringList{}
	}

	res := s.embedder.Embed(ctx, sol)
	sol.Embedding = pq.Float32Array(res.Vector)
	sol.EmbeddingStatus = res.Status
	sol.EmbeddingError = res.Err
	sol.EmbeddingUpdatedAt = &now

	tx, err := s.solutions.BeginTx(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "begin create transaction")
	}
	defer tx.Rollback()

	if err := s.limiter.Check(ctx, tx, wc.Scope, now); err != nil {
		return nil, err
	}
	if err := s.solutions.InsertTx(ctx, tx, sol); err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "insert solution")
	}
	if err := tx.Commit(); err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "commit solution")
	}

	if err := s.index.Upsert(searchindex.FromSolution(sol)); err != nil {
		// Roll the ledger back rather than leave a row the index cannot serve.
		if _, delErr := s.solutions.DeleteWithVotes(ctx, sol.ID); delErr != nil {
			telemetry.LogCompensation("create", sol.ID, false, delErr)
		} else {
			telemetry.LogCompensation("create", sol.ID, true, err)
		}
		return nil, apperr.Wrap(apperr.Upstream, err, "index new solution")
	}

	if res.Status == models.EmbeddingFailed {
		if qErr := s.embedQueue.Enqueue(ctx, queue.Job{SolutionID: sol.ID}); qErr != nil {
			slog.Warn("queue embedding retry", "solution_id", sol.ID, "error", qErr)
		}
	}
	return sol, nil
}

// Get fetches one accessible solution. Absent and inaccessible are the same
// NotFound.
func (s *SolutionService) Get(ctx context.Context, rc *auth.ReadContext, id string) (*models.Solution, error) {
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

// List returns one page of accessible solutions and the total count.
func (s *SolutionService) List(ctx context.Context, rc *auth.ReadContext, explicit string, limit, offset int) ([]models.Solution, int, error) {
	filter, err := readFilter(rc, explicit)
	if err != nil {
		return nil, 0, err
	}
	if filter.Empty() {
		return []models.Solution{}, 0, nil
	}
	sols, err := s.solutions.List(ctx, filter, limit, offset)
	if err != nil {
		return nil, 0, apperr.Wrap(apperr.Internal, err, "list solutions")
	}
	total, err := s.solutions.CountAccessible(ctx, filter)
	if err != nil {
		return nil, 0, apperr.Wrap(apperr.Internal, err, "count solutions")
	}
	return sols, total, nil
}

// Count returns how many solutions the caller can see.
func (s *SolutionService) Count(ctx context.Context, rc *auth.ReadContext, explicit string) (int, error) {
	filter, err := readFilter(rc, explicit)
	if err != nil {
		return 0, err
	}
	if filter.Empty() {
		return 0, nil
	}
	total, err := s.solutions.CountAccessible(ctx, filter)
	if err != nil {
		return 0, apperr.Wrap(apperr.Internal, err, "count solutions")
	}
	return total, nil
}

// Delete removes a solution from both stores: index document first, then the
// ledger row and its votes in one transaction. If the ledger delete fails
// after the index delete succeeded, the index document is restored from the
// pre-delete snapshot; the error reports whether that restoration worked.
func (s *SolutionService) Delete(ctx context.Context, wc *auth.WriteContext, id string) error {
	filter := ownFilter(wc)
	if filter.Empty() {
		return apperr.New(apperr.NotFound, "solution not found")
	}
	sol, err := s.solutions.GetAccessible(ctx, id, filter)
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "load solution")
	}
	if sol == nil {
		return apperr.New(apperr.NotFound, "solution not found")
	}
	snapshot := searchindex.FromSolution(sol)

	if err := s.index.Delete(id); err != nil {
		return apperr.Wrap(apperr.Upstream, err, "delete index document")
	}

	if _, err := s.solutions.DeleteWithVotes(ctx, id); err != nil {
		if restoreErr := s.index.Upsert(snapshot); restoreErr != nil {
			telemetry.LogCompensation("delete", id, false, restoreErr)
			return apperr.Unreconciled(err, "solution delete failed and index restore failed")
		}
		telemetry.LogCompensation("delete", id, true, err)
		return apperr.Compensated(err, "solution delete failed, index restored")
	}
	return nil
}

// UpdateVisibility flips a solution between private and team. The index is
// written first; a ledger failure restores the previous index value. Equal
// input is a no-op before anything is written.
func (s *SolutionService) UpdateVisibility(ctx context.Context, wc *auth.WriteContext, id, visibility string) (*models.Solution, error) {
	vis, err := models.NormalizeVisibility(visibility)
	if err != nil || vis == "" {
		return nil, apperr.New(apperr.Invalid, "visibility must be private or team")
	}

	filter := ownFilter(wc)
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
	if sol.Visibility == vis {
		return sol, nil
	}
	previous := sol.Visibility

	if err := s.index.UpdateFields(id, map[string]any{"visibility": vis}); err != nil {
		return nil, apperr.Wrap(apperr.Upstream, err, "update index visibility")
	}

	if err := s.solutions.UpdateVisibility(ctx, id, vis); err != nil {
		if restoreErr := s.index.UpdateFields(id, map[string]any{"visibility": previous}); restoreErr != nil {
			telemetry.LogCompensation("visibility", id, false, restoreErr)
			return nil, apperr.Unreconciled(err, "visibility update failed and index restore failed")
		}
		telemetry.LogCompensation("visibility", id, true, err)
		return nil, apperr.Compensated(err, "visibility update failed, index restored")
	}
	sol.Visibility = vis
	return sol, nil
}
