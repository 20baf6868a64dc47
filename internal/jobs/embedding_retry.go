package jobs

import (
	"context"
	"log/slog"

	"github.com/context8/context8-docker/internal/db/models"
	"github.com/context8/context8-docker/internal/queue"
	"github.com/context8/context8-docker/internal/searchindex"
	"github.com/context8/context8-docker/internal/telemetry"
)

type solutionStore interface {
	GetByID(ctx context.Context, id string) (*models.Solution, error)
	SetEmbeddingStatus(ctx context.Context, id, status string, embedErr *string) error
	SetEmbeddingResult(ctx context.Context, id string, vector []float32) error
}

type strictEmbedder interface {
	EmbedStrict(ctx context.Context, sol *models.Solution) ([]float32, error)
}

type indexWriter interface {
	Upsert(doc *searchindex.Document) error
	UpdateFields(id string, fields map[string]any) error
	Delete(id string) error
}

type enqueuer interface {
	Enqueue(ctx context.Context, job queue.Job) error
}

// EmbeddingRetryHandler re-attempts embedding for rows the inline path left
// short of done. On success the vector lands in the ledger and is pushed into
// the index as a partial update; an index push failure degrades to an
// index-sync job rather than failing the embedding work.
type EmbeddingRetryHandler struct {
	solutions solutionStore
	embedder  strictEmbedder
	index     indexWriter
	syncQueue enqueuer
}

// NewEmbeddingRetryHandler creates the handler.
func NewEmbeddingRetryHandler(solutions solutionStore, embedder strictEmbedder, index indexWriter, syncQueue enqueuer) *EmbeddingRetryHandler {
	return &EmbeddingRetryHandler{
		solutions: solutions,
		embedder:  embedder,
		index:     index,
		syncQueue: syncQueue,
	}
}

// Name implements Handler.
func (h *EmbeddingRetryHandler) Name() string { return "embedding_retry" }

// Handle implements Handler.
func (h *EmbeddingRetryHandler) Handle(ctx context.Context, job queue.Job) error {
	sol, err := h.solutions.GetByID(ctx, job.SolutionID)
	if err != nil {
		return err
	}
	if sol == nil {
		// Deleted since the job was queued; nothing to embed.
		return nil
	}
	if sol.EmbeddingStatus == models.EmbeddingDone && !job.Force {
		return nil
	}
	if sol.EmbeddingStatus == models.EmbeddingSkipped && !job.Force {
		return nil
	}

	if err := h.solutions.SetEmbeddingStatus(ctx, sol.ID, models.EmbeddingProcessing, nil); err != nil {
		return err
	}

	vec, err := h.embedder.EmbedStrict(ctx, sol)
	if err != nil {
		msg := err.Error()
		if stErr := h.solutions.SetEmbeddingStatus(ctx, sol.ID, models.EmbeddingFailed, &msg); stErr != nil {
			slog.Error("record embedding failure", "solution_id", sol.ID, "error", stErr)
		}
		telemetry.EmbeddingEventsTotal.WithLabelValues("retry").Inc()
		return err
	}

	if err := h.solutions.SetEmbeddingResult(ctx, sol.ID, vec); err != nil {
		return err
	}
	if err := h.index.UpdateFields(sol.ID, map[string]any{"embedding": vec}); err != nil {
		// The ledger already holds the vector; reconcile the index later.
		slog.Warn("embedding index push failed, queueing index sync",
			"solution_id", sol.ID, "error", err)
		if qErr := h.syncQueue.Enqueue(ctx, queue.Job{SolutionID: sol.ID}); qErr != nil {
			slog.Error("queue index sync", "solution_id", sol.ID, "error", qErr)
		}
	}
	return nil
}
