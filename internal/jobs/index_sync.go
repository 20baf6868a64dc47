package jobs

import (
	"context"

	"github.com/context8/context8-docker/internal/queue"
	"github.com/context8/context8-docker/internal/searchindex"
	"github.com/context8/context8-docker/internal/telemetry"
)

// IndexSyncHandler reconciles one index document against the ledger: the row
// is re-projected in full, or the document deleted when the row is gone.
// Either direction is idempotent, so duplicate delivery is harmless.
type IndexSyncHandler struct {
	solutions solutionStore
	index     indexWriter
}

// NewIndexSyncHandler creates the handler.
func NewIndexSyncHandler(solutions solutionStore, index indexWriter) *IndexSyncHandler {
	return &IndexSyncHandler{solutions: solutions, index: index}
}

// Name implements Handler.
func (h *IndexSyncHandler) Name() string { return "index_sync" }

// Handle implements Handler.
func (h *IndexSyncHandler) Handle(ctx context.Context, job queue.Job) error {
	sol, err := h.solutions.GetByID(ctx, job.SolutionID)
	if err != nil {
		telemetry.IndexSyncEventsTotal.WithLabelValues("failed").Inc()
		return err
	}
	if sol == nil {
		if err := h.index.Delete(job.SolutionID); err != nil {
			telemetry.IndexSyncEventsTotal.WithLabelValues("failed").Inc()
			return err
		}
		telemetry.IndexSyncEventsTotal.WithLabelValues("success").Inc()
		return nil
	}
	if err := h.index.Upsert(searchindex.FromSolution(sol)); err != nil {
		telemetry.IndexSyncEventsTotal.WithLabelValues("failed").Inc()
		return err
	}
	telemetry.IndexSyncEventsTotal.WithLabelValues("success").Inc()
	return nil
}
