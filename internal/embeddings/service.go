package embeddings

import (
	"context"
	"log/slog"

	"github.com/context8/context8-docker/internal/config"
	"github.com/context8/context8-docker/internal/db/models"
	"github.com/context8/context8-docker/internal/telemetry"
)

// Result is the outcome of one embedding attempt.
type Result struct {
	Vector []float32
	Status string // models.Embedding* value
	Err    *string
}

// Service wraps a Provider with the inline-path policy: provider failures
// fall back to a deterministic vector and are recorded as failed rather than
// surfaced, so content creation never blocks on the provider. Strict mode
// disables that fallback and leaves the row without a vector instead.
type Service struct {
	provider Provider
	dim      int
	enabled  bool
	strict   bool
}

// NewService creates a Service. When enabled is false every inline attempt
// reports skipped without touching the provider.
func NewService(provider Provider, cfg config.EmbeddingConfig, enabled bool) *Service {
	return &Service{provider: provider, dim: cfg.Dim, enabled: enabled, strict: cfg.Strict}
}

// Enabled reports whether vector search participates at all.
func (s *Service) Enabled() bool { return s.enabled }

// Dim is the configured vector dimensionality.
func (s *Service) Dim() int { return s.dim }

// Healthy probes the underlying provider.
func (s *Service) Healthy(ctx context.Context) bool { return s.provider.Healthy(ctx) }

// Embed runs the inline path for one solution. It always returns a usable
// Result; the caller persists Status and Err onto the row and indexes the
// vector regardless, so a later background retry can flip failed to done.
func (s *Service) Embed(ctx context.Context, sol *models.Solution) Result {
	if !s.enabled {
		return Result{Status: models.EmbeddingSkipped}
	}

	text := Normalize(sol)
	vec, err := s.provider.Embed(ctx, text)
	if err != nil {
		msg := err.Error()
		if s.strict {
			telemetry.EmbeddingEventsTotal.WithLabelValues("failed").Inc()
			slog.Warn("embedding provider failed, strict mode leaves row unembedded",
				"solution_id", sol.ID, "error", err)
			return Result{Status: models.EmbeddingFailed, Err: &msg}
		}
		telemetry.EmbeddingEventsTotal.WithLabelValues("fallback").Inc()
		slog.Warn("embedding provider failed, using fallback vector",
			"solution_id", sol.ID, "error", err)
		return Result{Vector: Fallback(text, s.dim), Status: models.EmbeddingFailed, Err: &msg}
	}
	telemetry.EmbeddingEventsTotal.WithLabelValues("success").Inc()
	return Result{Vector: vec, Status: models.EmbeddingDone}
}

// EmbedQuery embeds a raw search string. No fallback: a pseudo-vector would
// produce meaningless neighbors, so the caller drops the vector clause
// instead.
func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if !s.enabled {
		return nil, nil
	}
	return s.provider.Embed(ctx, text)
}

// EmbedStrict runs the background path: no fallback, the provider error is
// returned so the retry machinery can count and reschedule it.
func (s *Service) EmbedStrict(ctx context.Context, sol *models.Solution) ([]float32, error) {
	vec, err := s.provider.Embed(ctx, Normalize(sol))
	if err != nil {
		telemetry.EmbeddingEventsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}
	telemetry.EmbeddingEventsTotal.WithLabelValues("success").Inc()
	return vec, nil
}
