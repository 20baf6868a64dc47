package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/context8/context8-docker/internal/apperr"
	"github.com/context8/context8-docker/internal/config"
)

// Provider computes an embedding for one text.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Healthy(ctx context.Context) bool
}

// HTTPProvider calls an external embedding service over HTTP. Request and
// response bodies are single-field JSON objects.
type HTTPProvider struct {
	url       string
	healthURL string
	dim       int
	client    *http.Client
}

// NewHTTPProvider builds a provider from the embedding configuration.
func NewHTTPProvider(cfg config.EmbeddingConfig) *HTTPProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProvider{
		url:       cfg.URL,
		healthURL: cfg.HealthURL,
		dim:       cfg.Dim,
		client:    &http.Client{Timeout: timeout},
	}
}

type embedRequest struct {
	Text string `json:"text"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed posts the text and validates the returned vector's dimensionality.
func (p *HTTPProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Text: text})
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "encode embedding request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "build embedding request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.Upstream, err, "embedding provider unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, apperr.New(apperr.Upstream,
			"embedding provider returned %d: %s", resp.StatusCode, snippet)
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apperr.Wrap(apperr.Upstream, err, "decode embedding response")
	}
	if len(out.Embedding) != p.dim {
		return nil, apperr.New(apperr.Upstream,
			"embedding provider returned %d dimensions, expected %d", len(out.Embedding), p.dim)
	}
	return out.Embedding, nil
}

// Healthy probes the provider's health endpoint. Used only for the status
// surface; callers never gate work on it.
func (p *HTTPProvider) Healthy(ctx context.Context) bool {
	if p.healthURL == "" {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.healthURL, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// noProvider is the Provider used when vector search is disabled.
type noProvider struct{}

func (noProvider) Embed(context.Context, string) ([]float32, error) {
	return nil, apperr.New(apperr.Upstream, "embedding disabled")
}
func (noProvider) Healthy(context.Context) bool { return false }

// Disabled returns a Provider that always fails; the service layer treats a
// zero vector weight as "skipped" before ever calling it.
func Disabled() Provider { return noProvider{} }
