package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"sort"

	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/context8/context8-docker/internal/access"
	"github.com/context8/context8-docker/internal/apperr"
	"github.com/context8/context8-docker/internal/auth"
	"github.com/context8/context8-docker/internal/config"
	"github.com/context8/context8-docker/internal/db/repositories"
	"github.com/context8/context8-docker/internal/embeddings"
	"github.com/context8/context8-docker/internal/federation"
	"github.com/context8/context8-docker/internal/searchindex"
)

// Search scopes.
const (
	ScopeLocal  = "local"
	ScopeRemote = "remote"
	ScopeAll    = "all"
)

// SearchParams is one search request.
type SearchParams struct {
	Query      string
	Visibility string
	Limit      int
	Offset     int
	Scope      string
	// PeerBase and PeerKey override the configured federation peer when
	// overrides are enabled; ForwardKey is the caller's credential to present
	// to the peer when no override key is given.
	PeerBase   string
	PeerKey    string
	ForwardKey string
}

// SearchItem is one result from either source.
type SearchItem struct {
	Solution *searchindex.Document `json:"solution,omitempty"`
	Remote   json.RawMessage       `json:"remote,omitempty"`
	Score    float64               `json:"score"`
	Source   string                `json:"source"`
}

// SearchOutput is the merged response.
type SearchOutput struct {
	Items []SearchItem `json:"results"`
	Total int          `json:"total"`
}

// SearchService runs hybrid keyword+vector queries under the mandatory
// access predicate and optionally fans out to a federation peer.
type SearchService struct {
	index     indexStore
	solutions *repositories.SolutionRepository
	embedder  *embeddings.Service
	peers     *federation.Client
	cfg       config.IndexConfig
}

// NewSearchService creates a SearchService.
func NewSearchService(index indexStore, solutions *repositories.SolutionRepository, embedder *embeddings.Service, peers *federation.Client, cfg config.IndexConfig) *SearchService {
	return &SearchService{index: index, solutions: solutions, embedder: embedder, peers: peers, cfg: cfg}
}

// cosine is the similarity between two vectors, or 0 when undefined.
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

type candidate struct {
	keyword float64
	vector  float64
	doc     *searchindex.Document
}

// Search executes the request for the given read context.
func (s *SearchService) Search(ctx context.Context, rc *auth.ReadContext, p SearchParams) (*SearchOutput, error) {
	if p.Limit <= 0 {
		p.Limit = 10
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	scope := p.Scope
	if scope == "" {
		scope = ScopeLocal
	}

	var local *SearchOutput
	if scope == ScopeLocal || scope == ScopeAll {
		out, err := s.searchLocal(ctx, rc, p)
		if err != nil {
			return nil, err
		}
		local = out
	}

	if scope == ScopeLocal {
		return local, nil
	}
	if scope != ScopeRemote && scope != ScopeAll {
		return nil, apperr.New(apperr.Invalid, "scope must be local, remote, or all")
	}

	base, apiKey, err := s.peers.Resolve(p.PeerBase, p.PeerKey)
	if err != nil {
		return nil, err
	}
	if apiKey == "" {
		apiKey = p.ForwardKey
	}
	remote, remoteTotal, err := s.peers.Search(ctx, base, apiKey, p.Query, p.Limit)
	if err != nil {
		return nil, err
	}

	out := &SearchOutput{Items: []SearchItem{}, Total: remoteTotal}
	if local != nil {
		out.Items = append(out.Items, local.Items...)
		out.Total += local.Total
	}
	for _, r := range remote {
		out.Items = append(out.Items, SearchItem{Remote: r.Raw, Score: r.Score, Source: "remote"})
	}
	// Totals are summed but the page is a plain local-then-remote cut; no
	// cross-source relevance interleaving.
	if len(out.Items) > p.Limit {
		out.Items = out.Items[:p.Limit]
	}
	return out, nil
}

// searchLocal runs the hybrid query: keyword relevance from the index plus,
// when available, cosine similarity over the ledger's stored vectors. Both
// candidate sets pass through the same access filter; scores are normalized
// per clause and combined with the configured weights.
func (s *SearchService) searchLocal(ctx context.Context, rc *auth.ReadContext, p SearchParams) (*SearchOutput, error) {
	filter, err := readFilter(rc, p.Visibility)
	if err != nil {
		return nil, err
	}
	if filter.Empty() {
		return &SearchOutput{Items: []SearchItem{}, Total: 0}, nil
	}
	indexFilter := filter.IndexQuery()

	candidateCount := p.Offset + p.Limit
	if candidateCount < 50 {
		candidateCount = 50
	}

	hits, kwTotal, err := s.index.Search(p.Query, indexFilter, candidateCount, 0)
	if err != nil {
		return nil, err
	}

	candidates := map[string]*candidate{}
	var maxKeyword float64
	for _, h := range hits {
		if h.Score > maxKeyword {
			maxKeyword = h.Score
		}
		candidates[h.Doc.ID] = &candidate{keyword: h.Score, doc: h.Doc}
	}
	if maxKeyword > 0 {
		for _, c := range candidates {
			c.keyword /= maxKeyword
		}
	}

	if s.vectorClauseEnabled(p.Query) {
		if err := s.addVectorCandidates(ctx, p.Query, filter, indexFilter, candidates, candidateCount); err != nil {
			return nil, err
		}
	}

	items := make([]SearchItem, 0, len(candidates))
	for _, c := range candidates {
		score := s.cfg.KeywordWeight*c.keyword + s.cfg.VectorWeight*c.vector
		items = append(items, SearchItem{Solution: c.doc, Score: score, Source: "local"})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].Solution.ID < items[j].Solution.ID
	})

	total := kwTotal
	if len(items) > total {
		total = len(items)
	}

	if p.Offset >= len(items) {
		items = []SearchItem{}
	} else {
		items = items[p.Offset:]
	}
	if len(items) > p.Limit {
		items = items[:p.Limit]
	}
	return &SearchOutput{Items: items, Total: total}, nil
}

func (s *SearchService) vectorClauseEnabled(query string) bool {
	return query != "" && s.cfg.VectorEnabled() && s.embedder.Enabled()
}

// addVectorCandidates folds cosine-similarity scores into the candidate set.
// A provider failure drops the clause with a log line; keyword results still
// serve the request.
func (s *SearchService) addVectorCandidates(ctx context.Context, text string, filter access.Filter, indexFilter query.Query, candidates map[string]*candidate, limit int) error {
	qvec, err := s.embedder.EmbedQuery(ctx, text)
	if err != nil {
		slog.Warn("query embedding failed, keyword-only search", "error", err)
		return nil
	}
	if len(qvec) == 0 {
		return nil
	}

	rows, err := s.solutions.ListEmbeddings(ctx, filter)
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "load embeddings")
	}

	type scored struct {
		id    string
		score float64
	}
	matches := make([]scored, 0, len(rows))
	for _, row := range rows {
		sim := cosine(qvec, row.Embedding)
		if sim <= 0 {
			continue
		}
		matches = append(matches, scored{id: row.ID, score: sim})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].score > matches[j].score })
	if len(matches) > limit {
		matches = matches[:limit]
	}

	for _, m := range matches {
		if c, ok := candidates[m.id]; ok {
			c.vector = m.score
			continue
		}
		// Vector-only hit: fetch the document through the same filter so the
		// access predicate still gates it.
		doc, err := s.index.Get(m.id, indexFilter)
		if err != nil {
			return err
		}
		if doc == nil {
			continue
		}
		candidates[m.id] = &candidate{vector: m.score, doc: doc}
	}
	return nil
}
