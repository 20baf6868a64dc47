package searchindex

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	index "github.com/blevesearch/bleve_index_api"

	"github.com/context8/context8-docker/internal/apperr"
)

// sourceField is the stored-only field carrying the full document JSON. It is
// what makes partial updates possible: merge into the stored copy, re-index.
const sourceField = "_source"

// Index is the search-index handle. bleve indexes are safe for concurrent
// use; the mutex only guards reopening after a repair.
type Index struct {
	mu   sync.RWMutex
	idx  bleve.Index
	path string
}

// buildMapping defines the document schema: exact-match keyword fields for
// identifiers and visibility, analyzed text for searchable prose, and the
// stored-only source field.
func buildMapping() mapping.IndexMapping {
	kw := bleve.NewTextFieldMapping()
	kw.Analyzer = keyword.Name
	kw.IncludeInAll = false

	text := bleve.NewTextFieldMapping()

	num := bleve.NewNumericFieldMapping()
	num.IncludeInAll = false

	date := bleve.NewDateTimeFieldMapping()
	date.IncludeInAll = false

	src := bleve.NewTextFieldMapping()
	src.Store = true
	src.Index = false
	src.IncludeInAll = false

	doc := bleve.NewDocumentMapping()
	for _, f := range []string{"id", "user_id", "api_key_id", "visibility", "tags", "error_type"} {
		doc.AddFieldMappingsAt(f, kw)
	}
	for _, f := range []string{"title", "error_message", "context", "root_cause", "solution", "code_changes"} {
		doc.AddFieldMappingsAt(f, text)
	}
	doc.AddFieldMappingsAt("upvotes", num)
	doc.AddFieldMappingsAt("downvotes", num)
	doc.AddFieldMappingsAt("created_at", date)
	doc.AddFieldMappingsAt(sourceField, src)

	im := bleve.NewIndexMapping()
	im.DefaultMapping = doc
	return im
}

// Open opens the index at path, creating it when absent.
func Open(path string) (*Index, error) {
	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		idx, err = bleve.New(path, buildMapping())
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Upstream, err, "open search index at %s", path)
	}
	return &Index{idx: idx, path: path}, nil
}

// OpenMemory opens a throwaway in-memory index, used by tests and tooling.
func OpenMemory() (*Index, error) {
	idx, err := bleve.NewMemOnly(buildMapping())
	if err != nil {
		return nil, apperr.Wrap(apperr.Upstream, err, "open in-memory search index")
	}
	return &Index{idx: idx}, nil
}

// Close releases the underlying index.
func (i *Index) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.idx.Close()
}

func (i *Index) handle() bleve.Index {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.idx
}

// indexMap stores one document: the full JSON goes into the stored source
// field, the indexed copy drops the embedding (vectors are queried from the
// ledger, not here).
func (i *Index) indexMap(id string, src map[string]any) error {
	js, err := json.Marshal(src)
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "encode index document %s", id)
	}
	fields := make(map[string]any, len(src)+1)
	for k, v := range src {
		if k == "embedding" {
			continue
		}
		fields[k] = v
	}
	fields[sourceField] = string(js)
	if err := i.handle().Index(id, fields); err != nil {
		return apperr.Wrap(apperr.Upstream, err, "index document %s", id)
	}
	return nil
}

func docToMap(doc *Document) (map[string]any, error) {
	js, err := json.Marshal(doc)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "encode document %s", doc.ID)
	}
	var m map[string]any
	if err := json.Unmarshal(js, &m); err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "decode document %s", doc.ID)
	}
	return m, nil
}

// Upsert creates or replaces the document.
func (i *Index) Upsert(doc *Document) error {
	m, err := docToMap(doc)
	if err != nil {
		return err
	}
	return i.indexMap(doc.ID, m)
}

// source reads the stored document JSON, or nil when the document is absent.
func (i *Index) source(id string) (map[string]any, error) {
	raw, err := i.handle().Document(id)
	if err != nil {
		return nil, apperr.Wrap(apperr.Upstream, err, "load index document %s", id)
	}
	if raw == nil {
		return nil, nil
	}
	var src []byte
	raw.VisitFields(func(f index.Field) {
		if f.Name() == sourceField {
			src = f.Value()
		}
	})
	if src == nil {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(src, &m); err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "decode stored document %s", id)
	}
	return m, nil
}

// UpdateFields merges the given fields into the stored document and
// re-indexes it. When the document is absent the fields become the document
// (upsert semantics), so a reconciliation job can never fail on a missing
// target.
func (i *Index) UpdateFields(id string, fields map[string]any) error {
	m, err := i.source(id)
	if err != nil {
		return err
	}
	if m == nil {
		m = map[string]any{"id": id}
	}
	for k, v := range fields {
		m[k] = v
	}
	return i.indexMap(id, m)
}

// Delete removes the document. Deleting an absent document is success, which
// keeps retried deletes idempotent.
func (i *Index) Delete(id string) error {
	if err := i.handle().Delete(id); err != nil {
		return apperr.Wrap(apperr.Upstream, err, "delete index document %s", id)
	}
	return nil
}

// Get fetches one document, subject to the access filter.
func (i *Index) Get(id string, filter query.Query) (*Document, error) {
	q := bleve.NewConjunctionQuery(query.NewDocIDQuery([]string{id}), filter)
	req := bleve.NewSearchRequestOptions(q, 1, 0, false)
	req.Fields = []string{sourceField}

	res, err := i.handle().Search(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.Upstream, err, "fetch index document %s", id)
	}
	if len(res.Hits) == 0 {
		return nil, nil
	}
	return hitDocument(res.Hits[0].Fields)
}

// Hit is one search result with its relevance score.
type Hit struct {
	Doc   *Document
	Score float64
}

// searchFields are the prose clauses of the keyword query, with title
// weighted highest and the error message next.
var searchFields = []struct {
	name  string
	boost float64
}{
	{"title", 3.0},
	{"error_message", 2.0},
	{"context", 1.0},
	{"root_cause", 1.0},
	{"solution", 1.0},
	{"tags", 1.0},
}

// KeywordQuery builds the relevance clause for a search string.
func KeywordQuery(text string) query.Query {
	clauses := make([]query.Query, 0, len(searchFields))
	for _, f := range searchFields {
		mq := bleve.NewMatchQuery(text)
		mq.SetField(f.name)
		mq.SetBoost(f.boost)
		clauses = append(clauses, mq)
	}
	return bleve.NewDisjunctionQuery(clauses...)
}

// Search runs the keyword query under the mandatory access filter and returns
// one page of hits plus the total match count.
func (i *Index) Search(text string, filter query.Query, limit, offset int) ([]Hit, int, error) {
	var relevance query.Query = bleve.NewMatchAllQuery()
	if text != "" {
		relevance = KeywordQuery(text)
	}
	q := bleve.NewConjunctionQuery(relevance, filter)
	req := bleve.NewSearchRequestOptions(q, limit, offset, false)
	req.Fields = []string{sourceField}

	res, err := i.handle().Search(req)
	if err != nil {
		return nil, 0, apperr.Wrap(apperr.Upstream, err, "search index")
	}
	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		doc, err := hitDocument(h.Fields)
		if err != nil {
			return nil, 0, err
		}
		hits = append(hits, Hit{Doc: doc, Score: h.Score})
	}
	return hits, int(res.Total), nil
}

// Count returns the number of documents the filter admits.
func (i *Index) Count(filter query.Query) (int, error) {
	q := bleve.NewConjunctionQuery(bleve.NewMatchAllQuery(), filter)
	req := bleve.NewSearchRequestOptions(q, 0, 0, false)
	res, err := i.handle().Search(req)
	if err != nil {
		return 0, apperr.Wrap(apperr.Upstream, err, "count index documents")
	}
	return int(res.Total), nil
}

// DocCount returns the total number of documents, unfiltered.
func (i *Index) DocCount() (uint64, error) {
	return i.handle().DocCount()
}

func hitDocument(fields map[string]any) (*Document, error) {
	raw, ok := fields[sourceField].(string)
	if !ok {
		return nil, apperr.New(apperr.Internal, "index hit missing stored source")
	}
	var doc Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "decode index hit")
	}
	return &doc, nil
}

// String describes the handle for logs.
func (i *Index) String() string {
	if i.path == "" {
		return "searchindex(memory)"
	}
	return fmt.Sprintf("searchindex(%s)", i.path)
}
