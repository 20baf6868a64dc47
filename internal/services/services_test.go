package services

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/jmoiron/sqlx"

	"github.com/context8/context8-docker/internal/apperr"
	"github.com/context8/context8-docker/internal/auth"
	"github.com/context8/context8-docker/internal/config"
	"github.com/context8/context8-docker/internal/db/repositories"
	"github.com/context8/context8-docker/internal/embeddings"
	"github.com/context8/context8-docker/internal/federation"
	"github.com/context8/context8-docker/internal/queue"
	"github.com/context8/context8-docker/internal/quota"
	"github.com/context8/context8-docker/internal/searchindex"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

// fakeIndex records index operations and fails on demand.
type fakeIndex struct {
	docs        map[string]*searchindex.Document
	updates     []map[string]any
	deletes     []string
	searchHits  []searchindex.Hit
	searchTotal int

	upsertErr error
	updateErr error
	deleteErr error
	failAfter int // fail Delete after this many successful deletes (-1 = never)
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{docs: map[string]*searchindex.Document{}, failAfter: -1}
}

func (f *fakeIndex) Upsert(doc *searchindex.Document) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.docs[doc.ID] = doc
	return nil
}

func (f *fakeIndex) UpdateFields(id string, fields map[string]any) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, fields)
	return nil
}

func (f *fakeIndex) Delete(id string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if f.failAfter >= 0 && len(f.deletes) >= f.failAfter {
		return errIndexDown
	}
	f.deletes = append(f.deletes, id)
	delete(f.docs, id)
	return nil
}

func (f *fakeIndex) Get(id string, filter query.Query) (*searchindex.Document, error) {
	return f.docs[id], nil
}

func (f *fakeIndex) Search(text string, filter query.Query, limit, offset int) ([]searchindex.Hit, int, error) {
	return f.searchHits, f.searchTotal, nil
}

func (f *fakeIndex) Count(filter query.Query) (int, error) {
	return f.searchTotal, nil
}

type fakeQueue struct {
	jobs []queue.Job
	err  error
}

func (f *fakeQueue) Enqueue(ctx context.Context, job queue.Job) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

var errIndexDown = &indexDownError{}

type indexDownError struct{}

func (*indexDownError) Error() string { return "index down" }

var errLedger = errors.New("ledger down")

// ---------------------------------------------------------------------------
// Wiring helpers
// ---------------------------------------------------------------------------

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

func disabledEmbedder() *embeddings.Service {
	return embeddings.NewService(embeddings.Disabled(), config.EmbeddingConfig{Dim: 3}, false)
}

func newSolutionService(t *testing.T, idx *fakeIndex) (*SolutionService, sqlmock.Sqlmock, *fakeQueue, *fakeQueue) {
	t.Helper()
	db, mock := newMockDB(t)
	solutions := repositories.NewSolutionRepository(db)
	votes := repositories.NewVoteRepository(db)
	embedQ := &fakeQueue{}
	syncQ := &fakeQueue{}
	svc := NewSolutionService(solutions, votes, idx, disabledEmbedder(),
		quota.NewLimiter(solutions), embedQ, syncQ)
	return svc, mock, embedQ, syncQ
}

func newVoteService(t *testing.T, idx *fakeIndex) (*VoteService, sqlmock.Sqlmock, *fakeQueue) {
	t.Helper()
	db, mock := newMockDB(t)
	solutions := repositories.NewSolutionRepository(db)
	votes := repositories.NewVoteRepository(db)
	syncQ := &fakeQueue{}
	return NewVoteService(solutions, votes, idx, syncQ), mock, syncQ
}

func newSearchService(t *testing.T, idx *fakeIndex, fedCfg config.FederationConfig) (*SearchService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newMockDB(t)
	solutions := repositories.NewSolutionRepository(db)
	cfg := config.IndexConfig{KeywordWeight: 0.7, VectorWeight: 0.3}
	svc := NewSearchService(idx, solutions, disabledEmbedder(), federation.NewClient(fedCfg), cfg)
	return svc, mock
}

func newAPIKeyService(t *testing.T, idx *fakeIndex) (*APIKeyService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newMockDB(t)
	users := repositories.NewUserRepository(db)
	keys := repositories.NewAPIKeyRepository(db)
	solutions := repositories.NewSolutionRepository(db)
	return NewAPIKeyService(users, keys, solutions, idx), mock
}

func newAuthService(t *testing.T) (*AuthService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newMockDB(t)
	tokens := auth.NewTokenVerifier(config.AuthConfig{
		JWTSecret:  "0123456789abcdef0123456789abcdef",
		Issuer:     "context8.com",
		Audience:   "context8-api",
		SessionTTL: time.Hour,
	})
	return NewAuthService(repositories.NewUserRepository(db), tokens), mock
}

func intPtr(v int) *int { return &v }

// wantKind fails the test unless err carries the expected taxonomy kind.
func wantKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if got := apperr.KindOf(err); got != kind {
		t.Fatalf("expected kind %s, got %s (%v)", kind, got, err)
	}
}

func writerContext() *auth.WriteContext {
	return &auth.WriteContext{
		UserID:     "user-1",
		WriteKeyID: "c8k-1",
		Scope:      auth.KeyScope{ID: "c8k-1", UserID: "user-1", CanRead: true, CanWrite: true},
		APIKeyIDs:  []string{"c8k-1"},
	}
}

func readerContext() *auth.ReadContext {
	return &auth.ReadContext{
		UserID:    "user-1",
		APIKeyIDs: []string{"c8k-1"},
		AllowTeam: true,
	}
}

func validInput() *CreateSolutionInput {
	return &CreateSolutionInput{
		Title:        "nil map write",
		ErrorMessage: "assignment to entry in nil map",
		ErrorType:    "runtime error",
		Context:      "startup",
		RootCause:    "map never allocated",
		Solution:     "make the map first",
		Tags:         []string{"go"},
	}
}

var solutionCols = []string{
	"id", "user_id", "api_key_id", "title", "error_message", "error_type", "context",
	"root_cause", "solution", "code_changes", "tags", "conversation_language",
	"programming_language", "vibecoding_software", "project_path", "environment",
	"visibility", "upvotes", "downvotes", "embedding", "embedding_status",
	"embedding_error", "embedding_updated_at", "created_at",
}

func voteCols() []string {
	return []string{"id", "solution_id", "user_id", "value", "created_at", "updated_at"}
}

func solutionRow(id, visibility string) *sqlmock.Rows {
	return sqlmock.NewRows(solutionCols).
		AddRow(id, "user-1", "c8k-1", "t", "e", "et", "c", "rc", "s",
			nil, []byte(`["go"]`), nil, nil, nil, nil, nil,
			visibility, 2, 1, nil, "done", nil, nil, time.Now())
}
