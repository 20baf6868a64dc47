package api

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/context8/context8-docker/internal/searchindex"
)

func apiKeyHeader() map[string]string {
	return map[string]string{"X-API-Key": testSecret}
}

// ---------------------------------------------------------------------------
// Authentication boundary
// ---------------------------------------------------------------------------

func TestAPI_NoCredentials(t *testing.T) {
	r, _, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodGet, "/api/v1/solutions", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("got %d: %s", w.Code, w.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["kind"] != "unauthenticated" {
		t.Fatalf("got kind %v", body["kind"])
	}
}

func TestAPI_InvalidAPIKey(t *testing.T) {
	r, mock, _ := newTestRouter(t)

	rootCols := []string{"id", "user_id", "name", "key_hash", "revoked", "daily_limit", "monthly_limit", "created_at"}
	subCols := []string{"id", "parent_api_key_id", "user_id", "name", "key_hash", "revoked",
		"can_read", "can_write", "daily_limit", "monthly_limit", "created_at"}
	mock.ExpectQuery(`SELECT (.+) FROM api_keys WHERE key_hash`).
		WillReturnRows(sqlmock.NewRows(rootCols))
	mock.ExpectQuery(`SELECT (.+) FROM sub_api_keys s`).
		WillReturnRows(sqlmock.NewRows(subCols))

	w := doJSON(t, r, http.MethodGet, "/api/v1/solutions", "", apiKeyHeader())
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("got %d: %s", w.Code, w.Body.String())
	}
}

func TestAPI_KeyManagementRequiresSession(t *testing.T) {
	r, mock, _ := newTestRouter(t)

	expectAPIKeyResolution(mock)

	w := doJSON(t, r, http.MethodGet, "/api/v1/keys", "", apiKeyHeader())
	if w.Code != http.StatusForbidden {
		t.Fatalf("an api key must not manage credentials, got %d: %s", w.Code, w.Body.String())
	}
}

// ---------------------------------------------------------------------------
// Solutions
// ---------------------------------------------------------------------------

func TestAPI_ListSolutions(t *testing.T) {
	r, mock, _ := newTestRouter(t)

	expectAPIKeyResolution(mock)
	mock.ExpectQuery(`SELECT (.+) FROM solutions WHERE (.+) ORDER BY created_at DESC`).
		WillReturnRows(sampleSolutionRows("team", "sol-1"))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM solutions`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	w := doJSON(t, r, http.MethodGet, "/api/v1/solutions?limit=5", "", apiKeyHeader())
	if w.Code != http.StatusOK {
		t.Fatalf("got %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		Solutions []json.RawMessage `json:"solutions"`
		Total     int               `json:"total"`
		Limit     int               `json:"limit"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Solutions) != 1 || body.Total != 1 || body.Limit != 5 {
		t.Fatalf("got %+v", body)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestAPI_CreateSolution(t *testing.T) {
	r, mock, idx := newTestRouter(t)

	expectAPIKeyResolution(mock)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO solutions`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	body := `{
		"title": "nil map write",
		"error_message": "assignment to entry in nil map",
		"error_type": "runtime error",
		"context": "startup",
		"root_cause": "map never allocated",
		"solution": "make the map first",
		"tags": ["go"]
	}`
	w := doJSON(t, r, http.MethodPost, "/api/v1/solutions", body, apiKeyHeader())
	if w.Code != http.StatusCreated {
		t.Fatalf("got %d: %s", w.Code, w.Body.String())
	}
	var sol struct {
		ID         string `json:"id"`
		Visibility string `json:"visibility"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &sol); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sol.Visibility != "private" {
		t.Fatalf("got visibility %q", sol.Visibility)
	}

	if n, err := idx.DocCount(); err != nil || n != 1 {
		t.Fatalf("expected the new solution indexed, got %d (%v)", n, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestAPI_CreateSolutionMissingFields(t *testing.T) {
	r, mock, _ := newTestRouter(t)

	expectAPIKeyResolution(mock)

	w := doJSON(t, r, http.MethodPost, "/api/v1/solutions", `{"title":"only a title"}`, apiKeyHeader())
	if w.Code != http.StatusBadRequest {
		t.Fatalf("got %d: %s", w.Code, w.Body.String())
	}
}

func TestAPI_VoteInvalidValue(t *testing.T) {
	r, mock, _ := newTestRouter(t)

	expectAPIKeyResolution(mock)

	w := doJSON(t, r, http.MethodPost, "/api/v1/solutions/sol-1/vote", `{"value":5}`, apiKeyHeader())
	if w.Code != http.StatusBadRequest {
		t.Fatalf("got %d: %s", w.Code, w.Body.String())
	}
}

func TestAPI_GetSolutionNotFound(t *testing.T) {
	r, mock, _ := newTestRouter(t)

	expectAPIKeyResolution(mock)
	mock.ExpectQuery(`SELECT (.+) FROM solutions WHERE id = \$1`).
		WillReturnRows(sampleSolutionRows("team"))

	w := doJSON(t, r, http.MethodGet, "/api/v1/solutions/sol-404", "", apiKeyHeader())
	if w.Code != http.StatusNotFound {
		t.Fatalf("got %d: %s", w.Code, w.Body.String())
	}
}

// ---------------------------------------------------------------------------
// Search
// ---------------------------------------------------------------------------

func TestAPI_Search(t *testing.T) {
	r, mock, idx := newTestRouter(t)

	seed := &searchindex.Document{
		ID:           "sol-1",
		UserID:       "user-1",
		APIKeyID:     "c8k-1",
		Title:        "nil map write panics",
		ErrorMessage: "assignment to entry in nil map",
		Visibility:   "team",
		CreatedAt:    time.Now(),
	}
	if err := idx.Upsert(seed); err != nil {
		t.Fatalf("seed index: %v", err)
	}

	expectAPIKeyResolution(mock)

	w := doJSON(t, r, http.MethodGet, "/api/v1/solutions/search?q=nil+map", "", apiKeyHeader())
	if w.Code != http.StatusOK {
		t.Fatalf("got %d: %s", w.Code, w.Body.String())
	}
	var out struct {
		Results []struct {
			Solution struct {
				ID string `json:"id"`
			} `json:"solution"`
			Source string `json:"source"`
		} `json:"results"`
		Total int `json:"total"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Total != 1 || len(out.Results) != 1 {
		t.Fatalf("got %s", w.Body.String())
	}
	if out.Results[0].Solution.ID != "sol-1" || out.Results[0].Source != "local" {
		t.Fatalf("got %+v", out.Results[0])
	}
}

// ---------------------------------------------------------------------------
// Auth endpoints
// ---------------------------------------------------------------------------

func TestAPI_AuthStatus(t *testing.T) {
	r, mock, _ := newTestRouter(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM users WHERE is_admin`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	w := doJSON(t, r, http.MethodGet, "/api/v1/auth/status", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("got %d", w.Code)
	}
	var body map[string]bool
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body["setup_required"] {
		t.Fatal("expected setup_required true")
	}
}

func TestAPI_AuthSetupBadBody(t *testing.T) {
	r, _, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/v1/auth/setup", `{"email":`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("got %d", w.Code)
	}
}

func sampleSolutionRows(visibility string, ids ...string) *sqlmock.Rows {
	cols := []string{
		"id", "user_id", "api_key_id", "title", "error_message", "error_type", "context",
		"root_cause", "solution", "code_changes", "tags", "conversation_language",
		"programming_language", "vibecoding_software", "project_path", "environment",
		"visibility", "upvotes", "downvotes", "embedding", "embedding_status",
		"embedding_error", "embedding_updated_at", "created_at",
	}
	rows := sqlmock.NewRows(cols)
	for _, id := range ids {
		rows.AddRow(id, "user-1", "c8k-1", "t", "e", "et", "c", "rc", "s",
			nil, []byte(`["go"]`), nil, nil, nil, nil, nil,
			visibility, 0, 0, nil, "done", nil, nil, time.Now())
	}
	return rows
}
