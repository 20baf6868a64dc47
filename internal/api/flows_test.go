package api

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/context8/context8-docker/internal/auth"
	"github.com/context8/context8-docker/internal/quota"
)

// expectLimitedKeyResolution resolves testSecret to a root key carrying a
// daily write limit.
func expectLimitedKeyResolution(mock sqlmock.Sqlmock, dailyLimit int) {
	hash := auth.HashSecret(testSecret)
	rootCols := []string{"id", "user_id", "name", "key_hash", "revoked", "daily_limit", "monthly_limit", "created_at"}
	subCols := []string{"id", "parent_api_key_id", "user_id", "name", "key_hash", "revoked",
		"can_read", "can_write", "daily_limit", "monthly_limit", "created_at"}

	mock.ExpectQuery(`SELECT (.+) FROM api_keys WHERE key_hash`).
		WithArgs(hash).
		WillReturnRows(sqlmock.NewRows(rootCols).
			AddRow("c8k-1", "user-1", "ci", hash, false, dailyLimit, nil, time.Now()))
	mock.ExpectQuery(`SELECT (.+) FROM sub_api_keys s`).
		WithArgs(hash).
		WillReturnRows(sqlmock.NewRows(subCols))
	mock.ExpectQuery(`SELECT (.+) FROM sub_api_keys`).
		WithArgs(pq.Array([]string{"c8k-1"})).
		WillReturnRows(sqlmock.NewRows(subCols))
}

func TestAPI_CreateSolutionQuotaExceeded(t *testing.T) {
	r, mock, idx := newTestRouter(t)

	expectLimitedKeyResolution(mock, 5)
	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).
		WithArgs(quota.LockID("c8k-1")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM solutions WHERE api_key_id`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))
	mock.ExpectRollback()

	body := `{
		"title": "t", "error_message": "e", "error_type": "et",
		"context": "c", "root_cause": "rc", "solution": "s"
	}`
	w := doJSON(t, r, http.MethodPost, "/api/v1/solutions", body, apiKeyHeader())
	require.Equal(t, http.StatusTooManyRequests, w.Code, w.Body.String())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "quota_exceeded", resp["kind"])

	n, err := idx.DocCount()
	require.NoError(t, err)
	assert.Zero(t, n, "a rejected write must not reach the index")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAPI_VisibilityFlow(t *testing.T) {
	r, mock, idx := newTestRouter(t)

	// Create under the default visibility, then promote to team.
	expectAPIKeyResolution(mock)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO solutions`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	body := `{
		"title": "stale read", "error_message": "read after write missing",
		"error_type": "consistency", "context": "replica lag",
		"root_cause": "read hit a lagging replica", "solution": "read your writes from primary"
	}`
	w := doJSON(t, r, http.MethodPost, "/api/v1/solutions", body, apiKeyHeader())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created struct {
		ID         string `json:"id"`
		Visibility string `json:"visibility"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "private", created.Visibility)

	expectAPIKeyResolution(mock)
	mock.ExpectQuery(`SELECT (.+) FROM solutions WHERE id = \$1`).
		WillReturnRows(sampleSolutionRows("private", created.ID))
	mock.ExpectExec(`UPDATE solutions SET visibility`).
		WithArgs(created.ID, "team").
		WillReturnResult(sqlmock.NewResult(0, 1))

	w = doJSON(t, r, http.MethodPatch, "/api/v1/solutions/"+created.ID+"/visibility",
		`{"visibility":"team"}`, apiKeyHeader())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	doc, err := idx.Get(created.ID, query.NewMatchAllQuery())
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "team", doc.Visibility)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAPI_BadVisibilityValue(t *testing.T) {
	r, mock, _ := newTestRouter(t)

	expectAPIKeyResolution(mock)

	w := doJSON(t, r, http.MethodPatch, "/api/v1/solutions/sol-1/visibility",
		`{"visibility":"everyone"}`, apiKeyHeader())
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
}
