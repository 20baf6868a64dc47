package services

import (
	"context"
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/context8/context8-docker/internal/apperr"
	"github.com/context8/context8-docker/internal/auth"
	"github.com/context8/context8-docker/internal/db/models"
	"github.com/context8/context8-docker/internal/quota"
)

// ---------------------------------------------------------------------------
// Create
// ---------------------------------------------------------------------------

func TestSolutionService_CreateMissingFields(t *testing.T) {
	idx := newFakeIndex()
	svc, mock, _, _ := newSolutionService(t, idx)

	in := validInput()
	in.Title = "  "
	in.RootCause = ""
	_, err := svc.Create(context.Background(), writerContext(), in)
	wantKind(t, err, apperr.Invalid)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("validation must fail before the ledger is touched: %v", err)
	}
	if len(idx.docs) != 0 {
		t.Fatal("nothing should have been indexed")
	}
}

func TestSolutionService_CreateBadVisibility(t *testing.T) {
	svc, _, _, _ := newSolutionService(t, newFakeIndex())

	in := validInput()
	in.Visibility = "public"
	_, err := svc.Create(context.Background(), writerContext(), in)
	wantKind(t, err, apperr.Invalid)
}

func TestSolutionService_Create(t *testing.T) {
	idx := newFakeIndex()
	svc, mock, embedQ, _ := newSolutionService(t, idx)

	// No limits on the scope, so no advisory lock and no count queries.
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO solutions`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	sol, err := svc.Create(context.Background(), writerContext(), validInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sol.ID == "" {
		t.Fatal("expected a generated id")
	}
	if sol.Visibility != models.VisibilityPrivate {
		t.Fatalf("default visibility should be private, got %q", sol.Visibility)
	}
	if sol.EmbeddingStatus != models.EmbeddingSkipped {
		t.Fatalf("disabled embedder should mark the row skipped, got %q", sol.EmbeddingStatus)
	}
	if _, ok := idx.docs[sol.ID]; !ok {
		t.Fatal("solution was not indexed")
	}
	if len(embedQ.jobs) != 0 {
		t.Fatal("skipped embedding must not queue a retry")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSolutionService_CreateQuotaExceeded(t *testing.T) {
	idx := newFakeIndex()
	svc, mock, _, _ := newSolutionService(t, idx)

	wc := writerContext()
	wc.Scope.DailyLimit = intPtr(5)

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).
		WithArgs(quota.LockID("c8k-1")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM solutions WHERE api_key_id`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))
	mock.ExpectRollback()

	_, err := svc.Create(context.Background(), wc, validInput())
	wantKind(t, err, apperr.QuotaExceeded)

	if len(idx.docs) != 0 {
		t.Fatal("a rejected write must not reach the index")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSolutionService_CreateIndexFailureCompensates(t *testing.T) {
	idx := newFakeIndex()
	idx.upsertErr = errIndexDown
	svc, mock, _, _ := newSolutionService(t, idx)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO solutions`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	// Compensating delete of the just-committed row.
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM solution_votes`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM solutions`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	_, err := svc.Create(context.Background(), writerContext(), validInput())
	wantKind(t, err, apperr.Upstream)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

// ---------------------------------------------------------------------------
// Get / List / Count
// ---------------------------------------------------------------------------

func TestSolutionService_GetEmptyFilter(t *testing.T) {
	svc, mock, _, _ := newSolutionService(t, newFakeIndex())

	// No keys, no team access: the predicate can match nothing, so the
	// ledger is never queried.
	rc := &auth.ReadContext{UserID: "user-1"}
	_, err := svc.Get(context.Background(), rc, "sol-1")
	wantKind(t, err, apperr.NotFound)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSolutionService_GetNotFound(t *testing.T) {
	svc, mock, _, _ := newSolutionService(t, newFakeIndex())

	mock.ExpectQuery(`SELECT (.+) FROM solutions WHERE id = \$1`).
		WithArgs("sol-404", pq.Array([]string{"c8k-1"})).
		WillReturnRows(sqlmock.NewRows(solutionCols))

	_, err := svc.Get(context.Background(), readerContext(), "sol-404")
	wantKind(t, err, apperr.NotFound)
}

func TestSolutionService_Get(t *testing.T) {
	svc, mock, _, _ := newSolutionService(t, newFakeIndex())

	mock.ExpectQuery(`SELECT (.+) FROM solutions WHERE id = \$1`).
		WithArgs("sol-1", pq.Array([]string{"c8k-1"})).
		WillReturnRows(solutionRow("sol-1", "team"))

	sol, err := svc.Get(context.Background(), readerContext(), "sol-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sol.ID != "sol-1" {
		t.Fatalf("got %q", sol.ID)
	}
}

func TestSolutionService_ListEmptyFilter(t *testing.T) {
	svc, mock, _, _ := newSolutionService(t, newFakeIndex())

	rc := &auth.ReadContext{UserID: "user-1"}
	sols, total, err := svc.List(context.Background(), rc, "", 10, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(sols) != 0 || total != 0 {
		t.Fatalf("empty filter must yield an empty page, got %d/%d", len(sols), total)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSolutionService_List(t *testing.T) {
	svc, mock, _, _ := newSolutionService(t, newFakeIndex())

	mock.ExpectQuery(`SELECT (.+) FROM solutions WHERE (.+) ORDER BY created_at DESC`).
		WillReturnRows(solutionRow("sol-1", "team"))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM solutions`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	sols, total, err := svc.List(context.Background(), readerContext(), "", 10, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(sols) != 1 || total != 7 {
		t.Fatalf("got %d rows, total %d", len(sols), total)
	}
}

func TestSolutionService_ListBadVisibilityFilter(t *testing.T) {
	svc, mock, _, _ := newSolutionService(t, newFakeIndex())

	_, _, err := svc.List(context.Background(), readerContext(), "everyone", 10, 0)
	wantKind(t, err, apperr.Invalid)
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSolutionService_Count(t *testing.T) {
	svc, mock, _, _ := newSolutionService(t, newFakeIndex())

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM solutions`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	total, err := svc.Count(context.Background(), readerContext(), "team")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if total != 3 {
		t.Fatalf("got %d", total)
	}
}

// ---------------------------------------------------------------------------
// Delete
// ---------------------------------------------------------------------------

func TestSolutionService_Delete(t *testing.T) {
	idx := newFakeIndex()
	svc, mock, _, _ := newSolutionService(t, idx)

	mock.ExpectQuery(`SELECT (.+) FROM solutions WHERE id = \$1`).
		WithArgs("sol-1", pq.Array([]string{"c8k-1"})).
		WillReturnRows(solutionRow("sol-1", "private"))
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM solution_votes`).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`DELETE FROM solutions`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := svc.Delete(context.Background(), writerContext(), "sol-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(idx.deletes) != 1 || idx.deletes[0] != "sol-1" {
		t.Fatalf("index delete not recorded: %v", idx.deletes)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSolutionService_DeleteIndexFailure(t *testing.T) {
	idx := newFakeIndex()
	idx.deleteErr = errIndexDown
	svc, mock, _, _ := newSolutionService(t, idx)

	mock.ExpectQuery(`SELECT (.+) FROM solutions WHERE id = \$1`).
		WillReturnRows(solutionRow("sol-1", "private"))

	err := svc.Delete(context.Background(), writerContext(), "sol-1")
	wantKind(t, err, apperr.Upstream)

	// Index-first ordering: the ledger row must be untouched.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSolutionService_DeleteLedgerFailureCompensated(t *testing.T) {
	idx := newFakeIndex()
	svc, mock, _, _ := newSolutionService(t, idx)

	mock.ExpectQuery(`SELECT (.+) FROM solutions WHERE id = \$1`).
		WillReturnRows(solutionRow("sol-1", "private"))
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM solution_votes`).
		WillReturnError(errLedger)
	mock.ExpectRollback()

	err := svc.Delete(context.Background(), writerContext(), "sol-1")
	wantKind(t, err, apperr.Consistency)

	var appErr *apperr.Error
	if !errors.As(err, &appErr) || !appErr.RolledBack {
		t.Fatalf("expected a compensated consistency error, got %v", err)
	}
	if _, ok := idx.docs["sol-1"]; !ok {
		t.Fatal("index document was not restored from the snapshot")
	}
}

func TestSolutionService_DeleteRestoreFailureUnreconciled(t *testing.T) {
	idx := newFakeIndex()
	idx.upsertErr = errIndexDown
	svc, mock, _, _ := newSolutionService(t, idx)

	mock.ExpectQuery(`SELECT (.+) FROM solutions WHERE id = \$1`).
		WillReturnRows(solutionRow("sol-1", "private"))
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM solution_votes`).
		WillReturnError(errLedger)
	mock.ExpectRollback()

	err := svc.Delete(context.Background(), writerContext(), "sol-1")
	wantKind(t, err, apperr.Consistency)

	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.RolledBack {
		t.Fatalf("expected an unreconciled consistency error, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// UpdateVisibility
// ---------------------------------------------------------------------------

func TestSolutionService_UpdateVisibilityInvalid(t *testing.T) {
	svc, _, _, _ := newSolutionService(t, newFakeIndex())

	_, err := svc.UpdateVisibility(context.Background(), writerContext(), "sol-1", "public")
	wantKind(t, err, apperr.Invalid)
}

func TestSolutionService_UpdateVisibilityNoop(t *testing.T) {
	idx := newFakeIndex()
	svc, mock, _, _ := newSolutionService(t, idx)

	mock.ExpectQuery(`SELECT (.+) FROM solutions WHERE id = \$1`).
		WillReturnRows(solutionRow("sol-1", "team"))

	sol, err := svc.UpdateVisibility(context.Background(), writerContext(), "sol-1", "team")
	if err != nil {
		t.Fatalf("UpdateVisibility: %v", err)
	}
	if sol.Visibility != "team" {
		t.Fatalf("got %q", sol.Visibility)
	}
	if len(idx.updates) != 0 {
		t.Fatal("equal visibility must not touch the index")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSolutionService_UpdateVisibility(t *testing.T) {
	idx := newFakeIndex()
	svc, mock, _, _ := newSolutionService(t, idx)

	mock.ExpectQuery(`SELECT (.+) FROM solutions WHERE id = \$1`).
		WillReturnRows(solutionRow("sol-1", "private"))
	mock.ExpectExec(`UPDATE solutions SET visibility`).
		WithArgs("sol-1", "team").
		WillReturnResult(sqlmock.NewResult(0, 1))

	sol, err := svc.UpdateVisibility(context.Background(), writerContext(), "sol-1", "team")
	if err != nil {
		t.Fatalf("UpdateVisibility: %v", err)
	}
	if sol.Visibility != "team" {
		t.Fatalf("got %q", sol.Visibility)
	}
	if len(idx.updates) != 1 || idx.updates[0]["visibility"] != "team" {
		t.Fatalf("index update not recorded: %v", idx.updates)
	}
}

func TestSolutionService_UpdateVisibilityLedgerFailureCompensated(t *testing.T) {
	idx := newFakeIndex()
	svc, mock, _, _ := newSolutionService(t, idx)

	mock.ExpectQuery(`SELECT (.+) FROM solutions WHERE id = \$1`).
		WillReturnRows(solutionRow("sol-1", "private"))
	mock.ExpectExec(`UPDATE solutions SET visibility`).
		WillReturnError(errLedger)

	_, err := svc.UpdateVisibility(context.Background(), writerContext(), "sol-1", "team")
	wantKind(t, err, apperr.Consistency)

	var appErr *apperr.Error
	if !errors.As(err, &appErr) || !appErr.RolledBack {
		t.Fatalf("expected a compensated consistency error, got %v", err)
	}
	// Forward write then restore of the previous value.
	if len(idx.updates) != 2 ||
		idx.updates[0]["visibility"] != "team" ||
		idx.updates[1]["visibility"] != "private" {
		t.Fatalf("expected forward then restore updates, got %v", idx.updates)
	}
}
