package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/atoforge/atoforge/pkg/domain"
)

// TestReplaceCatalogRollsBackOnFailure forces a mid-transaction failure and
// verifies the transaction is rolled back, never committed.
func TestReplaceCatalogRollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer func() { _ = db.Close() }()

	st := New(db, DriverSQLite)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM control_relations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM ccis").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM controls").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO controls").
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	controls := []domain.Control{{ID: "AC-1", Family: "AC", Name: "Policy and Procedures"}}
	rev := domain.CatalogRevision{ID: "rev-1", Digest: "sha256:abc", Controls: 1, ImportedAt: time.Now()}

	if err := st.ReplaceCatalog(ctx, controls, nil, rev); err == nil {
		t.Fatal("expected error from failed insert")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %s", err)
	}
}

func TestReplaceCatalogCommits(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer func() { _ = db.Close() }()

	st := New(db, DriverSQLite)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM control_relations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM ccis").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM controls").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO controls").
		WithArgs("AC-1", "AC", "Policy and Procedures", "", "").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO ccis").
		WithArgs("CCI-000001", "AC-1", "").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO catalog_revisions").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	controls := []domain.Control{{
		ID: "AC-1", Family: "AC", Name: "Policy and Procedures",
		CCIs: []domain.CCI{{CCI: "CCI-000001", ControlID: "AC-1"}},
	}}
	rev := domain.CatalogRevision{ID: "rev-1", Digest: "sha256:abc", Controls: 1, ImportedAt: time.Now()}

	if err := st.ReplaceCatalog(ctx, controls, nil, rev); err != nil {
		t.Errorf("error was not expected while replacing catalog: %s", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %s", err)
	}
}
