package baseline

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atoforge/atoforge/pkg/domain"
	"github.com/atoforge/atoforge/pkg/store"
)

var fixedNow = time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	st := store.New(db, store.DriverSQLite)
	require.NoError(t, st.Migrate(context.Background()))
	return New(st, nil).WithClock(func() time.Time { return fixedNow }), st
}

func seedPackageAndCatalog(t *testing.T, st *store.Store) domain.Package {
	t.Helper()
	ctx := context.Background()
	pkg, err := st.CreatePackage(ctx, domain.Package{Name: "Enclave Alpha", IsActive: true, CreatedAt: fixedNow})
	require.NoError(t, err)

	controls := []domain.Control{
		{ID: "AC-1", Family: "AC", Name: "Policy and Procedures"},
		{ID: "AC-2", Family: "AC", Name: "Account Management"},
		{ID: "SC-7", Family: "SC", Name: "Boundary Protection"},
	}
	rev := domain.CatalogRevision{ID: "rev-1", Digest: "sha256:abc", Controls: 3, ImportedAt: fixedNow}
	require.NoError(t, st.ReplaceCatalog(ctx, controls, nil, rev))
	return pkg
}

func TestAddToBaseline(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	pkg := seedPackageAndCatalog(t, st)

	entry, err := svc.AddToBaseline(ctx, pkg.ID, "AC-1", "required by overlay")
	require.NoError(t, err)
	assert.True(t, entry.IncludeInBaseline)
	assert.Equal(t, domain.TailoringAdded, entry.TailoringAction)
	assert.Equal(t, domain.SourceManual, entry.BaselineSource, "manual tailoring moves the entry off the catalog default")
	assert.Equal(t, domain.ImplNotImplemented, entry.ImplementationStatus)
	assert.Equal(t, domain.NotAssessed, entry.ComplianceStatus)
	assert.True(t, entry.UpdatedAt.Equal(fixedNow))

	// Tailoring without a rationale is rejected.
	var verr *domain.ValidationError
	_, err = svc.AddToBaseline(ctx, pkg.ID, "AC-2", "  ")
	require.Error(t, err)
	assert.True(t, errors.As(err, &verr))
}

func TestRemoveFromBaseline(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	pkg := seedPackageAndCatalog(t, st)

	_, err := svc.AddToBaseline(ctx, pkg.ID, "AC-1", "required by overlay")
	require.NoError(t, err)

	entry, err := svc.RemoveFromBaseline(ctx, pkg.ID, "AC-1", "not applicable to enclave")
	require.NoError(t, err)
	assert.False(t, entry.IncludeInBaseline)
	assert.Equal(t, domain.TailoringRemoved, entry.TailoringAction)
	assert.Equal(t, "not applicable to enclave", entry.TailoringRationale)

	// Still one entry for the pair.
	rows, err := st.BaselineByPackage(ctx, pkg.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestUpdateControlValidation(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	pkg := seedPackageAndCatalog(t, st)

	_, err := svc.UpdateControl(ctx, pkg.ID+100, "AC-1", ControlPatch{})
	assert.True(t, store.IsNotFound(err))

	_, err = svc.UpdateControl(ctx, pkg.ID, "XX-99", ControlPatch{})
	assert.True(t, store.IsNotFound(err))

	var verr *domain.ValidationError
	bad := "Halfway"
	_, err = svc.UpdateControl(ctx, pkg.ID, "AC-1", ControlPatch{ImplementationStatus: &bad})
	require.Error(t, err)
	assert.True(t, errors.As(err, &verr))

	badComp := "YES"
	_, err = svc.UpdateControl(ctx, pkg.ID, "AC-1", ControlPatch{ComplianceStatus: &badComp})
	require.Error(t, err)
	assert.True(t, errors.As(err, &verr))

	badAction := "Tweaked"
	_, err = svc.UpdateControl(ctx, pkg.ID, "AC-1", ControlPatch{TailoringAction: &badAction})
	require.Error(t, err)
	assert.True(t, errors.As(err, &verr))
}

func TestUpdateControlPreservesUnpatchedFields(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	pkg := seedPackageAndCatalog(t, st)

	impl := "Implemented"
	notes := "enforced via IdP"
	_, err := svc.UpdateControl(ctx, pkg.ID, "AC-1", ControlPatch{ImplementationStatus: &impl, ImplementationNotes: &notes})
	require.NoError(t, err)

	comp := "CO"
	entry, err := svc.UpdateControl(ctx, pkg.ID, "AC-1", ControlPatch{ComplianceStatus: &comp})
	require.NoError(t, err)
	assert.Equal(t, domain.ImplImplemented, entry.ImplementationStatus)
	assert.Equal(t, "enforced via IdP", entry.ImplementationNotes)
	assert.Equal(t, domain.CompliantOfficial, entry.ComplianceStatus)
}

func TestBulkUpdateAbortsOnUnknownControl(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	pkg := seedPackageAndCatalog(t, st)

	include := true
	patch := ControlPatch{IncludeInBaseline: &include}

	_, err := svc.BulkUpdate(ctx, pkg.ID, []string{"AC-1", "XX-99"}, patch)
	assert.True(t, store.IsNotFound(err))

	// Nothing at all was written.
	rows, err := st.BaselineByPackage(ctx, pkg.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)

	var verr *domain.ValidationError
	_, err = svc.BulkUpdate(ctx, pkg.ID, nil, patch)
	require.Error(t, err)
	assert.True(t, errors.As(err, &verr))
}

func TestBulkUpdate(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	pkg := seedPackageAndCatalog(t, st)

	include := true
	impl := "Partially_Implemented"
	entries, err := svc.BulkUpdate(ctx, pkg.ID, []string{"AC-1", "AC-2", "SC-7"},
		ControlPatch{IncludeInBaseline: &include, ImplementationStatus: &impl})
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	rows, err := st.BaselineByPackage(ctx, pkg.ID)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for _, row := range rows {
		assert.True(t, row.Entry.IncludeInBaseline)
		assert.Equal(t, domain.ImplPartiallyImplemented, row.Entry.ImplementationStatus)
	}
}

func TestGetBaselineSummary(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	pkg := seedPackageAndCatalog(t, st)

	_, err := svc.AddToBaseline(ctx, pkg.ID, "AC-1", "overlay")
	require.NoError(t, err)
	impl := "Implemented"
	_, err = svc.UpdateControl(ctx, pkg.ID, "AC-1", ControlPatch{ImplementationStatus: &impl})
	require.NoError(t, err)

	include := true
	_, err = svc.UpdateControl(ctx, pkg.ID, "AC-2", ControlPatch{IncludeInBaseline: &include})
	require.NoError(t, err)

	b, err := svc.GetBaseline(ctx, pkg.ID)
	require.NoError(t, err)
	// Total reflects the active catalog, not the number of entries.
	assert.Equal(t, 3, b.Summary.Total)
	assert.Equal(t, 2, b.Summary.Included)
	assert.Equal(t, 1, b.Summary.Tailored)
	assert.Equal(t, 1, b.Summary.Implemented)
	assert.Equal(t, 1, b.Summary.NotImplemented)
	assert.Len(t, b.Controls, 2)
	assert.Empty(t, b.StaleControls)
}

func TestGetBaselineReportsStaleControls(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	pkg := seedPackageAndCatalog(t, st)

	_, err := svc.AddToBaseline(ctx, pkg.ID, "SC-7", "boundary overlay")
	require.NoError(t, err)

	// Re-import without SC-7.
	controls := []domain.Control{{ID: "AC-1", Family: "AC", Name: "Policy and Procedures"}}
	rev := domain.CatalogRevision{ID: "rev-2", Digest: "sha256:def", Controls: 1, ImportedAt: fixedNow}
	require.NoError(t, st.ReplaceCatalog(ctx, controls, nil, rev))

	b, err := svc.GetBaseline(ctx, pkg.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"SC-7"}, b.StaleControls)
	assert.Empty(t, b.Controls, "stale entries are excluded from the joined listing")
}
