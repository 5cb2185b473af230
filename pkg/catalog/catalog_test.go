package catalog

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atoforge/atoforge/pkg/domain"
	"github.com/atoforge/atoforge/pkg/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	st := store.New(db, store.DriverSQLite)
	require.NoError(t, st.Migrate(context.Background()))
	return New(st, nil).WithClock(func() time.Time {
		return time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	})
}

const sampleCatalog = `{
	"version": "5.1.1",
	"controls": [
		{
			"controlId": "AC-1",
			"name": "Policy and Procedures",
			"controlText": "Develop and document access control policy.",
			"ccis": [{"cci": "CCI-000001", "definition": "The organization develops an access control policy."}],
			"related": ["AC-2"]
		},
		{
			"controlId": "AC-2",
			"name": "Account Management",
			"ccis": [
				{"cci": "CCI-000015"},
				{"cci": "CCI-000016"}
			]
		},
		{
			"controlId": "SC-7",
			"family": "SC",
			"name": "Boundary Protection",
			"related": ["XX-1"]
		}
	]
}`

func TestImport(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	result, err := svc.Import(ctx, strings.NewReader(sampleCatalog))
	require.NoError(t, err)
	assert.Equal(t, 3, result.Imported)
	assert.Empty(t, result.Errors)
	assert.Equal(t, "5.1.1", result.Revision.Version)
	assert.True(t, strings.HasPrefix(result.Revision.Digest, "sha256:"))

	c, err := svc.GetControl(ctx, "AC-1")
	require.NoError(t, err)
	assert.Equal(t, "AC", c.Family, "family derived from the control id prefix")
	require.Len(t, c.CCIs, 1)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalControls)
	assert.Equal(t, 3, stats.TotalCCIs)
	// One surviving undirected edge (AC-1 ~ AC-2) stored as two directed
	// rows; the edge to the unknown XX-1 is dropped.
	assert.Equal(t, 2, stats.TotalRelations)
}

func TestImportCollectsRecordErrors(t *testing.T) {
	svc := newTestService(t)

	src := `{"controls": [
		{"controlId": "AC-1", "name": "Policy"},
		{"controlId": "", "name": "No ID"},
		{"controlId": "AC-3", "name": ""},
		{"controlId": "AC-1", "name": "Duplicate"},
		{"controlId": "AC-4", "name": "Bad CCI", "ccis": [{"cci": ""}]}
	]}`
	result, err := svc.Import(context.Background(), strings.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Imported)
	assert.Len(t, result.Errors, 4)

	reasons := make([]string, 0, len(result.Errors))
	for _, re := range result.Errors {
		reasons = append(reasons, re.Reason)
	}
	assert.Contains(t, reasons, "missing controlId")
	assert.Contains(t, reasons, "missing name")
	assert.Contains(t, reasons, "duplicate controlId")
	assert.Contains(t, reasons, "empty cci")

	// AC-4 still imports; only its empty CCI is dropped.
	c, err := svc.GetControl(context.Background(), "AC-4")
	require.NoError(t, err)
	assert.Empty(t, c.CCIs)
}

func TestImportRejectsUnreadableSource(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	var verr *domain.ValidationError
	_, err := svc.Import(ctx, strings.NewReader("not json"))
	require.Error(t, err)
	assert.True(t, errors.As(err, &verr))

	_, err = svc.Import(ctx, strings.NewReader(`{"controls": []}`))
	require.Error(t, err)

	_, err = svc.Import(ctx, strings.NewReader(`{"version": "not-semver", "controls": [{"controlId": "AC-1", "name": "x"}]}`))
	require.Error(t, err)
	assert.True(t, errors.As(err, &verr))

	// An all-invalid record set writes nothing.
	_, err = svc.Import(ctx, strings.NewReader(`{"controls": [{"controlId": "", "name": "x"}]}`))
	require.Error(t, err)
}

func TestImportReplacesPreviousCatalog(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Import(ctx, strings.NewReader(sampleCatalog))
	require.NoError(t, err)

	_, err = svc.Import(ctx, strings.NewReader(`{"controls": [{"controlId": "CM-6", "name": "Configuration Settings"}]}`))
	require.NoError(t, err)

	_, err = svc.GetControl(ctx, "AC-1")
	assert.True(t, store.IsNotFound(err))

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalControls)
}

func TestImportDigestIgnoresFormatting(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	compact := `{"controls":[{"controlId":"AC-1","name":"Policy"}]}`
	spaced := `{
		"controls": [ { "name": "Policy", "controlId": "AC-1" } ]
	}`

	first, err := svc.Import(ctx, strings.NewReader(compact))
	require.NoError(t, err)
	second, err := svc.Import(ctx, strings.NewReader(spaced))
	require.NoError(t, err)

	assert.Equal(t, first.Revision.Digest, second.Revision.Digest)
	assert.NotEqual(t, first.Revision.ID, second.Revision.ID)
}

func TestImportDerivesFamilyFromControlID(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	// A source-supplied family string is ignored; the stored family is
	// always the control-id prefix, so the family filter cannot diverge.
	src := `{"controls": [{"controlId": "AU-3", "family": "WRONG", "name": "Content of Audit Records"}]}`
	_, err := svc.Import(ctx, strings.NewReader(src))
	require.NoError(t, err)

	c, err := svc.GetControl(ctx, "AU-3")
	require.NoError(t, err)
	assert.Equal(t, "AU", c.Family)

	controls, _, err := svc.ListControls(ctx, store.ListControlsQuery{Family: "AU"})
	require.NoError(t, err)
	require.Len(t, controls, 1)
	assert.Equal(t, "AU-3", controls[0].ID)
}

func TestFamilyOf(t *testing.T) {
	assert.Equal(t, "AC", FamilyOf("AC-2"))
	assert.Equal(t, "AC", FamilyOf("AC-2 (1)"))
	assert.Equal(t, "SC", FamilyOf("SC-7"))
	assert.Equal(t, "STANDALONE", FamilyOf("STANDALONE"))
}
