package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/atoforge/atoforge/pkg/domain"
)

func seedCatalog(t *testing.T, st *Store) {
	t.Helper()
	controls := []domain.Control{
		{ID: "AC-1", Family: "AC", Name: "Policy and Procedures", CCIs: []domain.CCI{
			{CCI: "CCI-000001", ControlID: "AC-1"},
		}},
		{ID: "AC-2", Family: "AC", Name: "Account Management", CCIs: []domain.CCI{
			{CCI: "CCI-000015", ControlID: "AC-2"},
			{CCI: "CCI-000016", ControlID: "AC-2"},
		}},
		{ID: "AU-3", Family: "AU", Name: "Content of Audit Records", CCIs: []domain.CCI{
			{CCI: "CCI-000015", ControlID: "AU-3"},
		}},
		{ID: "SC-7", Family: "SC", Name: "Boundary Protection"},
	}
	relations := []domain.ControlRelation{
		{ControlID: "AC-1", RelatedID: "AC-2"},
		{ControlID: "AC-2", RelatedID: "AC-1"},
	}
	rev := domain.CatalogRevision{
		ID: "rev-1", Version: "5.1.1", Digest: "sha256:abc", Controls: len(controls), ImportedAt: time.Now(),
	}
	require.NoError(t, st.ReplaceCatalog(context.Background(), controls, relations, rev))
}

func TestReplaceCatalogSwapsWholesale(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedCatalog(t, st)

	replacement := []domain.Control{{ID: "CM-6", Family: "CM", Name: "Configuration Settings"}}
	rev := domain.CatalogRevision{ID: "rev-2", Digest: "sha256:def", Controls: 1, ImportedAt: time.Now()}
	require.NoError(t, st.ReplaceCatalog(ctx, replacement, nil, rev))

	_, err := st.GetControl(ctx, "AC-1")
	require.True(t, IsNotFound(err), "old catalog must be gone")

	stats, err := st.CatalogStats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.TotalControls)
	require.Equal(t, 0, stats.TotalCCIs)
	require.NotNil(t, stats.Revision)
	require.Equal(t, "rev-2", stats.Revision.ID)
}

func TestListControlsPagination(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedCatalog(t, st)

	page1, p, err := st.ListControls(ctx, ListControlsQuery{Page: 1, Limit: 3})
	require.NoError(t, err)
	require.Len(t, page1, 3)
	require.Equal(t, 4, p.Total)
	require.Equal(t, 2, p.Pages)

	page2, _, err := st.ListControls(ctx, ListControlsQuery{Page: 2, Limit: 3})
	require.NoError(t, err)
	require.Len(t, page2, 1)

	// Out-of-range pages are empty, not errors.
	page9, _, err := st.ListControls(ctx, ListControlsQuery{Page: 9, Limit: 3})
	require.NoError(t, err)
	require.Empty(t, page9)
}

func TestListControlsFamilyAndSearch(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedCatalog(t, st)

	ac, p, err := st.ListControls(ctx, ListControlsQuery{Family: "ac"})
	require.NoError(t, err)
	require.Len(t, ac, 2)
	require.Equal(t, 2, p.Total)

	byName, _, err := st.ListControls(ctx, ListControlsQuery{Search: "boundary"})
	require.NoError(t, err)
	require.Len(t, byName, 1)
	require.Equal(t, "SC-7", byName[0].ID)

	byID, _, err := st.ListControls(ctx, ListControlsQuery{Search: "au-3"})
	require.NoError(t, err)
	require.Len(t, byID, 1)

	both, _, err := st.ListControls(ctx, ListControlsQuery{Family: "AC", Search: "account"})
	require.NoError(t, err)
	require.Len(t, both, 1)
	require.Equal(t, "AC-2", both[0].ID)
}

func TestGetControlWithCCIs(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedCatalog(t, st)

	c, err := st.GetControl(ctx, "AC-2")
	require.NoError(t, err)
	require.Len(t, c.CCIs, 2)

	_, err = st.GetControl(ctx, "XX-99")
	require.True(t, IsNotFound(err))
}

func TestCCIToControls(t *testing.T) {
	st := newTestStore(t)
	seedCatalog(t, st)

	index, err := st.CCIToControls(context.Background())
	require.NoError(t, err)
	// CCI-000015 maps to two controls.
	require.ElementsMatch(t, []string{"AC-2", "AU-3"}, index["CCI-000015"])
	require.Equal(t, []string{"AC-1"}, index["CCI-000001"])
	require.NotContains(t, index, "CCI-999999")
}

func TestLatestRevision(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	rev, err := st.LatestRevision(ctx)
	require.NoError(t, err)
	require.Nil(t, rev, "empty store has no revision")

	seedCatalog(t, st)
	rev, err = st.LatestRevision(ctx)
	require.NoError(t, err)
	require.NotNil(t, rev)
	require.Equal(t, "5.1.1", rev.Version)
}
