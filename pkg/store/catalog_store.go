package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/atoforge/atoforge/pkg/domain"
)

// ListControlsQuery filters and pages the control listing. Page is 1-indexed.
type ListControlsQuery struct {
	Page   int
	Limit  int
	Search string
	Family string
}

// Pagination describes one page of a listing.
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

// CatalogStats summarizes the active catalog.
type CatalogStats struct {
	TotalControls  int                     `json:"totalControls"`
	TotalCCIs      int                     `json:"totalCcis"`
	TotalRelations int                     `json:"totalRelations"`
	Revision       *domain.CatalogRevision `json:"revision,omitempty"`
}

// ReplaceCatalog atomically swaps the whole catalog for a new one. The prior
// controls, CCIs and relations are deleted and the new set inserted inside a
// single transaction; any failure leaves the previous catalog intact.
func (s *Store) ReplaceCatalog(ctx context.Context, controls []domain.Control, relations []domain.ControlRelation, rev domain.CatalogRevision) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"control_relations", "ccis", "controls"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}
		for _, c := range controls {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO controls (control_id, family, name, control_text, discussion) VALUES ($1, $2, $3, $4, $5)`,
				c.ID, c.Family, c.Name, c.ControlText, c.Discussion); err != nil {
				return fmt.Errorf("insert control %s: %w", c.ID, err)
			}
			for _, cci := range c.CCIs {
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO ccis (cci, control_id, definition) VALUES ($1, $2, $3)`,
					cci.CCI, c.ID, cci.Definition); err != nil {
					return fmt.Errorf("insert cci %s: %w", cci.CCI, err)
				}
			}
		}
		for _, r := range relations {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO control_relations (control_id, related_id) VALUES ($1, $2)`,
				r.ControlID, r.RelatedID); err != nil {
				return fmt.Errorf("insert relation %s->%s: %w", r.ControlID, r.RelatedID, err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO catalog_revisions (id, version, digest, controls, imported_at) VALUES ($1, $2, $3, $4, $5)`,
			rev.ID, rev.Version, rev.Digest, rev.Controls, formatTime(rev.ImportedAt)); err != nil {
			return fmt.Errorf("insert catalog revision: %w", err)
		}
		return nil
	})
}

// ListControls returns one page of the catalog. Family matches the control-ID
// prefix before the first hyphen; search matches case-insensitively against
// control ID or name.
func (s *Store) ListControls(ctx context.Context, q ListControlsQuery) ([]domain.Control, Pagination, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = 25
	}

	var where []string
	var args []any
	if q.Family != "" {
		args = append(args, strings.ToUpper(q.Family))
		where = append(where, fmt.Sprintf("UPPER(family) = $%d", len(args)))
	}
	if q.Search != "" {
		needle := "%" + strings.ToLower(q.Search) + "%"
		args = append(args, needle)
		n := len(args)
		args = append(args, needle)
		where = append(where, fmt.Sprintf("(LOWER(control_id) LIKE $%d OR LOWER(name) LIKE $%d)", n, n+1))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM controls"+clause, args...).Scan(&total); err != nil {
		return nil, Pagination{}, fmt.Errorf("count controls: %w", err)
	}

	offset := (q.Page - 1) * q.Limit
	args = append(args, q.Limit, offset)
	query := fmt.Sprintf(
		"SELECT control_id, family, name, control_text, discussion FROM controls%s ORDER BY control_id LIMIT $%d OFFSET $%d",
		clause, len(args)-1, len(args))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Pagination{}, fmt.Errorf("list controls: %w", err)
	}
	defer func() { _ = rows.Close() }()

	controls := make([]domain.Control, 0)
	for rows.Next() {
		var c domain.Control
		if err := rows.Scan(&c.ID, &c.Family, &c.Name, &c.ControlText, &c.Discussion); err != nil {
			return nil, Pagination{}, err
		}
		controls = append(controls, c)
	}
	if err := rows.Err(); err != nil {
		return nil, Pagination{}, err
	}

	pages := (total + q.Limit - 1) / q.Limit
	return controls, Pagination{Page: q.Page, Limit: q.Limit, Total: total, Pages: pages}, nil
}

// GetControl loads one control with its CCIs.
func (s *Store) GetControl(ctx context.Context, controlID string) (domain.Control, error) {
	var c domain.Control
	err := s.db.QueryRowContext(ctx,
		`SELECT control_id, family, name, control_text, discussion FROM controls WHERE control_id = $1`,
		controlID).Scan(&c.ID, &c.Family, &c.Name, &c.ControlText, &c.Discussion)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Control{}, notFound("Control", controlID)
	}
	if err != nil {
		return domain.Control{}, fmt.Errorf("get control: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT cci, control_id, definition FROM ccis WHERE control_id = $1 ORDER BY cci`, controlID)
	if err != nil {
		return domain.Control{}, fmt.Errorf("get control ccis: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var cci domain.CCI
		if err := rows.Scan(&cci.CCI, &cci.ControlID, &cci.Definition); err != nil {
			return domain.Control{}, err
		}
		c.CCIs = append(c.CCIs, cci)
	}
	return c, rows.Err()
}

// ControlIDs returns the set of control IDs in the active catalog.
func (s *Store) ControlIDs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT control_id FROM controls`)
	if err != nil {
		return nil, fmt.Errorf("list control ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// CCIToControls returns the active catalog's CCI -> control IDs index. One
// CCI can correlate to more than one control.
func (s *Store) CCIToControls(ctx context.Context) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT cci, control_id FROM ccis`)
	if err != nil {
		return nil, fmt.Errorf("load cci index: %w", err)
	}
	defer func() { _ = rows.Close() }()

	index := make(map[string][]string)
	for rows.Next() {
		var cci, controlID string
		if err := rows.Scan(&cci, &controlID); err != nil {
			return nil, err
		}
		index[cci] = append(index[cci], controlID)
	}
	return index, rows.Err()
}

// CatalogStats counts the active catalog and attaches the latest revision.
func (s *Store) CatalogStats(ctx context.Context) (CatalogStats, error) {
	var stats CatalogStats
	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM controls", &stats.TotalControls},
		{"SELECT COUNT(*) FROM ccis", &stats.TotalCCIs},
		{"SELECT COUNT(*) FROM control_relations", &stats.TotalRelations},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return CatalogStats{}, fmt.Errorf("catalog stats: %w", err)
		}
	}

	rev, err := s.LatestRevision(ctx)
	if err != nil {
		return CatalogStats{}, err
	}
	stats.Revision = rev
	return stats, nil
}

// LatestRevision returns the most recent catalog revision, or nil when the
// catalog has never been imported.
func (s *Store) LatestRevision(ctx context.Context) (*domain.CatalogRevision, error) {
	var rev domain.CatalogRevision
	var importedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, version, digest, controls, imported_at FROM catalog_revisions ORDER BY imported_at DESC LIMIT 1`).
		Scan(&rev.ID, &rev.Version, &rev.Digest, &rev.Controls, &importedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest catalog revision: %w", err)
	}
	rev.ImportedAt = parseTime(importedAt)
	return &rev, nil
}
