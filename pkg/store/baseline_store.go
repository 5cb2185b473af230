package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/atoforge/atoforge/pkg/domain"
)

const baselineColumns = `id, package_id, control_id, include_in_baseline, baseline_source,
	tailoring_action, tailoring_rationale, implementation_status, implementation_notes,
	compliance_status, compliance_notes, updated_at`

const upsertBaselineSQL = `
	INSERT INTO baseline_entries (
		package_id, control_id, include_in_baseline, baseline_source,
		tailoring_action, tailoring_rationale, implementation_status,
		implementation_notes, compliance_status, compliance_notes, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (package_id, control_id) DO UPDATE SET
		include_in_baseline = EXCLUDED.include_in_baseline,
		baseline_source = EXCLUDED.baseline_source,
		tailoring_action = EXCLUDED.tailoring_action,
		tailoring_rationale = EXCLUDED.tailoring_rationale,
		implementation_status = EXCLUDED.implementation_status,
		implementation_notes = EXCLUDED.implementation_notes,
		compliance_status = EXCLUDED.compliance_status,
		compliance_notes = EXCLUDED.compliance_notes,
		updated_at = EXCLUDED.updated_at`

// BaselineRow is a baseline entry joined with its catalog control.
type BaselineRow struct {
	Entry   domain.BaselineEntry `json:"entry"`
	Control domain.Control       `json:"control"`
}

// UpsertBaselineEntry creates or updates the entry for the entry's
// (package, control) pair. Upserts are idempotent on that key.
func (s *Store) UpsertBaselineEntry(ctx context.Context, e domain.BaselineEntry) error {
	_, err := s.db.ExecContext(ctx, upsertBaselineSQL, upsertArgs(e)...)
	if err != nil {
		return fmt.Errorf("upsert baseline entry %d/%s: %w", e.PackageID, e.ControlID, err)
	}
	return nil
}

// UpsertBaselineEntries applies all upserts inside one transaction so a bulk
// tailoring operation is all-or-nothing.
func (s *Store) UpsertBaselineEntries(ctx context.Context, entries []domain.BaselineEntry) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, e := range entries {
			if _, err := tx.ExecContext(ctx, upsertBaselineSQL, upsertArgs(e)...); err != nil {
				return fmt.Errorf("upsert baseline entry %d/%s: %w", e.PackageID, e.ControlID, err)
			}
		}
		return nil
	})
}

func upsertArgs(e domain.BaselineEntry) []any {
	return []any{
		e.PackageID, e.ControlID, e.IncludeInBaseline, string(e.BaselineSource),
		string(e.TailoringAction), e.TailoringRationale, string(e.ImplementationStatus),
		e.ImplementationNotes, string(e.ComplianceStatus), e.ComplianceNotes,
		formatTime(e.UpdatedAt),
	}
}

// GetBaselineEntry loads the entry for a (package, control) pair. Absence is
// an ordinary state (the entry is created lazily on first tailoring), so it
// is reported through the bool, not as an error.
func (s *Store) GetBaselineEntry(ctx context.Context, packageID int64, controlID string) (domain.BaselineEntry, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+baselineColumns+` FROM baseline_entries WHERE package_id = $1 AND control_id = $2`,
		packageID, controlID)
	e, err := scanBaselineEntry(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.BaselineEntry{}, false, nil
	}
	if err != nil {
		return domain.BaselineEntry{}, false, fmt.Errorf("get baseline entry: %w", err)
	}
	return e, true, nil
}

// BaselineByPackage returns the package's baseline entries joined with their
// catalog controls, ordered by control id. Entries whose control vanished in
// a catalog re-import are excluded here; callers detect those through
// StaleBaselineControls.
func (s *Store) BaselineByPackage(ctx context.Context, packageID int64) ([]BaselineRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT b.id, b.package_id, b.control_id, b.include_in_baseline, b.baseline_source,
			b.tailoring_action, b.tailoring_rationale, b.implementation_status, b.implementation_notes,
			b.compliance_status, b.compliance_notes, b.updated_at,
			c.control_id, c.family, c.name, c.control_text, c.discussion
		FROM baseline_entries b
		JOIN controls c ON c.control_id = b.control_id
		WHERE b.package_id = $1
		ORDER BY b.control_id`, packageID)
	if err != nil {
		return nil, fmt.Errorf("list baseline entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := make([]BaselineRow, 0)
	for rows.Next() {
		var e domain.BaselineEntry
		var c domain.Control
		var source, action, implStatus, compStatus, updatedAt string
		err := rows.Scan(&e.ID, &e.PackageID, &e.ControlID, &e.IncludeInBaseline, &source,
			&action, &e.TailoringRationale, &implStatus, &e.ImplementationNotes,
			&compStatus, &e.ComplianceNotes, &updatedAt,
			&c.ID, &c.Family, &c.Name, &c.ControlText, &c.Discussion)
		if err != nil {
			return nil, err
		}
		e.BaselineSource = domain.BaselineSource(source)
		e.TailoringAction = domain.TailoringAction(action)
		e.ImplementationStatus = domain.ImplementationStatus(implStatus)
		e.ComplianceStatus = domain.ComplianceStatus(compStatus)
		e.UpdatedAt = parseTime(updatedAt)
		result = append(result, BaselineRow{Entry: e, Control: c})
	}
	return result, rows.Err()
}

// StaleBaselineControls returns control ids referenced by a package's
// baseline that no longer exist in the active catalog, so callers can fail
// closed after a catalog re-import.
func (s *Store) StaleBaselineControls(ctx context.Context, packageID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT b.control_id FROM baseline_entries b
		LEFT JOIN controls c ON c.control_id = b.control_id
		WHERE b.package_id = $1 AND c.control_id IS NULL
		ORDER BY b.control_id`, packageID)
	if err != nil {
		return nil, fmt.Errorf("list stale baseline controls: %w", err)
	}
	defer func() { _ = rows.Close() }()

	stale := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		stale = append(stale, id)
	}
	return stale, rows.Err()
}

func scanBaselineEntry(scan func(...any) error) (domain.BaselineEntry, error) {
	var e domain.BaselineEntry
	var source, action, implStatus, compStatus, updatedAt string
	err := scan(&e.ID, &e.PackageID, &e.ControlID, &e.IncludeInBaseline, &source,
		&action, &e.TailoringRationale, &implStatus, &e.ImplementationNotes,
		&compStatus, &e.ComplianceNotes, &updatedAt)
	if err != nil {
		return domain.BaselineEntry{}, err
	}
	e.BaselineSource = domain.BaselineSource(source)
	e.TailoringAction = domain.TailoringAction(action)
	e.ImplementationStatus = domain.ImplementationStatus(implStatus)
	e.ComplianceStatus = domain.ComplianceStatus(compStatus)
	e.UpdatedAt = parseTime(updatedAt)
	return e, nil
}
