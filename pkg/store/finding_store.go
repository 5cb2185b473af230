package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/atoforge/atoforge/pkg/domain"
)

const findingColumns = `SELECT id, scan_id, system_id, rule_id, cci, severity, status, title, description, last_seen`

// FindingFilter narrows a finding listing. Severity and Status are exact
// matches against the stored values, independent of display-layer severity
// normalization.
type FindingFilter struct {
	Severity *string
	Status   *string
	SystemID *int64
	GroupID  *int64
}

// GetFinding loads one finding by id.
func (s *Store) GetFinding(ctx context.Context, id int64) (domain.Finding, error) {
	row := s.db.QueryRowContext(ctx, findingColumns+` FROM findings WHERE id = $1`, id)
	f, err := scanFinding(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Finding{}, notFound("Finding", id)
	}
	if err != nil {
		return domain.Finding{}, fmt.Errorf("get finding: %w", err)
	}
	return f, nil
}

// UpdateFinding persists the mutable fields of a finding.
func (s *Store) UpdateFinding(ctx context.Context, f domain.Finding) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE findings SET severity = $1, status = $2, title = $3, description = $4, cci = $5, last_seen = $6 WHERE id = $7`,
		f.Severity, string(f.Status), f.Title, f.Description, f.CCI, formatTime(f.LastSeen), f.ID)
	if err != nil {
		return fmt.Errorf("update finding: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update finding: %w", err)
	}
	if affected == 0 {
		return notFound("Finding", f.ID)
	}
	return nil
}

// ListFindings returns findings matching the filter, ordered by severity
// descending then last_seen descending.
func (s *Store) ListFindings(ctx context.Context, filter FindingFilter) ([]domain.Finding, error) {
	var where []string
	var args []any
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.Severity != nil {
		add("severity = $%d", *filter.Severity)
	}
	if filter.Status != nil {
		add("status = $%d", *filter.Status)
	}
	if filter.SystemID != nil {
		add("system_id = $%d", *filter.SystemID)
	}
	if filter.GroupID != nil {
		add("system_id IN (SELECT id FROM systems WHERE group_id = $%d)", *filter.GroupID)
	}

	query := findingColumns + ` FROM findings`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	findings, err := s.queryFindings(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	sortFindings(findings)
	return findings, nil
}

// FindingsBySystems returns all findings belonging to the given systems.
func (s *Store) FindingsBySystems(ctx context.Context, systemIDs []int64) ([]domain.Finding, error) {
	if len(systemIDs) == 0 {
		return []domain.Finding{}, nil
	}
	placeholders := make([]string, len(systemIDs))
	args := make([]any, len(systemIDs))
	for i, id := range systemIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	query := fmt.Sprintf("%s FROM findings WHERE system_id IN (%s) ORDER BY id",
		findingColumns, strings.Join(placeholders, ", "))
	return s.queryFindings(ctx, query, args...)
}

func (s *Store) queryFindings(ctx context.Context, query string, args ...any) ([]domain.Finding, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query findings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	findings := make([]domain.Finding, 0)
	for rows.Next() {
		f, err := scanFinding(rows.Scan)
		if err != nil {
			return nil, err
		}
		findings = append(findings, f)
	}
	return findings, rows.Err()
}

func scanFinding(scan func(...any) error) (domain.Finding, error) {
	var f domain.Finding
	var status, lastSeen string
	if err := scan(&f.ID, &f.ScanID, &f.SystemID, &f.RuleID, &f.CCI, &f.Severity, &status, &f.Title, &f.Description, &lastSeen); err != nil {
		return domain.Finding{}, err
	}
	f.Status = domain.FindingStatus(status)
	f.LastSeen = parseTime(lastSeen)
	return f, nil
}

// sortFindings orders most severe first, then most recently seen. Severity
// ranking happens here rather than in SQL because the stored severities span
// two taxonomies (CAT tiers and scanner labels).
func sortFindings(findings []domain.Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		ri, rj := domain.SeverityRank(findings[i].Severity), domain.SeverityRank(findings[j].Severity)
		if ri != rj {
			return ri > rj
		}
		return findings[i].LastSeen.After(findings[j].LastSeen)
	})
}
