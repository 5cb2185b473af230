package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/atoforge/atoforge/pkg/domain"
)

// CreateScan inserts a scan record and returns it with its assigned id.
func (s *Store) CreateScan(ctx context.Context, scan domain.Scan) (domain.Scan, error) {
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO scans (system_id, title, checklist_id, created_at) VALUES ($1, $2, $3, $4) RETURNING id`,
		scan.SystemID, scan.Title, scan.ChecklistID, formatTime(scan.CreatedAt)).Scan(&scan.ID)
	if err != nil {
		return domain.Scan{}, fmt.Errorf("create scan: %w", err)
	}
	return scan, nil
}

// GetScan loads a scan without its findings.
func (s *Store) GetScan(ctx context.Context, id int64) (domain.Scan, error) {
	var scan domain.Scan
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, system_id, title, checklist_id, created_at FROM scans WHERE id = $1`, id).
		Scan(&scan.ID, &scan.SystemID, &scan.Title, &scan.ChecklistID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Scan{}, notFound("Scan", id)
	}
	if err != nil {
		return domain.Scan{}, fmt.Errorf("get scan: %w", err)
	}
	scan.CreatedAt = parseTime(createdAt)
	return scan, nil
}

// ListScans returns scans newest first, optionally restricted to one system.
func (s *Store) ListScans(ctx context.Context, systemID *int64) ([]domain.Scan, error) {
	query := `SELECT id, system_id, title, checklist_id, created_at FROM scans`
	var args []any
	if systemID != nil {
		query += ` WHERE system_id = $1`
		args = append(args, *systemID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list scans: %w", err)
	}
	defer func() { _ = rows.Close() }()

	scans := make([]domain.Scan, 0)
	for rows.Next() {
		var scan domain.Scan
		var createdAt string
		if err := rows.Scan(&scan.ID, &scan.SystemID, &scan.Title, &scan.ChecklistID, &createdAt); err != nil {
			return nil, err
		}
		scan.CreatedAt = parseTime(createdAt)
		scans = append(scans, scan)
	}
	return scans, rows.Err()
}

// findingInsertChunk bounds the rows per multi-row INSERT. At 9 bind
// variables per row this stays well under the sqlite and postgres
// placeholder limits even for multi-thousand-row checklists.
const findingInsertChunk = 500

// InsertFindings bulk-inserts findings inside one transaction so readers
// never observe a partially-inserted batch. Large batches are split into
// chunked statements within that transaction.
func (s *Store) InsertFindings(ctx context.Context, findings []domain.Finding) error {
	if len(findings) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for start := 0; start < len(findings); start += findingInsertChunk {
			end := start + findingInsertChunk
			if end > len(findings) {
				end = len(findings)
			}
			if err := insertFindingChunk(ctx, tx, findings[start:end]); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertFindingChunk(ctx context.Context, tx *sql.Tx, findings []domain.Finding) error {
	var sb strings.Builder
	sb.WriteString(`INSERT INTO findings (scan_id, system_id, rule_id, cci, severity, status, title, description, last_seen) VALUES `)
	args := make([]any, 0, len(findings)*9)
	for i, f := range findings {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 9
		sb.WriteString(fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9))
		args = append(args, f.ScanID, f.SystemID, f.RuleID, f.CCI, f.Severity, string(f.Status), f.Title, f.Description, formatTime(f.LastSeen))
	}
	if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("bulk insert findings: %w", err)
	}
	return nil
}

// FindingsByScan returns a scan's findings in insertion order.
func (s *Store) FindingsByScan(ctx context.Context, scanID int64) ([]domain.Finding, error) {
	return s.queryFindings(ctx,
		findingColumns+` FROM findings WHERE scan_id = $1 ORDER BY id`, scanID)
}

// LatestScanCreatedAt returns the created_at of the most recent scan among
// the given systems, or nil when none exists.
func (s *Store) LatestScanCreatedAt(ctx context.Context, systemIDs []int64) (*time.Time, error) {
	if len(systemIDs) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(systemIDs))
	args := make([]any, len(systemIDs))
	for i, id := range systemIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	query := fmt.Sprintf(
		`SELECT created_at FROM scans WHERE system_id IN (%s) ORDER BY created_at DESC LIMIT 1`,
		strings.Join(placeholders, ", "))

	var createdAt string
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest scan date: %w", err)
	}
	t := parseTime(createdAt)
	return &t, nil
}
