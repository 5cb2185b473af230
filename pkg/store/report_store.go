package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/atoforge/atoforge/pkg/domain"
)

// HostWithVulnerabilities pairs a host row with the vulnerabilities the
// import attributed to it.
type HostWithVulnerabilities struct {
	Host            domain.Host
	Vulnerabilities []domain.Vulnerability
}

// ReportFilter narrows a report listing.
type ReportFilter struct {
	PackageID *int64
	SystemID  *int64
}

// CreateReportBundle creates a report, its hosts and their vulnerabilities in
// one transaction. A failure anywhere rolls back everything written in this
// call.
func (s *Store) CreateReportBundle(ctx context.Context, report domain.Report, hosts []HostWithVulnerabilities) (domain.Report, int, int, error) {
	var hostsCreated, vulnsCreated int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`INSERT INTO reports (uuid, package_id, name, scan_date, created_at) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			report.UUID, report.PackageID, report.Name, formatTime(report.ScanDate), formatTime(report.CreatedAt)).
			Scan(&report.ID)
		if err != nil {
			return fmt.Errorf("insert report: %w", err)
		}

		for _, hv := range hosts {
			h := hv.Host
			h.ReportID = report.ID
			var systemID any
			if h.SystemID != nil {
				systemID = *h.SystemID
			}
			err := tx.QueryRowContext(ctx,
				`INSERT INTO hosts (report_id, system_id, ip, hostname, os) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
				h.ReportID, systemID, h.IP, h.Hostname, h.OS).Scan(&h.ID)
			if err != nil {
				return fmt.Errorf("insert host %s: %w", h.IP, err)
			}
			hostsCreated++

			if len(hv.Vulnerabilities) == 0 {
				continue
			}
			var sb strings.Builder
			sb.WriteString(`INSERT INTO vulnerabilities (report_id, host_id, plugin_id, name, severity, status, cvss, port, protocol, description, last_seen) VALUES `)
			args := make([]any, 0, len(hv.Vulnerabilities)*11)
			for i, v := range hv.Vulnerabilities {
				if i > 0 {
					sb.WriteString(", ")
				}
				base := i * 11
				sb.WriteString(fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
					base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10, base+11))
				args = append(args, report.ID, h.ID, v.PluginID, v.Name, v.Severity, v.Status, v.CVSS, v.Port, v.Protocol, v.Description, formatTime(v.LastSeen))
			}
			if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
				return fmt.Errorf("bulk insert vulnerabilities: %w", err)
			}
			vulnsCreated += len(hv.Vulnerabilities)
		}
		return nil
	})
	if err != nil {
		return domain.Report{}, 0, 0, err
	}
	return report, hostsCreated, vulnsCreated, nil
}

// ListReports returns reports newest first, optionally filtered by package or
// by a system one of their hosts was matched to.
func (s *Store) ListReports(ctx context.Context, filter ReportFilter) ([]domain.Report, error) {
	var where []string
	var args []any
	if filter.PackageID != nil {
		args = append(args, *filter.PackageID)
		where = append(where, fmt.Sprintf("package_id = $%d", len(args)))
	}
	if filter.SystemID != nil {
		args = append(args, *filter.SystemID)
		where = append(where, fmt.Sprintf("id IN (SELECT report_id FROM hosts WHERE system_id = $%d)", len(args)))
	}

	query := `SELECT id, uuid, package_id, name, scan_date, created_at FROM reports`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer func() { _ = rows.Close() }()

	reports := make([]domain.Report, 0)
	for rows.Next() {
		var r domain.Report
		var scanDate, createdAt string
		if err := rows.Scan(&r.ID, &r.UUID, &r.PackageID, &r.Name, &scanDate, &createdAt); err != nil {
			return nil, err
		}
		r.ScanDate = parseTime(scanDate)
		r.CreatedAt = parseTime(createdAt)
		reports = append(reports, r)
	}
	return reports, rows.Err()
}
