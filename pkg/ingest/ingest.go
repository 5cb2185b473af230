// Package ingest accepts raw scan output: checklist findings attached to
// scans, and vulnerability-scanner reports. It normalizes rows into canonical
// records, stamps ownership, and bulk-inserts so readers never observe a
// partial batch.
package ingest

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/atoforge/atoforge/pkg/domain"
	"github.com/atoforge/atoforge/pkg/store"
)

// InvalidRowPolicy decides what happens to malformed rows in a bulk create.
type InvalidRowPolicy int

const (
	// DropInvalidRows silently drops rows with no ruleId. This is deliberate
	// tolerance of malformed checklist exports; the drop count is reported on
	// the result so callers and tests can see it happened.
	DropInvalidRows InvalidRowPolicy = iota
	// RejectOnInvalid fails the whole call when any row has no ruleId.
	RejectOnInvalid
)

// Service implements ingestion operations.
type Service struct {
	store  *store.Store
	logger *slog.Logger
	clock  func() time.Time
}

// New creates an ingestion service.
func New(st *store.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, logger: logger.With("component", "ingest"), clock: time.Now}
}

// WithClock overrides the clock for tests.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// FindingInput is one raw checklist row.
type FindingInput struct {
	RuleID      string `json:"ruleId"`
	CCI         string `json:"cci"`
	Severity    string `json:"severity"`
	Status      string `json:"status"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// CreateFindingsResult is the outcome of a bulk finding create.
type CreateFindingsResult struct {
	Scan    domain.Scan `json:"scan"`
	Dropped int         `json:"dropped"`
}

// CreateScan creates a new checklist import batch for a system.
func (s *Service) CreateScan(ctx context.Context, systemID int64, title, checklistID string) (domain.Scan, error) {
	if title == "" {
		return domain.Scan{}, domain.Invalid("title", "scan title is required")
	}
	if _, err := s.store.GetSystem(ctx, systemID); err != nil {
		return domain.Scan{}, err
	}
	return s.store.CreateScan(ctx, domain.Scan{
		SystemID:    systemID,
		Title:       title,
		ChecklistID: checklistID,
		CreatedAt:   s.clock(),
	})
}

// ListScans returns scans newest first, optionally for one system.
func (s *Service) ListScans(ctx context.Context, systemID *int64) ([]domain.Scan, error) {
	return s.store.ListScans(ctx, systemID)
}

// GetScanWithFindings loads a scan and attaches its findings.
func (s *Service) GetScanWithFindings(ctx context.Context, scanID int64) (domain.Scan, error) {
	scan, err := s.store.GetScan(ctx, scanID)
	if err != nil {
		return domain.Scan{}, err
	}
	findings, err := s.store.FindingsByScan(ctx, scanID)
	if err != nil {
		return domain.Scan{}, err
	}
	scan.Findings = findings
	return scan, nil
}

// CreateFindings normalizes and bulk-inserts checklist rows into a scan.
// Every surviving row is stamped with the scan and system id; rows without a
// ruleId are handled per the policy. The returned scan is reloaded with its
// findings attached.
func (s *Service) CreateFindings(ctx context.Context, scanID, systemID int64, rows []FindingInput, policy InvalidRowPolicy) (CreateFindingsResult, error) {
	scan, err := s.store.GetScan(ctx, scanID)
	if err != nil {
		return CreateFindingsResult{}, err
	}
	if _, err := s.store.GetSystem(ctx, systemID); err != nil {
		return CreateFindingsResult{}, err
	}
	if scan.SystemID != systemID {
		return CreateFindingsResult{}, domain.Invalid("systemId", "scan %d belongs to system %d, not %d", scanID, scan.SystemID, systemID)
	}

	now := s.clock()
	findings := make([]domain.Finding, 0, len(rows))
	dropped := 0
	for i, row := range rows {
		if strings.TrimSpace(row.RuleID) == "" {
			if policy == RejectOnInvalid {
				return CreateFindingsResult{}, domain.Invalid("ruleId", "row %d has no ruleId", i)
			}
			dropped++
			continue
		}
		// An empty status defaults to Not_Reviewed. Any other value is
		// recorded verbatim, like severity; checklist exports carry vendor
		// statuses the enum does not name.
		status := domain.FindingStatus(row.Status)
		if row.Status == "" {
			status = domain.StatusNotReviewed
		}
		findings = append(findings, domain.Finding{
			ScanID:      scanID,
			SystemID:    systemID,
			RuleID:      row.RuleID,
			CCI:         row.CCI,
			Severity:    row.Severity,
			Status:      status,
			Title:       row.Title,
			Description: row.Description,
			LastSeen:    now,
		})
	}

	if err := s.store.InsertFindings(ctx, findings); err != nil {
		return CreateFindingsResult{}, err
	}
	if dropped > 0 {
		s.logger.Warn("dropped malformed finding rows", "scanId", scanID, "dropped", dropped)
	}

	reloaded, err := s.GetScanWithFindings(ctx, scanID)
	if err != nil {
		return CreateFindingsResult{}, err
	}
	return CreateFindingsResult{Scan: reloaded, Dropped: dropped}, nil
}

// FindingPatch carries the caller-supplied fields of a finding update. Nil
// fields are left unchanged.
type FindingPatch struct {
	Status      *string `json:"status,omitempty"`
	Severity    *string `json:"severity,omitempty"`
	CCI         *string `json:"cci,omitempty"`
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
}

// UpdateFinding applies a patch to a finding. lastSeen is always stamped with
// the current time: a status change without a fresh lastSeen is not valid.
func (s *Service) UpdateFinding(ctx context.Context, id int64, patch FindingPatch) (domain.Finding, error) {
	f, err := s.store.GetFinding(ctx, id)
	if err != nil {
		return domain.Finding{}, err
	}
	if patch.Status != nil {
		status, err := domain.ParseFindingStatus(*patch.Status)
		if err != nil {
			return domain.Finding{}, domain.Invalid("status", "unrecognized status %q", *patch.Status)
		}
		f.Status = status
	}
	if patch.Severity != nil {
		f.Severity = *patch.Severity
	}
	if patch.CCI != nil {
		f.CCI = *patch.CCI
	}
	if patch.Title != nil {
		f.Title = *patch.Title
	}
	if patch.Description != nil {
		f.Description = *patch.Description
	}
	f.LastSeen = s.clock()

	if err := s.store.UpdateFinding(ctx, f); err != nil {
		return domain.Finding{}, err
	}
	return f, nil
}

// GetFinding loads one finding.
func (s *Service) GetFinding(ctx context.Context, id int64) (domain.Finding, error) {
	return s.store.GetFinding(ctx, id)
}

// FindingsBySystem returns a system's findings, most severe and most recently
// seen first.
func (s *Service) FindingsBySystem(ctx context.Context, systemID int64) ([]domain.Finding, error) {
	if _, err := s.store.GetSystem(ctx, systemID); err != nil {
		return nil, err
	}
	return s.store.ListFindings(ctx, store.FindingFilter{SystemID: &systemID})
}

// FindingsByGroup returns the findings of all systems in a group.
func (s *Service) FindingsByGroup(ctx context.Context, groupID int64) ([]domain.Finding, error) {
	if _, err := s.store.GetGroup(ctx, groupID); err != nil {
		return nil, err
	}
	return s.store.ListFindings(ctx, store.FindingFilter{GroupID: &groupID})
}

// ListFindings returns findings matching the filter. Severity and status
// filters are exact matches against the stored values.
func (s *Service) ListFindings(ctx context.Context, filter store.FindingFilter) ([]domain.Finding, error) {
	return s.store.ListFindings(ctx, filter)
}

// ListReports returns vulnerability reports, optionally filtered by package
// or system.
func (s *Service) ListReports(ctx context.Context, filter store.ReportFilter) ([]domain.Report, error) {
	return s.store.ListReports(ctx, filter)
}
