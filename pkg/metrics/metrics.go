// Package metrics computes group-level vulnerability rollups on read. Nothing
// is cached or incrementally maintained: every call recomputes from the
// store, a deliberate simplicity/cost tradeoff that becomes a full scan per
// request on very large groups.
package metrics

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/atoforge/atoforge/pkg/domain"
	"github.com/atoforge/atoforge/pkg/store"
)

// Service computes vulnerability metrics.
type Service struct {
	store  *store.Store
	logger *slog.Logger
}

// New creates a metrics service.
func New(st *store.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, logger: logger.With("component", "metrics")}
}

// GroupMetrics is the vulnerability rollup for one group.
//
// ClosedFindings counts strictly the NotAFinding status; Not_Applicable and
// Mitigated findings are counted in neither Open nor Closed, only in the
// severity buckets. ComplianceRate deliberately uses a broader definition:
// every non-open finding counts as compliant, so it is NOT closed/total.
// The two notions are preserved as observed, not reconciled.
type GroupMetrics struct {
	TotalFindings       int                    `json:"totalFindings"`
	OpenFindings        int                    `json:"openFindings"`
	ClosedFindings      int                    `json:"closedFindings"`
	CatISeverity        int                    `json:"catISeverity"`
	CatIISeverity       int                    `json:"catIISeverity"`
	CatIIISeverity      int                    `json:"catIIISeverity"`
	UnknownSeverity     int                    `json:"unknownSeverity"`
	ComplianceRate      int                    `json:"complianceRate"`
	SystemsWithFindings int                    `json:"systemsWithFindings"`
	LastScanDate        *time.Time             `json:"lastScanDate"`
	Systems             []domain.SystemSummary `json:"systems"`
}

// GroupVulnerabilityMetrics aggregates all findings of a group's systems.
// The Systems slice preserves the store's system order.
func (s *Service) GroupVulnerabilityMetrics(ctx context.Context, groupID int64) (GroupMetrics, error) {
	if _, err := s.store.GetGroup(ctx, groupID); err != nil {
		return GroupMetrics{}, err
	}

	summaries, err := s.store.SystemSummariesByGroup(ctx, groupID)
	if err != nil {
		return GroupMetrics{}, err
	}
	systemIDs := make([]int64, len(summaries))
	for i, sum := range summaries {
		systemIDs[i] = sum.ID
	}

	findings, err := s.store.FindingsBySystems(ctx, systemIDs)
	if err != nil {
		return GroupMetrics{}, err
	}
	lastScan, err := s.store.LatestScanCreatedAt(ctx, systemIDs)
	if err != nil {
		return GroupMetrics{}, err
	}

	m := Compute(findings)
	m.LastScanDate = lastScan
	m.Systems = summaries
	for _, sum := range summaries {
		if sum.FindingsCount > 0 {
			m.SystemsWithFindings++
		}
	}
	return m, nil
}

// Compute rolls up the status and severity counters for a set of findings.
// Split out so the numeric properties are testable without a store.
func Compute(findings []domain.Finding) GroupMetrics {
	var m GroupMetrics
	m.TotalFindings = len(findings)
	for _, f := range findings {
		switch f.Status {
		case domain.StatusOpen:
			m.OpenFindings++
		case domain.StatusNotAFinding:
			m.ClosedFindings++
		}
		switch domain.NormalizeSeverity(f.Severity) {
		case domain.BucketCatI:
			m.CatISeverity++
		case domain.BucketCatII:
			m.CatIISeverity++
		case domain.BucketCatIII:
			m.CatIIISeverity++
		default:
			m.UnknownSeverity++
		}
	}
	m.ComplianceRate = complianceRate(m.TotalFindings, m.OpenFindings)
	return m
}

func complianceRate(total, open int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(total-open) / float64(total) * 100))
}
