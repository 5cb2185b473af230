// Package resolver correlates scan findings to catalog controls through CCIs
// and rolls up per-control status across all systems of a package.
package resolver

import (
	"context"
	"log/slog"

	"github.com/atoforge/atoforge/pkg/domain"
	"github.com/atoforge/atoforge/pkg/store"
)

// Service computes per-control rollups.
type Service struct {
	store  *store.Store
	logger *slog.Logger
}

// New creates a resolver.
func New(st *store.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, logger: logger.With("component", "resolver")}
}

// ControlRollup aggregates a package's findings for one control. The
// severity buckets classify every finding's impact regardless of its
// remediation status; only OpenFindings is status-sensitive.
type ControlRollup struct {
	Status          domain.FindingStatus `json:"status"`
	OpenFindings    int                  `json:"openFindings"`
	TotalFindings   int                  `json:"totalFindings"`
	CatIOpen        int                  `json:"catIOpen"`
	CatIIOpen       int                  `json:"catIIOpen"`
	CatIIIOpen      int                  `json:"catIIIOpen"`
	UnknownSeverity int                  `json:"unknownSeverity"`
	SystemsAffected int                  `json:"systemsAffected"`

	systems map[int64]struct{}
}

// UnmappedFinding is a finding whose CCI does not resolve to any control in
// the active catalog. Stale references fail closed: they are reported here,
// never silently matched to nothing.
type UnmappedFinding struct {
	FindingID int64  `json:"findingId"`
	CCI       string `json:"cci"`
}

// PackageControlStatus is the resolver's output for one package.
type PackageControlStatus struct {
	Controls        map[string]*ControlRollup `json:"controls"`
	ControlNotFound []UnmappedFinding         `json:"controlNotFound,omitempty"`
}

// ControlStatus resolves all findings of a package's systems to controls and
// aggregates them per control. Findings carrying no CCI correlate to zero
// controls, which is an ordinary state; findings carrying a CCI absent from
// the active catalog are reported under ControlNotFound.
func (s *Service) ControlStatus(ctx context.Context, packageID int64) (PackageControlStatus, error) {
	if _, err := s.store.GetPackage(ctx, packageID); err != nil {
		return PackageControlStatus{}, err
	}

	systems, err := s.store.SystemsByPackage(ctx, packageID)
	if err != nil {
		return PackageControlStatus{}, err
	}
	systemIDs := make([]int64, len(systems))
	for i, sys := range systems {
		systemIDs[i] = sys.ID
	}

	findings, err := s.store.FindingsBySystems(ctx, systemIDs)
	if err != nil {
		return PackageControlStatus{}, err
	}
	cciIndex, err := s.store.CCIToControls(ctx)
	if err != nil {
		return PackageControlStatus{}, err
	}

	result := PackageControlStatus{Controls: make(map[string]*ControlRollup)}
	for _, f := range findings {
		if f.CCI == "" {
			continue
		}
		controlIDs, ok := cciIndex[f.CCI]
		if !ok {
			result.ControlNotFound = append(result.ControlNotFound, UnmappedFinding{FindingID: f.ID, CCI: f.CCI})
			continue
		}
		for _, controlID := range controlIDs {
			rollup := result.Controls[controlID]
			if rollup == nil {
				rollup = &ControlRollup{systems: make(map[int64]struct{})}
				result.Controls[controlID] = rollup
			}
			rollup.add(f)
		}
	}

	for _, rollup := range result.Controls {
		rollup.finalize()
	}
	return result, nil
}

func (r *ControlRollup) add(f domain.Finding) {
	r.TotalFindings++
	if f.Status == domain.StatusOpen {
		r.OpenFindings++
	}
	switch domain.NormalizeSeverity(f.Severity) {
	case domain.BucketCatI:
		r.CatIOpen++
	case domain.BucketCatII:
		r.CatIIOpen++
	case domain.BucketCatIII:
		r.CatIIIOpen++
	default:
		r.UnknownSeverity++
	}
	r.systems[f.SystemID] = struct{}{}
}

// finalize derives the per-control status and the distinct-system count.
// A control with any open finding is Open; with findings but none open it is
// NotAFinding; Not_Reviewed is unreachable here since a rollup only exists
// once a finding contributed to it.
func (r *ControlRollup) finalize() {
	r.SystemsAffected = len(r.systems)
	switch {
	case r.OpenFindings > 0:
		r.Status = domain.StatusOpen
	default:
		r.Status = domain.StatusNotAFinding
	}
	r.systems = nil
}
