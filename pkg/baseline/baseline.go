// Package baseline owns the per (package, control) compliance record: which
// controls are in the package's baseline, the tailoring history, and the
// implementation and compliance statuses. Entries are created lazily on the
// first tailoring or status update and mutated in place afterwards.
package baseline

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/atoforge/atoforge/pkg/domain"
	"github.com/atoforge/atoforge/pkg/store"
)

// Service implements the baseline state engine.
type Service struct {
	store  *store.Store
	logger *slog.Logger
	clock  func() time.Time
}

// New creates a baseline service.
func New(st *store.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, logger: logger.With("component", "baseline"), clock: time.Now}
}

// WithClock overrides the clock for tests.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// ControlPatch carries a partial baseline-entry update. Nil fields are left
// unchanged.
type ControlPatch struct {
	IncludeInBaseline    *bool   `json:"includeInBaseline,omitempty"`
	BaselineSource       *string `json:"baselineSource,omitempty"`
	TailoringAction      *string `json:"tailoringAction,omitempty"`
	TailoringRationale   *string `json:"tailoringRationale,omitempty"`
	ImplementationStatus *string `json:"implementationStatus,omitempty"`
	ImplementationNotes  *string `json:"implementationNotes,omitempty"`
	ComplianceStatus     *string `json:"complianceStatus,omitempty"`
	ComplianceNotes      *string `json:"complianceNotes,omitempty"`
}

// Summary aggregates a package's baseline.
type Summary struct {
	Total                int `json:"total"`
	Included             int `json:"included"`
	Tailored             int `json:"tailored"`
	Implemented          int `json:"implemented"`
	PartiallyImplemented int `json:"partiallyImplemented"`
	NotImplemented       int `json:"notImplemented"`
}

// Baseline is the full baseline view for a package. StaleControls lists
// entry control ids that no longer exist in the active catalog (possible
// after a catalog re-import); they fail closed rather than silently vanish.
type Baseline struct {
	Controls      []store.BaselineRow `json:"controls"`
	Summary       Summary             `json:"summary"`
	StaleControls []string            `json:"staleControls,omitempty"`
}

// AddToBaseline includes a control in the package's baseline with an Added
// tailoring action. A non-empty rationale is required: every tailoring
// deviation is audit-relevant.
func (s *Service) AddToBaseline(ctx context.Context, packageID int64, controlID, rationale string) (domain.BaselineEntry, error) {
	include := true
	action := string(domain.TailoringAdded)
	return s.UpdateControl(ctx, packageID, controlID, ControlPatch{
		IncludeInBaseline:  &include,
		TailoringAction:    &action,
		TailoringRationale: &rationale,
	})
}

// RemoveFromBaseline excludes a control from the baseline with a Removed
// tailoring action. Like every non-null tailoring action, it requires a
// rationale.
func (s *Service) RemoveFromBaseline(ctx context.Context, packageID int64, controlID, rationale string) (domain.BaselineEntry, error) {
	include := false
	action := string(domain.TailoringRemoved)
	return s.UpdateControl(ctx, packageID, controlID, ControlPatch{
		IncludeInBaseline:  &include,
		TailoringAction:    &action,
		TailoringRationale: &rationale,
	})
}

// UpdateControl upserts the baseline entry for one control, applying the
// patch over the existing entry (or a fresh default when none exists yet).
func (s *Service) UpdateControl(ctx context.Context, packageID int64, controlID string, patch ControlPatch) (domain.BaselineEntry, error) {
	if _, err := s.store.GetPackage(ctx, packageID); err != nil {
		return domain.BaselineEntry{}, err
	}
	if _, err := s.store.GetControl(ctx, controlID); err != nil {
		return domain.BaselineEntry{}, err
	}

	entry, err := s.buildEntry(ctx, packageID, controlID, patch)
	if err != nil {
		return domain.BaselineEntry{}, err
	}
	if err := s.store.UpsertBaselineEntry(ctx, entry); err != nil {
		return domain.BaselineEntry{}, err
	}
	s.logger.Info("baseline entry updated",
		"package", packageID, "control", controlID,
		"included", entry.IncludeInBaseline, "action", string(entry.TailoringAction))
	return entry, nil
}

// BulkUpdate applies the same patch to every listed control as one logical
// operation. All control ids are validated against the active catalog before
// anything is written; any invalid id aborts the whole batch, and the upserts
// run in a single transaction.
func (s *Service) BulkUpdate(ctx context.Context, packageID int64, controlIDs []string, patch ControlPatch) ([]domain.BaselineEntry, error) {
	if _, err := s.store.GetPackage(ctx, packageID); err != nil {
		return nil, err
	}
	if len(controlIDs) == 0 {
		return nil, domain.Invalid("controlIds", "no control ids given")
	}

	known, err := s.store.ControlIDs(ctx)
	if err != nil {
		return nil, err
	}
	for _, id := range controlIDs {
		if _, ok := known[id]; !ok {
			return nil, &store.NotFoundError{Entity: "Control", ID: id}
		}
	}

	entries := make([]domain.BaselineEntry, 0, len(controlIDs))
	for _, id := range controlIDs {
		entry, err := s.buildEntry(ctx, packageID, id, patch)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := s.store.UpsertBaselineEntries(ctx, entries); err != nil {
		return nil, err
	}
	s.logger.Info("bulk baseline update", "package", packageID, "controls", len(controlIDs))
	return entries, nil
}

// buildEntry loads the current entry (or a default) and applies the patch,
// enforcing the tailoring invariant and enum validity.
func (s *Service) buildEntry(ctx context.Context, packageID int64, controlID string, patch ControlPatch) (domain.BaselineEntry, error) {
	entry, found, err := s.store.GetBaselineEntry(ctx, packageID, controlID)
	if err != nil {
		return domain.BaselineEntry{}, err
	}
	if !found {
		entry = domain.BaselineEntry{
			PackageID:            packageID,
			ControlID:            controlID,
			BaselineSource:       domain.SourceCatalog,
			ImplementationStatus: domain.ImplNotImplemented,
			ComplianceStatus:     domain.NotAssessed,
		}
	}

	if patch.IncludeInBaseline != nil {
		entry.IncludeInBaseline = *patch.IncludeInBaseline
	}
	if patch.BaselineSource != nil {
		src := domain.BaselineSource(*patch.BaselineSource)
		if !src.IsValid() {
			return domain.BaselineEntry{}, domain.Invalid("baselineSource", "unrecognized source %q", *patch.BaselineSource)
		}
		entry.BaselineSource = src
	}
	if patch.TailoringAction != nil {
		action := domain.TailoringAction(*patch.TailoringAction)
		if !action.IsValid() {
			return domain.BaselineEntry{}, domain.Invalid("tailoringAction", "unrecognized action %q", *patch.TailoringAction)
		}
		entry.TailoringAction = action
		// Manual tailoring moves the entry off the catalog default.
		if action != domain.TailoringNone {
			entry.BaselineSource = domain.SourceManual
		}
	}
	if patch.TailoringRationale != nil {
		entry.TailoringRationale = *patch.TailoringRationale
	}
	if patch.ImplementationStatus != nil {
		status, err := domain.ParseImplementationStatus(*patch.ImplementationStatus)
		if err != nil {
			return domain.BaselineEntry{}, domain.Invalid("implementationStatus", "unrecognized status %q", *patch.ImplementationStatus)
		}
		entry.ImplementationStatus = status
	}
	if patch.ImplementationNotes != nil {
		entry.ImplementationNotes = *patch.ImplementationNotes
	}
	if patch.ComplianceStatus != nil {
		status, err := domain.ParseComplianceStatus(*patch.ComplianceStatus)
		if err != nil {
			return domain.BaselineEntry{}, domain.Invalid("complianceStatus", "unrecognized status %q", *patch.ComplianceStatus)
		}
		entry.ComplianceStatus = status
	}
	if patch.ComplianceNotes != nil {
		entry.ComplianceNotes = *patch.ComplianceNotes
	}

	if entry.TailoringAction != domain.TailoringNone && strings.TrimSpace(entry.TailoringRationale) == "" {
		return domain.BaselineEntry{}, domain.Invalid("tailoringRationale",
			"tailoring action %q requires a rationale", string(entry.TailoringAction))
	}

	entry.UpdatedAt = s.clock()
	return entry, nil
}

// GetBaseline returns the package's baseline entries joined with their
// controls, the summary, and any entries stranded by a catalog re-import.
// Summary.Total counts the controls in the active catalog, not the entries.
func (s *Service) GetBaseline(ctx context.Context, packageID int64) (Baseline, error) {
	if _, err := s.store.GetPackage(ctx, packageID); err != nil {
		return Baseline{}, err
	}

	rows, err := s.store.BaselineByPackage(ctx, packageID)
	if err != nil {
		return Baseline{}, err
	}
	stale, err := s.store.StaleBaselineControls(ctx, packageID)
	if err != nil {
		return Baseline{}, err
	}
	stats, err := s.store.CatalogStats(ctx)
	if err != nil {
		return Baseline{}, err
	}

	summary := Summary{Total: stats.TotalControls}
	for _, row := range rows {
		e := row.Entry
		if e.IncludeInBaseline {
			summary.Included++
		}
		if e.TailoringAction != domain.TailoringNone {
			summary.Tailored++
		}
		switch e.ImplementationStatus {
		case domain.ImplImplemented:
			summary.Implemented++
		case domain.ImplPartiallyImplemented:
			summary.PartiallyImplemented++
		case domain.ImplNotImplemented:
			summary.NotImplemented++
		}
	}
	return Baseline{Controls: rows, Summary: summary, StaleControls: stale}, nil
}
