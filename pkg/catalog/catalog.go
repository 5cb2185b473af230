// Package catalog owns the security-control catalog: import with full-replace
// semantics, paged listing and stats. A catalog import is atomic: either the
// new catalog replaces the old one completely or the old one stays intact.
package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"github.com/gowebpki/jcs"

	"github.com/atoforge/atoforge/pkg/domain"
	"github.com/atoforge/atoforge/pkg/store"
)

// Service implements catalog operations on top of the store.
type Service struct {
	store  *store.Store
	logger *slog.Logger
	clock  func() time.Time
}

// New creates a catalog service.
func New(st *store.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, logger: logger.With("component", "catalog"), clock: time.Now}
}

// WithClock overrides the clock for tests.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// source is the JSON shape of a catalog document.
type source struct {
	Version  string          `json:"version"`
	Controls []sourceControl `json:"controls"`
}

type sourceControl struct {
	ControlID   string      `json:"controlId"`
	Name        string      `json:"name"`
	ControlText string      `json:"controlText"`
	Discussion  string      `json:"discussion"`
	CCIs        []sourceCCI `json:"ccis"`
	Related     []string    `json:"related"`
}

type sourceCCI struct {
	CCI        string `json:"cci"`
	Definition string `json:"definition"`
}

// RecordError is one non-fatal parse failure collected during import.
type RecordError struct {
	Index     int    `json:"index"`
	ControlID string `json:"controlId,omitempty"`
	Reason    string `json:"reason"`
}

// ImportResult reports what an import did.
type ImportResult struct {
	Imported int                    `json:"imported"`
	Errors   []RecordError          `json:"errors,omitempty"`
	Revision domain.CatalogRevision `json:"revision"`
}

// Import replaces the whole catalog with the controls in the source document.
// An unreadable source is a validation failure and nothing is written;
// per-record problems are collected into the result and the surviving records
// imported. The previous catalog is deleted and the new one inserted in a
// single transaction.
func (s *Service) Import(ctx context.Context, r io.Reader) (ImportResult, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return ImportResult{}, fmt.Errorf("read catalog source: %w", err)
	}

	var src source
	if err := json.Unmarshal(raw, &src); err != nil {
		return ImportResult{}, domain.Invalid("source", "catalog source is not valid JSON: %v", err)
	}
	if len(src.Controls) == 0 {
		return ImportResult{}, domain.Invalid("controls", "catalog source contains no controls")
	}
	if src.Version != "" {
		if _, err := semver.NewVersion(src.Version); err != nil {
			return ImportResult{}, domain.Invalid("version", "not a valid semantic version: %q", src.Version)
		}
	}

	// Canonicalize before hashing so formatting differences in the source
	// do not change the recorded digest.
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return ImportResult{}, domain.Invalid("source", "cannot canonicalize catalog source: %v", err)
	}
	sum := sha256.Sum256(canonical)

	var result ImportResult
	controls := make([]domain.Control, 0, len(src.Controls))
	seen := make(map[string]struct{}, len(src.Controls))
	relatedBySource := make(map[string][]string)

	for i, sc := range src.Controls {
		if strings.TrimSpace(sc.ControlID) == "" {
			result.Errors = append(result.Errors, RecordError{Index: i, Reason: "missing controlId"})
			continue
		}
		if sc.Name == "" {
			result.Errors = append(result.Errors, RecordError{Index: i, ControlID: sc.ControlID, Reason: "missing name"})
			continue
		}
		if _, dup := seen[sc.ControlID]; dup {
			result.Errors = append(result.Errors, RecordError{Index: i, ControlID: sc.ControlID, Reason: "duplicate controlId"})
			continue
		}
		seen[sc.ControlID] = struct{}{}

		// The family is always derived from the control id so the stored
		// column and the family filter cannot disagree with a source that
		// carries its own family string.
		c := domain.Control{
			ID:          sc.ControlID,
			Family:      FamilyOf(sc.ControlID),
			Name:        sc.Name,
			ControlText: sc.ControlText,
			Discussion:  sc.Discussion,
		}
		for _, cci := range sc.CCIs {
			if cci.CCI == "" {
				result.Errors = append(result.Errors, RecordError{Index: i, ControlID: sc.ControlID, Reason: "empty cci"})
				continue
			}
			c.CCIs = append(c.CCIs, domain.CCI{CCI: cci.CCI, ControlID: sc.ControlID, Definition: cci.Definition})
		}
		controls = append(controls, c)
		relatedBySource[sc.ControlID] = sc.Related
	}
	if len(controls) == 0 {
		return ImportResult{}, domain.Invalid("controls", "no importable controls in catalog source")
	}

	relations := buildRelations(seen, relatedBySource)
	rev := domain.CatalogRevision{
		ID:         uuid.NewString(),
		Version:    src.Version,
		Digest:     "sha256:" + hex.EncodeToString(sum[:]),
		Controls:   len(controls),
		ImportedAt: s.clock(),
	}
	if err := s.store.ReplaceCatalog(ctx, controls, relations, rev); err != nil {
		return ImportResult{}, err
	}

	result.Imported = len(controls)
	result.Revision = rev
	s.logger.Info("catalog imported",
		"controls", result.Imported,
		"recordErrors", len(result.Errors),
		"version", src.Version,
		"digest", rev.Digest)
	return result, nil
}

// buildRelations expands the undirected related edges into directed pairs,
// dropping references to controls that did not survive parsing.
func buildRelations(present map[string]struct{}, relatedBySource map[string][]string) []domain.ControlRelation {
	edges := make(map[[2]string]struct{})
	for controlID, related := range relatedBySource {
		for _, other := range related {
			if other == "" || other == controlID {
				continue
			}
			if _, ok := present[other]; !ok {
				continue
			}
			edges[[2]string{controlID, other}] = struct{}{}
			edges[[2]string{other, controlID}] = struct{}{}
		}
	}
	relations := make([]domain.ControlRelation, 0, len(edges))
	for e := range edges {
		relations = append(relations, domain.ControlRelation{ControlID: e[0], RelatedID: e[1]})
	}
	return relations
}

// FamilyOf derives the control family from a control id: the prefix before
// the first hyphen, so AC-2 belongs to family AC.
func FamilyOf(controlID string) string {
	if i := strings.Index(controlID, "-"); i > 0 {
		return controlID[:i]
	}
	return controlID
}

// ListControls returns one page of the catalog.
func (s *Service) ListControls(ctx context.Context, q store.ListControlsQuery) ([]domain.Control, store.Pagination, error) {
	return s.store.ListControls(ctx, q)
}

// GetControl loads one control with its CCIs.
func (s *Service) GetControl(ctx context.Context, controlID string) (domain.Control, error) {
	return s.store.GetControl(ctx, controlID)
}

// Stats summarizes the active catalog.
func (s *Service) Stats(ctx context.Context) (store.CatalogStats, error) {
	return s.store.CatalogStats(ctx)
}
