package domain

import "fmt"

// FindingStatus is the remediation state of a checklist finding.
type FindingStatus string

const (
	StatusOpen          FindingStatus = "Open"
	StatusNotAFinding   FindingStatus = "NotAFinding"
	StatusNotApplicable FindingStatus = "Not_Applicable"
	StatusNotReviewed   FindingStatus = "Not_Reviewed"
	StatusMitigated     FindingStatus = "Mitigated"
)

// IsValid returns true for a recognized finding status.
func (s FindingStatus) IsValid() bool {
	switch s {
	case StatusOpen, StatusNotAFinding, StatusNotApplicable, StatusNotReviewed, StatusMitigated:
		return true
	default:
		return false
	}
}

// ParseFindingStatus parses a string into a FindingStatus.
func ParseFindingStatus(s string) (FindingStatus, error) {
	st := FindingStatus(s)
	if !st.IsValid() {
		return "", fmt.Errorf("invalid finding status: %s", s)
	}
	return st, nil
}

// ImplementationStatus tracks how far a control's implementation has
// progressed for a package.
type ImplementationStatus string

const (
	ImplImplemented          ImplementationStatus = "Implemented"
	ImplPartiallyImplemented ImplementationStatus = "Partially_Implemented"
	ImplPlanned              ImplementationStatus = "Planned"
	ImplNotImplemented       ImplementationStatus = "Not_Implemented"
)

// IsValid returns true for a recognized implementation status.
func (s ImplementationStatus) IsValid() bool {
	switch s {
	case ImplImplemented, ImplPartiallyImplemented, ImplPlanned, ImplNotImplemented:
		return true
	default:
		return false
	}
}

// ParseImplementationStatus parses a string into an ImplementationStatus.
func ParseImplementationStatus(s string) (ImplementationStatus, error) {
	st := ImplementationStatus(s)
	if !st.IsValid() {
		return "", fmt.Errorf("invalid implementation status: %s", s)
	}
	return st, nil
}

// ComplianceStatus is the assessed compliance verdict for a control, with an
// Official/Unofficial qualifier indicating assessment formality.
type ComplianceStatus string

const (
	CompliantOfficial      ComplianceStatus = "CO"
	CompliantUnofficial    ComplianceStatus = "CU"
	NonCompliantOfficial   ComplianceStatus = "NC_O"
	NonCompliantUnofficial ComplianceStatus = "NC_U"
	NotApplicableOfficial  ComplianceStatus = "NA_O"
	NotApplicableUnofficial ComplianceStatus = "NA_U"
	NotAssessed            ComplianceStatus = "NOT_ASSESSED"
)

// IsValid returns true for a recognized compliance status.
func (s ComplianceStatus) IsValid() bool {
	switch s {
	case CompliantOfficial, CompliantUnofficial,
		NonCompliantOfficial, NonCompliantUnofficial,
		NotApplicableOfficial, NotApplicableUnofficial,
		NotAssessed:
		return true
	default:
		return false
	}
}

// ParseComplianceStatus parses a string into a ComplianceStatus.
func ParseComplianceStatus(s string) (ComplianceStatus, error) {
	st := ComplianceStatus(s)
	if !st.IsValid() {
		return "", fmt.Errorf("invalid compliance status: %s", s)
	}
	return st, nil
}

// TailoringAction records a deviation from the catalog's default baseline.
// The zero value means no tailoring has been recorded.
type TailoringAction string

const (
	TailoringNone     TailoringAction = ""
	TailoringAdded    TailoringAction = "Added"
	TailoringRemoved  TailoringAction = "Removed"
	TailoringModified TailoringAction = "Modified"
)

// IsValid returns true for a recognized tailoring action, including none.
func (a TailoringAction) IsValid() bool {
	switch a {
	case TailoringNone, TailoringAdded, TailoringRemoved, TailoringModified:
		return true
	default:
		return false
	}
}

// BaselineSource records whether an entry came from the catalog default or a
// manual tailoring decision.
type BaselineSource string

const (
	SourceCatalog BaselineSource = "catalog"
	SourceManual  BaselineSource = "manual"
)

// IsValid returns true for a recognized baseline source.
func (s BaselineSource) IsValid() bool {
	return s == SourceCatalog || s == SourceManual
}
