// Package domain defines the entities and closed status taxonomies of the
// compliance engine: ATO packages, their systems and groups, the control
// catalog, scan-derived findings, and per-control baseline entries.
package domain

import "time"

// Package is an ATO authorization boundary. Identity is immutable once
// created; lifecycle (creation, soft termination) is owned by external
// workflows, this engine only reads it.
type Package struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
}

// Group is a logical grouping of systems within a package, e.g. production
// versus development.
type Group struct {
	ID        int64  `json:"id"`
	PackageID int64  `json:"packageId"`
	Name      string `json:"name"`
	IsActive  bool   `json:"isActive"`
}

// System is a host or asset under a package, optionally placed in a group.
type System struct {
	ID        int64  `json:"id"`
	PackageID int64  `json:"packageId"`
	GroupID   *int64 `json:"groupId,omitempty"`
	Name      string `json:"name"`
	IsActive  bool   `json:"isActive"`
}

// SystemSummary is a system with its finding and scan counts, as returned by
// group-level aggregations.
type SystemSummary struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	FindingsCount int    `json:"findingsCount"`
	ScansCount    int    `json:"scansCount"`
}

// Control is one catalog entry. The catalog is replaced wholesale on
// re-import, never partially patched.
type Control struct {
	ID          string `json:"controlId"`
	Family      string `json:"family"`
	Name        string `json:"name"`
	ControlText string `json:"controlText,omitempty"`
	Discussion  string `json:"discussion,omitempty"`
	CCIs        []CCI  `json:"ccis,omitempty"`
}

// CCI is a Control Correlation Identifier linking checklist rules to a
// control.
type CCI struct {
	CCI        string `json:"cci"`
	ControlID  string `json:"controlId"`
	Definition string `json:"definition,omitempty"`
}

// ControlRelation is one directed half of an undirected related-control edge.
type ControlRelation struct {
	ControlID string `json:"controlId"`
	RelatedID string `json:"relatedId"`
}

// CatalogRevision records provenance for one catalog import: the source
// version and a canonical content digest.
type CatalogRevision struct {
	ID         string    `json:"id"`
	Version    string    `json:"version"`
	Digest     string    `json:"digest"`
	Controls   int       `json:"controls"`
	ImportedAt time.Time `json:"importedAt"`
}

// Scan is one checklist-style import batch for a system.
type Scan struct {
	ID          int64     `json:"id"`
	SystemID    int64     `json:"systemId"`
	Title       string    `json:"title"`
	ChecklistID string    `json:"checklistId"`
	CreatedAt   time.Time `json:"createdAt"`
	Findings    []Finding `json:"findings,omitempty"`
}

// Finding is a single checklist finding. It belongs to exactly one system and
// one scan and is never reassigned; only Status and LastSeen change on
// rescans.
type Finding struct {
	ID          int64         `json:"id"`
	ScanID      int64         `json:"scanId"`
	SystemID    int64         `json:"systemId"`
	RuleID      string        `json:"ruleId"`
	CCI         string        `json:"cci,omitempty"`
	Severity    string        `json:"severity"`
	Status      FindingStatus `json:"status"`
	Title       string        `json:"title,omitempty"`
	Description string        `json:"description,omitempty"`
	LastSeen    time.Time     `json:"lastSeen"`
}

// Report is one vulnerability-scanner import batch.
type Report struct {
	ID        int64     `json:"id"`
	UUID      string    `json:"uuid"`
	PackageID int64     `json:"packageId"`
	Name      string    `json:"name"`
	ScanDate  time.Time `json:"scanDate"`
	CreatedAt time.Time `json:"createdAt"`
}

// Host is one scanned host inside a report. Hosts are not deduplicated by IP
// across imports; every import creates new rows.
type Host struct {
	ID        int64  `json:"id"`
	ReportID  int64  `json:"reportId"`
	SystemID  *int64 `json:"systemId,omitempty"`
	IP        string `json:"ip"`
	Hostname  string `json:"hostname,omitempty"`
	OS        string `json:"os,omitempty"`
}

// Vulnerability is one scanner finding tied to a report and a host.
type Vulnerability struct {
	ID          int64     `json:"id"`
	ReportID    int64     `json:"reportId"`
	HostID      int64     `json:"hostId"`
	PluginID    string    `json:"pluginId"`
	Name        string    `json:"name"`
	Severity    string    `json:"severity"`
	Status      string    `json:"status,omitempty"`
	CVSS        float64   `json:"cvss,omitempty"`
	Port        int       `json:"port,omitempty"`
	Protocol    string    `json:"protocol,omitempty"`
	Description string    `json:"description,omitempty"`
	LastSeen    time.Time `json:"lastSeen"`
}

// BaselineEntry is the per (package, control) compliance record. Unique on
// that pair; updates are idempotent upserts.
type BaselineEntry struct {
	ID                   int64                `json:"id"`
	PackageID            int64                `json:"packageId"`
	ControlID            string               `json:"controlId"`
	IncludeInBaseline    bool                 `json:"includeInBaseline"`
	BaselineSource       BaselineSource       `json:"baselineSource"`
	TailoringAction      TailoringAction      `json:"tailoringAction,omitempty"`
	TailoringRationale   string               `json:"tailoringRationale,omitempty"`
	ImplementationStatus ImplementationStatus `json:"implementationStatus"`
	ImplementationNotes  string               `json:"implementationNotes,omitempty"`
	ComplianceStatus     ComplianceStatus     `json:"complianceStatus"`
	ComplianceNotes      string               `json:"complianceNotes,omitempty"`
	UpdatedAt            time.Time            `json:"updatedAt"`
}
