package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/atoforge/atoforge/pkg/domain"
	"github.com/atoforge/atoforge/pkg/store"
)

// nessusSchema validates the import payload at the boundary. Nothing crosses
// into the typed import path without passing it.
const nessusSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["report", "hosts", "vulnerabilities"],
	"properties": {
		"report": {
			"type": "object",
			"required": ["name", "packageId"],
			"properties": {
				"name": {"type": "string", "minLength": 1},
				"packageId": {"type": "integer", "minimum": 1},
				"scanDate": {"type": "string"}
			}
		},
		"hosts": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["ip"],
				"properties": {
					"ip": {"type": "string", "minLength": 1},
					"hostname": {"type": "string"},
					"os": {"type": "string"},
					"systemId": {"type": "integer", "minimum": 1}
				}
			}
		},
		"vulnerabilities": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["pluginId", "severity", "hostIp"],
				"properties": {
					"pluginId": {"type": "string", "minLength": 1},
					"name": {"type": "string"},
					"severity": {"type": "string", "minLength": 1},
					"status": {"type": "string"},
					"hostIp": {"type": "string", "minLength": 1},
					"cvss": {"type": "number"},
					"port": {"type": "integer"},
					"protocol": {"type": "string"},
					"description": {"type": "string"}
				}
			}
		}
	}
}`

var compiledNessusSchema = jsonschema.MustCompileString("nessus-import.schema.json", nessusSchema)

// NessusPayload is the typed shape of a vulnerability-report import.
type NessusPayload struct {
	Report          NessusReportMeta      `json:"report"`
	Hosts           []NessusHost          `json:"hosts"`
	Vulnerabilities []NessusVulnerability `json:"vulnerabilities"`
}

// NessusReportMeta describes the report batch itself.
type NessusReportMeta struct {
	Name      string `json:"name"`
	PackageID int64  `json:"packageId"`
	ScanDate  string `json:"scanDate"`
}

// NessusHost is one scanned host in the payload.
type NessusHost struct {
	IP       string `json:"ip"`
	Hostname string `json:"hostname"`
	OS       string `json:"os"`
	SystemID *int64 `json:"systemId"`
}

// NessusVulnerability is one scanner finding in the payload, attributed to a
// host by IP.
type NessusVulnerability struct {
	PluginID    string  `json:"pluginId"`
	Name        string  `json:"name"`
	Severity    string  `json:"severity"`
	Status      string  `json:"status"`
	HostIP      string  `json:"hostIp"`
	CVSS        float64 `json:"cvss"`
	Port        int     `json:"port"`
	Protocol    string  `json:"protocol"`
	Description string  `json:"description"`
}

// ImportReportResult reports creation counts, not the inserted rows.
type ImportReportResult struct {
	Report                 domain.Report `json:"report"`
	HostsCreated           int           `json:"hostsCreated"`
	VulnerabilitiesCreated int           `json:"vulnerabilitiesCreated"`
}

// ImportNessus validates and imports one vulnerability report. The report,
// its hosts and their vulnerabilities are created in a single transaction:
// the call is all-or-nothing. Hosts are never deduplicated against prior
// imports; every import creates new host rows. Each vulnerability is
// attributed to the first host in this batch whose IP matches its hostIp.
func (s *Service) ImportNessus(ctx context.Context, raw json.RawMessage) (ImportReportResult, error) {
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return ImportReportResult{}, domain.Invalid("payload", "not valid JSON: %v", err)
	}
	if err := compiledNessusSchema.Validate(generic); err != nil {
		return ImportReportResult{}, domain.Invalid("payload", "schema validation failed: %v", err)
	}

	var payload NessusPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return ImportReportResult{}, domain.Invalid("payload", "cannot decode payload: %v", err)
	}
	if _, err := s.store.GetPackage(ctx, payload.Report.PackageID); err != nil {
		return ImportReportResult{}, err
	}

	scanDate := s.clock()
	if payload.Report.ScanDate != "" {
		parsed, err := time.Parse(time.RFC3339, payload.Report.ScanDate)
		if err != nil {
			return ImportReportResult{}, domain.Invalid("report.scanDate", "not an RFC 3339 timestamp: %q", payload.Report.ScanDate)
		}
		scanDate = parsed
	}

	// First-match-wins host index within this batch only.
	hostIndex := make(map[string]int, len(payload.Hosts))
	bundles := make([]store.HostWithVulnerabilities, len(payload.Hosts))
	for i, h := range payload.Hosts {
		bundles[i] = store.HostWithVulnerabilities{Host: domain.Host{
			IP:       h.IP,
			Hostname: h.Hostname,
			OS:       h.OS,
			SystemID: h.SystemID,
		}}
		key := strings.TrimSpace(h.IP)
		if _, exists := hostIndex[key]; !exists {
			hostIndex[key] = i
		}
	}

	now := s.clock()
	for i, v := range payload.Vulnerabilities {
		idx, ok := hostIndex[strings.TrimSpace(v.HostIP)]
		if !ok {
			return ImportReportResult{}, domain.Invalid("vulnerabilities",
				"row %d references host %q which is not in this batch", i, v.HostIP)
		}
		bundles[idx].Vulnerabilities = append(bundles[idx].Vulnerabilities, domain.Vulnerability{
			PluginID:    v.PluginID,
			Name:        v.Name,
			Severity:    v.Severity,
			Status:      v.Status,
			CVSS:        v.CVSS,
			Port:        v.Port,
			Protocol:    v.Protocol,
			Description: v.Description,
			LastSeen:    now,
		})
	}

	report := domain.Report{
		UUID:      uuid.NewString(),
		PackageID: payload.Report.PackageID,
		Name:      payload.Report.Name,
		ScanDate:  scanDate,
		CreatedAt: now,
	}
	created, hosts, vulns, err := s.store.CreateReportBundle(ctx, report, bundles)
	if err != nil {
		return ImportReportResult{}, fmt.Errorf("import report: %w", err)
	}

	s.logger.Info("vulnerability report imported",
		"report", created.ID,
		"package", created.PackageID,
		"hosts", hosts,
		"vulnerabilities", vulns)
	return ImportReportResult{Report: created, HostsCreated: hosts, VulnerabilitiesCreated: vulns}, nil
}
