package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/atoforge/atoforge/pkg/baseline"
	"github.com/atoforge/atoforge/pkg/domain"
	"github.com/atoforge/atoforge/pkg/ingest"
	"github.com/atoforge/atoforge/pkg/store"
)

const maxBodyBytes = 16 << 20 // catalog and report imports can be large

// pathID parses a numeric path segment. Non-numeric ids are validation
// failures, not lookups that happen to miss.
func pathID(r *http.Request, name string) (int64, error) {
	raw := r.PathValue(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, domain.Invalid(name, "must be a positive integer, got %q", raw)
	}
	return id, nil
}

func queryInt64(r *http.Request, name string) (*int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, domain.Invalid(name, "must be an integer, got %q", raw)
	}
	return &id, nil
}

func queryString(r *http.Request, name string) *string {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil
	}
	return &raw
}

// --- Catalog ---

func (s *Server) handleCatalogImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	ctx, done := s.trackImport(r.Context(), "catalog.import")
	result, err := s.catalog.Import(ctx, r.Body)
	done(err)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleListControls(w http.ResponseWriter, r *http.Request) {
	q := store.ListControlsQuery{
		Search: r.URL.Query().Get("search"),
		Family: r.URL.Query().Get("family"),
	}
	q.Page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	q.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))

	controls, pagination, err := s.catalog.ListControls(r.Context(), q)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"controls":   controls,
		"pagination": pagination,
	})
}

func (s *Server) handleGetControl(w http.ResponseWriter, r *http.Request) {
	control, err := s.catalog.GetControl(r.Context(), r.PathValue("controlId"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, control)
}

func (s *Server) handleCatalogStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.catalog.Stats(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// --- Findings ---

func (s *Server) handleListFindings(w http.ResponseWriter, r *http.Request) {
	systemID, err := queryInt64(r, "systemId")
	if err != nil {
		writeServiceError(w, err)
		return
	}
	groupID, err := queryInt64(r, "groupId")
	if err != nil {
		writeServiceError(w, err)
		return
	}
	filter := store.FindingFilter{
		Severity: queryString(r, "severity"),
		Status:   queryString(r, "status"),
		SystemID: systemID,
		GroupID:  groupID,
	}
	findings, err := s.ingest.ListFindings(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, findings)
}

func (s *Server) handleGetFinding(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, err)
		return
	}
	finding, err := s.ingest.GetFinding(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, finding)
}

func (s *Server) handleUpdateFinding(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var patch ingest.FindingPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	finding, err := s.ingest.UpdateFinding(r.Context(), id, patch)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, finding)
}

func (s *Server) handleFindingsBySystem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, err)
		return
	}
	findings, err := s.ingest.FindingsBySystem(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, findings)
}

func (s *Server) handleFindingsByGroup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, err)
		return
	}
	findings, err := s.ingest.FindingsByGroup(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, findings)
}

// --- Scans ---

func (s *Server) handleListScans(w http.ResponseWriter, r *http.Request) {
	systemID, err := queryInt64(r, "systemId")
	if err != nil {
		writeServiceError(w, err)
		return
	}
	scans, err := s.ingest.ListScans(r.Context(), systemID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scans)
}

func (s *Server) handleGetScan(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, err)
		return
	}
	scan, err := s.ingest.GetScanWithFindings(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scan)
}

func (s *Server) handleCreateScan(w http.ResponseWriter, r *http.Request) {
	systemID, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, err)
		return
	}
	var req struct {
		Title       string `json:"title"`
		ChecklistID string `json:"checklistId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	scan, err := s.ingest.CreateScan(r.Context(), systemID, req.Title, req.ChecklistID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, scan)
}

func (s *Server) handleCreateFindings(w http.ResponseWriter, r *http.Request) {
	scanID, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req struct {
		SystemID int64                 `json:"systemId"`
		Findings []ingest.FindingInput `json:"findings"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	result, err := s.ingest.CreateFindings(r.Context(), scanID, req.SystemID, req.Findings, ingest.DropInvalidRows)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// --- Vulnerability reports ---

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	packageID, err := queryInt64(r, "packageId")
	if err != nil {
		writeServiceError(w, err)
		return
	}
	systemID, err := queryInt64(r, "systemId")
	if err != nil {
		writeServiceError(w, err)
		return
	}
	reports, err := s.ingest.ListReports(r.Context(), store.ReportFilter{PackageID: packageID, SystemID: systemID})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reports)
}

func (s *Server) handleImportNessus(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		WriteBadRequest(w, "Cannot read request body")
		return
	}
	ctx, done := s.trackImport(r.Context(), "report.import")
	result, err := s.ingest.ImportNessus(ctx, raw)
	done(err)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// --- Baseline ---

func (s *Server) handleGetBaseline(w http.ResponseWriter, r *http.Request) {
	packageID, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, err)
		return
	}
	result, err := s.baseline.GetBaseline(r.Context(), packageID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleUpdateBaselineControl(w http.ResponseWriter, r *http.Request) {
	packageID, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, err)
		return
	}
	var patch baseline.ControlPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	entry, err := s.baseline.UpdateControl(r.Context(), packageID, r.PathValue("controlId"), patch)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleBulkUpdateBaseline(w http.ResponseWriter, r *http.Request) {
	packageID, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, err)
		return
	}
	var req struct {
		ControlIDs []string              `json:"controlIds"`
		Patch      baseline.ControlPatch `json:"patch"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	entries, err := s.baseline.BulkUpdate(r.Context(), packageID, req.ControlIDs, req.Patch)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": len(entries), "entries": entries})
}

func (s *Server) handleControlStatus(w http.ResponseWriter, r *http.Request) {
	packageID, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, err)
		return
	}
	status, err := s.resolver.ControlStatus(r.Context(), packageID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// --- Metrics ---

func (s *Server) handleGroupMetrics(w http.ResponseWriter, r *http.Request) {
	groupID, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, err)
		return
	}
	m, err := s.metrics.GroupVulnerabilityMetrics(r.Context(), groupID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}
