package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/atoforge/atoforge/pkg/baseline"
	"github.com/atoforge/atoforge/pkg/catalog"
	"github.com/atoforge/atoforge/pkg/ingest"
	"github.com/atoforge/atoforge/pkg/metrics"
	"github.com/atoforge/atoforge/pkg/resolver"
)

// Server wires the engine's services to the HTTP surface.
type Server struct {
	catalog   *catalog.Service
	ingest    *ingest.Service
	resolver  *resolver.Service
	baseline  *baseline.Service
	metrics   *metrics.Service
	logger    *slog.Logger
	limiter   *RateLimiter
	telemetry Telemetry
}

// NewServer creates the HTTP server facade.
func NewServer(cat *catalog.Service, ing *ingest.Service, res *resolver.Service, base *baseline.Service, met *metrics.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		catalog:  cat,
		ingest:   ing,
		resolver: res,
		baseline: base,
		metrics:  met,
		logger:   logger.With("component", "api"),
		limiter:  NewRateLimiter(50, 100),
	}
}

// WithTelemetry attaches the observability provider. Requests then carry
// spans and RED samples, and imports are tracked start to finish.
func (s *Server) WithTelemetry(tel Telemetry) *Server {
	s.telemetry = tel
	return s
}

// Close releases background resources, currently the limiter's sweeper.
func (s *Server) Close() {
	s.limiter.Stop()
}

// trackImport opens an import span when telemetry is configured. The
// returned func must be called with the operation's final error.
func (s *Server) trackImport(ctx context.Context, name string) (context.Context, func(error)) {
	if s.telemetry == nil {
		return ctx, func(error) {}
	}
	return s.telemetry.TrackImport(ctx, name)
}

// Routes builds the full handler chain.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("POST /api/catalog/import", s.handleCatalogImport)
	mux.HandleFunc("GET /api/catalog/controls", s.handleListControls)
	mux.HandleFunc("GET /api/catalog/controls/{controlId}", s.handleGetControl)
	mux.HandleFunc("GET /api/catalog/stats", s.handleCatalogStats)

	mux.HandleFunc("GET /api/findings", s.handleListFindings)
	mux.HandleFunc("GET /api/findings/{id}", s.handleGetFinding)
	mux.HandleFunc("PATCH /api/findings/{id}", s.handleUpdateFinding)
	mux.HandleFunc("GET /api/systems/{id}/findings", s.handleFindingsBySystem)
	mux.HandleFunc("GET /api/groups/{id}/findings", s.handleFindingsByGroup)

	mux.HandleFunc("GET /api/scans", s.handleListScans)
	mux.HandleFunc("GET /api/scans/{id}", s.handleGetScan)
	mux.HandleFunc("POST /api/systems/{id}/scans", s.handleCreateScan)
	mux.HandleFunc("POST /api/scans/{id}/findings", s.handleCreateFindings)

	mux.HandleFunc("GET /api/reports", s.handleListReports)
	mux.HandleFunc("POST /api/reports/import", s.handleImportNessus)

	mux.HandleFunc("GET /api/packages/{id}/baseline", s.handleGetBaseline)
	mux.HandleFunc("PATCH /api/packages/{id}/baseline/controls/{controlId}", s.handleUpdateBaselineControl)
	mux.HandleFunc("POST /api/packages/{id}/baseline/bulk", s.handleBulkUpdateBaseline)
	mux.HandleFunc("GET /api/packages/{id}/control-status", s.handleControlStatus)

	mux.HandleFunc("GET /api/groups/{id}/vulnerability-metrics", s.handleGroupMetrics)

	var handler http.Handler = mux
	handler = s.limiter.Middleware(handler)
	handler = TelemetryMiddleware(s.telemetry)(handler)
	handler = LoggingMiddleware(s.logger)(handler)
	handler = RequestIDMiddleware(handler)
	return handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
