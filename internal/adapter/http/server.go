package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/crisis-funding-etl/internal/domain"
)

// SnapshotService exposes the current snapshot and the service's readiness.
type SnapshotService interface {
	sharedobs.ReadinessChecker
	Snapshot() *domain.Snapshot
}

// Server exposes health, readiness, metrics, and the read-only snapshot API.
type Server struct {
	httpServer *http.Server
	snapshots  SnapshotService
	logger     *slog.Logger
}

// NewServer creates an HTTP server with probe, metrics and /api/v1 routes.
func NewServer(addr string, snapshots SnapshotService, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		snapshots: snapshots,
		logger:    logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(snapshots))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/v1/snapshot", s.withSnapshot(s.handleSnapshot))
	mux.HandleFunc("GET /api/v1/totals", s.withSnapshot(s.handleTotals))
	mux.HandleFunc("GET /api/v1/crises", s.withSnapshot(s.handleCrises))
	mux.HandleFunc("GET /api/v1/crises/{id}", s.withSnapshot(s.handleCrisis))
	mux.HandleFunc("GET /api/v1/countries/{iso3}", s.withSnapshot(s.handleCountry))
	mux.HandleFunc("GET /api/v1/anomalies", s.withSnapshot(s.handleAnomalies))

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

type snapshotHandler func(w http.ResponseWriter, r *http.Request, snap *domain.Snapshot)

// withSnapshot loads the current snapshot once per request and answers 503
// until the first aggregation has completed.
func (s *Server) withSnapshot(next snapshotHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := s.snapshots.Snapshot()
		if snap == nil {
			writeError(w, http.StatusServiceUnavailable, "no snapshot available yet")
			return
		}
		next(w, r, snap)
	}
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request, snap *domain.Snapshot) {
	sharedobs.WriteJSON(w, http.StatusOK, snap)
}

type totalsResponse struct {
	SnapshotID  string                `json:"snapshot_id"`
	GeneratedAt time.Time             `json:"generated_at"`
	Totals      domain.Totals         `json:"totals"`
	Detection   []domain.MetricResult `json:"detection"`
}

func (s *Server) handleTotals(w http.ResponseWriter, _ *http.Request, snap *domain.Snapshot) {
	sharedobs.WriteJSON(w, http.StatusOK, totalsResponse{
		SnapshotID:  snap.ID,
		GeneratedAt: snap.GeneratedAt,
		Totals:      snap.Totals,
		Detection:   snap.Detection,
	})
}

type crisisSummary struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	MaxNeglectIndex *float64 `json:"max_neglect_index"`
	Countries       []string `json:"countries"`
	Anomalies       int      `json:"anomalies"`
}

func (s *Server) handleCrises(w http.ResponseWriter, _ *http.Request, snap *domain.Snapshot) {
	out := make([]crisisSummary, 0, len(snap.Crises))
	for _, c := range snap.Crises {
		sum := crisisSummary{
			ID:              c.ID,
			Name:            c.Name,
			MaxNeglectIndex: c.MaxNeglectIndex,
			Countries:       make([]string, 0, len(c.Countries)),
		}
		for _, rec := range c.Countries {
			sum.Countries = append(sum.Countries, rec.CountryCode)
			sum.Anomalies += len(rec.Anomalies)
		}
		out = append(out, sum)
	}
	sharedobs.WriteJSON(w, http.StatusOK, out)
}

func (s *Server) handleCrisis(w http.ResponseWriter, r *http.Request, snap *domain.Snapshot) {
	id := r.PathValue("id")
	crisis, ok := snap.Crisis(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown crisis "+id)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, crisis)
}

type countryResponse struct {
	CountryCode string                       `json:"country_code"`
	CountryName string                       `json:"country_name"`
	Records     []domain.CountryCrisisRecord `json:"records"`
}

func (s *Server) handleCountry(w http.ResponseWriter, r *http.Request, snap *domain.Snapshot) {
	code := strings.ToUpper(r.PathValue("iso3"))
	if !domain.IsISO3(code) {
		writeError(w, http.StatusBadRequest, "country must be an ISO3 code")
		return
	}
	records := snap.CountryRecords(code)
	if len(records) == 0 {
		writeError(w, http.StatusNotFound, "unknown country "+code)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, countryResponse{
		CountryCode: code,
		CountryName: records[0].CountryName,
		Records:     records,
	})
}

// handleAnomalies lists flagged countries, optionally filtered by
// ?severity=critical|warning and ?metric=<name>.
func (s *Server) handleAnomalies(w http.ResponseWriter, r *http.Request, snap *domain.Snapshot) {
	severity := domain.AnomalySeverity(r.URL.Query().Get("severity"))
	metric := r.URL.Query().Get("metric")

	out := make([]domain.CountryAnomalies, 0)
	for _, ca := range snap.Anomalies() {
		if severity == "" && metric == "" {
			out = append(out, ca)
			continue
		}
		kept := make([]domain.Anomaly, 0, len(ca.Anomalies))
		for _, a := range ca.Anomalies {
			if (severity == "" || a.Severity == severity) && (metric == "" || a.Metric == metric) {
				kept = append(kept, a)
			}
		}
		if len(kept) > 0 {
			ca.Anomalies = kept
			out = append(out, ca)
		}
	}
	sharedobs.WriteJSON(w, http.StatusOK, out)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	sharedobs.WriteJSON(w, status, map[string]string{"error": msg})
}
