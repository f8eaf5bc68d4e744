package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nicktill/tinylens/pkg/httpx"
	"github.com/nicktill/tinylens/pkg/server/monitor"
	"github.com/nicktill/tinylens/pkg/storage"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

var startTime = time.Now()

// StorageUsage represents current storage usage stats.
type StorageUsage struct {
	UsedBytes int64          `json:"used_bytes"`
	MaxBytes  int64          `json:"max_bytes"`
	Documents *storage.Stats `json:"documents,omitempty"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string           `json:"status"`
	Version string           `json:"version"`
	Uptime  string           `json:"uptime"`
	GC      monitor.GCStatus `json:"gc"`
	Clients int              `json:"ws_clients"`
}

// handleHealth returns service health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	gc := s.gcMonitor.Status()
	overallStatus := "healthy"
	statusCode := http.StatusOK

	if !gc.Healthy {
		overallStatus = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	httpx.RespondJSON(w, statusCode, HealthResponse{
		Status:  overallStatus,
		Version: Version,
		Uptime:  time.Since(startTime).String(),
		GC:      gc,
		Clients: s.hub.Clients(),
	})
}

// handleStorageUsage returns current storage usage.
func (s *Server) handleStorageUsage(w http.ResponseWriter, r *http.Request) {
	usedBytes, err := s.storageMonitor.GetUsage()
	if err != nil {
		s.logger.Error("failed to calculate storage usage", "error", err)
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	usage := StorageUsage{
		UsedBytes: usedBytes,
		MaxBytes:  s.storageMonitor.GetLimit(),
	}
	if stats, err := s.store.Stats(r.Context()); err == nil {
		usage.Documents = stats
	} else {
		s.logger.Warn("failed to read storage stats", "error", err)
	}

	httpx.RespondJSON(w, http.StatusOK, usage)
}

// SetupRoutes configures all HTTP routes for the server.
func SetupRoutes(router *mux.Router, s *Server) {
	router.Use(httpx.Middleware(s.logger))
	router.Use(corsMiddleware(s.cfg.Port))

	api := router.PathPrefix("/v1").Subrouter()

	// Aggregation and index metadata
	api.HandleFunc("/aggregate", s.queryHandler.HandleAggregate).Methods(http.MethodPost)
	api.HandleFunc("/indices", s.queryHandler.HandleIndices).Methods(http.MethodGet)
	api.HandleFunc("/indices/{index}/stats", s.queryHandler.HandleStats).Methods(http.MethodGet)
	api.HandleFunc("/indices/{index}/mapping", s.queryHandler.HandleMapping).Methods(http.MethodGet)
	api.HandleFunc("/indices/{index}/values", s.queryHandler.HandleValues).Methods(http.MethodGet)

	// Annotations
	api.HandleFunc("/annotations", s.annotationHandler.HandleSearch).Methods(http.MethodGet)
	api.HandleFunc("/annotations", s.annotationHandler.HandleCreate).Methods(http.MethodPost)
	api.HandleFunc("/annotations/{id}", s.annotationHandler.HandleGet).Methods(http.MethodGet)
	api.HandleFunc("/annotations/{id}", s.annotationHandler.HandleUpdate).Methods(http.MethodPost)
	api.HandleFunc("/ws", s.hub.HandleWebSocket).Methods(http.MethodGet)

	// Documents, backup and rendering
	api.HandleFunc("/ingest", s.ingestHandler.HandleIngest).Methods(http.MethodPost)
	api.HandleFunc("/export", s.exportHandler.HandleExport).Methods(http.MethodGet)
	api.HandleFunc("/import", s.exportHandler.HandleImport).Methods(http.MethodPost)
	api.HandleFunc("/render", s.renderer.HandleRender).Methods(http.MethodPost)

	// Operations
	api.HandleFunc("/storage", s.handleStorageUsage).Methods(http.MethodGet)
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}

// corsMiddleware creates CORS middleware that restricts to localhost origins only.
func corsMiddleware(port string) func(http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:" + port: true,
		"http://127.0.0.1:" + port: true,
		"http://localhost:3000":    true,
		"http://127.0.0.1:3000":    true,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); allowedOrigins[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
