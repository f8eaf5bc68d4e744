package export

import (
	"fmt"
	"net/http"
	"time"

	"github.com/nicktill/tinylens/pkg/annotation"
	"github.com/nicktill/tinylens/pkg/config"
	"github.com/nicktill/tinylens/pkg/httpx"
	"github.com/nicktill/tinylens/pkg/logger"
)

// Handler handles export/import HTTP endpoints
type Handler struct {
	exporter *Exporter
	importer *Importer
	logger   logger.Logger
}

// NewHandler creates a new export/import handler
func NewHandler(store annotation.Store, log logger.Logger) *Handler {
	return &Handler{
		exporter: NewExporter(store),
		importer: NewImporter(store),
		logger:   log,
	}
}

// HandleExport handles GET /v1/export
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	format := query.Get("format")
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "csv" {
		httpx.RespondErrorString(w, http.StatusBadRequest, "invalid format: must be 'json' or 'csv'")
		return
	}

	end, err := parseTimeParam(query.Get("endDate"), h.exporter.now().UTC())
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	start, err := parseTimeParam(query.Get("startDate"), end.Add(-config.DefaultExportWindow))
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	if !start.Before(end) {
		httpx.RespondErrorString(w, http.StatusBadRequest, "startDate must be before endDate")
		return
	}
	if end.Sub(start) > config.MaxExportWindow {
		httpx.RespondErrorString(w, http.StatusBadRequest,
			fmt.Sprintf("time range too large: maximum is %v", config.MaxExportWindow))
		return
	}

	opts := ExportOptions{
		Start:  start,
		End:    end,
		Index:  query.Get("index"),
		Format: format,
	}

	// Search before writing headers so failures still get an error status.
	list, err := h.exporter.fetch(r.Context(), opts)
	if err != nil {
		h.logger.Error("export failed", "error", err)
		httpx.RespondErrorString(w, http.StatusInternalServerError, "export failed")
		return
	}

	stamp := h.exporter.now().UTC().Format("20060102-150405")
	if format == "json" {
		w.Header().Set("Content-Type", "application/json")
	} else {
		w.Header().Set("Content-Type", "text/csv")
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=tinylens-annotations-%s.%s", stamp, format))

	var result *ExportResult
	if format == "json" {
		result, err = h.exporter.writeJSON(w, list, opts)
	} else {
		result, err = h.exporter.writeCSV(w, list, opts)
	}
	if err != nil {
		// The body may already be partially written.
		h.logger.Error("export failed", "format", format, "error", err)
		return
	}

	h.logger.Info("annotations exported", "count", result.AnnotationsExported, "format", format, "range", result.TimeRange)
}

// HandleImport handles POST /v1/import
func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, httpx.MaxBodyBytes)
	result, err := h.importer.ImportFromJSON(r.Context(), body)
	if err != nil {
		h.logger.Warn("import failed", "error", err)
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	if len(result.Errors) > 0 {
		h.logger.Warn("import completed with errors", "errors", len(result.Errors), "first", result.Errors[0])
	}
	h.logger.Info("annotations imported", "count", result.AnnotationsImported, "skipped", result.Skipped)

	httpx.RespondJSON(w, http.StatusOK, result)
}

// parseTimeParam parses an RFC3339 parameter or returns the default.
func parseTimeParam(param string, defaultTime time.Time) (time.Time, error) {
	if param == "" {
		return defaultTime, nil
	}
	t, err := time.Parse(time.RFC3339, param)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: must be RFC3339", param)
	}
	return t.UTC(), nil
}
