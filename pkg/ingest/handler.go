package ingest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/nicktill/tinylens/pkg/config"
	"github.com/nicktill/tinylens/pkg/httpx"
	"github.com/nicktill/tinylens/pkg/logger"
	"github.com/nicktill/tinylens/pkg/metrics"
	"github.com/nicktill/tinylens/pkg/storage"
)

// StorageChecker reports whether there is room for more data.
type StorageChecker interface {
	CheckLimit() (bool, error)
}

// Handler handles document ingestion
type Handler struct {
	storage storage.Storage
	checker StorageChecker
	logger  logger.Logger
	now     func() time.Time
}

// NewHandler creates a new ingest handler
func NewHandler(store storage.Storage, log logger.Logger) *Handler {
	return &Handler{
		storage: store,
		logger:  log,
		now:     time.Now,
	}
}

// SetStorageChecker enables storage limit enforcement.
func (h *Handler) SetStorageChecker(c StorageChecker) {
	h.checker = c
}

// IngestRequest represents the request payload
type IngestRequest struct {
	Documents []storage.Document `json:"documents"`
}

// IngestResponse represents the response payload
type IngestResponse struct {
	Accepted int `json:"accepted"`
}

// HandleIngest handles POST /v1/ingest. The batch is rejected as a whole
// when any document is invalid.
func (h *Handler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	if len(req.Documents) > config.MaxDocumentsPerRequest {
		httpx.RespondError(w, http.StatusBadRequest,
			fmt.Errorf("%w: got %d", ErrTooManyDocuments, len(req.Documents)))
		return
	}

	now := h.now().UTC()
	for i := range req.Documents {
		d := &req.Documents[i]
		if err := ValidateDocument(*d); err != nil {
			httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid document %d: %w", i, err))
			return
		}
		if d.Timestamp.IsZero() {
			d.Timestamp = now
		}
	}

	if len(req.Documents) == 0 {
		httpx.RespondJSON(w, http.StatusOK, IngestResponse{})
		return
	}

	if h.checker != nil {
		ok, err := h.checker.CheckLimit()
		if err != nil {
			h.logger.Warn("storage usage check failed", "error", err)
		} else if !ok {
			httpx.RespondErrorString(w, http.StatusInsufficientStorage, "storage limit reached")
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.IngestTimeout)
	defer cancel()

	if err := h.storage.Write(ctx, req.Documents); err != nil {
		h.logger.Error("failed to write documents", "count", len(req.Documents), "error", err)
		httpx.RespondErrorString(w, http.StatusInternalServerError, "failed to store documents")
		return
	}

	metrics.DocumentsIngestedTotal.Add(float64(len(req.Documents)))
	h.logger.Debug("documents ingested", "count", len(req.Documents))
	httpx.RespondJSON(w, http.StatusOK, IngestResponse{Accepted: len(req.Documents)})
}
