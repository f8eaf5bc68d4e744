package query

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/nicktill/tinylens/pkg/aggregate"
	"github.com/nicktill/tinylens/pkg/httpx"
)

// Handler serves the aggregation and index endpoints.
type Handler struct {
	engine *Engine
}

// NewHandler creates a new query handler
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// HandleAggregate handles POST /v1/aggregate.
func (h *Handler) HandleAggregate(w http.ResponseWriter, r *http.Request) {
	var p aggregate.Params
	if err := httpx.DecodeJSON(r, &p); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	res, err := h.engine.Aggregate(r.Context(), p)
	if err != nil {
		respondQueryError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, res)
}

// HandleIndices handles GET /v1/indices.
func (h *Handler) HandleIndices(w http.ResponseWriter, r *http.Request) {
	indices, err := h.engine.Indices(r.Context())
	if err != nil {
		respondQueryError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, indices)
}

// HandleStats handles GET /v1/indices/{index}/stats.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	st, err := h.engine.Stats(r.Context(), mux.Vars(r)["index"],
		q.Get("timestamp"), q.Get("filterField"), q.Get("filterValue"))
	if err != nil {
		respondQueryError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, st)
}

// HandleMapping handles GET /v1/indices/{index}/mapping.
func (h *Handler) HandleMapping(w http.ResponseWriter, r *http.Request) {
	m, err := h.engine.Mapping(r.Context(), mux.Vars(r)["index"])
	if err != nil {
		respondQueryError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, m)
}

// HandleValues handles GET /v1/indices/{index}/values.
func (h *Handler) HandleValues(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := ValuesRequest{
		Index:     mux.Vars(r)["index"],
		Field:     q.Get("field"),
		Search:    q.Get("q"),
		Timestamp: q.Get("timestamp"),
	}

	var err error
	if req.StartDate, err = parseTime(q.Get("startDate")); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid startDate: %w", err))
		return
	}
	if req.EndDate, err = parseTime(q.Get("endDate")); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid endDate: %w", err))
		return
	}

	values, err := h.engine.SearchValues(r.Context(), req)
	if err != nil {
		respondQueryError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, values)
}

func respondQueryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrMissingParams),
		errors.Is(err, ErrTooManyBuckets),
		errors.Is(err, aggregate.ErrInvalidInterval):
		httpx.RespondError(w, http.StatusBadRequest, err)
	case errors.Is(err, ErrIndexNotFound):
		httpx.RespondError(w, http.StatusNotFound, err)
	case errors.Is(err, context.DeadlineExceeded):
		httpx.RespondError(w, http.StatusGatewayTimeout, err)
	default:
		httpx.RespondError(w, http.StatusInternalServerError, err)
	}
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}
