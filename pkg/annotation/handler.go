package annotation

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/nicktill/tinylens/pkg/httpx"
	"github.com/nicktill/tinylens/pkg/logger"
	"github.com/nicktill/tinylens/pkg/metrics"
)

// Action names accepted by the update endpoint.
const (
	ActionUpdate = "update"
	ActionDelete = "delete"
	actionCreate = "create"
)

// ChangeKind tags a change notification.
type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeDeleted ChangeKind = "deleted"
)

// Change is broadcast to live subscribers after each successful mutation.
type Change struct {
	Kind       ChangeKind `json:"kind"`
	Annotation Annotation `json:"annotation"`
}

// Notifier receives committed changes.
type Notifier interface {
	Notify(c Change)
}

// UpdateRequest is the body of POST /v1/annotations/{id}.
type UpdateRequest struct {
	ActionType string `json:"actionType"`
	Payload    *Patch `json:"payload,omitempty"`
	ChangedBy  User   `json:"changedBy"`
}

// UpdateResponse reports the outcome of an update or delete.
type UpdateResponse struct {
	Success    bool        `json:"success"`
	Annotation *Annotation `json:"annotation,omitempty"`
	DeletedID  string      `json:"deletedId,omitempty"`
}

// Handler serves the annotation endpoints.
type Handler struct {
	store    Store
	notifier Notifier
	logger   logger.Logger
}

// NewHandler creates an annotation handler. notifier may be nil.
func NewHandler(store Store, notifier Notifier, log logger.Logger) *Handler {
	return &Handler{store: store, notifier: notifier, logger: log}
}

// HandleSearch handles GET /v1/annotations.
func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	req := SearchRequest{
		SourceIndex: q.Get("index"),
		FilterField: q.Get("filterField"),
		FilterValue: q.Get("filterValue"),
		Query:       q.Get("q"),
	}

	var err error
	if req.StartDate, err = parseTimeParam(q.Get("startDate")); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid startDate: %w", err))
		return
	}
	if req.EndDate, err = parseTimeParam(q.Get("endDate")); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid endDate: %w", err))
		return
	}
	if v := q.Get("limit"); v != "" {
		if req.Limit, err = strconv.Atoi(v); err != nil {
			httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid limit: %w", err))
			return
		}
	}

	result, err := h.store.Search(r.Context(), req)
	if err != nil {
		h.respondStoreError(w, err)
		return
	}
	if result == nil {
		result = []Annotation{}
	}
	httpx.RespondJSON(w, http.StatusOK, result)
}

// HandleGet handles GET /v1/annotations/{id}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	a, err := h.store.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondStoreError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, a)
}

// HandleCreate handles POST /v1/annotations.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var a Annotation
	if err := httpx.DecodeJSON(r, &a); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	created, err := h.store.Create(r.Context(), a)
	metrics.RecordAnnotationMutation(actionCreate, err)
	if err != nil {
		h.respondStoreError(w, err)
		return
	}

	h.notify(ChangeCreated, created)
	httpx.RespondJSON(w, http.StatusCreated, created)
}

// HandleUpdate handles POST /v1/annotations/{id} with an actionType of
// "update" or "delete".
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req UpdateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	switch req.ActionType {
	case ActionUpdate:
		if req.Payload == nil {
			httpx.RespondError(w, http.StatusBadRequest, ErrEmptyPayload)
			return
		}
		updated, err := h.store.Update(r.Context(), id, *req.Payload, req.ChangedBy)
		metrics.RecordAnnotationMutation(ActionUpdate, err)
		if err != nil {
			h.respondStoreError(w, err)
			return
		}
		h.notify(ChangeUpdated, updated)
		httpx.RespondJSON(w, http.StatusOK, UpdateResponse{Success: true, Annotation: &updated})

	case ActionDelete:
		deleted, err := h.store.Delete(r.Context(), id, req.ChangedBy)
		metrics.RecordAnnotationMutation(ActionDelete, err)
		if err != nil {
			h.respondStoreError(w, err)
			return
		}
		h.notify(ChangeDeleted, deleted)
		httpx.RespondJSON(w, http.StatusOK, UpdateResponse{Success: true, DeletedID: deleted.ID})

	default:
		httpx.RespondError(w, http.StatusBadRequest, ErrInvalidAction)
	}
}

func (h *Handler) notify(kind ChangeKind, a Annotation) {
	if h.notifier != nil {
		h.notifier.Notify(Change{Kind: kind, Annotation: a})
	}
}

func (h *Handler) respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.RespondError(w, http.StatusNotFound, err)
	case errors.Is(err, ErrDeleted):
		httpx.RespondError(w, http.StatusConflict, err)
	case errors.Is(err, ErrInvalid), errors.Is(err, ErrInvalidRange),
		errors.Is(err, ErrEmptyPayload), errors.Is(err, ErrInvalidAction):
		httpx.RespondError(w, http.StatusBadRequest, err)
	default:
		h.logger.Error("annotation store error", "error", err)
		httpx.RespondError(w, http.StatusInternalServerError, err)
	}
}

func parseTimeParam(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}
