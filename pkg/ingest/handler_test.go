package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinylens/pkg/config"
	"github.com/nicktill/tinylens/pkg/httpx"
	"github.com/nicktill/tinylens/pkg/logger"
	"github.com/nicktill/tinylens/pkg/storage"
	"github.com/nicktill/tinylens/pkg/storage/memory"
)

func post(t *testing.T, h *Handler, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/ingest", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	h.HandleIngest(rr, req)
	return rr
}

func errorMessage(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var resp httpx.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp.Message
}

func TestHandleIngest_StoresDocuments(t *testing.T) {
	store := memory.New()
	handler := NewHandler(store, logger.Nop())
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	handler.now = func() time.Time { return now }

	ts := now.Add(-time.Hour)
	rr := post(t, handler, IngestRequest{Documents: []storage.Document{
		{Index: "orders", Timestamp: ts, Fields: map[string]interface{}{"amount": 12.5, "status": "paid"}},
		{Index: "orders", Fields: map[string]interface{}{"amount": 3.0, "status": "refunded"}},
	}})

	require.Equal(t, http.StatusOK, rr.Code)
	var resp IngestResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Accepted)

	docs, err := store.Query(context.Background(), storage.QueryRequest{Index: "orders"})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.True(t, docs[0].Timestamp.Equal(ts))
	assert.True(t, docs[1].Timestamp.Equal(now), "missing timestamps default to receive time")
}

func TestHandleIngest_TooManyDocuments(t *testing.T) {
	handler := NewHandler(memory.New(), logger.Nop())

	docs := make([]storage.Document, config.MaxDocumentsPerRequest+1)
	for i := range docs {
		docs[i] = storage.Document{Index: "orders"}
	}
	rr := post(t, handler, IngestRequest{Documents: docs})

	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, errorMessage(t, rr), "too many documents")
}

func TestHandleIngest_InvalidDocumentRejectsBatch(t *testing.T) {
	store := memory.New()
	handler := NewHandler(store, logger.Nop())

	rr := post(t, handler, IngestRequest{Documents: []storage.Document{
		{Index: "orders", Fields: map[string]interface{}{"amount": 1.0}},
		{Index: ""},
	}})

	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, errorMessage(t, rr), "invalid document 1")

	indices, err := store.Indices(context.Background())
	require.NoError(t, err)
	assert.Empty(t, indices)
}

func TestHandleIngest_BadJSON(t *testing.T) {
	handler := NewHandler(memory.New(), logger.Nop())
	req := httptest.NewRequest(http.MethodPost, "/v1/ingest", strings.NewReader("{"))
	rr := httptest.NewRecorder()
	handler.HandleIngest(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestValidateDocument(t *testing.T) {
	many := make(map[string]interface{}, config.MaxFieldsPerDocument+1)
	for i := 0; i <= config.MaxFieldsPerDocument; i++ {
		many[strings.Repeat("f", i+1)] = 1.0
	}

	tests := []struct {
		name string
		doc  storage.Document
		want error
	}{
		{"valid", storage.Document{Index: "orders", Fields: map[string]interface{}{"a": "x", "b": 1.0, "c": true, "d": nil}}, nil},
		{"empty index", storage.Document{}, ErrIndexEmpty},
		{"long index", storage.Document{Index: strings.Repeat("i", config.MaxIndexNameLength+1)}, ErrIndexTooLong},
		{"reserved index", storage.Document{Index: ".annotations"}, ErrIndexReserved},
		{"too many fields", storage.Document{Index: "orders", Fields: many}, ErrTooManyFields},
		{"empty field name", storage.Document{Index: "orders", Fields: map[string]interface{}{"": 1.0}}, ErrFieldNameInvalid},
		{"long value", storage.Document{Index: "orders", Fields: map[string]interface{}{"a": strings.Repeat("v", config.MaxStringFieldLength+1)}}, ErrFieldValueTooLong},
		{"nested", storage.Document{Index: "orders", Fields: map[string]interface{}{"a": map[string]interface{}{}}}, ErrFieldValueType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDocument(tt.doc)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

type fullStorage struct{}

func (fullStorage) CheckLimit() (bool, error) { return false, nil }

func TestHandleIngest_StorageLimit(t *testing.T) {
	handler := NewHandler(memory.New(), logger.Nop())
	handler.SetStorageChecker(fullStorage{})

	rr := post(t, handler, IngestRequest{Documents: []storage.Document{{Index: "orders"}}})
	assert.Equal(t, http.StatusInsufficientStorage, rr.Code)
}
