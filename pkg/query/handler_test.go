package query

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinylens/pkg/aggregate"
	"github.com/nicktill/tinylens/pkg/logger"
)

func newTestRouter(t *testing.T) *mux.Router {
	t.Helper()
	h := NewHandler(NewEngine(seedOrders(t), nil, logger.Nop()))
	r := mux.NewRouter()
	r.HandleFunc("/v1/aggregate", h.HandleAggregate).Methods(http.MethodPost)
	r.HandleFunc("/v1/indices", h.HandleIndices).Methods(http.MethodGet)
	r.HandleFunc("/v1/indices/{index}/stats", h.HandleStats).Methods(http.MethodGet)
	r.HandleFunc("/v1/indices/{index}/mapping", h.HandleMapping).Methods(http.MethodGet)
	r.HandleFunc("/v1/indices/{index}/values", h.HandleValues).Methods(http.MethodGet)
	return r
}

func TestHandleAggregate(t *testing.T) {
	r := newTestRouter(t)

	body, err := json.Marshal(params())
	require.NoError(t, err)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/aggregate", bytes.NewReader(body)))

	require.Equal(t, http.StatusOK, rr.Code)
	var res aggregate.Result
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.Len(t, res.Buckets, 3)
}

func TestHandleAggregate_BadRequests(t *testing.T) {
	r := newTestRouter(t)

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", "{"},
		{"missing fields", `{"index":"orders"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/aggregate", bytes.NewBufferString(tt.body)))
			assert.Equal(t, http.StatusBadRequest, rr.Code)
		})
	}
}

func TestHandleIndexEndpoints(t *testing.T) {
	r := newTestRouter(t)

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantBody   string
	}{
		{"indices", "/v1/indices", http.StatusOK, `["orders"]`},
		{"stats", "/v1/indices/orders/stats?timestamp=timestamp&filterField=region&filterValue=us", http.StatusOK, `"count":1`},
		{"stats missing timestamp", "/v1/indices/orders/stats", http.StatusBadRequest, "timestamp"},
		{"mapping", "/v1/indices/orders/mapping", http.StatusOK, `"numericFields":["amount"]`},
		{"mapping unknown index", "/v1/indices/nope/mapping", http.StatusNotFound, "index not found"},
		{"values", "/v1/indices/orders/values?field=status&q=fund", http.StatusOK, `["refunded"]`},
		{"values short search", "/v1/indices/orders/values?field=status&q=re", http.StatusOK, `[]`},
		{"values bad date", "/v1/indices/orders/values?field=status&q=fund&startDate=yesterday", http.StatusBadRequest, "invalid startDate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Contains(t, rr.Body.String(), tt.wantBody)
		})
	}
}
