package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinylens/pkg/logger"
)

func TestRespondError(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondError(rr, http.StatusNotFound, errors.New("annotation not found"))

	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "Not Found", resp.Error)
	assert.Equal(t, "annotation not found", resp.Message)
}

func TestDecodeJSON(t *testing.T) {
	var dst struct {
		Name string `json:"name"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"cpu"}`))
	require.NoError(t, DecodeJSON(req, &dst))
	assert.Equal(t, "cpu", dst.Name)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{broken`))
	err := DecodeJSON(req, &dst)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid JSON")
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/v1/annotations/123", "/v1/annotations/{id}"},
		{"/v1/annotations/0b7d3c6e-6a4f-4a8e-9d0c-2f1e4a5b6c7d", "/v1/annotations/{id}"},
		{"/v1/indices", "/v1/indices"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizePath(tt.in))
	}
}

func TestMiddleware_CapturesStatus(t *testing.T) {
	router := mux.NewRouter()
	router.Use(Middleware(logger.Nop()))
	router.HandleFunc("/v1/annotations/{id}", func(w http.ResponseWriter, r *http.Request) {
		RespondErrorString(w, http.StatusTeapot, "nope")
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/annotations/42", nil))
	assert.Equal(t, http.StatusTeapot, rr.Code)
}
