// Package client talks to a TinyLens server over HTTP. It implements the
// explorer backends, so a Session can run against a remote server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nicktill/tinylens/pkg/aggregate"
	"github.com/nicktill/tinylens/pkg/annotation"
	"github.com/nicktill/tinylens/pkg/config"
	"github.com/nicktill/tinylens/pkg/httpx"
	"github.com/nicktill/tinylens/pkg/logger"
	"github.com/nicktill/tinylens/pkg/storage"
)

// StatusError is a non-2xx response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed with status %d", e.Code)
	}
	return fmt.Sprintf("request failed with status %d: %s", e.Code, e.Message)
}

// retryable reports whether the server may succeed on a later attempt.
func (e *StatusError) retryable() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

// Client is an HTTP client for the /v1 API.
type Client struct {
	baseURL string
	http    *http.Client
	logger  logger.Logger

	retries int
	sleep   func(ctx context.Context, d time.Duration) error
}

// New creates a client for a server such as "http://localhost:8080".
func New(baseURL string, log logger.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		logger:  log,
		retries: config.ReadRetries,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// backoff doubles from config.ReadBackoffBase up to config.ReadBackoffMax.
func backoff(attempt int) time.Duration {
	d := config.ReadBackoffBase << attempt
	if d <= 0 || d > config.ReadBackoffMax {
		return config.ReadBackoffMax
	}
	return d
}

type call struct {
	method  string
	path    string
	query   url.Values
	body    interface{}
	out     interface{}
	timeout time.Duration
	retry   bool
}

// read is an idempotent call with the read timeout and retry policy.
func read(method, path string, query url.Values, body, out interface{}) call {
	return call{method: method, path: path, query: query, body: body, out: out, timeout: config.ReadTimeout, retry: true}
}

func (c *Client) do(ctx context.Context, cl call) error {
	var payload []byte
	if cl.body != nil {
		var err error
		if payload, err = json.Marshal(cl.body); err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	attempts := 1
	if cl.retry {
		attempts += c.retries
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			wait := backoff(attempt - 1)
			c.logger.Debug("retrying request", "path", cl.path, "attempt", attempt, "backoff", wait, "error", lastErr)
			if err := c.sleep(ctx, wait); err != nil {
				return err
			}
		}

		lastErr = c.once(ctx, cl, payload)
		if lastErr == nil {
			return nil
		}
		var se *StatusError
		if errors.As(lastErr, &se) && !se.retryable() {
			return lastErr
		}
		if ctx.Err() != nil {
			return lastErr
		}
	}
	return lastErr
}

func (c *Client) once(ctx context.Context, cl call, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, cl.timeout)
	defer cancel()

	u := c.baseURL + cl.path
	if len(cl.query) > 0 {
		u += "?" + cl.query.Encode()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, cl.method, u, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var er httpx.ErrorResponse
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&er)
		return &StatusError{Code: resp.StatusCode, Message: er.Message}
	}

	if cl.out == nil {
		return nil
	}
	if w, ok := cl.out.(io.Writer); ok {
		_, err = io.Copy(w, resp.Body)
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(cl.out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func setIf(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}

// Aggregate runs POST /v1/aggregate.
func (c *Client) Aggregate(ctx context.Context, p aggregate.Params) (*aggregate.Result, error) {
	var res aggregate.Result
	if err := c.do(ctx, read(http.MethodPost, "/v1/aggregate", nil, p, &res)); err != nil {
		return nil, err
	}
	return &res, nil
}

// Stats runs GET /v1/indices/{index}/stats.
func (c *Client) Stats(ctx context.Context, index, timestamp, filterField, filterValue string) (*aggregate.IndexStats, error) {
	q := url.Values{}
	setIf(q, "timestamp", timestamp)
	setIf(q, "filterField", filterField)
	setIf(q, "filterValue", filterValue)

	var st aggregate.IndexStats
	if err := c.do(ctx, read(http.MethodGet, "/v1/indices/"+url.PathEscape(index)+"/stats", q, nil, &st)); err != nil {
		return nil, err
	}
	return &st, nil
}

// Indices lists the server's indices.
func (c *Client) Indices(ctx context.Context) ([]string, error) {
	var out []string
	if err := c.do(ctx, read(http.MethodGet, "/v1/indices", nil, nil, &out)); err != nil {
		return nil, err
	}
	return out, nil
}

// Mapping returns the field classes of an index.
func (c *Client) Mapping(ctx context.Context, index string) (*aggregate.Mapping, error) {
	var m aggregate.Mapping
	if err := c.do(ctx, read(http.MethodGet, "/v1/indices/"+url.PathEscape(index)+"/mapping", nil, nil, &m)); err != nil {
		return nil, err
	}
	return &m, nil
}

// SearchValues autocompletes values of field. Searches shorter than
// config.MinFilterPrefixLen are answered locally with no values.
func (c *Client) SearchValues(ctx context.Context, index, field, search string, start, end time.Time) ([]string, error) {
	if len([]rune(search)) < config.MinFilterPrefixLen {
		return []string{}, nil
	}
	q := url.Values{}
	q.Set("field", field)
	q.Set("q", search)
	setIf(q, "startDate", formatTime(start))
	setIf(q, "endDate", formatTime(end))

	var out []string
	if err := c.do(ctx, read(http.MethodGet, "/v1/indices/"+url.PathEscape(index)+"/values", q, nil, &out)); err != nil {
		return nil, err
	}
	return out, nil
}

// SearchAnnotations runs GET /v1/annotations.
func (c *Client) SearchAnnotations(ctx context.Context, req annotation.SearchRequest) ([]annotation.Annotation, error) {
	q := url.Values{}
	setIf(q, "startDate", formatTime(req.StartDate))
	setIf(q, "endDate", formatTime(req.EndDate))
	setIf(q, "index", req.SourceIndex)
	setIf(q, "filterField", req.FilterField)
	setIf(q, "filterValue", req.FilterValue)
	setIf(q, "q", req.Query)
	if req.Limit > 0 {
		q.Set("limit", fmt.Sprint(req.Limit))
	}

	var out []annotation.Annotation
	if err := c.do(ctx, read(http.MethodGet, "/v1/annotations", q, nil, &out)); err != nil {
		return nil, err
	}
	return out, nil
}

// GetAnnotation fetches one annotation by id.
func (c *Client) GetAnnotation(ctx context.Context, id string) (*annotation.Annotation, error) {
	var a annotation.Annotation
	err := c.do(ctx, read(http.MethodGet, "/v1/annotations/"+url.PathEscape(id), nil, nil, &a))
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", annotation.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateAnnotation stores a new annotation. Creates carrying a mutation id
// are safe to repeat and use the read retry policy.
func (c *Client) CreateAnnotation(ctx context.Context, a annotation.Annotation) (*annotation.Annotation, error) {
	var created annotation.Annotation
	err := c.do(ctx, call{
		method:  http.MethodPost,
		path:    "/v1/annotations",
		body:    a,
		out:     &created,
		timeout: config.WriteTimeout,
		retry:   a.MutationID != "",
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateAnnotation posts an update or delete. It is never retried.
func (c *Client) UpdateAnnotation(ctx context.Context, id string, req annotation.UpdateRequest) (*annotation.UpdateResponse, error) {
	var resp annotation.UpdateResponse
	err := c.do(ctx, call{
		method:  http.MethodPost,
		path:    "/v1/annotations/" + url.PathEscape(id),
		body:    req,
		out:     &resp,
		timeout: config.WriteTimeout,
	})
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// IngestResponse is the body returned by POST /v1/ingest.
type IngestResponse struct {
	Accepted int `json:"accepted"`
}

// Ingest sends documents to POST /v1/ingest.
func (c *Client) Ingest(ctx context.Context, docs []storage.Document) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	var resp IngestResponse
	err := c.do(ctx, call{
		method:  http.MethodPost,
		path:    "/v1/ingest",
		body:    map[string]interface{}{"documents": docs},
		out:     &resp,
		timeout: config.WriteTimeout,
	})
	if err != nil {
		return 0, err
	}
	return resp.Accepted, nil
}

// Export streams annotations in format ("json" or "csv") to w.
func (c *Client) Export(ctx context.Context, format string, start, end time.Time, w io.Writer) error {
	q := url.Values{}
	q.Set("format", format)
	setIf(q, "startDate", formatTime(start))
	setIf(q, "endDate", formatTime(end))
	return c.do(ctx, call{method: http.MethodGet, path: "/v1/export", query: q, out: w, timeout: config.ReadTimeout})
}

// Render requests a PNG of a chart and writes it to w.
func (c *Client) Render(ctx context.Context, req RenderRequest, w io.Writer) error {
	return c.do(ctx, call{method: http.MethodPost, path: "/v1/render", body: req, out: w, timeout: config.ReadTimeout})
}

// RenderRequest is the body of POST /v1/render.
type RenderRequest struct {
	Params aggregate.Params `json:"params"`
	Width  int              `json:"width"`
	Height int              `json:"height"`
	DPR    float64          `json:"dpr,omitempty"`
	Hidden []string         `json:"hidden,omitempty"`
}
