package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/nicktill/tinylens/pkg/aggregate"
	"github.com/nicktill/tinylens/pkg/annotation"
	"github.com/nicktill/tinylens/pkg/chart"
	"github.com/nicktill/tinylens/pkg/httpx"
	"github.com/nicktill/tinylens/pkg/logger"
	"github.com/nicktill/tinylens/pkg/palette"
	"github.com/nicktill/tinylens/pkg/query"
)

// Render limits in CSS pixels.
const (
	maxRenderSize = 4096
	maxRenderDPR  = 3
)

// ErrRenderSize is returned for canvases that are empty or too large.
var ErrRenderSize = fmt.Errorf("width and height must be between 1 and %d", maxRenderSize)

// RenderRequest is the body of POST /v1/render.
type RenderRequest struct {
	Params aggregate.Params `json:"params"`
	Width  int              `json:"width"`
	Height int              `json:"height"`
	DPR    float64          `json:"dpr,omitempty"`
	Hidden []string         `json:"hidden,omitempty"`
}

// Renderer draws an aggregation with its annotation overlay to PNG. Colors
// are assigned per process, first come first served.
type Renderer struct {
	engine       *query.Engine
	annotations  annotation.Store
	seriesColors *palette.Service
	typeColors   *palette.Service
	logger       logger.Logger
}

// NewRenderer creates a renderer with process-local palettes.
func NewRenderer(ctx context.Context, engine *query.Engine, store annotation.Store, log logger.Logger) (*Renderer, error) {
	seriesColors, err := palette.New(ctx, nil, "", palette.Observable10, log)
	if err != nil {
		return nil, err
	}
	typeColors, err := palette.New(ctx, nil, "", palette.Paired12, log)
	if err != nil {
		return nil, err
	}
	return &Renderer{
		engine:       engine,
		annotations:  store,
		seriesColors: seriesColors,
		typeColors:   typeColors,
		logger:       log,
	}, nil
}

// Render aggregates req.Params and writes a PNG to w.
func (r *Renderer) Render(ctx context.Context, req RenderRequest, w io.Writer) error {
	if req.Width <= 0 || req.Height <= 0 || req.Width > maxRenderSize || req.Height > maxRenderSize {
		return ErrRenderSize
	}
	if req.DPR > maxRenderDPR {
		req.DPR = maxRenderDPR
	}

	p := req.Params
	p.Interval = aggregate.ResolveInterval(p.Interval, p.StartDate, p.EndDate)
	res, err := r.engine.Aggregate(ctx, p)
	if err != nil {
		return err
	}

	hidden := make(map[string]bool, len(req.Hidden))
	for _, name := range req.Hidden {
		hidden[name] = true
	}
	var visible []aggregate.ChartSeries
	for _, s := range aggregate.Transform(res.Buckets, aggregate.UniqueTerms(res.Buckets)) {
		if !hidden[s.Name] {
			visible = append(visible, s)
		}
	}

	dims, ok := chart.ComputeDimensions(float64(req.Width), float64(req.Height), len(visible))
	if !ok {
		return ErrRenderSize
	}
	sc := chart.BuildScales(dims, visible, res.Buckets)

	anns, err := r.annotations.Search(ctx, annotation.SearchRequest{
		StartDate:   p.StartDate,
		EndDate:     p.EndDate,
		SourceIndex: p.Index,
		FilterField: p.FilterField,
		FilterValue: p.FilterValue,
	})
	if err != nil {
		return fmt.Errorf("failed to load annotations: %w", err)
	}
	for i := range anns {
		if anns[i].AnnotationType == "" {
			anns[i].Color = palette.Fallback
		} else {
			anns[i].Color = r.typeColors.ColorFor(string(anns[i].AnnotationType))
		}
	}

	surface, err := chart.NewPNGSurface(req.Width, req.Height, req.DPR)
	if err != nil {
		return err
	}
	chart.Render(surface, dims, sc, visible, r.seriesColors.ColorFor, anns)
	return surface.Save(w)
}

// HandleRender handles POST /v1/render.
func (r *Renderer) HandleRender(w http.ResponseWriter, req *http.Request) {
	var body RenderRequest
	if err := httpx.DecodeJSON(req, &body); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	// Rendered fully before writing so failures still get a JSON error.
	var buf bytes.Buffer
	err := r.Render(req.Context(), body, &buf)
	switch {
	case err == nil:
	case errors.Is(err, ErrRenderSize),
		errors.Is(err, query.ErrMissingParams),
		errors.Is(err, query.ErrTooManyBuckets),
		errors.Is(err, aggregate.ErrInvalidInterval):
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	case errors.Is(err, context.DeadlineExceeded):
		httpx.RespondErrorString(w, http.StatusGatewayTimeout, "render timed out")
		return
	default:
		r.logger.Error("render failed", "index", body.Params.Index, "error", err)
		httpx.RespondErrorString(w, http.StatusInternalServerError, "render failed")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
