// Package explorer is the client-side engine of a TinyLens view: it owns the
// query form, runs aggregations, keeps the annotation feed in sync with the
// visible range and ties the brush and sidebar into one session.
package explorer

import (
	"context"

	"github.com/nicktill/tinylens/pkg/aggregate"
	"github.com/nicktill/tinylens/pkg/annotation"
)

// AggregationBackend runs aggregations and index statistics.
type AggregationBackend interface {
	Aggregate(ctx context.Context, p aggregate.Params) (*aggregate.Result, error)
	Stats(ctx context.Context, index, timestamp, filterField, filterValue string) (*aggregate.IndexStats, error)
}

// AnnotationBackend is the remote annotation store.
type AnnotationBackend interface {
	SearchAnnotations(ctx context.Context, req annotation.SearchRequest) ([]annotation.Annotation, error)
	CreateAnnotation(ctx context.Context, a annotation.Annotation) (*annotation.Annotation, error)
	UpdateAnnotation(ctx context.Context, id string, req annotation.UpdateRequest) (*annotation.UpdateResponse, error)
}

// Range change triggers.
const (
	TriggerForm        = "form"
	TriggerExternal    = "external"
	TriggerZoomIn      = "zoom-in"
	TriggerZoomOut     = "zoom-out"
	TriggerPan         = "pan"
	TriggerFullHistory = "full-history"
)
