package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/nicktill/tinylens/pkg/annotation"
	"github.com/nicktill/tinylens/pkg/config"
)

// FormatVersion is written into JSON export metadata.
const FormatVersion = "1.0"

// Exporter handles exporting annotations to various formats
type Exporter struct {
	store annotation.Store
	now   func() time.Time
}

// NewExporter creates a new exporter
func NewExporter(store annotation.Store) *Exporter {
	return &Exporter{store: store, now: time.Now}
}

// ExportOptions configures the export operation
type ExportOptions struct {
	// Time range to export, matched against StartDate
	Start time.Time
	End   time.Time

	// Source index filter ("" = all indices)
	Index string

	// Format: "json" or "csv"
	Format string
}

// ExportResult contains stats about the export
type ExportResult struct {
	AnnotationsExported int       `json:"annotations_exported"`
	TimeRange           string    `json:"time_range"`
	Format              string    `json:"format"`
	ExportedAt          time.Time `json:"exported_at"`
}

// Metadata heads a JSON export.
type Metadata struct {
	ExportedAt      time.Time `json:"exported_at"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	AnnotationCount int       `json:"annotation_count"`
	Format          string    `json:"format"`
	Version         string    `json:"version"`
}

// Document is the JSON export layout. It is also what Import reads.
type Document struct {
	Metadata    Metadata                `json:"metadata"`
	Annotations []annotation.Annotation `json:"annotations"`
}

func (e *Exporter) fetch(ctx context.Context, opts ExportOptions) ([]annotation.Annotation, error) {
	list, err := e.store.Search(ctx, annotation.SearchRequest{
		StartDate:   opts.Start,
		EndDate:     opts.End,
		SourceIndex: opts.Index,
		Limit:       config.AnnotationSearchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search annotations: %w", err)
	}
	return list, nil
}

func (e *Exporter) result(n int, format string, opts ExportOptions, at time.Time) *ExportResult {
	return &ExportResult{
		AnnotationsExported: n,
		TimeRange:           fmt.Sprintf("%s to %s", opts.Start.Format(time.RFC3339), opts.End.Format(time.RFC3339)),
		Format:              format,
		ExportedAt:          at,
	}
}

// ExportToJSON exports annotations as JSON to the given writer
func (e *Exporter) ExportToJSON(ctx context.Context, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	list, err := e.fetch(ctx, opts)
	if err != nil {
		return nil, err
	}
	return e.writeJSON(w, list, opts)
}

func (e *Exporter) writeJSON(w io.Writer, list []annotation.Annotation, opts ExportOptions) (*ExportResult, error) {
	if list == nil {
		list = []annotation.Annotation{}
	}

	now := e.now().UTC()
	doc := Document{
		Metadata: Metadata{
			ExportedAt:      now,
			StartTime:       opts.Start,
			EndTime:         opts.End,
			AnnotationCount: len(list),
			Format:          "json",
			Version:         FormatVersion,
		},
		Annotations: list,
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(doc); err != nil {
		return nil, fmt.Errorf("failed to encode JSON: %w", err)
	}
	return e.result(len(list), "json", opts, now), nil
}

// CSVHeader is the column order of CSV exports.
var CSVHeader = []string{
	"id", "sourceIndex", "filterField", "filterValue", "startDate", "endDate",
	"annotationType", "indicator", "recommendation", "status", "description",
	"createdBy", "createdAt", "changes",
}

// ExportToCSV exports annotations as CSV to the given writer
func (e *Exporter) ExportToCSV(ctx context.Context, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	list, err := e.fetch(ctx, opts)
	if err != nil {
		return nil, err
	}
	return e.writeCSV(w, list, opts)
}

func (e *Exporter) writeCSV(w io.Writer, list []annotation.Annotation, opts ExportOptions) (*ExportResult, error) {

	writer := csv.NewWriter(w)
	if err := writer.Write(CSVHeader); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, a := range list {
		row := []string{
			a.ID,
			a.SourceIndex,
			a.FilterField,
			a.FilterValue,
			a.StartDate.UTC().Format(time.RFC3339),
			a.EndDate.UTC().Format(time.RFC3339),
			string(a.AnnotationType),
			string(a.Indicator),
			string(a.Recommendation),
			string(a.Status),
			a.Description,
			a.CreatedBy.Email,
			a.CreatedAt.UTC().Format(time.RFC3339),
			fmt.Sprint(len(a.History)),
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV: %w", err)
	}
	return e.result(len(list), "csv", opts, e.now().UTC()), nil
}
