package aggregate

import "time"

// Category is one term inside a bucket.
type Category struct {
	Name     string  `json:"name"`
	Count    int64   `json:"count"`
	AvgValue float64 `json:"avgValue"`
}

// TimeBucket is one interval slice of an aggregation result. Categories are
// the backend's top-N by document count and are not sorted.
type TimeBucket struct {
	Timestamp     time.Time  `json:"timestamp"`
	FormattedDate string     `json:"formattedDate,omitempty"`
	Categories    []Category `json:"categories"`
}

// Point is a single value of a series.
type Point struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// ChartSeries is the time-ordered values of one category.
type ChartSeries struct {
	Name   string  `json:"name"`
	Points []Point `json:"points"`
}

// Params describes one aggregation request. Interval must already be
// resolved; the "auto" sentinel is never sent to a backend.
type Params struct {
	Index        string    `json:"index"`
	Term         string    `json:"term"`
	Interval     string    `json:"interval"`
	NumericField string    `json:"numericField"`
	Timestamp    string    `json:"timestamp"`
	StartDate    time.Time `json:"startDate"`
	EndDate      time.Time `json:"endDate"`
	FilterField  string    `json:"filterField"`
	FilterValue  string    `json:"filterValue"`
}

// Result is the aggregation service response.
type Result struct {
	Buckets []TimeBucket `json:"buckets"`
}

// IndexStats is the min/max timestamp of an index under a filter.
type IndexStats struct {
	MinDate time.Time `json:"minDate"`
	MaxDate time.Time `json:"maxDate"`
	Count   int64     `json:"count"`
}

// Mapping classifies the fields of an index.
type Mapping struct {
	DateFields    []string `json:"dateFields"`
	TermFields    []string `json:"termFields"`
	NumericFields []string `json:"numericFields"`
}
