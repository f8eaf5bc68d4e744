package storage

import (
	"fmt"
	"time"
)

// Document is one raw record of an index. Fields hold decoded JSON values:
// strings, float64 numbers and bools.
type Document struct {
	Index     string                 `json:"index"`
	Timestamp time.Time              `json:"timestamp"`
	Fields    map[string]interface{} `json:"fields"`
}

// Time reads a date field. RFC3339 strings and epoch milliseconds are
// accepted; an empty field name returns the primary timestamp.
func (d Document) Time(field string) (time.Time, bool) {
	if field == "" || (field == "timestamp" && d.Fields["timestamp"] == nil) {
		return d.Timestamp, !d.Timestamp.IsZero()
	}
	switch v := d.Fields[field].(type) {
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	case float64:
		return time.UnixMilli(int64(v)).UTC(), true
	case time.Time:
		return v, true
	}
	return time.Time{}, false
}

// String reads a field as a string. Numbers and bools are formatted.
func (d Document) String(field string) (string, bool) {
	switch v := d.Fields[field].(type) {
	case string:
		return v, true
	case float64:
		return fmt.Sprintf("%g", v), true
	case bool:
		return fmt.Sprintf("%t", v), true
	}
	return "", false
}

// Number reads a numeric field.
func (d Document) Number(field string) (float64, bool) {
	switch v := d.Fields[field].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// Matches reports whether a document satisfies the request filters.
func Matches(d Document, req QueryRequest) bool {
	if req.Index != "" && d.Index != req.Index {
		return false
	}

	t, ok := d.Time(req.TimeField)
	if !ok {
		return false
	}
	if !req.Start.IsZero() && t.Before(req.Start) {
		return false
	}
	if !req.End.IsZero() && t.After(req.End) {
		return false
	}

	for field, want := range req.Filters {
		got, ok := d.String(field)
		if !ok || got != want {
			return false
		}
	}
	return true
}
