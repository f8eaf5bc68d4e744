package annotation

import (
	"strconv"
	"time"
)

// Diff lists the fields that differ between prev and next.
func Diff(prev, next Annotation) []FieldChange {
	var changes []FieldChange
	add := func(field, oldV, newV string) {
		if oldV != newV {
			changes = append(changes, FieldChange{Field: field, OldValue: oldV, NewValue: newV})
		}
	}

	add("startDate", formatTime(prev.StartDate), formatTime(next.StartDate))
	add("endDate", formatTime(prev.EndDate), formatTime(next.EndDate))
	add("description", prev.Description, next.Description)
	add("annotationType", string(prev.AnnotationType), string(next.AnnotationType))
	add("indicator", string(prev.Indicator), string(next.Indicator))
	add("recommendation", string(prev.Recommendation), string(next.Recommendation))
	add("status", string(prev.Status), string(next.Status))
	add("deleted", strconv.FormatBool(prev.Deleted), strconv.FormatBool(next.Deleted))
	return changes
}

// NewHistoryEntry builds the entry for moving prev to next.
func NewHistoryEntry(prev, next Annotation, by User, at time.Time) HistoryEntry {
	return HistoryEntry{
		ChangedAt: at.UTC(),
		ChangedBy: by,
		Changes:   Diff(prev, next),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
