package aggregate

import (
	"sort"
	"time"
)

// UniqueTerms returns the sorted, deduplicated union of category names
// across all buckets. Names are compared case-sensitively.
func UniqueTerms(buckets []TimeBucket) []string {
	seen := make(map[string]struct{})
	for _, b := range buckets {
		for _, c := range b.Categories {
			seen[c.Name] = struct{}{}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Transform turns buckets into one series per name. A category missing from
// a bucket counts as 0 and every 0 point is dropped, so gaps render as gaps
// rather than dips. The output is sorted by name.
func Transform(buckets []TimeBucket, names []string) []ChartSeries {
	if len(names) == 0 {
		return []ChartSeries{}
	}

	sorted := make([]string, len(names))
	copy(sorted, names)
	sort.Strings(sorted)

	series := make([]ChartSeries, 0, len(sorted))
	for _, name := range sorted {
		points := make([]Point, 0, len(buckets))
		for _, b := range buckets {
			v := valueOf(b, name)
			if v == 0 {
				continue
			}
			points = append(points, Point{Time: b.Timestamp, Value: v})
		}
		series = append(series, ChartSeries{Name: name, Points: points})
	}
	return series
}

func valueOf(b TimeBucket, name string) float64 {
	for _, c := range b.Categories {
		if c.Name == name {
			return c.AvgValue
		}
	}
	return 0
}

// Extent returns the earliest and latest bucket timestamps.
func Extent(buckets []TimeBucket) (time.Time, time.Time, bool) {
	if len(buckets) == 0 {
		return time.Time{}, time.Time{}, false
	}
	lo, hi := buckets[0].Timestamp, buckets[0].Timestamp
	for _, b := range buckets[1:] {
		if b.Timestamp.Before(lo) {
			lo = b.Timestamp
		}
		if b.Timestamp.After(hi) {
			hi = b.Timestamp
		}
	}
	return lo, hi, true
}
