package chart

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// FormatNumber renders an axis value compactly: 1.2M, 3.4k, 5.0e-3, 0.25, 42.
func FormatNumber(v float64) string {
	abs := math.Abs(v)
	switch {
	case abs >= 1_000_000:
		return strconv.FormatFloat(v/1_000_000, 'f', 1, 64) + "M"
	case abs >= 1_000:
		return strconv.FormatFloat(v/1_000, 'f', 1, 64) + "k"
	case abs < 0.01 && v != 0:
		return exponential(v)
	case abs < 1:
		return strconv.FormatFloat(v, 'f', 2, 64)
	default:
		return strconv.FormatFloat(v, 'f', 0, 64)
	}
}

// exponential formats with one fractional digit and an unpadded exponent.
func exponential(v float64) string {
	s := strconv.FormatFloat(v, 'e', 1, 64)
	mant, exp, ok := strings.Cut(s, "e")
	if !ok {
		return s
	}
	n, err := strconv.Atoi(exp)
	if err != nil {
		return s
	}
	if n >= 0 {
		return mant + "e+" + strconv.Itoa(n)
	}
	return mant + "e" + strconv.Itoa(n)
}

// TimeFormat picks a tick label layout for a domain of the given span.
func TimeFormat(span time.Duration) func(time.Time) string {
	day := 24 * time.Hour
	var layout string
	switch {
	case span <= day:
		layout = "15:04"
	case span <= 7*day:
		layout = "Mon 15:04"
	case span <= 31*day:
		layout = "Jan 2"
	default:
		layout = "Jan 06"
	}
	return func(t time.Time) string {
		return t.UTC().Format(layout)
	}
}

// SeriesLabel shortens long series names for the rotated axis label.
func SeriesLabel(name string) string {
	r := []rune(name)
	if len(r) > 15 {
		return string(r[:13]) + "..."
	}
	return name
}
