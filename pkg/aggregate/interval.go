package aggregate

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/nicktill/tinylens/pkg/config"
)

// IntervalOptions are the bucket widths "auto" may resolve to, ascending.
var IntervalOptions = []string{"1m", "5m", "15m", "30m", "1h", "3h", "12h", "1d", "7d", "30d"}

// NavigationIntervals are the pan step widths offered by the view controls.
var NavigationIntervals = []string{"15m", "30m", "1h", "3h", "6h", "12h", "1d", "7d"}

var (
	intervalPattern = regexp.MustCompile(`^(\d+)(s|m|h|d|w)$`)

	// ErrInvalidInterval is returned for interval strings that cannot be parsed.
	ErrInvalidInterval = errors.New("invalid interval")
)

// ParseInterval converts an interval such as "15m" or "7d" to a duration.
func ParseInterval(s string) (time.Duration, error) {
	m := intervalPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidInterval, s)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidInterval, s)
	}

	unit := time.Second
	switch m[2] {
	case "m":
		unit = time.Minute
	case "h":
		unit = time.Hour
	case "d":
		unit = 24 * time.Hour
	case "w":
		unit = 7 * 24 * time.Hour
	}
	return time.Duration(n) * unit, nil
}

// ResolveInterval substitutes a concrete width for the "auto" sentinel.
// The ideal width is span/TargetPoints; the smallest option at least that
// wide wins, else the largest option. Missing dates resolve to the default.
// Any other interval passes through unchanged.
func ResolveInterval(interval string, start, end time.Time) string {
	if interval != config.AutoInterval {
		return interval
	}
	if start.IsZero() || end.IsZero() {
		return config.DefaultInterval
	}

	ideal := end.Sub(start) / config.TargetPoints
	for _, opt := range IntervalOptions {
		d, _ := ParseInterval(opt)
		if d >= ideal {
			return opt
		}
	}
	return IntervalOptions[len(IntervalOptions)-1]
}
