package chart

import (
	"math"
	"sort"
	"time"
)

// TimeScale maps a time domain onto a pixel range. Times are handled in UTC.
type TimeScale struct {
	Domain [2]time.Time
	Range  [2]float64
}

// NewTimeScale builds a scale over [start, end] → [r0, r1].
func NewTimeScale(start, end time.Time, r0, r1 float64) TimeScale {
	return TimeScale{Domain: [2]time.Time{start.UTC(), end.UTC()}, Range: [2]float64{r0, r1}}
}

// Span is the length of the domain.
func (s TimeScale) Span() time.Duration {
	return s.Domain[1].Sub(s.Domain[0])
}

// Scale maps t to pixels.
func (s TimeScale) Scale(t time.Time) float64 {
	span := s.Span()
	if span == 0 {
		return (s.Range[0] + s.Range[1]) / 2
	}
	f := float64(t.Sub(s.Domain[0])) / float64(span)
	return s.Range[0] + f*(s.Range[1]-s.Range[0])
}

// Invert maps pixels back to a time, truncated to the millisecond.
func (s TimeScale) Invert(px float64) time.Time {
	r := s.Range[1] - s.Range[0]
	if r == 0 {
		return s.Domain[0]
	}
	f := (px - s.Range[0]) / r
	d := time.Duration(f * float64(s.Span()))
	return s.Domain[0].Add(d).Truncate(time.Millisecond)
}

type tickInterval struct {
	approx time.Duration
	// fixed intervals step by approx; calendar ones by months
	months int
	days   int
}

var tickIntervals = []tickInterval{
	{approx: time.Second},
	{approx: 5 * time.Second},
	{approx: 15 * time.Second},
	{approx: 30 * time.Second},
	{approx: time.Minute},
	{approx: 5 * time.Minute},
	{approx: 15 * time.Minute},
	{approx: 30 * time.Minute},
	{approx: time.Hour},
	{approx: 3 * time.Hour},
	{approx: 6 * time.Hour},
	{approx: 12 * time.Hour},
	{approx: 24 * time.Hour, days: 1},
	{approx: 48 * time.Hour, days: 2},
	{approx: 7 * 24 * time.Hour, days: 7},
	{approx: 30 * 24 * time.Hour, months: 1},
	{approx: 90 * 24 * time.Hour, months: 3},
	{approx: 365 * 24 * time.Hour, months: 12},
}

// Ticks returns about count calendar-aligned times within the domain.
func (s TimeScale) Ticks(count int) []time.Time {
	start, stop := s.Domain[0], s.Domain[1]
	if stop.Before(start) {
		start, stop = stop, start
	}
	if count <= 0 || start.Equal(stop) {
		return nil
	}

	target := s.Span() / time.Duration(count)
	if target < 0 {
		target = -target
	}
	i := sort.Search(len(tickIntervals), func(i int) bool { return tickIntervals[i].approx >= target })

	switch {
	case i == len(tickIntervals):
		return yearTicks(start, stop, count)
	case i == 0:
		step := tickIncrement(0, float64(stop.Sub(start).Milliseconds()), count)
		if step <= 0 {
			step = 1
		}
		return fixedTicks(start, stop, time.Duration(step)*time.Millisecond)
	case float64(target)/float64(tickIntervals[i-1].approx) < float64(tickIntervals[i].approx)/float64(target):
		i--
	}

	iv := tickIntervals[i]
	switch {
	case iv.months == 12:
		return yearTicks(start, stop, count)
	case iv.months > 0:
		return monthTicks(start, stop, iv.months)
	case iv.days == 7:
		return weekTicks(start, stop)
	case iv.days > 0:
		return dayTicks(start, stop, iv.days)
	default:
		return fixedTicks(start, stop, iv.approx)
	}
}

func fixedTicks(start, stop time.Time, step time.Duration) []time.Time {
	t := start.Truncate(step)
	if t.Before(start) {
		t = t.Add(step)
	}
	var out []time.Time
	for ; !t.After(stop); t = t.Add(step) {
		out = append(out, t)
	}
	return out
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// dayTicks keeps days whose day-of-month is 1 + a multiple of every.
func dayTicks(start, stop time.Time, every int) []time.Time {
	t := midnight(start)
	if t.Before(start) {
		t = t.AddDate(0, 0, 1)
	}
	var out []time.Time
	for ; !t.After(stop); t = t.AddDate(0, 0, 1) {
		if (t.Day()-1)%every == 0 {
			out = append(out, t)
		}
	}
	return out
}

// weekTicks places ticks on Sundays.
func weekTicks(start, stop time.Time) []time.Time {
	t := midnight(start)
	t = t.AddDate(0, 0, -int(t.Weekday()))
	if t.Before(start) {
		t = t.AddDate(0, 0, 7)
	}
	var out []time.Time
	for ; !t.After(stop); t = t.AddDate(0, 0, 7) {
		out = append(out, t)
	}
	return out
}

func monthTicks(start, stop time.Time, every int) []time.Time {
	y, m, _ := start.Date()
	t := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	if t.Before(start) {
		t = t.AddDate(0, 1, 0)
	}
	var out []time.Time
	for ; !t.After(stop); t = t.AddDate(0, 1, 0) {
		if (int(t.Month())-1)%every == 0 {
			out = append(out, t)
		}
	}
	return out
}

func yearTicks(start, stop time.Time, count int) []time.Time {
	step := tickIncrement(float64(start.Year()), float64(stop.Year()), count)
	every := int(math.Max(1, step))

	y := start.Year()
	t := time.Date(y, 1, 1, 0, 0, 0, 0, time.UTC)
	if t.Before(start) {
		t = t.AddDate(1, 0, 0)
	}
	var out []time.Time
	for ; !t.After(stop); t = t.AddDate(1, 0, 0) {
		if t.Year()%every == 0 {
			out = append(out, t)
		}
	}
	return out
}
