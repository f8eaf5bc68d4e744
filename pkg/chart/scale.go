package chart

import "math"

var (
	e10 = math.Sqrt(50)
	e5  = math.Sqrt(10)
	e2  = math.Sqrt(2)
)

// LinearScale maps a numeric domain onto a pixel range.
type LinearScale struct {
	Domain [2]float64
	Range  [2]float64
}

// NewLinearScale builds a scale over [d0, d1] → [r0, r1].
func NewLinearScale(d0, d1, r0, r1 float64) LinearScale {
	return LinearScale{Domain: [2]float64{d0, d1}, Range: [2]float64{r0, r1}}
}

// Scale maps v to pixels. A collapsed domain maps to the range midpoint.
func (s LinearScale) Scale(v float64) float64 {
	d0, d1 := s.Domain[0], s.Domain[1]
	if d0 == d1 {
		return (s.Range[0] + s.Range[1]) / 2
	}
	t := (v - d0) / (d1 - d0)
	return s.Range[0] + t*(s.Range[1]-s.Range[0])
}

// Invert maps pixels back to the domain.
func (s LinearScale) Invert(px float64) float64 {
	r0, r1 := s.Range[0], s.Range[1]
	if r0 == r1 {
		return s.Domain[0]
	}
	t := (px - r0) / (r1 - r0)
	return s.Domain[0] + t*(s.Domain[1]-s.Domain[0])
}

// Ticks returns about count round values spanning the domain.
func (s LinearScale) Ticks(count int) []float64 {
	return ticks(s.Domain[0], s.Domain[1], count)
}

// Nice extends the domain to round values.
func (s LinearScale) Nice(count int) LinearScale {
	start, stop := s.Domain[0], s.Domain[1]
	reversed := stop < start
	if reversed {
		start, stop = stop, start
	}

	var prev float64
loop:
	for i := 0; i < 10; i++ {
		step := tickIncrement(start, stop, count)
		if step == prev {
			break
		}
		switch {
		case step > 0:
			start = math.Floor(start/step) * step
			stop = math.Ceil(stop/step) * step
		case step < 0:
			start = math.Ceil(start*step) / step
			stop = math.Floor(stop*step) / step
		default:
			break loop
		}
		prev = step
	}

	if reversed {
		start, stop = stop, start
	}
	s.Domain = [2]float64{start, stop}
	return s
}

// tickIncrement returns a positive step, or the negated inverse of a
// fractional step so that callers can avoid float error.
func tickIncrement(start, stop float64, count int) float64 {
	if count <= 0 || stop == start {
		return 0
	}
	step := (stop - start) / float64(count)
	power := math.Floor(math.Log10(step))
	err := step / math.Pow(10, power)

	factor := 1.0
	switch {
	case err >= e10:
		factor = 10
	case err >= e5:
		factor = 5
	case err >= e2:
		factor = 2
	}
	if power >= 0 {
		return factor * math.Pow(10, power)
	}
	return -math.Pow(10, -power) / factor
}

func ticks(start, stop float64, count int) []float64 {
	if count <= 0 || math.IsNaN(start) || math.IsNaN(stop) {
		return nil
	}
	if start == stop {
		return []float64{start}
	}
	reversed := stop < start
	if reversed {
		start, stop = stop, start
	}

	step := tickIncrement(start, stop, count)
	if step == 0 || math.IsInf(step, 0) {
		return nil
	}

	var out []float64
	if step > 0 {
		r0, r1 := math.Round(start/step), math.Round(stop/step)
		if r0*step < start {
			r0++
		}
		if r1*step > stop {
			r1--
		}
		for i := r0; i <= r1; i++ {
			out = append(out, i*step)
		}
	} else {
		inv := -step
		r0, r1 := math.Round(start*inv), math.Round(stop*inv)
		if r0/inv < start {
			r0++
		}
		if r1/inv > stop {
			r1--
		}
		for i := r0; i <= r1; i++ {
			out = append(out, i/inv)
		}
	}

	if reversed {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}
