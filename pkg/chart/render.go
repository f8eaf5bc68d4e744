package chart

import (
	"math"
	"time"

	"github.com/nicktill/tinylens/pkg/aggregate"
	"github.com/nicktill/tinylens/pkg/annotation"
	"github.com/nicktill/tinylens/pkg/config"
	"github.com/nicktill/tinylens/pkg/palette"
)

// Style constants in CSS pixels.
const (
	GridColor       = "rgba(0,0,0,0.1)"
	GridWidth       = 0.5
	AxisColor       = "black"
	LineWidth       = 1.5
	FontSize        = 10
	BandAlpha       = 0.1
	BandLabelMinPx  = 30
	TickLength      = 5
	GridTicksX      = 7
	GridTicksY      = 5
	AxisTicksX      = 5
	AxisTicksY      = 10
	DomainPadding   = 0.1
	axisLabelOffset = 30
)

// ColorFunc maps a series name to a CSS color.
type ColorFunc func(name string) string

// Scales holds the shared time scale and one value scale per series.
// Order lists the series with a value scale, leftmost axis last.
type Scales struct {
	X     TimeScale
	Y     map[string]LinearScale
	Order []string
}

// BuildScales derives scales from the visible series, falling back to the
// bucket range when they have no points.
func BuildScales(dims Dimensions, series []aggregate.ChartSeries, buckets []aggregate.TimeBucket) Scales {
	lo, hi, ok := seriesExtent(series)
	if !ok {
		lo, hi, ok = aggregate.Extent(buckets)
	}
	if !ok {
		lo = time.Now()
		hi = lo
	}
	if hi.Sub(lo) < config.DegenerateSpan {
		mid := lo.Add(hi.Sub(lo) / 2)
		lo, hi = mid.Add(-config.DegeneratePad), mid.Add(config.DegeneratePad)
	}

	sc := Scales{
		X: NewTimeScale(lo, hi, dims.Left(), dims.Right()),
		Y: make(map[string]LinearScale),
	}
	for _, s := range series {
		if len(s.Points) == 0 {
			continue
		}
		vlo, vhi := valueExtent(s.Points)
		pad := (vhi - vlo) * DomainPadding
		d0, d1 := math.Max(0, vlo-pad), vhi+pad
		if d0 == d1 {
			d0, d1 = math.Max(0, d0-1), d1+1
		}
		sc.Y[s.Name] = NewLinearScale(d0, d1, dims.Bottom(), dims.Top()).Nice(10)
		sc.Order = append(sc.Order, s.Name)
	}
	return sc
}

func seriesExtent(series []aggregate.ChartSeries) (lo, hi time.Time, ok bool) {
	for _, s := range series {
		for _, p := range s.Points {
			if !ok || p.Time.Before(lo) {
				lo = p.Time
			}
			if !ok || p.Time.After(hi) {
				hi = p.Time
			}
			ok = true
		}
	}
	return lo, hi, ok
}

func valueExtent(points []aggregate.Point) (lo, hi float64) {
	lo, hi = points[0].Value, points[0].Value
	for _, p := range points[1:] {
		lo = math.Min(lo, p.Value)
		hi = math.Max(hi, p.Value)
	}
	return lo, hi
}

// Render draws grid, annotation bands, axes and lines, in that order.
// series should hold only the visible series.
func Render(s Surface, dims Dimensions, sc Scales, series []aggregate.ChartSeries, colors ColorFunc, anns []annotation.Annotation) {
	drawGrid(s, dims, sc)
	drawAnnotations(s, dims, sc, anns)
	drawAxes(s, dims, sc, colors)
	drawLines(s, sc, series, colors)
}

func drawGrid(s Surface, dims Dimensions, sc Scales) {
	s.BeginPath()
	for _, t := range sc.X.Ticks(GridTicksX) {
		x := sc.X.Scale(t)
		s.MoveTo(x, dims.Top())
		s.LineTo(x, dims.Bottom())
	}
	if len(sc.Order) > 0 {
		y := sc.Y[sc.Order[0]]
		for _, v := range y.Ticks(GridTicksY) {
			py := y.Scale(v)
			s.MoveTo(dims.Left(), py)
			s.LineTo(dims.Right(), py)
		}
	}
	s.Stroke(GridColor, GridWidth)
}

func drawAnnotations(s Surface, dims Dimensions, sc Scales, anns []annotation.Annotation) {
	s.SetAlpha(BandAlpha)
	defer s.SetAlpha(1)

	for _, a := range anns {
		if a.Deleted {
			continue
		}
		startX := math.Max(dims.Left(), sc.X.Scale(a.StartDate))
		endX := math.Min(dims.Right(), sc.X.Scale(a.EndDate))
		if startX >= dims.Right() || endX <= dims.Left() {
			continue
		}
		w := endX - startX
		if w <= 0 {
			continue
		}

		color := a.Color
		if color == "" {
			color = palette.Fallback
		}
		s.FillRect(startX, dims.Top(), w, dims.Height, color)

		if w > BandLabelMinPx {
			s.Text(annotation.Capitalize(string(a.AnnotationType)), startX+w/2, dims.Top()+5, TextStyle{
				Color:    AxisColor,
				Size:     FontSize,
				Bold:     true,
				Align:    AlignCenter,
				Baseline: BaselineTop,
				MaxWidth: w - 10,
			})
		}
	}
}

func drawAxes(s Surface, dims Dimensions, sc Scales, colors ColorFunc) {
	s.BeginPath()
	s.MoveTo(dims.Left(), dims.Bottom())
	s.LineTo(dims.Right(), dims.Bottom())
	s.Stroke(AxisColor, 1)

	format := TimeFormat(sc.X.Span())
	for _, t := range sc.X.Ticks(AxisTicksX) {
		x := sc.X.Scale(t)
		s.BeginPath()
		s.MoveTo(x, dims.Bottom())
		s.LineTo(x, dims.Bottom()+TickLength)
		s.Stroke(AxisColor, 1)
		s.Text(format(t), x, dims.Bottom()+8, TextStyle{
			Color: AxisColor, Size: FontSize, Align: AlignCenter, Baseline: BaselineTop,
		})
	}

	for i, name := range sc.Order {
		y := sc.Y[name]
		axisX := dims.Left() - float64(i*AxisSpacing)
		color := colors(name)

		s.BeginPath()
		s.MoveTo(axisX, dims.Top())
		s.LineTo(axisX, dims.Bottom())
		s.Stroke(color, 1)

		for _, v := range y.Ticks(AxisTicksY) {
			py := y.Scale(v)
			s.BeginPath()
			s.MoveTo(axisX, py)
			s.LineTo(axisX-TickLength, py)
			s.Stroke(color, 1)
			s.Text(FormatNumber(v), axisX-8, py, TextStyle{
				Color: AxisColor, Size: FontSize, Align: AlignRight, Baseline: BaselineMiddle,
			})
		}

		s.Text(SeriesLabel(name), axisX-axisLabelOffset, dims.Top()+dims.Height/2, TextStyle{
			Color:    AxisColor,
			Size:     FontSize,
			Align:    AlignCenter,
			Baseline: BaselineMiddle,
			Rotation: -math.Pi / 2,
		})
	}
}

func drawLines(s Surface, sc Scales, series []aggregate.ChartSeries, colors ColorFunc) {
	s.SetOffset(0.5, 0.5)
	defer s.SetOffset(0, 0)

	for _, ser := range series {
		y, ok := sc.Y[ser.Name]
		if !ok {
			continue
		}
		pts := make([]Pt, len(ser.Points))
		for i, p := range ser.Points {
			pts[i] = Pt{X: math.Round(sc.X.Scale(p.Time)), Y: y.Scale(p.Value)}
		}
		s.BeginPath()
		MonotoneX(s, pts)
		s.Stroke(colors(ser.Name), LineWidth)
	}
}
