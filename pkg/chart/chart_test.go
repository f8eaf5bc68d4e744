package chart

import (
	"bytes"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinylens/pkg/aggregate"
	"github.com/nicktill/tinylens/pkg/annotation"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func TestComputeDimensions(t *testing.T) {
	tests := []struct {
		name    string
		w, h    float64
		visible int
		left    float64
		ok      bool
	}{
		{"no series", 800, 400, 0, 60, true},
		{"one series", 800, 400, 1, 60, true},
		{"three series", 800, 400, 3, 140, true},
		{"too narrow", 100, 400, 3, 140, false},
		{"too short", 800, 50, 1, 60, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, ok := ComputeDimensions(tt.w, tt.h, tt.visible)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.left, d.Margin.Left)
			assert.Equal(t, tt.w-tt.left, d.Width)
			assert.Equal(t, tt.h-60, d.Height)
		})
	}
}

func TestLinearTicks(t *testing.T) {
	assert.InDeltaSlice(t, []float64{0, 0.2, 0.4, 0.6, 0.8, 1}, ticks(0, 1, 5), 1e-12)
	assert.Len(t, ticks(0, 100, 10), 11)
	assert.Equal(t, []float64{3}, ticks(3, 3, 5))
	assert.Nil(t, ticks(0, 1, 0))
}

func TestLinearNice(t *testing.T) {
	s := NewLinearScale(0.5, 9.7, 100, 0).Nice(10)
	assert.Equal(t, 0.0, s.Domain[0])
	assert.Equal(t, 10.0, s.Domain[1])
	assert.Equal(t, 50.0, s.Scale(5))
	assert.Equal(t, 5.0, s.Invert(50))
}

func TestFormatNumber(t *testing.T) {
	tests := map[float64]string{
		1_500_000: "1.5M",
		-2_500:    "-2.5k",
		2_500:     "2.5k",
		0.005:     "5.0e-3",
		0.25:      "0.25",
		42:        "42",
		0:         "0.00",
	}
	for in, want := range tests {
		assert.Equal(t, want, FormatNumber(in), "FormatNumber(%v)", in)
	}
}

func TestTimeFormat(t *testing.T) {
	at := time.Date(2024, 3, 1, 14, 5, 0, 0, time.UTC)
	assert.Equal(t, "14:05", TimeFormat(12*time.Hour)(at))
	assert.Equal(t, "Fri 14:05", TimeFormat(3*24*time.Hour)(at))
	assert.Equal(t, "Mar 1", TimeFormat(20*24*time.Hour)(at))
	assert.Equal(t, "Mar 24", TimeFormat(90*24*time.Hour)(at))
}

func TestSeriesLabel(t *testing.T) {
	assert.Equal(t, "exactly15chars!", SeriesLabel("exactly15chars!"))
	assert.Equal(t, "abcdefghijklm...", SeriesLabel("abcdefghijklmnop"))
}

func TestTimeTicks(t *testing.T) {
	s := NewTimeScale(t0, t0.Add(6*time.Hour), 0, 600)
	ticks := s.Ticks(6)
	require.Len(t, ticks, 7)
	assert.Equal(t, t0, ticks[0])
	assert.Equal(t, t0.Add(time.Hour), ticks[1])

	days := NewTimeScale(t0, t0.AddDate(0, 0, 30), 0, 600).Ticks(5)
	for _, d := range days {
		assert.Equal(t, 0, d.Hour())
	}
	assert.NotEmpty(t, days)

	assert.Equal(t, t0.Add(3*time.Hour), s.Invert(300))
}

func TestBuildScalesDegenerateDomain(t *testing.T) {
	dims, ok := ComputeDimensions(800, 400, 1)
	require.True(t, ok)

	series := []aggregate.ChartSeries{{Name: "a", Points: []aggregate.Point{{Time: t0, Value: 5}}}}
	sc := BuildScales(dims, series, nil)

	assert.Equal(t, t0.Add(-12*time.Hour), sc.X.Domain[0])
	assert.Equal(t, t0.Add(12*time.Hour), sc.X.Domain[1])
	assert.Equal(t, []string{"a"}, sc.Order)
}

func TestBuildScalesPadding(t *testing.T) {
	dims, _ := ComputeDimensions(800, 400, 1)
	series := []aggregate.ChartSeries{{Name: "a", Points: []aggregate.Point{
		{Time: t0, Value: 10},
		{Time: t0.Add(time.Hour), Value: 110},
	}}}
	sc := BuildScales(dims, series, nil)

	assert.Equal(t, [2]float64{0, 120}, sc.Y["a"].Domain)
	assert.Equal(t, t0, sc.X.Domain[0])
	assert.Equal(t, dims.Bottom(), sc.Y["a"].Range[0])
}

func TestBuildScalesFallsBackToBuckets(t *testing.T) {
	dims, _ := ComputeDimensions(800, 400, 0)
	buckets := []aggregate.TimeBucket{{Timestamp: t0}, {Timestamp: t0.Add(48 * time.Hour)}}
	sc := BuildScales(dims, []aggregate.ChartSeries{{Name: "empty"}}, buckets)

	assert.Equal(t, t0, sc.X.Domain[0])
	assert.Equal(t, t0.Add(48*time.Hour), sc.X.Domain[1])
	assert.Empty(t, sc.Order)
}

func TestMonotoneX(t *testing.T) {
	rec := NewRecorder()
	MonotoneX(rec, []Pt{{0, 0}, {10, 10}, {20, 10}, {30, 30}})

	ops := rec.Ops()
	require.Len(t, ops, 4)
	assert.Equal(t, "moveTo", ops[0].Kind)
	for _, op := range ops[1:] {
		assert.Equal(t, "bezierCurveTo", op.Kind)
	}

	// the flat middle segment has a zero tangent at x=10, so no overshoot
	mid := ops[2].Args
	assert.Equal(t, 10.0, mid[1])
	assert.GreaterOrEqual(t, mid[3], 10.0)

	rec = NewRecorder()
	MonotoneX(rec, []Pt{{0, 0}, {5, 5}})
	assert.Equal(t, []string{"moveTo", "lineTo"}, kinds(rec.Ops()))
}

func kinds(ops []Op) []string {
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = op.Kind
	}
	return out
}

func renderFixture() (Dimensions, Scales, []aggregate.ChartSeries, []annotation.Annotation) {
	var a, b []aggregate.Point
	for i := 0; i <= 6; i++ {
		ts := t0.Add(time.Duration(i) * time.Hour)
		a = append(a, aggregate.Point{Time: ts, Value: float64(i + 1)})
		b = append(b, aggregate.Point{Time: ts, Value: float64(100 + i*10)})
	}
	series := []aggregate.ChartSeries{{Name: "alpha", Points: a}, {Name: "beta", Points: b}}
	dims, _ := ComputeDimensions(800, 400, len(series))
	sc := BuildScales(dims, series, nil)

	anns := []annotation.Annotation{
		{ID: "1", StartDate: t0.Add(time.Hour), EndDate: t0.Add(3 * time.Hour), AnnotationType: annotation.TypeIncident, Color: "#1f78b4"},
		{ID: "2", StartDate: t0.Add(time.Hour), EndDate: t0.Add(2 * time.Hour), AnnotationType: annotation.TypeEvent, Deleted: true},
		{ID: "3", StartDate: t0.Add(10 * time.Hour), EndDate: t0.Add(11 * time.Hour), AnnotationType: annotation.TypeEvent},
		{ID: "4", StartDate: t0.Add(5 * time.Hour), EndDate: t0.Add(5*time.Hour + 5*time.Minute), AnnotationType: annotation.TypeOther},
	}
	return dims, sc, series, anns
}

func TestRender(t *testing.T) {
	dims, sc, series, anns := renderFixture()
	colors := func(name string) string {
		if name == "alpha" {
			return "#4269d0"
		}
		return "#efb118"
	}

	rec := NewRecorder()
	Render(rec, dims, sc, series, colors, anns)

	bands := rec.Filter("fillRect")
	require.Len(t, bands, 2, "deleted and off-screen annotations are skipped")
	assert.Equal(t, "#1f78b4", bands[0].Color)
	assert.Equal(t, BandAlpha, bands[0].Alpha)
	assert.InDelta(t, dims.Left()+dims.Width/6, bands[0].Args[0], 1e-9)
	assert.Equal(t, "rgba(108,117,125,0.3)", bands[1].Color, "untyped color falls back")

	var labels []string
	for _, op := range rec.Filter("text") {
		if op.Alpha == BandAlpha {
			labels = append(labels, op.Text)
		}
	}
	assert.Equal(t, []string{"Incident"}, labels, "narrow bands are not labelled")

	var lineStrokes int
	for _, op := range rec.Filter("stroke") {
		if op.Args[0] == LineWidth {
			lineStrokes++
		}
	}
	assert.Equal(t, 2, lineStrokes)

	// lines are pixel snapped: rounded x plus half a pixel
	moves := rec.Filter("moveTo")
	last := moves[len(moves)-1]
	assert.Equal(t, 0.5, last.Args[0]-math.Floor(last.Args[0]))

	ops := rec.Ops()
	assert.Equal(t, "stroke", ops[indexOf(ops, "fillRect")-1].Kind, "grid is drawn before bands")
}

func indexOf(ops []Op, kind string) int {
	for i, op := range ops {
		if op.Kind == kind {
			return i
		}
	}
	return -1
}

func TestPNGSurface(t *testing.T) {
	dims, sc, series, anns := renderFixture()

	s, err := NewPNGSurface(int(dims.CanvasWidth), int(dims.CanvasHeight), 2)
	require.NoError(t, err)
	Render(s, dims, sc, series, func(string) string { return "#4269d0" }, anns)

	var buf bytes.Buffer
	require.NoError(t, s.Save(&buf))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("\x89PNG")))

	_, err = NewPNGSurface(0, 10, 1)
	assert.Error(t, err)
}

func TestParseColor(t *testing.T) {
	c := parseColor("rgba(108,117,125,0.3)", 1)
	assert.Equal(t, uint8(108), c.R)
	assert.Equal(t, uint8(77), c.A)

	c = parseColor("#fff", 0.5)
	assert.Equal(t, uint8(255), c.G)
	assert.Equal(t, uint8(128), c.A)
}
