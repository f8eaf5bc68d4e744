package brush

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinylens/pkg/chart"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func fixture(t *testing.T) (chart.Dimensions, chart.TimeScale) {
	t.Helper()
	dims, ok := chart.ComputeDimensions(860, 400, 1) // plot area 800px wide
	require.True(t, ok)
	return dims, chart.NewTimeScale(t0, t0.Add(8*time.Hour), dims.Left(), dims.Right())
}

func TestZoomCallsRangeChange(t *testing.T) {
	dims, scale := fixture(t)

	var gotStart, gotEnd time.Time
	var gotTrigger string
	c := NewController(func(s, e time.Time, trig string) {
		gotStart, gotEnd, gotTrigger = s, e, trig
	}, func(Selection) { t.Fatal("annotation callback must not fire in zoom mode") })
	c.SetExtent(dims)
	c.SetMode(ModeZoom)

	sel := c.End(dims.Left()+300, dims.Left()+100, scale)
	assert.True(t, sel.IsActive)
	assert.Equal(t, t0.Add(time.Hour), gotStart)
	assert.Equal(t, t0.Add(3*time.Hour), gotEnd)
	assert.Equal(t, Trigger, gotTrigger)
	assert.False(t, c.Selection().IsActive, "a zoom consumes the selection")
}

func TestAnnotationModePromptsWithoutRangeChange(t *testing.T) {
	dims, scale := fixture(t)

	var prompted Selection
	c := NewController(func(time.Time, time.Time, string) {
		t.Fatal("range must not change in annotation mode")
	}, func(s Selection) { prompted = s })
	c.SetExtent(dims)
	c.SetMode(ModeAnnotation)

	// dragging past the plot edge is clamped to the extent
	c.End(dims.Left()-50, dims.Left()+200, scale)
	assert.Equal(t, t0, prompted.StartDate)
	assert.Equal(t, t0.Add(2*time.Hour), prompted.EndDate)
	assert.Equal(t, prompted, c.Selection())

	c.Reset()
	assert.Equal(t, Selection{}, c.Selection())
	assert.True(t, c.Selection().Empty())
}

func TestDisabledAndEmpty(t *testing.T) {
	dims, scale := fixture(t)
	calls := 0
	c := NewController(func(time.Time, time.Time, string) { calls++ }, func(Selection) { calls++ })
	c.SetExtent(dims)

	assert.False(t, c.Active())
	assert.Equal(t, Selection{}, c.End(dims.Left(), dims.Left()+100, scale))

	c.SetMode(ModeZoom)
	assert.True(t, c.Active())
	assert.False(t, c.End(dims.Left()+10, dims.Left()+10, scale).IsActive)
	assert.False(t, c.EndEmpty().IsActive)
	assert.Zero(t, calls)
}

func TestParseMode(t *testing.T) {
	for _, m := range []Mode{ModeDisabled, ModeAnnotation, ModeZoom} {
		got, err := ParseMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	_, err := ParseMode("pan")
	assert.Error(t, err)
}
