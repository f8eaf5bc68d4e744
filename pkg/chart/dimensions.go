package chart

// Layout constants in CSS pixels.
const (
	MarginTop      = 20
	MarginRight    = 0
	MarginBottom   = 40
	MarginLeftBase = 60
	AxisSpacing    = 40
)

// Margin is the space reserved around the plot area.
type Margin struct {
	Top, Right, Bottom, Left float64
}

// Dimensions describes the canvas and its inner plot area.
type Dimensions struct {
	Margin       Margin
	Width        float64 // plot area
	Height       float64
	CanvasWidth  float64
	CanvasHeight float64
}

// ComputeDimensions lays out a canvas for visibleCount Y axes stacked to
// the left. ok is false when the plot area would be empty.
func ComputeDimensions(canvasWidth, canvasHeight float64, visibleCount int) (Dimensions, bool) {
	left := float64(MarginLeftBase)
	if visibleCount > 1 {
		left += float64((visibleCount - 1) * AxisSpacing)
	}
	m := Margin{Top: MarginTop, Right: MarginRight, Bottom: MarginBottom, Left: left}

	d := Dimensions{
		Margin:       m,
		Width:        canvasWidth - m.Left - m.Right,
		Height:       canvasHeight - m.Top - m.Bottom,
		CanvasWidth:  canvasWidth,
		CanvasHeight: canvasHeight,
	}
	return d, d.Width > 0 && d.Height > 0
}

// Left is the x of the plot area's left edge.
func (d Dimensions) Left() float64 { return d.Margin.Left }

// Right is the x of the plot area's right edge.
func (d Dimensions) Right() float64 { return d.Margin.Left + d.Width }

// Top is the y of the plot area's top edge.
func (d Dimensions) Top() float64 { return d.Margin.Top }

// Bottom is the y of the plot area's bottom edge.
func (d Dimensions) Bottom() float64 { return d.Margin.Top + d.Height }
