package chart

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	gochart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

// PNGSurface rasterizes onto a go-chart renderer. Coordinates are CSS
// pixels; the backing image is scaled by the device pixel ratio.
type PNGSurface struct {
	r      gochart.Renderer
	dpr    float64
	alpha  float64
	dx, dy float64
	path   []pathOp
}

type pathOp struct {
	move bool
	x, y float64
}

// bezierSteps is the number of line segments a cubic is flattened into.
const bezierSteps = 12

// NewPNGSurface creates a white canvas of width×height CSS pixels.
func NewPNGSurface(width, height int, dpr float64) (*PNGSurface, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid canvas size %dx%d", width, height)
	}
	if dpr <= 0 {
		dpr = 1
	}
	r, err := gochart.PNG(int(math.Round(float64(width)*dpr)), int(math.Round(float64(height)*dpr)))
	if err != nil {
		return nil, fmt.Errorf("failed to create png renderer: %w", err)
	}
	font, err := gochart.GetDefaultFont()
	if err != nil {
		return nil, fmt.Errorf("failed to load font: %w", err)
	}
	// 72 dpi makes font points equal to device pixels.
	r.SetDPI(72)
	r.SetFont(font)

	s := &PNGSurface{r: r, dpr: dpr, alpha: 1}
	s.FillRect(0, 0, float64(width), float64(height), "white")
	return s, nil
}

// Save encodes the canvas as PNG.
func (s *PNGSurface) Save(w io.Writer) error {
	return s.r.Save(w)
}

func (s *PNGSurface) px(x, y float64) (int, int) {
	return int(math.Round((x + s.dx) * s.dpr)), int(math.Round((y + s.dy) * s.dpr))
}

func (s *PNGSurface) BeginPath() { s.path = s.path[:0] }

func (s *PNGSurface) MoveTo(x, y float64) {
	s.path = append(s.path, pathOp{move: true, x: x, y: y})
}

func (s *PNGSurface) LineTo(x, y float64) {
	s.path = append(s.path, pathOp{x: x, y: y})
}

func (s *PNGSurface) BezierCurveTo(c1x, c1y, c2x, c2y, x, y float64) {
	if len(s.path) == 0 {
		s.MoveTo(c1x, c1y)
	}
	last := s.path[len(s.path)-1]
	x0, y0 := last.x, last.y
	for i := 1; i <= bezierSteps; i++ {
		t := float64(i) / bezierSteps
		u := 1 - t
		bx := u*u*u*x0 + 3*u*u*t*c1x + 3*u*t*t*c2x + t*t*t*x
		by := u*u*u*y0 + 3*u*u*t*c1y + 3*u*t*t*c2y + t*t*t*y
		s.LineTo(bx, by)
	}
}

func (s *PNGSurface) Stroke(color string, width float64) {
	if len(s.path) == 0 {
		return
	}
	s.r.ResetStyle()
	s.r.SetStrokeColor(parseColor(color, s.alpha))
	s.r.SetStrokeWidth(width * s.dpr)
	for _, op := range s.path {
		x, y := s.px(op.x, op.y)
		if op.move {
			s.r.MoveTo(x, y)
		} else {
			s.r.LineTo(x, y)
		}
	}
	s.r.Stroke()
	s.path = s.path[:0]
}

func (s *PNGSurface) FillRect(x, y, w, h float64, color string) {
	x0, y0 := s.px(x, y)
	x1, y1 := s.px(x+w, y+h)
	s.r.ResetStyle()
	s.r.SetFillColor(parseColor(color, s.alpha))
	s.r.MoveTo(x0, y0)
	s.r.LineTo(x1, y0)
	s.r.LineTo(x1, y1)
	s.r.LineTo(x0, y1)
	s.r.Close()
	s.r.Fill()
}

func (s *PNGSurface) Text(body string, x, y float64, st TextStyle) {
	size := st.Size
	if size <= 0 {
		size = FontSize
	}
	s.r.ResetStyle()
	s.r.SetFontColor(parseColor(st.Color, s.alpha))
	s.r.SetFontSize(size * s.dpr)

	box := s.r.MeasureText(body)
	w, h := float64(box.Width())/s.dpr, float64(box.Height())/s.dpr
	if st.MaxWidth > 0 && w > st.MaxWidth {
		scale := st.MaxWidth / w
		s.r.SetFontSize(size * scale * s.dpr)
		w, h = w*scale, h*scale
	}

	// go-chart anchors text at the left baseline.
	var ox, oy float64
	switch st.Align {
	case AlignCenter:
		ox = -w / 2
	case AlignRight:
		ox = -w
	}
	switch st.Baseline {
	case BaselineTop:
		oy = h
	case BaselineMiddle:
		oy = h / 2
	}

	if st.Rotation != 0 {
		s.r.SetTextRotation(st.Rotation)
		defer s.r.ClearTextRotation()
		// rotate the alignment offset with the text
		sin, cos := math.Sincos(st.Rotation)
		ox, oy = ox*cos-oy*sin, ox*sin+oy*cos
	}

	px, py := s.px(x+ox, y+oy)
	s.r.Text(body, px, py)
}

func (s *PNGSurface) SetAlpha(a float64)       { s.alpha = a }
func (s *PNGSurface) SetOffset(dx, dy float64) { s.dx, s.dy = dx, dy }

// parseColor understands #rgb, #rrggbb, rgb(), rgba() and a few names.
// alpha multiplies the color's own alpha.
func parseColor(c string, alpha float64) drawing.Color {
	c = strings.TrimSpace(strings.ToLower(c))
	var col drawing.Color
	switch {
	case c == "" || c == "black":
		col = drawing.Color{A: 255}
	case c == "white":
		col = drawing.Color{R: 255, G: 255, B: 255, A: 255}
	case strings.HasPrefix(c, "#"):
		col = drawing.ColorFromHex(expandHex(strings.TrimPrefix(c, "#")))
	case strings.HasPrefix(c, "rgb"):
		col = parseRGBA(c)
	default:
		col = drawing.Color{A: 255}
	}
	col.A = uint8(math.Round(float64(col.A) * clamp01(alpha)))
	return col
}

func expandHex(h string) string {
	if len(h) != 3 {
		return h
	}
	return string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
}

func parseRGBA(c string) drawing.Color {
	open, end := strings.Index(c, "("), strings.LastIndex(c, ")")
	if open < 0 || end < open {
		return drawing.Color{A: 255}
	}
	parts := strings.Split(c[open+1:end], ",")
	vals := []float64{0, 0, 0, 1}
	for i := 0; i < len(parts) && i < 4; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(parts[i]), 64)
		if err == nil {
			vals[i] = v
		}
	}
	return drawing.Color{
		R: uint8(math.Max(0, math.Min(255, vals[0]))),
		G: uint8(math.Max(0, math.Min(255, vals[1]))),
		B: uint8(math.Max(0, math.Min(255, vals[2]))),
		A: uint8(math.Round(clamp01(vals[3]) * 255)),
	}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
