package chart

import (
	"fmt"
	"sync"
)

// Align is horizontal text alignment relative to the anchor.
type Align int

const (
	AlignLeft Align = iota
	AlignCenter
	AlignRight
)

// Baseline is vertical text alignment relative to the anchor.
type Baseline int

const (
	BaselineAlphabetic Baseline = iota
	BaselineTop
	BaselineMiddle
)

// TextStyle configures one Text call. Sizes are CSS pixels.
type TextStyle struct {
	Color    string
	Size     float64
	Bold     bool
	Align    Align
	Baseline Baseline
	Rotation float64 // radians, around the anchor
	MaxWidth float64 // 0 = unbounded
}

// Surface is a 2D drawing target in CSS pixel coordinates. Implementations
// apply the device pixel ratio themselves.
type Surface interface {
	Path

	// BeginPath discards any pending path.
	BeginPath()
	Stroke(color string, width float64)
	FillRect(x, y, w, h float64, color string)
	Text(s string, x, y float64, st TextStyle)

	// SetAlpha sets the global alpha applied to later operations.
	SetAlpha(a float64)
	// SetOffset translates later operations.
	SetOffset(dx, dy float64)
}

// Op is one recorded drawing call.
type Op struct {
	Kind  string
	Args  []float64
	Text  string
	Color string
	Alpha float64
}

func (o Op) String() string {
	return fmt.Sprintf("%s%v %q %s a=%.2f", o.Kind, o.Args, o.Text, o.Color, o.Alpha)
}

// Recorder is a Surface that records calls. Useful for tests and for
// serving draw lists to clients that do their own rasterizing.
type Recorder struct {
	mu     sync.Mutex
	ops    []Op
	alpha  float64
	dx, dy float64
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{alpha: 1}
}

// Ops returns a copy of the recorded calls.
func (r *Recorder) Ops() []Op {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Op(nil), r.ops...)
}

// Filter returns recorded calls of the given kind.
func (r *Recorder) Filter(kind string) []Op {
	var out []Op
	for _, op := range r.Ops() {
		if op.Kind == kind {
			out = append(out, op)
		}
	}
	return out
}

func (r *Recorder) add(op Op) {
	r.mu.Lock()
	defer r.mu.Unlock()
	op.Alpha = r.alpha
	r.ops = append(r.ops, op)
}

func (r *Recorder) shift(xy ...float64) []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]float64, len(xy))
	for i, v := range xy {
		if i%2 == 0 {
			out[i] = v + r.dx
		} else {
			out[i] = v + r.dy
		}
	}
	return out
}

func (r *Recorder) BeginPath()          { r.add(Op{Kind: "beginPath"}) }
func (r *Recorder) MoveTo(x, y float64) { r.add(Op{Kind: "moveTo", Args: r.shift(x, y)}) }
func (r *Recorder) LineTo(x, y float64) { r.add(Op{Kind: "lineTo", Args: r.shift(x, y)}) }

func (r *Recorder) BezierCurveTo(c1x, c1y, c2x, c2y, x, y float64) {
	r.add(Op{Kind: "bezierCurveTo", Args: r.shift(c1x, c1y, c2x, c2y, x, y)})
}

func (r *Recorder) Stroke(color string, width float64) {
	r.add(Op{Kind: "stroke", Args: []float64{width}, Color: color})
}

func (r *Recorder) FillRect(x, y, w, h float64, color string) {
	xy := r.shift(x, y)
	r.add(Op{Kind: "fillRect", Args: []float64{xy[0], xy[1], w, h}, Color: color})
}

func (r *Recorder) Text(s string, x, y float64, st TextStyle) {
	r.add(Op{Kind: "text", Args: r.shift(x, y), Text: s, Color: st.Color})
}

func (r *Recorder) SetAlpha(a float64) {
	r.mu.Lock()
	r.alpha = a
	r.mu.Unlock()
}

func (r *Recorder) SetOffset(dx, dy float64) {
	r.mu.Lock()
	r.dx, r.dy = dx, dy
	r.mu.Unlock()
}
