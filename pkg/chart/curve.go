package chart

import "math"

// Pt is a point in pixel space.
type Pt struct{ X, Y float64 }

// Path is the sink for curve segments.
type Path interface {
	MoveTo(x, y float64)
	LineTo(x, y float64)
	BezierCurveTo(c1x, c1y, c2x, c2y, x, y float64)
}

// MonotoneX traces pts with a cubic curve that preserves monotonicity in
// y, assuming pts are sorted by x (Steffen's method).
func MonotoneX(p Path, pts []Pt) {
	switch len(pts) {
	case 0:
		return
	case 1:
		p.MoveTo(pts[0].X, pts[0].Y)
		return
	case 2:
		p.MoveTo(pts[0].X, pts[0].Y)
		p.LineTo(pts[1].X, pts[1].Y)
		return
	}

	n := len(pts)
	t := make([]float64, n)
	for i := 1; i < n-1; i++ {
		t[i] = slope3(pts[i-1], pts[i], pts[i+1])
	}
	t[0] = slope2(pts[0], pts[1], t[1])
	t[n-1] = slope2(pts[n-2], pts[n-1], t[n-2])

	p.MoveTo(pts[0].X, pts[0].Y)
	for i := 0; i < n-1; i++ {
		a, b := pts[i], pts[i+1]
		dx := (b.X - a.X) / 3
		p.BezierCurveTo(a.X+dx, a.Y+dx*t[i], b.X-dx, b.Y-dx*t[i+1], b.X, b.Y)
	}
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}

// slope3 is the tangent at b given its neighbours.
func slope3(a, b, c Pt) float64 {
	h0, h1 := b.X-a.X, c.X-b.X
	if h0 == 0 && h1 == 0 {
		return 0
	}
	var s0, s1 float64
	if h0 != 0 {
		s0 = (b.Y - a.Y) / h0
	}
	if h1 != 0 {
		s1 = (c.Y - b.Y) / h1
	}
	p := (s0*h1 + s1*h0) / (h0 + h1)
	m := (sign(s0) + sign(s1)) * math.Min(math.Min(math.Abs(s0), math.Abs(s1)), 0.5*math.Abs(p))
	if math.IsNaN(m) {
		return 0
	}
	return m
}

// slope2 is the one-sided tangent at an end of segment a-b.
func slope2(a, b Pt, t float64) float64 {
	h := b.X - a.X
	if h == 0 {
		return t
	}
	return (3*(b.Y-a.Y)/h - t) / 2
}
