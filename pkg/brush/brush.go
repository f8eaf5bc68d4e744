// Package brush turns a horizontal drag over the chart into a date range,
// either zooming the view or starting an annotation.
package brush

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/nicktill/tinylens/pkg/chart"
)

// Trigger tags range changes that come from a zoom brush.
const Trigger = "brush"

// Mode selects what a completed brush does.
type Mode int

const (
	ModeDisabled Mode = iota
	ModeAnnotation
	ModeZoom
)

func (m Mode) String() string {
	switch m {
	case ModeAnnotation:
		return "annotation"
	case ModeZoom:
		return "zoom"
	default:
		return "disabled"
	}
}

// ParseMode is the inverse of Mode.String.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "disabled", "":
		return ModeDisabled, nil
	case "annotation":
		return ModeAnnotation, nil
	case "zoom":
		return ModeZoom, nil
	}
	return ModeDisabled, fmt.Errorf("unknown brush mode %q", s)
}

// Selection is the outcome of the last brush gesture.
type Selection struct {
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
	IsActive  bool      `json:"isActive"`
}

// Empty reports whether the selection carries no range.
func (s Selection) Empty() bool {
	return s.StartDate.IsZero() || s.EndDate.IsZero()
}

// RangeFunc receives zoom selections.
type RangeFunc func(start, end time.Time, trigger string)

// AnnotateFunc receives annotation selections.
type AnnotateFunc func(sel Selection)

// Controller is the brush state machine.
type Controller struct {
	mu         sync.Mutex
	mode       Mode
	selection  Selection
	extent     [2]float64
	onRange    RangeFunc
	onAnnotate AnnotateFunc
}

// NewController creates a disabled brush. Either callback may be nil.
func NewController(onRange RangeFunc, onAnnotate AnnotateFunc) *Controller {
	return &Controller{onRange: onRange, onAnnotate: onAnnotate}
}

// SetMode switches mode. The current selection is kept.
func (c *Controller) SetMode(m Mode) {
	c.mu.Lock()
	c.mode = m
	c.mu.Unlock()
}

func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Active reports whether the brush captures pointer input.
func (c *Controller) Active() bool {
	return c.Mode() != ModeDisabled
}

// SetExtent limits brushing to the plot area.
func (c *Controller) SetExtent(dims chart.Dimensions) {
	c.mu.Lock()
	c.extent = [2]float64{dims.Left(), dims.Right()}
	c.mu.Unlock()
}

// Selection returns the last selection.
func (c *Controller) Selection() Selection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selection
}

// End completes a drag from pixel x0 to x1 and dispatches it per mode.
// It returns the selection. A zoom consumes it at once; an annotation
// selection stays active until Reset.
func (c *Controller) End(x0, x1 float64, scale chart.TimeScale) Selection {
	c.mu.Lock()
	if c.mode == ModeDisabled {
		c.mu.Unlock()
		return Selection{}
	}
	if x1 < x0 {
		x0, x1 = x1, x0
	}
	if c.extent[1] > c.extent[0] {
		x0 = clamp(x0, c.extent[0], c.extent[1])
		x1 = clamp(x1, c.extent[0], c.extent[1])
	}
	if x0 == x1 {
		c.mu.Unlock()
		return c.EndEmpty()
	}

	sel := Selection{StartDate: scale.Invert(x0), EndDate: scale.Invert(x1), IsActive: true}
	c.selection = sel
	mode, onRange, onAnnotate := c.mode, c.onRange, c.onAnnotate
	c.mu.Unlock()

	// callbacks run unlocked so they may call back into the controller
	switch mode {
	case ModeZoom:
		if onRange != nil {
			onRange(sel.StartDate, sel.EndDate, Trigger)
		}
		c.Reset()
	case ModeAnnotation:
		if onAnnotate != nil {
			onAnnotate(sel)
		}
	}
	return sel
}

// EndEmpty records a cancelled drag.
func (c *Controller) EndEmpty() Selection {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selection = Selection{}
	return c.selection
}

// Reset clears the selection after it has been consumed.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.selection = Selection{}
	c.mu.Unlock()
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
