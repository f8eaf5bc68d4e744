package explorer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nicktill/tinylens/pkg/aggregate"
	"github.com/nicktill/tinylens/pkg/config"
	"github.com/nicktill/tinylens/pkg/logger"
)

var (
	ErrNoRange     = errors.New("start and end dates are required")
	ErrPanDisabled = errors.New("panning is disabled while the interval is auto")
	ErrNoStats     = errors.New("index has no documents for the current filter")
)

// Banner is the user-visible error of the last backend call. Stale marks
// that the shown result predates the failure.
type Banner struct {
	Message string
	Stale   bool
}

// Snapshot is the renderable state of the last aggregation.
type Snapshot struct {
	Params  aggregate.Params
	Buckets []aggregate.TimeBucket
	Terms   []string
	Series  []aggregate.ChartSeries
	Stale   bool
	Banner  *Banner
	Loading bool
}

// ChangeFunc is told about every range or filter change and returns the
// epoch of the annotation fetch it started, or 0.
type ChangeFunc func(ctx context.Context, f FormState, trigger string) uint64

// Orchestrator owns the form state and the aggregation result.
type Orchestrator struct {
	mu       sync.Mutex
	backend  AggregationBackend
	forms    *FormStore
	logger   logger.Logger
	onChange ChangeFunc

	state   FormState
	last    *aggregate.Params // params of the last successful fetch
	buckets []aggregate.TimeBucket
	terms   []string
	series  []aggregate.ChartSeries
	banner  *Banner
	loading bool
}

// NewOrchestrator restores saved form state. forms may be nil.
func NewOrchestrator(ctx context.Context, backend AggregationBackend, forms *FormStore, log logger.Logger) *Orchestrator {
	o := &Orchestrator{backend: backend, forms: forms, logger: log, state: DefaultFormState()}
	if forms != nil {
		o.state = forms.Load(ctx)
	}
	return o
}

// OnChange registers the range change listener.
func (o *Orchestrator) OnChange(fn ChangeFunc) {
	o.mu.Lock()
	o.onChange = fn
	o.mu.Unlock()
}

// State returns the current form.
func (o *Orchestrator) State() FormState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Update edits the form without fetching.
func (o *Orchestrator) Update(ctx context.Context, fn func(f *FormState)) {
	o.mu.Lock()
	fn(&o.state)
	state := o.state
	o.mu.Unlock()
	o.save(ctx, state)
}

// Validate checks the form before any network call.
func (o *Orchestrator) Validate() error {
	return o.State().Validate()
}

// Submit fetches for the current form and re-syncs annotations.
func (o *Orchestrator) Submit(ctx context.Context) (uint64, error) {
	if err := o.Validate(); err != nil {
		return 0, err
	}
	err := o.fetch(ctx, true)
	return o.notify(ctx, TriggerForm), err
}

// SetRange is the single path for range changes. It fetches when the
// resolved parameters changed and always re-syncs annotations.
func (o *Orchestrator) SetRange(ctx context.Context, start, end time.Time, trigger string) (uint64, error) {
	if start.IsZero() || end.IsZero() {
		return 0, ErrNoRange
	}
	if start.After(end) {
		start, end = end, start
	}

	o.mu.Lock()
	o.state.StartDate = start.UTC()
	o.state.EndDate = end.UTC()
	state := o.state
	o.mu.Unlock()
	o.save(ctx, state)

	var err error
	if state.Validate() == nil {
		err = o.fetch(ctx, false)
	}
	return o.notify(ctx, trigger), err
}

// ZoomIn narrows the range by 15% on each side.
func (o *Orchestrator) ZoomIn(ctx context.Context) (uint64, error) {
	return o.scaleRange(ctx, -config.ZoomInRatio, TriggerZoomIn)
}

// ZoomOut widens the range by 20% on each side.
func (o *Orchestrator) ZoomOut(ctx context.Context) (uint64, error) {
	return o.scaleRange(ctx, config.ZoomOutRatio, TriggerZoomOut)
}

func (o *Orchestrator) scaleRange(ctx context.Context, ratio float64, trigger string) (uint64, error) {
	f := o.State()
	if f.StartDate.IsZero() || f.EndDate.IsZero() {
		return 0, ErrNoRange
	}
	adj := time.Duration(float64(f.EndDate.Sub(f.StartDate)) * ratio)
	return o.SetRange(ctx, f.StartDate.Add(-adj), f.EndDate.Add(adj), trigger)
}

// Pan shifts the range by one navigation interval; negative steps move
// back in time. Unparseable steps fall back to 15m.
func (o *Orchestrator) Pan(ctx context.Context, step string, forward bool) (uint64, error) {
	f := o.State()
	if f.Interval == config.AutoInterval {
		return 0, ErrPanDisabled
	}
	if f.StartDate.IsZero() || f.EndDate.IsZero() {
		return 0, ErrNoRange
	}
	shift, err := aggregate.ParseInterval(step)
	if err != nil {
		shift = 15 * time.Minute
	}
	if !forward {
		shift = -shift
	}
	return o.SetRange(ctx, f.StartDate.Add(shift), f.EndDate.Add(shift), TriggerPan)
}

// ZoomToFullHistory loads the index's date extent, sets the interval to
// auto and fetches.
func (o *Orchestrator) ZoomToFullHistory(ctx context.Context) (uint64, error) {
	f := o.State()
	if f.SelectedIndex == "" || f.Timestamp == "" {
		return 0, fmt.Errorf("%w: index, timestamp", ErrMissingFields)
	}

	stats, err := o.backend.Stats(ctx, f.SelectedIndex, f.Timestamp, f.FilterField, f.FilterValue)
	if err != nil {
		o.fail(err)
		return 0, err
	}
	if stats == nil || stats.MinDate.IsZero() || stats.MaxDate.IsZero() {
		o.fail(ErrNoStats)
		return 0, ErrNoStats
	}

	o.mu.Lock()
	o.state.Interval = config.AutoInterval
	o.mu.Unlock()
	return o.SetRange(ctx, stats.MinDate, stats.MaxDate, TriggerFullHistory)
}

// Refresh re-runs the current aggregation even when nothing changed.
func (o *Orchestrator) Refresh(ctx context.Context) error {
	if err := o.Validate(); err != nil {
		return err
	}
	return o.fetch(ctx, true)
}

// ResetSavedSettings clears persisted state and restores defaults.
func (o *Orchestrator) ResetSavedSettings(ctx context.Context) error {
	o.mu.Lock()
	o.state = DefaultFormState()
	o.last = nil
	o.buckets, o.terms, o.series = nil, nil, nil
	o.banner = nil
	o.mu.Unlock()

	if o.forms == nil {
		return nil
	}
	return o.forms.Clear(ctx)
}

// Snapshot returns the current result.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := Snapshot{
		Buckets: o.buckets,
		Terms:   o.terms,
		Series:  o.series,
		Loading: o.loading,
	}
	if o.last != nil {
		s.Params = *o.last
	}
	if o.banner != nil {
		b := *o.banner
		s.Banner = &b
		s.Stale = b.Stale
	}
	return s
}

func (o *Orchestrator) fetch(ctx context.Context, force bool) error {
	o.mu.Lock()
	params := o.state.Params()
	if !force && o.last != nil && sameParams(*o.last, params) {
		o.mu.Unlock()
		return nil
	}
	o.loading = true
	o.mu.Unlock()

	start := time.Now()
	res, err := o.backend.Aggregate(ctx, params)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.loading = false
	if err != nil {
		o.failLocked(err)
		return err
	}

	o.last = &params
	o.buckets = res.Buckets
	o.terms = aggregate.UniqueTerms(res.Buckets)
	o.series = aggregate.Transform(res.Buckets, o.terms)
	o.banner = nil
	o.logger.Debug("aggregation loaded",
		"index", params.Index,
		"interval", params.Interval,
		"buckets", len(res.Buckets),
		"duration", time.Since(start))
	return nil
}

func (o *Orchestrator) fail(err error) {
	o.mu.Lock()
	o.failLocked(err)
	o.mu.Unlock()
}

func (o *Orchestrator) failLocked(err error) {
	o.banner = &Banner{Message: err.Error(), Stale: o.last != nil}
	o.logger.Warn("aggregation failed", "error", err)
}

func (o *Orchestrator) notify(ctx context.Context, trigger string) uint64 {
	o.mu.Lock()
	fn, state := o.onChange, o.state
	o.mu.Unlock()
	if fn == nil {
		return 0
	}
	return fn(ctx, state, trigger)
}

func (o *Orchestrator) save(ctx context.Context, f FormState) {
	if o.forms == nil {
		return
	}
	if err := o.forms.Save(ctx, f); err != nil {
		o.logger.Warn("failed to save form state", "error", err)
	}
}

func sameParams(a, b aggregate.Params) bool {
	return a.Index == b.Index && a.Term == b.Term && a.Interval == b.Interval &&
		a.NumericField == b.NumericField && a.Timestamp == b.Timestamp &&
		a.StartDate.Equal(b.StartDate) && a.EndDate.Equal(b.EndDate) &&
		a.FilterField == b.FilterField && a.FilterValue == b.FilterValue
}
