package explorer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nicktill/tinylens/pkg/aggregate"
	"github.com/nicktill/tinylens/pkg/annotation"
	"github.com/nicktill/tinylens/pkg/brush"
	"github.com/nicktill/tinylens/pkg/chart"
	"github.com/nicktill/tinylens/pkg/config"
	"github.com/nicktill/tinylens/pkg/logger"
	"github.com/nicktill/tinylens/pkg/palette"
	"github.com/nicktill/tinylens/pkg/sidebar"
	"github.com/nicktill/tinylens/pkg/storage"
)

var (
	ErrNoPlotArea = errors.New("canvas too small to plot")
	ErrNoFrame    = errors.New("chart has not been rendered")
	ErrNoBrush    = errors.New("no active brush selection")
)

// Backend is everything a session talks to.
type Backend interface {
	AggregationBackend
	AnnotationBackend
}

// SessionOptions configures a Session.
type SessionOptions struct {
	User               annotation.User
	PageSize           int
	ReloadOnPageChange bool
}

// Session is one explorer view: the form, the chart, the brush, the
// annotation overlay and the sidebar, wired together.
type Session struct {
	ctx    context.Context
	logger logger.Logger
	user   annotation.User

	orch         *Orchestrator
	feed         *AnnotationFeed
	side         *sidebar.Synchronizer
	brush        *brush.Controller
	seriesColors *palette.Service
	typeColors   *palette.Service

	mu      sync.Mutex
	pending *FetchResult // navigation result, delivered after the sidebar knows its epoch
	sideKey *AnnotationKey // key of the last list the sidebar accepted
	draft   *brush.Selection
	frame   *frame
	hidden  map[string]bool
}

type frame struct {
	dims   chart.Dimensions
	scales chart.Scales
}

// NewSession restores client-local state from kv and wires the view.
// ctx bounds the requests started from sidebar and brush callbacks.
func NewSession(ctx context.Context, backend Backend, kv storage.KV, opts SessionOptions, log logger.Logger) (*Session, error) {
	seriesColors, err := palette.New(ctx, kv, config.SeriesColorsKey, palette.Observable10, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load series colors: %w", err)
	}
	typeColors, err := palette.New(ctx, kv, config.AnnotationTypeColorKey, palette.Paired12, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load annotation colors: %w", err)
	}

	s := &Session{
		ctx:          ctx,
		logger:       log,
		user:         opts.User,
		seriesColors: seriesColors,
		typeColors:   typeColors,
		hidden:       make(map[string]bool),
	}
	s.orch = NewOrchestrator(ctx, backend, NewFormStore(kv, log), log)
	s.feed = NewAnnotationFeed(backend, typeColors, log)
	s.side = sidebar.New(sidebar.Options{
		PageSize:           opts.PageSize,
		ReloadOnPageChange: opts.ReloadOnPageChange,
		OnRange:            s.sidebarRange,
		OnReload:           s.sidebarReload,
	})
	s.brush = brush.NewController(s.brushRange, s.brushAnnotate)
	s.orch.OnChange(s.rangeChanged)
	return s, nil
}

func (s *Session) Orchestrator() *Orchestrator    { return s.orch }
func (s *Session) Feed() *AnnotationFeed           { return s.feed }
func (s *Session) Sidebar() *sidebar.Synchronizer { return s.side }
func (s *Session) Brush() *brush.Controller        { return s.brush }

// rangeChanged re-syncs annotations after every range or filter change.
func (s *Session) rangeChanged(ctx context.Context, f FormState, trigger string) uint64 {
	res, err := s.feed.Sync(ctx, f.AnnotationKey())
	if err != nil {
		s.logger.Warn("annotation sync failed", "trigger", trigger, "error", err)
		return 0
	}
	if !res.Fetched {
		return 0
	}
	if trigger == sidebar.TriggerNavigate {
		s.mu.Lock()
		s.pending = &res
		s.mu.Unlock()
		return res.Epoch
	}
	s.receive(res)
	return res.Epoch
}

// receive hands a fetch result to the sidebar and records which key the
// sidebar list reflects when it is accepted.
func (s *Session) receive(res FetchResult) bool {
	if !s.side.Receive(res.Epoch, res.Annotations) {
		return false
	}
	key := res.Key
	s.mu.Lock()
	s.sideKey = &key
	s.mu.Unlock()
	return true
}

// preservedKey returns the sidebar's key when its list no longer matches
// the feed, as after navigating to an annotation.
func (s *Session) preservedKey() (AnnotationKey, bool) {
	feedKey, ok := s.feed.Key()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sideKey == nil || !ok || s.sideKey.equal(feedKey) {
		return AnnotationKey{}, false
	}
	return *s.sideKey, true
}

func (s *Session) sidebarRange(start, end time.Time, trigger string) uint64 {
	epoch, err := s.orch.SetRange(s.ctx, start, end, trigger)
	if err != nil {
		s.logger.Warn("range change failed", "trigger", trigger, "error", err)
	}
	return epoch
}

func (s *Session) sidebarReload() uint64 {
	if key, ok := s.preservedKey(); ok {
		list, err := s.feed.Search(s.ctx, key)
		if err != nil {
			s.logger.Warn("annotation reload failed", "error", err)
			list = s.side.List()
		}
		s.side.Receive(0, list)
		return 0
	}
	res, err := s.feed.Load(s.ctx)
	if err != nil {
		s.logger.Warn("annotation reload failed", "error", err)
	}
	s.deliverRefresh(res)
	return res.Epoch
}

func (s *Session) brushRange(start, end time.Time, trigger string) {
	if _, err := s.orch.SetRange(s.ctx, start, end, trigger); err != nil {
		s.logger.Warn("brush zoom failed", "error", err)
	}
}

func (s *Session) brushAnnotate(sel brush.Selection) {
	s.mu.Lock()
	s.draft = &sel
	s.mu.Unlock()
}

// deliverPending hands a navigation result to the sidebar once the
// sidebar has recorded the epoch it must discard.
func (s *Session) deliverPending() {
	s.mu.Lock()
	res := s.pending
	s.pending = nil
	s.mu.Unlock()
	if res != nil {
		s.receive(*res)
	}
}

// deliverRefresh completes a Refreshing sidebar. Without a fresh result
// the feed's current list is delivered untagged.
func (s *Session) deliverRefresh(res FetchResult) {
	if res.Fetched {
		s.receive(res)
		return
	}
	if s.side.State() == sidebar.Refreshing {
		key, _ := s.feed.Key()
		s.receive(FetchResult{Key: key, Annotations: s.feed.Annotations()})
	}
}

// Submit validates the form and loads data.
func (s *Session) Submit(ctx context.Context) error {
	_, err := s.orch.Submit(ctx)
	return err
}

// SetRange changes the view range from outside the chart.
func (s *Session) SetRange(ctx context.Context, start, end time.Time) error {
	_, err := s.orch.SetRange(ctx, start, end, TriggerExternal)
	return err
}

func (s *Session) ZoomIn(ctx context.Context) error {
	_, err := s.orch.ZoomIn(ctx)
	return err
}

func (s *Session) ZoomOut(ctx context.Context) error {
	_, err := s.orch.ZoomOut(ctx)
	return err
}

// Pan shifts the view by step, e.g. "1h".
func (s *Session) Pan(ctx context.Context, step string, forward bool) error {
	_, err := s.orch.Pan(ctx, step, forward)
	return err
}

func (s *Session) ZoomToFullHistory(ctx context.Context) error {
	_, err := s.orch.ZoomToFullHistory(ctx)
	return err
}

// SetBrushMode switches between disabled, annotation and zoom brushing.
// Leaving annotation mode discards an unsaved draft.
func (s *Session) SetBrushMode(m brush.Mode) {
	s.brush.SetMode(m)
	if m != brush.ModeAnnotation {
		s.CancelAnnotation()
	}
}

// Render draws the current result with the annotation overlay. Hidden
// series are left out of both the lines and the axes.
func (s *Session) Render(surface chart.Surface, width, height float64) error {
	snap := s.orch.Snapshot()
	visible := s.visibleSeries(snap.Series)

	dims, ok := chart.ComputeDimensions(width, height, len(visible))
	if !ok {
		return ErrNoPlotArea
	}
	sc := chart.BuildScales(dims, visible, snap.Buckets)
	s.brush.SetExtent(dims)

	s.mu.Lock()
	s.frame = &frame{dims: dims, scales: sc}
	s.mu.Unlock()

	chart.Render(surface, dims, sc, visible, s.seriesColors.ColorFor, s.feed.Annotations())
	return nil
}

func (s *Session) visibleSeries(all []aggregate.ChartSeries) []aggregate.ChartSeries {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]aggregate.ChartSeries, 0, len(all))
	for _, cs := range all {
		if !s.hidden[cs.Name] {
			out = append(out, cs)
		}
	}
	return out
}

// ToggleSeries hides or shows a series and reports whether it is now visible.
func (s *Session) ToggleSeries(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hidden[name] {
		delete(s.hidden, name)
		return true
	}
	s.hidden[name] = true
	return false
}

// BrushEnd completes a drag between two pixel positions of the last
// rendered frame.
func (s *Session) BrushEnd(x0, x1 float64) (brush.Selection, error) {
	s.mu.Lock()
	fr := s.frame
	s.mu.Unlock()
	if fr == nil {
		return brush.Selection{}, ErrNoFrame
	}
	return s.brush.End(x0, x1, fr.scales.X), nil
}

// PendingSelection returns the brushed range awaiting an annotation.
func (s *Session) PendingSelection() (brush.Selection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draft == nil {
		return brush.Selection{}, false
	}
	return *s.draft, true
}

// CancelAnnotation drops the brushed range.
func (s *Session) CancelAnnotation() {
	s.mu.Lock()
	s.draft = nil
	s.mu.Unlock()
	s.brush.Reset()
}

// CreateFromBrush saves draft over the brushed range in the current
// index and filter scope, then reloads the overlay.
func (s *Session) CreateFromBrush(ctx context.Context, draft annotation.Annotation) (annotation.Annotation, error) {
	sel, ok := s.PendingSelection()
	if !ok {
		return annotation.Annotation{}, ErrNoBrush
	}

	f := s.orch.State()
	draft.StartDate, draft.EndDate = sel.StartDate, sel.EndDate
	draft.SourceIndex = f.SelectedIndex
	draft.FilterField, draft.FilterValue = f.FilterField, f.FilterValue
	draft.CreatedBy = s.user

	created, err := s.feed.Create(ctx, draft)
	if err != nil {
		return annotation.Annotation{}, err
	}
	s.CancelAnnotation()

	if _, ok := s.preservedKey(); ok {
		s.side.Insert(created)
		if _, err := s.feed.Load(ctx); err != nil {
			s.logger.Warn("annotation reload after create failed", "error", err)
		}
		return created, nil
	}
	s.side.BeginRefresh()
	res, err := s.feed.Load(ctx)
	if err != nil {
		s.logger.Warn("annotation reload after create failed", "error", err)
	}
	s.deliverRefresh(res)
	return created, nil
}

// Approve marks an annotation approved.
func (s *Session) Approve(ctx context.Context, id string) error {
	st := annotation.StatusApproved
	return s.Edit(ctx, id, annotation.Patch{Status: &st})
}

// Reject marks an annotation rejected.
func (s *Session) Reject(ctx context.Context, id string) error {
	st := annotation.StatusRejected
	return s.Edit(ctx, id, annotation.Patch{Status: &st})
}

// Edit applies patch with a history entry of the changed fields.
func (s *Session) Edit(ctx context.Context, id string, patch annotation.Patch) error {
	prev, ok := s.find(id)
	if !ok {
		return annotation.ErrNotFound
	}
	next := patch.Apply(prev)
	entry := annotation.NewHistoryEntry(prev, next, s.user, time.Now().UTC())
	if len(entry.Changes) == 0 {
		return nil
	}
	patch.History = &entry
	return s.mutate(ctx, prev, annotation.ActionUpdate, &patch)
}

// Delete soft-deletes an annotation.
func (s *Session) Delete(ctx context.Context, id string) error {
	prev, ok := s.find(id)
	if !ok {
		return annotation.ErrNotFound
	}
	return s.mutate(ctx, prev, annotation.ActionDelete, nil)
}

// find looks id up in the chart overlay, then in the sidebar list, which
// outlives the overlay's narrower range after navigation.
func (s *Session) find(id string) (annotation.Annotation, bool) {
	if a, ok := s.feed.Find(id); ok {
		return a, true
	}
	return s.side.Find(id)
}

// mutate sends one mutation. While the sidebar shows the same range as the
// chart, both finish with the server's list, so a failed optimistic change
// is rolled back the same way for every action. A sidebar list preserved
// across navigation is patched in place instead.
func (s *Session) mutate(ctx context.Context, prev annotation.Annotation, action string, patch *annotation.Patch) error {
	if _, ok := s.preservedKey(); ok {
		return s.mutatePreserved(ctx, prev, action, patch)
	}

	s.side.BeginRefresh()
	res, err := s.feed.Update(ctx, prev.ID, action, patch, s.user)
	if err != nil {
		if res.Reloaded != nil {
			s.deliverRefresh(*res.Reloaded)
		} else {
			s.deliverRefresh(FetchResult{})
		}
		return err
	}

	fetched, lerr := s.feed.Load(ctx)
	if lerr != nil {
		s.logger.Warn("annotation reload after mutation failed", "id", prev.ID, "error", lerr)
	}
	s.deliverRefresh(fetched)
	return nil
}

// mutatePreserved leaves the sidebar untouched until the server confirms,
// then applies the confirmed item. Only the overlay is reloaded.
func (s *Session) mutatePreserved(ctx context.Context, prev annotation.Annotation, action string, patch *annotation.Patch) error {
	res, err := s.feed.Update(ctx, prev.ID, action, patch, s.user)
	if err != nil {
		return err
	}

	switch {
	case res.DeletedID != "":
		s.side.Remove(res.DeletedID)
	case res.Updated != nil:
		s.side.ApplyUpdate(*res.Updated)
	default:
		next := patch.Apply(prev)
		if patch.History != nil {
			next.History = append(next.History, *patch.History)
		}
		s.side.ApplyUpdate(next)
	}

	if _, lerr := s.feed.Load(ctx); lerr != nil {
		s.logger.Warn("annotation reload after mutation failed", "id", prev.ID, "error", lerr)
	}
	return nil
}

// SelectAnnotation selects the item at a global index of the sidebar list
// and zooms to it. The list itself is preserved.
func (s *Session) SelectAnnotation(idx int) bool {
	ok := s.side.SelectIndex(idx)
	s.deliverPending()
	return ok
}

// SelectAnnotationID selects an annotation by id, e.g. from a chart click.
func (s *Session) SelectAnnotationID(id string) bool {
	ok := s.side.SelectID(id)
	s.deliverPending()
	return ok
}

func (s *Session) NextAnnotation() bool {
	ok := s.side.Next()
	s.deliverPending()
	return ok
}

func (s *Session) PrevAnnotation() bool {
	ok := s.side.Prev()
	s.deliverPending()
	return ok
}

// ShowFullHistory zooms out to cover every annotation in the sidebar.
func (s *Session) ShowFullHistory() bool {
	return s.side.FullHistory()
}

func (s *Session) NextPage() bool { return s.side.NextPage() }
func (s *Session) PrevPage() bool { return s.side.PrevPage() }

// SetSidebarOpen shows or hides the sidebar.
func (s *Session) SetSidebarOpen(open bool) { s.side.SetOpen(open) }

// SidebarView returns the sidebar for rendering.
func (s *Session) SidebarView() sidebar.View { return s.side.View() }

// AnnotationAt returns the annotation whose band covers pixel x of the
// last frame, preferring the narrowest.
func (s *Session) AnnotationAt(x float64) (annotation.Annotation, bool) {
	s.mu.Lock()
	fr := s.frame
	s.mu.Unlock()
	if fr == nil {
		return annotation.Annotation{}, false
	}
	t := fr.scales.X.Invert(x)

	var best annotation.Annotation
	found := false
	for _, a := range s.feed.Annotations() {
		if t.Before(a.StartDate) || t.After(a.EndDate) {
			continue
		}
		if !found || a.Duration() < best.Duration() {
			best, found = a, true
		}
	}
	return best, found
}
