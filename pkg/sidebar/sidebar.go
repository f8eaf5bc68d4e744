// Package sidebar keeps the annotation list shown next to the chart in step
// with the view. Navigating to an annotation narrows the chart range, but
// the list the user is paging through must survive that narrowing; fetch
// results are matched to the request that caused them by epoch.
package sidebar

import (
	"sort"
	"sync"
	"time"

	"github.com/nicktill/tinylens/pkg/annotation"
	"github.com/nicktill/tinylens/pkg/config"
)

// Range change triggers issued by the sidebar.
const (
	TriggerNavigate    = "annotation-navigation"
	TriggerFullHistory = "annotation-list"
)

// State of the synchronizer.
type State int

const (
	Idle State = iota
	NavigatingToAnnotation
	Refreshing
)

func (s State) String() string {
	switch s {
	case NavigatingToAnnotation:
		return "navigating"
	case Refreshing:
		return "refreshing"
	default:
		return "idle"
	}
}

// RangeFunc requests a view range change and returns the epoch of the
// annotation fetch it started, or 0 when none was needed.
type RangeFunc func(start, end time.Time, trigger string) uint64

// ReloadFunc re-fetches the current range and returns the fetch epoch.
type ReloadFunc func() uint64

// Options configures a Synchronizer.
type Options struct {
	PageSize           int
	ReloadOnPageChange bool
	OnRange            RangeFunc
	OnReload           ReloadFunc
	OnSelect           func(a annotation.Annotation)
}

// View is a render-ready snapshot.
type View struct {
	Items         []annotation.Annotation
	Total         int
	Page          int
	TotalPages    int
	First, Last   int // 1-based item range shown
	SelectedID    string
	SelectedLocal int // index within Items, -1 if not on this page
	PrevDisabled  bool
	NextDisabled  bool
	State         State
	Open          bool
}

// Synchronizer is the sidebar state machine.
type Synchronizer struct {
	mu   sync.Mutex
	opts Options

	state       State
	navEpoch    uint64 // fetch to discard; 0 while the range change is pending
	lateEpoch   uint64 // result that arrived before navEpoch was known
	lastEpoch   uint64
	list        []annotation.Annotation
	page        int
	selectedID  string
	selectedIdx int
	open        bool
}

// New creates an idle synchronizer.
func New(opts Options) *Synchronizer {
	if opts.PageSize <= 0 {
		opts.PageSize = config.SidebarPageSize
	}
	return &Synchronizer{opts: opts, page: 1, selectedIdx: -1}
}

// State returns the current state.
func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Receive delivers the result of the fetch tagged epoch. It reports
// whether the list was replaced.
func (s *Synchronizer) Receive(epoch uint64, list []annotation.Annotation) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if epoch != 0 && epoch < s.lastEpoch {
		return false
	}

	switch s.state {
	case NavigatingToAnnotation:
		if s.navEpoch == 0 {
			s.lateEpoch = epoch
			return false
		}
		if epoch <= s.navEpoch {
			if epoch == s.navEpoch {
				s.state = Idle
			}
			return false
		}
		s.state = Idle
		s.accept(epoch, list, true)
		return true

	case Refreshing:
		s.state = Idle
		s.accept(epoch, list, false)
		return true

	default:
		s.accept(epoch, list, true)
		return true
	}
}

// BeginRefresh marks the next result as a post-mutation reload, which is
// always accepted and keeps the current page.
func (s *Synchronizer) BeginRefresh() {
	s.mu.Lock()
	s.state = Refreshing
	s.navEpoch, s.lateEpoch = 0, 0
	s.mu.Unlock()
}

func (s *Synchronizer) accept(epoch uint64, list []annotation.Annotation, resetPage bool) {
	if epoch > s.lastEpoch {
		s.lastEpoch = epoch
	}
	lengthChanged := len(list) != len(s.list)
	s.list = append([]annotation.Annotation(nil), list...)
	if resetPage {
		s.page = 1
	}

	if s.selectedID != "" {
		idx := s.indexOf(s.selectedID)
		if idx < 0 {
			s.selectedID, s.selectedIdx = "", -1
		} else {
			s.selectedIdx = idx
			if lengthChanged || resetPage {
				s.page = idx/s.opts.PageSize + 1
			}
		}
	}
	s.clampPage()
}

func (s *Synchronizer) indexOf(id string) int {
	for i, a := range s.list {
		if a.ID == id {
			return i
		}
	}
	return -1
}

func (s *Synchronizer) totalPages() int {
	n := (len(s.list) + s.opts.PageSize - 1) / s.opts.PageSize
	if n < 1 {
		return 1
	}
	return n
}

func (s *Synchronizer) clampPage() {
	if total := s.totalPages(); s.page > total {
		s.page = total
	}
	if s.page < 1 {
		s.page = 1
	}
}

// SelectLocal selects the i-th item of the visible page and navigates to it.
func (s *Synchronizer) SelectLocal(i int) bool {
	s.mu.Lock()
	global := (s.page-1)*s.opts.PageSize + i
	s.mu.Unlock()
	return s.SelectIndex(global)
}

// SelectID selects an annotation by id and navigates to it.
func (s *Synchronizer) SelectID(id string) bool {
	s.mu.Lock()
	idx := s.indexOf(id)
	s.mu.Unlock()
	return s.SelectIndex(idx)
}

// SelectIndex selects the item at a global list index and navigates to it.
func (s *Synchronizer) SelectIndex(idx int) bool {
	s.mu.Lock()
	if idx < 0 || idx >= len(s.list) {
		s.mu.Unlock()
		return false
	}
	return s.navigateLocked(idx)
}

// Next selects the following annotation, crossing page boundaries. With no
// selection it picks the first item of the visible page.
func (s *Synchronizer) Next() bool {
	s.mu.Lock()
	if len(s.list) == 0 {
		s.mu.Unlock()
		return false
	}
	target := (s.page - 1) * s.opts.PageSize
	if s.selectedIdx >= 0 {
		target = s.selectedIdx + 1
	}
	if target >= len(s.list) {
		s.mu.Unlock()
		return false
	}
	return s.navigateLocked(target)
}

// Prev selects the preceding annotation. With no selection it picks the
// last item of the visible page.
func (s *Synchronizer) Prev() bool {
	s.mu.Lock()
	if len(s.list) == 0 {
		s.mu.Unlock()
		return false
	}
	var target int
	if s.selectedIdx >= 0 {
		target = s.selectedIdx - 1
	} else {
		target = min(s.page*s.opts.PageSize, len(s.list)) - 1
		target = max(0, target)
	}
	if target < 0 {
		s.mu.Unlock()
		return false
	}
	return s.navigateLocked(target)
}

// navigateLocked must be called with s.mu held; it releases it.
func (s *Synchronizer) navigateLocked(idx int) bool {
	a := s.list[idx]
	s.selectedIdx, s.selectedID = idx, a.ID
	s.page = idx/s.opts.PageSize + 1
	s.state = NavigatingToAnnotation
	s.navEpoch, s.lateEpoch = 0, 0
	onRange, onSelect := s.opts.OnRange, s.opts.OnSelect
	s.mu.Unlock()

	if onSelect != nil {
		onSelect(a)
	}
	var epoch uint64
	if onRange != nil {
		start, end := InspectionWindow(a)
		epoch = onRange(start, end, TriggerNavigate)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != NavigatingToAnnotation || s.selectedID != a.ID {
		return true
	}
	if epoch == 0 || s.lateEpoch == epoch {
		s.state = Idle
		return true
	}
	s.navEpoch = epoch
	return true
}

// InspectionWindow pads an annotation's range by 10% of its duration,
// at least one minute, on each side.
func InspectionWindow(a annotation.Annotation) (time.Time, time.Time) {
	pad := time.Duration(float64(a.Duration()) * config.InspectionPadRatio)
	if pad < config.InspectionMinPadding {
		pad = config.InspectionMinPadding
	}
	return a.StartDate.Add(-pad), a.EndDate.Add(pad)
}

// FullHistory requests the union range of the preserved list plus a 10%
// buffer. It returns false when the list is empty.
func (s *Synchronizer) FullHistory() bool {
	s.mu.Lock()
	if len(s.list) == 0 {
		s.mu.Unlock()
		return false
	}
	start, end := UnionRange(s.list)
	s.state = Idle
	s.navEpoch, s.lateEpoch = 0, 0
	onRange := s.opts.OnRange
	s.mu.Unlock()

	if onRange != nil {
		onRange(start, end, TriggerFullHistory)
	}
	return true
}

// UnionRange spans the earliest start to the latest end of list, widened
// by 10% of that span on each side.
func UnionRange(list []annotation.Annotation) (time.Time, time.Time) {
	starts := make([]time.Time, len(list))
	ends := make([]time.Time, len(list))
	for i, a := range list {
		starts[i], ends[i] = a.StartDate, a.EndDate
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })
	sort.Slice(ends, func(i, j int) bool { return ends[i].After(ends[j]) })

	earliest, latest := starts[0], ends[0]
	buf := time.Duration(float64(latest.Sub(earliest)) * config.FullHistoryPadRatio)
	return earliest.Add(-buf), latest.Add(buf)
}

// NextPage shows the following page.
func (s *Synchronizer) NextPage() bool {
	s.mu.Lock()
	if s.page >= s.totalPages() {
		s.mu.Unlock()
		return false
	}
	s.page++
	return s.pageChangedLocked()
}

// PrevPage shows the preceding page.
func (s *Synchronizer) PrevPage() bool {
	s.mu.Lock()
	if s.page <= 1 {
		s.mu.Unlock()
		return false
	}
	s.page--
	return s.pageChangedLocked()
}

func (s *Synchronizer) pageChangedLocked() bool {
	reload := s.opts.ReloadOnPageChange && s.opts.OnReload != nil
	if reload {
		s.state = Refreshing
	}
	onReload := s.opts.OnReload
	s.mu.Unlock()

	if reload {
		onReload()
	}
	return true
}

// SetOpen shows or hides the sidebar. Closing it clears the selection.
func (s *Synchronizer) SetOpen(open bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = open
	if !open {
		s.selectedID, s.selectedIdx = "", -1
	}
}

// Selected returns the selected annotation.
func (s *Synchronizer) Selected() (annotation.Annotation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selectedIdx < 0 || s.selectedIdx >= len(s.list) {
		return annotation.Annotation{}, false
	}
	return s.list[s.selectedIdx], true
}

// ClearSelection drops the selection without navigating.
func (s *Synchronizer) ClearSelection() {
	s.mu.Lock()
	s.selectedID, s.selectedIdx = "", -1
	s.mu.Unlock()
}

// ApplyUpdate replaces the item with a's id in place, keeping the page and
// the selection. It reports whether the item was in the list.
func (s *Synchronizer) ApplyUpdate(a annotation.Annotation) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexOf(a.ID)
	if idx < 0 {
		return false
	}
	s.list[idx] = a
	return true
}

// Insert adds a to the list in start order. An item with the same id is
// replaced instead.
func (s *Synchronizer) Insert(a annotation.Annotation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx := s.indexOf(a.ID); idx >= 0 {
		s.list[idx] = a
		return
	}
	at := sort.Search(len(s.list), func(i int) bool {
		b := s.list[i]
		if b.StartDate.Equal(a.StartDate) {
			return b.ID > a.ID
		}
		return b.StartDate.After(a.StartDate)
	})
	s.list = append(s.list, annotation.Annotation{})
	copy(s.list[at+1:], s.list[at:])
	s.list[at] = a
	if s.selectedIdx >= at {
		s.selectedIdx++
	}
}

// Remove drops the item with id. The page is kept unless it no longer
// exists; removing the selected item clears the selection.
func (s *Synchronizer) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexOf(id)
	if idx < 0 {
		return false
	}
	s.list = append(s.list[:idx], s.list[idx+1:]...)
	switch {
	case idx == s.selectedIdx:
		s.selectedID, s.selectedIdx = "", -1
	case idx < s.selectedIdx:
		s.selectedIdx--
	}
	s.clampPage()
	return true
}

// Find returns the item with id from the preserved list.
func (s *Synchronizer) Find(id string) (annotation.Annotation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx := s.indexOf(id); idx >= 0 {
		return s.list[idx].Clone(), true
	}
	return annotation.Annotation{}, false
}

// List returns the preserved list.
func (s *Synchronizer) List() []annotation.Annotation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]annotation.Annotation(nil), s.list...)
}

// View returns a snapshot for rendering.
func (s *Synchronizer) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	size := s.opts.PageSize
	from := (s.page - 1) * size
	to := min(from+size, len(s.list))
	if from > to {
		from = to
	}

	v := View{
		Items:         append([]annotation.Annotation(nil), s.list[from:to]...),
		Total:         len(s.list),
		Page:          s.page,
		TotalPages:    s.totalPages(),
		SelectedID:    s.selectedID,
		SelectedLocal: -1,
		State:         s.state,
		Open:          s.open,
	}
	if len(s.list) > 0 {
		v.First, v.Last = from+1, to
	}
	if s.selectedIdx >= from && s.selectedIdx < to {
		v.SelectedLocal = s.selectedIdx - from
	}
	if s.selectedIdx >= 0 {
		v.PrevDisabled = s.selectedIdx <= 0
		v.NextDisabled = s.selectedIdx >= len(s.list)-1
	} else {
		v.PrevDisabled = len(s.list) == 0
		v.NextDisabled = len(s.list) == 0
	}
	return v
}
