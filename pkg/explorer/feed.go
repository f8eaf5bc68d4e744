package explorer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nicktill/tinylens/pkg/annotation"
	"github.com/nicktill/tinylens/pkg/logger"
	"github.com/nicktill/tinylens/pkg/palette"
)

// AnnotationKey scopes one annotation fetch.
type AnnotationKey struct {
	StartDate     time.Time
	EndDate       time.Time
	FilterField   string
	FilterValue   string
	SelectedIndex string
}

func (k AnnotationKey) equal(o AnnotationKey) bool {
	return k.StartDate.Equal(o.StartDate) && k.EndDate.Equal(o.EndDate) &&
		k.FilterField == o.FilterField && k.FilterValue == o.FilterValue &&
		k.SelectedIndex == o.SelectedIndex
}

func (k AnnotationKey) ready() bool {
	return !k.StartDate.IsZero() && !k.EndDate.IsZero()
}

// FetchResult is the outcome of Sync or Load. Fetched is false when no
// request was made or its result was superseded by a newer one.
type FetchResult struct {
	Epoch       uint64
	Key         AnnotationKey
	Annotations []annotation.Annotation
	Fetched     bool
}

// UpdateResult is the outcome of a mutation. On failure the feed has
// already reloaded the authoritative list into Reloaded.
type UpdateResult struct {
	Success   bool
	Updated   *annotation.Annotation
	DeletedID string
	Reloaded  *FetchResult
}

// AnnotationFeed holds the annotations of the current view.
type AnnotationFeed struct {
	mu      sync.Mutex
	backend AnnotationBackend
	colors  *palette.Service
	logger  logger.Logger

	key        AnnotationKey
	hasKey     bool
	list       []annotation.Annotation
	epoch      uint64
	loading    bool
	loadingKey AnnotationKey
}

// NewAnnotationFeed creates an empty feed. colors assigns annotation type
// colors and may be nil.
func NewAnnotationFeed(backend AnnotationBackend, colors *palette.Service, log logger.Logger) *AnnotationFeed {
	return &AnnotationFeed{backend: backend, colors: colors, logger: log}
}

// Annotations returns a copy of the current list.
func (f *AnnotationFeed) Annotations() []annotation.Annotation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloneList(f.list)
}

// Key returns the key of the last fetch and whether there was one.
func (f *AnnotationFeed) Key() (AnnotationKey, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.key, f.hasKey
}

// IsLoading reports whether a fetch is in flight.
func (f *AnnotationFeed) IsLoading() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loading
}

// Find returns the annotation with id from the current list.
func (f *AnnotationFeed) Find(id string) (annotation.Annotation, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.list {
		if a.ID == id {
			return a.Clone(), true
		}
	}
	return annotation.Annotation{}, false
}

// Sync fetches when key differs from the last fetched key, or when the
// list is empty. A fetch already in flight for key is not repeated.
func (f *AnnotationFeed) Sync(ctx context.Context, key AnnotationKey) (FetchResult, error) {
	f.mu.Lock()
	if !key.ready() {
		f.mu.Unlock()
		return FetchResult{}, nil
	}
	if f.loading && f.loadingKey.equal(key) {
		f.mu.Unlock()
		return FetchResult{}, nil
	}
	if f.hasKey && f.key.equal(key) && len(f.list) > 0 {
		f.mu.Unlock()
		return FetchResult{}, nil
	}
	return f.fetchLocked(ctx, key)
}

// Load re-fetches the current key.
func (f *AnnotationFeed) Load(ctx context.Context) (FetchResult, error) {
	f.mu.Lock()
	if !f.hasKey || (f.loading && f.loadingKey.equal(f.key)) {
		f.mu.Unlock()
		return FetchResult{}, nil
	}
	return f.fetchLocked(ctx, f.key)
}

// fetchLocked must be called with f.mu held; it releases it.
func (f *AnnotationFeed) fetchLocked(ctx context.Context, key AnnotationKey) (FetchResult, error) {
	f.epoch++
	epoch := f.epoch
	f.key, f.hasKey = key, true
	f.loading, f.loadingKey = true, key
	f.mu.Unlock()

	list, err := f.backend.SearchAnnotations(ctx, annotation.SearchRequest{
		StartDate:   key.StartDate,
		EndDate:     key.EndDate,
		SourceIndex: key.SelectedIndex,
		FilterField: key.FilterField,
		FilterValue: key.FilterValue,
	})

	f.mu.Lock()
	defer f.mu.Unlock()
	if epoch != f.epoch {
		// superseded; the newer fetch owns the loading flag
		return FetchResult{Epoch: epoch, Key: key}, nil
	}
	f.loading = false
	if err != nil {
		f.logger.Warn("failed to load annotations", "error", err)
		return FetchResult{Epoch: epoch, Key: key}, fmt.Errorf("failed to load annotations: %w", err)
	}

	for i := range list {
		f.colorize(&list[i])
	}
	f.list = list
	return FetchResult{Epoch: epoch, Key: key, Annotations: cloneList(list), Fetched: true}, nil
}

// Search fetches key without touching the feed's own list.
func (f *AnnotationFeed) Search(ctx context.Context, key AnnotationKey) ([]annotation.Annotation, error) {
	list, err := f.backend.SearchAnnotations(ctx, annotation.SearchRequest{
		StartDate:   key.StartDate,
		EndDate:     key.EndDate,
		SourceIndex: key.SelectedIndex,
		FilterField: key.FilterField,
		FilterValue: key.FilterValue,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load annotations: %w", err)
	}
	for i := range list {
		f.colorize(&list[i])
	}
	return list, nil
}

func (f *AnnotationFeed) colorize(a *annotation.Annotation) {
	switch {
	case a.AnnotationType == "":
		a.Color = palette.Fallback
	case f.colors != nil:
		a.Color = f.colors.ColorFor(string(a.AnnotationType))
	}
}

// Update applies an update or delete optimistically, then confirms it with
// the backend. The caller supplies the history entry inside payload.
func (f *AnnotationFeed) Update(ctx context.Context, id, action string, payload *annotation.Patch, by annotation.User) (UpdateResult, error) {
	var optimistic *annotation.Annotation

	f.mu.Lock()
	switch action {
	case annotation.ActionUpdate:
		if payload == nil {
			f.mu.Unlock()
			return UpdateResult{}, annotation.ErrEmptyPayload
		}
		for i, a := range f.list {
			if a.ID != id {
				continue
			}
			merged := payload.Apply(a)
			if merged.AnnotationType != a.AnnotationType {
				f.colorize(&merged)
			}
			if payload.History != nil {
				merged.History = append(merged.History, *payload.History)
			}
			f.list[i] = merged
			optimistic = &merged
			break
		}
	case annotation.ActionDelete:
		kept := f.list[:0:0]
		for _, a := range f.list {
			if a.ID != id {
				kept = append(kept, a)
			}
		}
		f.list = kept
	default:
		f.mu.Unlock()
		return UpdateResult{}, annotation.ErrInvalidAction
	}
	f.mu.Unlock()

	resp, err := f.backend.UpdateAnnotation(ctx, id, annotation.UpdateRequest{
		ActionType: action,
		Payload:    payload,
		ChangedBy:  by,
	})
	if err == nil && (resp == nil || !resp.Success) {
		err = fmt.Errorf("annotation %s: %s rejected", id, action)
	}
	if err != nil {
		f.logger.Warn("annotation mutation failed, reloading", "id", id, "action", action, "error", err)
		res, lerr := f.Load(ctx)
		if lerr != nil {
			f.logger.Warn("reload after failed mutation failed", "error", lerr)
		}
		return UpdateResult{Success: false, Reloaded: &res}, err
	}

	out := UpdateResult{Success: true}
	if action == annotation.ActionDelete {
		out.DeletedID = id
		return out, nil
	}

	if resp.Annotation != nil {
		confirmed := resp.Annotation.Clone()
		f.colorize(&confirmed)
		f.replace(confirmed)
		out.Updated = &confirmed
	} else {
		out.Updated = optimistic
	}
	return out, nil
}

func (f *AnnotationFeed) replace(a annotation.Annotation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.list {
		if f.list[i].ID == a.ID {
			f.list[i] = a
			return
		}
	}
}

// Create stores a draft. A client mutation id is attached so a retried
// request cannot create a duplicate.
func (f *AnnotationFeed) Create(ctx context.Context, draft annotation.Annotation) (annotation.Annotation, error) {
	if draft.MutationID == "" {
		draft.MutationID = uuid.NewString()
	}
	created, err := f.backend.CreateAnnotation(ctx, draft)
	if err != nil {
		return annotation.Annotation{}, fmt.Errorf("failed to create annotation: %w", err)
	}
	out := created.Clone()
	f.colorize(&out)
	return out, nil
}

func cloneList(list []annotation.Annotation) []annotation.Annotation {
	if list == nil {
		return nil
	}
	out := make([]annotation.Annotation, len(list))
	for i, a := range list {
		out[i] = a.Clone()
	}
	return out
}
