package annotation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nicktill/tinylens/pkg/config"
	"github.com/nicktill/tinylens/pkg/logger"
	"github.com/nicktill/tinylens/pkg/storage"
)

const (
	keyPrefix         = "annotation:"
	mutationKeyPrefix = "annotation-mutation:"
)

// Store persists annotations.
type Store interface {
	Search(ctx context.Context, req SearchRequest) ([]Annotation, error)
	Get(ctx context.Context, id string) (Annotation, error)
	Create(ctx context.Context, a Annotation) (Annotation, error)
	Update(ctx context.Context, id string, p Patch, by User) (Annotation, error)
	Delete(ctx context.Context, id string, by User) (Annotation, error)
}

// SearchRequest selects annotations whose StartDate lies in
// [StartDate, EndDate]. Zero bounds are open. An empty FilterField
// matches any scope.
type SearchRequest struct {
	StartDate   time.Time
	EndDate     time.Time
	SourceIndex string
	FilterField string
	FilterValue string
	Query       string // free text over description and labels
	Limit       int
}

// KVStore keeps annotations as JSON values in a storage.KV.
// Deleted annotations stay in the KV and are filtered on read.
type KVStore struct {
	mu     sync.Mutex
	kv     storage.KV
	text   *textIndex
	logger logger.Logger
	now    func() time.Time
}

// NewKVStore opens the store and rebuilds the text index from kv.
func NewKVStore(ctx context.Context, kv storage.KV, log logger.Logger) (*KVStore, error) {
	text, err := newTextIndex()
	if err != nil {
		return nil, err
	}
	s := &KVStore{kv: kv, text: text, logger: log, now: time.Now}

	indexed := 0
	err = kv.Scan(ctx, keyPrefix, func(key string, value []byte) error {
		var a Annotation
		if err := json.Unmarshal(value, &a); err != nil {
			log.Warn("skipping unreadable annotation", "key", key, "error", err)
			return nil
		}
		if a.Deleted {
			return nil
		}
		indexed++
		return text.put(a)
	})
	if err != nil {
		text.close()
		return nil, fmt.Errorf("failed to load annotations: %w", err)
	}

	log.Info("annotation store ready", "indexed", indexed)
	return s, nil
}

// Close releases the text index.
func (s *KVStore) Close() error {
	return s.text.close()
}

// Search returns live annotations sorted by StartDate ascending.
func (s *KVStore) Search(ctx context.Context, req SearchRequest) ([]Annotation, error) {
	if !req.StartDate.IsZero() && !req.EndDate.IsZero() && req.StartDate.After(req.EndDate) {
		return nil, ErrInvalidRange
	}
	limit := req.Limit
	if limit <= 0 || limit > config.AnnotationSearchSize {
		limit = config.AnnotationSearchSize
	}

	var candidates map[string]struct{}
	if req.Query != "" {
		ids, err := s.text.match(req.Query, config.AnnotationSearchSize)
		if err != nil {
			return nil, err
		}
		candidates = ids
	}

	var out []Annotation
	err := s.kv.Scan(ctx, keyPrefix, func(key string, value []byte) error {
		var a Annotation
		if err := json.Unmarshal(value, &a); err != nil {
			return nil
		}
		if candidates != nil {
			if _, ok := candidates[a.ID]; !ok {
				return nil
			}
		}
		if req.matches(a) {
			out = append(out, a)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan annotations: %w", err)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StartDate.Equal(out[j].StartDate) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartDate.Before(out[j].StartDate)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r SearchRequest) matches(a Annotation) bool {
	if a.Deleted {
		return false
	}
	if !r.StartDate.IsZero() && a.StartDate.Before(r.StartDate) {
		return false
	}
	if !r.EndDate.IsZero() && a.StartDate.After(r.EndDate) {
		return false
	}
	if r.SourceIndex != "" && a.SourceIndex != r.SourceIndex {
		return false
	}
	if r.FilterField != "" && (a.FilterField != r.FilterField || a.FilterValue != r.FilterValue) {
		return false
	}
	return true
}

// Get returns one annotation, deleted or not.
func (s *KVStore) Get(ctx context.Context, id string) (Annotation, error) {
	return s.load(ctx, id)
}

// Create stores a new annotation. A repeated MutationID returns the
// annotation created by the first call.
func (s *KVStore) Create(ctx context.Context, a Annotation) (Annotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.MutationID != "" {
		id, err := s.kv.Get(ctx, mutationKeyPrefix+a.MutationID)
		switch {
		case err == nil:
			return s.load(ctx, string(id))
		case !errors.Is(err, storage.ErrNotFound):
			return Annotation{}, fmt.Errorf("failed to check mutation id: %w", err)
		}
	}

	a = a.Clone()
	normalize(&a)
	a.ID = uuid.NewString()
	a.Deleted = a.Status == StatusDeleted
	a.History = nil
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now().UTC()
	}
	if err := Validate(a); err != nil {
		return Annotation{}, err
	}

	if err := s.persist(ctx, a); err != nil {
		return Annotation{}, err
	}
	if a.MutationID != "" {
		if err := s.kv.Set(ctx, mutationKeyPrefix+a.MutationID, []byte(a.ID)); err != nil {
			return Annotation{}, fmt.Errorf("failed to record mutation id: %w", err)
		}
	}
	return a, nil
}

// Update merges p into the annotation and appends one history entry.
// p.History is used as that entry when set; otherwise it is derived.
func (s *KVStore) Update(ctx context.Context, id string, p Patch, by User) (Annotation, error) {
	if p.Empty() {
		return Annotation{}, ErrEmptyPayload
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, err := s.load(ctx, id)
	if err != nil {
		return Annotation{}, err
	}
	if prev.Deleted {
		return Annotation{}, ErrDeleted
	}

	next := p.Apply(prev)
	next.StartDate = next.StartDate.UTC()
	next.EndDate = next.EndDate.UTC()
	if err := Validate(next); err != nil {
		return Annotation{}, err
	}

	next.History = append(next.History, s.entry(prev, next, p.History, by))
	if err := s.persist(ctx, next); err != nil {
		return Annotation{}, err
	}
	return next, nil
}

// Delete soft-deletes the annotation.
func (s *KVStore) Delete(ctx context.Context, id string, by User) (Annotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, err := s.load(ctx, id)
	if err != nil {
		return Annotation{}, err
	}
	if prev.Deleted {
		return Annotation{}, ErrDeleted
	}

	next := prev.Clone()
	next.Deleted = true
	next.Status = StatusDeleted
	next.History = append(next.History, s.entry(prev, next, nil, by))
	if err := s.persist(ctx, next); err != nil {
		return Annotation{}, err
	}
	return next, nil
}

func (s *KVStore) entry(prev, next Annotation, given *HistoryEntry, by User) HistoryEntry {
	if given == nil {
		return NewHistoryEntry(prev, next, by, s.now())
	}
	e := *given
	e.Changes = append([]FieldChange(nil), given.Changes...)
	if e.ChangedAt.IsZero() {
		e.ChangedAt = s.now().UTC()
	}
	if e.ChangedBy == (User{}) {
		e.ChangedBy = by
	}
	return e
}

func (s *KVStore) load(ctx context.Context, id string) (Annotation, error) {
	raw, err := s.kv.Get(ctx, keyPrefix+id)
	if errors.Is(err, storage.ErrNotFound) {
		return Annotation{}, ErrNotFound
	}
	if err != nil {
		return Annotation{}, fmt.Errorf("failed to read annotation %s: %w", id, err)
	}
	var a Annotation
	if err := json.Unmarshal(raw, &a); err != nil {
		return Annotation{}, fmt.Errorf("failed to decode annotation %s: %w", id, err)
	}
	return a, nil
}

func (s *KVStore) persist(ctx context.Context, a Annotation) error {
	a.Color = ""
	raw, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to encode annotation: %w", err)
	}
	if err := s.kv.Set(ctx, keyPrefix+a.ID, raw); err != nil {
		return fmt.Errorf("failed to write annotation %s: %w", a.ID, err)
	}
	if err := s.text.put(a); err != nil {
		// KV is authoritative; a stale text index only affects free-text search.
		s.logger.Warn("failed to index annotation", "id", a.ID, "error", err)
	}
	return nil
}
