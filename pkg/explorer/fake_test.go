package explorer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinylens/pkg/aggregate"
	"github.com/nicktill/tinylens/pkg/annotation"
	"github.com/nicktill/tinylens/pkg/logger"
	"github.com/nicktill/tinylens/pkg/storage"
	"github.com/nicktill/tinylens/pkg/storage/memory"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

var errBackend = errors.New("backend unavailable")

var testUser = annotation.User{Email: "ops@example.com", UserID: "u1"}

// fakeBackend serves aggregations from a script and annotations from a
// real in-memory store.
type fakeBackend struct {
	mu    sync.Mutex
	store *annotation.KVStore

	aggCalls  []aggregate.Params
	aggErr    error
	stats     *aggregate.IndexStats
	searches  int
	creates   []annotation.Annotation
	updateErr error

	// onSearch runs once, before the next search executes.
	onSearch func()
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	store, err := annotation.NewKVStore(context.Background(), memory.New().KV(), logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return &fakeBackend{store: store}
}

func (b *fakeBackend) Aggregate(ctx context.Context, p aggregate.Params) (*aggregate.Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.aggCalls = append(b.aggCalls, p)
	if b.aggErr != nil {
		return nil, b.aggErr
	}
	var buckets []aggregate.TimeBucket
	for i := 0; i < 3; i++ {
		buckets = append(buckets, aggregate.TimeBucket{
			Timestamp: p.StartDate.Add(time.Duration(i) * time.Hour),
			Categories: []aggregate.Category{
				{Name: "paid", Count: int64(10 + i), AvgValue: float64(20 + i)},
				{Name: "refunded", Count: int64(1 + i), AvgValue: float64(5 + i)},
			},
		})
	}
	return &aggregate.Result{Buckets: buckets}, nil
}

func (b *fakeBackend) Stats(ctx context.Context, index, timestamp, filterField, filterValue string) (*aggregate.IndexStats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.aggErr != nil {
		return nil, b.aggErr
	}
	return b.stats, nil
}

func (b *fakeBackend) SearchAnnotations(ctx context.Context, req annotation.SearchRequest) ([]annotation.Annotation, error) {
	b.mu.Lock()
	b.searches++
	hook := b.onSearch
	b.onSearch = nil
	b.mu.Unlock()
	if hook != nil {
		hook()
	}
	return b.store.Search(ctx, req)
}

func (b *fakeBackend) CreateAnnotation(ctx context.Context, a annotation.Annotation) (*annotation.Annotation, error) {
	b.mu.Lock()
	b.creates = append(b.creates, a)
	b.mu.Unlock()
	created, err := b.store.Create(ctx, a)
	if err != nil {
		return nil, err
	}
	return &created, nil
}

func (b *fakeBackend) UpdateAnnotation(ctx context.Context, id string, req annotation.UpdateRequest) (*annotation.UpdateResponse, error) {
	b.mu.Lock()
	err := b.updateErr
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}

	switch req.ActionType {
	case annotation.ActionUpdate:
		a, err := b.store.Update(ctx, id, *req.Payload, req.ChangedBy)
		if err != nil {
			return nil, err
		}
		return &annotation.UpdateResponse{Success: true, Annotation: &a}, nil
	case annotation.ActionDelete:
		if _, err := b.store.Delete(ctx, id, req.ChangedBy); err != nil {
			return nil, err
		}
		return &annotation.UpdateResponse{Success: true, DeletedID: id}, nil
	}
	return nil, annotation.ErrInvalidAction
}

func (b *fakeBackend) aggCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.aggCalls)
}

// seed stores n five-minute annotations one hour apart in the orders/eu scope.
func (b *fakeBackend) seed(t *testing.T, n int) []annotation.Annotation {
	t.Helper()
	out := make([]annotation.Annotation, n)
	for i := range out {
		start := t0.Add(time.Duration(i) * time.Hour)
		a, err := b.store.Create(context.Background(), annotation.Annotation{
			SourceIndex: "orders",
			FilterField: "region",
			FilterValue: "eu",
			StartDate:   start,
			EndDate:     start.Add(5 * time.Minute),
			Description: fmt.Sprintf("event %02d", i),
			CreatedBy:   testUser,
		})
		require.NoError(t, err)
		out[i] = a
	}
	return out
}

func fullForm() FormState {
	return FormState{
		SelectedIndex: "orders",
		Term:          "status",
		Interval:      "1h",
		NumericField:  "amount",
		Timestamp:     "@timestamp",
		StartDate:     t0,
		EndDate:       t0.Add(24 * time.Hour),
		FilterField:   "region",
		FilterValue:   "eu",
	}
}

func newKV() storage.KV {
	return memory.New().KV()
}
