package query

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinylens/pkg/aggregate"
	"github.com/nicktill/tinylens/pkg/cache"
	"github.com/nicktill/tinylens/pkg/logger"
	"github.com/nicktill/tinylens/pkg/storage"
	"github.com/nicktill/tinylens/pkg/storage/memory"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func doc(offset time.Duration, fields map[string]interface{}) storage.Document {
	return storage.Document{Index: "orders", Timestamp: t0.Add(offset), Fields: fields}
}

func seedOrders(t *testing.T) *memory.Storage {
	t.Helper()
	store := memory.New()
	require.NoError(t, store.Write(context.Background(), []storage.Document{
		doc(10*time.Minute, map[string]interface{}{"status": "paid", "amount": 10.0, "region": "eu"}),
		doc(20*time.Minute, map[string]interface{}{"status": "paid", "amount": 20.0, "region": "eu"}),
		doc(30*time.Minute, map[string]interface{}{"status": "refunded", "amount": 5.0, "region": "eu"}),
		doc(135*time.Minute, map[string]interface{}{"status": "paid", "amount": 40.0, "region": "eu"}),
		doc(15*time.Minute, map[string]interface{}{"status": "paid", "amount": 100.0, "region": "us"}),
		doc(40*time.Minute, map[string]interface{}{"region": "eu", "seenAt": "2024-03-01T00:40:00Z"}),
	}))
	return store
}

func params() aggregate.Params {
	return aggregate.Params{
		Index:        "orders",
		Term:         "status",
		Interval:     "1h",
		NumericField: "amount",
		Timestamp:    "timestamp",
		StartDate:    t0,
		EndDate:      t0.Add(3 * time.Hour),
		FilterField:  "region",
		FilterValue:  "eu",
	}
}

func TestAggregate(t *testing.T) {
	e := NewEngine(seedOrders(t), nil, logger.Nop())

	res, err := e.Aggregate(context.Background(), params())
	require.NoError(t, err)
	require.Len(t, res.Buckets, 3)

	first := res.Buckets[0]
	assert.True(t, first.Timestamp.Equal(t0))
	assert.Equal(t, "2024-03-01T00:00:00.000Z", first.FormattedDate)
	assert.Equal(t, []aggregate.Category{
		{Name: "paid", Count: 2, AvgValue: 15},
		{Name: "refunded", Count: 1, AvgValue: 5},
	}, first.Categories)

	assert.True(t, res.Buckets[1].Timestamp.Equal(t0.Add(time.Hour)))
	assert.Empty(t, res.Buckets[1].Categories, "gaps are kept as empty buckets")

	assert.Equal(t, []aggregate.Category{{Name: "paid", Count: 1, AvgValue: 40}}, res.Buckets[2].Categories)
}

func TestAggregateWithoutFilter(t *testing.T) {
	e := NewEngine(seedOrders(t), nil, logger.Nop())
	p := params()
	p.FilterField, p.FilterValue = "", ""

	res, err := e.Aggregate(context.Background(), p)
	require.NoError(t, err)
	require.NotEmpty(t, res.Buckets)
	assert.Equal(t, int64(3), res.Buckets[0].Categories[0].Count)
}

func TestAggregateValidation(t *testing.T) {
	e := NewEngine(memory.New(), nil, logger.Nop())
	ctx := context.Background()

	tests := []struct {
		name    string
		mutate  func(p *aggregate.Params)
		wantErr error
	}{
		{"missing term", func(p *aggregate.Params) { p.Term = "" }, ErrMissingParams},
		{"missing start", func(p *aggregate.Params) { p.StartDate = time.Time{} }, ErrMissingParams},
		{"filter without value", func(p *aggregate.Params) { p.FilterValue = "" }, ErrMissingParams},
		{"inverted range", func(p *aggregate.Params) { p.StartDate = p.EndDate.Add(time.Hour) }, ErrMissingParams},
		{"unresolved auto", func(p *aggregate.Params) { p.Interval = "auto" }, aggregate.ErrInvalidInterval},
		{"too many buckets", func(p *aggregate.Params) {
			p.Interval = "1m"
			p.EndDate = p.StartDate.Add(30 * 24 * time.Hour)
		}, ErrTooManyBuckets},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := params()
			tt.mutate(&p)
			_, err := e.Aggregate(ctx, p)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestAggregateUsesCache(t *testing.T) {
	ctx := context.Background()
	store := seedOrders(t)
	e := NewEngine(store, cache.NewMemory(), logger.Nop())

	first, err := e.Aggregate(ctx, params())
	require.NoError(t, err)

	require.NoError(t, store.Write(ctx, []storage.Document{
		doc(50*time.Minute, map[string]interface{}{"status": "void", "amount": 1.0, "region": "eu"}),
	}))

	second, err := e.Aggregate(ctx, params())
	require.NoError(t, err)
	assert.Len(t, second.Buckets[0].Categories, len(first.Buckets[0].Categories), "served from cache")

	fresh, err := NewEngine(store, nil, logger.Nop()).Aggregate(ctx, params())
	require.NoError(t, err)
	assert.Len(t, fresh.Buckets[0].Categories, 3)
}

func TestTopTermsLimit(t *testing.T) {
	terms := make(map[string]*termAcc)
	for i := 0; i < 150; i++ {
		terms[string(rune('A'+i%26))+string(rune('a'+i/26))] = &termAcc{count: int64(i)}
	}
	cats := topTerms(terms)
	require.Len(t, cats, 100)
	assert.Equal(t, int64(149), cats[0].Count)
}

func TestFloorDiv(t *testing.T) {
	assert.Equal(t, int64(2), floorDiv(7, 3))
	assert.Equal(t, int64(-3), floorDiv(-7, 3))
	assert.Equal(t, int64(-2), floorDiv(-6, 3))
}

func TestStats(t *testing.T) {
	e := NewEngine(seedOrders(t), nil, logger.Nop())

	st, err := e.Stats(context.Background(), "orders", "timestamp", "region", "eu")
	require.NoError(t, err)
	assert.Equal(t, int64(5), st.Count)
	assert.True(t, st.MinDate.Equal(t0.Add(10*time.Minute)))
	assert.True(t, st.MaxDate.Equal(t0.Add(135*time.Minute)))

	st, err = e.Stats(context.Background(), "orders", "timestamp", "region", "apac")
	require.NoError(t, err)
	assert.Zero(t, st.Count)
	assert.True(t, st.MinDate.IsZero())

	_, err = e.Stats(context.Background(), "", "timestamp", "", "")
	assert.ErrorIs(t, err, ErrMissingParams)
}

func TestMapping(t *testing.T) {
	e := NewEngine(seedOrders(t), nil, logger.Nop())

	m, err := e.Mapping(context.Background(), "orders")
	require.NoError(t, err)
	assert.Equal(t, []string{"seenAt", "timestamp"}, m.DateFields)
	assert.Equal(t, []string{"region", "status"}, m.TermFields)
	assert.Equal(t, []string{"amount"}, m.NumericFields)

	_, err = e.Mapping(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrIndexNotFound)
}

func TestIndicesHidesDotted(t *testing.T) {
	store := seedOrders(t)
	require.NoError(t, store.Write(context.Background(), []storage.Document{
		{Index: ".internal", Timestamp: t0, Fields: map[string]interface{}{}},
	}))
	e := NewEngine(store, nil, logger.Nop())

	got, err := e.Indices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"orders"}, got)
}

func TestSearchValues(t *testing.T) {
	e := NewEngine(seedOrders(t), nil, logger.Nop())
	ctx := context.Background()

	tests := []struct {
		name   string
		field  string
		search string
		want   []string
	}{
		{"too short", "status", "pa", []string{}},
		{"case insensitive", "status", "AID", []string{"paid"}},
		{"substring", "status", "und", []string{"refunded"}},
		{"single letter", "status", "d", []string{}},
		{"no match", "status", "zzz", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.SearchValues(ctx, ValuesRequest{Index: "orders", Field: tt.field, Search: tt.search})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	got, err := e.SearchValues(ctx, ValuesRequest{Index: "orders", Field: "region", Search: "eu", Timestamp: "timestamp"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSearchValuesSortedAndDistinct(t *testing.T) {
	store := memory.New()
	require.NoError(t, store.Write(context.Background(), []storage.Document{
		{Index: "hosts", Timestamp: t0, Fields: map[string]interface{}{"host": "web-02"}},
		{Index: "hosts", Timestamp: t0, Fields: map[string]interface{}{"host": "WEB-01"}},
		{Index: "hosts", Timestamp: t0, Fields: map[string]interface{}{"host": "web-02"}},
		{Index: "hosts", Timestamp: t0, Fields: map[string]interface{}{"host": "db-01"}},
	}))
	e := NewEngine(store, nil, logger.Nop())

	got, err := e.SearchValues(context.Background(), ValuesRequest{Index: "hosts", Field: "host", Search: "web"})
	require.NoError(t, err)
	assert.Equal(t, []string{"WEB-01", "web-02"}, got)
}
