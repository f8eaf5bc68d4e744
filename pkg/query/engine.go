package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nicktill/tinylens/pkg/aggregate"
	"github.com/nicktill/tinylens/pkg/cache"
	"github.com/nicktill/tinylens/pkg/config"
	"github.com/nicktill/tinylens/pkg/logger"
	"github.com/nicktill/tinylens/pkg/metrics"
	"github.com/nicktill/tinylens/pkg/storage"
)

var (
	ErrMissingParams  = errors.New("missing required parameters")
	ErrTooManyBuckets = errors.New("interval too small for the requested range")
	ErrIndexNotFound  = errors.New("index not found")
)

// formattedDateLayout matches JavaScript's toISOString.
const formattedDateLayout = "2006-01-02T15:04:05.000Z"

// Engine answers aggregation, statistics and schema questions about the
// documents in storage.
type Engine struct {
	store  storage.Storage
	cache  cache.Cache
	logger logger.Logger
}

// NewEngine creates an engine. c may be nil to disable caching.
func NewEngine(store storage.Storage, c cache.Cache, log logger.Logger) *Engine {
	return &Engine{store: store, cache: c, logger: log}
}

// Aggregate runs a date histogram over p.Timestamp, a terms split on p.Term
// keeping the top config.TermsSize categories by count, and an average of
// p.NumericField per category. An empty filter field matches every document.
func (e *Engine) Aggregate(ctx context.Context, p aggregate.Params) (*aggregate.Result, error) {
	if err := validateParams(p); err != nil {
		return nil, err
	}
	step, err := aggregate.ParseInterval(p.Interval)
	if err != nil {
		return nil, err
	}
	if n := p.EndDate.Sub(p.StartDate) / step; n > config.MaxBucketsPerQuery {
		return nil, fmt.Errorf("%w: %d buckets of %s", ErrTooManyBuckets, n, p.Interval)
	}

	key := cacheKey(p)
	if res, ok := e.cached(ctx, key); ok {
		return res, nil
	}

	ctx, cancel := context.WithTimeout(ctx, config.QueryTimeout)
	defer cancel()

	start := time.Now()
	docs, err := e.store.Query(ctx, storage.QueryRequest{
		Index:     p.Index,
		Start:     p.StartDate,
		End:       p.EndDate,
		TimeField: p.Timestamp,
		Filters:   filters(p.FilterField, p.FilterValue),
	})
	if err != nil {
		return nil, fmt.Errorf("storage query failed: %w", err)
	}

	res := &aggregate.Result{Buckets: histogram(docs, p, step)}
	metrics.AggregationDuration.Observe(time.Since(start).Seconds())
	e.logger.Debug("aggregation computed",
		"index", p.Index,
		"docs", len(docs),
		"buckets", len(res.Buckets),
		"duration", time.Since(start))

	e.remember(ctx, key, res)
	return res, nil
}

func validateParams(p aggregate.Params) error {
	var missing []string
	for _, f := range []struct{ name, v string }{
		{"index", p.Index},
		{"term", p.Term},
		{"interval", p.Interval},
		{"numericField", p.NumericField},
		{"timestamp", p.Timestamp},
	} {
		if f.v == "" {
			missing = append(missing, f.name)
		}
	}
	if p.StartDate.IsZero() {
		missing = append(missing, "startDate")
	}
	if p.EndDate.IsZero() {
		missing = append(missing, "endDate")
	}
	if p.FilterField != "" && p.FilterValue == "" {
		missing = append(missing, "filterValue")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingParams, strings.Join(missing, ", "))
	}
	if p.StartDate.After(p.EndDate) {
		return fmt.Errorf("%w: startDate is after endDate", ErrMissingParams)
	}
	return nil
}

func filters(field, value string) map[string]string {
	if field == "" {
		return nil
	}
	return map[string]string{field: value}
}

func cacheKey(p aggregate.Params) string {
	return cache.Key("agg",
		p.Index, p.Term, p.Interval, p.NumericField, p.Timestamp,
		p.StartDate.UTC().Format(time.RFC3339Nano),
		p.EndDate.UTC().Format(time.RFC3339Nano),
		p.FilterField, p.FilterValue)
}

func (e *Engine) cached(ctx context.Context, key string) (*aggregate.Result, bool) {
	if e.cache == nil {
		return nil, false
	}
	raw, err := e.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			e.logger.Warn("aggregation cache read failed", "error", err)
		}
		return nil, false
	}
	var res aggregate.Result
	if err := json.Unmarshal(raw, &res); err != nil {
		e.logger.Warn("discarding corrupt cached aggregation", "key", key, "error", err)
		return nil, false
	}
	return &res, true
}

func (e *Engine) remember(ctx context.Context, key string, res *aggregate.Result) {
	if e.cache == nil {
		return
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := e.cache.Set(ctx, key, raw, config.AggregationCacheTTL); err != nil {
		e.logger.Warn("aggregation cache write failed", "error", err)
	}
}

type termAcc struct {
	count  int64
	sum    float64
	values int64
}

// histogram buckets docs at fixed intervals aligned to the Unix epoch.
// Empty buckets between the first and last populated ones are kept.
func histogram(docs []storage.Document, p aggregate.Params, step time.Duration) []aggregate.TimeBucket {
	byBucket := make(map[int64]map[string]*termAcc)
	var lo, hi int64
	first := true

	for _, d := range docs {
		t, ok := d.Time(p.Timestamp)
		if !ok {
			continue
		}
		term, ok := d.String(p.Term)
		if !ok {
			continue
		}
		k := floorDiv(t.UnixNano(), int64(step)) * int64(step)
		if first || k < lo {
			lo = k
		}
		if first || k > hi {
			hi = k
		}
		first = false

		terms := byBucket[k]
		if terms == nil {
			terms = make(map[string]*termAcc)
			byBucket[k] = terms
		}
		acc := terms[term]
		if acc == nil {
			acc = &termAcc{}
			terms[term] = acc
		}
		acc.count++
		if v, ok := d.Number(p.NumericField); ok {
			acc.sum += v
			acc.values++
		}
	}
	if first {
		return []aggregate.TimeBucket{}
	}

	out := make([]aggregate.TimeBucket, 0, (hi-lo)/int64(step)+1)
	for k := lo; k <= hi; k += int64(step) {
		ts := time.Unix(0, k).UTC()
		out = append(out, aggregate.TimeBucket{
			Timestamp:     ts,
			FormattedDate: ts.Format(formattedDateLayout),
			Categories:    topTerms(byBucket[k]),
		})
	}
	return out
}

func topTerms(terms map[string]*termAcc) []aggregate.Category {
	cats := make([]aggregate.Category, 0, len(terms))
	for name, acc := range terms {
		c := aggregate.Category{Name: name, Count: acc.count}
		if acc.values > 0 {
			c.AvgValue = acc.sum / float64(acc.values)
		}
		cats = append(cats, c)
	}
	sort.Slice(cats, func(i, j int) bool {
		if cats[i].Count != cats[j].Count {
			return cats[i].Count > cats[j].Count
		}
		return cats[i].Name < cats[j].Name
	})
	if len(cats) > config.TermsSize {
		cats = cats[:config.TermsSize]
	}
	return cats
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// Stats returns the timestamp extent of an index under a filter.
func (e *Engine) Stats(ctx context.Context, index, timestamp, filterField, filterValue string) (*aggregate.IndexStats, error) {
	if index == "" || timestamp == "" {
		return nil, fmt.Errorf("%w: index, timestamp", ErrMissingParams)
	}
	ctx, cancel := context.WithTimeout(ctx, config.QueryTimeout)
	defer cancel()

	docs, err := e.store.Query(ctx, storage.QueryRequest{
		Index:     index,
		TimeField: timestamp,
		Filters:   filters(filterField, filterValue),
	})
	if err != nil {
		return nil, fmt.Errorf("storage query failed: %w", err)
	}

	st := &aggregate.IndexStats{}
	for _, d := range docs {
		t, ok := d.Time(timestamp)
		if !ok {
			continue
		}
		if st.Count == 0 || t.Before(st.MinDate) {
			st.MinDate = t
		}
		if st.Count == 0 || t.After(st.MaxDate) {
			st.MaxDate = t
		}
		st.Count++
	}
	st.MinDate, st.MaxDate = st.MinDate.UTC(), st.MaxDate.UTC()
	return st, nil
}

// Indices lists user-visible indices. Names starting with "." are hidden.
func (e *Engine) Indices(ctx context.Context) ([]string, error) {
	all, err := e.store.Indices(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(all))
	for _, name := range all {
		if !strings.HasPrefix(name, ".") {
			out = append(out, name)
		}
	}
	return out, nil
}

// Mapping classifies the fields seen in a sample of the index. The primary
// timestamp is always reported as a date field.
func (e *Engine) Mapping(ctx context.Context, index string) (*aggregate.Mapping, error) {
	if index == "" {
		return nil, fmt.Errorf("%w: index", ErrMissingParams)
	}
	docs, err := e.store.Query(ctx, storage.QueryRequest{Index: index, Limit: config.MappingSampleSize})
	if err != nil {
		return nil, fmt.Errorf("storage query failed: %w", err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, index)
	}

	kinds := map[string]string{"timestamp": "date"}
	for _, d := range docs {
		for name, v := range d.Fields {
			if _, seen := kinds[name]; seen {
				continue
			}
			if k := fieldKind(v); k != "" {
				kinds[name] = k
			}
		}
	}

	m := &aggregate.Mapping{DateFields: []string{}, TermFields: []string{}, NumericFields: []string{}}
	for name, k := range kinds {
		switch k {
		case "date":
			m.DateFields = append(m.DateFields, name)
		case "term":
			m.TermFields = append(m.TermFields, name)
		case "number":
			m.NumericFields = append(m.NumericFields, name)
		}
	}
	sort.Strings(m.DateFields)
	sort.Strings(m.TermFields)
	sort.Strings(m.NumericFields)
	return m, nil
}

func fieldKind(v interface{}) string {
	switch x := v.(type) {
	case float64, int, int64:
		return "number"
	case bool:
		return "term"
	case string:
		if _, err := time.Parse(time.RFC3339Nano, x); err == nil {
			return "date"
		}
		return "term"
	}
	return ""
}

// ValuesRequest asks for distinct values of a field for autocomplete.
type ValuesRequest struct {
	Index     string
	Field     string
	Search    string
	Timestamp string
	StartDate time.Time
	EndDate   time.Time
}

// SearchValues returns up to config.FilterValuesSize distinct values of
// req.Field containing req.Search case-insensitively, sorted ascending.
// Searches shorter than config.MinFilterPrefixLen return nothing.
func (e *Engine) SearchValues(ctx context.Context, req ValuesRequest) ([]string, error) {
	if req.Index == "" || req.Field == "" {
		return nil, fmt.Errorf("%w: index, field", ErrMissingParams)
	}
	if len([]rune(req.Search)) < config.MinFilterPrefixLen {
		return []string{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, config.QueryTimeout)
	defer cancel()

	docs, err := e.store.Query(ctx, storage.QueryRequest{
		Index:     req.Index,
		Start:     req.StartDate,
		End:       req.EndDate,
		TimeField: req.Timestamp,
	})
	if err != nil {
		return nil, fmt.Errorf("storage query failed: %w", err)
	}

	needle := strings.ToLower(req.Search)
	seen := make(map[string]struct{})
	for _, d := range docs {
		v, ok := d.String(req.Field)
		if !ok || !strings.Contains(strings.ToLower(v), needle) {
			continue
		}
		seen[v] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	if len(out) > config.FilterValuesSize {
		out = out[:config.FilterValuesSize]
	}
	return out, nil
}
