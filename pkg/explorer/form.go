package explorer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nicktill/tinylens/pkg/aggregate"
	"github.com/nicktill/tinylens/pkg/config"
	"github.com/nicktill/tinylens/pkg/logger"
	"github.com/nicktill/tinylens/pkg/storage"
)

// ErrMissingFields is returned by FormState.Validate.
var ErrMissingFields = errors.New("missing required fields")

// FormState is the single source of truth for what the view shows.
type FormState struct {
	SelectedIndex string    `json:"selectedIndex"`
	Term          string    `json:"term"`
	Interval      string    `json:"interval"`
	NumericField  string    `json:"numericField"`
	Timestamp     string    `json:"timestamp"`
	StartDate     time.Time `json:"startDate"`
	EndDate       time.Time `json:"endDate"`
	FilterField   string    `json:"filterField"`
	FilterValue   string    `json:"filterValue"`
}

// DefaultFormState is the empty form with the default interval.
func DefaultFormState() FormState {
	return FormState{Interval: config.DefaultInterval}
}

// Validate reports every missing field at once.
func (f FormState) Validate() error {
	var missing []string
	check := func(name, v string) {
		if v == "" {
			missing = append(missing, name)
		}
	}
	check("index", f.SelectedIndex)
	check("term", f.Term)
	check("interval", f.Interval)
	check("numericField", f.NumericField)
	check("timestamp", f.Timestamp)
	check("filterField", f.FilterField)
	check("filterValue", f.FilterValue)
	if f.StartDate.IsZero() {
		missing = append(missing, "startDate")
	}
	if f.EndDate.IsZero() {
		missing = append(missing, "endDate")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingFields, strings.Join(missing, ", "))
	}
	if f.StartDate.After(f.EndDate) {
		return fmt.Errorf("startDate %s is after endDate %s", f.StartDate.Format(time.RFC3339), f.EndDate.Format(time.RFC3339))
	}
	return nil
}

// Params resolves the form into backend parameters.
func (f FormState) Params() aggregate.Params {
	return aggregate.Params{
		Index:        f.SelectedIndex,
		Term:         f.Term,
		Interval:     aggregate.ResolveInterval(f.Interval, f.StartDate, f.EndDate),
		NumericField: f.NumericField,
		Timestamp:    f.Timestamp,
		StartDate:    f.StartDate,
		EndDate:      f.EndDate,
		FilterField:  f.FilterField,
		FilterValue:  f.FilterValue,
	}
}

// AnnotationKey is the part of the form that scopes annotations.
func (f FormState) AnnotationKey() AnnotationKey {
	return AnnotationKey{
		StartDate:     f.StartDate,
		EndDate:       f.EndDate,
		FilterField:   f.FilterField,
		FilterValue:   f.FilterValue,
		SelectedIndex: f.SelectedIndex,
	}
}

// FormStore persists FormState in a client-local KV.
type FormStore struct {
	kv     storage.KV
	key    string
	logger logger.Logger
}

// NewFormStore saves under config.FormStateKey.
func NewFormStore(kv storage.KV, log logger.Logger) *FormStore {
	return &FormStore{kv: kv, key: config.FormStateKey, logger: log}
}

// Load returns the saved form, or defaults when nothing usable is saved.
// Corrupt state is discarded.
func (s *FormStore) Load(ctx context.Context) FormState {
	raw, err := s.kv.Get(ctx, s.key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("failed to read saved form state", "error", err)
		}
		return DefaultFormState()
	}

	var f FormState
	if err := json.Unmarshal(raw, &f); err != nil {
		s.logger.Warn("discarding corrupt form state", "error", err)
		if err := s.kv.Delete(ctx, s.key); err != nil {
			s.logger.Warn("failed to clear form state", "error", err)
		}
		return DefaultFormState()
	}
	if f.Interval == "" {
		f.Interval = config.DefaultInterval
	}
	return f
}

// Save persists f once an index has been chosen.
func (s *FormStore) Save(ctx context.Context, f FormState) error {
	if f.SelectedIndex == "" {
		return nil
	}
	raw, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to encode form state: %w", err)
	}
	return s.kv.Set(ctx, s.key, raw)
}

// Clear removes the saved form.
func (s *FormStore) Clear(ctx context.Context) error {
	return s.kv.Delete(ctx, s.key)
}
