package palette

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/nicktill/tinylens/pkg/config"
	"github.com/nicktill/tinylens/pkg/logger"
	"github.com/nicktill/tinylens/pkg/storage"
)

// Observable10 colors chart series.
var Observable10 = []string{
	"#4269d0", "#efb118", "#ff725c", "#6cc5b0", "#3ca951",
	"#ff8ab7", "#a463f2", "#97bbf5", "#9c6b4e", "#9498a0",
}

// Paired12 colors annotation types.
var Paired12 = []string{
	"#a6cee3", "#1f78b4", "#b2df8a", "#33a02c", "#fb9a99", "#e31a1c",
	"#fdbf6f", "#ff7f00", "#cab2d6", "#6a3d9a", "#ffff99", "#b15928",
}

// Fallback is used for annotations with no type.
const Fallback = "rgba(108,117,125,0.3)"

// Service maps keys to colors. A key keeps its color for as long as the
// persisted mapping lives.
type Service struct {
	mu       sync.Mutex
	palette  []string
	assigned map[string]string
	order    []string

	kv     storage.KV
	key    string
	logger logger.Logger
}

type persisted struct {
	Order  []string          `json:"order"`
	Colors map[string]string `json:"colors"`
}

// New creates a service and restores any mapping saved under key.
// kv may be nil for a process-local mapping.
func New(ctx context.Context, kv storage.KV, key string, palette []string, log logger.Logger) (*Service, error) {
	if len(palette) == 0 {
		return nil, errors.New("palette must not be empty")
	}
	s := &Service{
		palette:  palette,
		assigned: make(map[string]string),
		kv:       kv,
		key:      key,
		logger:   log,
	}
	if kv == nil {
		return s, nil
	}

	raw, err := kv.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load color mapping %q: %w", key, err)
	}

	var p persisted
	if err := json.Unmarshal(raw, &p); err != nil {
		log.Warn("discarding corrupt color mapping", "key", key, "error", err)
		return s, nil
	}
	for _, k := range p.Order {
		if c, ok := p.Colors[k]; ok {
			s.assigned[k] = c
			s.order = append(s.order, k)
		}
	}
	return s, nil
}

// ColorFor returns the color of key, assigning and persisting one on first use.
func (s *Service) ColorFor(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.assigned[key]; ok {
		return c
	}

	c := s.next()
	s.assigned[key] = c
	s.order = append(s.order, key)
	s.save()
	return c
}

// Lookup returns the color of key without assigning one.
func (s *Service) Lookup(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.assigned[key]
	return c, ok
}

// Len reports how many keys have a color.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.assigned)
}

// Reset forgets every assignment, including the persisted copy.
func (s *Service) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.assigned = make(map[string]string)
	s.order = nil
	if s.kv == nil {
		return nil
	}
	return s.kv.Delete(ctx, s.key)
}

// next picks the first palette color nobody holds, then falls back to a
// rainbow position proportional to assigned/paletteSize. Caller holds mu.
func (s *Service) next() string {
	used := make(map[string]bool, len(s.assigned))
	for _, c := range s.assigned {
		used[c] = true
	}
	for _, c := range s.palette {
		if !used[c] {
			return c
		}
	}
	return Rainbow(float64(len(s.assigned)) / float64(len(s.palette)))
}

// save writes the mapping. Failures are logged; the in-memory assignment
// stays authoritative for this process. Caller holds mu.
func (s *Service) save() {
	if s.kv == nil {
		return
	}
	raw, err := json.Marshal(persisted{Order: s.order, Colors: s.assigned})
	if err != nil {
		s.logger.Error("failed to encode color mapping", "key", s.key, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.WriteTimeout)
	defer cancel()
	if err := s.kv.Set(ctx, s.key, raw); err != nil {
		s.logger.Warn("failed to persist color mapping", "key", s.key, "error", err)
	}
}

// Rainbow samples the cyclical cubehelix rainbow at t; only the fractional
// part of t matters.
func Rainbow(t float64) string {
	t -= math.Floor(t)
	ts := math.Abs(t - 0.5)

	h := (360*t - 100 + 120) * math.Pi / 180
	sat := 1.5 - 1.5*ts
	l := 0.8 - 0.9*ts
	a := sat * l * (1 - l)
	cosh, sinh := math.Cos(h), math.Sin(h)

	r := 255 * (l + a*(-0.14861*cosh+1.78277*sinh))
	g := 255 * (l + a*(-0.29227*cosh-0.90649*sinh))
	b := 255 * (l + a*(1.97294*cosh))
	return fmt.Sprintf("#%02x%02x%02x", clampByte(r), clampByte(g), clampByte(b))
}

func clampByte(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return uint8(math.Round(v))
}
