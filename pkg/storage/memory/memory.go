package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nicktill/tinylens/pkg/storage"
)

// Storage stores documents and KV entries in memory. Data is lost on restart.
// Useful for testing and development.
type Storage struct {
	docs []storage.Document
	kv   map[string][]byte
	mu   sync.RWMutex
}

// New creates an in-memory storage backend
func New() *Storage {
	return &Storage{
		docs: make([]storage.Document, 0, 1024),
		kv:   make(map[string][]byte),
	}
}

// Write stores documents in memory
func (s *Storage) Write(ctx context.Context, docs []storage.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.docs = append(s.docs, docs...)
	return nil
}

// Query retrieves documents matching the request, oldest first.
func (s *Storage) Query(ctx context.Context, req storage.QueryRequest) ([]storage.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []storage.Document
	for _, d := range s.docs {
		if storage.Matches(d, req) {
			results = append(results, d)
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Timestamp.Before(results[j].Timestamp)
	})
	if req.Limit > 0 && len(results) > req.Limit {
		results = results[:req.Limit]
	}
	return results, nil
}

// Indices lists index names in lexical order.
func (s *Storage) Indices(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var names []string
	for _, d := range s.docs {
		if !seen[d.Index] {
			seen[d.Index] = true
			names = append(names, d.Index)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes documents of an index older than the cutoff.
func (s *Storage) Delete(ctx context.Context, index string, before time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.docs[:0]
	for _, d := range s.docs {
		if d.Index == index && d.Timestamp.Before(before) {
			continue
		}
		kept = append(kept, d)
	}
	s.docs = kept
	return nil
}

// Close is a no-op for memory storage
func (s *Storage) Close() error {
	return nil
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &storage.Stats{TotalDocuments: uint64(len(s.docs))}
	indices := make(map[string]bool)
	for _, d := range s.docs {
		indices[d.Index] = true
		if stats.Oldest.IsZero() || d.Timestamp.Before(stats.Oldest) {
			stats.Oldest = d.Timestamp
		}
		if d.Timestamp.After(stats.Newest) {
			stats.Newest = d.Timestamp
		}
	}
	stats.TotalIndices = uint64(len(indices))
	return stats, nil
}

// Get implements storage.KV.
func (s *Storage) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.kv[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Set implements storage.KV.
func (s *Storage) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.kv[key] = append([]byte(nil), value...)
	return nil
}

// DeleteKey removes a KV entry.
func (s *Storage) DeleteKey(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.kv, key)
	return nil
}

// Scan implements storage.KV, visiting keys in lexical order.
func (s *Storage) Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error {
	s.mu.RLock()
	keys := make([]string, 0)
	for k := range s.kv {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	values := make([][]byte, len(keys))
	for i, k := range keys {
		values[i] = append([]byte(nil), s.kv[k]...)
	}
	s.mu.RUnlock()

	// fn runs unlocked so it may write back into the store.
	for i, k := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(k, values[i]); err != nil {
			return err
		}
	}
	return nil
}

// KV exposes the key-value half of the store.
func (s *Storage) KV() storage.KV {
	return kvView{s}
}

type kvView struct{ s *Storage }

func (v kvView) Get(ctx context.Context, key string) ([]byte, error) { return v.s.Get(ctx, key) }
func (v kvView) Set(ctx context.Context, key string, value []byte) error {
	return v.s.Set(ctx, key, value)
}
func (v kvView) Delete(ctx context.Context, key string) error { return v.s.DeleteKey(ctx, key) }
func (v kvView) Scan(ctx context.Context, prefix string, fn func(string, []byte) error) error {
	return v.s.Scan(ctx, prefix, fn)
}
