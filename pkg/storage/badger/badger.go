package badger

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/nicktill/tinylens/pkg/storage"
)

const (
	docPrefix   byte = 'd'
	kvPrefix    byte = 'k'
	indexPrefix byte = 'i'

	docKeyLen = 1 + 8 + 8 + 8

	// slowQueryThreshold marks scans worth reporting through Stats.
	slowQueryThreshold = 5 * time.Second
)

// Storage implements storage.Storage and storage.KV using BadgerDB (LSM tree)
type Storage struct {
	db  *badger.DB
	seq atomic.Uint64

	slowQueries atomic.Uint64
}

// Config holds BadgerDB configuration
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = laptop-friendly defaults)
	MaxMemoryMB int64
}

// New creates a BadgerDB storage backend
func New(cfg Config) (*Storage, error) {
	opts := badger.DefaultOptions(cfg.Path).WithLogger(nil)

	if cfg.InMemory {
		opts = opts.WithDir("").WithValueDir("").WithInMemory(true)
	}

	// 16 MB memtable is the floor for decent write performance.
	memTableSize := int64(16 * 1024 * 1024)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB * 1024 * 1024 / 3
	}

	// Block and index caches are otherwise unbounded.
	blockCacheSize := memTableSize / 2
	indexCacheSize := memTableSize / 4

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(blockCacheSize).
		WithIndexCacheSize(indexCacheSize).
		WithMaxLevels(4).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithNumCompactors(2).
		WithValueLogMaxEntries(5000).
		WithValueLogFileSize(64 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	s := &Storage{db: db}
	s.seq.Store(uint64(time.Now().UnixNano()))
	return s, nil
}

// Write stores documents in BadgerDB.
// Enforces context timeout/cancellation to prevent indefinite blocking.
func (s *Storage) Write(ctx context.Context, docs []storage.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- s.db.Update(func(txn *badger.Txn) error {
			seen := make(map[string]bool)
			for i, d := range docs {
				if i%100 == 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					default:
					}
				}

				value, err := json.Marshal(d)
				if err != nil {
					return fmt.Errorf("failed to encode document: %w", err)
				}
				if err := txn.Set(s.makeDocKey(d.Index, d.Timestamp), value); err != nil {
					return fmt.Errorf("failed to write document: %w", err)
				}

				if !seen[d.Index] {
					seen[d.Index] = true
					if err := txn.Set(append([]byte{indexPrefix}, d.Index...), nil); err != nil {
						return fmt.Errorf("failed to register index: %w", err)
					}
				}
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("write operation cancelled: %w", ctx.Err())
	}
}

// Query retrieves documents matching the request.
// Enforces context timeout/cancellation to prevent indefinite blocking.
func (s *Storage) Query(ctx context.Context, req storage.QueryRequest) ([]storage.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Index == "" {
		return nil, errors.New("query requires an index")
	}

	type queryResult struct {
		docs []storage.Document
		err  error
	}
	done := make(chan queryResult, 1)

	go func() {
		var res queryResult
		start := time.Now()

		res.err = s.db.View(func(txn *badger.Txn) error {
			prefix := indexKeyPrefix(req.Index)
			opts := badger.DefaultIteratorOptions
			opts.Prefix = prefix
			opts.PrefetchSize = 100

			it := txn.NewIterator(opts)
			defer it.Close()

			// Seeking is only valid when the range applies to the key's timestamp.
			primary := req.TimeField == ""
			seek := prefix
			if primary && !req.Start.IsZero() {
				seek = appendTime(append([]byte{}, prefix...), req.Start)
			}

			var iterCount int
			for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
				iterCount++
				if iterCount%1000 == 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					default:
					}
				}

				item := it.Item()
				if primary && !req.End.IsZero() && keyTime(item.Key()).After(req.End) {
					break
				}

				var d storage.Document
				if err := item.Value(func(val []byte) error {
					return json.Unmarshal(val, &d)
				}); err != nil {
					return fmt.Errorf("failed to decode document: %w", err)
				}

				if !storage.Matches(d, req) {
					continue
				}
				res.docs = append(res.docs, d)

				if req.Limit > 0 && len(res.docs) >= req.Limit {
					break
				}
			}
			return nil
		})

		if time.Since(start) > slowQueryThreshold {
			s.slowQueries.Add(1)
		}
		done <- res
	}()

	select {
	case res := <-done:
		return res.docs, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("query operation cancelled: %w", ctx.Err())
	}
}

// Indices lists registered index names in lexical order.
func (s *Storage) Indices(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var names []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte{indexPrefix}
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			names = append(names, string(it.Item().Key()[1:]))
		}
		return nil
	})
	sort.Strings(names)
	return names, err
}

// Delete removes documents of an index older than the cutoff.
func (s *Storage) Delete(ctx context.Context, index string, before time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		prefix := indexKeyPrefix(index)
		var keys [][]byte

		err := s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = prefix
			opts.PrefetchValues = false

			it := txn.NewIterator(opts)
			defer it.Close()
			for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
				if !keyTime(it.Item().Key()).Before(before) {
					break
				}
				keys = append(keys, it.Item().KeyCopy(nil))
			}
			return nil
		})
		if err != nil {
			done <- err
			return
		}

		// WriteBatch splits large deletes across transactions.
		wb := s.db.NewWriteBatch()
		defer wb.Cancel()
		for _, k := range keys {
			if err := wb.Delete(k); err != nil {
				done <- err
				return
			}
		}
		done <- wb.Flush()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("delete operation cancelled: %w", ctx.Err())
	}
}

// Close shuts down BadgerDB cleanly
func (s *Storage) Close() error {
	return s.db.Close()
}

// RunGC runs BadgerDB's value log garbage collection.
// badger.ErrNoRewrite means nothing needed collecting.
func (s *Storage) RunGC(discardRatio float64) error {
	err := s.db.RunValueLogGC(discardRatio)
	if errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	return err
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type statsResult struct {
		stats *storage.Stats
		err   error
	}
	done := make(chan statsResult, 1)

	go func() {
		stats := &storage.Stats{}
		err := s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false

			it := txn.NewIterator(opts)
			defer it.Close()

			var iterCount int
			for it.Rewind(); it.Valid(); it.Next() {
				iterCount++
				if iterCount%1000 == 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					default:
					}
				}

				key := it.Item().Key()
				switch key[0] {
				case indexPrefix:
					stats.TotalIndices++
				case docPrefix:
					if len(key) != docKeyLen {
						continue
					}
					stats.TotalDocuments++
					ts := keyTime(key)
					if stats.Oldest.IsZero() || ts.Before(stats.Oldest) {
						stats.Oldest = ts
					}
					if ts.After(stats.Newest) {
						stats.Newest = ts
					}
				}
			}
			return nil
		})

		if err == nil {
			lsmSize, vlogSize := s.db.Size()
			stats.SizeBytes = uint64(lsmSize + vlogSize)
		}
		done <- statsResult{stats: stats, err: err}
	}()

	select {
	case res := <-done:
		return res.stats, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("stats operation cancelled: %w", ctx.Err())
	}
}

// SlowQueries reports how many scans exceeded the slow query threshold.
func (s *Storage) SlowQueries() uint64 {
	return s.slowQueries.Load()
}

// Get implements storage.KV.
func (s *Storage) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(kvKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return storage.ErrNotFound
		}
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	return out, err
}

// Set implements storage.KV.
func (s *Storage) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(kvKey(key), value)
	})
}

// DeleteKey removes a KV entry. Missing keys are not an error.
func (s *Storage) DeleteKey(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(kvKey(key))
	})
}

// Scan implements storage.KV.
func (s *Storage) Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p := kvKey(prefix)
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = p

		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(p); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := fn(string(item.Key()[1:]), val); err != nil {
				return err
			}
		}
		return nil
	})
}

// KV exposes the key-value half of the store.
func (s *Storage) KV() storage.KV {
	return kvView{s}
}

// kvView adapts Storage to storage.KV. Storage.Delete already belongs to
// the document interface, so KV deletion goes through DeleteKey.
type kvView struct{ s *Storage }

func (v kvView) Get(ctx context.Context, key string) ([]byte, error) { return v.s.Get(ctx, key) }
func (v kvView) Set(ctx context.Context, key string, value []byte) error {
	return v.s.Set(ctx, key, value)
}
func (v kvView) Delete(ctx context.Context, key string) error { return v.s.DeleteKey(ctx, key) }
func (v kvView) Scan(ctx context.Context, prefix string, fn func(string, []byte) error) error {
	return v.s.Scan(ctx, prefix, fn)
}

// makeDocKey creates a sortable key: prefix + index hash + timestamp + sequence.
// The sequence keeps documents sharing a timestamp distinct.
func (s *Storage) makeDocKey(index string, ts time.Time) []byte {
	key := make([]byte, 0, docKeyLen)
	key = append(key, indexKeyPrefix(index)...)
	key = appendTime(key, ts)
	return binary.BigEndian.AppendUint64(key, s.seq.Add(1))
}

func indexKeyPrefix(index string) []byte {
	key := make([]byte, 1, 9)
	key[0] = docPrefix
	return binary.BigEndian.AppendUint64(key, xxhash.Sum64String(index))
}

func appendTime(key []byte, ts time.Time) []byte {
	return binary.BigEndian.AppendUint64(key, uint64(ts.UnixNano()))
}

// keyTime extracts the timestamp from a document key.
func keyTime(key []byte) time.Time {
	return time.Unix(0, int64(binary.BigEndian.Uint64(key[9:17]))).UTC()
}

func kvKey(key string) []byte {
	var b bytes.Buffer
	b.Grow(len(key) + 1)
	b.WriteByte(kvPrefix)
	b.WriteString(key)
	return b.Bytes()
}
