package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by KV lookups for absent keys.
var ErrNotFound = errors.New("key not found")

// Storage defines the interface for document storage backends.
// Implementations: memory (testing), badger (production).
type Storage interface {
	// Write stores documents
	Write(ctx context.Context, docs []Document) error

	// Query retrieves documents of one index within a time range
	Query(ctx context.Context, req QueryRequest) ([]Document, error)

	// Indices lists every index that has received documents
	Indices(ctx context.Context) ([]string, error)

	// Delete removes documents of an index older than the given time
	Delete(ctx context.Context, index string, before time.Time) error

	// Close cleanly shuts down the storage
	Close() error

	// Stats returns storage statistics
	Stats(ctx context.Context) (*Stats, error)
}

// KV is a small key-value store used for annotations and client-local
// state such as color mappings and saved form settings.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error

	// Scan calls fn for every key with the given prefix in key order.
	Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error
}

// QueryRequest specifies what documents to retrieve
type QueryRequest struct {
	Index string

	// Time range, inclusive on both ends
	Start time.Time
	End   time.Time

	// TimeField selects the document field the range applies to.
	// Empty means the document's primary timestamp.
	TimeField string

	// Exact-match filters on string fields (optional)
	Filters map[string]string

	// Limit number of results (0 = no limit)
	Limit int
}

// Stats provides storage health and usage info
type Stats struct {
	TotalDocuments uint64    `json:"total_documents"`
	TotalIndices   uint64    `json:"total_indices"`
	SizeBytes      uint64    `json:"size_bytes"`
	Oldest         time.Time `json:"oldest"`
	Newest         time.Time `json:"newest"`
}
