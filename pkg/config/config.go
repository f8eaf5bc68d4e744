package config

import "time"

// Server defaults
const (
	DefaultPort         = "8080"
	DefaultDataDir      = "./data/tinylens"
	DefaultMaxStorageGB = 1
	DefaultMaxMemoryMB  = 48
	DefaultLogLevel     = "info"
)

// Background tasks
const (
	BadgerGCInterval    = 10 * time.Minute
	BadgerGCRetries     = 3
	BadgerGCBackoffBase = 30 * time.Second
)

// Aggregation query defaults
const (
	QueryTimeout         = 30 * time.Second
	TermsSize            = 100   // top-N categories per bucket
	MaxBucketsPerQuery   = 20000 // guards against 1m buckets over years
	AggregationCacheTTL  = 5 * time.Minute
	FilterValuesSize     = 1000
	MinFilterPrefixLen   = 3
	MappingSampleSize    = 500
	AnnotationSearchSize = 10000
)

// Client read policy: timeout plus bounded retry with exponential backoff.
const (
	ReadTimeout     = 15 * time.Second
	ReadRetries     = 3
	ReadBackoffBase = 250 * time.Millisecond
	ReadBackoffMax  = 4 * time.Second
	WriteTimeout    = 10 * time.Second
)

// Explorer view defaults
const (
	DefaultInterval      = "1d"
	AutoInterval         = "auto"
	TargetPoints         = 1000
	SidebarPageSize      = 16
	InspectionMinPadding = time.Minute
	InspectionPadRatio   = 0.1
	FullHistoryPadRatio  = 0.1
	ZoomInRatio          = 0.15
	ZoomOutRatio         = 0.20
	DegenerateSpan       = time.Minute
	DegeneratePad        = 12 * time.Hour
)

// Client-local persistence keys
const (
	FormStateKey           = "fieldSelectorState"
	SeriesColorsKey        = "seriesColors"
	AnnotationTypeColorKey = "annotationTypeColors"
)

// Ingest limits
const (
	IngestTimeout          = 5 * time.Second
	MaxDocumentsPerRequest = 5000
	MaxFieldsPerDocument   = 64
	MaxFieldNameLength     = 256
	MaxStringFieldLength   = 4096
	MaxIndexNameLength     = 128
)

// Export defaults and limits
const (
	DefaultExportWindow = 30 * 24 * time.Hour
	MaxExportWindow     = 366 * 24 * time.Hour
)

// WebSocket configuration
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSBroadcastBuffer = 256
	WSChannelBuffer   = 10
	WSWriteDeadline   = 10 * time.Second
	WSReadDeadline    = 60 * time.Second
	WSPingInterval    = 30 * time.Second
)
