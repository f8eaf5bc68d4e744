package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tinylens_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tinylens_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	AggregationCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tinylens_aggregation_cache_total",
			Help: "Aggregation cache lookups by result",
		},
		[]string{"result"}, // hit, miss, error
	)

	AggregationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tinylens_aggregation_duration_seconds",
			Help:    "Time spent computing uncached aggregations",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15},
		},
	)

	AnnotationMutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tinylens_annotation_mutations_total",
			Help: "Annotation create/update/delete operations by result",
		},
		[]string{"action", "result"},
	)

	DocumentsIngestedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tinylens_documents_ingested_total",
			Help: "Documents accepted by the ingest endpoint",
		},
	)

	ActiveWebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tinylens_websocket_connections_active",
			Help: "Connected annotation change feed clients",
		},
	)
)

// RecordAnnotationMutation counts an annotation mutation outcome.
func RecordAnnotationMutation(action string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	AnnotationMutationsTotal.WithLabelValues(action, result).Inc()
}
