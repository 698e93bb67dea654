// Package obsmetrics holds the Prometheus metrics the store facade
// updates on every fetch, decode, and cache access.
package obsmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors the store facade reports to.
type Metrics struct {
	FetchesTotal      *prometheus.CounterVec
	FetchDuration     *prometheus.HistogramVec
	BytesFetchedTotal *prometheus.CounterVec

	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter
	CacheSize        prometheus.Gauge

	DecodeErrorsTotal *prometheus.CounterVec
}

// New creates and registers the metrics against the default registerer.
func New() *Metrics {
	return &Metrics{
		FetchesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "icechunk_fetches_total",
				Help: "Total object-store fetches issued, by kind and outcome.",
			},
			[]string{"kind", "status"},
		),
		FetchDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "icechunk_fetch_duration_seconds",
				Help: "Object-store fetch latency, by kind.",
			},
			[]string{"kind"},
		),
		BytesFetchedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "icechunk_bytes_fetched_total",
				Help: "Bytes read from the object store, by kind.",
			},
			[]string{"kind"},
		),
		CacheHitsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "icechunk_manifest_cache_hits_total",
				Help: "Manifest LRU cache hits.",
			},
		),
		CacheMissesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "icechunk_manifest_cache_misses_total",
				Help: "Manifest LRU cache misses.",
			},
		),
		CacheSize: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "icechunk_manifest_cache_size",
				Help: "Current number of entries in the manifest LRU cache.",
			},
		),
		DecodeErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "icechunk_decode_errors_total",
				Help: "FormatError count, by file kind.",
			},
			[]string{"kind"},
		),
	}
}

// Fetch kinds reported under the "kind" label.
const (
	KindSnapshot = "snapshot"
	KindManifest = "manifest"
	KindChunk    = "chunk"
	KindRef      = "ref"
)

// Fetch outcome reported under the "status" label.
const (
	StatusOK        = "ok"
	StatusError     = "error"
	StatusCancelled = "cancelled"
)
