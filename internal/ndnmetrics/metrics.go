// Package ndnmetrics provides Prometheus metrics for the NDN core,
// generalizing the teacher's internal/metrics.Metrics (same
// promauto/CounterVec/HistogramVec shapes, same namespace-plus-Record*
// helper style) from S3-bucket/object concerns onto chunk store, NDN
// HTTP, and RTCP tunnel concerns.
package ndnmetrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ndncore"

// Metrics holds every Prometheus collector ndncore's components record
// against.
type Metrics struct {
	// Chunk store metrics (C2).
	ChunkStoreOpsTotal    *prometheus.CounterVec
	ChunkStoreOpDuration  *prometheus.HistogramVec
	ChunkStoreBytesTotal  *prometheus.CounterVec
	ChunkStoreChunksTotal prometheus.Gauge

	// NDN HTTP server metrics (C6).
	NDNRequestsTotal   *prometheus.CounterVec
	NDNRequestDuration *prometheus.HistogramVec
	NDNResponseSize    *prometheus.HistogramVec
	NDNRequestsInFlight prometheus.Gauge

	// NamedDataMgr metrics (C5).
	PathPublishesTotal *prometheus.CounterVec
	PathConflictsTotal prometheus.Counter

	// RTCP tunnel metrics (C8).
	TunnelsOpenGauge    prometheus.Gauge
	TunnelDialsTotal    *prometheus.CounterVec
	TunnelFramesTotal   *prometheus.CounterVec
	ROpenRequestsTotal  *prometheus.CounterVec

	// GC metrics.
	GCRunsTotal    prometheus.Counter
	GCPurgedTotal  prometheus.Counter
	GCDuration     prometheus.Histogram

	// Cache metrics (object/path-table read cache).
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec
}

// New creates and registers every ndncore metric.
func New() *Metrics {
	return &Metrics{
		ChunkStoreOpsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "chunkstore", Name: "operations_total",
			Help: "Total number of chunk store operations.",
		}, []string{"operation", "status"}),
		ChunkStoreOpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "chunkstore", Name: "operation_duration_seconds",
			Help:    "Chunk store operation duration in seconds.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"operation"}),
		ChunkStoreBytesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "chunkstore", Name: "bytes_total",
			Help: "Total bytes written or read through the chunk store.",
		}, []string{"direction"}),
		ChunkStoreChunksTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "chunkstore", Name: "chunks_total",
			Help: "Current number of complete chunks in the store.",
		}),

		NDNRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "Total number of NDN HTTP requests.",
		}, []string{"method", "link_kind", "status"}),
		NDNRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "NDN HTTP request duration in seconds.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"method", "link_kind"}),
		NDNResponseSize: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "response_size_bytes",
			Help:    "NDN HTTP response size in bytes.",
			Buckets: prometheus.ExponentialBuckets(100, 10, 8),
		}, []string{"link_kind"}),
		NDNRequestsInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_in_flight",
			Help: "Current number of NDN HTTP requests being served.",
		}),

		PathPublishesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ndnmgr", Name: "path_publishes_total",
			Help: "Total number of successful obj_path publications.",
		}, []string{"mgr_id"}),
		PathConflictsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ndnmgr", Name: "path_conflicts_total",
			Help: "Total number of CAS sequence conflicts on obj_path publish.",
		}),

		TunnelsOpenGauge: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "rtcp", Name: "tunnels_open",
			Help: "Current number of Open RTCP tunnels.",
		}),
		TunnelDialsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "rtcp", Name: "dials_total",
			Help: "Total number of tunnel dial attempts.",
		}, []string{"status"}),
		TunnelFramesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "rtcp", Name: "frames_total",
			Help: "Total number of RTCP frames sent or received.",
		}, []string{"direction", "cmd"}),
		ROpenRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "rtcp", Name: "ropen_requests_total",
			Help: "Total number of ROpen requests by result.",
		}, []string{"result"}),

		GCRunsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "gc", Name: "runs_total",
			Help: "Total number of chunk store retention GC sweeps.",
		}),
		GCPurgedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "gc", Name: "purged_total",
			Help: "Total number of chunks purged by retention GC.",
		}),
		GCDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "gc", Name: "duration_seconds",
			Help:    "Retention GC sweep duration in seconds.",
			Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 120},
		}),

		CacheHitsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "hits_total",
			Help: "Total number of NamedDataMgr read-cache hits.",
		}, []string{"cache"}),
		CacheMissesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "misses_total",
			Help: "Total number of NamedDataMgr read-cache misses.",
		}, []string{"cache"}),
	}
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler { return promhttp.Handler() }

// RecordChunkStoreOp records one chunk store operation.
func (m *Metrics) RecordChunkStoreOp(operation, status string, duration float64, bytes int64, direction string) {
	m.ChunkStoreOpsTotal.WithLabelValues(operation, status).Inc()
	m.ChunkStoreOpDuration.WithLabelValues(operation).Observe(duration)
	if bytes > 0 {
		m.ChunkStoreBytesTotal.WithLabelValues(direction).Add(float64(bytes))
	}
}

// RecordNDNRequest records one NDN HTTP request.
func (m *Metrics) RecordNDNRequest(method, linkKind, status string, duration float64, size int64) {
	m.NDNRequestsTotal.WithLabelValues(method, linkKind, status).Inc()
	m.NDNRequestDuration.WithLabelValues(method, linkKind).Observe(duration)
	m.NDNResponseSize.WithLabelValues(linkKind).Observe(float64(size))
}

// RecordCacheAccess records a NamedDataMgr read-cache lookup.
func (m *Metrics) RecordCacheAccess(cache string, hit bool) {
	if hit {
		m.CacheHitsTotal.WithLabelValues(cache).Inc()
	} else {
		m.CacheMissesTotal.WithLabelValues(cache).Inc()
	}
}

// RecordGCRun records one retention GC sweep.
func (m *Metrics) RecordGCRun(duration float64, purged int) {
	m.GCRunsTotal.Inc()
	m.GCDuration.Observe(duration)
	m.GCPurgedTotal.Add(float64(purged))
}

// RecordTunnelDial records one RTCP tunnel dial attempt.
func (m *Metrics) RecordTunnelDial(status string) {
	m.TunnelDialsTotal.WithLabelValues(status).Inc()
}

// RecordFrame records one RTCP frame send/receive.
func (m *Metrics) RecordFrame(direction, cmd string) {
	m.TunnelFramesTotal.WithLabelValues(direction, cmd).Inc()
}

// RecordROpen records one ROpen request outcome.
func (m *Metrics) RecordROpen(result string) {
	m.ROpenRequestsTotal.WithLabelValues(result).Inc()
}
