// Package metrics exports engine, capture, storage and HTTP metrics to
// Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jobrunner/tessera/internal/ports/output"
)

// Collector implements the MetricsCollector port using Prometheus.
type Collector struct {
	queryPasses         *prometheus.CounterVec
	queryDuration       *prometheus.HistogramVec
	swaps               *prometheus.CounterVec
	renderables         *prometheus.GaugeVec
	captures            *prometheus.CounterVec
	captureDuration     prometheus.Observer
	capturedTiles       prometheus.Counter
	cacheLookups        *prometheus.CounterVec
	archivesLoaded      prometheus.Gauge
	datasetsLoaded      prometheus.Gauge
	storageOperations   *prometheus.CounterVec
	storageDuration     *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

var _ output.MetricsCollector = (*Collector)(nil)

// builder registers namespaced metrics with one registerer.
type builder struct {
	factory   promauto.Factory
	namespace string
}

func (b builder) counter(name, help string, labels ...string) *prometheus.CounterVec {
	return b.factory.NewCounterVec(prometheus.CounterOpts{Namespace: b.namespace, Name: name, Help: help}, labels)
}

func (b builder) gauge(name, help string, labels ...string) *prometheus.GaugeVec {
	return b.factory.NewGaugeVec(prometheus.GaugeOpts{Namespace: b.namespace, Name: name, Help: help}, labels)
}

func (b builder) histogram(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return b.factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: b.namespace,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	}, labels)
}

var captureBuckets = []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60}

// NewCollector registers the tessera metrics with reg, or with the default
// registerer when reg is nil.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if namespace == "" {
		namespace = "tessera"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	b := builder{factory: promauto.With(reg), namespace: namespace}

	return &Collector{
		queryPasses:   b.counter("query_passes_total", "Background dataset query passes.", "layer", "status"),
		queryDuration: b.histogram("query_duration_seconds", "Background query pass duration.", prometheus.DefBuckets, "layer"),
		swaps:         b.counter("render_swaps_total", "Render list swaps.", "layer"),
		renderables:   b.gauge("renderables", "Live renderables.", "layer"),

		captures:        b.counter("captures_total", "Tile captures.", "status"),
		captureDuration: b.histogram("capture_duration_seconds", "Tile capture duration.", captureBuckets).WithLabelValues(),
		capturedTiles:   b.counter("captured_tiles_total", "Tiles delivered to capture callbacks.").WithLabelValues(),
		cacheLookups:    b.counter("bitmap_cache_lookups_total", "Decoded bitmap cache lookups.", "result"),

		archivesLoaded: b.gauge("archives_loaded", "Loaded imagery archives.").WithLabelValues(),
		datasetsLoaded: b.gauge("datasets_loaded", "Cataloged datasets.").WithLabelValues(),

		storageOperations: b.counter("storage_operations_total", "Archive storage operations.", "operation", "status"),
		storageDuration:   b.histogram("storage_duration_seconds", "Archive storage operation duration.", prometheus.DefBuckets, "operation"),

		httpRequestsTotal:   b.counter("http_requests_total", "HTTP requests.", "method", "path", "status"),
		httpRequestDuration: b.histogram("http_request_duration_seconds", "HTTP request duration.", prometheus.DefBuckets, "method", "path"),
	}
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// IncQueryPass implements output.MetricsCollector.
func (c *Collector) IncQueryPass(layer string, success bool) {
	c.queryPasses.WithLabelValues(layer, status(success)).Inc()
}

// ObserveQueryDuration implements output.MetricsCollector.
func (c *Collector) ObserveQueryDuration(layer string, duration time.Duration) {
	c.queryDuration.WithLabelValues(layer).Observe(duration.Seconds())
}

// IncSwaps implements output.MetricsCollector.
func (c *Collector) IncSwaps(layer string) {
	c.swaps.WithLabelValues(layer).Inc()
}

// SetRenderables implements output.MetricsCollector.
func (c *Collector) SetRenderables(layer string, count int) {
	c.renderables.WithLabelValues(layer).Set(float64(count))
}

// IncCaptures implements output.MetricsCollector.
func (c *Collector) IncCaptures(success bool) {
	c.captures.WithLabelValues(status(success)).Inc()
}

// ObserveCaptureDuration implements output.MetricsCollector.
func (c *Collector) ObserveCaptureDuration(duration time.Duration) {
	c.captureDuration.Observe(duration.Seconds())
}

// AddCapturedTiles implements output.MetricsCollector.
func (c *Collector) AddCapturedTiles(count int) {
	if count > 0 {
		c.capturedTiles.Add(float64(count))
	}
}

// IncCacheLookups implements output.MetricsCollector.
func (c *Collector) IncCacheLookups(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheLookups.WithLabelValues(result).Inc()
}

// SetArchivesLoaded implements output.MetricsCollector.
func (c *Collector) SetArchivesLoaded(count int) {
	c.archivesLoaded.Set(float64(count))
}

// SetDatasetsLoaded implements output.MetricsCollector.
func (c *Collector) SetDatasetsLoaded(count int) {
	c.datasetsLoaded.Set(float64(count))
}

// IncStorageOperations implements output.MetricsCollector.
func (c *Collector) IncStorageOperations(operation string, success bool) {
	c.storageOperations.WithLabelValues(operation, status(success)).Inc()
}

// ObserveStorageDuration implements output.MetricsCollector.
func (c *Collector) ObserveStorageDuration(operation string, duration time.Duration) {
	c.storageDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// Middleware counts and times requests by method, normalized path and
// status class.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		path := normalizePath(r.URL.Path)
		c.httpRequestsTotal.WithLabelValues(r.Method, path, statusToString(sw.code)).Inc()
		c.httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// normalizePath collapses dataset names in API paths so that label
// cardinality stays bounded.
func normalizePath(path string) string {
	const datasets = "/api/v1/datasets/"
	if rest, ok := strings.CutPrefix(path, datasets); ok && rest != "" {
		if strings.HasSuffix(rest, "/overview") {
			return datasets + "{name}/overview"
		}
		return datasets + "{name}"
	}
	return path
}

// statusToString returns the status class, e.g. "4xx".
func statusToString(code int) string {
	if code < 200 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}
