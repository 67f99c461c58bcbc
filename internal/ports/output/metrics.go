package output

import "time"

// MetricsCollector defines the secondary port for metrics collection.
type MetricsCollector interface {
	// IncQueryPass counts a background query pass of a layer.
	IncQueryPass(layer string, success bool)

	// ObserveQueryDuration records the duration of a query pass.
	ObserveQueryDuration(layer string, duration time.Duration)

	// IncSwaps counts render-list swaps of a layer.
	IncSwaps(layer string)

	// SetRenderables sets the number of live renderables of a layer.
	SetRenderables(layer string, count int)

	// IncCaptures counts capture requests.
	IncCaptures(success bool)

	// ObserveCaptureDuration records capture duration.
	ObserveCaptureDuration(duration time.Duration)

	// AddCapturedTiles counts tiles delivered to capture callbacks.
	AddCapturedTiles(count int)

	// IncCacheLookups counts decoded-bitmap cache lookups.
	IncCacheLookups(hit bool)

	// SetArchivesLoaded sets the number of loaded archives.
	SetArchivesLoaded(count int)

	// SetDatasetsLoaded sets the number of cataloged datasets.
	SetDatasetsLoaded(count int)

	// IncStorageOperations increments storage operation counter.
	IncStorageOperations(operation string, success bool)

	// ObserveStorageDuration records storage operation duration.
	ObserveStorageDuration(operation string, duration time.Duration)
}

// NoOpMetrics is a no-op implementation of MetricsCollector.
type NoOpMetrics struct{}

// IncQueryPass implements MetricsCollector.
func (n *NoOpMetrics) IncQueryPass(_ string, _ bool) {}

// ObserveQueryDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveQueryDuration(_ string, _ time.Duration) {}

// IncSwaps implements MetricsCollector.
func (n *NoOpMetrics) IncSwaps(_ string) {}

// SetRenderables implements MetricsCollector.
func (n *NoOpMetrics) SetRenderables(_ string, _ int) {}

// IncCaptures implements MetricsCollector.
func (n *NoOpMetrics) IncCaptures(_ bool) {}

// ObserveCaptureDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveCaptureDuration(_ time.Duration) {}

// AddCapturedTiles implements MetricsCollector.
func (n *NoOpMetrics) AddCapturedTiles(_ int) {}

// IncCacheLookups implements MetricsCollector.
func (n *NoOpMetrics) IncCacheLookups(_ bool) {}

// SetArchivesLoaded implements MetricsCollector.
func (n *NoOpMetrics) SetArchivesLoaded(_ int) {}

// SetDatasetsLoaded implements MetricsCollector.
func (n *NoOpMetrics) SetDatasetsLoaded(_ int) {}

// IncStorageOperations implements MetricsCollector.
func (n *NoOpMetrics) IncStorageOperations(_ string, _ bool) {}

// ObserveStorageDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveStorageDuration(_ string, _ time.Duration) {}
