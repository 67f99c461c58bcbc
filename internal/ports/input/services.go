// Package input defines the primary/driving ports of the application.
package input

import (
	"context"
	"image"
	"io"
	"time"

	"github.com/jobrunner/tessera/internal/capture"
	"github.com/jobrunner/tessera/internal/domain"
)

// ArchiveRegistry defines the primary port for archive management.
type ArchiveRegistry interface {
	// ListArchives returns all registered archives.
	ListArchives(ctx context.Context) ([]domain.Archive, error)

	// GetArchive returns a specific archive by ID.
	GetArchive(ctx context.Context, id string) (*domain.Archive, error)

	// GetArchiveStatus returns the status of an archive.
	GetArchiveStatus(ctx context.Context, id string) (domain.ArchiveStatus, error)
}

// DatasetService defines the primary port for catalog browsing.
type DatasetService interface {
	// ListDatasets returns the cataloged datasets matching q.
	ListDatasets(ctx context.Context, q domain.DatasetQuery) ([]domain.DatasetDescriptor, error)

	// GetDataset returns a dataset by name.
	GetDataset(ctx context.Context, name string) (*domain.DatasetDescriptor, error)

	// SetVisible shows or hides a dataset.
	SetVisible(ctx context.Context, name string, visible bool) error

	// Overview renders a memoized overview of a whole dataset.
	Overview(ctx context.Context, req OverviewRequest) (image.Image, error)
}

// OverviewRequest selects a dataset overview bitmap.
type OverviewRequest struct {
	Dataset    string
	Scale      float64 // output pixels per pixel of the coarsest level
	SampleSize int     // decimation factor, >= 1
	Lat        float64 // latitude the overview is shown at
}

// ViewService defines the primary port driving the live imagery layer.
type ViewService interface {
	// SetView moves the map view.
	SetView(ctx context.Context, view domain.ViewState) (domain.ViewState, error)

	// LayerStatus returns a snapshot of the live layer.
	LayerStatus(ctx context.Context) LayerStatus

	// SetSelection pins the layer to one dataset; empty restores auto-select.
	SetSelection(ctx context.Context, name string) error

	// SetTransparency sets the opacity of a dataset in [0,1].
	SetTransparency(ctx context.Context, name string, alpha float64) error

	// SetOffline switches offline-only mode and the cache refresh interval.
	SetOffline(ctx context.Context, offline bool, refresh time.Duration) error
}

// LayerStatus is a snapshot of the live imagery layer.
type LayerStatus struct {
	State         string               `json:"state"`
	View          domain.ViewState     `json:"view"`
	Selection     string               `json:"selection,omitempty"`
	AutoSelect    string               `json:"auto_select,omitempty"`
	PreferredSRID int                  `json:"preferred_srid"`
	Offline       bool                 `json:"offline"`
	Refresh       string               `json:"refresh_interval"`
	Attributions  []domain.Attribution `json:"attributions"`
	Renderables   []RenderableStatus   `json:"renderables"`
}

// RenderableStatus describes one live renderable.
type RenderableStatus struct {
	Name          string  `json:"name"`
	Provider      string  `json:"provider"`
	SRID          int     `json:"srid"`
	MinResolution float64 `json:"min_resolution"`
	MaxResolution float64 `json:"max_resolution"`
	Alpha         float64 `json:"alpha"`
}

// CaptureService defines the primary port for region capture.
type CaptureService interface {
	// Capture stitches the tiles covering the request and writes the encoded
	// image to w.
	Capture(ctx context.Context, req CaptureRequest, w io.Writer) (*CaptureResult, error)

	// Bounds returns the tile-aligned bounds a capture would produce.
	Bounds(ctx context.Context, req CaptureRequest) (*capture.TileCaptureBounds, error)
}

// CaptureRequest describes a capture.
type CaptureRequest struct {
	Params   domain.TileCaptureParams
	Format   capture.Format
	Datasets []string // restrict to these datasets, empty = every visible one
}

// CaptureResult summarizes a finished capture.
type CaptureResult struct {
	Format    capture.Format            `json:"format"`
	Bounds    capture.TileCaptureBounds `json:"bounds"`
	Datasets  []string                  `json:"datasets"`
	Tiles     int                       `json:"tiles"`
	Missing   int                       `json:"missing"`
	WorldFile string                    `json:"world_file"`
	Duration  time.Duration             `json:"-"`
}

// SyncTrigger defines the primary port for on-demand archive sync.
type SyncTrigger interface {
	// TriggerSync synchronizes archives with storage now.
	TriggerSync(ctx context.Context) (SyncResult, error)
}

// SyncResult contains the result of a sync operation.
type SyncResult struct {
	ArchivesAdded   int       `json:"archives_added"`
	ArchivesUpdated int       `json:"archives_updated"`
	ArchivesRemoved int       `json:"archives_removed"`
	ArchivesTotal   int       `json:"archives_total"`
	SyncedAt        time.Time `json:"synced_at"`
	NextScheduledAt time.Time `json:"next_scheduled_at,omitempty"`
}

// HealthChecker defines the primary port for health checks.
type HealthChecker interface {
	// IsHealthy returns true if the service is healthy.
	IsHealthy(ctx context.Context) bool

	// IsReady returns true if the service is ready to accept requests.
	IsReady(ctx context.Context) bool

	// GetHealthDetails returns detailed health information.
	GetHealthDetails(ctx context.Context) HealthDetails
}

// HealthDetails contains detailed health information.
type HealthDetails struct {
	Healthy        bool              // Overall health status
	Ready          bool              // Ready to accept requests
	ArchivesLoaded int               // Number of registered archives
	ArchivesReady  int               // Number of archives in the catalog
	DatasetsLoaded int               // Number of cataloged datasets
	Components     map[string]string // Component statuses
}
