package application

import (
	"context"

	"github.com/jobrunner/tessera/internal/engine"
	"github.com/jobrunner/tessera/internal/ports/input"
	"github.com/jobrunner/tessera/internal/ports/output"
)

// layerState reports the lifecycle state of a layer.
type layerState interface {
	State() engine.State
}

// HealthService provides health check functionality.
type HealthService struct {
	registry *ArchiveRegistry
	catalog  output.Catalog
	layer    layerState
}

var _ input.HealthChecker = (*HealthService)(nil)

// NewHealthService creates a new health service. layer may be nil when no
// imagery layer runs, as for one-shot CLI commands.
func NewHealthService(registry *ArchiveRegistry, catalog output.Catalog, layer layerState) *HealthService {
	return &HealthService{
		registry: registry,
		catalog:  catalog,
		layer:    layer,
	}
}

// IsHealthy returns true if the catalog answers and the layer runs.
func (s *HealthService) IsHealthy(ctx context.Context) bool {
	if _, err := s.catalog.CountDatasets(ctx); err != nil {
		return false
	}
	return s.layer == nil || s.layer.State() != engine.StateStopped
}

// IsReady returns true if the service is ready to accept requests.
func (s *HealthService) IsReady(ctx context.Context) bool {
	if !s.IsHealthy(ctx) {
		return false
	}
	// ready with at least one cataloged archive, or with none configured
	return s.registry.ReadyCount() > 0 || s.registry.ArchiveCount() == 0
}

// GetHealthDetails returns detailed health information.
func (s *HealthService) GetHealthDetails(ctx context.Context) input.HealthDetails {
	components := map[string]string{
		"catalog": "ok",
		"layer":   "disabled",
	}

	datasets, err := s.catalog.CountDatasets(ctx)
	if err != nil {
		components["catalog"] = "error: " + err.Error()
	}
	if s.layer != nil {
		components["layer"] = s.layer.State().String()
	}

	return input.HealthDetails{
		Healthy:        s.IsHealthy(ctx),
		Ready:          s.IsReady(ctx),
		ArchivesLoaded: s.registry.ArchiveCount(),
		ArchivesReady:  s.registry.ReadyCount(),
		DatasetsLoaded: datasets,
		Components:     components,
	}
}
