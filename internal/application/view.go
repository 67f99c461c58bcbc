package application

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jobrunner/tessera/internal/domain"
	"github.com/jobrunner/tessera/internal/engine"
	"github.com/jobrunner/tessera/internal/ports/input"
	"github.com/jobrunner/tessera/internal/ports/output"
	"github.com/jobrunner/tessera/internal/raster"
)

// imageryLayer is the live dataset layer driven by the view service.
type imageryLayer interface {
	SetView(view domain.ViewState)
	View() domain.ViewState
	State() engine.State
	Renderables() []*raster.RenderableLayer
	Renderable(name string) (*raster.RenderableLayer, bool)
	Selection() string
	SetSelection(name string)
	AutoSelect() string
	PreferredSRID() int
	SetTransparency(name string, alpha float64)
	Offline() (bool, time.Duration)
	SetOffline(offline bool, refresh time.Duration)
	Attributions() []domain.Attribution
}

// ViewService drives the imagery layer from view and display updates.
type ViewService struct {
	layer   imageryLayer
	catalog output.Catalog
	logger  *slog.Logger
	version atomic.Int64
}

var _ input.ViewService = (*ViewService)(nil)

// NewViewService creates a new view service.
func NewViewService(layer imageryLayer, catalog output.Catalog, logger *slog.Logger) *ViewService {
	return &ViewService{
		layer:   layer,
		catalog: catalog,
		logger:  logger,
	}
}

// SetView validates view, stamps it with the next version and hands it to
// the layer. The stamped view is returned.
func (s *ViewService) SetView(_ context.Context, view domain.ViewState) (domain.ViewState, error) {
	if err := view.Validate(); err != nil {
		return domain.ViewState{}, err
	}
	if !view.CrossesIDL {
		view.CrossesIDL = view.Bounds.CrossesIDL()
	}
	view.Version = s.version.Add(1)

	s.layer.SetView(view)
	s.logger.Debug("view updated",
		"version", view.Version,
		"resolution", view.Resolution,
		"crosses_idl", view.CrossesIDL,
	)
	return view, nil
}

// LayerStatus returns a snapshot of the live layer.
func (s *ViewService) LayerStatus(_ context.Context) input.LayerStatus {
	offline, refresh := s.layer.Offline()
	live := s.layer.Renderables()

	renderables := make([]input.RenderableStatus, len(live))
	for i, r := range live {
		d := r.Descriptor()
		renderables[i] = input.RenderableStatus{
			Name:          d.Name,
			Provider:      d.Provider,
			SRID:          d.SRID,
			MinResolution: d.MinResolution,
			MaxResolution: d.MaxResolution,
			Alpha:         r.Alpha(),
		}
	}

	return input.LayerStatus{
		State:         s.layer.State().String(),
		View:          s.layer.View(),
		Selection:     s.layer.Selection(),
		AutoSelect:    s.layer.AutoSelect(),
		PreferredSRID: s.layer.PreferredSRID(),
		Offline:       offline,
		Refresh:       refresh.String(),
		Attributions:  s.layer.Attributions(),
		Renderables:   renderables,
	}
}

// SetSelection pins the layer to a cataloged dataset. An empty name restores
// auto-select.
func (s *ViewService) SetSelection(ctx context.Context, name string) error {
	if name != "" {
		if _, err := s.catalog.GetDataset(ctx, name); err != nil {
			return err
		}
	}
	s.layer.SetSelection(name)
	s.logger.Info("selection changed", "dataset", name)
	return nil
}

// SetTransparency sets the opacity of a cataloged dataset.
func (s *ViewService) SetTransparency(ctx context.Context, name string, alpha float64) error {
	if alpha < 0 || alpha > 1 {
		return &domain.ValidationError{
			Field:      "alpha",
			Value:      alpha,
			Constraint: "[0, 1]",
			Message:    "alpha must be between 0 and 1",
		}
	}
	if _, err := s.catalog.GetDataset(ctx, name); err != nil {
		return err
	}
	s.layer.SetTransparency(name, alpha)
	return nil
}

// SetOffline switches offline-only mode and the cache refresh interval.
func (s *ViewService) SetOffline(_ context.Context, offline bool, refresh time.Duration) error {
	if refresh < 0 {
		return &domain.ValidationError{
			Field:      "refresh_interval",
			Value:      refresh,
			Constraint: ">= 0",
			Message:    "refresh interval must not be negative",
		}
	}
	s.layer.SetOffline(offline, refresh)
	s.logger.Info("cache mode changed", "offline", offline, "refresh_interval", refresh)
	return nil
}
