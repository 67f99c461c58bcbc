package application

import (
	"context"
	"image"
	"log/slog"
	"sync"

	"github.com/jobrunner/tessera/internal/bitmap"
	"github.com/jobrunner/tessera/internal/domain"
	"github.com/jobrunner/tessera/internal/ports/input"
	"github.com/jobrunner/tessera/internal/ports/output"
	"github.com/jobrunner/tessera/internal/raster"
)

// liveRenderables looks up the renderables of the live layer.
type liveRenderables interface {
	Renderable(name string) (*raster.RenderableLayer, bool)
}

// DatasetService browses the catalog and renders dataset overviews.
type DatasetService struct {
	catalog       output.Catalog
	live          liveRenderables
	factory       output.TileSourceFactory
	memo          *bitmap.Memo
	latBucketSize float64
	logger        *slog.Logger

	mu          sync.Mutex
	overviews   map[string]*raster.RenderableLayer
	unsubscribe func()
}

var _ input.DatasetService = (*DatasetService)(nil)

// NewDatasetService creates a new dataset service. Overviews of datasets in
// the live layer reuse its renderables; others get their own, which are
// released whenever the catalog changes. live may be nil.
func NewDatasetService(
	catalog output.Catalog,
	live liveRenderables,
	factory output.TileSourceFactory,
	memo *bitmap.Memo,
	latBucketSize float64,
	logger *slog.Logger,
) *DatasetService {
	s := &DatasetService{
		catalog:       catalog,
		live:          live,
		factory:       factory,
		memo:          memo,
		latBucketSize: latBucketSize,
		logger:        logger,
		overviews:     make(map[string]*raster.RenderableLayer),
	}
	s.unsubscribe = catalog.Subscribe(s.releaseOverviews)
	return s
}

// ListDatasets returns the cataloged datasets matching q.
func (s *DatasetService) ListDatasets(ctx context.Context, q domain.DatasetQuery) ([]domain.DatasetDescriptor, error) {
	if q.Bounds != nil {
		if err := q.Bounds.Validate(); err != nil {
			return nil, err
		}
	}
	if q.Order == domain.OrderNone {
		q.Order = domain.OrderCoarsestFirst
	}
	return s.catalog.QueryDatasets(ctx, q)
}

// GetDataset returns a dataset by name.
func (s *DatasetService) GetDataset(ctx context.Context, name string) (*domain.DatasetDescriptor, error) {
	return s.catalog.GetDataset(ctx, name)
}

// SetVisible shows or hides a dataset.
func (s *DatasetService) SetVisible(ctx context.Context, name string, visible bool) error {
	if err := s.catalog.SetVisible(ctx, name, visible); err != nil {
		return err
	}
	s.logger.Info("dataset visibility changed", "dataset", name, "visible", visible)
	return nil
}

// Overview renders the whole dataset from its coarsest level.
func (s *DatasetService) Overview(ctx context.Context, req input.OverviewRequest) (image.Image, error) {
	if req.Scale <= 0 {
		return nil, &domain.ValidationError{
			Field:      "scale",
			Value:      req.Scale,
			Constraint: "> 0",
			Message:    "scale must be positive",
		}
	}
	if req.SampleSize < 1 {
		req.SampleSize = 1
	}
	if err := domain.NewGeoPoint(req.Lat, 0).Validate(); err != nil {
		return nil, err
	}

	r, err := s.renderable(ctx, req.Dataset)
	if err != nil {
		return nil, err
	}
	return r.Overview(ctx, req.Scale, req.SampleSize, req.Lat)
}

func (s *DatasetService) renderable(ctx context.Context, name string) (*raster.RenderableLayer, error) {
	if s.live != nil {
		if r, ok := s.live.Renderable(name); ok {
			return r, nil
		}
	}

	s.mu.Lock()
	r, ok := s.overviews[name]
	s.mu.Unlock()
	if ok {
		return r, nil
	}

	desc, err := s.catalog.GetDataset(ctx, name)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.overviews[name]; ok {
		return r, nil
	}
	r = raster.NewRenderableLayer(*desc, s.factory, s.memo, s.latBucketSize, s.logger)
	s.overviews[name] = r
	return r, nil
}

// releaseOverviews disposes the service's own renderables.
func (s *DatasetService) releaseOverviews() {
	s.mu.Lock()
	released := s.overviews
	s.overviews = make(map[string]*raster.RenderableLayer)
	s.mu.Unlock()

	for _, r := range released {
		r.Dispose()
	}
}

// Close releases the service's renderables and catalog subscription.
func (s *DatasetService) Close() {
	s.unsubscribe()
	s.releaseOverviews()
}
