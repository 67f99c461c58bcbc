package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jobrunner/tessera/internal/bitmap"
	"github.com/jobrunner/tessera/internal/capture"
	"github.com/jobrunner/tessera/internal/domain"
	"github.com/jobrunner/tessera/internal/ports/input"
	"github.com/jobrunner/tessera/internal/ports/output"
	"github.com/jobrunner/tessera/internal/projection"
	"github.com/jobrunner/tessera/internal/pyramid"
	"github.com/jobrunner/tessera/internal/render"
)

// CaptureConfig tunes the capture service.
type CaptureConfig struct {
	RelativeScaleBias float64
	Timeout           time.Duration // 0 = no timeout
	MaxPixels         int64         // per image, 0 = capture.DefaultMaxPixels
}

// CaptureService stitches region captures from the visible datasets.
type CaptureService struct {
	store    output.DataStore
	factory  output.TileSourceFactory
	provider *projection.Provider
	pool     *bitmap.Pool
	cfg      CaptureConfig
	metrics  output.MetricsCollector
	logger   *slog.Logger
}

var _ input.CaptureService = (*CaptureService)(nil)

// NewCaptureService creates a new capture service.
func NewCaptureService(
	store output.DataStore,
	factory output.TileSourceFactory,
	provider *projection.Provider,
	pool *bitmap.Pool,
	cfg CaptureConfig,
	metrics output.MetricsCollector,
	logger *slog.Logger,
) *CaptureService {
	if cfg.MaxPixels <= 0 {
		cfg.MaxPixels = capture.DefaultMaxPixels
	}
	return &CaptureService{
		store:    store,
		factory:  factory,
		provider: provider,
		pool:     pool,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger,
	}
}

// session is a capturer over the opened sources of one request.
type session struct {
	capturer *capture.Capturer
	datasets []string
	sources  []output.TileSource
}

func (s *session) close(logger *slog.Logger) {
	for _, src := range s.sources {
		if err := src.Close(); err != nil {
			logger.Warn("failed to close tile source", "error", err)
		}
	}
}

// Capture stitches the tiles covering req.Params and writes the encoded image
// to w. Nothing is written when the capture fails.
func (s *CaptureService) Capture(ctx context.Context, req input.CaptureRequest, w io.Writer) (*input.CaptureResult, error) {
	if render.IsRenderContext(ctx) {
		return nil, domain.ErrRenderContext
	}
	if err := validateCapture(req.Params); err != nil {
		return nil, err
	}
	if req.Format == "" {
		req.Format = capture.FormatPNG
	}
	if _, err := capture.ParseFormat(string(req.Format)); err != nil {
		return nil, err
	}

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	sess, err := s.open(ctx, req)
	if err != nil {
		return nil, err
	}
	defer sess.close(s.logger)

	bounds := sess.capturer.Bounds(req.Params)
	if err := bounds.CheckSize(s.cfg.MaxPixels); err != nil {
		return nil, err
	}
	stitcher := capture.NewStitcher(bounds)
	if err := sess.capturer.Capture(ctx, req.Params, stitcher); err != nil {
		return nil, fmt.Errorf("capturing tiles: %w", err)
	}
	if err := stitcher.Encode(w, req.Format); err != nil {
		return nil, err
	}

	_, received, missing := stitcher.Stats()
	result := &input.CaptureResult{
		Format:    req.Format,
		Bounds:    bounds,
		Datasets:  sess.datasets,
		Tiles:     received,
		Missing:   missing,
		WorldFile: stitcher.WorldFile(),
		Duration:  time.Since(start),
	}
	s.logger.Info("capture completed",
		"datasets", result.Datasets,
		"level", bounds.Level,
		"tiles", result.Tiles,
		"missing", result.Missing,
		"width", bounds.ImageWidth,
		"height", bounds.ImageHeight,
		"duration", result.Duration,
	)
	return result, nil
}

// Bounds returns the tile-aligned bounds a capture of req would produce.
func (s *CaptureService) Bounds(ctx context.Context, req input.CaptureRequest) (*capture.TileCaptureBounds, error) {
	if err := validateCapture(req.Params); err != nil {
		return nil, err
	}
	sess, err := s.open(ctx, req)
	if err != nil {
		return nil, err
	}
	defer sess.close(s.logger)

	b := sess.capturer.Bounds(req.Params)
	return &b, nil
}

func validateCapture(params domain.TileCaptureParams) error {
	if len(params.Points) == 0 {
		return fmt.Errorf("no points: %w", domain.ErrInvalidCapture)
	}
	return params.Validate()
}

// open resolves the visible datasets under the request, coarsest first, and
// combines the usable ones into a single capturer.
func (s *CaptureService) open(ctx context.Context, req input.CaptureRequest) (*session, error) {
	request := domain.BoundsOf(req.Params.Points)
	datasets, err := s.store.QueryDatasets(ctx, domain.DatasetQuery{
		Bounds:      &request,
		Names:       req.Datasets,
		VisibleOnly: true,
		Order:       domain.OrderCoarsestFirst,
	})
	if err != nil {
		return nil, err
	}
	if len(datasets) == 0 {
		return nil, domain.ErrNoImagery
	}

	sess := &session{}
	candidates := make([]*capture.Capturer, 0, len(datasets))
	for _, desc := range datasets {
		src, err := s.factory.Open(ctx, desc)
		if err != nil {
			s.logger.Warn("skipping dataset", "dataset", desc.Name, "error", err)
			continue
		}
		sess.sources = append(sess.sources, src)

		reader := pyramid.NewReader(desc.Name, src, src.Pyramid(), s.logger)
		c := capture.NewCapturer(desc, reader, s.provider, s.cfg.RelativeScaleBias, s.metrics, s.logger)
		if len(datasets) > 1 && c.TooSmall(desc, request) {
			s.logger.Debug("dataset too small for capture", "dataset", desc.Name)
			continue
		}
		candidates = append(candidates, c)
	}

	combined, err := capture.Combine(candidates, s.pool, s.logger)
	if err != nil {
		sess.close(s.logger)
		if errors.Is(err, domain.ErrNoImagery) {
			return nil, fmt.Errorf("no usable dataset covers the request: %w", err)
		}
		return nil, err
	}
	sess.capturer = combined
	for _, c := range candidates {
		if combined.Compatible(c) {
			sess.datasets = append(sess.datasets, c.Reader().Name())
		}
	}
	return sess, nil
}
