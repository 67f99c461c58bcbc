package capture

import (
	"context"
	"image"
	"log/slog"
	"strings"

	"golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"

	"github.com/jobrunner/tessera/internal/bitmap"
	"github.com/jobrunner/tessera/internal/pyramid"
)

// MultiSource reads the same tile from several compatible readers
// concurrently and composites the results back to front.
type MultiSource struct {
	readers []TileReader
	pool    *bitmap.Pool
	logger  *slog.Logger
}

// NewMultiSource creates a composite reader. readers are ordered back to
// front and must share tile geometry.
func NewMultiSource(readers []TileReader, pool *bitmap.Pool, logger *slog.Logger) *MultiSource {
	return &MultiSource{
		readers: readers,
		pool:    pool,
		logger:  logger,
	}
}

// Name returns the member names joined with "+".
func (m *MultiSource) Name() string {
	names := make([]string, len(m.readers))
	for i, r := range m.readers {
		names[i] = r.Name()
	}
	return strings.Join(names, "+")
}

// Pyramid returns the geometry of the first reader.
func (m *MultiSource) Pyramid() pyramid.Pyramid {
	if len(m.readers) == 0 {
		return pyramid.Pyramid{}
	}
	return m.readers[0].Pyramid()
}

// Tile returns the composite tile, or nil when no reader produced one.
func (m *MultiSource) Tile(ctx context.Context, level, col, row int) image.Image {
	tiles := make([]image.Image, len(m.readers))

	g, gctx := errgroup.WithContext(ctx)
	for i, r := range m.readers {
		g.Go(func() error {
			return m.pool.Do(gctx, func() error {
				tiles[i] = r.Tile(gctx, level, col, row)
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		m.logger.Warn("composite tile read interrupted", "error", err)
		return nil
	}

	var present []image.Image
	for _, t := range tiles {
		if t != nil {
			present = append(present, t)
		}
	}
	switch len(present) {
	case 0:
		return nil
	case 1:
		return present[0]
	}

	p := m.Pyramid()
	out := image.NewRGBA(image.Rect(0, 0, p.TileWidth, p.TileHeight))
	for _, t := range present {
		draw.Draw(out, out.Bounds(), t, t.Bounds().Min, draw.Over)
	}
	return out
}
