package pyramid

import (
	"context"
	"image"
	"log/slog"

	"github.com/jobrunner/tessera/internal/domain"
)

// Source fetches a tile by native zoom, column and row.
type Source interface {
	Tile(ctx context.Context, zoom, col, row int) (image.Image, error)
}

// Reader addresses a Source by reduced-resolution level. Failures never
// propagate: out-of-range addresses, fetch errors and empty sources all yield
// a nil image.
type Reader struct {
	name    string
	source  Source
	pyramid Pyramid
	logger  *slog.Logger
}

// NewReader creates a reader over source.
func NewReader(name string, source Source, p Pyramid, logger *slog.Logger) *Reader {
	return &Reader{
		name:    name,
		source:  source,
		pyramid: p,
		logger:  logger,
	}
}

// Name returns the dataset name the reader serves.
func (r *Reader) Name() string {
	return r.name
}

// Pyramid returns the reader's tile geometry.
func (r *Reader) Pyramid() Pyramid {
	return r.pyramid
}

// Tile returns the tile at the address, or nil when it cannot be produced.
func (r *Reader) Tile(ctx context.Context, level, col, row int) image.Image {
	if r.pyramid.IsEmpty() {
		return nil
	}
	addr := domain.TileAddress{Level: level, Column: col, Row: row}
	if !r.pyramid.Contains(addr) {
		r.logger.Debug("tile out of range", "dataset", r.name, "tile", addr.String())
		return nil
	}

	img, err := r.source.Tile(ctx, r.pyramid.Zoom(level), col, row)
	if err != nil {
		r.logger.Warn("failed to read tile",
			"error", &domain.TileError{Dataset: r.name, Tile: addr, Err: err},
		)
		return nil
	}
	return img
}
