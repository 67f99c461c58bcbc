package raster

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/image/draw"

	"github.com/jobrunner/tessera/internal/bitmap"
	"github.com/jobrunner/tessera/internal/domain"
	"github.com/jobrunner/tessera/internal/ports/output"
	"github.com/jobrunner/tessera/internal/pyramid"
)

// RenderableLayer is the live handle of one selected dataset. The tile
// source is opened on first use and closed by Dispose.
type RenderableLayer struct {
	desc          domain.DatasetDescriptor
	factory       output.TileSourceFactory
	memo          *bitmap.Memo
	latBucketSize float64
	logger        *slog.Logger

	mu       sync.Mutex
	alpha    float64
	policy   bitmap.Policy
	source   output.TileSource
	reader   *pyramid.Reader
	disposed bool
}

// NewRenderableLayer creates a renderable for desc. No IO happens here.
func NewRenderableLayer(
	desc domain.DatasetDescriptor,
	factory output.TileSourceFactory,
	memo *bitmap.Memo,
	latBucketSize float64,
	logger *slog.Logger,
) *RenderableLayer {
	return &RenderableLayer{
		desc:          desc,
		factory:       factory,
		memo:          memo,
		latBucketSize: latBucketSize,
		logger:        logger.With("dataset", desc.Name),
		alpha:         1,
	}
}

// Descriptor returns the wrapped dataset.
func (r *RenderableLayer) Descriptor() domain.DatasetDescriptor {
	return r.desc
}

// Key returns the dataset key.
func (r *RenderableLayer) Key() string {
	return r.desc.Key()
}

// Alpha returns the layer opacity in [0,1].
func (r *RenderableLayer) Alpha() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.alpha
}

// SetAlpha sets the layer opacity, clamped to [0,1].
func (r *RenderableLayer) SetAlpha(alpha float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alpha = math.Max(0, math.Min(1, alpha))
}

// Policy returns the cache policy.
func (r *RenderableLayer) Policy() bitmap.Policy {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.policy
}

// SetPolicy sets offline mode and the cache refresh interval.
func (r *RenderableLayer) SetPolicy(offline bool, refresh time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policy = bitmap.Policy{Offline: offline, RefreshInterval: refresh}
}

// Disposed reports whether Dispose has run.
func (r *RenderableLayer) Disposed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disposed
}

// Reader returns the tile reader, opening the tile source on first call.
func (r *RenderableLayer) Reader(ctx context.Context) (*pyramid.Reader, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.disposed {
		return nil, fmt.Errorf("dataset %s: %w", r.desc.Name, domain.ErrUnavailable)
	}
	if r.reader != nil {
		return r.reader, nil
	}

	source, err := r.factory.Open(ctx, r.desc)
	if err != nil {
		return nil, fmt.Errorf("opening dataset %s: %w", r.desc.Name, err)
	}
	r.source = source
	r.reader = pyramid.NewReader(r.desc.Name, source, source.Pyramid(), r.logger)
	r.logger.Debug("tile source opened", "levels", source.Pyramid().Levels)
	return r.reader, nil
}

// Tile returns the tile at the address or nil.
func (r *RenderableLayer) Tile(ctx context.Context, addr domain.TileAddress) image.Image {
	reader, err := r.Reader(ctx)
	if err != nil {
		r.logger.Warn("tile source unavailable", "error", err)
		return nil
	}
	return reader.Tile(ctx, addr.Level, addr.Column, addr.Row)
}

// OverviewKey returns the memo key of an overview request.
func (r *RenderableLayer) OverviewKey(scale float64, sampleSize int, lat float64) bitmap.Key {
	if sampleSize < 1 {
		sampleSize = 1
	}
	return bitmap.Key{
		Dataset:    r.desc.Key(),
		Scale:      scale,
		SampleSize: sampleSize,
		LatBucket:  bitmap.LatBucket(lat, r.latBucketSize),
	}
}

// Overview returns the whole dataset rendered from its coarsest level,
// scaled by scale and decimated by sampleSize. Results are memoized; a stale
// bitmap is served while it is redecoded.
func (r *RenderableLayer) Overview(ctx context.Context, scale float64, sampleSize int, lat float64) (image.Image, error) {
	if scale <= 0 {
		return nil, &domain.ValidationError{Field: "scale", Value: scale, Constraint: "> 0", Message: "scale must be positive"}
	}
	key := r.OverviewKey(scale, sampleSize, lat)
	return r.memo.Load(ctx, key, r.Policy(), r.decodeOverview(key))
}

// PeekOverview returns the memoized overview without blocking.
func (r *RenderableLayer) PeekOverview(scale float64, sampleSize int, lat float64) (image.Image, bool) {
	key := r.OverviewKey(scale, sampleSize, lat)
	return r.memo.Peek(key, r.Policy(), r.decodeOverview(key))
}

func (r *RenderableLayer) decodeOverview(key bitmap.Key) bitmap.DecodeFunc {
	return func(ctx context.Context) (image.Image, error) {
		reader, err := r.Reader(ctx)
		if err != nil {
			return nil, err
		}

		// ground pixels of plate carree datasets narrow with latitude
		xScale := 1.0
		if domain.IsPlateCarree(r.desc.SRID) {
			lat := bitmap.BucketCenter(key.LatBucket, r.latBucketSize)
			xScale = math.Max(math.Cos(lat*math.Pi/180), 0.01)
		}
		return renderOverview(ctx, reader, key.Scale*xScale, key.Scale, key.SampleSize)
	}
}

// Dispose closes the tile source and drops memoized bitmaps.
func (r *RenderableLayer) Dispose() {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return
	}
	r.disposed = true
	source := r.source
	r.source = nil
	r.reader = nil
	r.mu.Unlock()

	r.memo.Purge(r.desc.Key())
	if source != nil {
		if err := source.Close(); err != nil {
			r.logger.Warn("failed to close tile source", "error", err)
		}
	}
	r.logger.Debug("renderable disposed")
}

func renderOverview(ctx context.Context, reader *pyramid.Reader, sx, sy float64, sampleSize int) (image.Image, error) {
	p := reader.Pyramid()
	if p.IsEmpty() {
		return nil, domain.ErrNoImagery
	}

	level := p.Levels - 1
	cols, rows := p.TileCount(level)
	canvas := image.NewRGBA(image.Rect(0, 0, int(p.LevelWidth(level)), int(p.LevelHeight(level))))

	found := false
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			tile := reader.Tile(ctx, level, col, row)
			if tile == nil {
				continue
			}
			found = true
			at := image.Pt(col*p.TileWidth, row*p.TileHeight)
			draw.Draw(canvas, tile.Bounds().Sub(tile.Bounds().Min).Add(at), tile, tile.Bounds().Min, draw.Src)
		}
	}
	if !found {
		return nil, domain.ErrNoImagery
	}

	w := int(math.Ceil(float64(canvas.Bounds().Dx()) * sx / float64(sampleSize)))
	h := int(math.Ceil(float64(canvas.Bounds().Dy()) * sy / float64(sampleSize)))
	w, h = max(w, 1), max(h, 1)
	if w == canvas.Bounds().Dx() && h == canvas.Bounds().Dy() {
		return canvas, nil
	}

	out := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(out, out.Bounds(), canvas, canvas.Bounds(), draw.Src, nil)
	return out, nil
}
