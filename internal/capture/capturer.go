// Package capture resolves the tiles covering a geographic shape and streams
// them to a callback, and stitches captured tiles into a single image.
package capture

import (
	"context"
	"image"
	"log/slog"
	"math"
	"time"

	"github.com/jobrunner/tessera/internal/domain"
	"github.com/jobrunner/tessera/internal/geom"
	"github.com/jobrunner/tessera/internal/ports/output"
	"github.com/jobrunner/tessera/internal/projection"
	"github.com/jobrunner/tessera/internal/pyramid"
	"github.com/jobrunner/tessera/internal/render"
)

// tooSmallRatio is the smallest fraction of a request, per dimension, a
// dataset must cover to take part in a capture.
const tooSmallRatio = 0.1

// Callback receives the tiles of a capture. Returning false from either
// method stops the capture.
type Callback interface {
	// OnStartCapture is called once before any tile is fetched.
	OnStartCapture(numTiles, tileWidth, tileHeight, fullWidth, fullHeight int) bool

	// OnCaptureTile is called per tile in row-major order. column and row are
	// relative to the capture's upper-left tile; tile is nil when the tile
	// could not be read.
	OnCaptureTile(tile image.Image, index, column, row int) bool
}

// TileReader reads tiles by addressing level.
type TileReader interface {
	Name() string
	Pyramid() pyramid.Pyramid
	Tile(ctx context.Context, level, col, row int) image.Image
}

// Capturer captures tiles from one reader.
type Capturer struct {
	reader   TileReader
	proj     *projection.DatasetProjection
	selector pyramid.LevelSelector
	srid     int
	metrics  output.MetricsCollector
	logger   *slog.Logger
}

// NewCapturer creates a capturer for a dataset. The native GSD comes from the
// descriptor's finest resolution, or is computed from its bounds when unset.
func NewCapturer(
	desc domain.DatasetDescriptor,
	reader TileReader,
	provider *projection.Provider,
	relativeScaleBias float64,
	metrics output.MetricsCollector,
	logger *slog.Logger,
) *Capturer {
	srid := desc.SRID
	if srid <= 0 {
		srid = domain.SRIDWGS84
	}

	gsd := desc.MaxResolution
	if gsd <= 0 || math.IsNaN(gsd) {
		p := reader.Pyramid()
		c := desc.Bounds.Corners()
		gsd = domain.ComputeGSD(int(p.Width), int(p.Height), c[0], c[1], c[2], c[3])
	}

	return &Capturer{
		reader:   reader,
		proj:     projection.NewDatasetProjection(provider, srid),
		selector: pyramid.NewLevelSelector(gsd, relativeScaleBias),
		srid:     srid,
		metrics:  metrics,
		logger:   logger.With("dataset", reader.Name()),
	}
}

// WithReader returns a capturer sharing c's geometry that reads from r.
func (c *Capturer) WithReader(r TileReader) *Capturer {
	cp := *c
	cp.reader = r
	cp.logger = c.logger.With("dataset", r.Name())
	return &cp
}

// Reader returns the tile reader.
func (c *Capturer) Reader() TileReader {
	return c.reader
}

// Projection returns the dataset projection.
func (c *Capturer) Projection() *projection.DatasetProjection {
	return c.proj
}

// SRID returns the dataset SRID.
func (c *Capturer) SRID() int {
	return c.srid
}

// GSD returns the native ground sample distance in meters/pixel.
func (c *Capturer) GSD() float64 {
	return c.selector.GSD
}

// Level returns the capture level for params.
func (c *Capturer) Level(params domain.TileCaptureParams) int {
	return c.selector.Level(params)
}

// CalculateLevel returns the level for a quad rendered at minDim pixels.
func (c *Capturer) CalculateLevel(quad []domain.GeoPoint, minDim, captureRes int) int {
	return c.selector.CalculateLevel(quad, minDim, captureRes)
}

// Compatible reports whether tiles of both capturers line up so that they can
// be read through one MultiSource.
func (c *Capturer) Compatible(o *Capturer) bool {
	p, q := c.reader.Pyramid(), o.reader.Pyramid()
	return c.selector.TransitionBias == o.selector.TransitionBias &&
		c.selector.GSD == o.selector.GSD &&
		c.srid == o.srid &&
		p.Compatible(q) &&
		p.Origin == q.Origin
}

// TooSmall reports whether desc covers less than a tenth of the request in
// either image dimension.
func (c *Capturer) TooSmall(desc domain.DatasetDescriptor, request domain.GeoBounds) bool {
	infoMin, infoMax := c.imageExtent(desc.Bounds.Corners())
	fullMin, fullMax := c.imageExtent(request.Corners())

	widthScale := (infoMax.X - infoMin.X) / (fullMax.X - fullMin.X)
	heightScale := (infoMax.Y - infoMin.Y) / (fullMax.Y - fullMin.Y)
	return widthScale < tooSmallRatio || heightScale < tooSmallRatio
}

func (c *Capturer) imageExtent(corners [4]domain.GeoPoint) (geom.Point, geom.Point) {
	pts := make([]geom.Point, len(corners))
	for i, g := range corners {
		pts[i] = c.proj.GroundToImage(g)
	}
	return geom.Bounds(pts)
}

type tilePoint struct {
	col, row int
}

// Capture streams the tiles covering params.Points to cb. It blocks and must
// not run on the render goroutine. Empty input is a no-op; only cb's return
// values or ctx stop a capture early.
func (c *Capturer) Capture(ctx context.Context, params domain.TileCaptureParams, cb Callback) error {
	if render.IsRenderContext(ctx) {
		return domain.ErrRenderContext
	}
	if cb == nil || len(params.Points) == 0 {
		return nil
	}

	start := time.Now()
	level := c.Level(params)
	p := c.reader.Pyramid()

	minCol, minRow := math.MaxInt, math.MaxInt
	maxCol, maxRow := math.MinInt, math.MinInt
	pts := make([]geom.Point, len(params.Points))
	for i, g := range params.Points {
		pts[i] = c.proj.GroundToImage(g)
		col, row := p.TilePoint(level, pts[i])
		minCol, maxCol = min(minCol, col), max(maxCol, col)
		minRow, maxRow = min(minRow, row), max(maxRow, row)
	}

	var tiles []tilePoint
	for row := minRow; row <= maxRow; row++ {
		for col := minCol; col <= maxCol; col++ {
			if covers(p, level, col, row, pts, params.Closed) {
				tiles = append(tiles, tilePoint{col: col, row: row})
			}
		}
	}
	if len(tiles) == 0 && minRow == maxRow && minCol == maxCol {
		tiles = append(tiles, tilePoint{col: minCol, row: minRow})
	}

	fw := p.TileWidth * (maxCol - minCol + 1)
	fh := p.TileHeight * (maxRow - minRow + 1)
	c.logger.Debug("capture resolved",
		"level", level,
		"tiles", len(tiles),
		"width", fw,
		"height", fh,
	)
	if !cb.OnStartCapture(len(tiles), p.TileWidth, p.TileHeight, fw, fh) {
		c.metrics.IncCaptures(true)
		return nil
	}

	westLimit, eastLimit, unwrap := 0, 0, 0
	world := domain.IsWorldSRID(c.srid)
	if world {
		east := c.proj.GroundToImage(domain.GeoPoint{Lat: 0, Lon: 180})
		eastLimit, _ = p.TilePoint(level, east)
		if p.SourcePoint(level, eastLimit, 0).X >= east.X {
			// the antimeridian falls on a tile edge
			eastLimit--
		}
		westLimit, _ = p.TilePoint(level, c.proj.GroundToImage(domain.GeoPoint{Lat: 0, Lon: -180}))
		unwrap = eastLimit - westLimit + 1
	}

	delivered := 0
	defer func() {
		c.metrics.AddCapturedTiles(delivered)
		c.metrics.ObserveCaptureDuration(time.Since(start))
	}()

	for i, tp := range tiles {
		if err := ctx.Err(); err != nil {
			c.metrics.IncCaptures(false)
			return err
		}

		col := tp.col
		if world {
			if col < westLimit {
				col += unwrap
			} else if col > eastLimit {
				col -= unwrap
			}
		}

		tile := c.reader.Tile(ctx, level, col, tp.row)
		if tile == nil {
			c.logger.Warn("tile is missing", "column", tp.col, "row", tp.row, "level", level)
		}
		delivered++
		if !cb.OnCaptureTile(tile, i, tp.col-minCol, tp.row-minRow) {
			break
		}
	}

	c.metrics.IncCaptures(true)
	return nil
}

// covers reports whether tile (col, row) takes part in a capture of pts.
func covers(p pyramid.Pyramid, level, col, row int, pts []geom.Point, closed bool) bool {
	quad := []geom.Point{
		p.SourcePoint(level, col, row),
		p.SourcePoint(level, col+1, row),
		p.SourcePoint(level, col+1, row+1),
		p.SourcePoint(level, col, row+1),
	}

	if geom.PolygonContains(pts[0], quad) {
		return true
	}

	last := len(pts) - 1
	for i := range quad {
		s, e := quad[i], quad[(i+1)%4]
		for j := range pts {
			if !closed && j == last {
				break
			}
			sp := pts[j]
			se := pts[0]
			if j != last {
				se = pts[j+1]
			}
			if geom.SegmentsIntersect(s, e, sp, se) {
				return true
			}
		}
	}

	return closed && geom.PolygonContains(quad[0], pts)
}
