package capture

import (
	"fmt"
	"math"

	"github.com/jobrunner/tessera/internal/domain"
	"github.com/jobrunner/tessera/internal/geom"
)

// TileCaptureBounds is the tile-aligned extent of a capture.
type TileCaptureBounds struct {
	Geo   domain.GeoBounds `json:"geo"`
	Level int              `json:"level"`

	// Image-space bounds of the tile-aligned extent.
	NorthImageBound float64 `json:"north_image_bound"`
	EastImageBound  float64 `json:"east_image_bound"`
	SouthImageBound float64 `json:"south_image_bound"`
	WestImageBound  float64 `json:"west_image_bound"`

	// Output size, after aspect correction and upscaling.
	ImageWidth  int `json:"image_width"`
	ImageHeight int `json:"image_height"`

	// Size of the stitched tile mosaic.
	TileImageWidth  int `json:"tile_image_width"`
	TileImageHeight int `json:"tile_image_height"`

	// TileToPixel maps stitched mosaic pixels to output pixels. Nil unless
	// the capture was fitted to a quad.
	TileToPixel *geom.Matrix `json:"tile_to_pixel,omitempty"`
}

// DefaultMaxPixels bounds the mosaic and output images of one capture.
const DefaultMaxPixels = 64 << 20

// Pixels returns the pixel count of the larger of the stitched mosaic and the
// output image.
func (b TileCaptureBounds) Pixels() int64 {
	mosaic := int64(b.TileImageWidth) * int64(b.TileImageHeight)
	output := int64(b.ImageWidth) * int64(b.ImageHeight)
	return max(mosaic, output)
}

// CheckSize rejects bounds whose images exceed maxPixels.
func (b TileCaptureBounds) CheckSize(maxPixels int64) error {
	if b.TileImageWidth < 0 || b.TileImageHeight < 0 || b.ImageWidth < 0 || b.ImageHeight < 0 ||
		b.Pixels() > maxPixels {
		return fmt.Errorf("%dx%d mosaic, %dx%d output exceed %d pixels: %w",
			b.TileImageWidth, b.TileImageHeight, b.ImageWidth, b.ImageHeight, maxPixels, domain.ErrCaptureTooLarge)
	}
	return nil
}

// Bounds computes the tile-aligned bounds of params without reading tiles.
// With FitToQuad and exactly four points (clockwise from the upper-left) it
// also derives the correction matrix that maps the unaligned quad onto the
// output image.
func (c *Capturer) Bounds(params domain.TileCaptureParams) TileCaptureBounds {
	level := c.Level(params)
	b := TileCaptureBounds{Level: level}
	if len(params.Points) == 0 {
		return b
	}

	p := c.reader.Pyramid()
	src := make([]geom.Point, len(params.Points))
	for i, g := range params.Points {
		src[i] = c.proj.GroundToImage(g)
	}
	lo, hi := geom.Bounds(src)

	dst := [4]geom.Point{lo, {X: hi.X, Y: lo.Y}, hi, {X: lo.X, Y: hi.Y}}
	var geo [4]domain.GeoPoint
	minCol, minRow := math.MaxInt, math.MaxInt
	maxCol, maxRow := math.MinInt, math.MinInt
	north, south := math.Inf(1), math.Inf(-1)
	west, east := math.Inf(1), math.Inf(-1)

	for i := range dst {
		col, row := p.TilePoint(level, dst[i])
		if i == 1 || i == 2 {
			col++
		}
		if i == 2 || i == 3 {
			row++
		}
		minCol, maxCol = min(minCol, col), max(maxCol, col)
		minRow, maxRow = min(minRow, row), max(maxRow, row)

		dst[i] = p.SourcePoint(level, col, row)
		north, south = math.Min(north, dst[i].Y), math.Max(south, dst[i].Y)
		west, east = math.Min(west, dst[i].X), math.Max(east, dst[i].X)
		geo[i] = c.proj.ImageToGround(dst[i])
	}

	b.Geo = domain.BoundsOf(geo[:])
	b.NorthImageBound = north
	b.EastImageBound = east
	b.SouthImageBound = south
	b.WestImageBound = west
	b.ImageWidth = (maxCol - minCol) * p.TileWidth
	b.ImageHeight = (maxRow - minRow) * p.TileHeight
	b.TileImageWidth = b.ImageWidth
	b.TileImageHeight = b.ImageHeight

	if !params.FitToQuad || len(src) != 4 || b.ImageWidth == 0 || b.ImageHeight == 0 {
		return b
	}

	var quad [4]geom.Point
	start := dst[0]
	for i := range quad {
		quad[i] = src[i].Sub(start)
		dst[i] = dst[i].Sub(start)
	}

	mapWidth := math.Abs(dst[0].X - dst[1].X)
	mapHeight := math.Abs(dst[1].Y - dst[2].Y)
	sx := float64(b.ImageWidth) / mapWidth
	sy := float64(b.ImageHeight) / mapHeight

	// output aspect follows the requested ratio, measured on image pixels
	sar := params.EffectiveAspect() / (float64(b.ImageWidth) / float64(b.ImageHeight))
	b.ImageWidth = int(float64(b.ImageWidth) * sar)

	ms := 1.0
	if minor := min(b.ImageWidth, b.ImageHeight); minor > 0 && minor < params.MinImageSize {
		ms = float64(params.MinImageSize) / float64(minor)
		b.ImageWidth = int(float64(b.ImageWidth) * ms)
		b.ImageHeight = int(float64(b.ImageHeight) * ms)
	}

	for i := range quad {
		quad[i] = quad[i].Mul(sx, sy)
		dst[i] = dst[i].Mul(sx*sar*ms, sy*ms)
	}

	m, err := geom.PolyToPoly(quad, dst)
	if err != nil {
		c.logger.Warn("capture quad is degenerate, skipping correction", "error", err)
		return b
	}
	b.TileToPixel = &m
	return b
}
