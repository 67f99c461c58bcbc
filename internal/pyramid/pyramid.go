// Package pyramid implements tile addressing over a reduced-resolution tile
// pyramid together with level-of-detail selection.
package pyramid

import (
	"fmt"
	"math"

	"github.com/jobrunner/tessera/internal/domain"
	"github.com/jobrunner/tessera/internal/geom"
)

// Pyramid describes the tile geometry of one raster source.
//
// Addressing levels count down from full resolution: level 0 is native and
// each level halves the resolution. Tile sources are addressed by zoom, where
// zoom = Levels + LevelOffset - level - 1.
type Pyramid struct {
	Width       int64      // full-resolution width in pixels
	Height      int64      // full-resolution height in pixels
	TileWidth   int        // tile width in pixels
	TileHeight  int        // tile height in pixels
	Levels      int        // number of levels available
	LevelOffset int        // zoom of the coarsest level
	Origin      geom.Point // image-space position of pixel (0, 0)
	PixelSizeX  float64    // image units per full-resolution pixel
	PixelSizeY  float64    // image units per full-resolution pixel
}

// Validate checks the geometry is usable for addressing.
func (p Pyramid) Validate() error {
	if p.TileWidth <= 0 || p.TileHeight <= 0 {
		return fmt.Errorf("tile size %dx%d: %w", p.TileWidth, p.TileHeight, domain.ErrInvalidInput)
	}
	if p.Levels <= 0 {
		return fmt.Errorf("levels %d: %w", p.Levels, domain.ErrInvalidInput)
	}
	if p.PixelSizeX <= 0 || p.PixelSizeY <= 0 {
		return fmt.Errorf("pixel size %fx%f: %w", p.PixelSizeX, p.PixelSizeY, domain.ErrInvalidInput)
	}
	return nil
}

// IsEmpty returns true if the source has no pixels.
func (p Pyramid) IsEmpty() bool {
	return p.Width <= 0 || p.Height <= 0
}

// MaxZoom returns the zoom of level 0.
func (p Pyramid) MaxZoom() int {
	return p.Levels + p.LevelOffset - 1
}

// Zoom converts an addressing level to the source's zoom.
func (p Pyramid) Zoom(level int) int {
	return p.Levels + p.LevelOffset - level - 1
}

// LevelForZoom converts a source zoom to an addressing level.
func (p Pyramid) LevelForZoom(zoom int) int {
	return p.Levels + p.LevelOffset - zoom - 1
}

// tileSpan returns the image-space size of one tile at level.
func (p Pyramid) tileSpan(level int) (float64, float64) {
	scale := math.Ldexp(1, level)
	return float64(p.TileWidth) * p.PixelSizeX * scale, float64(p.TileHeight) * p.PixelSizeY * scale
}

// TilePoint returns the column and row of the tile containing the image-space
// point at level.
func (p Pyramid) TilePoint(level int, src geom.Point) (col, row int) {
	w, h := p.tileSpan(level)
	col = floorSnap((src.X - p.Origin.X) / w)
	row = floorSnap((src.Y - p.Origin.Y) / h)
	return col, row
}

// floorSnap floors v, snapping values within rounding error of an integer to
// that integer so tile corners map back to their own tile.
func floorSnap(v float64) int {
	if r := math.Round(v); math.Abs(v-r) < 1e-9 {
		return int(r)
	}
	return int(math.Floor(v))
}

// SourcePoint returns the image-space upper-left corner of tile (col, row) at
// level. It is the exact inverse of TilePoint on tile corners.
func (p Pyramid) SourcePoint(level, col, row int) geom.Point {
	w, h := p.tileSpan(level)
	return geom.Point{
		X: p.Origin.X + float64(col)*w,
		Y: p.Origin.Y + float64(row)*h,
	}
}

// LevelWidth returns the pixel width of the image at level.
func (p Pyramid) LevelWidth(level int) int64 {
	return ceilShift(p.Width, level)
}

// LevelHeight returns the pixel height of the image at level.
func (p Pyramid) LevelHeight(level int) int64 {
	return ceilShift(p.Height, level)
}

// TileCount returns the number of tile columns and rows at level.
func (p Pyramid) TileCount(level int) (cols, rows int) {
	cols = int((p.LevelWidth(level) + int64(p.TileWidth) - 1) / int64(p.TileWidth))
	rows = int((p.LevelHeight(level) + int64(p.TileHeight) - 1) / int64(p.TileHeight))
	return cols, rows
}

// Contains returns true if the address lies inside the pyramid.
func (p Pyramid) Contains(t domain.TileAddress) bool {
	if t.Level < 0 || t.Level >= p.Levels {
		return false
	}
	cols, rows := p.TileCount(t.Level)
	return t.Column >= 0 && t.Column < cols && t.Row >= 0 && t.Row < rows
}

// Compatible returns true if tiles from both pyramids line up at every level.
func (p Pyramid) Compatible(o Pyramid) bool {
	return p.TileWidth == o.TileWidth && p.TileHeight == o.TileHeight &&
		p.Levels+p.LevelOffset == o.Levels+o.LevelOffset
}

func ceilShift(v int64, level int) int64 {
	if level <= 0 {
		return v
	}
	if level >= 63 {
		if v > 0 {
			return 1
		}
		return 0
	}
	d := int64(1) << uint(level)
	return (v + d - 1) / d
}
