package capture

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
	"golang.org/x/image/tiff"

	"github.com/jobrunner/tessera/internal/domain"
	"github.com/jobrunner/tessera/internal/geom"
)

// Format is an output image encoding.
type Format string

// Supported output formats.
const (
	FormatPNG  Format = "png"
	FormatTIFF Format = "tiff"
)

// ParseFormat parses an output format name. An empty name selects PNG.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "", "png":
		return FormatPNG, nil
	case "tif", "tiff":
		return FormatTIFF, nil
	default:
		return "", fmt.Errorf("format %q: %w", s, domain.ErrUnsupportedFormat)
	}
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	if f == FormatTIFF {
		return "image/tiff"
	}
	return "image/png"
}

// Extension returns the file extension of the format, without dot.
func (f Format) Extension() string {
	if f == FormatTIFF {
		return "tif"
	}
	return "png"
}

// WorldFileExtension returns the extension of the matching world file.
func (f Format) WorldFileExtension() string {
	if f == FormatTIFF {
		return "tfw"
	}
	return "pgw"
}

// maxCanvasPixels bounds every image a Stitcher allocates.
const maxCanvasPixels = 1 << 30

// Stitcher is a Callback that assembles captured tiles into one image.
type Stitcher struct {
	bounds   TileCaptureBounds
	err      error
	canvas   *image.RGBA
	tileW    int
	tileH    int
	expected int
	received int
	missing  int
}

// NewStitcher creates a stitcher for a capture with the given bounds.
func NewStitcher(bounds TileCaptureBounds) *Stitcher {
	return &Stitcher{bounds: bounds}
}

// OnStartCapture implements Callback.
func (s *Stitcher) OnStartCapture(numTiles, tileWidth, tileHeight, fullWidth, fullHeight int) bool {
	if numTiles == 0 || fullWidth <= 0 || fullHeight <= 0 {
		return false
	}
	if int64(fullWidth)*int64(fullHeight) > maxCanvasPixels {
		s.err = fmt.Errorf("%dx%d mosaic: %w", fullWidth, fullHeight, domain.ErrCaptureTooLarge)
		return false
	}
	s.canvas = image.NewRGBA(image.Rect(0, 0, fullWidth, fullHeight))
	s.tileW, s.tileH = tileWidth, tileHeight
	s.expected = numTiles
	return true
}

// OnCaptureTile implements Callback.
func (s *Stitcher) OnCaptureTile(tile image.Image, _, column, row int) bool {
	s.received++
	if tile == nil {
		s.missing++
		return true
	}
	at := image.Pt(column*s.tileW, row*s.tileH)
	r := image.Rectangle{Min: at, Max: at.Add(tile.Bounds().Size())}
	draw.Draw(s.canvas, r, tile, tile.Bounds().Min, draw.Src)
	return true
}

// Stats returns the number of expected, received and missing tiles.
func (s *Stitcher) Stats() (expected, received, missing int) {
	return s.expected, s.received, s.missing
}

// Image returns the stitched mosaic, warped through the bounds' correction
// matrix when one is set.
func (s *Stitcher) Image() (image.Image, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.canvas == nil || s.received == s.missing {
		return nil, domain.ErrNoImagery
	}
	m := s.bounds.TileToPixel
	if m == nil || s.bounds.ImageWidth <= 0 || s.bounds.ImageHeight <= 0 {
		return s.canvas, nil
	}
	if int64(s.bounds.ImageWidth)*int64(s.bounds.ImageHeight) > maxCanvasPixels {
		return nil, fmt.Errorf("%dx%d output: %w", s.bounds.ImageWidth, s.bounds.ImageHeight, domain.ErrCaptureTooLarge)
	}
	return warp(s.canvas, *m, s.bounds.ImageWidth, s.bounds.ImageHeight)
}

// Encode writes the stitched image in the given format.
func (s *Stitcher) Encode(w io.Writer, format Format) error {
	img, err := s.Image()
	if err != nil {
		return err
	}
	switch format {
	case FormatTIFF:
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
	case FormatPNG, "":
		return png.Encode(w, img)
	default:
		return fmt.Errorf("format %q: %w", format, domain.ErrUnsupportedFormat)
	}
}

// WorldFile returns an ESRI world file locating the output image on its
// geographic bounds. Images warped through a correction matrix are not
// north-up on those bounds and get none.
func (s *Stitcher) WorldFile() string {
	if s.bounds.TileToPixel != nil {
		return ""
	}
	img, err := s.Image()
	if err != nil {
		return ""
	}
	return WorldFile(s.bounds.Geo, img.Bounds().Dx(), img.Bounds().Dy())
}

// WorldFile formats the six lines of a world file for an image of w x h
// pixels spanning b.
func WorldFile(b domain.GeoBounds, w, h int) string {
	if w <= 0 || h <= 0 {
		return ""
	}
	px := b.Width() / float64(w)
	py := -b.Height() / float64(h)
	return fmt.Sprintf("%.12f\n0.0\n0.0\n%.12f\n%.12f\n%.12f\n",
		px, py, b.West+px/2, b.North+py/2)
}

// warp maps src through m into a w x h image. Affine matrices use bilinear
// resampling from x/image; projective ones are sampled per pixel through the
// inverse.
func warp(src *image.RGBA, m geom.Matrix, w, h int) (image.Image, error) {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))

	if m.G == 0 && m.H == 0 && m.I != 0 {
		aff := f64.Aff3{m.A / m.I, m.B / m.I, m.C / m.I, m.D / m.I, m.E / m.I, m.F / m.I}
		draw.BiLinear.Transform(dst, aff, src, src.Bounds(), draw.Src, nil)
		return dst, nil
	}

	inv, err := m.Invert()
	if err != nil {
		return nil, fmt.Errorf("inverting capture correction: %w", err)
	}
	sb := src.Bounds()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			p := inv.Map(geom.Pt(float64(x)+0.5, float64(y)+0.5))
			if c, ok := bilinear(src, sb, p.X-0.5, p.Y-0.5); ok {
				dst.SetRGBA(x, y, c)
			}
		}
	}
	return dst, nil
}

func bilinear(src *image.RGBA, b image.Rectangle, x, y float64) (color.RGBA, bool) {
	if math.IsNaN(x) || math.IsNaN(y) ||
		x < float64(b.Min.X)-0.5 || y < float64(b.Min.Y)-0.5 ||
		x > float64(b.Max.X)-0.5 || y > float64(b.Max.Y)-0.5 {
		return color.RGBA{}, false
	}

	x0, y0 := int(math.Floor(x)), int(math.Floor(y))
	fx, fy := x-float64(x0), y-float64(y0)

	at := func(px, py int) color.RGBA {
		px = min(max(px, b.Min.X), b.Max.X-1)
		py = min(max(py, b.Min.Y), b.Max.Y-1)
		return src.RGBAAt(px, py)
	}
	c00, c10 := at(x0, y0), at(x0+1, y0)
	c01, c11 := at(x0, y0+1), at(x0+1, y0+1)

	mix := func(a, b, c, d uint8) uint8 {
		top := float64(a)*(1-fx) + float64(b)*fx
		bottom := float64(c)*(1-fx) + float64(d)*fx
		return uint8(math.Round(top*(1-fy) + bottom*fy))
	}
	return color.RGBA{
		R: mix(c00.R, c10.R, c01.R, c11.R),
		G: mix(c00.G, c10.G, c01.G, c11.G),
		B: mix(c00.B, c10.B, c01.B, c11.B),
		A: mix(c00.A, c10.A, c01.A, c11.A),
	}, true
}
