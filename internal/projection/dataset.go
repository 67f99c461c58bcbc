package projection

import (
	"github.com/jobrunner/tessera/internal/domain"
	"github.com/jobrunner/tessera/internal/geom"
)

// DatasetProjection maps geographic points to the image space of a dataset:
// projection units measured right and down from the projection's upper-left
// corner.
type DatasetProjection struct {
	proj   Projection
	origin geom.Point
}

// NewDatasetProjection creates the image-space projection for srid. WGS 84 /
// UTM zone ids are projected with Web Mercator instead; unknown ids fall back
// to equirectangular.
func NewDatasetProjection(provider *Provider, srid int) *DatasetProjection {
	if domain.IsWGS84UTM(srid) {
		srid = domain.SRIDWebMercator
	}
	return ForProjection(provider.Resolve(srid))
}

// ForProjection creates the image-space projection over proj.
func ForProjection(proj Projection) *DatasetProjection {
	b := proj.Bounds()
	return &DatasetProjection{
		proj:   proj,
		origin: proj.Forward(domain.GeoPoint{Lat: b.North, Lon: b.West}),
	}
}

// GroundToImage converts a geographic point to image space.
func (d *DatasetProjection) GroundToImage(g domain.GeoPoint) geom.Point {
	p := d.proj.Forward(g)
	return geom.Point{X: p.X - d.origin.X, Y: d.origin.Y - p.Y}
}

// ImageToGround converts an image-space point to geographic coordinates.
func (d *DatasetProjection) ImageToGround(p geom.Point) domain.GeoPoint {
	return d.proj.Inverse(geom.Point{X: p.X + d.origin.X, Y: d.origin.Y - p.Y})
}

// Projection returns the underlying projection.
func (d *DatasetProjection) Projection() Projection {
	return d.proj
}

// SRID returns the SRID of the underlying projection.
func (d *DatasetProjection) SRID() int {
	return d.proj.SRID()
}

// Origin returns the projection-unit origin of image space.
func (d *DatasetProjection) Origin() geom.Point {
	return d.origin
}
