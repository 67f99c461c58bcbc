// Package projection provides map projections and the dataset projection that
// maps geographic coordinates into the image space of a tile pyramid.
package projection

import (
	"math"

	"github.com/jobrunner/tessera/internal/domain"
	"github.com/jobrunner/tessera/internal/geom"
)

// Projection converts between geographic coordinates and projection units.
type Projection interface {
	// SRID returns the spatial reference id.
	SRID() int

	// Forward projects a geographic point.
	Forward(p domain.GeoPoint) geom.Point

	// Inverse unprojects a point in projection units.
	Inverse(p geom.Point) domain.GeoPoint

	// Bounds returns the valid geographic extent of the projection.
	Bounds() domain.GeoBounds
}

// Equirectangular is the plate carrée projection (EPSG:4326). Projection
// units are degrees.
type Equirectangular struct{}

// SRID implements Projection.
func (Equirectangular) SRID() int { return domain.SRIDWGS84 }

// Forward implements Projection.
func (Equirectangular) Forward(p domain.GeoPoint) geom.Point {
	return geom.Point{X: p.Lon, Y: p.Lat}
}

// Inverse implements Projection.
func (Equirectangular) Inverse(p geom.Point) domain.GeoPoint {
	return domain.GeoPoint{Lat: p.Y, Lon: p.X}
}

// Bounds implements Projection.
func (Equirectangular) Bounds() domain.GeoBounds {
	return domain.GeoBounds{North: 90, West: -180, South: -90, East: 180}
}

// MaxMercatorLatitude is the latitude at which Web Mercator becomes square.
const MaxMercatorLatitude = 85.0511287798

// WebMercator is the spherical Mercator projection (EPSG:3857). Projection
// units are meters.
type WebMercator struct{}

// SRID implements Projection.
func (WebMercator) SRID() int { return domain.SRIDWebMercator }

// Forward implements Projection. Latitudes are clamped to the Mercator limit.
func (WebMercator) Forward(p domain.GeoPoint) geom.Point {
	lat := clamp(p.Lat, -MaxMercatorLatitude, MaxMercatorLatitude)
	x := domain.EarthRadiusMeters * p.Lon * math.Pi / 180
	y := domain.EarthRadiusMeters * math.Log(math.Tan(math.Pi/4+lat*math.Pi/360))
	return geom.Point{X: x, Y: y}
}

// Inverse implements Projection.
func (WebMercator) Inverse(p geom.Point) domain.GeoPoint {
	lon := p.X / domain.EarthRadiusMeters * 180 / math.Pi
	lat := (2*math.Atan(math.Exp(p.Y/domain.EarthRadiusMeters)) - math.Pi/2) * 180 / math.Pi
	return domain.GeoPoint{Lat: lat, Lon: lon}
}

// Bounds implements Projection.
func (WebMercator) Bounds() domain.GeoBounds {
	return domain.GeoBounds{North: MaxMercatorLatitude, West: -180, South: -MaxMercatorLatitude, East: 180}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
