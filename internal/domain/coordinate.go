// Package domain contains the core entities and value objects of the imagery engine.
package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Common SRID constants.
const (
	SRIDWGS84          = 4326     // WGS 84 geographic
	SRIDWebMercator    = 3857     // Web Mercator
	SRIDGoogleMercator = 900913   // Legacy Web Mercator alias
	SRIDFlatEarth      = 90094326 // Equirectangular alias used by flat-earth tile sets
	SRIDUTMNorthFirst  = 32601
	SRIDUTMNorthLast   = 32660
	SRIDUTMSouthFirst  = 32701
	SRIDUTMSouthLast   = 32760
)

// Earth radii in meters.
const (
	EarthRadiusMeters     = 6378137.0
	MeanEarthRadiusMeters = 6371008.8
)

// IsWGS84UTM returns true for the WGS 84 / UTM zone SRIDs.
func IsWGS84UTM(srid int) bool {
	return (srid >= SRIDUTMNorthFirst && srid <= SRIDUTMNorthLast) ||
		(srid >= SRIDUTMSouthFirst && srid <= SRIDUTMSouthLast)
}

// IsWorldSRID returns true for projections whose tile matrix spans the whole globe
// in longitude, so column indices wrap at the antimeridian.
func IsWorldSRID(srid int) bool {
	switch srid {
	case SRIDWGS84, SRIDWebMercator, SRIDGoogleMercator, SRIDFlatEarth:
		return true
	}
	return false
}

// IsPlateCarree returns true for SRIDs whose tile coordinates are degrees of
// latitude and longitude.
func IsPlateCarree(srid int) bool {
	return srid == SRIDWGS84 || srid == SRIDFlatEarth
}

// GeoPoint is a WGS 84 latitude/longitude pair in degrees.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// NewGeoPoint creates a GeoPoint.
func NewGeoPoint(lat, lon float64) GeoPoint {
	return GeoPoint{Lat: lat, Lon: lon}
}

// Validate checks that the point lies in the valid WGS 84 range.
func (p GeoPoint) Validate() error {
	if math.IsNaN(p.Lat) || p.Lat < -90 || p.Lat > 90 {
		return &ValidationError{
			Field:      "latitude",
			Value:      p.Lat,
			Constraint: "[-90, 90]",
			Message:    "latitude must be between -90 and 90",
		}
	}
	if math.IsNaN(p.Lon) || p.Lon < -360 || p.Lon > 360 {
		return &ValidationError{
			Field:      "longitude",
			Value:      p.Lon,
			Constraint: "[-360, 360]",
			Message:    "longitude must be between -360 and 360",
		}
	}
	return nil
}

// String returns a string representation of the point.
func (p GeoPoint) String() string {
	return fmt.Sprintf("(%f, %f)", p.Lat, p.Lon)
}

// DistanceTo returns the great-circle distance in meters.
func (p GeoPoint) DistanceTo(o GeoPoint) float64 {
	lat1 := p.Lat * math.Pi / 180
	lat2 := o.Lat * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (o.Lon - p.Lon) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * MeanEarthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(a)))
}

// GeoBounds is a latitude/longitude bounding box. East may exceed 180 when
// the box has been unwrapped across the antimeridian.
type GeoBounds struct {
	North float64 `json:"north"`
	West  float64 `json:"west"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
}

// NewGeoBounds creates bounds from two corners.
func NewGeoBounds(north, west, south, east float64) GeoBounds {
	return GeoBounds{North: north, West: west, South: south, East: east}
}

// ParseBBox parses "west,south,east,north" in degrees.
func ParseBBox(s string) (GeoBounds, error) {
	invalid := &ValidationError{
		Field:      "bbox",
		Value:      s,
		Constraint: "west,south,east,north",
		Message:    "invalid bbox: use west,south,east,north",
	}
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return GeoBounds{}, invalid
	}
	var c [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return GeoBounds{}, invalid
		}
		c[i] = f
	}
	return NewGeoBounds(c[3], c[0], c[1], c[2]), nil
}

// BoundsOf returns the bounding box of the given points.
func BoundsOf(points []GeoPoint) GeoBounds {
	if len(points) == 0 {
		return GeoBounds{}
	}
	b := GeoBounds{North: points[0].Lat, South: points[0].Lat, West: points[0].Lon, East: points[0].Lon}
	for _, p := range points[1:] {
		b.North = math.Max(b.North, p.Lat)
		b.South = math.Min(b.South, p.Lat)
		b.East = math.Max(b.East, p.Lon)
		b.West = math.Min(b.West, p.Lon)
	}
	return b
}

// Validate checks that the bounds are well formed.
func (b GeoBounds) Validate() error {
	if b.North < b.South {
		return fmt.Errorf("north %f below south %f: %w", b.North, b.South, ErrInvalidBounds)
	}
	if b.North > 90 || b.South < -90 {
		return fmt.Errorf("latitude outside [-90, 90]: %w", ErrInvalidBounds)
	}
	return nil
}

// Intersects returns true if the two boxes overlap (edges touching count).
func (b GeoBounds) Intersects(o GeoBounds) bool {
	return b.South <= o.North && b.North >= o.South &&
		b.West <= o.East && b.East >= o.West
}

// Contains returns true if o lies completely inside b.
func (b GeoBounds) Contains(o GeoBounds) bool {
	return o.North <= b.North && o.South >= b.South &&
		o.West >= b.West && o.East <= b.East
}

// ContainsPoint returns true if the point lies inside the box.
func (b GeoBounds) ContainsPoint(p GeoPoint) bool {
	return p.Lat <= b.North && p.Lat >= b.South && p.Lon >= b.West && p.Lon <= b.East
}

// CrossesIDL returns true if the box spans the antimeridian.
func (b GeoBounds) CrossesIDL() bool {
	return b.East < b.West || b.East > 180 || b.West < -180
}

// Width returns the longitudinal extent in degrees.
func (b GeoBounds) Width() float64 {
	if b.East < b.West {
		return b.East + 360 - b.West
	}
	return b.East - b.West
}

// Height returns the latitudinal extent in degrees.
func (b GeoBounds) Height() float64 {
	return b.North - b.South
}

// Center returns the center point of the box.
func (b GeoBounds) Center() GeoPoint {
	return GeoPoint{Lat: (b.North + b.South) / 2, Lon: b.West + b.Width()/2}
}

// Corners returns the corners in UL, UR, LR, LL order.
func (b GeoBounds) Corners() [4]GeoPoint {
	return [4]GeoPoint{
		{Lat: b.North, Lon: b.West},
		{Lat: b.North, Lon: b.East},
		{Lat: b.South, Lon: b.East},
		{Lat: b.South, Lon: b.West},
	}
}

// ComputeGSD returns the ground sample distance in meters/pixel of an image
// of width x height pixels whose corners are ul, ur, lr and ll. The value is
// the geometric mean of the resolutions along both diagonals.
func ComputeGSD(width, height int, ul, ur, lr, ll GeoPoint) float64 {
	diag := math.Sqrt(float64(width)*float64(width) + float64(height)*float64(height))
	if diag == 0 {
		return 0
	}
	return math.Sqrt((ul.DistanceTo(lr) / diag) * (ur.DistanceTo(ll) / diag))
}
