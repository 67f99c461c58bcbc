// Package geom provides the planar geometry used for tile coverage and
// projective correction of captured imagery.
package geom

// Point is a point in image space (pixels at full resolution).
type Point struct {
	X, Y float64
}

// Pt is shorthand for Point{X: x, Y: y}.
func Pt(x, y float64) Point {
	return Point{X: x, Y: y}
}

// Sub returns p - q.
func (p Point) Sub(q Point) Point {
	return Point{X: p.X - q.X, Y: p.Y - q.Y}
}

// Add returns p + q.
func (p Point) Add(q Point) Point {
	return Point{X: p.X + q.X, Y: p.Y + q.Y}
}

// Mul scales p component-wise.
func (p Point) Mul(sx, sy float64) Point {
	return Point{X: p.X * sx, Y: p.Y * sy}
}

// Cross returns the z component of the cross product p x q.
func (p Point) Cross(q Point) float64 {
	return p.X*q.Y - p.Y*q.X
}

// SegmentsIntersect reports whether segment a0-a1 intersects segment b0-b1.
// Parallel and collinear segments never intersect.
func SegmentsIntersect(a0, a1, b0, b1 Point) bool {
	r := b0.Sub(b1)
	s := a1.Sub(a0)
	c := s.Cross(r)
	if c == 0 {
		return false
	}
	q := b1.Sub(a0)
	t := q.Cross(r) / c
	u := q.Cross(s) / c
	return t >= 0 && t <= 1 && u >= 0 && u <= 1
}

// PolygonContains reports whether p lies inside the polygon using the even-odd
// rule. The polygon is implicitly closed.
func PolygonContains(p Point, polygon []Point) bool {
	inside := false
	n := len(polygon)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		pi, pj := polygon[i], polygon[j]
		if (pi.Y > p.Y) != (pj.Y > p.Y) &&
			p.X < (pj.X-pi.X)*(p.Y-pi.Y)/(pj.Y-pi.Y)+pi.X {
			inside = !inside
		}
	}
	return inside
}

// Bounds returns the min and max corners of the points.
func Bounds(points []Point) (min, max Point) {
	if len(points) == 0 {
		return Point{}, Point{}
	}
	min, max = points[0], points[0]
	for _, p := range points[1:] {
		if p.X < min.X {
			min.X = p.X
		}
		if p.Y < min.Y {
			min.Y = p.Y
		}
		if p.X > max.X {
			max.X = p.X
		}
		if p.Y > max.Y {
			max.Y = p.Y
		}
	}
	return min, max
}
