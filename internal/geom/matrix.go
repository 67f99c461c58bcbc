package geom

import (
	"errors"
	"math"
)

// ErrSingular is returned when a matrix cannot be inverted or a point
// correspondence is degenerate.
var ErrSingular = errors.New("geom: singular matrix")

// Matrix is a 3x3 projective transformation in row-major order:
//
//	| a  b  c |
//	| d  e  f |
//	| g  h  i |
//
// A point maps as
//
//	w  = g*x + h*y + i
//	x' = (a*x + b*y + c) / w
//	y' = (d*x + e*y + f) / w
type Matrix struct {
	A, B, C float64
	D, E, F float64
	G, H, I float64
}

// Identity returns the identity transformation.
func Identity() Matrix {
	return Matrix{
		A: 1, E: 1, I: 1,
	}
}

// Translate creates a translation matrix.
func Translate(x, y float64) Matrix {
	return Matrix{
		A: 1, C: x,
		E: 1, F: y,
		I: 1,
	}
}

// Scale creates a scaling matrix.
func Scale(x, y float64) Matrix {
	return Matrix{
		A: x,
		E: y,
		I: 1,
	}
}

// Multiply returns m * other, i.e. other is applied first.
func (m Matrix) Multiply(o Matrix) Matrix {
	return Matrix{
		A: m.A*o.A + m.B*o.D + m.C*o.G,
		B: m.A*o.B + m.B*o.E + m.C*o.H,
		C: m.A*o.C + m.B*o.F + m.C*o.I,
		D: m.D*o.A + m.E*o.D + m.F*o.G,
		E: m.D*o.B + m.E*o.E + m.F*o.H,
		F: m.D*o.C + m.E*o.F + m.F*o.I,
		G: m.G*o.A + m.H*o.D + m.I*o.G,
		H: m.G*o.B + m.H*o.E + m.I*o.H,
		I: m.G*o.C + m.H*o.F + m.I*o.I,
	}
}

// Map applies the transformation to a point.
func (m Matrix) Map(p Point) Point {
	w := m.G*p.X + m.H*p.Y + m.I
	if w == 0 {
		return Point{X: math.Inf(1), Y: math.Inf(1)}
	}
	return Point{
		X: (m.A*p.X + m.B*p.Y + m.C) / w,
		Y: (m.D*p.X + m.E*p.Y + m.F) / w,
	}
}

// Determinant returns the determinant of the matrix.
func (m Matrix) Determinant() float64 {
	return m.A*(m.E*m.I-m.F*m.H) -
		m.B*(m.D*m.I-m.F*m.G) +
		m.C*(m.D*m.H-m.E*m.G)
}

// Invert returns the inverse transformation.
func (m Matrix) Invert() (Matrix, error) {
	det := m.Determinant()
	if det == 0 || math.IsNaN(det) {
		return Matrix{}, ErrSingular
	}
	inv := 1 / det
	return Matrix{
		A: (m.E*m.I - m.F*m.H) * inv,
		B: (m.C*m.H - m.B*m.I) * inv,
		C: (m.B*m.F - m.C*m.E) * inv,
		D: (m.F*m.G - m.D*m.I) * inv,
		E: (m.A*m.I - m.C*m.G) * inv,
		F: (m.C*m.D - m.A*m.F) * inv,
		G: (m.D*m.H - m.E*m.G) * inv,
		H: (m.B*m.G - m.A*m.H) * inv,
		I: (m.A*m.E - m.B*m.D) * inv,
	}, nil
}

// IsIdentity returns true if m is the identity within eps.
func (m Matrix) IsIdentity(eps float64) bool {
	id := Identity()
	vals := [9]float64{m.A - id.A, m.B, m.C, m.D, m.E - id.E, m.F, m.G, m.H, m.I - id.I}
	for _, v := range vals {
		if math.Abs(v) > eps {
			return false
		}
	}
	return true
}

// PolyToPoly returns the projective transformation mapping each src[i] to dst[i].
func PolyToPoly(src, dst [4]Point) (Matrix, error) {
	// Eight unknowns a..h with i fixed at 1; two equations per correspondence.
	var a [8][9]float64
	for k := 0; k < 4; k++ {
		x, y := src[k].X, src[k].Y
		u, v := dst[k].X, dst[k].Y
		a[2*k] = [9]float64{x, y, 1, 0, 0, 0, -u * x, -u * y, u}
		a[2*k+1] = [9]float64{0, 0, 0, x, y, 1, -v * x, -v * y, v}
	}

	sol, err := solve8(a)
	if err != nil {
		return Matrix{}, err
	}
	return Matrix{
		A: sol[0], B: sol[1], C: sol[2],
		D: sol[3], E: sol[4], F: sol[5],
		G: sol[6], H: sol[7], I: 1,
	}, nil
}

// solve8 solves the augmented 8x9 system by Gaussian elimination with partial pivoting.
func solve8(a [8][9]float64) ([8]float64, error) {
	const n = 8
	for col := 0; col < n; col++ {
		pivot := col
		for r := col + 1; r < n; r++ {
			if math.Abs(a[r][col]) > math.Abs(a[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(a[pivot][col]) < 1e-12 {
			return [8]float64{}, ErrSingular
		}
		a[col], a[pivot] = a[pivot], a[col]

		for r := col + 1; r < n; r++ {
			f := a[r][col] / a[col][col]
			for c := col; c <= n; c++ {
				a[r][c] -= f * a[col][c]
			}
		}
	}

	var x [8]float64
	for r := n - 1; r >= 0; r-- {
		sum := a[r][n]
		for c := r + 1; c < n; c++ {
			sum -= a[r][c] * x[c]
		}
		x[r] = sum / a[r][r]
	}
	return x, nil
}
