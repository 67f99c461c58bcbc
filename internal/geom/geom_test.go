package geom

import (
	"errors"
	"math"
	"testing"
)

func TestSegmentsIntersect(t *testing.T) {
	tests := []struct {
		name           string
		a0, a1, b0, b1 Point
		want           bool
	}{
		{"crossing", Pt(0, 0), Pt(2, 0), Pt(1, -1), Pt(1, 1), true},
		{"touching endpoint", Pt(0, 0), Pt(2, 0), Pt(2, 0), Pt(2, 2), true},
		{"disjoint", Pt(0, 0), Pt(1, 0), Pt(2, -1), Pt(2, 1), false},
		{"parallel", Pt(0, 0), Pt(2, 0), Pt(0, 1), Pt(2, 1), false},
		{"collinear overlapping", Pt(0, 0), Pt(2, 0), Pt(1, 0), Pt(3, 0), false},
		{"beyond segment end", Pt(0, 0), Pt(1, 1), Pt(3, 0), Pt(0, 3), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SegmentsIntersect(tt.a0, tt.a1, tt.b0, tt.b1); got != tt.want {
				t.Errorf("SegmentsIntersect() = %v, want %v", got, tt.want)
			}
			// Symmetric in the two segments.
			if got := SegmentsIntersect(tt.b0, tt.b1, tt.a0, tt.a1); got != tt.want {
				t.Errorf("SegmentsIntersect(swapped) = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPolygonContains(t *testing.T) {
	square := []Point{Pt(0, 0), Pt(10, 0), Pt(10, 10), Pt(0, 10)}
	concave := []Point{Pt(0, 0), Pt(10, 0), Pt(10, 10), Pt(5, 2), Pt(0, 10)}

	tests := []struct {
		name    string
		p       Point
		polygon []Point
		want    bool
	}{
		{"center of square", Pt(5, 5), square, true},
		{"outside square", Pt(15, 5), square, false},
		{"notch of concave", Pt(5, 8), concave, false},
		{"body of concave", Pt(5, 1), concave, true},
		{"degenerate polygon", Pt(0, 0), nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PolygonContains(tt.p, tt.polygon); got != tt.want {
				t.Errorf("PolygonContains() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBounds(t *testing.T) {
	min, max := Bounds([]Point{Pt(3, -1), Pt(-2, 4), Pt(1, 1)})
	if min != Pt(-2, -1) || max != Pt(3, 4) {
		t.Errorf("Bounds() = %v, %v", min, max)
	}
}

func approx(a, b Point) bool {
	return math.Abs(a.X-b.X) < 1e-6 && math.Abs(a.Y-b.Y) < 1e-6
}

func TestPolyToPoly(t *testing.T) {
	src := [4]Point{Pt(0, 0), Pt(100, 0), Pt(100, 100), Pt(0, 100)}
	dst := [4]Point{Pt(10, 5), Pt(120, 0), Pt(130, 90), Pt(0, 110)}

	m, err := PolyToPoly(src, dst)
	if err != nil {
		t.Fatalf("PolyToPoly() error = %v", err)
	}
	for i := range src {
		if got := m.Map(src[i]); !approx(got, dst[i]) {
			t.Errorf("Map(src[%d]) = %v, want %v", i, got, dst[i])
		}
	}

	inv, err := m.Invert()
	if err != nil {
		t.Fatalf("Invert() error = %v", err)
	}
	for i := range dst {
		if got := inv.Map(dst[i]); !approx(got, src[i]) {
			t.Errorf("inverse Map(dst[%d]) = %v, want %v", i, got, src[i])
		}
	}
	if !m.Multiply(inv).IsIdentity(1e-9) {
		t.Error("m * inverse should be identity")
	}
}

func TestPolyToPolyIdentity(t *testing.T) {
	quad := [4]Point{Pt(0, 0), Pt(4, 0), Pt(4, 3), Pt(0, 3)}
	m, err := PolyToPoly(quad, quad)
	if err != nil {
		t.Fatalf("PolyToPoly() error = %v", err)
	}
	if !m.IsIdentity(1e-9) {
		t.Errorf("expected identity, got %+v", m)
	}
}

func TestPolyToPolyDegenerate(t *testing.T) {
	line := [4]Point{Pt(0, 0), Pt(1, 1), Pt(2, 2), Pt(3, 3)}
	quad := [4]Point{Pt(0, 0), Pt(1, 0), Pt(1, 1), Pt(0, 1)}
	if _, err := PolyToPoly(line, quad); !errors.Is(err, ErrSingular) {
		t.Errorf("expected ErrSingular, got %v", err)
	}
}

func TestMatrixCompose(t *testing.T) {
	m := Translate(5, -2).Multiply(Scale(2, 3))
	if got := m.Map(Pt(1, 1)); !approx(got, Pt(7, 1)) {
		t.Errorf("Map() = %v, want (7, 1)", got)
	}
	if _, err := (Matrix{}).Invert(); !errors.Is(err, ErrSingular) {
		t.Errorf("expected ErrSingular, got %v", err)
	}
}
