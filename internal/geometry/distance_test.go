package geometry

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
)

func square(minX, minY, size float64) orb.Polygon {
	return orb.Polygon{orb.Ring{
		{minX, minY},
		{minX + size, minY},
		{minX + size, minY + size},
		{minX, minY + size},
		{minX, minY},
	}}
}

func TestDistancePoints(t *testing.T) {
	tests := []struct {
		name string
		a, b orb.Point
		want float64
	}{
		{"same point", orb.Point{100, 100}, orb.Point{100, 100}, 0},
		{"horizontal", orb.Point{0, 0}, orb.Point{30, 0}, 30},
		{"diagonal", orb.Point{0, 0}, orb.Point{3, 4}, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Distance(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Distance() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDistancePointPolygon(t *testing.T) {
	poly := square(0, 0, 10)

	tests := []struct {
		name string
		pt   orb.Point
		want float64
	}{
		{"inside", orb.Point{5, 5}, 0},
		{"on boundary", orb.Point{10, 5}, 0},
		{"right of polygon", orb.Point{25, 5}, 15},
		{"diagonal from corner", orb.Point{13, 14}, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Distance(tt.pt, poly)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Distance() = %v, want %v", got, tt.want)
			}
			// Symmetric.
			if rev := Distance(poly, tt.pt); math.Abs(rev-got) > 1e-9 {
				t.Errorf("Distance() not symmetric: %v vs %v", got, rev)
			}
		})
	}
}

func TestDistancePolygons(t *testing.T) {
	a := square(0, 0, 10)

	tests := []struct {
		name string
		b    orb.Geometry
		want float64
	}{
		{"separated", square(20, 0, 10), 10},
		{"touching edges", square(10, 0, 10), 0},
		{"overlapping", square(5, 5, 10), 0},
		{"contained", square(2, 2, 2), 0},
		{"multipolygon nearest part", orb.MultiPolygon{square(50, 0, 10), square(13, 0, 2)}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Distance(a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Distance() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDistanceNilGeometry(t *testing.T) {
	if got := Distance(nil, orb.Point{0, 0}); !math.IsNaN(got) {
		t.Errorf("Distance(nil, pt) = %v, want NaN", got)
	}
}

func TestNearestDistance(t *testing.T) {
	pt := orb.Point{0, 0}

	if _, ok := NearestDistance(pt, nil); ok {
		t.Error("NearestDistance() with no others should report not found")
	}

	others := []orb.Point{{100, 0}, {0, 40}, {-70, 0}}
	got, ok := NearestDistance(pt, others)
	if !ok {
		t.Fatal("NearestDistance() reported not found")
	}
	if got != 40 {
		t.Errorf("NearestDistance() = %v, want 40", got)
	}
}

func TestLatLonToNZTM(t *testing.T) {
	// Wellington: 41.2889S 174.7772E is approximately E 1748814, N 5427648.
	pt := LatLonToNZTM(-41.2889, 174.7772)
	if math.Abs(pt[0]-1748814) > 10 || math.Abs(pt[1]-5427648) > 10 {
		t.Errorf("LatLonToNZTM() = %v, want approx {1748814 5427648}", pt)
	}
}
