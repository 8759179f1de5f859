package geometry

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Distance returns the minimum planar distance in map units between two
// geometries. Both geometries must already share the same projected
// coordinate system; this package never reprojects. Geometries which touch,
// cross or contain one another have distance 0.
func Distance(a, b orb.Geometry) float64 {
	if a == nil || b == nil {
		return math.NaN()
	}

	// Containment short-circuit: any vertex of one geometry inside the
	// other means the geometries overlap.
	if containsAny(a, points(b)) || containsAny(b, points(a)) {
		return 0
	}

	segsA, ptsA := segments(a), points(a)
	segsB, ptsB := segments(b), points(b)

	best := math.MaxFloat64
	for _, sa := range segsA {
		for _, sb := range segsB {
			if d := segSegDistance(sa, sb); d < best {
				best = d
			}
		}
	}
	if len(segsA) == 0 {
		for _, p := range ptsA {
			for _, sb := range segsB {
				if d := pointSegDistance(p, sb); d < best {
					best = d
				}
			}
		}
	}
	if len(segsB) == 0 {
		for _, p := range ptsB {
			for _, sa := range segsA {
				if d := pointSegDistance(p, sa); d < best {
					best = d
				}
			}
		}
	}
	if len(segsA) == 0 && len(segsB) == 0 {
		for _, pa := range ptsA {
			for _, pb := range ptsB {
				if d := planar.Distance(pa, pb); d < best {
					best = d
				}
			}
		}
	}
	return best
}

// NearestDistance returns the distance from pt to the closest of the other
// points. The second return is false when others is empty.
func NearestDistance(pt orb.Point, others []orb.Point) (float64, bool) {
	if len(others) == 0 {
		return 0, false
	}
	best := math.MaxFloat64
	for _, o := range others {
		if d := planar.Distance(pt, o); d < best {
			best = d
		}
	}
	return best, true
}

type segment [2]orb.Point

// segments decomposes a geometry into its constituent line segments.
// Points contribute no segments.
func segments(g orb.Geometry) []segment {
	var segs []segment
	addRing := func(ring orb.Ring) {
		for i := 1; i < len(ring); i++ {
			segs = append(segs, segment{ring[i-1], ring[i]})
		}
	}
	switch geom := g.(type) {
	case orb.LineString:
		for i := 1; i < len(geom); i++ {
			segs = append(segs, segment{geom[i-1], geom[i]})
		}
	case orb.Ring:
		addRing(geom)
	case orb.Polygon:
		for _, ring := range geom {
			addRing(ring)
		}
	case orb.MultiPolygon:
		for _, poly := range geom {
			for _, ring := range poly {
				addRing(ring)
			}
		}
	case orb.MultiLineString:
		for _, ls := range geom {
			for i := 1; i < len(ls); i++ {
				segs = append(segs, segment{ls[i-1], ls[i]})
			}
		}
	}
	return segs
}

// points decomposes a geometry into its vertices.
func points(g orb.Geometry) []orb.Point {
	var pts []orb.Point
	switch geom := g.(type) {
	case orb.Point:
		pts = append(pts, geom)
	case orb.MultiPoint:
		pts = append(pts, geom...)
	case orb.LineString:
		pts = append(pts, geom...)
	case orb.Ring:
		pts = append(pts, geom...)
	case orb.Polygon:
		for _, ring := range geom {
			pts = append(pts, ring...)
		}
	case orb.MultiLineString:
		for _, ls := range geom {
			pts = append(pts, ls...)
		}
	case orb.MultiPolygon:
		for _, poly := range geom {
			for _, ring := range poly {
				pts = append(pts, ring...)
			}
		}
	}
	return pts
}

// containsAny reports whether any of the supplied points lies inside g.
// Only polygonal geometries can contain points.
func containsAny(g orb.Geometry, pts []orb.Point) bool {
	switch geom := g.(type) {
	case orb.Polygon:
		for _, p := range pts {
			if planar.PolygonContains(geom, p) {
				return true
			}
		}
	case orb.MultiPolygon:
		for _, p := range pts {
			if planar.MultiPolygonContains(geom, p) {
				return true
			}
		}
	}
	return false
}

// pointSegDistance returns the distance from p to the segment s.
func pointSegDistance(p orb.Point, s segment) float64 {
	a, b := s[0], s[1]
	dx, dy := b[0]-a[0], b[1]-a[1]
	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return planar.Distance(p, a)
	}
	t := ((p[0]-a[0])*dx + (p[1]-a[1])*dy) / lenSq
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	closest := orb.Point{a[0] + t*dx, a[1] + t*dy}
	return planar.Distance(p, closest)
}

// segSegDistance returns the distance between two segments, 0 if they
// intersect.
func segSegDistance(s1, s2 segment) float64 {
	if segmentsIntersect(s1, s2) {
		return 0
	}
	d := pointSegDistance(s1[0], s2)
	if v := pointSegDistance(s1[1], s2); v < d {
		d = v
	}
	if v := pointSegDistance(s2[0], s1); v < d {
		d = v
	}
	if v := pointSegDistance(s2[1], s1); v < d {
		d = v
	}
	return d
}

// segmentsIntersect reports whether two segments cross or touch, using
// orientation tests with collinear overlap handling.
func segmentsIntersect(s1, s2 segment) bool {
	p1, q1 := s1[0], s1[1]
	p2, q2 := s2[0], s2[1]

	o1 := orientation(p1, q1, p2)
	o2 := orientation(p1, q1, q2)
	o3 := orientation(p2, q2, p1)
	o4 := orientation(p2, q2, q1)

	if o1 != o2 && o3 != o4 {
		return true
	}
	if o1 == 0 && onSegment(p1, p2, q1) {
		return true
	}
	if o2 == 0 && onSegment(p1, q2, q1) {
		return true
	}
	if o3 == 0 && onSegment(p2, p1, q2) {
		return true
	}
	if o4 == 0 && onSegment(p2, q1, q2) {
		return true
	}
	return false
}

// orientation returns 0 for collinear points, 1 for clockwise, 2 for
// counterclockwise.
func orientation(p, q, r orb.Point) int {
	v := (q[1]-p[1])*(r[0]-q[0]) - (q[0]-p[0])*(r[1]-q[1])
	if v == 0 {
		return 0
	}
	if v > 0 {
		return 1
	}
	return 2
}

// onSegment reports whether q lies on segment pr, assuming the three points
// are collinear.
func onSegment(p, q, r orb.Point) bool {
	return q[0] <= math.Max(p[0], r[0]) && q[0] >= math.Min(p[0], r[0]) &&
		q[1] <= math.Max(p[1], r[1]) && q[1] >= math.Min(p[1], r[1])
}
