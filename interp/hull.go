package interp

import "sort"

// point is a location in the plane of a clamped feature pair.
type point struct {
	x, y float64
}

// cross returns the z-component of (b-a) x (c-a).
func cross(a, b, c point) float64 {
	return (b.x-a.x)*(c.y-a.y) - (b.y-a.y)*(c.x-a.x)
}

// convexHull returns the convex hull of the points (x[i], y[i]) in
// counter-clockwise order, by Andrew's monotone chain.
func convexHull(x, y []float64) []point {

	pts := make([]point, len(x))
	for i := range x {
		pts[i] = point{x[i], y[i]}
	}
	sort.Slice(pts, func(i, j int) bool {
		if pts[i].x != pts[j].x {
			return pts[i].x < pts[j].x
		}
		return pts[i].y < pts[j].y
	})

	if len(pts) < 3 {
		return pts
	}

	var lower []point
	for _, p := range pts {
		for len(lower) >= 2 && cross(lower[len(lower)-2], lower[len(lower)-1], p) <= 0 {
			lower = lower[:len(lower)-1]
		}
		lower = append(lower, p)
	}

	var upper []point
	for i := len(pts) - 1; i >= 0; i-- {
		p := pts[i]
		for len(upper) >= 2 && cross(upper[len(upper)-2], upper[len(upper)-1], p) <= 0 {
			upper = upper[:len(upper)-1]
		}
		upper = append(upper, p)
	}

	return append(lower[:len(lower)-1], upper[:len(upper)-1]...)
}

// inHull reports whether p lies inside or on the boundary of the convex
// hull, given in counter-clockwise order.
func inHull(hull []point, p point) bool {

	const eps = 1e-12

	switch len(hull) {
	case 0:
		return false
	case 1:
		return p == hull[0]
	case 2:
		// Degenerate hull: all training points are collinear.
		a, b := hull[0], hull[1]
		if cross(a, b, p) < -eps || cross(a, b, p) > eps {
			return false
		}
		lo, hi := a.x, b.x
		if lo > hi {
			lo, hi = hi, lo
		}
		if p.x < lo-eps || p.x > hi+eps {
			return false
		}
		lo, hi = a.y, b.y
		if lo > hi {
			lo, hi = hi, lo
		}
		return p.y >= lo-eps && p.y <= hi+eps
	}

	for i := range hull {
		a := hull[i]
		b := hull[(i+1)%len(hull)]
		if cross(a, b, p) < -eps {
			return false
		}
	}
	return true
}
