package geom

import (
	"math"
)

// SegSepEps bounds the denominators below which two segments are
// treated as parallel.
const SegSepEps = 1e-12

// SegmentClosestPoints returns the nearest points between the segments
// [c1 - h1 d1, c1 + h1 d1] and [c2 - h2 d2, c2 + h2 d2], where d1 and
// d2 are unit directions and h1, h2 are half lengths, together with the
// separation distance. Parallel (including coincident) segments
// tie-break at the midpoint of the overlap region.
func SegmentClosestPoints(c1, d1 Vec, h1 float64, c2, d2 Vec, h2 float64) (p1, p2 Vec, dist float64) {
	r := c1.Sub(c2)
	b := d1.Dot(d2)
	f := d2.Dot(r)
	c := d1.Dot(r)

	var s, t float64
	denom := 1 - b*b
	if denom > SegSepEps {
		s = clamp((b*f-c)/denom, -h1, h1)
	} else {
		// parallel: center the contact on the overlap interval
		s = parallelOverlapMid(c1, d1, h1, c2, d2, h2)
	}

	t = b*s + f
	if t < -h2 {
		t = -h2
		s = clamp(-c-b*h2, -h1, h1)
	} else if t > h2 {
		t = h2
		s = clamp(-c+b*h2, -h1, h1)
	}

	p1 = c1.Add(d1.Scale(s))
	p2 = c2.Add(d2.Scale(t))
	return p1, p2, p1.Sub(p2).Norm()
}

// parallelOverlapMid projects segment 2 onto segment 1's axis and
// returns the midpoint of the overlap of the two parameter intervals,
// clamped into segment 1 when they do not overlap.
func parallelOverlapMid(c1, d1 Vec, h1 float64, c2, d2 Vec, h2 float64) float64 {
	// endpoints of segment 2 in segment 1's parameterization
	sa := c2.Add(d2.Scale(-h2)).Sub(c1).Dot(d1)
	sb := c2.Add(d2.Scale(h2)).Sub(c1).Dot(d1)
	if sa > sb {
		sa, sb = sb, sa
	}
	lo := math.Max(sa, -h1)
	hi := math.Min(sb, h1)
	if lo <= hi {
		return 0.5 * (lo + hi)
	}
	// disjoint: closest endpoint pair
	if sa > h1 {
		return h1
	}
	return -h1
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
