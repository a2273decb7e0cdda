package series

// maxGridPoints caps the lattice size. At the 60 s minimum step it still
// covers about two years, well past the longest query window.
const maxGridPoints = 1 << 20

// Resample linear-interpolates a ts-ordered series onto the step lattice
// that fits inside its time span. The grid starts at the first step boundary
// at or after the first point and ends at the last boundary at or before the
// last point. Returns nil when the span holds less than one full step, or
// when the lattice would exceed maxGridPoints.
func Resample(sorted []Point, stepSec int64) []Point {
	if len(sorted) < 2 || stepSec <= 0 {
		return nil
	}

	// Work in lattice indices so no timestamp arithmetic can overflow.
	firstIdx := ceilDiv(sorted[0].Ts, stepSec)
	lastIdx := floorDiv(sorted[len(sorted)-1].Ts, stepSec)
	if lastIdx <= firstIdx {
		return nil
	}
	span := uint64(lastIdx) - uint64(firstIdx)
	if span >= maxGridPoints {
		return nil
	}
	n := int64(span) + 1

	// j only moves forward: grid timestamps are visited in increasing order,
	// so the whole pass is O(len(sorted) + len(grid)).
	j := 0
	interpAt := func(t int64) float64 {
		for j < len(sorted) && sorted[j].Ts < t {
			j++
		}
		if j == 0 {
			return sorted[0].Pt
		}
		if j >= len(sorted) {
			return sorted[len(sorted)-1].Pt
		}
		return interpolate(sorted[j-1], sorted[j], t)
	}

	grid := make([]Point, 0, n)
	for k := int64(0); k < n; k++ {
		t := (firstIdx + k) * stepSec
		grid = append(grid, Point{Ts: t, Pt: interpAt(t)})
	}
	return grid
}

// interpolate returns the value at t on the segment p1..p2, with p1.Ts <= t.
// A degenerate segment yields the right-hand value.
func interpolate(p1, p2 Point, t int64) float64 {
	if p2.Ts <= p1.Ts {
		return p2.Pt
	}
	// Differences are taken in uint64 so spans wider than MaxInt64 stay exact.
	alpha := float64(uint64(t)-uint64(p1.Ts)) / float64(uint64(p2.Ts)-uint64(p1.Ts))
	return p1.Pt + alpha*(p2.Pt-p1.Pt)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

func ceilDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) == (b < 0) {
		q++
	}
	return q
}
