package series

// DerivePower backward-differences a grid energy series into average power
// per interval, attributed to the end of each interval. The sign is flipped
// so that consumption (energy going down) reads as positive draw.
func DerivePower(grid []Point, stepSec int64) []Point {
	if len(grid) < 2 || stepSec <= 0 {
		return nil
	}

	out := make([]Point, 0, len(grid)-1)
	for i := 1; i < len(grid); i++ {
		dkwh := grid[i].Pt - grid[i-1].Pt
		kw := dkwh / float64(stepSec) * 3600
		out = append(out, Point{Ts: grid[i].Ts, Pt: -kw})
	}
	return out
}
