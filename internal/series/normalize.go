package series

import (
	"math"
	"sort"
)

// Normalize sorts and de-duplicates raw cumulative readings, then subtracts
// every recharge seen so far so the curve only reflects consumption.
// Returns nil when fewer than two distinct timestamps remain.
func Normalize(readings []Point, ladder ChargeLadder) []Point {
	sorted := dedupe(readings)
	if len(sorted) < 2 {
		return nil
	}

	out := make([]Point, 0, len(sorted))
	out = append(out, sorted[0])

	lastRaw := sorted[0].Pt
	var totalCharge float64
	for _, p := range sorted[1:] {
		delta := p.Pt - lastRaw
		lastRaw = p.Pt
		totalCharge += ladder.Classify(delta)
		out = append(out, Point{Ts: p.Ts, Pt: p.Pt - totalCharge})
	}
	return out
}

// dedupe returns a ts-ordered copy with one point per timestamp; for
// duplicates the last occurrence in input order wins. Non-finite values are
// dropped before de-duplication.
func dedupe(readings []Point) []Point {
	sorted := make([]Point, 0, len(readings))
	for _, p := range readings {
		if math.IsNaN(p.Pt) || math.IsInf(p.Pt, 0) {
			continue
		}
		sorted = append(sorted, p)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Ts < sorted[j].Ts
	})

	out := sorted[:0]
	for _, p := range sorted {
		if n := len(out); n > 0 && out[n-1].Ts == p.Ts {
			out[n-1] = p
			continue
		}
		out = append(out, p)
	}
	return out
}
