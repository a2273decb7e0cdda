package series

import "sort"

// ChargeStep snaps an upward jump strictly greater than Above to Amount.
type ChargeStep struct {
	Above  float64 `toml:"above" json:"above"`
	Amount float64 `toml:"amount" json:"amount"`
}

// ChargeLadder quantizes upward jumps in a cumulative reading into recharge
// amounts. Jumps above PassThroughAbove are taken as their own amount.
type ChargeLadder struct {
	PassThroughAbove float64
	Steps            []ChargeStep
}

// DefaultChargeLadder matches the top-up denominations sold for the meters:
// 25, 50, 75, 100, 150 and 200.
func DefaultChargeLadder() ChargeLadder {
	return NewChargeLadder(225, []ChargeStep{
		{Above: 175, Amount: 200},
		{Above: 125, Amount: 150},
		{Above: 87.5, Amount: 100},
		{Above: 62.5, Amount: 75},
		{Above: 37.5, Amount: 50},
		{Above: 12.5, Amount: 25},
	})
}

// NewChargeLadder copies steps and orders them highest bound first.
func NewChargeLadder(passThroughAbove float64, steps []ChargeStep) ChargeLadder {
	ordered := make([]ChargeStep, len(steps))
	copy(ordered, steps)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Above > ordered[j].Above
	})
	return ChargeLadder{PassThroughAbove: passThroughAbove, Steps: ordered}
}

// IsZero reports whether the ladder is unconfigured.
func (l ChargeLadder) IsZero() bool {
	return l.PassThroughAbove == 0 && len(l.Steps) == 0
}

// Classify returns the recharge amount implied by delta, or 0 when the jump
// is too small to be a top-up. NaN deltas classify as 0.
func (l ChargeLadder) Classify(delta float64) float64 {
	if delta > l.PassThroughAbove {
		return delta
	}
	for _, s := range l.Steps {
		if delta > s.Above {
			return s.Amount
		}
	}
	return 0
}
