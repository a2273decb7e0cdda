package series

// Series is the output handed to presentation: the resampled energy curve
// and the power derived from it. Both are empty, never nil, when the input
// is too sparse.
type Series struct {
	Energy []Point `json:"energy"`
	Power  []Point `json:"power"`
}

// Pipeline bundles the tunables of one normalize/resample/derive pass.
// The zero value uses DefaultStepSeconds and DefaultChargeLadder.
type Pipeline struct {
	StepSeconds int64
	Ladder      ChargeLadder
}

// Compute runs the full pipeline over raw readings in arrival order.
func (p Pipeline) Compute(readings []Point) Series {
	step := p.StepSeconds
	if step <= 0 {
		step = DefaultStepSeconds
	}
	ladder := p.Ladder
	if ladder.IsZero() {
		ladder = DefaultChargeLadder()
	}

	energy := Resample(Normalize(readings, ladder), step)
	power := DerivePower(energy, step)
	if energy == nil {
		energy = []Point{}
	}
	if power == nil {
		power = []Point{}
	}
	return Series{Energy: energy, Power: power}
}

// ComputeEnergyPowerSeries runs the pipeline with the default charge ladder.
func ComputeEnergyPowerSeries(readings []Point, stepSec int64) (energy, power []Point) {
	s := Pipeline{StepSeconds: stepSec}.Compute(readings)
	return s.Energy, s.Power
}
