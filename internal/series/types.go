package series

// DefaultStepSeconds is the resampling grid step: 15 minutes.
const DefaultStepSeconds int64 = 15 * 60

// Point is a timestamped value. Ts is Unix seconds; Pt is kWh for energy
// series and kW for power series.
type Point struct {
	Ts int64   `json:"ts"`
	Pt float64 `json:"pt"`
}
