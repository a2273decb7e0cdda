package ingest

// Reading is one line of the reading spool: the cumulative kWh balance a
// meter reported at Unix second Ts.
type Reading struct {
	MeterID string  `json:"meter_id"`
	Ts      int64   `json:"ts"`
	KWh     float64 `json:"kwh"`
}
