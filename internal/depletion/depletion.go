package depletion

import (
	"math"
	"time"
)

// Tier is the countdown display granularity.
type Tier string

const (
	TierNone   Tier = "none"
	TierSecond Tier = "second"
	TierHour   Tier = "hour"
)

const (
	DefaultSecondHorizon = 24 * time.Hour
	DefaultHourHorizon   = 72 * time.Hour
)

// Latest is the most recent reading of a meter together with its current
// rate of change. KW is negative while the balance is being drawn down and
// nil when no rate could be derived.
type Latest struct {
	TS  int64    `json:"last_ts"`
	KWh float64  `json:"last_kwh"`
	KW  *float64 `json:"last_kw"`
}

// Estimate is a projected depletion instant. AtMs is Unix milliseconds and
// is nil whenever Tier is TierNone.
type Estimate struct {
	AtMs *float64 `json:"at_ms"`
	Tier Tier     `json:"tier"`
}

// DepleteAt returns the projected instant, if any.
func (e Estimate) DepleteAt() (time.Time, bool) {
	if e.AtMs == nil || e.Tier == TierNone {
		return time.Time{}, false
	}
	return time.UnixMilli(int64(math.Floor(*e.AtMs))), true
}

func none() Estimate {
	return Estimate{Tier: TierNone}
}

// HoursToZero returns how many hours the balance lasts at the current
// discharge rate. ok is false when the meter is not discharging or the
// result is not a positive finite number.
func HoursToZero(l Latest) (hours float64, ok bool) {
	if l.KW == nil || *l.KW >= 0 {
		return 0, false
	}
	hours = l.KWh / -*l.KW
	if math.IsNaN(hours) || math.IsInf(hours, 0) || hours <= 0 {
		return 0, false
	}
	return hours, true
}

// Projector classifies projected depletion times into display tiers.
// A zero horizon falls back to its default.
type Projector struct {
	SecondHorizon time.Duration
	HourHorizon   time.Duration
}

// Project estimates when the balance in l reaches zero, relative to now.
// Everything past HourHorizon, already in the past, or not computable
// yields TierNone.
func (p Projector) Project(l Latest, now time.Time) Estimate {
	hours, ok := HoursToZero(l)
	if !ok {
		return none()
	}

	atMs := (float64(l.TS) + hours*3600) * 1000
	if math.IsInf(atMs, 0) {
		return none()
	}
	delta := atMs - float64(now.UnixMilli())
	if delta <= 0 {
		return none()
	}

	secondHorizon, hourHorizon := p.horizons()
	switch {
	case delta <= float64(secondHorizon.Milliseconds()):
		return Estimate{AtMs: &atMs, Tier: TierSecond}
	case delta <= float64(hourHorizon.Milliseconds()):
		return Estimate{AtMs: &atMs, Tier: TierHour}
	default:
		return none()
	}
}

func (p Projector) horizons() (time.Duration, time.Duration) {
	second, hour := p.SecondHorizon, p.HourHorizon
	if second <= 0 {
		second = DefaultSecondHorizon
	}
	if hour <= 0 {
		hour = DefaultHourHorizon
	}
	return second, hour
}

// Project uses the default one-day and three-day horizons.
func Project(l Latest, now time.Time) Estimate {
	return Projector{}.Project(l, now)
}
